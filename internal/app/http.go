package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"draftroom/api/internal/logging"
	"github.com/julienschmidt/httprouter"
)

// commentChannel upgrades a request into a live comment connection.
type commentChannel interface {
	ServeDocument(w http.ResponseWriter, r *http.Request, documentID string)
}

type HTTPServer struct {
	service    *Service
	channel    commentChannel
	logger     *logging.Logger
	corsOrigin string
	router     *httprouter.Router
}

func NewHTTPServer(service *Service, channel commentChannel, logger *logging.Logger, corsOrigin string) *HTTPServer {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &HTTPServer{
		service:    service,
		channel:    channel,
		logger:     logger,
		corsOrigin: corsOrigin,
		router:     httprouter.New(),
	}
	s.routes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.router)
}

func (s *HTTPServer) routes() {
	s.router.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	s.router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	s.router.PanicHandler = func(w http.ResponseWriter, r *http.Request, recovered any) {
		s.logger.Error("handler panic", logging.Fields{
			"path":  r.URL.Path,
			"panic": fmt.Sprint(recovered),
		})
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
	}

	s.router.GET("/api/health", s.handleHealth)
	s.router.GET("/api/ready", s.handleReady)

	s.router.GET("/api/documents/:documentID/comments", s.handleListComments)
	s.router.POST("/api/documents/:documentID/share", s.handleIssueShareLink)
	s.router.DELETE("/api/share/:token", s.handleRevokeShareLink)

	s.router.GET("/api/ws/documents/:documentID/comments", s.handleCommentChannel)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Readiness(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	documentID := ps.ByName("documentID")
	if _, err := s.service.DocumentViewer(r.Context(), documentID, bearerToken(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	comments, err := s.service.ListComments(r.Context(), documentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *HTTPServer) handleIssueShareLink(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	viewer, err := s.service.VerifiedViewer(r.Context(), bearerToken(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body ShareLinkInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	grant, err := s.service.IssueShareLink(r.Context(), viewer, ps.ByName("documentID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":       grant.Token,
		"document_id": grant.DocumentID,
		"expires_at":  grant.ExpiresAt,
	})
}

func (s *HTTPServer) handleRevokeShareLink(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	viewer, err := s.service.VerifiedViewer(r.Context(), bearerToken(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.RevokeShareLink(r.Context(), viewer, ps.ByName("token")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCommentChannel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	documentID := strings.TrimSpace(ps.ByName("documentID"))
	if documentID == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "documentId is required", nil)
		return
	}
	// The upgrade writes its own headers.
	w.Header().Del("Content-Type")
	s.channel.ServeDocument(w, r, documentID)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", logging.Fields{
			"request_id": requestID(r.Context()),
			"path":       r.URL.Path,
			"error":      err,
		})
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		s.logger.Info("request", logging.Fields{
			"request_id":  id,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		})
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the comment channel take over the connection through the
// middleware wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
