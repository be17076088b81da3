package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"draftroom/api/internal/logging"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout    = 10 * time.Second
	defaultPongTimeout     = 60 * time.Second
	defaultMaxMessageBytes = 64 * 1024
	defaultSendQueueSize   = 256
)

type Options struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	MaxMessageBytes int64
	// SendQueueSize bounds the events waiting to be written to one
	// connection. A connection that falls this far behind is evicted.
	SendQueueSize int
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = defaultPongTimeout
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = defaultMaxMessageBytes
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
	return o
}

// Manager accepts comment channel connections and owns each one from upgrade
// to teardown.
type Manager struct {
	registry *Registry
	router   *Router
	comments CommentStore
	logger   *logging.Logger
	opts     Options
	upgrader websocket.Upgrader
}

func NewManager(registry *Registry, router *Router, comments CommentStore, logger *logging.Logger, opts Options) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	opts = opts.withDefaults()
	return &Manager{
		registry: registry,
		router:   router,
		comments: comments,
		logger:   logger,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

// ServeDocument upgrades the request and runs the connection for documentID
// until it disconnects. Nothing is registered if the upgrade fails.
func (m *Manager) ServeDocument(w http.ResponseWriter, r *http.Request, documentID string) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", logging.Fields{
			"document_id": documentID,
			"error":       err,
		})
		return
	}

	peer := newWSPeer(ws, documentID, m.opts.WriteTimeout, m.opts.SendQueueSize)
	m.serve(r.Context(), peer)
}

func (m *Manager) serve(ctx context.Context, peer *wsPeer) {
	documentID := peer.documentID
	log := m.logger.With(logging.Fields{
		"connection_id": peer.ID(),
		"document_id":   documentID,
	})

	m.registry.Subscribe(documentID, peer)
	log.Info("connection opened")

	defer func() {
		m.registry.Unsubscribe(documentID, peer.ID())
		m.registry.ClearIdentity(peer.ID())
		_ = peer.Close()
		log.Info("connection closed")
	}()

	go peer.writePump(m.opts.PongTimeout * 9 / 10)

	if err := peer.Send(ctx, m.snapshot(ctx, documentID, log)); err != nil {
		log.Warn("snapshot delivery failed", logging.Fields{"error": err})
		return
	}

	m.receive(ctx, peer, log)
}

func (m *Manager) snapshot(ctx context.Context, documentID string, log *logging.Logger) Outbound {
	comments, err := m.comments.ListComments(ctx, documentID)
	if err != nil {
		log.Error("fetch comments for snapshot failed", logging.Fields{"error": err})
		return errorEvent("Failed to load comments")
	}
	return Outbound{Type: EventExistingComments, Comments: comments}
}

func (m *Manager) receive(ctx context.Context, peer *wsPeer, log *logging.Logger) {
	ws := peer.ws
	ws.SetReadLimit(m.opts.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(m.opts.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(m.opts.PongTimeout))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn("connection read failed", logging.Fields{"error": err})
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(m.opts.PongTimeout))

		if messageType != websocket.TextMessage {
			log.Warn("ignoring non-text frame", logging.Fields{"frame_type": messageType})
			continue
		}

		event, err := DecodeInbound(data)
		if err != nil {
			log.Warn("ignoring malformed event", logging.Fields{"error": err})
			continue
		}

		if err := m.router.Dispatch(ctx, peer.documentID, peer, event); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				log.Warn("reply to connection failed", logging.Fields{"error": err})
			}
			return
		}
	}
}
