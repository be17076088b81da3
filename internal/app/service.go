package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"draftroom/api/internal/auth"
	"draftroom/api/internal/config"
	"draftroom/api/internal/share"
	"draftroom/api/internal/store"
)

// Viewer is the caller of an HTTP request after its bearer credential has
// been checked.
type Viewer struct {
	UserID   string
	UserName string
	Email    string
	Shared   bool
}

type ShareLinkInput struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type commentStore interface {
	ListComments(context.Context, string) ([]store.Comment, error)
	Ping(context.Context) error
}

type shareStore interface {
	Issue(context.Context, share.IssueInput, time.Duration) (share.Grant, error)
	Resolve(context.Context, string) (share.Grant, error)
	Revoke(context.Context, string) error
	Ping(context.Context) error
}

type identityVerifier interface {
	Verify(context.Context, string) (auth.Claims, error)
}

type Service struct {
	cfg      config.Config
	comments commentStore
	shares   shareStore
	verifier identityVerifier
}

func New(cfg config.Config, comments commentStore, shares shareStore, verifier identityVerifier) *Service {
	return &Service{
		cfg:      cfg,
		comments: comments,
		shares:   shares,
		verifier: verifier,
	}
}

// VerifiedViewer accepts only an identity credential.
func (s *Service) VerifiedViewer(ctx context.Context, token string) (Viewer, error) {
	if strings.TrimSpace(token) == "" {
		return Viewer{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	claims, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return Viewer{}, err
	}
	return Viewer{UserID: claims.Sub, UserName: claims.Name, Email: claims.Email}, nil
}

// DocumentViewer accepts an identity credential, or a share token granted
// for documentID.
func (s *Service) DocumentViewer(ctx context.Context, documentID, token string) (Viewer, error) {
	if strings.TrimSpace(token) == "" {
		return Viewer{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	if claims, err := s.verifier.Verify(ctx, token); err == nil {
		return Viewer{UserID: claims.Sub, UserName: claims.Name, Email: claims.Email}, nil
	}

	grant, err := s.shares.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, share.ErrGrantNotFound) {
			return Viewer{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		}
		return Viewer{}, err
	}
	if grant.DocumentID != documentID {
		return Viewer{}, domainError(http.StatusForbidden, "FORBIDDEN", "Share link is not valid for this document", nil)
	}
	return Viewer{
		UserID:   "shared_" + grant.OwnerID,
		UserName: grant.DisplayName,
		Email:    grant.Email,
		Shared:   true,
	}, nil
}

func (s *Service) ListComments(ctx context.Context, documentID string) ([]store.Comment, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "documentId is required", nil)
	}
	return s.comments.ListComments(ctx, documentID)
}

func (s *Service) IssueShareLink(ctx context.Context, viewer Viewer, documentID string, input ShareLinkInput) (share.Grant, error) {
	if viewer.Shared {
		return share.Grant{}, domainError(http.StatusForbidden, "FORBIDDEN", "Shared viewers cannot create share links", nil)
	}
	if strings.TrimSpace(documentID) == "" {
		return share.Grant{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "documentId is required", nil)
	}
	return s.shares.Issue(ctx, share.IssueInput{
		DocumentID:  documentID,
		OwnerID:     viewer.UserID,
		DisplayName: input.DisplayName,
		Email:       input.Email,
	}, s.cfg.ShareTTL)
}

// RevokeShareLink deletes token if viewer issued it.
func (s *Service) RevokeShareLink(ctx context.Context, viewer Viewer, token string) error {
	grant, err := s.shares.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, share.ErrGrantNotFound) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Share link not found", nil)
		}
		return err
	}
	if viewer.Shared || grant.OwnerID != viewer.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.shares.Revoke(ctx, token)
}

// Readiness pings every backing service and reports each failure by name.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	return map[string]error{
		"database": s.comments.Ping(ctx),
		"redis":    s.shares.Ping(ctx),
	}
}
