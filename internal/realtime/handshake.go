package realtime

import (
	"context"
	"errors"
	"strings"

	"draftroom/api/internal/auth"
	"draftroom/api/internal/share"
)

type AuthMode string

const (
	AuthNone     AuthMode = "none"
	AuthVerified AuthMode = "verified"
	AuthShared   AuthMode = "shared"
)

// Identity is what a connection is known as after its last auth event.
type Identity struct {
	UserID        string
	UserName      string
	UserEmail     string
	Mode          AuthMode
	Authenticated bool
}

func anonymousIdentity() Identity {
	return Identity{
		UserID:   "anonymous",
		UserName: "Anonymous User",
		Mode:     AuthNone,
	}
}

func (i Identity) info() *UserInfo {
	return &UserInfo{
		UserID:        i.UserID,
		UserName:      i.UserName,
		UserEmail:     i.UserEmail,
		AuthMode:      i.Mode,
		Authenticated: i.Authenticated,
	}
}

type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (auth.Claims, error)
}

type ShareResolver interface {
	Resolve(ctx context.Context, token string) (share.Grant, error)
}

// Handshake turns an auth event into an Identity. A verified credential is
// tried first, then a share credential; anything else is anonymous.
type Handshake struct {
	verifier IdentityVerifier
	shares   ShareResolver
}

func NewHandshake(verifier IdentityVerifier, shares ShareResolver) *Handshake {
	return &Handshake{verifier: verifier, shares: shares}
}

// Authenticate always returns an identity to store. On failure it is the
// anonymous identity and err is an auth_failed ChannelError whose Message is
// the reason reported to the client.
func (h *Handshake) Authenticate(ctx context.Context, documentID string, req AuthRequest) (Identity, error) {
	switch {
	case strings.TrimSpace(req.VerifiedToken) != "":
		return h.verified(ctx, req)
	case strings.TrimSpace(req.ShareToken) != "":
		return h.shared(ctx, documentID, req)
	default:
		return anonymousIdentity(), channelError(ErrAuthFailed, "No credentials provided", nil)
	}
}

func (h *Handshake) verified(ctx context.Context, req AuthRequest) (Identity, error) {
	if h.verifier == nil {
		return anonymousIdentity(), channelError(ErrAuthFailed, "Identity verification is unavailable", nil)
	}
	claims, err := h.verifier.Verify(ctx, strings.TrimSpace(req.VerifiedToken))
	if err != nil {
		return anonymousIdentity(), channelError(ErrAuthFailed, "Invalid or expired token", err)
	}

	return Identity{
		UserID:        claims.Sub,
		UserName:      firstNonBlank(req.UserDisplayName, claims.Name, localPart(claims.Email), "User"),
		UserEmail:     firstNonBlank(req.UserEmail, claims.Email),
		Mode:          AuthVerified,
		Authenticated: true,
	}, nil
}

func (h *Handshake) shared(ctx context.Context, documentID string, req AuthRequest) (Identity, error) {
	if h.shares == nil {
		return anonymousIdentity(), channelError(ErrAuthFailed, "Share links are unavailable", nil)
	}
	grant, err := h.shares.Resolve(ctx, strings.TrimSpace(req.ShareToken))
	if err != nil {
		if errors.Is(err, share.ErrGrantNotFound) {
			return anonymousIdentity(), channelError(ErrAuthFailed, "Invalid or expired share link", err)
		}
		return anonymousIdentity(), channelError(ErrAuthFailed, "Share link could not be verified", err)
	}
	if grant.DocumentID != documentID {
		return anonymousIdentity(), channelError(ErrAuthFailed, "Share link is not valid for this document", nil)
	}

	return Identity{
		UserID:        "shared_" + grant.OwnerID,
		UserName:      firstNonBlank(req.UserDisplayName, req.UserName, grant.DisplayName, "Shared User"),
		UserEmail:     firstNonBlank(req.UserEmail, grant.Email),
		Mode:          AuthShared,
		Authenticated: true,
	}, nil
}

func localPart(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return ""
	}
	return email[:at]
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
