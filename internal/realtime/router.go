package realtime

import (
	"context"
	"errors"

	"draftroom/api/internal/logging"
	"draftroom/api/internal/store"
)

// CommentStore is the persistence the channel orchestrates. Every operation
// is scoped to one document.
type CommentStore interface {
	CreateComment(ctx context.Context, input store.NewComment) (store.Comment, error)
	ListComments(ctx context.Context, documentID string) ([]store.Comment, error)
	AddReply(ctx context.Context, documentID, commentID string, author store.Author, content string) (store.Comment, error)
	UpdateComment(ctx context.Context, documentID, commentID, content string) (store.Comment, error)
	ResolveComment(ctx context.Context, documentID, commentID string) (store.Comment, error)
	DeleteComment(ctx context.Context, documentID, commentID string) (bool, error)
}

// Router dispatches decoded events for one connection.
type Router struct {
	registry    *Registry
	handshake   *Handshake
	broadcaster *Broadcaster
	comments    CommentStore
	logger      *logging.Logger
}

func NewRouter(registry *Registry, handshake *Handshake, broadcaster *Broadcaster, comments CommentStore, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Router{
		registry:    registry,
		handshake:   handshake,
		broadcaster: broadcaster,
		comments:    comments,
		logger:      logger,
	}
}

// outcome is what a successful mutation announces: one event for the other
// subscribers and one confirmation for the sender, carrying the same payload.
type outcome struct {
	broadcast Outbound
	confirm   Outbound
}

type mutation func(ctx context.Context, author Identity) (outcome, error)

// Dispatch handles event from peer, subscribed to documentID. It returns an
// error only when sending to peer itself failed; every other failure is
// reported to peer as an error event.
func (r *Router) Dispatch(ctx context.Context, documentID string, peer Peer, event Inbound) error {
	switch ev := event.(type) {
	case AuthRequest:
		return r.authenticate(ctx, documentID, peer, ev)

	case NewCommentRequest:
		return r.mutate(ctx, documentID, peer, ev.Kind(), func(ctx context.Context, author Identity) (outcome, error) {
			comment, err := r.comments.CreateComment(ctx, store.NewComment{
				DocumentID:    documentID,
				Author:        author.storeAuthor(),
				Content:       ev.Content,
				SelectionText: ev.SelectionText,
				Position:      ev.Position,
				SectionID:     ev.SectionID,
			})
			if err != nil {
				return outcome{}, persistenceError("create comment", err)
			}
			return outcome{
				broadcast: Outbound{Type: EventNewComment, Comment: &comment},
				confirm:   Outbound{Type: EventCommentCreated, Comment: &comment},
			}, nil
		})

	case NewReplyRequest:
		return r.mutate(ctx, documentID, peer, ev.Kind(), func(ctx context.Context, author Identity) (outcome, error) {
			comment, err := r.comments.AddReply(ctx, documentID, ev.CommentID, author.storeAuthor(), ev.Content)
			if err != nil {
				return outcome{}, persistenceError("add reply", err)
			}
			return outcome{
				broadcast: Outbound{Type: EventNewReply, Comment: &comment},
				confirm:   Outbound{Type: EventReplyCreated, Comment: &comment},
			}, nil
		})

	case ResolveCommentRequest:
		return r.mutate(ctx, documentID, peer, ev.Kind(), func(ctx context.Context, _ Identity) (outcome, error) {
			comment, err := r.comments.ResolveComment(ctx, documentID, ev.CommentID)
			if err != nil {
				return outcome{}, persistenceError("resolve comment", err)
			}
			resolved := Outbound{Type: EventCommentResolved, Comment: &comment}
			return outcome{broadcast: resolved, confirm: resolved}, nil
		})

	case UpdateCommentRequest:
		return r.mutate(ctx, documentID, peer, ev.Kind(), func(ctx context.Context, _ Identity) (outcome, error) {
			comment, err := r.comments.UpdateComment(ctx, documentID, ev.CommentID, ev.Content)
			if err != nil {
				return outcome{}, persistenceError("update comment", err)
			}
			updated := Outbound{Type: EventCommentUpdated, Comment: &comment}
			return outcome{broadcast: updated, confirm: updated}, nil
		})

	case DeleteCommentRequest:
		return r.mutate(ctx, documentID, peer, ev.Kind(), func(ctx context.Context, _ Identity) (outcome, error) {
			deleted, err := r.comments.DeleteComment(ctx, documentID, ev.CommentID)
			if err != nil {
				return outcome{}, persistenceError("delete comment", err)
			}
			if !deleted {
				return outcome{}, channelError(ErrNotFound, "Comment not found", nil)
			}
			gone := Outbound{Type: EventCommentDeleted, CommentID: ev.CommentID}
			return outcome{broadcast: gone, confirm: gone}, nil
		})

	case Unknown:
		r.logger.Debug("ignoring unknown event type", logging.Fields{
			"connection_id": peer.ID(),
			"type":          ev.Type,
		})
		return nil
	}
	return nil
}

func (r *Router) authenticate(ctx context.Context, documentID string, peer Peer, req AuthRequest) error {
	identity, err := r.handshake.Authenticate(ctx, documentID, req)
	r.registry.SetIdentity(peer.ID(), identity)

	if err != nil {
		r.logger.Info("authentication failed", logging.Fields{
			"connection_id": peer.ID(),
			"document_id":   documentID,
			"error":         err,
		})
		reason := "Authentication failed"
		var ce *ChannelError
		if errors.As(err, &ce) {
			reason = ce.Message
		}
		return r.send(ctx, peer, Outbound{Type: EventAuthFailed, Message: reason})
	}

	r.logger.Info("connection authenticated", logging.Fields{
		"connection_id": peer.ID(),
		"document_id":   documentID,
		"user_id":       identity.UserID,
		"auth_mode":     string(identity.Mode),
	})
	return r.send(ctx, peer, Outbound{Type: EventAuthSuccess, UserInfo: identity.info()})
}

// mutate runs fn under the document's dispatch lock so persistence, fan-out
// and the sender confirmation are ordered the same way for every subscriber.
func (r *Router) mutate(ctx context.Context, documentID string, peer Peer, kind Kind, fn mutation) error {
	identity := r.registry.Identity(peer.ID())
	if !identity.Authenticated {
		return r.fail(ctx, documentID, peer, kind, channelError(ErrAuthRequired, "Authentication required", nil))
	}

	unlock := r.broadcaster.Lock(documentID)
	defer unlock()

	result, err := fn(ctx, identity)
	if err != nil {
		return r.fail(ctx, documentID, peer, kind, err)
	}

	r.broadcaster.Broadcast(ctx, documentID, peer, result.broadcast)
	return r.send(ctx, peer, result.confirm)
}

func (r *Router) fail(ctx context.Context, documentID string, peer Peer, kind Kind, err error) error {
	fields := logging.Fields{
		"connection_id": peer.ID(),
		"document_id":   documentID,
		"event":         string(kind),
		"error":         err,
	}
	message := "Request failed"
	var ce *ChannelError
	if errors.As(err, &ce) {
		message = ce.Message
		if ce.Kind == ErrPersistence {
			r.logger.Error("comment persistence failed", fields)
		} else {
			r.logger.Debug("rejected event", fields)
		}
	} else {
		r.logger.Error("event handling failed", fields)
	}
	return r.send(ctx, peer, errorEvent(message))
}

func (r *Router) send(ctx context.Context, peer Peer, event Outbound) error {
	if err := peer.Send(ctx, event); err != nil {
		return channelError(ErrTransport, "send to connection failed", err)
	}
	return nil
}

// persistenceError maps store failures onto the channel taxonomy.
func persistenceError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return channelError(ErrNotFound, "Comment not found", err)
	}
	return channelError(ErrPersistence, "Failed to "+op, err)
}

func (i Identity) storeAuthor() store.Author {
	return store.Author{ID: i.UserID, Name: i.UserName, Email: i.UserEmail}
}
