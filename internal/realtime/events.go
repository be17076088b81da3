package realtime

import (
	"bytes"
	"encoding/json"
	"strings"

	"draftroom/api/internal/store"
)

// Kind names an inbound event.
type Kind string

const (
	KindAuth           Kind = "auth"
	KindNewComment     Kind = "new_comment"
	KindNewReply       Kind = "new_reply"
	KindResolveComment Kind = "resolve_comment"
	KindDeleteComment  Kind = "delete_comment"
	KindUpdateComment  Kind = "update_comment"
)

// Outbound event types.
const (
	EventExistingComments = "existing_comments"
	EventAuthSuccess      = "auth_success"
	EventAuthFailed       = "auth_failed"
	EventNewComment       = "new_comment"
	EventCommentCreated   = "comment_created"
	EventNewReply         = "new_reply"
	EventReplyCreated     = "reply_created"
	EventCommentResolved  = "comment_resolved"
	EventCommentUpdated   = "comment_updated"
	EventCommentDeleted   = "comment_deleted"
	EventError            = "error"
)

// Inbound is one decoded client event. The concrete types below are the
// only implementations.
type Inbound interface {
	Kind() Kind
}

type AuthRequest struct {
	UserID          string `json:"user_id"`
	UserName        string `json:"user_name"`
	UserEmail       string `json:"user_email"`
	UserDisplayName string `json:"user_display_name"`
	ShareToken      string `json:"share_token"`
	VerifiedToken   string `json:"verified_token"`
}

type NewCommentRequest struct {
	Content       string          `json:"content"`
	SelectionText *string         `json:"selection_text"`
	Position      json.RawMessage `json:"position"`
	SectionID     *string         `json:"section_id"`
}

type NewReplyRequest struct {
	CommentID string `json:"comment_id"`
	Content   string `json:"content"`
}

type ResolveCommentRequest struct {
	CommentID string `json:"comment_id"`
}

type DeleteCommentRequest struct {
	CommentID string `json:"comment_id"`
}

type UpdateCommentRequest struct {
	CommentID string `json:"comment_id"`
	Content   string `json:"content"`
}

// Unknown carries an event type the server does not handle.
type Unknown struct {
	Type string
}

func (AuthRequest) Kind() Kind           { return KindAuth }
func (NewCommentRequest) Kind() Kind     { return KindNewComment }
func (NewReplyRequest) Kind() Kind       { return KindNewReply }
func (ResolveCommentRequest) Kind() Kind { return KindResolveComment }
func (DeleteCommentRequest) Kind() Kind  { return KindDeleteComment }
func (UpdateCommentRequest) Kind() Kind  { return KindUpdateComment }
func (u Unknown) Kind() Kind             { return Kind(u.Type) }

// DecodeInbound parses one client frame. Malformed frames and frames missing
// required fields return a protocol_error ChannelError; unrecognised types
// decode to Unknown without error.
func DecodeInbound(data []byte) (Inbound, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, channelError(ErrProtocol, "malformed event", err)
	}

	switch Kind(envelope.Type) {
	case KindAuth:
		var event AuthRequest
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, channelError(ErrProtocol, "malformed auth event", err)
		}
		return event, nil

	case KindNewComment:
		var event NewCommentRequest
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, channelError(ErrProtocol, "malformed new_comment event", err)
		}
		event.Content = strings.TrimSpace(event.Content)
		if event.Content == "" {
			return nil, channelError(ErrProtocol, "new_comment requires content", nil)
		}
		if !isObjectOrNull(event.Position) {
			return nil, channelError(ErrProtocol, "new_comment position must be an object", nil)
		}
		return event, nil

	case KindNewReply:
		var event NewReplyRequest
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, channelError(ErrProtocol, "malformed new_reply event", err)
		}
		event.Content = strings.TrimSpace(event.Content)
		if event.CommentID == "" || event.Content == "" {
			return nil, channelError(ErrProtocol, "new_reply requires comment_id and content", nil)
		}
		return event, nil

	case KindResolveComment:
		var event ResolveCommentRequest
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, channelError(ErrProtocol, "malformed resolve_comment event", err)
		}
		if event.CommentID == "" {
			return nil, channelError(ErrProtocol, "resolve_comment requires comment_id", nil)
		}
		return event, nil

	case KindDeleteComment:
		var event DeleteCommentRequest
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, channelError(ErrProtocol, "malformed delete_comment event", err)
		}
		if event.CommentID == "" {
			return nil, channelError(ErrProtocol, "delete_comment requires comment_id", nil)
		}
		return event, nil

	case KindUpdateComment:
		var event UpdateCommentRequest
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, channelError(ErrProtocol, "malformed update_comment event", err)
		}
		event.Content = strings.TrimSpace(event.Content)
		if event.CommentID == "" || event.Content == "" {
			return nil, channelError(ErrProtocol, "update_comment requires comment_id and content", nil)
		}
		return event, nil
	}

	return Unknown{Type: envelope.Type}, nil
}

func isObjectOrNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	return trimmed[0] == '{'
}

// UserInfo is the identity echoed back in auth_success.
type UserInfo struct {
	UserID        string   `json:"user_id"`
	UserName      string   `json:"user_name"`
	UserEmail     string   `json:"user_email,omitempty"`
	AuthMode      AuthMode `json:"auth_mode"`
	Authenticated bool     `json:"authenticated"`
}

// Outbound is one server event. Which payload field is written depends on
// Type; see MarshalJSON.
type Outbound struct {
	Type      string
	Comment   *store.Comment
	Comments  []store.Comment
	CommentID string
	Message   string
	UserInfo  *UserInfo
}

func (e Outbound) MarshalJSON() ([]byte, error) {
	body := map[string]any{"type": e.Type}
	switch e.Type {
	case EventExistingComments:
		comments := e.Comments
		if comments == nil {
			comments = []store.Comment{}
		}
		body["comments"] = comments
	case EventAuthSuccess:
		body["user_info"] = e.UserInfo
	case EventAuthFailed, EventError:
		body["message"] = e.Message
	case EventCommentDeleted:
		body["comment_id"] = e.CommentID
	default:
		body["comment"] = e.Comment
	}
	return json.Marshal(body)
}

func errorEvent(message string) Outbound {
	return Outbound{Type: EventError, Message: message}
}
