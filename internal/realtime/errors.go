package realtime

import "fmt"

type ErrorKind string

const (
	ErrAuthRequired ErrorKind = "auth_required"
	ErrAuthFailed   ErrorKind = "auth_failed"
	ErrNotFound     ErrorKind = "not_found"
	ErrPersistence  ErrorKind = "persistence_failure"
	ErrTransport    ErrorKind = "transport_failure"
	ErrProtocol     ErrorKind = "protocol_error"
)

// ChannelError is the error type surfaced by the comment channel. Message is
// safe to show to the client.
type ChannelError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ChannelError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

func channelError(kind ErrorKind, message string, err error) *ChannelError {
	return &ChannelError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}
