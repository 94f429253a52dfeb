package realtime

import (
	"errors"
	"fmt"

	"github.com/yuzhe-s/chat-memo/internal/notes"
)

// ErrorKind classifies failures reported to a connection.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindNotFound        ErrorKind = "not_found"
	KindPersistence     ErrorKind = "persistence"
)

// Client-visible error messages.
const (
	MessageInvalidUser        = "invalid user id"
	MessageInvalidPayload     = "invalid payload"
	MessageUnknownEvent       = "unknown event"
	MessageTitleRequired      = "title required"
	MessageTitleTooLong       = "title exceeds 200 characters"
	MessageContentRequired    = "content required"
	MessageContentTooLong     = "content exceeds 500 characters"
	MessageNoteNotFound       = "note not found"
	MessageTagNotFound        = "tag not found"
	MessageTagExists          = "tag exists"
	MessageTagNameRequired    = "tag name required"
	MessageTagNameTooLong     = "tag name exceeds 50 characters"
	MessageStorageUnavailable = "storage unavailable"
)

// ErrEmptyMessage marks a blank chat body. Connections ignore it silently.
var ErrEmptyMessage = errors.New("realtime: empty message")

// EventError is a failure reported to the originating connection as an error event.
type EventError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *EventError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

func newEventError(kind ErrorKind, message string, cause error) *EventError {
	return &EventError{Kind: kind, Message: message, Err: cause}
}

// translateStoreError maps storage failures onto client-facing kinds and messages.
func translateStoreError(err error) *EventError {
	var eventErr *EventError
	if errors.As(err, &eventErr) {
		return eventErr
	}
	switch {
	case errors.Is(err, notes.ErrNoteNotFound):
		return newEventError(KindNotFound, MessageNoteNotFound, err)
	case errors.Is(err, notes.ErrTagNotFound):
		return newEventError(KindNotFound, MessageTagNotFound, err)
	case errors.Is(err, notes.ErrTagExists):
		return newEventError(KindValidation, MessageTagExists, err)
	case errors.Is(err, notes.ErrTitleRequired):
		return newEventError(KindValidation, MessageTitleRequired, err)
	case errors.Is(err, notes.ErrTitleTooLong):
		return newEventError(KindValidation, MessageTitleTooLong, err)
	case errors.Is(err, notes.ErrTagNameRequired):
		return newEventError(KindValidation, MessageTagNameRequired, err)
	case errors.Is(err, notes.ErrTagNameTooLong):
		return newEventError(KindValidation, MessageTagNameTooLong, err)
	case errors.Is(err, notes.ErrEmptyMessage):
		return newEventError(KindValidation, MessageContentRequired, errors.Join(ErrEmptyMessage, err))
	default:
		return newEventError(KindPersistence, MessageStorageUnavailable, err)
	}
}
