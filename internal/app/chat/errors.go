package chat

import (
	"errors"

	"relay/internal/pkg/errs"
)

var (
	// ErrMuted rejects a send from a muted identity before anything is appended.
	ErrMuted = errs.NewSentinel(errs.ErrSenderMuted, "sender is muted")

	// ErrKicked rejects joins and sends from a kicked identity.
	ErrKicked = errs.NewSentinel(errs.ErrSenderKicked, "identity is kicked")

	// ErrForbidden is returned when the actor's role does not permit the action.
	ErrForbidden = errs.NewSentinel(errs.ErrForbidden, "action not permitted")

	// ErrDuplicateConnection is returned when a connection handle is registered twice.
	ErrDuplicateConnection = errs.NewSentinel(errs.ErrDuplicateConnection, "connection already registered")

	// ErrSessionNotFound is returned for session-scoped operations on an unknown handle.
	ErrSessionNotFound = errs.NewSentinel(errs.ErrSessionNotFound, "session not found")

	// ErrInvalidMessage rejects empty or oversized bodies.
	ErrInvalidMessage = errs.NewSentinel(errs.ErrMessageContentTooLong, "invalid message body")

	// ErrInvalidRequest rejects malformed moderation or profile requests.
	ErrInvalidRequest = errs.NewSentinel(errs.ErrInvalidParams, "invalid request")
)

// ErrRoomClosed is returned by room operations after the event loop has stopped.
var ErrRoomClosed = errors.New("room is closed")

// ErrConnectionGone is returned when a connection went away while its join was being authenticated.
var ErrConnectionGone = errors.New("connection closed before join completed")
