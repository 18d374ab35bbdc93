/*
Package chat contains the real-time core of the relay: sessions and presence, the bounded
message log, event fan-out, moderation, the room event loop that serializes every mutation,
and the websocket client that feeds it.

This file defines the events delivered to observers and their payloads.
*/
package chat

import (
	"time"

	"relay/internal/app/store"
	"relay/internal/app/user"
)

// EventType identifies the kind of event delivered to an observer.
type EventType string

const (
	TypeJoined          EventType = "joined"
	TypePresenceChanged EventType = "presence_changed"
	TypeMessagePosted   EventType = "message_posted"
	TypeChatCleared     EventType = "chat_cleared"
	TypeUserSanctioned  EventType = "user_sanctioned"
	TypeProfileUpdated  EventType = "profile_updated"
	TypeIdentityRenamed EventType = "identity_renamed"
	TypeAck             EventType = "ack"
	TypeError           EventType = "error"
)

// Event is one server-to-client frame.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEvent stamps payload with at (unix milliseconds).
func NewEvent(t EventType, at time.Time, payload any) Event {
	return Event{Type: t, Timestamp: at.UnixMilli(), Payload: payload}
}

// PresenceSnapshot is the derived, per-read view of one identity's presence.
type PresenceSnapshot struct {
	IdentityID string       `json:"identityId"`
	Online     bool         `json:"online"`
	Role       user.Role    `json:"role"`
	Profile    user.Profile `json:"profile"`
}

// JoinedPayload is the full-state snapshot sent to a newly joined observer.
type JoinedPayload struct {
	Self   PresenceSnapshot   `json:"self"`
	Roster []PresenceSnapshot `json:"roster"`
	Recent []store.Message    `json:"recent"`
}

// ChatClearedPayload reports a history purge.
type ChatClearedPayload struct {
	By      string `json:"by"`
	Removed int    `json:"removed"`
}

// SanctionKind names a moderation outcome.
type SanctionKind string

const (
	SanctionMuted    SanctionKind = "muted"
	SanctionUnmuted  SanctionKind = "unmuted"
	SanctionKicked   SanctionKind = "kicked"
	SanctionUnkicked SanctionKind = "unkicked"
	SanctionRanked   SanctionKind = "ranked"
	SanctionDeleted  SanctionKind = "deleted"
)

// SanctionPayload reports a moderation action taken against an identity.
type SanctionPayload struct {
	IdentityID string       `json:"identityId"`
	Kind       SanctionKind `json:"kind"`
	By         string       `json:"by"`
	Role       user.Role    `json:"role,omitempty"`
	Until      *time.Time   `json:"until,omitempty"`
	Indefinite bool         `json:"indefinite,omitempty"`
}

// RenamedPayload reports an identifier change; the log has already been rewritten.
type RenamedPayload struct {
	OldID string `json:"oldId"`
	NewID string `json:"newId"`
}

// AckPayload confirms a sender's message back to that sender only.
type AckPayload struct {
	TempID    string `json:"tempId"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorPayload carries an errs business code to the client.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
