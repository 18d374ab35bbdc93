/*
Package store defines the persistence contract for identities and messages, the Message
record itself, and an in-memory implementation used by default and in tests.

Backends: memory (this package), Postgres (internal/app/db), SQLite (internal/app/db/sqlitedb)
and Badger (internal/app/db/badgerdb). Every method may fail with ErrStoreUnavailable, which
callers surface as a transient error and never retry on their own.
*/
package store

//go:generate mockgen -destination=../../mocks/store_mock.go -package=mocks relay/internal/app/store Store

import (
	"context"
	"time"

	"relay/internal/app/user"
	"relay/internal/pkg/errs"
)

var (
	// ErrStoreUnavailable wraps any backend failure (connection, I/O, driver).
	ErrStoreUnavailable = errs.NewSentinel(errs.ErrStoreUnavailable, "store unavailable")

	// ErrNotFound is returned when the requested identity does not exist.
	ErrNotFound = errs.NewSentinel(errs.ErrUserNotFound, "identity not found")

	// ErrAlreadyExists is returned when an identifier is already taken.
	ErrAlreadyExists = errs.NewSentinel(errs.ErrUserAlreadyExists, "identity already exists")
)

// Visibility controls who may read a message.
type Visibility string

const (
	VisibilityPublic     Visibility = "public"
	VisibilityRestricted Visibility = "restricted"
)

// Message is one chat log entry. It is immutable once appended except for
// re-attribution (rename, identity delete) and bulk purge.
type Message struct {
	ID           string     `json:"id"`
	AuthorID     string     `json:"authorId"`
	AuthorRole   user.Role  `json:"authorRole"`
	AuthorAvatar string     `json:"authorAvatar,omitempty"`
	Body         string     `json:"body"`
	CreatedAt    time.Time  `json:"createdAt"`
	Visibility   Visibility `json:"visibility"`
}

// MessageFilter selects messages for purge. Empty fields match everything, so the
// zero filter selects the whole log.
type MessageFilter struct {
	AuthorID string
	Before   time.Time
}

// Match reports whether m is selected by f.
func (f MessageFilter) Match(m Message) bool {
	if f.AuthorID != "" && m.AuthorID != f.AuthorID {
		return false
	}
	if !f.Before.IsZero() && !m.CreatedAt.Before(f.Before) {
		return false
	}
	return true
}

// Store persists identities and messages. Identifiers are always canonical (user.NormalizeID).
type Store interface {
	FindIdentity(ctx context.Context, id string) (user.Identity, error)
	CreateIdentity(ctx context.Context, ident user.Identity) error
	SaveIdentity(ctx context.Context, ident user.Identity) error
	// RenameIdentity moves oldID to newID and re-attributes oldID's messages to newID with the
	// identity's display image, in one transaction. It returns the number of messages rewritten.
	RenameIdentity(ctx context.Context, oldID, newID string) (int, error)
	// DeleteIdentity removes id and re-attributes its messages to tombstoneID with no avatar,
	// in one transaction.
	DeleteIdentity(ctx context.Context, id, tombstoneID string) (int, error)
	CountIdentities(ctx context.Context) (int, error)

	AppendMessage(ctx context.Context, m Message) error
	// RecentMessages returns at most n messages, oldest first.
	RecentMessages(ctx context.Context, n int) ([]Message, error)
	PurgeMessages(ctx context.Context, f MessageFilter) (int, error)

	Close() error
}
