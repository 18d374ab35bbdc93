package chat

import (
	"sync"
	"time"

	"relay/internal/app/user"
)

// Session is one live, authenticated connection. Identity is a cached copy of the
// registry record, refreshed whenever the room changes that identity.
type Session struct {
	Handle       string
	Identity     user.Identity
	LastLiveness time.Time
	JoinedAt     time.Time
}

// SessionTable maps connection handles to live sessions, with a secondary index by identity.
// It is in-process only and never persisted.
type SessionTable struct {
	mu         sync.RWMutex
	byHandle   map[string]*Session
	byIdentity map[string]string
	now        func() time.Time
}

// NewSessionTable returns an empty table reading time from now.
func NewSessionTable(now func() time.Time) *SessionTable {
	return &SessionTable{
		byHandle:   make(map[string]*Session),
		byIdentity: make(map[string]string),
		now:        now,
	}
}

// Register creates a session for handle. The caller must have removed any older session
// of the same identity first.
func (t *SessionTable) Register(handle string, ident user.Identity) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byHandle[handle]; ok {
		return Session{}, ErrDuplicateConnection
	}

	now := t.now()
	s := &Session{Handle: handle, Identity: ident, LastLiveness: now, JoinedAt: now}
	t.byHandle[handle] = s
	t.byIdentity[ident.ID] = handle
	return *s, nil
}

// Touch records a liveness signal. Unknown handles are ignored.
func (t *SessionTable) Touch(handle string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.byHandle[handle]; ok {
		s.LastLiveness = t.now()
	}
}

// Remove deletes and returns the session for handle.
func (t *SessionTable) Remove(handle string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byHandle[handle]
	if !ok {
		return Session{}, false
	}
	delete(t.byHandle, handle)
	if t.byIdentity[s.Identity.ID] == handle {
		delete(t.byIdentity, s.Identity.ID)
	}
	return *s, true
}

// Get returns the session for handle.
func (t *SessionTable) Get(handle string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.byHandle[handle]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// ByIdentity returns the session currently held by identity id.
func (t *SessionTable) ByIdentity(id string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	handle, ok := t.byIdentity[id]
	if !ok {
		return Session{}, false
	}
	return *t.byHandle[handle], true
}

// All returns a copy of every session.
func (t *SessionTable) All() []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Session, 0, len(t.byHandle))
	for _, s := range t.byHandle {
		out = append(out, *s)
	}
	return out
}

// Len returns the number of sessions.
func (t *SessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byHandle)
}

// Refresh replaces the cached identity of the session held by ident.ID.
func (t *SessionTable) Refresh(ident user.Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	handle, ok := t.byIdentity[ident.ID]
	if !ok {
		return false
	}
	t.byHandle[handle].Identity = ident
	return true
}

// Rekey moves the session held by oldID onto the renamed identity.
func (t *SessionTable) Rekey(oldID string, renamed user.Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	handle, ok := t.byIdentity[oldID]
	if !ok {
		return false
	}
	delete(t.byIdentity, oldID)
	t.byIdentity[renamed.ID] = handle
	t.byHandle[handle].Identity = renamed
	return true
}
