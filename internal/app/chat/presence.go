package chat

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/samber/lo"

	"relay/internal/app/identity"
	"relay/internal/app/store"
	"relay/internal/app/user"
)

// DefaultLivenessTimeout is how long a session may stay silent before it counts as offline.
const DefaultLivenessTimeout = 45 * time.Second

// history is the part of MessageLog the tracker drives.
type history interface {
	RecentVisible(n int, staff bool) []store.Message
	Reattribute(oldID, newID, avatar string)
}

// PresenceTracker derives online state from the SessionTable and reconciles identities on
// connect, disconnect and rename.
type PresenceTracker struct {
	sessions *SessionTable
	registry *identity.Registry
	auth     identity.AuthProvider
	log      history
	timeout  time.Duration
	now      func() time.Time
}

// NewPresenceTracker wires a tracker. A non-positive timeout falls back to DefaultLivenessTimeout.
func NewPresenceTracker(sessions *SessionTable, registry *identity.Registry, auth identity.AuthProvider,
	log history, timeout time.Duration, now func() time.Time) *PresenceTracker {
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	return &PresenceTracker{
		sessions: sessions,
		registry: registry,
		auth:     auth,
		log:      log,
		timeout:  timeout,
		now:      now,
	}
}

// Timeout returns the liveness timeout.
func (p *PresenceTracker) Timeout() time.Duration { return p.timeout }

// Authenticate checks credentials without touching any session state.
func (p *PresenceTracker) Authenticate(ctx context.Context, id, secret string) (user.Identity, error) {
	return p.auth.Verify(ctx, id, secret)
}

// Admit registers a session for an already authenticated identity.
func (p *PresenceTracker) Admit(handle string, ident user.Identity) (Session, error) {
	if ident.Kicked {
		return Session{}, ErrKicked
	}
	return p.sessions.Register(handle, ident)
}

// OnJoin authenticates and admits in one step and returns the joined snapshot. Authentication
// failures leave no trace.
func (p *PresenceTracker) OnJoin(ctx context.Context, handle, id, secret string, staff bool) (JoinedPayload, error) {
	ident, err := p.Authenticate(ctx, id, secret)
	if err != nil {
		return JoinedPayload{}, err
	}
	sess, err := p.Admit(handle, ident)
	if err != nil {
		return JoinedPayload{}, err
	}
	return p.Joined(sess, staff), nil
}

// Joined builds the full-state snapshot for a newly admitted session.
func (p *PresenceTracker) Joined(sess Session, staff bool) JoinedPayload {
	return JoinedPayload{
		Self:   p.Snapshot(sess),
		Roster: p.Roster(),
		Recent: p.log.RecentVisible(0, staff),
	}
}

// OnHeartbeat records a liveness signal; unknown handles are ignored.
func (p *PresenceTracker) OnHeartbeat(handle string) {
	p.sessions.Touch(handle)
}

// OnDisconnect removes the session and returns its now-offline snapshot.
func (p *PresenceTracker) OnDisconnect(handle string) (PresenceSnapshot, bool) {
	sess, ok := p.sessions.Remove(handle)
	if !ok {
		return PresenceSnapshot{}, false
	}
	return Offline(sess.Identity), true
}

// Sweep removes every session whose last liveness signal is at least one timeout old.
func (p *PresenceTracker) Sweep() []Session {
	now := p.now()
	var expired []Session
	for _, s := range p.sessions.All() {
		if now.Sub(s.LastLiveness) >= p.timeout {
			if removed, ok := p.sessions.Remove(s.Handle); ok {
				expired = append(expired, removed)
			}
		}
	}
	return expired
}

// OnRename renames an identity, re-keys its live session and re-attributes its messages in the log.
// The identity record and its persisted messages move together; on error nothing has changed.
// Renaming to the current identifier succeeds without changing anything.
func (p *PresenceTracker) OnRename(ctx context.Context, oldID, newID string) (user.Identity, error) {
	oldID, newID = user.NormalizeID(oldID), user.NormalizeID(newID)
	renamed, err := p.registry.Rename(ctx, oldID, newID)
	if err != nil {
		return user.Identity{}, err
	}
	if oldID == newID {
		return renamed, nil
	}

	p.sessions.Rekey(oldID, renamed)
	p.log.Reattribute(oldID, newID, renamed.Profile.DisplayImage)
	return renamed, nil
}

// Online reports whether id holds a session that is still within the liveness timeout.
func (p *PresenceTracker) Online(id string) bool {
	s, ok := p.sessions.ByIdentity(user.NormalizeID(id))
	return ok && p.live(s)
}

// Snapshot evaluates presence for one session at the current time.
func (p *PresenceTracker) Snapshot(s Session) PresenceSnapshot {
	return PresenceSnapshot{
		IdentityID: s.Identity.ID,
		Online:     p.live(s),
		Role:       s.Identity.Role,
		Profile:    s.Identity.Profile,
	}
}

// Roster returns a snapshot of every registered session, ordered by identity.
func (p *PresenceTracker) Roster() []PresenceSnapshot {
	roster := lo.Map(p.sessions.All(), func(s Session, _ int) PresenceSnapshot {
		return p.Snapshot(s)
	})
	slices.SortFunc(roster, func(a, b PresenceSnapshot) int {
		return cmp.Compare(a.IdentityID, b.IdentityID)
	})
	return roster
}

func (p *PresenceTracker) live(s Session) bool {
	return p.now().Sub(s.LastLiveness) < p.timeout
}

// Offline is the snapshot reported when ident's session goes away.
func Offline(ident user.Identity) PresenceSnapshot {
	return PresenceSnapshot{
		IdentityID: ident.ID,
		Online:     false,
		Role:       ident.Role,
		Profile:    ident.Profile,
	}
}
