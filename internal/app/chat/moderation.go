package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"relay/internal/app/identity"
	"relay/internal/app/store"
	"relay/internal/app/user"
)

// Action is a privileged moderation operation.
type Action string

const (
	ActionRank   Action = "rank"
	ActionMute   Action = "mute"
	ActionUnmute Action = "unmute"
	ActionKick   Action = "kick"
	ActionUnkick Action = "unkick"
	ActionPurge  Action = "purge"
	ActionDelete Action = "delete"
)

// Actions lists every moderation action.
var Actions = []Action{ActionRank, ActionMute, ActionUnmute, ActionKick, ActionUnkick, ActionPurge, ActionDelete}

// DefaultModeratorRoles is the allow-set used when none is configured.
var DefaultModeratorRoles = []user.Role{user.RoleDeveloper, user.RoleOwner}

// Gate is the single place where role policy is checked. Every privileged action is authorized
// before anything is mutated.
type Gate struct {
	registry *identity.Registry
	log      *MessageLog
	bc       *Broadcaster
	allowed  map[user.Role]struct{}
	now      func() time.Time
}

// NewGate builds a Gate whose moderators are the given roles.
func NewGate(registry *identity.Registry, log *MessageLog, bc *Broadcaster, roles []user.Role, now func() time.Time) *Gate {
	if len(roles) == 0 {
		roles = DefaultModeratorRoles
	}
	return &Gate{
		registry: registry,
		log:      log,
		bc:       bc,
		allowed:  lo.Keyify(roles),
		now:      now,
	}
}

// IsStaff reports whether role belongs to the moderator allow-set.
func (g *Gate) IsStaff(role user.Role) bool {
	_, ok := g.allowed[role]
	return ok
}

// Authorize reports whether actor may perform action.
func (g *Gate) Authorize(actor user.Identity, action Action) bool {
	return lo.Contains(Actions, action) && g.IsStaff(actor.Role)
}

// AdmitSend rejects sends from kicked or muted identities. An expired mute is cleared and persisted,
// and the refreshed identity is returned.
func (g *Gate) AdmitSend(ctx context.Context, ident user.Identity) (user.Identity, error) {
	if ident.Kicked {
		return ident, ErrKicked
	}
	now := g.now()
	if ident.Mute.Active(now) {
		return ident, ErrMuted
	}
	if ident.Mute.Set() {
		ident.Mute = user.Mute{}
		if err := g.registry.Save(ctx, ident); err != nil {
			return ident, err
		}
	}
	return ident, nil
}

// target loads the identity an action applies to and checks the actor may touch it.
func (g *Gate) target(ctx context.Context, actor user.Identity, action Action, targetID string) (user.Identity, error) {
	if !g.Authorize(actor, action) {
		return user.Identity{}, fmt.Errorf("%s by %s: %w", action, actor.ID, ErrForbidden)
	}
	targetID = user.NormalizeID(targetID)
	if targetID == actor.ID {
		return user.Identity{}, fmt.Errorf("%s on self: %w", action, ErrForbidden)
	}
	if g.registry.IsSystem(targetID) {
		return user.Identity{}, fmt.Errorf("%s on system identity %s: %w", action, targetID, ErrForbidden)
	}
	t, err := g.registry.Find(ctx, targetID)
	if err != nil {
		return user.Identity{}, err
	}
	if t.Role == user.RoleOwner && actor.Role != user.RoleOwner {
		return user.Identity{}, fmt.Errorf("%s on owner by %s: %w", action, actor.ID, ErrForbidden)
	}
	return t, nil
}

func (g *Gate) sanctioned(p SanctionPayload) {
	g.bc.Publish(NewEvent(TypeUserSanctioned, g.now(), p))
}

// Mute silences target for d, or until unmuted when indefinite is set.
func (g *Gate) Mute(ctx context.Context, actor user.Identity, targetID string, d time.Duration, indefinite bool) (user.Identity, error) {
	t, err := g.target(ctx, actor, ActionMute, targetID)
	if err != nil {
		return user.Identity{}, err
	}
	if !indefinite && d <= 0 {
		return user.Identity{}, fmt.Errorf("mute duration %s: %w", d, ErrInvalidRequest)
	}

	p := SanctionPayload{IdentityID: t.ID, Kind: SanctionMuted, By: actor.ID, Indefinite: indefinite}
	if indefinite {
		t.Mute = user.Mute{Indefinite: true}
	} else {
		t.Mute = user.Mute{Until: g.now().Add(d).UTC()}
		p.Until = lo.ToPtr(t.Mute.Until)
	}
	if err := g.registry.Save(ctx, t); err != nil {
		return user.Identity{}, err
	}
	g.sanctioned(p)
	return t, nil
}

// Unmute lifts any mute on target.
func (g *Gate) Unmute(ctx context.Context, actor user.Identity, targetID string) (user.Identity, error) {
	t, err := g.target(ctx, actor, ActionUnmute, targetID)
	if err != nil {
		return user.Identity{}, err
	}
	t.Mute = user.Mute{}
	if err := g.registry.Save(ctx, t); err != nil {
		return user.Identity{}, err
	}
	g.sanctioned(SanctionPayload{IdentityID: t.ID, Kind: SanctionUnmuted, By: actor.ID})
	return t, nil
}

// Kick bars target from joining and sending until unkicked.
func (g *Gate) Kick(ctx context.Context, actor user.Identity, targetID string) (user.Identity, error) {
	return g.setKicked(ctx, actor, ActionKick, targetID, true, SanctionKicked)
}

// Unkick lifts a kick.
func (g *Gate) Unkick(ctx context.Context, actor user.Identity, targetID string) (user.Identity, error) {
	return g.setKicked(ctx, actor, ActionUnkick, targetID, false, SanctionUnkicked)
}

func (g *Gate) setKicked(ctx context.Context, actor user.Identity, action Action, targetID string, kicked bool, kind SanctionKind) (user.Identity, error) {
	t, err := g.target(ctx, actor, action, targetID)
	if err != nil {
		return user.Identity{}, err
	}
	t.Kicked = kicked
	if err := g.registry.Save(ctx, t); err != nil {
		return user.Identity{}, err
	}
	g.sanctioned(SanctionPayload{IdentityID: t.ID, Kind: kind, By: actor.ID})
	return t, nil
}

// SetRole changes target's role. Only an Owner may grant Owner.
func (g *Gate) SetRole(ctx context.Context, actor user.Identity, targetID string, role user.Role) (user.Identity, error) {
	parsed, ok := user.ParseRole(string(role))
	if !ok {
		return user.Identity{}, fmt.Errorf("role %q: %w", role, ErrInvalidRequest)
	}
	role = parsed
	t, err := g.target(ctx, actor, ActionRank, targetID)
	if err != nil {
		return user.Identity{}, err
	}
	if role == user.RoleOwner && actor.Role != user.RoleOwner {
		return user.Identity{}, fmt.Errorf("grant owner by %s: %w", actor.ID, ErrForbidden)
	}
	t.Role = role
	if err := g.registry.Save(ctx, t); err != nil {
		return user.Identity{}, err
	}
	g.sanctioned(SanctionPayload{IdentityID: t.ID, Kind: SanctionRanked, By: actor.ID, Role: role})
	return t, nil
}

// Purge wipes the messages selected by f and tells every observer.
func (g *Gate) Purge(ctx context.Context, actor user.Identity, f store.MessageFilter) (int, error) {
	if !g.Authorize(actor, ActionPurge) {
		return 0, fmt.Errorf("purge by %s: %w", actor.ID, ErrForbidden)
	}
	n, err := g.log.Purge(ctx, f)
	if err != nil {
		return 0, err
	}
	g.bc.Publish(NewEvent(TypeChatCleared, g.now(), ChatClearedPayload{By: actor.ID, Removed: n}))
	return n, nil
}

// DeleteIdentity hard-deletes target and re-attributes its messages to the tombstone author.
// The record and the persisted messages change in one store transaction.
func (g *Gate) DeleteIdentity(ctx context.Context, actor user.Identity, targetID string) (user.Identity, error) {
	t, err := g.target(ctx, actor, ActionDelete, targetID)
	if err != nil {
		return user.Identity{}, err
	}
	if err := g.registry.Delete(ctx, t.ID); err != nil {
		return user.Identity{}, err
	}
	g.log.Reattribute(t.ID, user.TombstoneID, "")
	g.sanctioned(SanctionPayload{IdentityID: t.ID, Kind: SanctionDeleted, By: actor.ID})
	return t, nil
}
