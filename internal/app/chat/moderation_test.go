package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"relay/internal/app/identity"
	"relay/internal/app/store"
	"relay/internal/app/user"
	"relay/internal/mocks"
)

type gateFixture struct {
	*presenceFixture
	bc   *Broadcaster
	gate *Gate
	obs  *recorder
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	f := &gateFixture{presenceFixture: newPresenceFixture(t), bc: NewBroadcaster(), obs: newRecorder("watcher")}
	f.bc.Attach(f.obs)
	f.gate = NewGate(f.registry, f.log, f.bc, nil, f.clock.Now)
	return f
}

func TestGateAuthorize(t *testing.T) {
	gate := NewGate(nil, nil, NewBroadcaster(), nil, time.Now)

	tests := []struct {
		role   user.Role
		action Action
		want   bool
	}{
		{user.RoleOwner, ActionPurge, true},
		{user.RoleDeveloper, ActionRank, true},
		{user.RoleVIP, ActionMute, false},
		{user.RoleMember, ActionKick, false},
		{user.RoleBot, ActionDelete, false},
		{user.RoleOwner, Action("explode"), false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.role, tt.action), func(t *testing.T) {
			require.Equal(t, tt.want, gate.Authorize(user.Identity{Role: tt.role}, tt.action))
		})
	}

	custom := NewGate(nil, nil, NewBroadcaster(), []user.Role{user.RoleVIP}, time.Now)
	require.True(t, custom.Authorize(user.Identity{Role: user.RoleVIP}, ActionMute))
	require.False(t, custom.Authorize(user.Identity{Role: user.RoleOwner}, ActionMute))
}

func TestGateMuteAndLazyUnmute(t *testing.T) {
	req := require.New(t)
	f := newGateFixture(t)
	ctx := context.Background()
	owner := f.register(t, "owner")
	f.register(t, "alice")

	muted, err := f.gate.Mute(ctx, owner, "alice", time.Minute, false)
	req.NoError(err)
	req.True(muted.Mute.Active(f.clock.Now()))

	ev, ok := f.obs.Last(TypeUserSanctioned)
	req.True(ok)
	p := ev.Payload.(SanctionPayload)
	req.Equal(SanctionMuted, p.Kind)
	req.Equal(f.clock.Now().Add(time.Minute), *p.Until)

	_, err = f.gate.AdmitSend(ctx, muted)
	req.ErrorIs(err, ErrMuted)

	f.clock.Advance(time.Minute)
	lifted, err := f.gate.AdmitSend(ctx, muted)
	req.NoError(err)
	req.False(lifted.Mute.Set())

	stored, err := f.registry.Find(ctx, "alice")
	req.NoError(err)
	req.False(stored.Mute.Set())
}

func TestGateIndefiniteMute(t *testing.T) {
	req := require.New(t)
	f := newGateFixture(t)
	ctx := context.Background()
	owner := f.register(t, "owner")
	f.register(t, "alice")

	muted, err := f.gate.Mute(ctx, owner, "alice", 0, true)
	req.NoError(err)
	f.clock.Advance(24 * time.Hour)
	_, err = f.gate.AdmitSend(ctx, muted)
	req.ErrorIs(err, ErrMuted)

	_, err = f.gate.Mute(ctx, owner, "alice", 0, false)
	req.ErrorIs(err, ErrInvalidRequest)

	unmuted, err := f.gate.Unmute(ctx, owner, "alice")
	req.NoError(err)
	_, err = f.gate.AdmitSend(ctx, unmuted)
	req.NoError(err)
}

func TestGatePolicy(t *testing.T) {
	req := require.New(t)
	f := newGateFixture(t)
	ctx := context.Background()
	owner := f.register(t, "owner")
	alice := f.register(t, "alice")
	f.register(t, "bob")

	_, err := f.gate.Kick(ctx, alice, "bob")
	req.ErrorIs(err, ErrForbidden)
	req.Empty(f.obs.Events())

	dev, err := f.gate.SetRole(ctx, owner, "alice", user.RoleDeveloper)
	req.NoError(err)
	req.Equal(user.RoleDeveloper, dev.Role)

	_, err = f.gate.Kick(ctx, dev, "owner")
	req.ErrorIs(err, ErrForbidden)
	_, err = f.gate.SetRole(ctx, dev, "bob", user.RoleOwner)
	req.ErrorIs(err, ErrForbidden)
	_, err = f.gate.Mute(ctx, dev, "alice", time.Minute, false)
	req.ErrorIs(err, ErrForbidden)
	_, err = f.gate.SetRole(ctx, owner, "bob", user.Role("emperor"))
	req.ErrorIs(err, ErrInvalidRequest)
	_, err = f.gate.Kick(ctx, dev, "nobody")
	req.ErrorIs(err, store.ErrNotFound)

	kicked, err := f.gate.Kick(ctx, dev, "BOB")
	req.NoError(err)
	req.True(kicked.Kicked)
	_, err = f.gate.AdmitSend(ctx, kicked)
	req.ErrorIs(err, ErrKicked)

	unkicked, err := f.gate.Unkick(ctx, dev, "bob")
	req.NoError(err)
	req.False(unkicked.Kicked)
}

func TestGatePurge(t *testing.T) {
	req := require.New(t)
	f := newGateFixture(t)
	ctx := context.Background()
	owner := f.register(t, "owner")
	alice := f.register(t, "alice")
	for range 3 {
		_, err := f.log.Append(ctx, store.Message{AuthorID: "alice", Body: "x"})
		req.NoError(err)
	}

	_, err := f.gate.Purge(ctx, alice, store.MessageFilter{})
	req.ErrorIs(err, ErrForbidden)
	req.Equal(3, f.log.Len())

	n, err := f.gate.Purge(ctx, owner, store.MessageFilter{})
	req.NoError(err)
	req.Equal(3, n)
	req.Empty(f.log.Recent(10))
	ev, ok := f.obs.Last(TypeChatCleared)
	req.True(ok)
	req.Equal(ChatClearedPayload{By: "owner", Removed: 3}, ev.Payload)
}

func TestGateDeleteIdentity(t *testing.T) {
	req := require.New(t)
	f := newGateFixture(t)
	ctx := context.Background()
	owner := f.register(t, "owner")
	f.register(t, "alice")
	_, err := f.log.Append(ctx, store.Message{AuthorID: "alice", AuthorAvatar: "https://img.example/a.png", Body: "x"})
	req.NoError(err)

	_, err = f.gate.DeleteIdentity(ctx, owner, "alice")
	req.NoError(err)
	_, err = f.registry.Find(ctx, "alice")
	req.ErrorIs(err, store.ErrNotFound)
	m := f.log.Recent(1)[0]
	req.Equal(user.TombstoneID, m.AuthorID)
	req.Empty(m.AuthorAvatar)
}

func TestGateStoreUnavailable(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	registry := identity.NewRegistry(st, nil)
	bc := NewBroadcaster()
	obs := newRecorder("watcher")
	bc.Attach(obs)
	gate := NewGate(registry, NewMessageLog(st, 10, 10, time.Now), bc, nil, time.Now)

	owner := user.Identity{ID: "owner", Role: user.RoleOwner}
	st.EXPECT().FindIdentity(gomock.Any(), "alice").Return(user.Identity{ID: "alice", Role: user.RoleMember}, nil)
	st.EXPECT().SaveIdentity(gomock.Any(), gomock.Any()).Return(fmt.Errorf("save: %w", store.ErrStoreUnavailable))

	_, err := gate.Kick(context.Background(), owner, "alice")
	req.ErrorIs(err, store.ErrStoreUnavailable)
	req.Empty(obs.Events())
}

func TestGateDeleteIdentityStoreUnavailable(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	registry := identity.NewRegistry(st, nil)
	bc := NewBroadcaster()
	obs := newRecorder("watcher")
	bc.Attach(obs)
	log := NewMessageLog(st, 10, 10, time.Now)
	gate := NewGate(registry, log, bc, nil, time.Now)
	ctx := context.Background()

	st.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().FindIdentity(gomock.Any(), "alice").Return(user.Identity{ID: "alice", Role: user.RoleMember}, nil)
	st.EXPECT().DeleteIdentity(gomock.Any(), "alice", user.TombstoneID).
		Return(0, fmt.Errorf("delete: %w", store.ErrStoreUnavailable))

	_, err := log.Append(ctx, store.Message{AuthorID: "alice", Body: "x"})
	req.NoError(err)

	_, err = gate.DeleteIdentity(ctx, user.Identity{ID: "owner", Role: user.RoleOwner}, "alice")
	req.ErrorIs(err, store.ErrStoreUnavailable)
	req.Empty(obs.Events())
	req.Equal("alice", log.Recent(1)[0].AuthorID)
}

func TestGateRefusesSystemIdentity(t *testing.T) {
	req := require.New(t)
	f := newGateFixture(t)
	ctx := context.Background()
	_, err := f.registry.EnsureSystem(ctx, "assistant", user.RoleBot)
	req.NoError(err)
	owner := f.register(t, "owner")
	req.Equal(user.RoleOwner, owner.Role)

	_, err = f.gate.DeleteIdentity(ctx, owner, "Assistant")
	req.ErrorIs(err, ErrForbidden)
	_, err = f.gate.Mute(ctx, owner, "assistant", time.Minute, false)
	req.ErrorIs(err, ErrForbidden)
	_, err = f.registry.Find(ctx, "assistant")
	req.NoError(err)
	req.Empty(f.obs.Events())

	next := f.register(t, "mallory")
	req.Equal(user.RoleMember, next.Role)
}
