package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"relay/internal/app/identity"
	"relay/internal/app/store"
	"relay/internal/app/user"
	"relay/internal/mocks"
	"relay/internal/pkg/censor"
)

const testSecret = "correct-horse"

type roomFixture struct {
	clock    *fakeClock
	store    *store.Memory
	registry *identity.Registry
	auth     *identity.Provider
	room     *Room
}

func newRoomFixture(t *testing.T, configure func(*Config, *Deps)) *roomFixture {
	t.Helper()
	f := &roomFixture{clock: newFakeClock(), store: store.NewMemory()}
	f.registry = identity.NewRegistry(f.store, nil)
	f.auth = identity.NewProvider(f.registry, bcrypt.MinCost)

	cfg := Config{
		LivenessTimeout: 45 * time.Second,
		SweepInterval:   time.Hour,
		Retention:       20,
		RecentWindow:    10,
		MaxContentBytes: 100,
		BotTrigger:      "@ai",
		BotID:           "assistant",
	}
	deps := Deps{Store: f.store, Registry: f.registry, Auth: f.auth, Now: f.clock.Now}
	if configure != nil {
		configure(&cfg, &deps)
	}
	for _, id := range []string{"owner", "alice", "bob"} {
		_, err := f.auth.Register(context.Background(), id, testSecret, user.Profile{})
		require.NoError(t, err)
	}

	f.room = NewRoom(cfg, deps)
	startRoom(t, f.room)
	return f
}

func startRoom(t *testing.T, room *Room) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = room.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-room.Done()
	})
}

func (f *roomFixture) join(t *testing.T, id string) *recorder {
	t.Helper()
	obs := newRecorder("h-" + id)
	_, err := f.room.Join(context.Background(), obs, id, testSecret)
	require.NoError(t, err)
	return obs
}

func TestRoomJoinThenMessage(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)
	ctx := context.Background()

	a := f.join(t, "alice")
	b := f.join(t, "bob")

	_, err := f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: "hi"})
	req.NoError(err)

	req.Equal([]EventType{TypeJoined, TypeMessagePosted}, b.Types())
	joined := b.Events()[0].Payload.(JoinedPayload)
	req.Len(joined.Roster, 2)
	for _, snap := range joined.Roster {
		req.True(snap.Online, snap.IdentityID)
	}
	posted := b.Events()[1].Payload.(store.Message)
	req.Equal("hi", posted.Body)
	req.Equal("alice", posted.AuthorID)

	req.Equal([]EventType{TypeJoined, TypePresenceChanged, TypeMessagePosted}, a.Types())
}

func TestRoomSweepMarksSilentSessionOffline(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)
	ctx := context.Background()

	a := f.join(t, "alice")
	b := f.join(t, "bob")
	_, err := f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: "hi"})
	req.NoError(err)
	a.Reset()

	f.clock.Advance(30 * time.Second)
	req.NoError(f.room.Heartbeat(ctx, a.Handle()))
	f.clock.Advance(15 * time.Second)
	req.NoError(f.room.Sweep(ctx))

	ev, ok := a.Last(TypePresenceChanged)
	req.True(ok)
	snap := ev.Payload.(PresenceSnapshot)
	req.Equal("bob", snap.IdentityID)
	req.False(snap.Online)
	req.Equal([]EventType{TypePresenceChanged}, a.Types())

	closed, code := b.Closed()
	req.True(closed)
	req.Equal(CloseLivenessTimeout, code)

	recent, err := f.room.Recent(ctx, ByIdentity("alice"), 10)
	req.NoError(err)
	req.Len(recent, 1)

	roster, err := f.room.Roster(ctx)
	req.NoError(err)
	req.Len(roster, 1)
	req.Equal("alice", roster[0].IdentityID)
}

func TestRoomSweepInRealTime(t *testing.T) {
	req := require.New(t)
	const (
		timeout = 150 * time.Millisecond
		sweep   = 50 * time.Millisecond
	)
	f := newRoomFixture(t, func(cfg *Config, deps *Deps) {
		cfg.LivenessTimeout = timeout
		cfg.SweepInterval = sweep
		deps.Now = time.Now
	})
	ctx := context.Background()

	a := f.join(t, "alice")
	f.join(t, "bob")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(timeout / 5)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = f.room.Heartbeat(ctx, a.Handle())
			case <-stop:
				return
			}
		}
	}()

	req.Eventually(func() bool {
		ev, ok := a.Last(TypePresenceChanged)
		if !ok {
			return false
		}
		snap := ev.Payload.(PresenceSnapshot)
		return snap.IdentityID == "bob" && !snap.Online
	}, 4*(timeout+sweep), 10*time.Millisecond)

	roster, err := f.room.Roster(ctx)
	req.NoError(err)
	req.Len(roster, 1)
	req.True(roster[0].Online)
}

func TestRoomJoinRejectsBadCredentials(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)

	_, err := f.room.Join(context.Background(), newRecorder("h1"), "alice", "nope-nope")
	req.ErrorIs(err, identity.ErrBadSecret)

	roster, err := f.room.Roster(context.Background())
	req.NoError(err)
	req.Empty(roster)
}

func TestRoomJoinAfterConnectionClosed(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)

	obs := newRecorder("h1")
	obs.Close(1000, "")
	_, err := f.room.Join(context.Background(), obs, "alice", testSecret)
	req.ErrorIs(err, ErrConnectionGone)

	roster, err := f.room.Roster(context.Background())
	req.NoError(err)
	req.Empty(roster)
}

func TestRoomJoinSeesKickAfterAuthentication(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	registry := identity.NewRegistry(st, nil)
	room := NewRoom(Config{}, Deps{Store: st, Registry: registry, Auth: identity.NewProvider(registry, bcrypt.MinCost)})

	hash, err := bcrypt.GenerateFromPassword([]byte(testSecret), bcrypt.MinCost)
	req.NoError(err)
	alice := user.Identity{ID: "alice", Role: user.RoleMember, SecretHash: hash}
	kicked := alice
	kicked.Kicked = true

	st.EXPECT().RecentMessages(gomock.Any(), DefaultRetention).Return(nil, nil)
	gomock.InOrder(
		st.EXPECT().FindIdentity(gomock.Any(), "alice").Return(alice, nil),
		st.EXPECT().FindIdentity(gomock.Any(), "alice").Return(kicked, nil),
	)
	startRoom(t, room)

	ctx := context.Background()
	_, err = room.Join(ctx, newRecorder("h-alice"), "alice", testSecret)
	req.ErrorIs(err, ErrKicked)

	roster, err := room.Roster(ctx)
	req.NoError(err)
	req.Empty(roster)
}

func TestRoomSessionReplacement(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)
	ctx := context.Background()

	b := f.join(t, "bob")
	first := f.join(t, "alice")
	b.Reset()

	second := newRecorder("h-alice-2")
	_, err := f.room.Join(ctx, second, "alice", testSecret)
	req.NoError(err)

	closed, code := first.Closed()
	req.True(closed)
	req.Equal(CloseSessionReplaced, code)

	req.NoError(f.room.Leave(ctx, first.Handle()))
	for _, ev := range b.Events() {
		if snap, ok := ev.Payload.(PresenceSnapshot); ok {
			req.True(snap.Online, "no offline flap on replacement")
		}
	}

	roster, err := f.room.Roster(ctx)
	req.NoError(err)
	req.Len(roster, 2)
}

func TestRoomMutedSendChangesNothing(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)
	ctx := context.Background()

	owner := f.join(t, "owner")
	a := f.join(t, "alice")
	b := f.join(t, "bob")

	_, err := f.room.Moderate(ctx, ByHandle(owner.Handle()), ModerationRequest{
		Action: ActionMute, Target: "alice", DurationSeconds: 60,
	})
	req.NoError(err)
	a.Reset()
	b.Reset()

	_, err = f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: "let me speak"})
	req.ErrorIs(err, ErrMuted)
	req.Empty(a.Events())
	req.Empty(b.Events())
	persisted, err := f.store.RecentMessages(ctx, 10)
	req.NoError(err)
	req.Empty(persisted)

	f.clock.Advance(time.Minute)
	msg, err := f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: "back"})
	req.NoError(err)
	req.Equal("back", msg.Body)

	stored, err := f.registry.Find(ctx, "alice")
	req.NoError(err)
	req.False(stored.Mute.Set())
}

func TestRoomSendValidation(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)
	ctx := context.Background()
	a := f.join(t, "alice")

	_, err := f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: "   "})
	req.ErrorIs(err, ErrInvalidMessage)
	_, err = f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: string(make([]byte, 101))})
	req.ErrorIs(err, ErrInvalidMessage)
	_, err = f.room.Send(ctx, ByHandle("h-ghost"), SendInput{Body: "boo"})
	req.ErrorIs(err, ErrSessionNotFound)
	_, err = f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: "secret", Restricted: true})
	req.ErrorIs(err, ErrForbidden)
}

func TestRoomAckGoesToSenderOnly(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)
	ctx := context.Background()
	a := f.join(t, "alice")
	b := f.join(t, "bob")

	msg, err := f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: "hi", TempID: "tmp-1"})
	req.NoError(err)

	ev, ok := a.Last(TypeAck)
	req.True(ok)
	req.Equal(AckPayload{TempID: "tmp-1", ID: msg.ID, Timestamp: msg.CreatedAt.UnixMilli()}, ev.Payload)
	_, ok = b.Last(TypeAck)
	req.False(ok)
}

func TestRoomRestrictedVisibility(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)
	ctx := context.Background()
	owner := f.join(t, "owner")
	a := f.join(t, "alice")
	a.Reset()

	_, err := f.room.Send(ctx, ByHandle(owner.Handle()), SendInput{Body: "staff only", Restricted: true})
	req.NoError(err)

	_, ok := owner.Last(TypeMessagePosted)
	req.True(ok)
	req.Empty(a.Events())

	recent, err := f.room.Recent(ctx, ByIdentity("alice"), 10)
	req.NoError(err)
	req.Empty(recent)
	recent, err = f.room.Recent(ctx, ByIdentity("owner"), 10)
	req.NoError(err)
	req.Len(recent, 1)
}

func TestRoomCensor(t *testing.T) {
	req := require.New(t)
	c, err := censor.New([]string{"darn"})
	req.NoError(err)
	f := newRoomFixture(t, func(_ *Config, deps *Deps) { deps.Censor = c })

	a := f.join(t, "alice")
	msg, err := f.room.Send(context.Background(), ByHandle(a.Handle()), SendInput{Body: "oh darn it"})
	req.NoError(err)
	req.Equal("oh **** it", msg.Body)
}

func TestRoomRename(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)
	ctx := context.Background()
	a := f.join(t, "alice")
	b := f.join(t, "bob")
	_, err := f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: "hello"})
	req.NoError(err)

	_, err = f.room.Rename(ctx, ByHandle(a.Handle()), "BOB")
	req.ErrorIs(err, identity.ErrNameConflict)
	_, ok := b.Last(TypeIdentityRenamed)
	req.False(ok)

	renamed, err := f.room.Rename(ctx, ByHandle(a.Handle()), "carol")
	req.NoError(err)
	req.Equal("carol", renamed.ID)

	ev, ok := b.Last(TypeIdentityRenamed)
	req.True(ok)
	req.Equal(RenamedPayload{OldID: "alice", NewID: "carol"}, ev.Payload)

	recent, err := f.room.Recent(ctx, ByHandle(a.Handle()), 10)
	req.NoError(err)
	req.Equal("carol", recent[0].AuthorID)

	msg, err := f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: "new name"})
	req.NoError(err)
	req.Equal("carol", msg.AuthorID)
}

func TestRoomRenameStoreUnavailable(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	registry := identity.NewRegistry(st, nil)
	room := NewRoom(Config{}, Deps{Store: st, Registry: registry, Auth: identity.NewProvider(registry, bcrypt.MinCost)})

	st.EXPECT().RecentMessages(gomock.Any(), DefaultRetention).
		Return([]store.Message{{ID: "m1", AuthorID: "alice", Body: "hello"}}, nil)
	st.EXPECT().FindIdentity(gomock.Any(), "alice").Return(user.Identity{ID: "alice", Role: user.RoleMember}, nil)
	st.EXPECT().RenameIdentity(gomock.Any(), "alice", "carol").
		Return(0, fmt.Errorf("rename: %w", store.ErrStoreUnavailable))
	startRoom(t, room)

	ctx := context.Background()
	a := newRecorder("h-alice")
	_, err := room.JoinIdentity(ctx, a, "alice")
	req.NoError(err)

	_, err = room.Rename(ctx, ByHandle(a.Handle()), "carol")
	req.ErrorIs(err, store.ErrStoreUnavailable)
	_, ok := a.Last(TypeIdentityRenamed)
	req.False(ok)

	recent, err := room.Recent(ctx, ByHandle(a.Handle()), 10)
	req.NoError(err)
	req.Equal("alice", recent[0].AuthorID)

	roster, err := room.Roster(ctx)
	req.NoError(err)
	req.Equal("alice", roster[0].IdentityID)
}

func TestRoomUpdateProfile(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)
	ctx := context.Background()
	a := f.join(t, "alice")
	b := f.join(t, "bob")

	profile := user.Profile{Bio: "hello there", DisplayImage: "https://img.example/a.png"}
	updated, err := f.room.UpdateProfile(ctx, ByIdentity("alice"), profile)
	req.NoError(err)
	req.Equal(profile, updated.Profile)

	ev, ok := b.Last(TypeProfileUpdated)
	req.True(ok)
	snap := ev.Payload.(PresenceSnapshot)
	req.True(snap.Online)
	req.Equal(profile, snap.Profile)

	msg, err := f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: "with avatar"})
	req.NoError(err)
	req.Equal(profile.DisplayImage, msg.AuthorAvatar)
}

func TestRoomDeveloperPurge(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)
	ctx := context.Background()
	owner := f.join(t, "owner")
	a := f.join(t, "alice")
	b := f.join(t, "bob")

	_, err := f.room.Moderate(ctx, ByHandle(owner.Handle()), ModerationRequest{
		Action: ActionRank, Target: "bob", Role: user.RoleDeveloper,
	})
	req.NoError(err)

	for i := range 3 {
		_, err := f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: fmt.Sprintf("m%d", i)})
		req.NoError(err)
	}

	_, err = f.room.Moderate(ctx, ByHandle(a.Handle()), ModerationRequest{Action: ActionPurge})
	req.ErrorIs(err, ErrForbidden)

	res, err := f.room.Moderate(ctx, ByHandle(b.Handle()), ModerationRequest{Action: ActionPurge})
	req.NoError(err)
	req.Equal(3, res.Removed)

	for _, obs := range []*recorder{owner, a, b} {
		_, ok := obs.Last(TypeChatCleared)
		req.True(ok, obs.Handle())
	}
	for _, id := range []string{"owner", "alice", "bob"} {
		recent, err := f.room.Recent(ctx, ByIdentity(id), 10)
		req.NoError(err)
		req.Empty(recent)
	}
	persisted, err := f.store.RecentMessages(ctx, 100)
	req.NoError(err)
	req.Empty(persisted)
}

func TestRoomKickAndDelete(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)
	ctx := context.Background()
	owner := f.join(t, "owner")
	a := f.join(t, "alice")
	b := f.join(t, "bob")
	_, err := f.room.Send(ctx, ByHandle(b.Handle()), SendInput{Body: "bye"})
	req.NoError(err)

	res, err := f.room.Moderate(ctx, ByHandle(owner.Handle()), ModerationRequest{Action: ActionKick, Target: "alice"})
	req.NoError(err)
	req.True(res.Subject.Kicked)
	req.Nil(res.Subject.SecretHash)

	closed, code := a.Closed()
	req.True(closed)
	req.Equal(CloseKicked, code)
	_, ok := owner.Last(TypeAck)
	req.True(ok)

	_, err = f.room.Join(ctx, newRecorder("h-alice-2"), "alice", testSecret)
	req.ErrorIs(err, ErrKicked)

	_, err = f.room.Moderate(ctx, ByIdentity("owner"), ModerationRequest{Action: ActionDelete, Target: "bob"})
	req.NoError(err)
	closed, _ = b.Closed()
	req.True(closed)

	recent, err := f.room.Recent(ctx, ByIdentity("owner"), 10)
	req.NoError(err)
	req.Equal(user.TombstoneID, recent[0].AuthorID)
	_, err = f.registry.Find(ctx, "bob")
	req.ErrorIs(err, store.ErrNotFound)

	roster, err := f.room.Roster(ctx)
	req.NoError(err)
	req.Len(roster, 1)
}

func TestRoomLogout(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)
	ctx := context.Background()
	a := f.join(t, "alice")
	b := f.join(t, "bob")

	req.NoError(f.room.Logout(ctx, a.Handle()))
	closed, code := a.Closed()
	req.True(closed)
	req.Equal(1000, code)

	ev, ok := b.Last(TypePresenceChanged)
	req.True(ok)
	req.False(ev.Payload.(PresenceSnapshot).Online)
}

func TestRoomResponderReply(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	resp := mocks.NewMockResponder(ctrl)
	f := newRoomFixture(t, func(_ *Config, deps *Deps) { deps.Responder = resp })
	ctx := context.Background()

	resp.EXPECT().
		Generate(gomock.Any(), "@AI what time is it?", gomock.Any()).
		DoAndReturn(func(_ context.Context, prompt string, window []store.Message) (string, error) {
			for _, m := range window {
				if m.Body == prompt {
					return "saw the prompt twice", nil
				}
			}
			return fmt.Sprintf("I can see %d messages.", len(window)), nil
		})

	a := f.join(t, "alice")
	_, err := f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: "good morning"})
	req.NoError(err)
	_, err = f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: "@AI what time is it?"})
	req.NoError(err)

	req.Eventually(func() bool {
		ev, ok := a.Last(TypeMessagePosted)
		return ok && ev.Payload.(store.Message).AuthorID == "assistant"
	}, time.Second, 10*time.Millisecond)

	ev, _ := a.Last(TypeMessagePosted)
	reply := ev.Payload.(store.Message)
	req.Equal("I can see 1 messages.", reply.Body)
	req.Equal(user.RoleBot, reply.AuthorRole)
}

func TestRoomResponderReplyDroppedAfterLeave(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	resp := mocks.NewMockResponder(ctrl)
	f := newRoomFixture(t, func(_ *Config, deps *Deps) { deps.Responder = resp })
	ctx := context.Background()

	release := make(chan struct{})
	returned := make(chan struct{})
	resp.EXPECT().
		Generate(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string, []store.Message) (string, error) {
			<-release
			defer close(returned)
			return "too late", nil
		})

	a := f.join(t, "alice")
	_, err := f.room.Send(ctx, ByHandle(a.Handle()), SendInput{Body: "@ai ping"})
	req.NoError(err)
	req.NoError(f.room.Leave(ctx, a.Handle()))
	close(release)
	<-returned

	req.Never(func() bool {
		recent, err := f.room.Recent(ctx, ByIdentity("owner"), 10)
		return err != nil || len(recent) != 1
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestRoomStoreUnavailable(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	registry := identity.NewRegistry(st, nil)
	room := NewRoom(Config{}, Deps{Store: st, Registry: registry, Auth: identity.NewProvider(registry, bcrypt.MinCost)})

	st.EXPECT().RecentMessages(gomock.Any(), DefaultRetention).Return(nil, nil)
	st.EXPECT().FindIdentity(gomock.Any(), "alice").Return(user.Identity{ID: "alice", Role: user.RoleMember}, nil)
	st.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).Return(fmt.Errorf("insert: %w", store.ErrStoreUnavailable))
	startRoom(t, room)

	obs := newRecorder("h1")
	ctx := context.Background()
	_, err := room.JoinIdentity(ctx, obs, "alice")
	req.NoError(err)

	_, err = room.Send(ctx, ByHandle("h1"), SendInput{Body: "hello"})
	req.ErrorIs(err, store.ErrStoreUnavailable)
	req.Equal([]EventType{TypeJoined}, obs.Types())

	roster, err := room.Roster(ctx)
	req.NoError(err)
	req.Len(roster, 1)
}

func TestRoomClosed(t *testing.T) {
	req := require.New(t)
	f := newRoomFixture(t, nil)
	a := f.join(t, "alice")

	f.room.Stop()
	<-f.room.Done()

	closed, code := a.Closed()
	req.True(closed)
	req.Equal(1001, code)
	_, err := f.room.Roster(context.Background())
	req.ErrorIs(err, ErrRoomClosed)
}
