// Package storetest is a conformance suite every store.Store backend runs in its own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay/internal/app/store"
	"relay/internal/app/user"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

var base = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func msg(id, author string, offset int) store.Message {
	return store.Message{
		ID:         id,
		AuthorID:   author,
		AuthorRole: user.RoleMember,
		Body:       "body " + id,
		CreatedAt:  base.Add(time.Duration(offset) * time.Second),
		Visibility: store.VisibilityPublic,
	}
}

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("identities", func(t *testing.T) { testIdentities(t, newStore(t)) })
	t.Run("rename", func(t *testing.T) { testRename(t, newStore(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("system identity", func(t *testing.T) { testSystemIdentity(t, newStore(t)) })
	t.Run("delete and purge", func(t *testing.T) { testDeletePurge(t, newStore(t)) })
}

func testIdentities(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	defer s.Close()

	_, err := s.FindIdentity(ctx, "alice")
	req.ErrorIs(err, store.ErrNotFound)

	alice := user.Identity{
		ID:         "alice",
		SecretHash: []byte("hash"),
		Role:       user.RoleOwner,
		Profile:    user.Profile{Bio: "hi", ContactHandle: "@alice"},
		CreatedAt:  base,
	}
	req.NoError(s.CreateIdentity(ctx, alice))
	req.ErrorIs(s.CreateIdentity(ctx, alice), store.ErrAlreadyExists)

	got, err := s.FindIdentity(ctx, "alice")
	req.NoError(err)
	req.Equal("alice", got.ID)
	req.Equal([]byte("hash"), got.SecretHash)
	req.Equal(user.RoleOwner, got.Role)
	req.Equal("hi", got.Profile.Bio)
	req.True(got.CreatedAt.Equal(base))
	req.False(got.Mute.Set())

	got.Mute = user.Mute{Until: base.Add(time.Hour)}
	got.Kicked = true
	req.NoError(s.SaveIdentity(ctx, got))

	again, err := s.FindIdentity(ctx, "alice")
	req.NoError(err)
	req.True(again.Kicked)
	req.True(again.Mute.Until.Equal(base.Add(time.Hour)))
	req.False(again.Mute.Indefinite)

	req.ErrorIs(s.SaveIdentity(ctx, user.Identity{ID: "ghost"}), store.ErrNotFound)

	n, err := s.CountIdentities(ctx)
	req.NoError(err)
	req.Equal(1, n)

	_, err = s.DeleteIdentity(ctx, "alice", user.TombstoneID)
	req.NoError(err)
	_, err = s.DeleteIdentity(ctx, "alice", user.TombstoneID)
	req.ErrorIs(err, store.ErrNotFound)
	n, err = s.CountIdentities(ctx)
	req.NoError(err)
	req.Zero(n)
}

// testSystemIdentity covers identities without a secret, which must round-trip and stay saveable.
func testSystemIdentity(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	defer s.Close()

	req.NoError(s.CreateIdentity(ctx, user.Identity{ID: "assistant", Role: user.RoleBot, CreatedAt: base}))

	bot, err := s.FindIdentity(ctx, "assistant")
	req.NoError(err)
	req.Empty(bot.SecretHash)

	bot.Profile.Bio = "beep"
	bot.Mute = user.Mute{Indefinite: true}
	req.NoError(s.SaveIdentity(ctx, bot))

	again, err := s.FindIdentity(ctx, "assistant")
	req.NoError(err)
	req.Equal("beep", again.Profile.Bio)
	req.True(again.Mute.Indefinite)

	_, err = s.RenameIdentity(ctx, "assistant", "helper")
	req.NoError(err)
}

func testRename(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	defer s.Close()

	req.NoError(s.CreateIdentity(ctx, user.Identity{
		ID:        "alice",
		Role:      user.RoleMember,
		Profile:   user.Profile{DisplayImage: "https://img/alice.png"},
		CreatedAt: base,
	}))
	req.NoError(s.CreateIdentity(ctx, user.Identity{ID: "bob", Role: user.RoleMember, CreatedAt: base}))
	req.NoError(s.AppendMessage(ctx, msg("m0", "alice", 0)))
	req.NoError(s.AppendMessage(ctx, msg("m1", "bob", 1)))
	req.NoError(s.AppendMessage(ctx, msg("m2", "alice", 2)))

	_, err := s.RenameIdentity(ctx, "alice", "bob")
	req.ErrorIs(err, store.ErrAlreadyExists)
	_, err = s.RenameIdentity(ctx, "ghost", "casper")
	req.ErrorIs(err, store.ErrNotFound)

	got, err := s.RecentMessages(ctx, 10)
	req.NoError(err)
	req.Equal("alice", got[0].AuthorID)

	n, err := s.RenameIdentity(ctx, "alice", "carol")
	req.NoError(err)
	req.Equal(2, n)
	_, err = s.FindIdentity(ctx, "alice")
	req.ErrorIs(err, store.ErrNotFound)
	carol, err := s.FindIdentity(ctx, "carol")
	req.NoError(err)
	req.Equal("carol", carol.ID)

	got, err = s.RecentMessages(ctx, 10)
	req.NoError(err)
	req.Equal("carol", got[0].AuthorID)
	req.Equal("https://img/alice.png", got[0].AuthorAvatar)
	req.Equal("bob", got[1].AuthorID)
	req.Equal("carol", got[2].AuthorID)
}

func testMessages(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	defer s.Close()

	got, err := s.RecentMessages(ctx, 10)
	req.NoError(err)
	req.Empty(got)

	for i := range 5 {
		req.NoError(s.AppendMessage(ctx, msg(fmt.Sprintf("m%d", i), "alice", i)))
	}

	got, err = s.RecentMessages(ctx, 3)
	req.NoError(err)
	req.Len(got, 3)
	req.Equal("m2", got[0].ID)
	req.Equal("m4", got[2].ID)
	req.Equal(store.VisibilityPublic, got[0].Visibility)
	req.True(got[2].CreatedAt.Equal(base.Add(4 * time.Second)))

	got, err = s.RecentMessages(ctx, 50)
	req.NoError(err)
	req.Len(got, 5)
}

func testDeletePurge(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	defer s.Close()

	req.NoError(s.CreateIdentity(ctx, user.Identity{ID: "alice", Role: user.RoleMember, CreatedAt: base}))
	req.NoError(s.AppendMessage(ctx, msg("m0", "alice", 0)))
	req.NoError(s.AppendMessage(ctx, msg("m1", "bob", 1)))
	req.NoError(s.AppendMessage(ctx, msg("m2", "alice", 2)))

	n, err := s.DeleteIdentity(ctx, "alice", user.TombstoneID)
	req.NoError(err)
	req.Equal(2, n)

	got, err := s.RecentMessages(ctx, 10)
	req.NoError(err)
	req.Equal(user.TombstoneID, got[0].AuthorID)
	req.Empty(got[0].AuthorAvatar)
	req.Equal("bob", got[1].AuthorID)

	n, err = s.PurgeMessages(ctx, store.MessageFilter{AuthorID: "bob"})
	req.NoError(err)
	req.Equal(1, n)

	n, err = s.PurgeMessages(ctx, store.MessageFilter{Before: base.Add(time.Second)})
	req.NoError(err)
	req.Equal(1, n)

	n, err = s.PurgeMessages(ctx, store.MessageFilter{})
	req.NoError(err)
	req.Equal(1, n)

	got, err = s.RecentMessages(ctx, 10)
	req.NoError(err)
	req.Empty(got)
}
