package chat

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"relay/internal/app/store"
	"relay/internal/mocks"
	"relay/internal/pkg/errs"
)

func TestMessageLogEvictsOldest(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	clock := newFakeClock()
	log := NewMessageLog(store.NewMemory(), 5, 3, clock.Now)

	for i := range 8 {
		_, err := log.Append(ctx, store.Message{AuthorID: "alice", Body: fmt.Sprintf("m%d", i)})
		req.NoError(err)
	}

	req.Equal(5, log.Len())
	all := log.Recent(10)
	req.Len(all, 5)
	for i, m := range all {
		req.Equal(fmt.Sprintf("m%d", i+3), m.Body)
	}

	window := log.Recent(0)
	req.Len(window, 3)
	req.Equal("m5", window[0].Body)
	req.Equal("m7", window[2].Body)
}

func TestMessageLogAppendStampsMessage(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	log := NewMessageLog(store.NewMemory(), 0, 0, clock.Now)

	m, err := log.Append(context.Background(), store.Message{AuthorID: "alice", Body: "hi"})
	req.NoError(err)
	req.NotEmpty(m.ID)
	req.Equal(clock.Now(), m.CreatedAt)
	req.Equal(store.VisibilityPublic, m.Visibility)
	req.Equal(DefaultRecentWindow, log.Window())
}

func TestMessageLogRecentVisible(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	log := NewMessageLog(store.NewMemory(), 10, 10, newFakeClock().Now)

	_, err := log.Append(ctx, store.Message{AuthorID: "alice", Body: "public"})
	req.NoError(err)
	_, err = log.Append(ctx, store.Message{AuthorID: "owner", Body: "staff", Visibility: store.VisibilityRestricted})
	req.NoError(err)

	req.Len(log.RecentVisible(10, true), 2)
	visible := log.RecentVisible(10, false)
	req.Len(visible, 1)
	req.Equal("public", visible[0].Body)
}

func TestMessageLogReattributeAndPurge(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	st := store.NewMemory()
	log := NewMessageLog(st, 10, 10, newFakeClock().Now)

	for _, author := range []string{"alice", "bob", "alice"} {
		_, err := log.Append(ctx, store.Message{AuthorID: author, Body: "x"})
		req.NoError(err)
	}

	log.Reattribute("alice", "carol", "https://img.example/c.png")
	for _, m := range log.Recent(10) {
		req.NotEqual("alice", m.AuthorID)
	}
	req.Equal("https://img.example/c.png", log.Recent(10)[0].AuthorAvatar)

	n, err := log.Purge(ctx, store.MessageFilter{AuthorID: "bob"})
	req.NoError(err)
	req.Equal(1, n)
	req.Equal(2, log.Len())

	n, err = log.Purge(ctx, store.MessageFilter{})
	req.NoError(err)
	req.Equal(2, n)
	req.Empty(log.Recent(10))

	persisted, err := st.RecentMessages(ctx, 10)
	req.NoError(err)
	req.Empty(persisted)
}

func TestMessageLogLoad(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	st := store.NewMemory()
	first := NewMessageLog(st, 3, 3, newFakeClock().Now)
	for i := range 4 {
		_, err := first.Append(ctx, store.Message{AuthorID: "alice", Body: fmt.Sprintf("m%d", i)})
		req.NoError(err)
	}

	second := NewMessageLog(st, 3, 3, newFakeClock().Now)
	req.NoError(second.Load(ctx))
	req.Equal(3, second.Len())
	req.Equal("m1", second.Recent(3)[0].Body)
}

func TestMessageLogStoreUnavailable(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	log := NewMessageLog(st, 10, 10, newFakeClock().Now)

	unavailable := fmt.Errorf("append: %w", store.ErrStoreUnavailable)
	st.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).Return(unavailable)

	_, err := log.Append(context.Background(), store.Message{AuthorID: "alice", Body: "hi"})
	req.ErrorIs(err, store.ErrStoreUnavailable)
	req.Equal(errs.ErrStoreUnavailable, errs.FromDomain(err).Code)
	req.Zero(log.Len())

	st.EXPECT().PurgeMessages(gomock.Any(), gomock.Any()).Return(0, unavailable)
	_, err = log.Purge(context.Background(), store.MessageFilter{})
	req.ErrorIs(err, store.ErrStoreUnavailable)
}
