package chat

import (
	"context"
	"time"

	"github.com/samber/lo"

	"relay/internal/app/store"
	"relay/internal/pkg/randx"
)

const (
	// DefaultRetention is the number of messages kept in memory.
	DefaultRetention = 200

	// DefaultRecentWindow is the size of the window sent on join.
	DefaultRecentWindow = 50
)

// MessageLog is the bounded, ordered, in-memory view of the chat history, written through to the Store.
// It is owned by the room event loop and is not safe for concurrent use.
type MessageLog struct {
	store     store.Store
	retention int
	window    int
	entries   []store.Message
	now       func() time.Time
}

// NewMessageLog returns an empty log. Non-positive sizes fall back to the defaults.
func NewMessageLog(s store.Store, retention, window int, now func() time.Time) *MessageLog {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if window <= 0 {
		window = DefaultRecentWindow
	}
	return &MessageLog{
		store:     s,
		retention: retention,
		window:    window,
		entries:   make([]store.Message, 0, retention),
		now:       now,
	}
}

// Load replaces the in-memory log with the newest persisted messages.
func (l *MessageLog) Load(ctx context.Context) error {
	msgs, err := l.store.RecentMessages(ctx, l.retention)
	if err != nil {
		return err
	}
	l.entries = append(l.entries[:0], msgs...)
	return nil
}

// Window returns the configured recent window size.
func (l *MessageLog) Window() int { return l.window }

// Append stamps m, persists it and inserts it at the tail, evicting from the head over the cap.
// Nothing changes in memory when the store rejects the write.
func (l *MessageLog) Append(ctx context.Context, m store.Message) (store.Message, error) {
	if m.ID == "" {
		m.ID = randx.MessageID()
	}
	if m.Visibility == "" {
		m.Visibility = store.VisibilityPublic
	}
	m.CreatedAt = l.now().UTC()

	if err := l.store.AppendMessage(ctx, m); err != nil {
		return store.Message{}, err
	}

	l.entries = append(l.entries, m)
	if over := len(l.entries) - l.retention; over > 0 {
		l.entries = append(l.entries[:0], l.entries[over:]...)
	}
	return m, nil
}

// Recent returns at most n messages, oldest first. n <= 0 means the recent window.
func (l *MessageLog) Recent(n int) []store.Message {
	return tail(l.entries, l.clamp(n))
}

// RecentVisible is Recent restricted to what the viewer may read.
func (l *MessageLog) RecentVisible(n int, staff bool) []store.Message {
	if staff {
		return l.Recent(n)
	}
	visible := lo.Filter(l.entries, func(m store.Message, _ int) bool {
		return m.Visibility != store.VisibilityRestricted
	})
	return tail(visible, l.clamp(n))
}

// Reattribute moves every in-memory message by oldID to newID and avatar. The store applies
// the same change as part of the identity rename or delete that triggers it.
func (l *MessageLog) Reattribute(oldID, newID, avatar string) {
	for i := range l.entries {
		if l.entries[i].AuthorID == oldID {
			l.entries[i].AuthorID = newID
			l.entries[i].AuthorAvatar = avatar
		}
	}
}

// Purge removes every message matched by f, in the store and in memory, and returns the number
// removed from the store.
func (l *MessageLog) Purge(ctx context.Context, f store.MessageFilter) (int, error) {
	n, err := l.store.PurgeMessages(ctx, f)
	if err != nil {
		return 0, err
	}
	l.entries = lo.Reject(l.entries, func(m store.Message, _ int) bool { return f.Match(m) })
	return n, nil
}

// Len returns the number of messages held in memory.
func (l *MessageLog) Len() int { return len(l.entries) }

func (l *MessageLog) clamp(n int) int {
	switch {
	case n <= 0:
		return l.window
	case n > l.retention:
		return l.retention
	}
	return n
}

func tail(msgs []store.Message, n int) []store.Message {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]store.Message, len(msgs))
	copy(out, msgs)
	return out
}
