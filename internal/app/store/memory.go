package store

import (
	"context"
	"slices"
	"sync"

	"relay/internal/app/user"
)

// Memory is a process-local Store. Nothing survives a restart.
type Memory struct {
	mu         sync.RWMutex
	identities map[string]user.Identity
	messages   []Message
	maxMsgs    int
}

// NewMemory returns an empty in-memory store that keeps every message.
func NewMemory() *Memory {
	return NewBoundedMemory(0)
}

// NewBoundedMemory returns an empty in-memory store that keeps only the newest maxMessages
// messages. A non-positive maxMessages keeps everything.
func NewBoundedMemory(maxMessages int) *Memory {
	return &Memory{identities: make(map[string]user.Identity), maxMsgs: max(maxMessages, 0)}
}

func (s *Memory) FindIdentity(_ context.Context, id string) (user.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident, ok := s.identities[id]
	if !ok {
		return user.Identity{}, ErrNotFound
	}
	return ident.Clone(), nil
}

func (s *Memory) CreateIdentity(_ context.Context, ident user.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[ident.ID]; ok {
		return ErrAlreadyExists
	}
	s.identities[ident.ID] = ident.Clone()
	return nil
}

func (s *Memory) SaveIdentity(_ context.Context, ident user.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[ident.ID]; !ok {
		return ErrNotFound
	}
	s.identities[ident.ID] = ident.Clone()
	return nil
}

func (s *Memory) RenameIdentity(_ context.Context, oldID, newID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[oldID]
	if !ok {
		return 0, ErrNotFound
	}
	if _, taken := s.identities[newID]; taken {
		return 0, ErrAlreadyExists
	}

	delete(s.identities, oldID)
	ident.ID = newID
	s.identities[newID] = ident
	return s.reattribute(oldID, newID, ident.Profile.DisplayImage), nil
}

func (s *Memory) DeleteIdentity(_ context.Context, id, tombstoneID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[id]; !ok {
		return 0, ErrNotFound
	}
	delete(s.identities, id)
	return s.reattribute(id, tombstoneID, ""), nil
}

// reattribute must be called with mu held.
func (s *Memory) reattribute(oldID, newID, avatar string) int {
	n := 0
	for i := range s.messages {
		if s.messages[i].AuthorID == oldID {
			s.messages[i].AuthorID = newID
			s.messages[i].AuthorAvatar = avatar
			n++
		}
	}
	return n
}

func (s *Memory) CountIdentities(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.identities), nil
}

func (s *Memory) AppendMessage(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, m)
	if s.maxMsgs > 0 && len(s.messages) > s.maxMsgs {
		drop := len(s.messages) - s.maxMsgs
		clear(s.messages[:drop])
		s.messages = slices.Clone(s.messages[drop:])
	}
	return nil
}

func (s *Memory) RecentMessages(_ context.Context, n int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return []Message{}, nil
	}
	start := max(len(s.messages)-n, 0)
	out := make([]Message, len(s.messages)-start)
	copy(out, s.messages[start:])
	return out, nil
}

func (s *Memory) PurgeMessages(_ context.Context, f MessageFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.messages[:0]
	for _, m := range s.messages {
		if !f.Match(m) {
			kept = append(kept, m)
		}
	}
	n := len(s.messages) - len(kept)
	clear(s.messages[len(kept):])
	s.messages = kept
	return n, nil
}

func (s *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
