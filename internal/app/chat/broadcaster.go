package chat

import (
	"sync"

	"github.com/rs/zerolog"

	"relay/internal/pkg/logx"
)

// Custom websocket close codes (4000-4999 range).
const (
	// CloseSessionReplaced tells a client its identity joined again from another connection.
	CloseSessionReplaced = 4001

	// CloseKicked tells a client its identity was kicked or deleted by a moderator.
	CloseKicked = 4003

	// CloseLivenessTimeout tells a client it was swept for missing heartbeats.
	CloseLivenessTimeout = 4008

	// CloseSlowConsumer tells a client its outbound queue overflowed.
	CloseSlowConsumer = 4009
)

// Observer is one connection that receives events. Deliver must not block: it queues the event
// and reports an error when the queue is full or the connection is gone. Events delivered to one
// observer are written in Deliver order.
type Observer interface {
	Handle() string
	Deliver(ev Event) error
	Close(code int, reason string)
	Done() <-chan struct{}
}

// Broadcaster fans events out to the attached observers.
type Broadcaster struct {
	mu        sync.RWMutex
	observers map[string]Observer
	logger    zerolog.Logger
}

// NewBroadcaster returns a Broadcaster with no observers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		observers: make(map[string]Observer),
		logger:    logx.Component("broadcaster"),
	}
}

// Attach registers o under its handle, replacing any observer with the same handle.
func (b *Broadcaster) Attach(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[o.Handle()] = o
}

// Detach removes and returns the observer for handle.
func (b *Broadcaster) Detach(handle string) (Observer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.observers[handle]
	if ok {
		delete(b.observers, handle)
	}
	return o, ok
}

// Get returns the observer for handle.
func (b *Broadcaster) Get(handle string) (Observer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.observers[handle]
	return o, ok
}

// Len returns the number of attached observers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Publish delivers ev to every observer and returns the handles whose delivery failed.
func (b *Broadcaster) Publish(ev Event) []string {
	return b.PublishWhere(ev, func(string) bool { return true })
}

// PublishTo delivers ev only to the listed handles.
func (b *Broadcaster) PublishTo(ev Event, handles ...string) []string {
	set := make(map[string]struct{}, len(handles))
	for _, h := range handles {
		set[h] = struct{}{}
	}
	return b.PublishWhere(ev, func(h string) bool {
		_, ok := set[h]
		return ok
	})
}

// PublishWhere delivers ev to every observer whose handle satisfies keep. Delivery is best-effort
// and at-most-once: an observer that cannot take the event is closed and left for its own
// disconnect path to clean up, and delivery to the others continues.
func (b *Broadcaster) PublishWhere(ev Event, keep func(handle string) bool) []string {
	b.mu.RLock()
	targets := make([]Observer, 0, len(b.observers))
	for h, o := range b.observers {
		if keep(h) {
			targets = append(targets, o)
		}
	}
	b.mu.RUnlock()

	var failed []string
	for _, o := range targets {
		if err := o.Deliver(ev); err != nil {
			b.logger.Warn().
				Err(err).
				Str("handle", o.Handle()).
				Str("event", string(ev.Type)).
				Msg("Delivery failed, closing observer.")

			failed = append(failed, o.Handle())
			o.Close(CloseSlowConsumer, "delivery failed")
		}
	}
	return failed
}

// CloseAll closes and detaches every observer.
func (b *Broadcaster) CloseAll(code int, reason string) {
	b.mu.Lock()
	observers := b.observers
	b.observers = make(map[string]Observer)
	b.mu.Unlock()

	for _, o := range observers {
		o.Close(code, reason)
	}
}
