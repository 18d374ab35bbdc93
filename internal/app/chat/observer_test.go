package chat

import (
	"errors"
	"sync"
)

// recorder is an in-memory Observer for tests.
type recorder struct {
	handle string

	mu        sync.Mutex
	events    []Event
	fail      bool
	closed    bool
	closeCode int
	done      chan struct{}
}

func newRecorder(handle string) *recorder {
	return &recorder{handle: handle, done: make(chan struct{})}
}

func (r *recorder) Handle() string { return r.handle }

func (r *recorder) Deliver(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail || r.closed {
		return errors.New("queue full")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close(code int, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.closeCode = code
	close(r.done)
}

func (r *recorder) Done() <-chan struct{} { return r.done }

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) Types() []EventType {
	var out []EventType
	for _, ev := range r.Events() {
		out = append(out, ev.Type)
	}
	return out
}

// Last returns the most recent event of type t.
func (r *recorder) Last(t EventType) (Event, bool) {
	events := r.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == t {
			return events[i], true
		}
	}
	return Event{}, false
}

func (r *recorder) Closed() (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed, r.closeCode
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
