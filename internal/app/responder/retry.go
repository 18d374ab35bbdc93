package responder

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"relay/internal/app/store"
	"relay/internal/pkg/logx"
)

const (
	// DefaultFallback is posted when every attempt fails.
	DefaultFallback = "Sorry, I can't answer right now. Please try again later."

	// DefaultBaseDelay is the first backoff step when none is given.
	DefaultBaseDelay = time.Second
)

// Retrying retries a Responder with exponential backoff (base delay, doubling) and
// falls back to a canned reply once attempts are exhausted.
type Retrying struct {
	inner    Responder
	attempts uint64
	base     time.Duration
	fallback string
}

// NewRetrying wraps inner. attempts counts the first call; it is clamped to at least 1.
// A non-positive base falls back to DefaultBaseDelay.
func NewRetrying(inner Responder, attempts int, base time.Duration, fallback string) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if fallback == "" {
		fallback = DefaultFallback
	}
	return &Retrying{inner: inner, attempts: uint64(attempts), base: base, fallback: fallback}
}

// Generate returns the inner reply, or the fallback together with an error wrapping
// ErrResponderUnavailable. A cancelled ctx returns ctx.Err() and no reply.
func (r *Retrying) Generate(ctx context.Context, prompt string, window []store.Message) (string, error) {
	log := logx.Component("responder")

	var (
		reply   string
		attempt int
	)
	backoff := retry.WithMaxRetries(r.attempts-1, retry.NewExponential(r.base))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		out, err := r.inner.Generate(ctx, prompt, window)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Responder attempt failed")
			return retry.RetryableError(err)
		}
		reply = out
		return nil
	})

	if err == nil {
		return reply, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return r.fallback, fmt.Errorf("%w after %d attempts: %v", ErrResponderUnavailable, attempt, err)
}

var _ Responder = (*Retrying)(nil)
