/*
Package responder generates the assistant's replies to triggered messages.

OpenAI talks to a chat-completions endpoint; Retrying wraps any Responder with
exponential backoff and a fallback reply.
*/
package responder

//go:generate mockgen -destination=../../mocks/responder_mock.go -package=mocks relay/internal/app/responder Responder

import (
	"context"

	"relay/internal/app/store"
	"relay/internal/pkg/errs"
)

// ErrResponderUnavailable is returned once every attempt to generate a reply has failed.
var ErrResponderUnavailable = errs.NewSentinel(errs.ErrResponderUnavailable, "responder unavailable")

// Responder produces a reply to prompt given the recent conversation, oldest message first.
// The window holds the messages before the prompt, not the prompt itself.
type Responder interface {
	Generate(ctx context.Context, prompt string, window []store.Message) (string, error)
}
