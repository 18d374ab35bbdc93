/*
Package pow implements the Proof-of-Work gate placed in front of account registration.

A client asks for a nonce, searches for a counter whose SHA-256(nonce+counter) hex digest starts
with the configured number of zeros, and trades the proof for a short-lived single-use token.
*/
package pow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// TokenHeaderKey is the HTTP header key used by the client to send the Proof Token.
	TokenHeaderKey = "X-PoW-Token"

	// ProofTokenDuration is the validity period for the Proof Token issued after successful validation.
	ProofTokenDuration = 30 * time.Second

	// NonceExpiryDuration is the validity period for the challenge Nonce.
	NonceExpiryDuration = 5 * time.Minute
)

var (
	ErrNonceInvalid  = errors.New("nonce expired or invalid")
	ErrProofTooWeak  = errors.New("proof does not meet difficulty requirement")
	ErrNonceConsumed = errors.New("nonce consumed by concurrent request")
)

// Manager tracks outstanding nonces and issued proof tokens.
type Manager struct {
	difficulty int
	now        func() time.Time

	mu         sync.Mutex
	nonceStore map[string]time.Time
	tokenStore map[string]time.Time
}

// NewManager creates a Manager whose cleanup loop runs until ctx is done.
func NewManager(ctx context.Context, difficulty int) *Manager {
	mgr := newManager(difficulty, time.Now)
	go mgr.cleanupExpiredEntries(ctx)
	return mgr
}

func newManager(difficulty int, now func() time.Time) *Manager {
	return &Manager{
		difficulty: difficulty,
		now:        now,
		nonceStore: make(map[string]time.Time),
		tokenStore: make(map[string]time.Time),
	}
}

// Difficulty returns the number of leading hex zeros a proof must have.
func (m *Manager) Difficulty() int {
	return m.difficulty
}

// GenerateNonce issues a new challenge nonce.
func (m *Manager) GenerateNonce() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	nonce := uuid.New().String()
	m.nonceStore[nonce] = m.now().Add(NonceExpiryDuration)
	return nonce
}

// Solves reports whether counter solves nonce at difficulty.
func Solves(nonce, counter string, difficulty int) bool {
	hash := sha256.Sum256([]byte(nonce + counter))
	return strings.HasPrefix(hex.EncodeToString(hash[:]), strings.Repeat("0", difficulty))
}

// ValidateProof consumes nonce if counter solves it and returns a fresh proof token.
func (m *Manager) ValidateProof(nonce, counter string) (string, error) {
	if !Solves(nonce, counter, m.difficulty) {
		return "", ErrProofTooWeak
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.nonceStore[nonce]
	if !ok {
		return "", ErrNonceConsumed
	}
	delete(m.nonceStore, nonce)
	if m.now().After(expiry) {
		return "", ErrNonceInvalid
	}

	token := uuid.New().String()
	m.tokenStore[token] = m.now().Add(ProofTokenDuration)
	return token, nil
}

// ConsumeToken validates the proof token carried by r (header or pow_token query
// parameter) and removes it so it cannot be replayed.
func (m *Manager) ConsumeToken(r *http.Request) bool {
	token := r.Header.Get(TokenHeaderKey)
	if token == "" {
		token = r.URL.Query().Get("pow_token")
	}
	if token == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.tokenStore[token]
	if !ok {
		return false
	}
	delete(m.tokenStore, token)

	return !m.now().After(expiry)
}

func (m *Manager) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for nonce, expiry := range m.nonceStore {
		if now.After(expiry) {
			delete(m.nonceStore, nonce)
		}
	}
	for token, expiry := range m.tokenStore {
		if now.After(expiry) {
			delete(m.tokenStore, token)
		}
	}
}

func (m *Manager) cleanupExpiredEntries(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.prune()
		}
	}
}
