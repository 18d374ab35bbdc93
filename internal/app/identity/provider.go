package identity

import (
	"context"
	"errors"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"relay/internal/app/store"
	"relay/internal/app/user"
	"relay/internal/pkg/errs"
)

var (
	// ErrUnknownIdentity is the NotFound flavour of an authentication failure.
	ErrUnknownIdentity = errs.NewSentinel(errs.ErrInvalidCredentials, "unknown identity")

	// ErrBadSecret is the wrong-secret flavour of an authentication failure.
	ErrBadSecret = errs.NewSentinel(errs.ErrInvalidCredentials, "bad secret")

	// ErrInvalidSecret is returned at registration for secrets outside the length bounds.
	ErrInvalidSecret = errs.NewSentinel(errs.ErrInvalidPassword, "invalid secret")
)

const (
	minSecretLen = 8
	maxSecretLen = 72
)

// AuthProvider verifies credentials and registers new identities.
type AuthProvider interface {
	Verify(ctx context.Context, id, secret string) (user.Identity, error)
	Register(ctx context.Context, id, secret string, profile user.Profile) (user.Identity, error)
}

// Provider is the bcrypt-backed AuthProvider.
type Provider struct {
	registry *Registry
	cost     int
}

// NewProvider creates a Provider hashing with the given bcrypt cost (bcrypt.DefaultCost in production).
func NewProvider(registry *Registry, cost int) *Provider {
	return &Provider{registry: registry, cost: cost}
}

// Verify checks secret against the stored hash. Store failures pass through unchanged.
func (p *Provider) Verify(ctx context.Context, id, secret string) (user.Identity, error) {
	ident, err := p.registry.Find(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return user.Identity{}, ErrUnknownIdentity
		}
		return user.Identity{}, err
	}

	if len(ident.SecretHash) == 0 {
		return user.Identity{}, ErrBadSecret
	}
	if err := bcrypt.CompareHashAndPassword(ident.SecretHash, []byte(secret)); err != nil {
		return user.Identity{}, ErrBadSecret
	}

	return ident, nil
}

// Register hashes secret and creates the identity.
func (p *Provider) Register(ctx context.Context, id, secret string, profile user.Profile) (user.Identity, error) {
	if n := utf8.RuneCountInString(secret); n < minSecretLen || len(secret) > maxSecretLen {
		return user.Identity{}, ErrInvalidSecret
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), p.cost)
	if err != nil {
		return user.Identity{}, err
	}

	return p.registry.Create(ctx, id, hash, profile)
}

var _ AuthProvider = (*Provider)(nil)
