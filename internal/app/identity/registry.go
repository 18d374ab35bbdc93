/*
Package identity owns durable identity records: the Registry applies naming and role
policy on top of store.Store, and Provider verifies and registers credentials.
*/
package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"relay/internal/app/store"
	"relay/internal/app/user"
	"relay/internal/pkg/errs"
)

var (
	// ErrNameConflict is returned when a rename targets an identifier owned by another identity.
	ErrNameConflict = errs.NewSentinel(errs.ErrNameTaken, "name already taken")

	// ErrInvalidID is returned for identifiers that fail user.ValidID.
	ErrInvalidID = errs.NewSentinel(errs.ErrInvalidUsername, "invalid identifier")
)

// Registry is the single entry point for reading and mutating identities.
type Registry struct {
	store        store.Store
	developerIDs []string
	now          func() time.Time

	// createMu serializes registrations so exactly one identity can become the first Owner.
	// It also guards systemIDs.
	createMu  sync.Mutex
	systemIDs map[string]struct{}
}

// NewRegistry builds a Registry over s. Identifiers in developerIDs are registered as Developer.
func NewRegistry(s store.Store, developerIDs []string) *Registry {
	ids := make([]string, 0, len(developerIDs))
	for _, id := range developerIDs {
		ids = append(ids, user.NormalizeID(id))
	}
	return &Registry{store: s, developerIDs: ids, now: time.Now, systemIDs: make(map[string]struct{})}
}

// Find returns the identity with the given identifier.
func (r *Registry) Find(ctx context.Context, id string) (user.Identity, error) {
	return r.store.FindIdentity(ctx, user.NormalizeID(id))
}

// initialRole decides the role of a newly registered identity. System identities do not
// count towards the first registration.
func (r *Registry) initialRole(ctx context.Context, id string) (user.Role, error) {
	n, err := r.store.CountIdentities(ctx)
	if err != nil {
		return "", err
	}
	switch {
	case n <= len(r.systemIDs):
		return user.RoleOwner, nil
	case slices.Contains(r.developerIDs, id):
		return user.RoleDeveloper, nil
	default:
		return user.RoleMember, nil
	}
}

// Create registers a new identity with an already hashed secret.
func (r *Registry) Create(ctx context.Context, id string, secretHash []byte, profile user.Profile) (user.Identity, error) {
	id = user.NormalizeID(id)
	if !user.ValidID(id) {
		return user.Identity{}, ErrInvalidID
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	role, err := r.initialRole(ctx, id)
	if err != nil {
		return user.Identity{}, err
	}

	ident := user.Identity{
		ID:         id,
		SecretHash: secretHash,
		Role:       role,
		Profile:    profile,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.store.CreateIdentity(ctx, ident); err != nil {
		return user.Identity{}, err
	}
	return ident, nil
}

// EnsureSystem returns the identity id, creating it with role if missing.
// System identities carry no secret hash and can never log in.
func (r *Registry) EnsureSystem(ctx context.Context, id string, role user.Role) (user.Identity, error) {
	id = user.NormalizeID(id)

	r.createMu.Lock()
	defer r.createMu.Unlock()

	ident, err := r.store.FindIdentity(ctx, id)
	if err == nil {
		r.systemIDs[id] = struct{}{}
		return ident, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return user.Identity{}, err
	}

	ident = user.Identity{ID: id, Role: role, SecretHash: []byte{}, CreatedAt: r.now().UTC()}
	if err := r.store.CreateIdentity(ctx, ident); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return user.Identity{}, err
	}
	r.systemIDs[id] = struct{}{}
	return ident, nil
}

// Save persists changes to an existing identity.
func (r *Registry) Save(ctx context.Context, ident user.Identity) error {
	return r.store.SaveIdentity(ctx, ident)
}

// Rename moves oldID to newID together with the authorship of its persisted messages.
// Renaming to the same identifier is a no-op success.
func (r *Registry) Rename(ctx context.Context, oldID, newID string) (user.Identity, error) {
	oldID, newID = user.NormalizeID(oldID), user.NormalizeID(newID)

	if oldID == newID {
		return r.store.FindIdentity(ctx, oldID)
	}
	if !user.ValidID(newID) {
		return user.Identity{}, ErrInvalidID
	}

	if _, err := r.store.RenameIdentity(ctx, oldID, newID); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return user.Identity{}, fmt.Errorf("rename %s to %s: %w", oldID, newID, ErrNameConflict)
		}
		return user.Identity{}, err
	}
	return r.store.FindIdentity(ctx, newID)
}

// Delete hard-deletes an identity record and hands its persisted messages to user.TombstoneID.
func (r *Registry) Delete(ctx context.Context, id string) error {
	_, err := r.store.DeleteIdentity(ctx, user.NormalizeID(id), user.TombstoneID)
	return err
}

// IsSystem reports whether id was registered through EnsureSystem.
func (r *Registry) IsSystem(id string) bool {
	r.createMu.Lock()
	defer r.createMu.Unlock()
	_, ok := r.systemIDs[user.NormalizeID(id)]
	return ok
}
