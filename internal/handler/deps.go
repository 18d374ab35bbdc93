package handler

import (
	"relay/internal/app/chat"
	"relay/internal/app/identity"
	"relay/internal/app/storage"
	"relay/internal/configs"
	"relay/internal/pkg/auth/jwt"
	"relay/internal/pkg/pow"
)

// AppDeps carries everything the handlers need.
type AppDeps struct {
	Room     *chat.Room
	Registry *identity.Registry
	Auth     identity.AuthProvider
	Pow      *pow.Manager
	Config   *configs.AppConfig

	// Storage is nil when avatar uploads are not configured.
	Storage storage.StorageService
}

// issueToken signs a login token for id.
func (d *AppDeps) issueToken(id string, role string) (string, error) {
	return jwt.GenerateToken(&jwt.Payload{ID: id, Role: role}, d.Config.JWTSecret, jwt.IdentityExpiration)
}
