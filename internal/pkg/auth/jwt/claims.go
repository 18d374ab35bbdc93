package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the claims carried by relay access tokens.
// It embeds the standard claims used for validity checks and the identity the token was issued to.
type Payload struct {
	jwt.StandardClaims `json:"standard_claims"`

	// ID is the canonical (lower-cased) identity identifier.
	ID string `json:"id"`

	// Role is the identity's role at issue time. Handlers that gate on privilege re-read
	// the current role from the registry; this value is only a hint for clients.
	Role string `json:"role"`
}
