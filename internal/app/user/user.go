/*
Package user contains the core identity data structures shared by every other package.

It defines the durable Identity record, its Role and Profile, the mute state used by
moderation, and the rules for canonical identifiers.
*/
package user

import (
	"regexp"
	"strings"
	"time"
)

// Role is an identity's privilege level.
type Role string

const (
	RoleGuest     Role = "guest"
	RoleMember    Role = "member"
	RoleVIP       Role = "vip"
	RoleBot       Role = "bot"
	RoleDeveloper Role = "developer"
	RoleOwner     Role = "owner"
)

// Roles lists every role in ascending privilege order.
var Roles = []Role{RoleGuest, RoleMember, RoleVIP, RoleBot, RoleDeveloper, RoleOwner}

// ParseRole returns the Role named by s (case-insensitive).
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, true
		}
	}
	return "", false
}

// TombstoneID is the author written over messages whose identity was purged.
const TombstoneID = "deleted"

var idPattern = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

// NormalizeID returns the canonical form of an identifier: trimmed and lower-cased.
// Identifiers are compared and stored only in this form.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ValidID reports whether id (already normalized) is an acceptable identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id) && id != TombstoneID
}

// Profile is the user-editable part of an identity.
type Profile struct {
	DisplayImage  string `json:"displayImage,omitempty" validate:"omitempty,url,max=512"`
	Bio           string `json:"bio,omitempty" validate:"max=280"`
	ContactHandle string `json:"contactHandle,omitempty" validate:"max=64"`
}

// Mute is an identity's mute state. The zero value means not muted.
type Mute struct {
	Until      time.Time `json:"until,omitzero"`
	Indefinite bool      `json:"indefinite,omitempty"`
}

// Active reports whether the mute still applies at now.
func (m Mute) Active(now time.Time) bool {
	return m.Indefinite || now.Before(m.Until)
}

// Set reports whether any mute was ever recorded (active or expired).
func (m Mute) Set() bool {
	return m.Indefinite || !m.Until.IsZero()
}

// Identity is the durable record of one account.
type Identity struct {
	ID         string    `json:"id"`
	SecretHash []byte    `json:"-"`
	Role       Role      `json:"role"`
	Profile    Profile   `json:"profile"`
	Mute       Mute      `json:"mute"`
	Kicked     bool      `json:"kicked"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Clone returns a copy that shares no mutable memory with i.
func (i Identity) Clone() Identity {
	if i.SecretHash != nil {
		i.SecretHash = append([]byte(nil), i.SecretHash...)
	}
	return i
}
