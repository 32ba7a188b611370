// Package profile holds the system's own durable record describing an
// identity, keyed 1:1 by identity id.
package profile

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the application role of a profile. The column stores free text:
// the constants below are the closed set, anything else renders as "other".
type Role string

const (
	RoleUser     Role = "user"
	RoleExpert   Role = "expert"
	RoleDealer   Role = "dealer"
	RoleOfficial Role = "official"
	RoleCompany  Role = "company"
	RoleFPO      Role = "fpo"
	RoleAdmin    Role = "admin"
)

// Known reports whether the role is one of the closed enumeration.
func (r Role) Known() bool {
	switch r {
	case RoleUser, RoleExpert, RoleDealer, RoleOfficial, RoleCompany, RoleFPO, RoleAdmin:
		return true
	}
	return false
}

// Stats aggregates a profile's contribution counters.
type Stats struct {
	Questions  int `json:"questions"`
	Answers    int `json:"answers"`
	Listings   int `json:"listings"`
	TrustScore int `json:"trust_score"`
}

// Profile is the durable per-identity record. Username is unique and
// lowercase-normalized; once UsernameChangedAt is set the username is
// immutable.
type Profile struct {
	ID                uuid.UUID  `json:"id"`
	Username          string     `json:"username"`
	FullName          string     `json:"full_name"`
	Email             string     `json:"email"`
	Role              Role       `json:"role"`
	Verified          bool       `json:"verified"`
	District          string     `json:"district"`
	Phone             string     `json:"phone"`
	AvatarURL         string     `json:"avatar_url"`
	Language          string     `json:"language"`
	UsernameChangedAt *time.Time `json:"username_changed_at,omitempty"`
	Stats             Stats      `json:"stats"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// MaxUsernameLen bounds derived and user-chosen usernames.
const MaxUsernameLen = 24

// NormalizeUsername lowercases, strips surrounding space, and truncates a
// candidate username.
func NormalizeUsername(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	if len(name) > MaxUsernameLen {
		name = name[:MaxUsernameLen]
	}
	return name
}
