package models

import (
	"crypto/subtle"
	"time"

	"github.com/google/uuid"
)

// StatusChange is one append-only status-history row.
type StatusChange struct {
	Status        string     `json:"status"`
	ChangedAt     time.Time  `json:"changedAt"`
	ChangedBy     *uuid.UUID `json:"changedBy,omitempty"`
	ChangedByName string     `json:"changedByName,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// PublicLink is the capability state for anonymous access. Only the token digest is stored.
type PublicLink struct {
	TokenHash *string    `json:"-" db:"public_token_hash"`
	Enabled   bool       `json:"enabled" db:"public_link_enabled"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" db:"public_link_expires_at"`
}

// Usable reports whether view and update may proceed at now.
func (p PublicLink) Usable(now time.Time) bool {
	return p.Enabled && p.TokenHash != nil && p.ExpiresAt != nil && p.ExpiresAt.After(now)
}

// MatchesHash compares digests in constant time
func (p PublicLink) MatchesHash(hash string) bool {
	if p.TokenHash == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*p.TokenHash), []byte(hash)) == 1
}

func (p PublicLink) Clone() PublicLink {
	return PublicLink{
		TokenHash: cloneString(p.TokenHash),
		Enabled:   p.Enabled,
		ExpiresAt: cloneTime(p.ExpiresAt),
	}
}
