package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"
)

const publicTokenBytes = 32

// PublicLinks mints and checks the unauthenticated access tokens for requests
// and schedules. Only the SHA-256 digest of a token is ever stored.
type PublicLinks struct {
	defaultTTL  time.Duration
	maxTTL      time.Duration
	frontendURL string
}

func NewPublicLinks(defaultTTL, maxTTL time.Duration, frontendURL string) *PublicLinks {
	if defaultTTL <= 0 {
		defaultTTL = 7 * 24 * time.Hour
	}
	if maxTTL < defaultTTL {
		maxTTL = defaultTTL
	}
	return &PublicLinks{
		defaultTTL:  defaultTTL,
		maxTTL:      maxTTL,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

// PublicLinkGrant is returned once when a link is enabled. The raw token is
// not recoverable afterwards.
type PublicLinkGrant struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Mint returns a fresh token and its digest.
func (p *PublicLinks) Mint() (string, string, error) {
	b := make([]byte, publicTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate public token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	return token, HashPublicToken(token), nil
}

// HashPublicToken is the stored form of a token.
func HashPublicToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// WellFormed rejects tokens that could not have come from Mint.
func WellFormed(token string) bool {
	if len(token) != base64.RawURLEncoding.EncodedLen(publicTokenBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil
}

// Expiry applies the requested lifetime, falling back to the default and
// capping at the configured maximum.
func (p *PublicLinks) Expiry(now time.Time, requested *time.Duration) (time.Time, error) {
	ttl := p.defaultTTL
	if requested != nil {
		if *requested <= 0 {
			return time.Time{}, common.Validation("expiry must be in the future",
				common.FieldError{Field: "expiresInHours", Reason: "not positive"})
		}
		ttl = *requested
	}
	if ttl > p.maxTTL {
		ttl = p.maxTTL
	}
	return now.Add(ttl), nil
}

// Enable mints a new token onto link; a previous token stops working.
func (p *PublicLinks) Enable(link *models.PublicLink, now time.Time, requested *time.Duration) (string, error) {
	expiresAt, err := p.Expiry(now, requested)
	if err != nil {
		return "", err
	}
	token, hash, err := p.Mint()
	if err != nil {
		return "", err
	}
	link.TokenHash = &hash
	link.Enabled = true
	link.ExpiresAt = &expiresAt
	return token, nil
}

// Disable turns the link off. The digest stays for audit lookups.
func (p *PublicLinks) Disable(link *models.PublicLink) {
	link.Enabled = false
}

func (p *PublicLinks) URL(kind models.ContextKind, token string) string {
	if kind == models.ContextSchedule {
		return p.frontendURL + "/scheduled-maintenance/public/" + token
	}
	return p.frontendURL + "/requests/public/" + token
}

// ErrPublicLinkNotFound is the single failure every bad token maps to.
var ErrPublicLinkNotFound = common.NotFound("link")
