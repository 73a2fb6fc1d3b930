package services

import (
	"context"
	"sync"
	"time"

	"fixit/internal/common"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// GoogleJWKSURL publishes the keys Google signs ID tokens with.
const GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// FederatedIdentity is what a verified ID token says about the user.
type FederatedIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
}

// IDTokenVerifier checks a federated ID token.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*FederatedIdentity, error)
}

type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	jwt.RegisteredClaims
}

// GoogleVerifier validates Google ID tokens against the published JWKS. The
// key set is fetched on first use and refreshed in the background.
type GoogleVerifier struct {
	clientID string
	jwksURL  string
	logger   *logrus.Logger

	mu   sync.Mutex
	jwks *keyfunc.JWKS
}

func NewGoogleVerifier(clientID, jwksURL string, logger *logrus.Logger) *GoogleVerifier {
	if jwksURL == "" {
		jwksURL = GoogleJWKSURL
	}
	return &GoogleVerifier{clientID: clientID, jwksURL: jwksURL, logger: logger}
}

func (g *GoogleVerifier) keys() (*keyfunc.JWKS, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.jwks != nil {
		return g.jwks, nil
	}
	jwks, err := keyfunc.Get(g.jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			g.logger.WithError(err).Warn("google key set refresh failed")
		},
	})
	if err != nil {
		return nil, err
	}
	g.jwks = jwks
	return jwks, nil
}

func (g *GoogleVerifier) Verify(ctx context.Context, rawToken string) (*FederatedIdentity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	jwks, err := g.keys()
	if err != nil {
		return nil, common.External("google key set unavailable", err)
	}
	claims := &googleClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, jwks.Keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(g.clientID),
	)
	if err != nil || !token.Valid {
		return nil, common.Unauthenticated("invalid google id token")
	}
	if claims.Issuer != "accounts.google.com" && claims.Issuer != "https://accounts.google.com" {
		return nil, common.Unauthenticated("invalid google id token issuer")
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, common.Unauthenticated("google id token lacks an identity")
	}
	return &FederatedIdentity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
	}, nil
}

// Close stops the background refresh.
func (g *GoogleVerifier) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.jwks != nil {
		g.jwks.EndBackground()
		g.jwks = nil
	}
}
