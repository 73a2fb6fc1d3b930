package models

import "time"

// RefreshSession is the cached record behind an opaque refresh token
type RefreshSession struct {
	TokenHash string    `json:"-"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	IssuedAt  time.Time `json:"issuedAt"`
}

// Access Token Response
type TokenResponse struct {
	AccessToken  string    `json:"accessToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresIn    int       `json:"expiresIn"`
	RefreshToken string    `json:"refreshToken"`
	UserID       string    `json:"userId"`
	TokenID      string    `json:"tokenId"`
	IssuedAt     time.Time `json:"issuedAt"`
	User         *User     `json:"user,omitempty"`
}

// Token Refresh Request
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}
