package services

import (
	"testing"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicLinks_EnableStoresOnlyDigest(t *testing.T) {
	links := NewPublicLinks(24*time.Hour, 72*time.Hour, "https://app.example.com/")
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	var link models.PublicLink
	token, err := links.Enable(&link, now, nil)
	require.NoError(t, err)

	assert.True(t, WellFormed(token))
	require.NotNil(t, link.TokenHash)
	assert.NotEqual(t, token, *link.TokenHash)
	assert.True(t, link.MatchesHash(HashPublicToken(token)))
	assert.Equal(t, now.Add(24*time.Hour), *link.ExpiresAt)
	assert.True(t, link.Usable(now))
	assert.False(t, link.Usable(now.Add(24*time.Hour)))
	assert.Equal(t, "https://app.example.com/requests/public/"+token, links.URL(models.ContextRequest, token))
	assert.Equal(t, "https://app.example.com/scheduled-maintenance/public/"+token, links.URL(models.ContextSchedule, token))
}

func TestPublicLinks_ReEnableRotatesToken(t *testing.T) {
	links := NewPublicLinks(time.Hour, time.Hour, "")
	now := time.Now()
	var link models.PublicLink

	first, err := links.Enable(&link, now, nil)
	require.NoError(t, err)
	links.Disable(&link)
	assert.False(t, link.Usable(now))
	assert.True(t, link.MatchesHash(HashPublicToken(first)))

	second, err := links.Enable(&link, now, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.False(t, link.MatchesHash(HashPublicToken(first)))
}

func TestPublicLinks_ExpiryIsCapped(t *testing.T) {
	links := NewPublicLinks(time.Hour, 48*time.Hour, "")
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	long := 30 * 24 * time.Hour
	exp, err := links.Expiry(now, &long)
	require.NoError(t, err)
	assert.Equal(t, now.Add(48*time.Hour), exp)

	negative := -time.Minute
	_, err = links.Expiry(now, &negative)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestWellFormed(t *testing.T) {
	assert.False(t, WellFormed(""))
	assert.False(t, WellFormed("short"))
	assert.False(t, WellFormed("!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!"))
}
