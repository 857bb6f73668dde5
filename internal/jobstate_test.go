package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobInitialized.terminal())
	assert.False(t, JobRunning.terminal())
	assert.True(t, JobCompleted.terminal())
	assert.True(t, JobFailed.terminal())
	assert.True(t, JobCanceled.terminal())
}

func TestAuthTokenValidBoundary(t *testing.T) {
	now := time.Now()
	tok := AuthToken{Value: "tok", ExpiresAt: now}
	assert.False(t, tok.valid(now), "a token expiring exactly now is invalid")
	assert.True(t, tok.valid(now.Add(-time.Second)))
	assert.False(t, tok.valid(now.Add(time.Second)))
}

func TestAuthTokenRefreshableWindow(t *testing.T) {
	now := time.Now()
	tok := AuthToken{Value: "tok", ExpiresAt: now.Add(authTokenTTL)}

	// 31 minutes before expiry: outside the 30-minute refresh window.
	assert.False(t, tok.refreshable(now.Add(authTokenTTL-31*time.Minute)))
	// Exactly 30 minutes before expiry: inside the window.
	assert.True(t, tok.refreshable(now.Add(authTokenTTL-30*time.Minute)))
	// One minute before expiry: inside the window.
	assert.True(t, tok.refreshable(now.Add(authTokenTTL-time.Minute)))
}

func TestAuthTokenRefreshIssuesNewValueAndExpiry(t *testing.T) {
	now := time.Now()
	tok := newAuthToken()
	refreshed := tok.refresh(now)

	assert.NotEqual(t, tok.Value, refreshed.Value)
	assert.True(t, refreshed.ExpiresAt.After(now))
}
