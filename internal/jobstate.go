package internal

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is a job's lifecycle state (§3): initialized -> running ->
// (completed | failed | canceled).
type JobStatus string

const (
	JobInitialized JobStatus = "initialized"
	JobRunning     JobStatus = "running"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
	JobCanceled    JobStatus = "canceled"
)

func (s JobStatus) terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// JobState is the per-jobId state owned exclusively by one job actor (§3).
type JobState struct {
	JobID          string    `json:"jobId"`
	Pipeline       Pipeline  `json:"pipeline"`
	TotalCount     int       `json:"totalCount"`
	ProcessedCount int       `json:"processedCount"`
	Progress       float64   `json:"progress"`
	Status         JobStatus `json:"status"`
	StartTime      time.Time `json:"startTime"`
	LastUpdateTime time.Time `json:"lastUpdateTime"`
	Canceled       bool      `json:"canceled"`

	Result *CompletionSummary `json:"result,omitempty"`
	Error  *ErrorPayload      `json:"error,omitempty"`
}

// jobCleanupDelay is how long after reaching a terminal state job storage is
// deleted (§3 lifecycle, §4.7 state machine).
const jobCleanupDelay = 24 * time.Hour

// AuthToken is the per-jobId token (§3): opaque UUID, 2h expiry, a single
// refresh window opening 30 minutes before expiry, one active token at a time.
type AuthToken struct {
	Value     string
	ExpiresAt time.Time
}

const (
	authTokenTTL          = 2 * time.Hour
	authTokenRefreshWindow = 30 * time.Minute
)

func newAuthToken() AuthToken {
	return AuthToken{
		Value:     uuid.NewString(),
		ExpiresAt: time.Now().Add(authTokenTTL),
	}
}

// valid reports whether the token is usable right now. A token at exactly
// expiresAt is invalid (§8 boundary behavior): strict less-than, not <=.
func (t AuthToken) valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// refreshable reports whether a refresh is allowed: only in the last 30
// minutes of validity (§4.7, §8: a refresh at expiresAt-31min is refused).
func (t AuthToken) refreshable(now time.Time) bool {
	if !t.valid(now) {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-authTokenRefreshWindow))
}

func (t AuthToken) refresh(now time.Time) AuthToken {
	return AuthToken{
		Value:     uuid.NewString(),
		ExpiresAt: now.Add(authTokenTTL),
	}
}
