package daemon

import (
	"math"
	"time"
)

// State is the per-store position of the reconciliation loop.
type State int

const (
	StateSynced State = iota
	StateFetchingChanges
	StateApplying
	StateConflictRetry
)

func (s State) String() string {
	switch s {
	case StateSynced:
		return "SYNCED"
	case StateFetchingChanges:
		return "FETCHING_CHANGES"
	case StateApplying:
		return "APPLYING"
	case StateConflictRetry:
		return "CONFLICT_RETRY"
	default:
		return "UNKNOWN"
	}
}

// BackoffConfig bounds conflict retries so a contended object is not
// tight-looped.
type BackoffConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultBackoffConfig returns sensible defaults for conflict retries.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}
}

// Delay implements exponential backoff with jitter for attempt (1-based).
func (c BackoffConfig) Delay(attempt int) time.Duration {
	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	jitter := delay * 0.25 * (2*float64(time.Now().UnixNano()%1000)/1000 - 1)
	return time.Duration(delay + jitter)
}
