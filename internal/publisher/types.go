package publisher

import (
	"errors"
	"strings"
	"time"
)

// ErrStopped is returned when an operation is issued against a publisher
// that is not running.
var ErrStopped = errors.New("publisher stopped")

// ConstraintError carries every violated scheduling rule from a rejected
// create or update. The record is never written when this is returned.
type ConstraintError struct {
	Violations []string
}

func (e *ConstraintError) Error() string {
	return strings.Join(e.Violations, " ")
}

// AsConstraintError unwraps err into a *ConstraintError if it is one.
func AsConstraintError(err error) (*ConstraintError, bool) {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Config tunes the publishing engine. All fields have working defaults.
type Config struct {
	// DueTolerance widens the due check: a post counts as due when its
	// ScheduledAt is within this much of now. Compensates for late timer
	// fire after host sleep.
	DueTolerance time.Duration
	// AttemptTimeout bounds a single delivery attempt.
	AttemptTimeout time.Duration
	// ResyncInterval is how often the wake timer is re-derived from the
	// store even without a state change.
	ResyncInterval time.Duration
	// Timezone names the location for calendar-day constraint math.
	// Empty means the process-local zone.
	Timezone string
}

func (c Config) withDefaults() Config {
	if c.DueTolerance <= 0 {
		c.DueTolerance = time.Minute
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 2 * time.Minute
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = 5 * time.Minute
	}
	return c
}

// OutcomeEvent is the payload of post.published / post.failed bus events.
type OutcomeEvent struct {
	PostID      string `json:"post_id"`
	Destination string `json:"destination"`
	Title       string `json:"title"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	RetryCount  int    `json:"retry_count"`
	Final       bool   `json:"final"`
}

// EngineStatus is a point-in-time view for the control surface.
type EngineStatus struct {
	Paused     bool           `json:"paused"`
	NextWakeAt time.Time      `json:"next_wake_at,omitzero"`
	Counts     map[string]int `json:"counts"`
}
