package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("post not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": dependency-free JSON snapshot backend
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Status is the lifecycle state of a scheduled post.
//
// QUEUED, SCHEDULED and PAUSED are "active": they occupy constraint
// capacity and (except PAUSED) are eligible for delivery. PUBLISHED and
// FAILED are terminal for automatic processing.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusScheduled Status = "SCHEDULED"
	StatusPublished Status = "PUBLISHED"
	StatusFailed    Status = "FAILED"
	StatusPaused    Status = "PAUSED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusScheduled, StatusPublished, StatusFailed, StatusPaused:
		return true
	}
	return false
}

// Active reports whether the post occupies constraint capacity.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusScheduled || s == StatusPaused
}

// PostError records the most recent delivery failure.
type PostError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScheduledPost is a single deferred post record.
type ScheduledPost struct {
	ID              string     `json:"id"`
	DestinationID   string     `json:"destination_id"`
	DestinationSlug string     `json:"destination_slug,omitempty"`
	DestinationName string     `json:"destination_name,omitempty"`
	Title           string     `json:"title"`
	Body            string     `json:"body"`
	MediaURL        string     `json:"media_url,omitempty"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	RetryCount      int        `json:"retry_count"`
	LastError       *PostError `json:"last_error,omitempty"`
}

// Patch is a partial update. Nil pointer fields are left unchanged.
// ClearLastError distinguishes "set LastError to nil" from "leave it".
type Patch struct {
	DestinationID   *string
	DestinationSlug *string
	DestinationName *string
	Title           *string
	Body            *string
	MediaURL        *string
	ScheduledAt     *time.Time
	Status          *Status
	RetryCount      *int
	LastError       *PostError
	ClearLastError  bool
}

func (p Patch) apply(post *ScheduledPost, now time.Time) {
	if p.DestinationID != nil {
		post.DestinationID = *p.DestinationID
	}
	if p.DestinationSlug != nil {
		post.DestinationSlug = *p.DestinationSlug
	}
	if p.DestinationName != nil {
		post.DestinationName = *p.DestinationName
	}
	if p.Title != nil {
		post.Title = *p.Title
	}
	if p.Body != nil {
		post.Body = *p.Body
	}
	if p.MediaURL != nil {
		post.MediaURL = *p.MediaURL
	}
	if p.ScheduledAt != nil {
		post.ScheduledAt = p.ScheduledAt.UTC()
	}
	if p.Status != nil {
		post.Status = *p.Status
	}
	if p.RetryCount != nil {
		post.RetryCount = *p.RetryCount
	}
	if p.ClearLastError {
		post.LastError = nil
	} else if p.LastError != nil {
		e := *p.LastError
		post.LastError = &e
	}
	// Every write refreshes UpdatedAt.
	post.UpdatedAt = now
}

// withCreateDefaults fills the fields Create owns: id, status, timestamps.
// Instants are normalized to UTC so day-bucket math downstream is stable.
func withCreateDefaults(post ScheduledPost) ScheduledPost {
	now := time.Now().UTC()
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.Status == "" {
		post.Status = StatusQueued
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = now
	}
	post.ScheduledAt = post.ScheduledAt.UTC()
	post.CreatedAt = post.CreatedAt.UTC()
	post.UpdatedAt = post.UpdatedAt.UTC()
	return post
}

// Helpers for building patches without local temp vars.

func StrPtr(s string) *string        { return &s }
func IntPtr(n int) *int              { return &n }
func StatusPtr(s Status) *Status     { return &s }
func TimePtr(t time.Time) *time.Time { return &t }
