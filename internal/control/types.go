package control

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"postpulse/internal/storage"
)

// PostPayload is the wire form of a queued post.
type PostPayload struct {
	ID              string             `json:"id"`
	DestinationID   string             `json:"destinationId"`
	DestinationSlug string             `json:"destinationSlug,omitempty"`
	DestinationName string             `json:"destinationName,omitempty"`
	Title           string             `json:"title,omitempty"`
	Body            string             `json:"body"`
	MediaURL        string             `json:"mediaUrl,omitempty"`
	ScheduledAt     time.Time          `json:"scheduledAt"`
	Status          string             `json:"status"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
	RetryCount      int                `json:"retryCount"`
	LastError       *storage.PostError `json:"lastError,omitempty"`
}

func toPayload(p storage.ScheduledPost) *PostPayload {
	return &PostPayload{
		ID:              p.ID,
		DestinationID:   p.DestinationID,
		DestinationSlug: p.DestinationSlug,
		DestinationName: p.DestinationName,
		Title:           p.Title,
		Body:            p.Body,
		MediaURL:        p.MediaURL,
		ScheduledAt:     p.ScheduledAt,
		Status:          string(p.Status),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		RetryCount:      p.RetryCount,
		LastError:       p.LastError,
	}
}

// CreateParams is the input for post.create.
type CreateParams struct {
	DestinationID   string    `json:"destinationId"`
	DestinationSlug string    `json:"destinationSlug,omitempty"`
	DestinationName string    `json:"destinationName,omitempty"`
	Title           string    `json:"title,omitempty"`
	Body            string    `json:"body"`
	MediaURL        string    `json:"mediaUrl,omitempty"`
	ScheduledAt     time.Time `json:"scheduledAt"`
}

func (p CreateParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.DestinationID, validation.Required),
		validation.Field(&p.Body, validation.Required),
		validation.Field(&p.ScheduledAt, validation.Required),
	)
}

// UpdateParams is the input for post.update. Nil fields are not changed.
type UpdateParams struct {
	ID              string     `json:"id"`
	DestinationID   *string    `json:"destinationId,omitempty"`
	DestinationSlug *string    `json:"destinationSlug,omitempty"`
	DestinationName *string    `json:"destinationName,omitempty"`
	Title           *string    `json:"title,omitempty"`
	Body            *string    `json:"body,omitempty"`
	MediaURL        *string    `json:"mediaUrl,omitempty"`
	ScheduledAt     *time.Time `json:"scheduledAt,omitempty"`
	Status          *string    `json:"status,omitempty"`
}

func (p UpdateParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ID, validation.Required),
		validation.Field(&p.Status, validation.By(func(v any) error {
			s, _ := v.(*string)
			if s == nil {
				return nil
			}
			if !storage.Status(*s).Valid() {
				return errUnknownStatus
			}
			return nil
		})),
	)
}

func (p UpdateParams) patch() storage.Patch {
	out := storage.Patch{
		DestinationID:   p.DestinationID,
		DestinationSlug: p.DestinationSlug,
		DestinationName: p.DestinationName,
		Title:           p.Title,
		Body:            p.Body,
		MediaURL:        p.MediaURL,
		ScheduledAt:     p.ScheduledAt,
	}
	if p.Status != nil {
		out.Status = storage.StatusPtr(storage.Status(*p.Status))
	}
	return out
}

// IDParam is a common input with just a post id.
type IDParam struct {
	ID string `json:"id"`
}

func (p IDParam) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ID, validation.Required),
	)
}

// ListParams is the input for post.list.
type ListParams struct {
	Status string `json:"status,omitempty"` // filter; empty means all
}

// ListResult is the response for post.list.
type ListResult struct {
	Posts []*PostPayload `json:"posts"`
}

// SlotParams is the input for slot.next.
type SlotParams struct {
	Preferred time.Time `json:"preferred"`
}

func (p SlotParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Preferred, validation.Required),
	)
}

// SlotResult is the response for slot.next.
type SlotResult struct {
	At time.Time `json:"at"`
}

// PublishNowParams is the input for publish.now.
type PublishNowParams struct {
	DestinationSlug string `json:"destinationSlug"`
	Title           string `json:"title,omitempty"`
	Body            string `json:"body"`
	MediaURL        string `json:"mediaUrl,omitempty"`
}

func (p PublishNowParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.DestinationSlug, validation.Required),
		validation.Field(&p.Body, validation.Required),
	)
}

// AttemptResult reports a single delivery attempt back to the caller.
type AttemptResult struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusResult is the response for status.
type StatusResult struct {
	Version    string         `json:"version"`
	Paused     bool           `json:"paused"`
	NextWakeAt time.Time      `json:"nextWakeAt,omitzero"`
	Counts     map[string]int `json:"counts"`
}

// EmptyResult is a placeholder for methods that return no data.
type EmptyResult struct{}
