// Package event implements the time-series Event data model (spec §3, §4.5): creation, overlap validation for
// singleActivity streams, and the versioning-engine delete paths built on top of its repository.
package event

import (
	"errors"
	"time"
)

// Sentinel errors for the event package.
var (
	ErrNotFound           = errors.New("event not found")
	ErrEmptyStreamIDs     = errors.New("streamIds must be non-empty")
	ErrAllSystemStreams   = errors.New("streamIds must include at least one non-system stream")
	ErrUnresolvedStreamID = errors.New("streamId does not resolve to an accessible stream")
	ErrSingleActivityOverlap = errors.New("a duration event already covers this time range on a singleActivity stream")
	ErrAlreadyTrashed     = errors.New("event is already trashed")
	ErrAlreadyDeleted     = errors.New("event has already been deleted")
)

// Attachment is an event's file attachment metadata (the file body itself lives in the store addressed by
// internal/attachment).
type Attachment struct {
	ID         string `json:"id"`
	FileName   string `json:"fileName"`
	Type       string `json:"type"`
	Size       int64  `json:"size"`
	Integrity  string `json:"integrity,omitempty"`
	StorageKey string `json:"-"` // internal only: never serialized to a client
}

// Event is a time-stamped datum attached to one or more streams.
type Event struct {
	ID          string       `json:"id"`
	StreamIDs   []string     `json:"streamIds"`
	Type        string       `json:"type"`
	Time        time.Time    `json:"time"`
	Duration    *float64     `json:"duration"` // seconds; nil denotes a point event
	Content     any          `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Tags        []string     `json:"tags,omitempty"` // legacy; derived from/merged into StreamIDs via internal/legacyprefix on ingress/egress
	Integrity   string       `json:"integrity,omitempty"`
	Trashed     bool         `json:"trashed"`
	Created     time.Time    `json:"created"`
	CreatedBy   string       `json:"createdBy"`
	Modified    time.Time    `json:"modified"`
	ModifiedBy  string       `json:"modifiedBy"`
	Deleted     *time.Time   `json:"deleted,omitempty"`
}

// IsPoint reports whether the event has no duration (a single instant).
func (e *Event) IsPoint() bool {
	return e.Duration == nil
}

// End returns the event's end time: Time itself for a point event, Time+Duration otherwise.
func (e *Event) End() time.Time {
	if e.Duration == nil {
		return e.Time
	}
	return e.Time.Add(time.Duration(*e.Duration * float64(time.Second)))
}

// Overlaps reports whether e and other occupy any common instant, used by the singleActivity invariant (f).
func (e *Event) Overlaps(other *Event) bool {
	aStart, aEnd := e.Time, e.End()
	bStart, bEnd := other.Time, other.End()
	switch {
	case e.IsPoint() && other.IsPoint():
		return aStart.Equal(bStart)
	case e.IsPoint():
		return !aStart.Before(bStart) && aStart.Before(bEnd)
	case other.IsPoint():
		return !bStart.Before(aStart) && bStart.Before(aEnd)
	}
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// ValidateStreamIDs checks invariant shape constraints on an event's streamIds list: non-empty, and (when
// isSystemStream is supplied) at least one non-system entry.
func ValidateStreamIDs(streamIDs []string, isSystemStream func(id string) bool) error {
	if len(streamIDs) == 0 {
		return ErrEmptyStreamIDs
	}
	if isSystemStream == nil {
		return nil
	}
	for _, id := range streamIDs {
		if !isSystemStream(id) {
			return nil
		}
	}
	return ErrAllSystemStreams
}

// CreateParams groups the inputs for creating a new event. Legacy `tags` are merged into StreamIDs by the API layer
// via internal/legacyprefix before reaching here, so there is no separate Tags field to persist.
type CreateParams struct {
	StreamIDs   []string
	Type        string
	Time        time.Time
	Duration    *float64
	Content     any
	Attachments []Attachment
	Integrity   string
}

// UpdateParams groups PATCH-semantics changes to an existing event; nil fields are left untouched.
type UpdateParams struct {
	StreamIDs *[]string
	Type      *string
	Time      *time.Time
	Duration  **float64
	Content   *any
}
