// Package webhook implements the Webhook auxiliary resource (spec §3): a per-access HTTP callback notified on
// change, specified only to the extent straightforward CRUD and its retry bookkeeping serve the permission model.
// Grounded on internal/stream's PGRepository idiom for CRUD and on the persisted-state layout's
// `webhooks.minIntervalMs`/`maxRetries`/`runsSize` config knobs (spec §6) for the run-tracking fields.
package webhook

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the webhook package.
var (
	ErrNotFound = errors.New("webhook not found")
)

// State is a webhook's lifecycle state.
type State string

// Recognized webhook states.
const (
	StateActive   State = "active"
	StateInactive State = "inactive" // retries exhausted; no longer notified until reactivated
	StateDeleted  State = "deleted"
)

// Run records the outcome of one delivery attempt.
type Run struct {
	Status int       `json:"status"`
	Time   time.Time `json:"time"`
}

// Webhook is a per-access HTTP callback notified when the access's accessible data changes.
type Webhook struct {
	ID            string     `json:"id"`
	AccessID      string     `json:"accessId"`
	URL           string     `json:"url"`
	State         State      `json:"state"`
	RunCount      int64      `json:"runCount"`
	FailCount     int64      `json:"failCount"`
	LastRun       *Run       `json:"lastRun,omitempty"`
	Runs          []Run      `json:"runs,omitempty"` // most recent runs, capped at runsSize (§6 webhooks.runsSize)
	MinIntervalMs int        `json:"minIntervalMs"`
	MaxRetries    int        `json:"maxRetries"`
	Created       time.Time  `json:"created"`
	CreatedBy     string     `json:"createdBy"`
	Modified      time.Time  `json:"modified"`
	ModifiedBy    string     `json:"modifiedBy"`
	Deleted       *time.Time `json:"deleted,omitempty"`
}

// CreateParams groups the inputs for creating a new webhook.
type CreateParams struct {
	ID            string
	AccessID      string
	URL           string
	MinIntervalMs int
	MaxRetries    int
}

// RecordRun appends run to w.Runs (capped at runsSize, dropping the oldest), updates the run/fail counters, and
// deactivates the webhook once consecutive failures reach w.MaxRetries — the "retry up to maxRetries... after
// exhaustion the webhook becomes inactive" rule (spec §5). A successful run resets the failure streak.
func (w *Webhook) RecordRun(run Run, runsSize int) {
	w.LastRun = &run
	w.RunCount++
	w.Runs = append(w.Runs, run)
	if len(w.Runs) > runsSize {
		w.Runs = w.Runs[len(w.Runs)-runsSize:]
	}

	if run.Status >= 200 && run.Status < 300 {
		w.FailCount = 0
		return
	}

	w.FailCount++
	if w.FailCount >= int64(w.MaxRetries) {
		w.State = StateInactive
	}
}

// Repository is the persistence contract for webhooks.
type Repository interface {
	Create(ctx context.Context, userID string, p CreateParams, actorAccessID string) (*Webhook, error)
	List(ctx context.Context, userID string) ([]Webhook, error)
	Get(ctx context.Context, userID, id string) (*Webhook, error)
	Save(ctx context.Context, userID string, w *Webhook, actorAccessID string) (*Webhook, error)
	Delete(ctx context.Context, userID, id string) error
}
