// Package versioning implements the versioning/deletion engine (spec §4.5): writing a history entry on update when
// configured, and applying one of the three deletion-mode policies when an event is deleted.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pryv-io/core/internal/config"
	"github.com/pryv-io/core/internal/event"
	"github.com/pryv-io/core/internal/postgres"
	"github.com/pryv-io/core/internal/stream"
)

// ErrRootCannotMerge is returned by DeleteStream when mergeEventsWithParent is requested on a root stream.
var ErrRootCannotMerge = errors.New("a root stream cannot be merged into a parent")

// HistoryEntry is one prior state of a mutable item, keyed by its own synthetic id with headId pointing back to the
// current item. Its fields are a deliberate subset of Event: deletionMode=keep-authors reduces every entry to just
// {id, modified, modifiedBy} (see Reduce).
type HistoryEntry struct {
	ID         string    `json:"id"`
	HeadID     string    `json:"headId"`
	StreamIDs  []string  `json:"streamIds,omitempty"`
	Type       string    `json:"type,omitempty"`
	Time       time.Time `json:"time"`
	Duration   *float64  `json:"duration,omitempty"`
	Content    any       `json:"content,omitempty"`
	Modified   time.Time `json:"modified"`
	ModifiedBy string    `json:"modifiedBy"`
}

// Reduce returns the keep-authors projection of h: only bookkeeping fields survive.
func (h HistoryEntry) Reduce() HistoryEntry {
	return HistoryEntry{ID: h.HeadID, HeadID: h.HeadID, Modified: h.Modified, ModifiedBy: h.ModifiedBy}
}

// HistoryRepository persists event history entries.
type HistoryRepository interface {
	Append(ctx context.Context, userID string, tx pgx.Tx, e HistoryEntry) error
	PurgeAll(ctx context.Context, tx pgx.Tx, userID, headID string) error
	ReduceAll(ctx context.Context, tx pgx.Tx, userID, headID string) error
	List(ctx context.Context, userID, headID string) ([]HistoryEntry, error)
}

// Engine applies config.ForceKeepHistory/config.DeletionMode to event mutations.
type Engine struct {
	db        *pgxpool.Pool
	events    event.Repository
	history   HistoryRepository
	streams   stream.Repository
	log       zerolog.Logger
	cfg       config.Config
}

// NewEngine builds a versioning Engine over the given repositories and deletion-mode config.
func NewEngine(db *pgxpool.Pool, events event.Repository, history HistoryRepository, streams stream.Repository, cfg config.Config, logger zerolog.Logger) *Engine {
	return &Engine{db: db, events: events, history: history, streams: streams, cfg: cfg, log: logger}
}

// UpdateEvent applies p to the event, writing a history row first when ForceKeepHistory is set (the prior state gets
// a fresh synthetic id with headId = current id; readers only see it when includeHistory=true).
func (e *Engine) UpdateEvent(ctx context.Context, userID, id string, p event.UpdateParams, actorAccessID string) (*event.Event, error) {
	if !e.cfg.ForceKeepHistory {
		return e.events.Update(ctx, userID, id, p, actorAccessID)
	}

	var updated *event.Event
	err := postgres.WithTx(ctx, e.db, func(tx pgx.Tx) error {
		prior, err := e.events.Get(ctx, userID, id)
		if err != nil {
			return err
		}
		entry := HistoryEntry{
			ID: fmt.Sprintf("%s-hist-%d", id, time.Now().UnixNano()), HeadID: id,
			StreamIDs: prior.StreamIDs, Type: prior.Type, Time: prior.Time, Duration: prior.Duration,
			Content: prior.Content, Modified: prior.Modified, ModifiedBy: prior.ModifiedBy,
		}
		if err := e.history.Append(ctx, userID, tx, entry); err != nil {
			return err
		}
		updated, err = e.events.Update(ctx, userID, id, p, actorAccessID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// History returns the recorded prior versions of headID, newest first, for a reader that passed
// includeHistory=true (§4.5: "Readers include history only when includeHistory=true").
func (e *Engine) History(ctx context.Context, userID, headID string) ([]HistoryEntry, error) {
	return e.history.List(ctx, userID, headID)
}

// DeleteEvent implements the three delete-mode policies of §4.5 (deletionMode governs the head tombstone shape and
// what happens to any existing history entries; it is orthogonal to ForceKeepHistory, which only controls whether
// *updates* write history in the first place).
func (e *Engine) DeleteEvent(ctx context.Context, userID, id, actorAccessID string) (*event.Event, error) {
	var tombstone *event.Event
	err := postgres.WithTx(ctx, e.db, func(tx pgx.Tx) error {
		var err error
		switch e.cfg.DeletionMode {
		case config.DeletionModeKeepNothing:
			if err := e.history.PurgeAll(ctx, tx, userID, id); err != nil {
				return err
			}
			tombstone, err = e.events.TombstoneHead(ctx, userID, id, actorAccessID, false)
		case config.DeletionModeKeepAuthors:
			if err := e.history.ReduceAll(ctx, tx, userID, id); err != nil {
				return err
			}
			tombstone, err = e.events.TombstoneHead(ctx, userID, id, actorAccessID, false)
		case config.DeletionModeKeepEverything:
			tombstone, err = e.events.TombstoneHead(ctx, userID, id, actorAccessID, true)
		default:
			return fmt.Errorf("unknown deletion mode %q", e.cfg.DeletionMode)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return tombstone, nil
}

// DeleteStreamParams groups the inputs to DeleteStream.
type DeleteStreamParams struct {
	UserID                string
	StreamID              string
	MergeEventsWithParent bool
	ActorAccessID         string
}

// DeleteStream implements the stream-delete semantics of §4.5. The stream must already be trashed (enforced by
// internal/stream.Repository.Delete's ErrNotTrashed, called at the end of this method so the event-side work and the
// row removal happen together). With mergeEventsWithParent=true, every linked event's streamIds is rewritten
// replacing StreamID with its parent (root streams reject this with ErrRootCannotMerge); with false, every
// descendant event is deleted via DeleteEvent according to the configured deletionMode.
func (e *Engine) DeleteStream(ctx context.Context, p DeleteStreamParams) error {
	s, err := e.streams.Get(ctx, p.UserID, p.StreamID)
	if err != nil {
		return err
	}

	if p.MergeEventsWithParent {
		if s.ParentID == nil {
			return ErrRootCannotMerge
		}
		linked, err := e.events.FilterStore(ctx, p.UserID, event.Filter{Or: []event.Conjunct{{In: []string{p.StreamID}}}}, event.ListOptions{State: "all"})
		if err != nil {
			return fmt.Errorf("list linked events: %w", err)
		}
		for _, ev := range linked {
			newIDs := replaceStreamID(ev.StreamIDs, p.StreamID, *s.ParentID)
			if _, err := e.UpdateEvent(ctx, p.UserID, ev.ID, event.UpdateParams{StreamIDs: &newIDs}, p.ActorAccessID); err != nil {
				return fmt.Errorf("merge event %s onto parent: %w", ev.ID, err)
			}
		}
	} else {
		descendants, err := e.events.FilterStore(ctx, p.UserID, event.Filter{Or: []event.Conjunct{{In: []string{p.StreamID}}}}, event.ListOptions{State: "all"})
		if err != nil {
			return fmt.Errorf("list descendant events: %w", err)
		}
		for _, ev := range descendants {
			if _, err := e.DeleteEvent(ctx, p.UserID, ev.ID, p.ActorAccessID); err != nil {
				return fmt.Errorf("delete event %s: %w", ev.ID, err)
			}
		}
	}

	return e.streams.Delete(ctx, p.UserID, p.StreamID)
}

func replaceStreamID(ids []string, old, replacement string) []string {
	out := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		if id == old {
			id = replacement
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
