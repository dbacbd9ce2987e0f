// Package activity records what the pipeline attempted. Recording is fire
// and forget: callers never see an error.
package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/kalambet/civicdesk/internal/storage"
)

// Entry is one activity line about an entity.
type Entry struct {
	EntityType string
	EntityID   string
	Action     string
	Details    map[string]any
}

// Log accepts activity entries.
type Log interface {
	Record(ctx context.Context, e Entry)
}

// RequestEntry builds an entry about a request record.
func RequestEntry(id int64, action string, details map[string]any) Entry {
	return Entry{EntityType: "request", EntityID: strconv.FormatInt(id, 10), Action: action, Details: details}
}

// Store persists entries to the activity_log table.
type Store struct {
	store  *storage.Store
	logger *slog.Logger
}

func NewStore(store *storage.Store) *Store {
	return &Store{store: store, logger: slog.Default()}
}

func (s *Store) Record(ctx context.Context, e Entry) {
	details := "{}"
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			s.logger.Warn("activity: marshalling details", "action", e.Action, "error", err)
		} else {
			details = string(b)
		}
	}

	// The caller's deadline may already be spent (e.g. a timed-out model call);
	// the record should still land.
	err := s.store.RecordActivity(context.WithoutCancel(ctx), storage.ActivityEntry{
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		Details:    details,
	})
	if err != nil {
		s.logger.Warn("activity: recording entry", "action", e.Action, "entity", e.EntityType, "id", e.EntityID, "error", err)
	}
}

// Slog writes entries to a structured logger only.
type Slog struct {
	Logger *slog.Logger
}

func (l Slog) Record(ctx context.Context, e Entry) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "activity", "entity", e.EntityType, "id", e.EntityID, "action", e.Action, "details", e.Details)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}
