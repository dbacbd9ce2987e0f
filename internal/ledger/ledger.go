// Package ledger keeps an append-only, hash-chained audit trail of pipeline
// outcomes. Each entry's reference is sha256(previous reference + payload),
// so altering any stored entry breaks every reference after it.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/civicdesk/internal/storage"
)

var (
	// ErrWrite wraps every append failure.
	ErrWrite = errors.New("ledger write failed")

	// ErrChainBroken is returned by Verify when a stored reference does not
	// match its recomputed hash.
	ErrChainBroken = errors.New("ledger chain broken")
)

// Entry is an audit record to append.
type Entry struct {
	EntityType string
	EntityID   string
	Action     string
	Metadata   map[string]any
}

// Ledger appends entries and returns their reference.
type Ledger interface {
	Append(ctx context.Context, e Entry) (string, error)
}

// seal fills in the chain fields of a stored entry.
func seal(prevHash string, e Entry, now time.Time) (storage.LedgerEntry, error) {
	meta := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return storage.LedgerEntry{}, fmt.Errorf("marshalling metadata: %w", err)
		}
		meta = string(b)
	}
	le := storage.LedgerEntry{
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		Metadata:   meta,
		PrevHash:   prevHash,
		// Stored timestamps have second precision; hash what will be stored.
		CreatedAt: now.UTC().Truncate(time.Second),
	}
	le.ID = hash(le)
	return le, nil
}

func hash(e storage.LedgerEntry) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		e.PrevHash,
		e.EntityType,
		e.EntityID,
		e.Action,
		e.Metadata,
		e.CreatedAt.UTC().Format(time.RFC3339),
	}, "\n")))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks that entries, in append order, form an unbroken chain
// starting from the empty hash.
func Verify(entries []storage.LedgerEntry) error {
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d links to %q, want %q", ErrChainBroken, i, e.PrevHash, prev)
		}
		if got := hash(e); got != e.ID {
			return fmt.Errorf("%w: entry %d hash %s, stored %s", ErrChainBroken, i, got, e.ID)
		}
		prev = e.ID
	}
	return nil
}

// Memory is an in-process ledger, used in tests and when no database is
// configured.
type Memory struct {
	mu      sync.Mutex
	entries []storage.LedgerEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) Append(_ context.Context, e Entry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := ""
	if n := len(m.entries); n > 0 {
		prev = m.entries[n-1].ID
	}
	le, err := seal(prev, e, m.now())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	le.Seq = int64(len(m.entries) + 1)
	m.entries = append(m.entries, le)
	return le.ID, nil
}

// Entries returns a copy of the chain in append order.
func (m *Memory) Entries() []storage.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.LedgerEntry(nil), m.entries...)
}

func (m *Memory) Verify() error {
	return Verify(m.Entries())
}

// SQLite persists the chain in the ledger_entries table.
type SQLite struct {
	store *storage.Store
	now   func() time.Time
}

func NewSQLite(store *storage.Store) *SQLite {
	return &SQLite{store: store, now: time.Now}
}

func (l *SQLite) Append(ctx context.Context, e Entry) (string, error) {
	le, err := l.store.AppendLedgerEntry(ctx, func(prev string) (storage.LedgerEntry, error) {
		return seal(prev, e, l.now())
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return le.ID, nil
}

// Entries lists the chain for one entity, or the whole chain when
// entityType is empty.
func (l *SQLite) Entries(ctx context.Context, entityType, entityID string) ([]storage.LedgerEntry, error) {
	return l.store.ListLedgerEntries(ctx, entityType, entityID)
}

// Verify recomputes the whole stored chain.
func (l *SQLite) Verify(ctx context.Context) error {
	entries, err := l.store.ListLedgerEntries(ctx, "", "")
	if err != nil {
		return fmt.Errorf("listing ledger entries: %w", err)
	}
	return Verify(entries)
}
