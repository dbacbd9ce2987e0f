package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// --- Ledger ---

// AppendLedgerEntry reads the hash of the newest entry and passes it to build,
// then inserts the returned entry in the same transaction so the chain stays
// linear under concurrent appends.
func (s *Store) AppendLedgerEntry(ctx context.Context, build func(prevHash string) (LedgerEntry, error)) (LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("beginning ledger transaction: %w", err)
	}
	defer tx.Rollback()

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT id FROM ledger_entries ORDER BY seq DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return LedgerEntry{}, fmt.Errorf("reading ledger head: %w", err)
	}

	e, err := build(prev)
	if err != nil {
		return LedgerEntry{}, err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, entity_type, entity_id, action, metadata, prev_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EntityType, e.EntityID, e.Action, e.Metadata, e.PrevHash, formatTime(e.CreatedAt),
	)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("inserting ledger entry: %w", err)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return LedgerEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return LedgerEntry{}, fmt.Errorf("committing ledger entry: %w", err)
	}
	return e, nil
}

// ListLedgerEntries returns entries for one entity, or the whole chain when
// entityType is empty, in append order.
func (s *Store) ListLedgerEntries(ctx context.Context, entityType, entityID string) ([]LedgerEntry, error) {
	query := `SELECT seq, id, entity_type, entity_id, action, metadata, prev_hash, created_at FROM ledger_entries`
	var args []any
	if entityType != "" {
		query += ` WHERE entity_type = ? AND entity_id = ?`
		args = append(args, entityType, entityID)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var createdAt string
		if err := rows.Scan(&e.Seq, &e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.Metadata, &e.PrevHash, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Activity ---

func (s *Store) RecordActivity(ctx context.Context, a ActivityEntry) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Details == "" {
		a.Details = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (entity_type, entity_id, action, details, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.EntityType, a.EntityID, a.Action, a.Details, formatTime(a.CreatedAt),
	)
	return err
}

// ListActivity returns the newest entries first. Empty entityType lists all.
func (s *Store) ListActivity(ctx context.Context, entityType, entityID string, limit int) ([]ActivityEntry, error) {
	query := `SELECT id, entity_type, entity_id, action, details, created_at FROM activity_log`
	var args []any
	if entityType != "" {
		query += ` WHERE entity_type = ? AND entity_id = ?`
		args = append(args, entityType, entityID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActivityEntry
	for rows.Next() {
		var a ActivityEntry
		var createdAt string
		if err := rows.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.Action, &a.Details, &createdAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
