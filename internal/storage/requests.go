package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const requestColumns = `id, source_type, subject, description, citizen_name, status, ai_classification,
	ai_confidence, priority, assigned_to, department_id, position_id, agent_id, summary,
	ai_suggestion, ai_processed, response_text, ledger_ref, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var r Request
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.SourceType, &r.Subject, &r.Description, &r.CitizenName, &r.Status,
		&r.AIClassification, &r.AIConfidence, &r.Priority, &r.AssignedTo, &r.DepartmentID,
		&r.PositionID, &r.AgentID, &r.Summary, &r.AISuggestion, &r.AIProcessed, &r.ResponseText,
		&r.LedgerRef, &createdAt, &updatedAt)
	if err != nil {
		return Request{}, err
	}
	if r.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Request{}, err
	}
	if r.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Request{}, err
	}
	return r, nil
}

// CreateRequest inserts a new request and returns its ID. Empty source type
// and status default to citizen_request and new.
func (s *Store) CreateRequest(ctx context.Context, r Request) (int64, error) {
	if r.SourceType == "" {
		r.SourceType = SourceCitizenRequest
	}
	if r.Status == "" {
		r.Status = StatusNew
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (source_type, subject, description, citizen_name, status, ai_classification,
			ai_confidence, priority, assigned_to, department_id, position_id, agent_id, summary,
			ai_suggestion, ai_processed, response_text, ledger_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SourceType, r.Subject, r.Description, r.CitizenName, r.Status, r.AIClassification,
		r.AIConfidence, r.Priority, r.AssignedTo, r.DepartmentID, r.PositionID, r.AgentID, r.Summary,
		r.AISuggestion, r.AIProcessed, r.ResponseText, r.LedgerRef, formatTime(r.CreatedAt), formatTime(now),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetRequest(ctx context.Context, id int64) (Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	return r, err
}

// UpdateRequest overwrites every mutable column of the request. Concurrent
// writers are last-write-wins.
func (s *Store) UpdateRequest(ctx context.Context, r Request) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET source_type = ?, subject = ?, description = ?, citizen_name = ?, status = ?,
			ai_classification = ?, ai_confidence = ?, priority = ?, assigned_to = ?, department_id = ?,
			position_id = ?, agent_id = ?, summary = ?, ai_suggestion = ?, ai_processed = ?,
			response_text = ?, ledger_ref = ?, updated_at = ?
		WHERE id = ?`,
		r.SourceType, r.Subject, r.Description, r.CitizenName, r.Status,
		r.AIClassification, r.AIConfidence, r.Priority, r.AssignedTo, r.DepartmentID,
		r.PositionID, r.AgentID, r.Summary, r.AISuggestion, r.AIProcessed,
		r.ResponseText, r.LedgerRef, formatTime(time.Now()), r.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListRequests(ctx context.Context, status string, limit int) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
