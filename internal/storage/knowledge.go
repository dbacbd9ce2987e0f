package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *Store) SaveKnowledgeDoc(ctx context.Context, doc KnowledgeDoc) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	if doc.Tags == "" {
		doc.Tags = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_docs (id, title, content, source, tags, created_at, vector_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Content, doc.Source, doc.Tags, formatTime(doc.CreatedAt), doc.VectorID,
	)
	return err
}

func (s *Store) GetKnowledgeDoc(ctx context.Context, id string) (KnowledgeDoc, error) {
	var d KnowledgeDoc
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, source, tags, created_at, vector_id
		FROM knowledge_docs WHERE id = ?`, id,
	).Scan(&d.ID, &d.Title, &d.Content, &d.Source, &d.Tags, &createdAt, &d.VectorID)
	if errors.Is(err, sql.ErrNoRows) {
		return KnowledgeDoc{}, ErrNotFound
	}
	if err != nil {
		return KnowledgeDoc{}, err
	}
	if d.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return KnowledgeDoc{}, err
	}
	return d, nil
}

// ListKnowledgeDocs returns docs oldest first so corpus order is stable.
func (s *Store) ListKnowledgeDocs(ctx context.Context, limit int) ([]KnowledgeDoc, error) {
	return s.queryKnowledgeDocs(ctx, `
		SELECT id, title, content, source, tags, created_at, vector_id
		FROM knowledge_docs ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
}

// ListUnindexedKnowledgeDocs returns docs that have no vector yet, oldest first.
func (s *Store) ListUnindexedKnowledgeDocs(ctx context.Context, limit int) ([]KnowledgeDoc, error) {
	return s.queryKnowledgeDocs(ctx, `
		SELECT id, title, content, source, tags, created_at, vector_id
		FROM knowledge_docs WHERE vector_id = '' ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
}

func (s *Store) queryKnowledgeDocs(ctx context.Context, query string, args ...any) ([]KnowledgeDoc, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []KnowledgeDoc
	for rows.Next() {
		var d KnowledgeDoc
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.Source, &d.Tags, &createdAt, &d.VectorID); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func (s *Store) UpdateKnowledgeDocVectorID(ctx context.Context, id, vectorID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE knowledge_docs SET vector_id = ? WHERE id = ?`, vectorID, id)
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

// UpdateKnowledgeDoc replaces a doc's text and tags. The vector ID is kept
// until the doc is re-indexed.
func (s *Store) UpdateKnowledgeDoc(ctx context.Context, doc KnowledgeDoc) error {
	if doc.Tags == "" {
		doc.Tags = "[]"
	}
	res, err := s.db.ExecContext(ctx, `UPDATE knowledge_docs SET title = ?, content = ?, source = ?, tags = ? WHERE id = ?`,
		doc.Title, doc.Content, doc.Source, doc.Tags, doc.ID)
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
