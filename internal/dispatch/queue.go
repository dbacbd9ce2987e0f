// Package dispatch runs request processing and knowledge indexing in the
// background, off a job queue kept in SQLite.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/kalambet/civicdesk/internal/storage"
)

// Job types.
const (
	JobProcessRequest   = "process_request"
	JobGenerateResponse = "generate_response"
	JobIndexKnowledge   = "index_knowledge"
	JobIndexPending     = "index_pending_knowledge"
)

// JobTypes lists every type the worker claims.
var JobTypes = []string{JobProcessRequest, JobGenerateResponse, JobIndexKnowledge, JobIndexPending}

type requestPayload struct {
	RequestID int64 `json:"request_id"`
}

type knowledgePayload struct {
	DocID string `json:"doc_id"`
	// Reindex re-embeds a doc that already has a vector.
	Reindex bool `json:"reindex,omitempty"`
}

// Enqueuer adds jobs to the queue. Implemented by storage.Store.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Queue enqueues typed jobs.
type Queue struct {
	store       Enqueuer
	maxAttempts int
}

// NewQueue returns a Queue. maxAttempts <= 0 leaves the storage default.
func NewQueue(store Enqueuer, maxAttempts int) *Queue {
	return &Queue{store: store, maxAttempts: max(0, maxAttempts)}
}

// ProcessRequest schedules classification and routing of a request.
func (q *Queue) ProcessRequest(ctx context.Context, requestID int64) (string, error) {
	return q.enqueue(ctx, JobProcessRequest, requestPayload{RequestID: requestID})
}

// GenerateResponse schedules drafting a reply to a request.
func (q *Queue) GenerateResponse(ctx context.Context, requestID int64) (string, error) {
	return q.enqueue(ctx, JobGenerateResponse, requestPayload{RequestID: requestID})
}

// IndexKnowledge schedules indexing of a stored knowledge doc.
func (q *Queue) IndexKnowledge(ctx context.Context, docID string) (string, error) {
	return q.enqueue(ctx, JobIndexKnowledge, knowledgePayload{DocID: docID})
}

// ReindexKnowledge schedules re-embedding of a knowledge doc whose content
// changed. The old vector is replaced.
func (q *Queue) ReindexKnowledge(ctx context.Context, docID string) (string, error) {
	return q.enqueue(ctx, JobIndexKnowledge, knowledgePayload{DocID: docID, Reindex: true})
}

// IndexPending schedules batch indexing of every knowledge doc without a
// vector.
func (q *Queue) IndexPending(ctx context.Context) (string, error) {
	return q.enqueue(ctx, JobIndexPending, struct{}{})
}

func (q *Queue) enqueue(ctx context.Context, jobType string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding %s payload: %w", jobType, err)
	}
	job := storage.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		PayloadJSON: string(b),
		MaxAttempts: q.maxAttempts,
	}
	if err := q.store.EnqueueJob(ctx, job); err != nil {
		return "", fmt.Errorf("enqueueing %s job: %w", jobType, err)
	}
	return job.ID, nil
}
