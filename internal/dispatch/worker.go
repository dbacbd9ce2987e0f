package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/civicdesk/internal/metrics"
	"github.com/kalambet/civicdesk/internal/storage"
	"golang.org/x/sync/errgroup"
)

// JobStore abstracts the queue and knowledge doc operations the worker needs.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	ReleaseJob(ctx context.Context, id string, reason string) error
	GetKnowledgeDoc(ctx context.Context, id string) (storage.KnowledgeDoc, error)
	ListUnindexedKnowledgeDocs(ctx context.Context, limit int) ([]storage.KnowledgeDoc, error)
	UpdateKnowledgeDocVectorID(ctx context.Context, id, vectorID string) error
}

// Pipeline is the request side of the work. *pipeline.Orchestrator
// satisfies it.
type Pipeline interface {
	ProcessNew(ctx context.Context, id int64) (storage.Request, error)
	GenerateResponse(ctx context.Context, id int64) (storage.Request, error)
}

// Indexer embeds knowledge docs into the vector store and returns the vector
// IDs. *retrieval.VectorRetriever satisfies it.
type Indexer interface {
	Index(ctx context.Context, doc storage.KnowledgeDoc) (string, error)
	IndexBatch(ctx context.Context, docs []storage.KnowledgeDoc) ([]string, error)
}

// indexBatchSize bounds how many docs one IndexBatch call embeds.
const indexBatchSize = 32

// Options configure a Worker.
type Options struct {
	// Concurrency is the number of jobs processed at once. Defaults to 1.
	Concurrency int
	// PollInterval is how long an idle slot waits before claiming again.
	// Defaults to 500ms.
	PollInterval time.Duration
	// Indexer is nil with the keyword retrieval backend.
	Indexer Indexer
	// Refresh, if set, runs after a knowledge doc is indexed so in-memory
	// indexes pick it up.
	Refresh func(ctx context.Context) error
}

// Worker processes jobs from the SQLite job queue.
type Worker struct {
	store       JobStore
	pipeline    Pipeline
	indexer     Indexer
	refresh     func(ctx context.Context) error
	concurrency int
	poll        time.Duration
	logger      *slog.Logger
}

func NewWorker(store JobStore, p Pipeline, opts Options) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:       store,
		pipeline:    p,
		indexer:     opts.Indexer,
		refresh:     opts.Refresh,
		concurrency: opts.Concurrency,
		poll:        opts.PollInterval,
		logger:      slog.Default(),
	}
}

// Run polls for jobs with Concurrency slots until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. Returns true if a job was
// processed, whether or not it succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, JobTypes)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	start := time.Now()
	err = w.processJob(ctx, job)
	if ctx.Err() != nil {
		// Cancellation can surface as a soft pipeline failure; release
		// instead of completing.
		metrics.JobsProcessed.WithLabelValues(job.Type, metrics.OutcomeInterrupted).Inc()
		w.logger.Info("job interrupted, returning to queue", "job_id", job.ID, "type", job.Type)
		if relErr := w.store.ReleaseJob(context.WithoutCancel(ctx), job.ID, "interrupted by shutdown"); relErr != nil {
			return true, fmt.Errorf("releasing job %s: %w", job.ID, relErr)
		}
		return true, nil
	}
	if err != nil {
		metrics.JobsProcessed.WithLabelValues(job.Type, metrics.OutcomeFailure).Inc()
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(context.WithoutCancel(ctx), job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	metrics.JobsProcessed.WithLabelValues(job.Type, metrics.OutcomeSuccess).Inc()
	w.logger.Info("job completed", "job_id", job.ID, "type", job.Type, "duration", time.Since(start))
	if err := w.store.CompleteJob(context.WithoutCancel(ctx), job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case JobProcessRequest, JobGenerateResponse:
		var payload requestPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		if job.Type == JobProcessRequest {
			_, err := w.pipeline.ProcessNew(ctx, payload.RequestID)
			return err
		}
		_, err := w.pipeline.GenerateResponse(ctx, payload.RequestID)
		return err
	case JobIndexKnowledge:
		var payload knowledgePayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		return w.index(ctx, payload.DocID, payload.Reindex)
	case JobIndexPending:
		return w.indexPending(ctx)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (w *Worker) index(ctx context.Context, docID string, reindex bool) error {
	doc, err := w.store.GetKnowledgeDoc(ctx, docID)
	if err != nil {
		return fmt.Errorf("loading knowledge doc %s: %w", docID, err)
	}

	if w.indexer != nil && (doc.VectorID == "" || reindex) {
		vectorID, err := w.indexer.Index(ctx, doc)
		if err != nil {
			return fmt.Errorf("indexing knowledge doc %s: %w", doc.ID, err)
		}
		if err := w.store.UpdateKnowledgeDocVectorID(ctx, doc.ID, vectorID); err != nil {
			return fmt.Errorf("updating vector_id: %w", err)
		}
	}

	return w.runRefresh(ctx)
}

// indexPending embeds unindexed docs in batches until none are left.
func (w *Worker) indexPending(ctx context.Context) error {
	if w.indexer == nil {
		return w.runRefresh(ctx)
	}
	total := 0
	for {
		docs, err := w.store.ListUnindexedKnowledgeDocs(ctx, indexBatchSize)
		if err != nil {
			return fmt.Errorf("listing unindexed knowledge docs: %w", err)
		}
		if len(docs) == 0 {
			break
		}
		ids, err := w.indexer.IndexBatch(ctx, docs)
		if err != nil {
			return fmt.Errorf("indexing %d knowledge docs: %w", len(docs), err)
		}
		if len(ids) != len(docs) {
			return fmt.Errorf("indexer returned %d ids for %d docs", len(ids), len(docs))
		}
		for i, doc := range docs {
			if err := w.store.UpdateKnowledgeDocVectorID(ctx, doc.ID, ids[i]); err != nil {
				return fmt.Errorf("updating vector_id for %s: %w", doc.ID, err)
			}
		}
		total += len(docs)
	}
	if total > 0 {
		w.logger.Info("indexed pending knowledge docs", "count", total)
	}
	return w.runRefresh(ctx)
}

func (w *Worker) runRefresh(ctx context.Context) error {
	if w.refresh == nil {
		return nil
	}
	if err := w.refresh(ctx); err != nil {
		return fmt.Errorf("refreshing index: %w", err)
	}
	return nil
}
