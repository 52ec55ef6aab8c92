package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Notifier receives job lifecycle events.
// ---------------------------------------------------------------------------

// Notifier pushes events to connected clients. api.SSEBroadcaster satisfies
// it.
type Notifier interface {
	Notify(event string, data any)
}

// Events published while jobs run.
const (
	EventJobStarted   = "embedding.job_started"
	EventJobProgress  = "embedding.progress"
	EventJobCompleted = "embedding.job_completed"
)

// ErrQueueFull is returned by Enqueue when no more jobs can be buffered.
var ErrQueueFull = errors.New("ai/jobs: queue full")

// ---------------------------------------------------------------------------
// Job types
// ---------------------------------------------------------------------------

// JobKind identifies the type of embedding work to perform.
type JobKind string

const (
	JobEmbedEntity      JobKind = "embed_entity"
	JobEmbedAll         JobKind = "embed_all"
	JobSimilaritySearch JobKind = "similarity_search"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobEmbedEntity, JobEmbedAll, JobSimilaritySearch:
		return true
	}
	return false
}

// JobStatus tracks the lifecycle of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job represents a queued or finished embedding task.
type Job struct {
	ID        string          `json:"id"`
	Kind      JobKind         `json:"kind"`
	Status    JobStatus       `json:"status"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	DoneAt    *time.Time      `json:"done_at,omitempty"`
}

func (j *Job) finished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// ---------------------------------------------------------------------------
// JobQueue
// ---------------------------------------------------------------------------

const (
	defaultQueueSize = 64
	jobRetention     = time.Hour
	evictionInterval = 15 * time.Minute
)

// JobQueue runs embedding jobs asynchronously on a small worker pool so that
// long batches do not block HTTP handlers.
type JobQueue struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	queue    chan string
	svc      *EmbeddingService
	notifier Notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewJobQueue creates a job queue with the given number of workers.
// notifier may be nil.
func NewJobQueue(svc *EmbeddingService, notifier Notifier, workers int) *JobQueue {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &JobQueue{
		jobs:     make(map[string]*Job),
		queue:    make(chan string, defaultQueueSize),
		svc:      svc,
		notifier: notifier,
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.wg.Add(1)
	go q.evictLoop()

	slog.Info("embedding job queue started", "workers", workers)
	return q
}

// Enqueue creates a new job and puts it on the processing queue. It returns
// the job immediately; a full queue yields ErrQueueFull and a failed job.
func (q *JobQueue) Enqueue(kind JobKind, params json.RawMessage) (*Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("ai/jobs: unknown job kind %q", kind)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    JobStatusPending,
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	select {
	case q.queue <- job.ID:
		slog.Debug("embedding job enqueued", "job_id", job.ID, "kind", string(kind))
	default:
		q.mu.Lock()
		job.Status = JobStatusFailed
		job.Error = ErrQueueFull.Error()
		now := time.Now().UTC()
		job.DoneAt = &now
		cp := *job
		q.mu.Unlock()
		return &cp, ErrQueueFull
	}

	q.mu.RLock()
	cp := *job
	q.mu.RUnlock()
	return &cp, nil
}

// GetJob returns a copy of the current state of a job.
func (q *JobQueue) GetJob(id string) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *j
	return &cp, true
}

// ListJobs returns jobs ordered by creation time, newest first.
func (q *JobQueue) ListJobs(limit int) []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	all := make([]*Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		cp := *j
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Close signals workers to stop and waits for them to finish.
// Safe to call multiple times.
func (q *JobQueue) Close() {
	q.closeOnce.Do(func() {
		q.cancel()
		q.wg.Wait()
		slog.Info("embedding job queue shut down")
	})
}

func (q *JobQueue) evictLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case now := <-ticker.C:
			if n := q.evictBefore(now.UTC().Add(-jobRetention)); n > 0 {
				slog.Debug("job eviction", "evicted", n)
			}
		}
	}
}

// evictBefore drops finished jobs that completed before cutoff.
func (q *JobQueue) evictBefore(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var evicted int
	for id, job := range q.jobs {
		if job.finished() && job.DoneAt != nil && job.DoneAt.Before(cutoff) {
			delete(q.jobs, id)
			evicted++
		}
	}
	return evicted
}

// ---------------------------------------------------------------------------
// Worker loop
// ---------------------------------------------------------------------------

func (q *JobQueue) worker(id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case jobID := <-q.queue:
			q.processJob(jobID, id)
		}
	}
}

func (q *JobQueue) processJob(jobID string, workerID int) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.Status = JobStatusRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	kind, params := job.Kind, job.Params
	q.mu.Unlock()

	slog.Debug("embedding job processing", "worker", workerID, "job_id", jobID, "kind", string(kind))
	q.notify(EventJobStarted, map[string]any{"job_id": jobID, "kind": kind})

	result, err := q.executeJob(q.ctx, jobID, kind, params)

	q.mu.Lock()
	doneAt := time.Now().UTC()
	job.DoneAt = &doneAt
	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
		slog.Error("embedding job failed", "worker", workerID, "job_id", jobID, "error", err)
	} else {
		job.Status = JobStatusCompleted
		job.Result = result
		slog.Info("embedding job complete", "worker", workerID, "job_id", jobID, "kind", string(kind))
	}
	status, errMsg := job.Status, job.Error
	q.mu.Unlock()

	q.notify(EventJobCompleted, map[string]any{
		"job_id": jobID,
		"kind":   kind,
		"status": status,
		"error":  errMsg,
	})
}

// ---------------------------------------------------------------------------
// Job execution dispatch
// ---------------------------------------------------------------------------

// EmbedEntityParams are the params of a JobEmbedEntity job.
type EmbedEntityParams struct {
	EntityID string `json:"entity_id" validate:"required"`
	Force    bool   `json:"force,omitempty"`
}

// EmbedAllParams are the params of a JobEmbedAll job.
type EmbedAllParams struct {
	Force bool `json:"force,omitempty"`
}

// SimilaritySearchParams are the params of a JobSimilaritySearch job.
type SimilaritySearchParams struct {
	Query string `json:"query" validate:"required"`
	TopK  int    `json:"top_k,omitempty" validate:"gte=0,lte=100"`
}

func (q *JobQueue) executeJob(ctx context.Context, jobID string, kind JobKind, raw json.RawMessage) (json.RawMessage, error) {
	if q.svc == nil {
		return nil, fmt.Errorf("embedding service not configured")
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	switch kind {
	case JobEmbedEntity:
		var p EmbedEntityParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
		emb, err := q.svc.EmbedEntity(ctx, p.EntityID, p.Force)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{
			"entity_id":  emb.EntityID,
			"dimensions": emb.Dimensions,
			"model":      emb.Model,
		})

	case JobEmbedAll:
		var p EmbedAllParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
		prog, err := q.svc.EmbedAll(ctx, p.Force, func(p EmbedProgress) {
			q.notify(EventJobProgress, map[string]any{"job_id": jobID, "progress": p})
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(prog)

	case JobSimilaritySearch:
		var p SimilaritySearchParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
		results, err := q.svc.SimilaritySearch(ctx, p.Query, p.TopK)
		if err != nil {
			return nil, err
		}
		return json.Marshal(results)

	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
}

func (q *JobQueue) notify(event string, data any) {
	if q.notifier == nil {
		return
	}
	q.notifier.Notify(event, data)
}
