package ai

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Notify(event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func waitForJob(t *testing.T, q *JobQueue, id string) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		j, ok := q.GetJob(id)
		if !ok {
			return false
		}
		job = j
		return j.finished()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestJobQueue_EmbedAll(t *testing.T) {
	svc, err := NewEmbeddingService(context.Background(), &fakeEmbedder{}, buildTestStore(t))
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	q := NewJobQueue(svc, notifier, 1)
	defer q.Close()

	job, err := q.Enqueue(JobEmbedAll, json.RawMessage(`{"force":false}`))
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)

	done := waitForJob(t, q, job.ID)
	require.Equal(t, JobStatusCompleted, done.Status, done.Error)

	var prog EmbedProgress
	require.NoError(t, json.Unmarshal(done.Result, &prog))
	assert.Equal(t, 4, prog.Completed)

	events := notifier.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, EventJobStarted, events[0])
	assert.Contains(t, events, EventJobProgress)
	assert.Equal(t, EventJobCompleted, events[len(events)-1])
}

func TestJobQueue_FailureAndUnknownKind(t *testing.T) {
	svc, err := NewEmbeddingService(context.Background(), &fakeEmbedder{}, buildTestStore(t))
	require.NoError(t, err)
	q := NewJobQueue(svc, nil, 2)
	defer q.Close()

	job, err := q.Enqueue(JobEmbedEntity, json.RawMessage(`{"entity_id":"ghost"}`))
	require.NoError(t, err)
	done := waitForJob(t, q, job.ID)
	assert.Equal(t, JobStatusFailed, done.Status)
	assert.Contains(t, done.Error, "ghost")

	_, err = q.Enqueue("explain", nil)
	assert.Error(t, err)
}

func TestJobQueue_ListAndEvict(t *testing.T) {
	svc, err := NewEmbeddingService(context.Background(), &fakeEmbedder{}, buildTestStore(t))
	require.NoError(t, err)
	q := NewJobQueue(svc, nil, 1)
	defer q.Close()

	first, err := q.Enqueue(JobEmbedEntity, json.RawMessage(`{"entity_id":"v1"}`))
	require.NoError(t, err)
	waitForJob(t, q, first.ID)
	time.Sleep(2 * time.Millisecond)
	second, err := q.Enqueue(JobSimilaritySearch, json.RawMessage(`{"query":"vessel","top_k":1}`))
	require.NoError(t, err)
	waitForJob(t, q, second.ID)

	list := q.ListJobs(0)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Len(t, q.ListJobs(1), 1)

	assert.Equal(t, 0, q.evictBefore(time.Now().UTC().Add(-time.Hour)))
	assert.Equal(t, 2, q.evictBefore(time.Now().UTC().Add(time.Second)))
	_, ok := q.GetJob(first.ID)
	assert.False(t, ok)
}

func TestJobQueue_CloseIsIdempotent(t *testing.T) {
	q := NewJobQueue(nil, nil, 1)
	q.Close()
	q.Close()
}
