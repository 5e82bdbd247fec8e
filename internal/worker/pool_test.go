package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatcher/internal/metrics"
	"pricewatcher/internal/storage"
)

type memQueue struct {
	mu      sync.Mutex
	pending []storage.Job
	acked   map[uuid.UUID]storage.JobStatus
	reaps   int
}

func newMemQueue(jobs ...storage.Job) *memQueue {
	return &memQueue{pending: jobs, acked: map[uuid.UUID]storage.JobStatus{}}
}

func (q *memQueue) Enqueue(_ context.Context, kind storage.JobKind, _ any, runID *uuid.UUID) (uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.New()
	q.pending = append(q.pending, storage.Job{ID: id, Kind: kind, RunID: runID, Status: storage.JobStatusPending})
	return id, nil
}

func (q *memQueue) Dequeue(_ context.Context, kinds []storage.JobKind, _ time.Duration) (*storage.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, job := range q.pending {
		for _, kind := range kinds {
			if job.Kind == kind {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				leased := job
				leased.Status = storage.JobStatusRunning
				return &leased, nil
			}
		}
	}
	return nil, nil
}

func (q *memQueue) Ack(_ context.Context, id uuid.UUID, status storage.JobStatus, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked[id] = status
	return nil
}

func (q *memQueue) GetJob(context.Context, uuid.UUID) (storage.Job, error) {
	return storage.Job{}, storage.ErrJobNotFound
}

func (q *memQueue) CountUnfinishedChildren(context.Context, uuid.UUID) (int64, error) {
	return 0, nil
}

func (q *memQueue) CountFailedChildren(context.Context, uuid.UUID) (int64, error) { return 0, nil }

func (q *memQueue) CountAllChildren(context.Context, uuid.UUID) (int64, error) { return 0, nil }

func (q *memQueue) HasUnfinished(context.Context, storage.JobKind) (bool, error) { return false, nil }

func (q *memQueue) ReapStale(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reaps++
	return 0, nil
}

func (q *memQueue) ackedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acked)
}

type countingHandler struct {
	mu     sync.Mutex
	seen   []uuid.UUID
	status storage.JobStatus
}

func (h *countingHandler) handle(job storage.Job) (storage.JobStatus, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, job.ID)
	if h.status == "" {
		return storage.JobStatusDone, ""
	}
	return h.status, "forced"
}

func (h *countingHandler) HandleCheck(_ context.Context, job storage.Job) (storage.JobStatus, string) {
	return h.handle(job)
}

func (h *countingHandler) HandleDigest(_ context.Context, job storage.Job) (storage.JobStatus, string) {
	return h.handle(job)
}

func runPoolUntil(t *testing.T, pool *Pool, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- pool.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for !done() {
		select {
		case <-deadline:
			cancel()
			t.Fatal("pool did not finish the work in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	require.NoError(t, <-finished)
}

func TestPoolDrainsCheckJobs(t *testing.T) {
	jobs := []storage.Job{
		{ID: uuid.New(), Kind: storage.JobKindCheck, Payload: []byte(`{}`)},
		{ID: uuid.New(), Kind: storage.JobKindCheck, Payload: []byte(`{}`)},
		{ID: uuid.New(), Kind: storage.JobKindCheck, Payload: []byte(`{}`)},
	}
	queue := newMemQueue(jobs...)
	checks := &countingHandler{}

	pool := NewPool(PoolOptions{Workers: 2, PollInterval: 5 * time.Millisecond},
		queue, checks, nil, metrics.New(false), testLogger())

	runPoolUntil(t, pool, func() bool { return queue.ackedCount() == len(jobs) })

	for _, job := range jobs {
		assert.Equal(t, storage.JobStatusDone, queue.acked[job.ID])
	}
}

func TestPoolAcksFailedStatus(t *testing.T) {
	job := storage.Job{ID: uuid.New(), Kind: storage.JobKindCheck, Payload: []byte(`{}`)}
	queue := newMemQueue(job)
	checks := &countingHandler{status: storage.JobStatusFailed}

	pool := NewPool(PoolOptions{Workers: 1, PollInterval: 5 * time.Millisecond},
		queue, checks, nil, metrics.New(false), testLogger())

	runPoolUntil(t, pool, func() bool { return queue.ackedCount() == 1 })

	assert.Equal(t, storage.JobStatusFailed, queue.acked[job.ID])
}

func TestPoolRoutesDigestJobs(t *testing.T) {
	job := storage.Job{ID: uuid.New(), Kind: storage.JobKindDigest, Payload: []byte(`{}`)}
	queue := newMemQueue(job)
	checks := &countingHandler{}
	digests := &countingHandler{}

	pool := NewPool(PoolOptions{Workers: 1, PollInterval: 5 * time.Millisecond},
		queue, checks, digests, metrics.New(false), testLogger())

	runPoolUntil(t, pool, func() bool { return queue.ackedCount() == 1 })

	assert.Empty(t, checks.seen)
	require.Len(t, digests.seen, 1)
	assert.Equal(t, job.ID, digests.seen[0])
}

func TestPoolWithoutDigestHandlerIgnoresDigestJobs(t *testing.T) {
	job := storage.Job{ID: uuid.New(), Kind: storage.JobKindDigest, Payload: []byte(`{}`)}
	queue := newMemQueue(job)
	checks := &countingHandler{}

	pool := NewPool(PoolOptions{Workers: 1, PollInterval: 5 * time.Millisecond},
		queue, checks, nil, metrics.New(false), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	require.NoError(t, pool.Run(ctx))

	// No digest consumer: the job stays in the queue for another instance.
	assert.Zero(t, queue.ackedCount())
	assert.Empty(t, checks.seen)
}

func TestPoolReapsStaleLeases(t *testing.T) {
	queue := newMemQueue()
	pool := NewPool(PoolOptions{Workers: 1, PollInterval: 5 * time.Millisecond, ReapInterval: 5 * time.Millisecond},
		queue, &countingHandler{}, nil, metrics.New(false), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()
	require.NoError(t, pool.Run(ctx))

	queue.mu.Lock()
	reaps := queue.reaps
	queue.mu.Unlock()
	assert.Greater(t, reaps, 0)
}
