package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	"github.com/vladislavdragonenkov/farmoms/internal/metrics"
	"github.com/vladislavdragonenkov/farmoms/internal/storage/memory"
)

func TestCleanupWorker_DeleteExpired_Batches(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{deleteResults: []int{2, 2, 1}}
	worker := NewCleanupWorker(repo, WithBatchSize(2), WithMetrics(metrics.NewWorkerMetrics(prometheus.NewRegistry())))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 5, deleted)
	require.Equal(t, 3, repo.calls())
}

func TestCleanupWorker_DeleteExpired_Error(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{deleteErrors: []error{errors.New("boom")}}
	worker := NewCleanupWorker(repo, WithBatchSize(10))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	require.Error(t, err)
	require.Zero(t, deleted)
}

func TestCleanupWorker_DeleteExpired_MemoryRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_, err := repo.CreateProcessing(ctx, fmt.Sprintf("expired-%d", i), "hash", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "alive", "hash", now.Add(time.Hour))
	require.NoError(t, err)

	worker := NewCleanupWorker(repo, WithBatchSize(2))
	deleted, err := worker.DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 5, deleted)

	_, err = repo.Get(ctx, "alive")
	require.NoError(t, err)
	_, err = repo.Get(ctx, "expired-0")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestCleanupWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{}
	worker := NewCleanupWorker(repo, WithInterval(5*time.Millisecond), WithBatchSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return repo.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestCleanupWorker_LeaseGatesRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := &stubCleanupRepo{}
	lease := &stubLease{}
	worker := NewCleanupWorker(repo, WithLease(lease), WithInterval(time.Minute))

	worker.tick(ctx)
	require.Zero(t, repo.calls(), "without lease the run is skipped")
	require.Equal(t, time.Minute, lease.lastTTL)

	lease.err = errors.New("redis down")
	worker.tick(ctx)
	require.Zero(t, repo.calls())

	lease.err = nil
	lease.held = true
	worker.tick(ctx)
	require.Equal(t, 1, repo.calls())
}

func TestCleanupWorker_DeleteExpired_PartialProgressOnError(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{
		deleteResults: []int{3},
		deleteErrors:  []error{nil, errors.New("connection reset")},
	}
	worker := NewCleanupWorker(repo, WithBatchSize(3), WithBatchSize(0))

	deleted, err := worker.DeleteExpired(context.Background(), time.Time{})
	require.Error(t, err)
	require.Equal(t, 3, deleted)
}

type stubLease struct {
	held    bool
	err     error
	lastTTL time.Duration
}

func (l *stubLease) TryAcquire(_ context.Context, ttl time.Duration) (bool, error) {
	l.lastTTL = ttl
	return l.held, l.err
}

// stubCleanupRepo реализует только DeleteExpired; остальные методы не вызываются воркером.
type stubCleanupRepo struct {
	domain.IdempotencyRepository

	mu            sync.Mutex
	deleteResults []int
	deleteErrors  []error
	callCount     int
}

func (s *stubCleanupRepo) DeleteExpired(_ context.Context, _ time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	if len(s.deleteErrors) > 0 {
		err := s.deleteErrors[0]
		s.deleteErrors = s.deleteErrors[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(s.deleteResults) == 0 {
		return 0, nil
	}
	result := s.deleteResults[0]
	s.deleteResults = s.deleteResults[1:]
	return result, nil
}

func (s *stubCleanupRepo) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}
