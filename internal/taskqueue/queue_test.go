package taskqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/observability"
)

func newTestQueue(t *testing.T, metricsNamespace string, cfg Config) *Queue {
	t.Helper()
	q := New(cfg, zerolog.Nop(), observability.NewMetrics(metricsNamespace))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
	})
	return q
}

func waitForState(t *testing.T, q *Queue, taskID string, state domain.TaskState) domain.Task {
	t.Helper()
	var snapshot domain.Task
	require.Eventually(t, func() bool {
		st, err := q.Status(taskID)
		if err != nil {
			return false
		}
		snapshot = st
		return st.State == state
	}, 2*time.Second, 5*time.Millisecond, "task %s never reached state %s", taskID, state)
	return snapshot
}

// waitForLimbo waits until the dispatcher has drained the pending heap, i.e.
// every submitted task is running or parked at the worker hand-off.
func waitForLimbo(t *testing.T, q *Queue) {
	t.Helper()
	require.Eventually(t, func() bool {
		return q.Stats().Pending == 0
	}, 2*time.Second, 2*time.Millisecond)
}

func noop(ctx context.Context) (any, error) { return nil, nil }

// gateTask returns a callable that blocks until release is closed, and the
// release function.
func gateTask() (Callable, func()) {
	release := make(chan struct{})
	var once sync.Once
	callable := func(ctx context.Context) (any, error) {
		select {
		case <-release:
			return "gated", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return callable, func() { once.Do(func() { close(release) }) }
}

func TestConfig_ApplyDefaults(t *testing.T) {
	t.Run("zero config gets defaults", func(t *testing.T) {
		cfg := Config{}
		cfg.applyDefaults()

		assert.Equal(t, DefaultDepth, cfg.Depth)
		assert.Equal(t, DefaultWorkers, cfg.Workers)
		assert.Equal(t, DefaultRetention, cfg.Retention)
		assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	})

	t.Run("workers clamped to the pool cap", func(t *testing.T) {
		cfg := Config{Workers: 9}
		cfg.applyDefaults()
		assert.Equal(t, MaxWorkers, cfg.Workers)
	})
}

func TestQueue_SubmitAndStatus(t *testing.T) {
	q := newTestQueue(t, "test_queue_lifecycle", Config{})

	result := q.Submit("t1", func(ctx context.Context) (any, error) {
		return map[string]int{"papers": 12}, nil
	}, PriorityNormal)

	require.True(t, result.Accepted)
	require.NoError(t, result.Reason)
	assert.Equal(t, "t1", result.TaskID)

	snapshot := waitForState(t, q, "t1", domain.TaskStateCompleted)
	assert.Equal(t, map[string]int{"papers": 12}, snapshot.Result)
	assert.Empty(t, snapshot.Error)
	assert.Equal(t, PriorityNormal, snapshot.Priority)
	assert.False(t, snapshot.SubmittedAt.IsZero())
	require.NotNil(t, snapshot.StartedAt)
	require.NotNil(t, snapshot.FinishedAt)
	assert.False(t, snapshot.FinishedAt.Before(*snapshot.StartedAt))

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Zero(t, stats.Running)
}

func TestQueue_FailedTask(t *testing.T) {
	q := newTestQueue(t, "test_queue_failed", Config{})

	q.Submit("boom", func(ctx context.Context) (any, error) {
		return nil, errors.New("provider exploded")
	}, PriorityNormal)

	snapshot := waitForState(t, q, "boom", domain.TaskStateFailed)
	assert.Equal(t, "provider exploded", snapshot.Error)
	assert.Nil(t, snapshot.Result)
	assert.Equal(t, int64(1), q.Stats().Failed)
}

func TestQueue_GeneratedTaskID(t *testing.T) {
	q := newTestQueue(t, "test_queue_genid", Config{})

	result := q.Submit("", noop, PriorityNormal, WithType("analysis"))

	require.True(t, result.Accepted)
	_, err := uuid.Parse(result.TaskID)
	require.NoError(t, err, "empty task IDs are replaced with UUIDs")

	snapshot := waitForState(t, q, result.TaskID, domain.TaskStateCompleted)
	assert.Equal(t, "analysis", snapshot.Type)
}

func TestQueue_DuplicateRejection(t *testing.T) {
	q := newTestQueue(t, "test_queue_dup", Config{Workers: 1})

	gated, release := gateTask()
	defer release()

	first := q.Submit("dup", gated, PriorityNormal)
	require.True(t, first.Accepted)

	second := q.Submit("dup", noop, PriorityNormal)
	require.False(t, second.Accepted)
	assert.ErrorIs(t, second.Reason, domain.ErrDuplicateTask)

	var rejection *domain.TaskRejectedError
	require.ErrorAs(t, second.Reason, &rejection)
	assert.Equal(t, "dup", rejection.TaskID)

	release()
	waitForState(t, q, "dup", domain.TaskStateCompleted)

	resubmit := q.Submit("dup", noop, PriorityNormal)
	require.True(t, resubmit.Accepted, "terminal task IDs may be reused")
	waitForState(t, q, "dup", domain.TaskStateCompleted)

	assert.Equal(t, int64(1), q.Stats().Rejected)
}

func TestQueue_CapacityRejection(t *testing.T) {
	q := newTestQueue(t, "test_queue_full", Config{Depth: 1, Workers: 1})

	gated, release := gateTask()
	defer release()

	// Occupy the worker, then the dispatcher hand-off slot.
	require.True(t, q.Submit("gate", gated, PriorityNormal).Accepted)
	waitForLimbo(t, q)
	require.True(t, q.Submit("limbo", noop, PriorityNormal).Accepted)
	waitForLimbo(t, q)

	// One pending slot remains.
	require.True(t, q.Submit("queued", noop, PriorityNormal).Accepted)

	overflow := q.Submit("overflow", noop, PriorityNormal)
	require.False(t, overflow.Accepted)
	assert.ErrorIs(t, overflow.Reason, domain.ErrQueueFull)

	_, err := q.Status("overflow")
	assert.ErrorIs(t, err, domain.ErrNotFound, "rejected tasks are not tracked")

	release()
	waitForState(t, q, "gate", domain.TaskStateCompleted)
	waitForState(t, q, "limbo", domain.TaskStateCompleted)
	waitForState(t, q, "queued", domain.TaskStateCompleted)

	stats := q.Stats()
	assert.Equal(t, int64(3), stats.Submitted)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, int64(3), stats.Completed)
}

func TestQueue_PriorityOrdering(t *testing.T) {
	q := newTestQueue(t, "test_queue_priority", Config{Workers: 1})

	var mu sync.Mutex
	var order []string
	record := func(name string) Callable {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	gated, release := gateTask()
	defer release()

	// Park the worker and the hand-off slot so the next submissions pile
	// up in the pending heap.
	require.True(t, q.Submit("gate", gated, PriorityNormal).Accepted)
	require.True(t, q.Submit("plug", record("plug"), PriorityNormal).Accepted)
	waitForLimbo(t, q)

	require.True(t, q.Submit("low", record("low"), PriorityLow).Accepted)
	require.True(t, q.Submit("high", record("high"), PriorityHigh).Accepted)
	require.True(t, q.Submit("mid-first", record("mid-first"), PriorityNormal).Accepted)
	require.True(t, q.Submit("mid-second", record("mid-second"), PriorityNormal).Accepted)

	release()
	waitForState(t, q, "low", domain.TaskStateCompleted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"plug", "high", "mid-first", "mid-second", "low"}, order,
		"lowest priority number first, FIFO within equal priority")
}

func TestQueue_Cancel(t *testing.T) {
	q := newTestQueue(t, "test_queue_cancel", Config{Workers: 1})

	gated, release := gateTask()
	defer release()

	require.True(t, q.Submit("gate", gated, PriorityNormal).Accepted)
	waitForState(t, q, "gate", domain.TaskStateRunning)
	require.True(t, q.Submit("limbo", noop, PriorityNormal).Accepted)
	waitForLimbo(t, q)
	require.True(t, q.Submit("victim", noop, PriorityNormal).Accepted)

	t.Run("pending task is cancelled", func(t *testing.T) {
		require.NoError(t, q.Cancel("victim"))

		snapshot, err := q.Status("victim")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStateCancelled, snapshot.State)
		assert.Equal(t, "cancelled before execution", snapshot.Error)
		require.NotNil(t, snapshot.FinishedAt)
	})

	t.Run("running task cannot be cancelled", func(t *testing.T) {
		err := q.Cancel("gate")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrCancelled)
		assert.Contains(t, err.Error(), "running")
	})

	t.Run("unknown task is not found", func(t *testing.T) {
		err := q.Cancel("missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	release()
	waitForState(t, q, "gate", domain.TaskStateCompleted)
	waitForState(t, q, "limbo", domain.TaskStateCompleted)

	// The cancelled task never ran.
	snapshot, err := q.Status("victim")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateCancelled, snapshot.State)
	assert.Nil(t, snapshot.StartedAt)
	assert.Equal(t, int64(1), q.Stats().Cancelled)
}

func TestQueue_PanicRecovery(t *testing.T) {
	q := newTestQueue(t, "test_queue_panic", Config{Workers: 1})

	q.Submit("explosive", func(ctx context.Context) (any, error) {
		panic("corrupted payload")
	}, PriorityNormal)

	snapshot := waitForState(t, q, "explosive", domain.TaskStateFailed)
	assert.Contains(t, snapshot.Error, "task panicked")
	assert.Contains(t, snapshot.Error, "corrupted payload")

	// The worker survived and keeps serving tasks.
	q.Submit("after", noop, PriorityNormal)
	waitForState(t, q, "after", domain.TaskStateCompleted)
}

func TestQueue_RetentionSweep(t *testing.T) {
	q := newTestQueue(t, "test_queue_sweep", Config{
		Retention:     10 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})

	q.Submit("ephemeral", noop, PriorityNormal)
	waitForState(t, q, "ephemeral", domain.TaskStateCompleted)

	require.Eventually(t, func() bool {
		_, err := q.Status("ephemeral")
		return errors.Is(err, domain.ErrNotFound)
	}, 2*time.Second, 5*time.Millisecond, "terminal record should be swept after retention")
}

func TestQueue_ParallelWorkers(t *testing.T) {
	q := newTestQueue(t, "test_queue_parallel", Config{Workers: 2})

	var arrivals atomic.Int32
	bothRunning := make(chan struct{})
	rendezvous := func(ctx context.Context) (any, error) {
		if arrivals.Add(1) == 2 {
			close(bothRunning)
		}
		select {
		case <-bothRunning:
			return "met", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return nil, errors.New("peer never started")
		}
	}

	q.Submit("left", rendezvous, PriorityNormal)
	q.Submit("right", rendezvous, PriorityNormal)

	left := waitForState(t, q, "left", domain.TaskStateCompleted)
	right := waitForState(t, q, "right", domain.TaskStateCompleted)
	assert.Equal(t, "met", left.Result)
	assert.Equal(t, "met", right.Result)
}

func TestQueue_Shutdown(t *testing.T) {
	t.Run("clean shutdown stops intake", func(t *testing.T) {
		q := newTestQueue(t, "test_queue_shutdown", Config{})

		q.Submit("done", noop, PriorityNormal)
		waitForState(t, q, "done", domain.TaskStateCompleted)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, q.Shutdown(ctx))

		result := q.Submit("late", noop, PriorityNormal)
		require.False(t, result.Accepted)
		assert.ErrorIs(t, result.Reason, domain.ErrQueueClosed)

		require.NoError(t, q.Shutdown(ctx), "shutdown is idempotent")
	})

	t.Run("pending tasks are cancelled and deadline is honored", func(t *testing.T) {
		q := newTestQueue(t, "test_queue_shutdown_deadline", Config{Workers: 1})

		gated, release := gateTask()
		defer release()

		require.True(t, q.Submit("stuck", gated, PriorityNormal).Accepted)
		waitForState(t, q, "stuck", domain.TaskStateRunning)
		require.True(t, q.Submit("limbo", noop, PriorityNormal).Accepted)
		waitForLimbo(t, q)
		require.True(t, q.Submit("never-runs", noop, PriorityNormal).Accepted)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := q.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		snapshot, statusErr := q.Status("never-runs")
		require.NoError(t, statusErr)
		assert.Equal(t, domain.TaskStateCancelled, snapshot.State)
		assert.Equal(t, "queue shut down", snapshot.Error)

		// The stuck task's context was cancelled when the queue gave up.
		waitForState(t, q, "stuck", domain.TaskStateFailed)
	})
}
