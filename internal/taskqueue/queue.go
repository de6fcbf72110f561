// Package taskqueue provides a bounded in-process priority queue for
// asynchronous work.
//
// A single dispatcher goroutine hands the highest-priority pending task to a
// fixed pool of workers; callers poll task state by ID. Terminal task records
// stay queryable for a retention window and are then swept. The queue never
// blocks a submitter: when it is full, closed, or already tracking the task
// ID, Submit returns a rejection instead.
package taskqueue

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/observability"
)

const (
	// DefaultDepth is the default pending-queue capacity.
	DefaultDepth = 100

	// DefaultWorkers is the default worker pool size.
	DefaultWorkers = 2

	// MaxWorkers caps the worker pool size.
	MaxWorkers = 4

	// DefaultRetention is how long terminal task records stay queryable.
	DefaultRetention = time.Hour

	// DefaultSweepInterval is how often expired terminal records are swept.
	DefaultSweepInterval = time.Hour

	// defaultTaskType labels tasks submitted without an explicit type.
	defaultTaskType = "task"
)

// Task priorities. Lower numbers run first.
const (
	PriorityHigh   = 0
	PriorityNormal = 5
	PriorityLow    = 10
)

// Callable is one unit of asynchronous work. The context is cancelled only
// when the queue gives up waiting for workers during shutdown.
type Callable func(ctx context.Context) (any, error)

// SubmitResult reports the queue's decision on a submission.
type SubmitResult struct {
	// TaskID is the effective task ID: the caller's, or a generated one
	// when the caller passed an empty ID.
	TaskID string

	// Accepted reports whether the task entered the pending queue.
	Accepted bool

	// Reason explains a rejection; nil when accepted. It unwraps to
	// domain.ErrQueueFull, domain.ErrDuplicateTask or domain.ErrQueueClosed.
	Reason error
}

// SubmitOption customizes a submission.
type SubmitOption func(*task)

// WithType tags the task with a type used in logs and metrics.
func WithType(taskType string) SubmitOption {
	return func(t *task) {
		if taskType != "" {
			t.taskType = taskType
		}
	}
}

// Config tunes the queue.
type Config struct {
	// Depth is the pending-queue capacity.
	Depth int

	// Workers is the worker pool size, clamped to MaxWorkers.
	Workers int

	// Retention is how long terminal task records stay queryable.
	Retention time.Duration

	// SweepInterval is how often expired terminal records are removed.
	SweepInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Depth <= 0 {
		c.Depth = DefaultDepth
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Workers > MaxWorkers {
		c.Workers = MaxWorkers
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// Stats is a point-in-time snapshot of queue activity.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	Cancelled int64 `json:"cancelled"`
	Pending   int   `json:"pending"`
	Running   int   `json:"running"`
}

// task is the queue's internal record of one submission.
type task struct {
	id       string
	taskType string
	priority int
	seq      uint64
	callable Callable

	state       domain.TaskState
	result      any
	err         string
	submittedAt time.Time
	startedAt   *time.Time
	finishedAt  *time.Time

	// index is the position in the pending heap, -1 once popped.
	index int
}

func (t *task) snapshot() domain.Task {
	return domain.Task{
		ID:          t.id,
		Type:        t.taskType,
		Priority:    t.priority,
		State:       t.state,
		Result:      t.result,
		Error:       t.err,
		SubmittedAt: t.submittedAt,
		StartedAt:   copyTime(t.startedAt),
		FinishedAt:  copyTime(t.finishedAt),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

// Queue is a bounded priority task queue with a fixed worker pool.
type Queue struct {
	config  Config
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	cond    *sync.Cond
	pending taskHeap
	tasks   map[string]*task
	running int
	closed  bool
	seq     uint64

	submitted int64
	completed int64
	failed    int64
	rejected  int64
	cancelled int64

	dispatchCh chan *task
	stopCh     chan struct{}
	wg         sync.WaitGroup

	// baseCtx is handed to callables; it is cancelled when shutdown stops
	// waiting so abandoned workers can unwind.
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New creates a queue and starts its dispatcher, workers and sweeper.
// The queue runs until Shutdown is called.
func New(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Queue {
	cfg.applyDefaults()

	baseCtx, baseCancel := context.WithCancel(context.Background())
	q := &Queue{
		config:     cfg,
		logger:     logger.With().Str("component", "taskqueue").Logger(),
		metrics:    metrics,
		tasks:      make(map[string]*task),
		dispatchCh: make(chan *task),
		stopCh:     make(chan struct{}),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
	q.cond = sync.NewCond(&q.mu)

	q.wg.Add(1)
	go q.dispatch()
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.wg.Add(1)
	go q.sweepLoop()

	q.logger.Info().
		Int("depth", cfg.Depth).
		Int("workers", cfg.Workers).
		Dur("retention", cfg.Retention).
		Msg("task queue started")
	return q
}

// Submit enqueues a callable under the given task ID and priority. An empty
// taskID gets a generated UUID, returned in the result. Submit never blocks:
// a full queue, a duplicate non-terminal task ID, or a closed queue yield a
// rejection. Re-submitting the ID of a terminal task replaces its record.
func (q *Queue) Submit(taskID string, callable Callable, priority int, opts ...SubmitOption) SubmitResult {
	if taskID == "" {
		taskID = uuid.NewString()
	}

	entry := &task{
		id:          taskID,
		taskType:    defaultTaskType,
		priority:    priority,
		callable:    callable,
		state:       domain.TaskStatePending,
		submittedAt: time.Now(),
		index:       -1,
	}
	for _, opt := range opts {
		opt(entry)
	}

	q.mu.Lock()
	if q.closed {
		q.rejected++
		q.mu.Unlock()
		return q.reject(entry, domain.ErrQueueClosed)
	}
	if existing, ok := q.tasks[taskID]; ok && !existing.state.IsTerminal() {
		q.rejected++
		q.mu.Unlock()
		return q.reject(entry, domain.ErrDuplicateTask)
	}
	if q.pending.Len() >= q.config.Depth {
		q.rejected++
		q.mu.Unlock()
		return q.reject(entry, domain.ErrQueueFull)
	}

	entry.seq = q.seq
	q.seq++
	q.tasks[taskID] = entry
	heap.Push(&q.pending, entry)
	q.submitted++
	depth := q.pending.Len()
	q.mu.Unlock()

	q.cond.Signal()
	q.metrics.RecordTaskSubmitted(entry.taskType)
	q.metrics.SetQueueDepth(depth)

	logger := observability.WithTaskContext(q.logger, entry.id, entry.taskType)
	logger.Debug().
		Int("priority", priority).
		Msg("task submitted")
	return SubmitResult{TaskID: taskID, Accepted: true}
}

func (q *Queue) reject(entry *task, sentinel error) SubmitResult {
	q.metrics.RecordTaskRejected(entry.taskType, rejectionLabel(sentinel))
	logger := observability.WithTaskContext(q.logger, entry.id, entry.taskType)
	logger.Debug().
		Err(sentinel).
		Msg("task rejected")
	return SubmitResult{
		TaskID: entry.id,
		Reason: domain.NewTaskRejectedError(entry.id, sentinel),
	}
}

func rejectionLabel(sentinel error) string {
	switch sentinel {
	case domain.ErrQueueFull:
		return "queue_full"
	case domain.ErrDuplicateTask:
		return "duplicate"
	case domain.ErrQueueClosed:
		return "closed"
	default:
		return "other"
	}
}

// Status returns a snapshot of the task's current state. Unknown or
// already-swept task IDs yield a not-found error.
func (q *Queue) Status(taskID string) (domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.NewNotFoundError("task", taskID)
	}
	return entry.snapshot(), nil
}

// Cancel removes a pending task. The removal is best-effort: a task the
// dispatcher has already handed to a worker cannot be stopped, and cancelling
// it returns an error.
func (q *Queue) Cancel(taskID string) error {
	q.mu.Lock()

	entry, ok := q.tasks[taskID]
	if !ok {
		q.mu.Unlock()
		return domain.NewNotFoundError("task", taskID)
	}
	if entry.state != domain.TaskStatePending {
		state := entry.state
		q.mu.Unlock()
		return fmt.Errorf("task %s is %s and cannot be cancelled: %w", taskID, state, domain.ErrCancelled)
	}

	if entry.index >= 0 {
		heap.Remove(&q.pending, entry.index)
	}
	now := time.Now()
	entry.state = domain.TaskStateCancelled
	entry.err = "cancelled before execution"
	entry.finishedAt = &now
	q.cancelled++
	depth := q.pending.Len()
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)
	logger := observability.WithTaskContext(q.logger, taskID, entry.taskType)
	logger.Debug().
		Msg("task cancelled")
	return nil
}

// Stats returns a snapshot of queue counters and occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Submitted: q.submitted,
		Completed: q.completed,
		Failed:    q.failed,
		Rejected:  q.rejected,
		Cancelled: q.cancelled,
		Pending:   q.pending.Len(),
		Running:   q.running,
	}
}

// Shutdown stops intake, cancels the remaining pending tasks, and waits for
// running workers until ctx expires. Tasks still running when the deadline
// passes keep their records but have their contexts cancelled. Shutdown is
// idempotent.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true

	now := time.Now()
	abandoned := 0
	for q.pending.Len() > 0 {
		entry := heap.Pop(&q.pending).(*task)
		entry.state = domain.TaskStateCancelled
		entry.err = "queue shut down"
		entry.finishedAt = &now
		q.cancelled++
		abandoned++
	}
	q.mu.Unlock()

	q.cond.Broadcast()
	close(q.stopCh)
	q.metrics.SetQueueDepth(0)
	if abandoned > 0 {
		q.logger.Info().Int("abandoned", abandoned).Msg("pending tasks cancelled for shutdown")
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.baseCancel()
		q.logger.Info().Msg("task queue stopped")
		return nil
	case <-ctx.Done():
		q.baseCancel()
		q.logger.Warn().Msg("task queue shutdown deadline exceeded with workers still running")
		return ctx.Err()
	}
}

// dispatch is the single goroutine that feeds workers. It pulls the
// highest-priority pending task and blocks until a worker takes it.
func (q *Queue) dispatch() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for q.pending.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			close(q.dispatchCh)
			return
		}
		entry := heap.Pop(&q.pending).(*task)
		depth := q.pending.Len()
		q.mu.Unlock()

		q.metrics.SetQueueDepth(depth)
		q.dispatchCh <- entry
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for entry := range q.dispatchCh {
		q.execute(entry)
	}
}

// execute runs one task through its full lifecycle. A task cancelled between
// dispatch and pickup is skipped.
func (q *Queue) execute(entry *task) {
	q.mu.Lock()
	if entry.state != domain.TaskStatePending {
		q.mu.Unlock()
		return
	}
	started := time.Now()
	entry.state = domain.TaskStateRunning
	entry.startedAt = &started
	q.running++
	q.mu.Unlock()

	logger := observability.WithTaskContext(q.logger, entry.id, entry.taskType)
	logger.Debug().Int("priority", entry.priority).Msg("task started")

	result, err := q.invoke(entry)

	finished := time.Now()
	duration := finished.Sub(started)

	q.mu.Lock()
	q.running--
	entry.finishedAt = &finished
	if err != nil {
		entry.state = domain.TaskStateFailed
		entry.err = err.Error()
		q.failed++
	} else {
		entry.state = domain.TaskStateCompleted
		entry.result = result
		q.completed++
	}
	q.mu.Unlock()

	if err != nil {
		q.metrics.RecordTaskFailed(entry.taskType, duration.Seconds())
		logger.Warn().Err(err).Dur("duration", duration).Msg("task failed")
		return
	}
	q.metrics.RecordTaskCompleted(entry.taskType, duration.Seconds())
	logger.Debug().Dur("duration", duration).Msg("task completed")
}

// invoke calls the task's callable, converting a panic into an error so a
// misbehaving task never takes down its worker.
func (q *Queue) invoke(entry *task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			q.logger.Error().
				Str("task_id", entry.id).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recovered task panic")
		}
	}()
	return entry.callable(q.baseCtx)
}

// sweepLoop periodically removes terminal task records past retention.
func (q *Queue) sweepLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := q.removeExpired(time.Now()); removed > 0 {
				q.logger.Debug().Int("removed", removed).Msg("swept expired task records")
			}
		case <-q.stopCh:
			return
		}
	}
}

func (q *Queue) removeExpired(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, entry := range q.tasks {
		if entry.state.IsTerminal() && entry.finishedAt != nil &&
			now.Sub(*entry.finishedAt) > q.config.Retention {
			delete(q.tasks, id)
			removed++
		}
	}
	return removed
}
