package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/taskkit/core/queue"
)

// priorityScanOrder is the fixed HIGH→LOW scan order used by the selection
// algorithms and the aging pass.
var priorityScanOrder = []queue.Priority{
	queue.PriorityHigh,
	queue.PriorityNormal,
	queue.PriorityLow,
}

// runningTask tracks a dispatched task until Complete or Fail is reported.
type runningTask struct {
	task         *queue.Task
	dispatchedAt time.Time
	enqueuedAt   time.Time
}

// Scheduler is the in-process, short-horizon allocator deciding which of
// the already-claimed tasks runs next, bounded by an advisory concurrency
// cap. It layers on top of the durable queue: tasks pulled into memory are
// submitted here, and the configured algorithm picks the dispatch order.
//
// Aging promotes tasks that wait longer than the starvation threshold one
// priority level per pass, bounding worst-case wait regardless of arrival
// pattern. Promotion is purely in-memory; the durable queue type of a task
// never changes.
//
// The scheduler performs no retries; retry and backoff belong to the
// durable queue service.
type Scheduler struct {
	mu    sync.Mutex
	heaps map[queue.Priority]*taskHeap

	queued    map[uuid.UUID]struct{}
	running   map[uuid.UUID]*runningTask
	completed map[uuid.UUID]struct{}

	algorithm           Algorithm
	maxConcurrent       int
	starvationThreshold time.Duration
	agingInterval       time.Duration
	shutdownTimeout     time.Duration

	rrIndex int

	// Metrics, guarded by mu.
	tasksCompleted  int64
	tasksFailed     int64
	tasksTotal      int64
	dispatched      int64
	avgWait         time.Duration
	avgExec         time.Duration
	starvationCount int64
	catStats        map[queue.Category]*categoryStats
	pools           map[string]*ResourcePool
	createdAt       time.Time

	logger *slog.Logger
	now    func() time.Time

	// State management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option is a functional option for configuring a scheduler.
type Option func(*options)

type options struct {
	algorithm           Algorithm
	maxConcurrent       int
	starvationThreshold time.Duration
	agingInterval       time.Duration
	shutdownTimeout     time.Duration
	logger              *slog.Logger
	now                 func() time.Time
}

// WithAlgorithm selects the scheduling algorithm.
func WithAlgorithm(a Algorithm) Option {
	return func(o *options) {
		if a.Valid() {
			o.algorithm = a
		}
	}
}

// WithMaxConcurrentTasks sets the advisory concurrency cap.
func WithMaxConcurrentTasks(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithStarvationThreshold sets how long a task may wait before the aging
// pass promotes it one priority level.
func WithStarvationThreshold(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.starvationThreshold = d
		}
	}
}

// WithAgingInterval sets how often the aging pass runs.
func WithAgingInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.agingInterval = d
		}
	}
}

// WithShutdownTimeout configures the maximum wait during Stop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithLogger sets the logger for scheduler operations.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the scheduler's time source. Tests use this to drive
// aging and the adaptive algorithm deterministically.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates a priority scheduler.
func New(opts ...Option) *Scheduler {
	o := &options{
		algorithm:           AlgorithmAdaptive,
		maxConcurrent:       10,
		starvationThreshold: 5 * time.Minute,
		agingInterval:       30 * time.Second,
		shutdownTimeout:     30 * time.Second,
		logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Scheduler{
		heaps:               make(map[queue.Priority]*taskHeap, len(priorityScanOrder)),
		queued:              make(map[uuid.UUID]struct{}),
		running:             make(map[uuid.UUID]*runningTask),
		completed:           make(map[uuid.UUID]struct{}),
		algorithm:           o.algorithm,
		maxConcurrent:       o.maxConcurrent,
		starvationThreshold: o.starvationThreshold,
		agingInterval:       o.agingInterval,
		shutdownTimeout:     o.shutdownTimeout,
		catStats:            make(map[queue.Category]*categoryStats),
		pools:               make(map[string]*ResourcePool),
		logger:              o.logger,
		now:                 o.now,
	}
	for _, p := range priorityScanOrder {
		h := make(taskHeap, 0)
		s.heaps[p] = &h
	}
	s.createdAt = s.now()
	return s
}

// NewFromConfig creates a Scheduler from configuration.
// Additional options override config values.
func NewFromConfig(cfg Config, opts ...Option) *Scheduler {
	allOpts := append([]Option{
		WithAlgorithm(cfg.Algorithm),
		WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
		WithStarvationThreshold(cfg.StarvationThreshold),
		WithAgingInterval(cfg.AgingInterval),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}, opts...)

	return New(allOpts...)
}

// Submit validates a task's dependencies and inserts it into the
// per-priority queue. Unmet dependencies fail synchronously with
// ErrDependencyUnmet and the task is never enqueued.
func (s *Scheduler) Submit(task *queue.Task) error {
	if task == nil {
		return ErrTaskNil
	}
	if !task.Priority.Valid() {
		return fmt.Errorf("task %s: invalid priority %q", task.ID, task.Priority)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.queued[task.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTaskAlreadyQueued, task.ID)
	}
	if _, exists := s.running[task.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTaskAlreadyQueued, task.ID)
	}

	for _, dep := range task.Dependencies {
		if _, ok := s.completed[dep]; !ok {
			return fmt.Errorf("%w: task %s depends on %s", ErrDependencyUnmet, task.ID, dep)
		}
	}

	cat := task.Category
	if cat == "" {
		cat = queue.CategoryDefault
	}
	if s.catStats[cat] == nil {
		s.catStats[cat] = &categoryStats{}
	}
	s.catStats[cat].submitted++
	s.tasksTotal++

	pushTask(s.heaps[task.Priority], &queuedTask{
		task:       task,
		enqueuedAt: s.now(),
	})
	s.queued[task.ID] = struct{}{}

	s.logger.DebugContext(context.Background(), "task submitted",
		slog.String("task_id", task.ID.String()),
		slog.String("priority", string(task.Priority)),
		slog.String("category", string(cat)))

	return nil
}

// NextTask dispatches the next task according to the configured algorithm.
// Returns ErrSchedulerSaturated while the advisory concurrency cap is
// reached, and ErrNoTaskReady when every queue is empty.
func (s *Scheduler) NextTask() (*queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.running) >= s.maxConcurrent {
		return nil, ErrSchedulerSaturated
	}

	item := s.selectNext()
	if item == nil {
		return nil, ErrNoTaskReady
	}

	now := s.now()
	delete(s.queued, item.task.ID)
	s.running[item.task.ID] = &runningTask{
		task:         item.task,
		dispatchedAt: now,
		enqueuedAt:   item.enqueuedAt,
	}

	s.dispatched++
	s.avgWait = onlineAverage(s.avgWait, now.Sub(item.enqueuedAt), s.dispatched)

	return item.task, nil
}

// Complete records a successful execution: the task joins the completed set
// (unblocking dependents) and the execution bookkeeping is advanced.
func (s *Scheduler) Complete(taskID uuid.UUID) error {
	return s.finish(taskID, true)
}

// Fail records a failed execution. The task does not join the completed
// set, but it does count toward its category's completion rate so one
// category cannot monopolize scheduler attention through retries.
func (s *Scheduler) Fail(taskID uuid.UUID) error {
	return s.finish(taskID, false)
}

func (s *Scheduler) finish(taskID uuid.UUID, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.running[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	delete(s.running, taskID)

	now := s.now()
	execTime := now.Sub(rt.dispatchedAt)

	cat := rt.task.Category
	if cat == "" {
		cat = queue.CategoryDefault
	}
	if s.catStats[cat] == nil {
		s.catStats[cat] = &categoryStats{}
	}
	s.catStats[cat].completed++

	if success {
		s.tasksCompleted++
		s.completed[taskID] = struct{}{}
	} else {
		s.tasksFailed++
	}

	s.avgExec = onlineAverage(s.avgExec, execTime, s.tasksCompleted+s.tasksFailed)

	return nil
}

// Start begins the periodic aging pass. This is a blocking operation that
// runs until the context is cancelled. Use Run() for errgroup pattern or
// call this in a goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.InfoContext(s.ctx, "scheduler started",
		slog.String("algorithm", string(s.algorithm)),
		slog.Int("max_concurrent", s.maxConcurrent),
		slog.Duration("starvation_threshold", s.starvationThreshold),
		slog.Duration("aging_interval", s.agingInterval))

	ticker := time.NewTicker(s.agingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.InfoContext(context.Background(), "scheduler stopping")
			return s.ctx.Err()
		case <-ticker.C:
			s.agePassWithWait()
		}
	}
}

// Stop gracefully shuts down the aging loop with a timeout.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not started")
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.InfoContext(context.Background(), "scheduler stopped cleanly")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(context.Background(), "scheduler shutdown timeout exceeded",
			slog.Duration("timeout", s.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", s.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = s.Stop() // Ignore stop error in normal shutdown
			<-errCh      // Wait for Start() to exit
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

func (s *Scheduler) agePassWithWait() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.AgePass()
}

// AgePass promotes every queued non-HIGH task that has waited longer than
// the starvation threshold by exactly one priority level. Levels are
// processed top-down so a task is promoted at most once per pass; HIGH is
// the ceiling and nothing is ever demoted.
func (s *Scheduler) AgePass() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// HIGH first in scan order is skipped; NORMAL before LOW so a task
	// promoted out of LOW is not re-examined in the same pass.
	for _, p := range []queue.Priority{queue.PriorityNormal, queue.PriorityLow} {
		h := s.heaps[p]

		var starved []*queuedTask
		for _, item := range *h {
			if now.Sub(item.enqueuedAt) > s.starvationThreshold {
				starved = append(starved, item)
			}
		}

		for _, item := range starved {
			removeAt(h, item.index)

			promoted := item.task.Priority.Promote()
			item.task.Priority = promoted
			pushTask(s.heaps[promoted], item)
			s.starvationCount++

			s.logger.InfoContext(context.Background(), "starved task promoted",
				slog.String("task_id", item.task.ID.String()),
				slog.String("priority", string(promoted)),
				slog.Duration("waited", now.Sub(item.enqueuedAt)))
		}
	}
}

// QueuedCount returns the number of tasks waiting for dispatch.
func (s *Scheduler) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued)
}

// RunningCount returns the number of dispatched, unfinished tasks.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// AddResourcePool registers an advisory resource pool.
func (s *Scheduler) AddResourcePool(id string, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[id] = &ResourcePool{ID: id, Capacity: capacity}
}

// AcquireResource tracks one unit of load on a pool. Load is advisory and
// may exceed capacity; overloads are logged, not rejected.
func (s *Scheduler) AcquireResource(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[id]
	if !ok {
		return
	}
	pool.CurrentLoad++
	if pool.CurrentLoad > pool.Capacity {
		s.logger.WarnContext(context.Background(), "resource pool over capacity",
			slog.String("pool", id),
			slog.Int("load", pool.CurrentLoad),
			slog.Int("capacity", pool.Capacity))
	}
}

// ReleaseResource releases one unit of load on a pool.
func (s *Scheduler) ReleaseResource(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pool, ok := s.pools[id]; ok && pool.CurrentLoad > 0 {
		pool.CurrentLoad--
	}
}

// Pools returns a snapshot of all registered resource pools.
func (s *Scheduler) Pools() []ResourcePool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ResourcePool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, *p)
	}
	return out
}

// Stats returns a snapshot of the scheduler metrics.
// Thread-safe; callable at any time.
func (s *Scheduler) Stats() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{
		TasksCompleted:       s.tasksCompleted,
		TasksFailed:          s.tasksFailed,
		TasksTotal:           s.tasksTotal,
		AverageWaitTime:      s.avgWait,
		AverageExecutionTime: s.avgExec,
		FairnessIndex:        fairnessIndex(s.catStats),
		StarvationCount:      s.starvationCount,
	}

	if elapsed := s.now().Sub(s.createdAt).Seconds(); elapsed > 0 {
		m.Throughput = float64(s.tasksCompleted) / elapsed
	}
	return m
}

// Healthcheck validates that the aging loop is running.
// The returned error can be checked with errors.Is against
// ErrSchedulerNotRunning.
func (s *Scheduler) Healthcheck(ctx context.Context) error {
	s.mu.Lock()
	running := s.cancel != nil
	s.mu.Unlock()

	if !running {
		return errors.Join(ErrHealthcheckFailed, ErrSchedulerNotRunning)
	}
	return nil
}
