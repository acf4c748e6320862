package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// rollingWindow is the number of samples kept for the worker's average
// processing time.
const rollingWindow = 100

// Worker pulls tasks from the queue service, executes them through the
// registered processors, and drives the retry/dead-letter decision on
// failure. All per-task runtime errors are caught here, logged, and turned
// into status transitions; callers never see raw processor errors.
type Worker struct {
	service    *Service
	processors map[string]Processor
	workerID   uuid.UUID
	sem        chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex

	// Configuration
	pollInterval    time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
	now             func() time.Time

	// State management
	ctx    context.Context
	cancel context.CancelFunc

	// Observability metrics
	tasksProcessed atomic.Int64
	tasksFailed    atomic.Int64
	activeTasks    atomic.Int32
	lastActivity   atomic.Int64

	samplesMu sync.Mutex
	samples   [rollingWindow]time.Duration
	sampleLen int
	samplePos int
}

// WorkerStats provides observability metrics for monitoring and debugging.
type WorkerStats struct {
	TasksProcessed        int64         // Total number of successfully completed tasks
	TasksFailed           int64         // Total number of failed attempts (including dead-lettered)
	ActiveTasks           int32         // Number of tasks currently being processed
	AverageProcessingTime time.Duration // Rolling average over the last 100 tasks
	LastActivity          time.Time     // When the worker last finished a task
	IsActive              bool          // Whether the worker loop is running
}

// WorkerOption is a functional option for configuring a worker.
type WorkerOption func(*workerOptions)

type workerOptions struct {
	pollInterval       time.Duration
	shutdownTimeout    time.Duration
	maxConcurrentTasks int
	logger             *slog.Logger
	now                func() time.Time
}

// WithPollInterval sets how often the worker polls for new tasks when idle.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithShutdownTimeout sets the maximum wait for in-flight tasks during Stop.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithMaxConcurrentTasks caps how many tasks run at once. The cap is
// advisory: the worker stops pulling new work while full, it does not
// abort running tasks.
func WithMaxConcurrentTasks(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.maxConcurrentTasks = n
		}
	}
}

// WithWorkerLogger sets the logger for worker operations.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithWorkerClock overrides the worker's time source for tests.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(o *workerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewWorker creates a task worker pulling from the given queue service.
func NewWorker(service *Service, opts ...WorkerOption) (*Worker, error) {
	if service == nil {
		return nil, ErrServiceNil
	}

	options := &workerOptions{
		pollInterval:       time.Second,
		shutdownTimeout:    30 * time.Second,
		maxConcurrentTasks: 1,
		logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Worker{
		service:         service,
		processors:      make(map[string]Processor),
		workerID:        uuid.New(),
		sem:             make(chan struct{}, options.maxConcurrentTasks),
		pollInterval:    options.pollInterval,
		shutdownTimeout: options.shutdownTimeout,
		logger:          options.logger,
		now:             options.now,
	}, nil
}

// NewWorkerFromConfig creates a Worker from configuration.
// Additional options override config values.
func NewWorkerFromConfig(cfg Config, service *Service, opts ...WorkerOption) (*Worker, error) {
	allOpts := append([]WorkerOption{
		WithPollInterval(cfg.PollInterval),
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
	}, opts...)

	return NewWorker(service, allOpts...)
}

// RegisterProcessor binds a processor to a task type. Bindings are resolved
// eagerly: duplicates fail here, and Start refuses to run with none
// registered, so misconfiguration surfaces at startup rather than at first
// dispatch.
func (w *Worker) RegisterProcessor(taskType string, processor Processor) error {
	if processor == nil {
		return ErrProcessorNil
	}
	if taskType == "" {
		return fmt.Errorf("task type cannot be empty")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.processors[taskType]; exists {
		return fmt.Errorf("%w: %s", ErrProcessorAlreadyRegistered, taskType)
	}
	w.processors[taskType] = processor
	return nil
}

// ProcessorCount returns the number of registered processor bindings.
func (w *Worker) ProcessorCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.processors)
}

// Start begins processing tasks. This is a blocking operation that runs until
// the context is cancelled. Use Run() for errgroup pattern or call this in a goroutine.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}
	if len(w.processors) == 0 {
		w.mu.Unlock()
		return ErrNoProcessors
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.logger.InfoContext(w.ctx, "worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Int("max_concurrent", cap(w.sem)),
		slog.Duration("poll_interval", w.pollInterval))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.InfoContext(context.Background(), "worker stopping")
			return w.ctx.Err()
		case <-ticker.C:
			w.drainOnce()
		}
	}
}

// drainOnce pulls and dispatches tasks until the queue is empty or all
// worker slots are busy. Advisory cap: len(running) is checked before
// pulling more work, never against work already in flight.
func (w *Worker) drainOnce() {
	for {
		select {
		case w.sem <- struct{}{}:
		default:
			w.logger.DebugContext(w.ctx, "all worker slots busy",
				slog.String("worker_id", w.workerID.String()))
			return
		}

		// Mutex protects against shutdown race: must verify worker is still
		// running AND add to waitgroup atomically, otherwise Stop() might
		// wait on an incomplete count.
		w.mu.RLock()
		if w.cancel == nil {
			w.mu.RUnlock()
			<-w.sem
			return
		}
		w.wg.Add(1)
		w.mu.RUnlock()

		claimed := make(chan bool, 1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()

			task, err := w.service.GetNextTask(w.ctx)
			if err != nil {
				claimed <- false
				if !errors.Is(err, ErrQueueEmpty) && !errors.Is(err, context.Canceled) {
					w.logger.ErrorContext(w.ctx, "failed to claim task",
						slog.String("worker_id", w.workerID.String()),
						slog.String("error", err.Error()))
				}
				return
			}
			claimed <- true
			w.processTask(task)
		}()

		// Stop draining this tick once the queue runs dry.
		if !<-claimed {
			return
		}
	}
}

// Stop gracefully shuts down the worker. In-flight tasks are allowed to
// finish within the shutdown timeout; the only guarantee is that no new
// task starts after the call.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not started")
	}
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	w.logger.InfoContext(context.Background(), "worker stopping, waiting for active tasks to complete",
		slog.String("worker_id", w.workerID.String()),
		slog.Duration("timeout", w.shutdownTimeout))

	ctx, ctxCancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.InfoContext(context.Background(), "worker stopped cleanly",
			slog.String("worker_id", w.workerID.String()))
		return nil
	case <-ctx.Done():
		w.logger.WarnContext(context.Background(), "worker shutdown timeout exceeded - some tasks may be abandoned",
			slog.String("worker_id", w.workerID.String()),
			slog.Duration("timeout", w.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", w.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// Returns a function that starts the worker, monitors context cancellation,
// and performs graceful shutdown when the context is cancelled.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- w.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = w.Stop() // Ignore stop error in normal shutdown
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

// processTask executes a single claimed task through the full lifecycle:
// Running → {Completed | requeued | dead-lettered}.
func (w *Worker) processTask(task *Task) {
	start := w.now()

	w.activeTasks.Add(1)
	defer w.activeTasks.Add(-1)
	defer func() { w.lastActivity.Store(w.now().UnixNano()) }()

	// Panic recovery: a bad processor must not crash the worker loop.
	// Panics are treated as ordinary task failures with retry eligibility.
	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorContext(w.ctx, "processor panicked",
				slog.String("worker_id", w.workerID.String()),
				slog.String("task_id", task.ID.String()),
				slog.Any("panic", r))
			w.handleFailure(task, nil, fmt.Errorf("panic in processor: %v", r), w.now().Sub(start))
		}
	}()

	task.Status = StatusRunning
	if err := w.service.UpdateTaskStatus(w.ctx, task); err != nil {
		w.logger.ErrorContext(w.ctx, "failed to mark task running",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return
	}

	w.mu.RLock()
	processor, ok := w.processors[task.Type]
	w.mu.RUnlock()

	if !ok {
		w.handleFailure(task, nil, fmt.Errorf("%w: %s", ErrProcessorNotRegistered, task.Type), w.now().Sub(start))
		return
	}

	if !processor.Validate(task) {
		w.handleFailure(task, processor, fmt.Errorf("%w: task %s", ErrValidationFailed, task.ID), w.now().Sub(start))
		return
	}

	result, err := w.execute(processor, task)
	duration := w.now().Sub(start)

	if err != nil {
		w.handleFailure(task, processor, err, duration)
		return
	}

	w.handleSuccess(task, processor, result, duration)
}

// execute runs the processor bounded by the task's timeout. Execution uses
// an independent context so worker shutdown does not interrupt a running
// task; a deadline breach is treated identically to any other failure.
func (w *Worker) execute(processor Processor, task *Task) (map[string]any, error) {
	timeout := task.Timeout.Std()
	if timeout <= 0 {
		timeout = w.service.defaultTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic in processor: %v", r)}
			}
		}()
		result, err := processor.Process(ctx, task)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after %s", ErrTaskTimeout, timeout)
	}
}

// handleSuccess stores the result in the task metadata and completes it.
func (w *Worker) handleSuccess(task *Task, processor Processor, result map[string]any, duration time.Duration) {
	w.invokeHook(task, "on_success", func() {
		processor.OnSuccess(w.ctx, task, result)
	})

	if result != nil {
		if task.Metadata == nil {
			task.Metadata = make(map[string]any)
		}
		task.Metadata["result"] = result
	}

	task.Status = StatusCompleted
	task.ErrorMessage = nil
	if err := w.service.UpdateTaskStatus(w.ctx, task); err != nil {
		w.logger.ErrorContext(w.ctx, "failed to mark task completed",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return
	}

	w.tasksProcessed.Add(1)
	w.recordSample(duration)

	w.logger.InfoContext(w.ctx, "task completed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", task.Type),
		slog.Duration("duration", duration))
}

// handleFailure routes every runtime failure (processor errors, timeouts,
// validation rejections, missing processors, panics) through the identical
// retry/dead-letter decision.
func (w *Worker) handleFailure(task *Task, processor Processor, execErr error, duration time.Duration) {
	w.tasksFailed.Add(1)
	w.recordSample(duration)

	if processor != nil {
		w.invokeHook(task, "on_failure", func() {
			processor.OnFailure(w.ctx, task, execErr)
		})
	}

	msg := execErr.Error()
	task.ErrorMessage = &msg
	task.Status = StatusFailed

	w.logger.ErrorContext(w.ctx, "task failed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", task.Type),
		slog.Int("retry_count", task.RetryCount),
		slog.Int("max_retries", task.MaxRetries),
		slog.Duration("duration", duration),
		slog.String("error", msg))

	if err := w.service.UpdateTaskStatus(w.ctx, task); err != nil {
		w.logger.ErrorContext(w.ctx, "failed to mark task failed",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return
	}

	if task.RetryCount < task.MaxRetries {
		if err := w.service.RequeueTask(w.ctx, task); err != nil {
			w.logger.ErrorContext(w.ctx, "failed to requeue task",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()))
		}
		return
	}

	if err := w.service.MoveToDeadLetter(w.ctx, task); err != nil {
		w.logger.ErrorContext(w.ctx, "failed to dead-letter task",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
	}
}

// invokeHook runs a processor hook, swallowing panics. Hooks are advisory;
// they must never take down the worker loop.
func (w *Worker) invokeHook(task *Task, name string, hook func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WarnContext(w.ctx, "processor hook panicked",
				slog.String("task_id", task.ID.String()),
				slog.String("hook", name),
				slog.Any("panic", r))
		}
	}()
	hook()
}

func (w *Worker) recordSample(d time.Duration) {
	w.samplesMu.Lock()
	defer w.samplesMu.Unlock()

	w.samples[w.samplePos] = d
	w.samplePos = (w.samplePos + 1) % rollingWindow
	if w.sampleLen < rollingWindow {
		w.sampleLen++
	}
}

// Stats returns current worker statistics. Thread-safe; callable at any time.
func (w *Worker) Stats() WorkerStats {
	w.mu.RLock()
	isActive := w.cancel != nil
	w.mu.RUnlock()

	w.samplesMu.Lock()
	var total time.Duration
	for i := range w.sampleLen {
		total += w.samples[i]
	}
	var avg time.Duration
	if w.sampleLen > 0 {
		avg = total / time.Duration(w.sampleLen)
	}
	w.samplesMu.Unlock()

	var last time.Time
	if ns := w.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}

	return WorkerStats{
		TasksProcessed:        w.tasksProcessed.Load(),
		TasksFailed:           w.tasksFailed.Load(),
		ActiveTasks:           w.activeTasks.Load(),
		AverageProcessingTime: avg,
		LastActivity:          last,
		IsActive:              isActive,
	}
}

// Healthcheck validates that the worker is operational and not overloaded.
// The returned error can be checked with errors.Is against
// ErrWorkerNotRunning and ErrWorkerOverloaded.
func (w *Worker) Healthcheck(ctx context.Context) error {
	stats := w.Stats()

	if !stats.IsActive {
		return errors.Join(ErrHealthcheckFailed, ErrWorkerNotRunning)
	}

	maxConcurrent := int32(cap(w.sem))
	if stats.ActiveTasks >= maxConcurrent {
		return errors.Join(ErrHealthcheckFailed, ErrWorkerOverloaded,
			fmt.Errorf("%d/%d slots busy", stats.ActiveTasks, maxConcurrent))
	}

	return nil
}
