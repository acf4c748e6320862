package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Service routes tasks into priority-named durable queues and owns the
// persistence side of the task lifecycle: delayed scheduling, retry with
// linear backoff, dead-letter escalation, and per-queue statistics.
//
// The service performs no execution itself; workers pull from it and report
// status transitions back. Store errors are never masked; they propagate to
// the caller of the failing operation.
type Service struct {
	store Store

	snapshotTTL    time.Duration
	backoffStep    time.Duration
	defaultRetries int
	defaultTimeout time.Duration

	logger    *slog.Logger
	now       func() time.Time
	startedAt time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger for queue service operations.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSnapshotTTL sets the retention period for task snapshots.
func WithSnapshotTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.snapshotTTL = ttl
		}
	}
}

// WithRetryBackoffStep sets the per-retry backoff increment. The delay
// before attempt n+1 is retryCount × step.
func WithRetryBackoffStep(step time.Duration) ServiceOption {
	return func(s *Service) {
		if step > 0 {
			s.backoffStep = step
		}
	}
}

// WithDefaultMaxRetries sets the retry budget applied when Enqueue is called
// without an explicit limit.
func WithDefaultMaxRetries(n int) ServiceOption {
	return func(s *Service) {
		if n >= 0 {
			s.defaultRetries = n
		}
	}
}

// WithDefaultTimeout sets the execution deadline applied when Enqueue is
// called without an explicit timeout.
func WithDefaultTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.defaultTimeout = d
		}
	}
}

// WithServiceClock overrides the service's time source. Tests use this to
// make delayed scheduling and backoff deterministic.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a queue service on top of the given durable store.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	s := &Service{
		store:          store,
		snapshotTTL:    24 * time.Hour,
		backoffStep:    2 * time.Minute,
		defaultRetries: 3,
		defaultTimeout: 5 * time.Minute,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.startedAt = s.now()
	return s, nil
}

// NewServiceFromConfig creates a Service from configuration.
// Additional options override config values.
func NewServiceFromConfig(cfg Config, store Store, opts ...ServiceOption) (*Service, error) {
	allOpts := append([]ServiceOption{
		WithSnapshotTTL(cfg.SnapshotTTL),
		WithRetryBackoffStep(cfg.RetryBackoffStep),
		WithDefaultMaxRetries(cfg.DefaultMaxRetries),
		WithDefaultTimeout(cfg.DefaultTimeout),
	}, opts...)

	return NewService(store, allOpts...)
}

// enqueueOptions collects per-task settings applied at enqueue time.
type enqueueOptions struct {
	priority     Priority
	category     Category
	scheduledAt  *time.Time
	delay        time.Duration
	maxRetries   int
	timeout      time.Duration
	dependencies []uuid.UUID
	metadata     map[string]any
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

// WithPriority sets the task priority. Invalid values fail the enqueue.
func WithPriority(p Priority) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = p }
}

// WithCategory sets the scheduling category.
func WithCategory(c Category) EnqueueOption {
	return func(o *enqueueOptions) {
		if c != "" {
			o.category = c
		}
	}
}

// WithScheduledAt defers the task until a specific time.
func WithScheduledAt(at time.Time) EnqueueOption {
	return func(o *enqueueOptions) { o.scheduledAt = &at }
}

// WithDelay defers the task by a relative duration.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithMaxRetries overrides the retry budget for this task.
func WithMaxRetries(n int) EnqueueOption {
	return func(o *enqueueOptions) { o.maxRetries = n }
}

// WithTimeout overrides the execution deadline for this task.
func WithTimeout(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithDependencies records task IDs that must complete before an in-process
// scheduler admits this task. The durable layer stores them untouched.
func WithDependencies(ids ...uuid.UUID) EnqueueOption {
	return func(o *enqueueOptions) { o.dependencies = ids }
}

// WithMetadata attaches initial metadata to the task.
func WithMetadata(md map[string]any) EnqueueOption {
	return func(o *enqueueOptions) { o.metadata = md }
}

// Enqueue creates a task and routes it into its durable queue. Tasks
// scheduled in the future land in the delayed set and stay invisible to
// GetNextTask until due. Safe under concurrent producers: the store push is
// atomic.
func (s *Service) Enqueue(ctx context.Context, taskType string, payload map[string]any, opts ...EnqueueOption) (uuid.UUID, error) {
	if taskType == "" {
		return uuid.Nil, fmt.Errorf("task type cannot be empty")
	}

	options := &enqueueOptions{
		priority:   PriorityDefault,
		category:   CategoryDefault,
		maxRetries: s.defaultRetries,
		timeout:    s.defaultTimeout,
	}
	for _, opt := range opts {
		opt(options)
	}

	if !options.priority.Valid() {
		return uuid.Nil, ErrInvalidPriority
	}
	if options.maxRetries < 0 {
		return uuid.Nil, ErrInvalidMaxRetries
	}

	now := s.now()
	task := &Task{
		ID:           uuid.New(),
		Type:         taskType,
		Priority:     options.priority,
		Category:     options.category,
		Payload:      payload,
		CreatedAt:    now,
		Status:       StatusPending,
		MaxRetries:   options.maxRetries,
		Timeout:      Seconds(options.timeout),
		Dependencies: options.dependencies,
		Metadata:     options.metadata,
	}
	if task.Metadata == nil {
		task.Metadata = make(map[string]any)
	}

	switch {
	case options.scheduledAt != nil:
		task.ScheduledAt = options.scheduledAt
	case options.delay > 0:
		at := now.Add(options.delay)
		task.ScheduledAt = &at
	}

	if err := s.saveSnapshot(ctx, task); err != nil {
		return uuid.Nil, err
	}

	qt := task.QueueType()
	if task.ScheduledAt != nil && task.ScheduledAt.After(now) {
		if err := s.store.PushDelayed(ctx, qt, task.ID, *task.ScheduledAt); err != nil {
			return uuid.Nil, err
		}
	} else {
		if err := s.store.Push(ctx, qt, task.ID, task.Priority == PriorityHigh); err != nil {
			return uuid.Nil, err
		}
	}

	if err := s.store.IncrStat(ctx, qt, statTotal, 1); err != nil {
		return uuid.Nil, err
	}

	s.logger.InfoContext(ctx, "task enqueued",
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", task.Type),
		slog.String("queue", string(qt)),
		slog.String("priority", string(task.Priority)))

	return task.ID, nil
}

// GetNextTask promotes due delayed tasks and pops the next task in fixed
// queue precedence: high > normal > low > batch. No aging happens at this
// layer; aging is the in-process scheduler's job once a task is in memory.
// Returns ErrQueueEmpty when no task is ready.
func (s *Service) GetNextTask(ctx context.Context) (*Task, error) {
	now := s.now()

	for _, qt := range PopOrder {
		if _, err := s.store.PromoteDue(ctx, qt, now); err != nil {
			return nil, err
		}
	}

	for _, qt := range PopOrder {
		for {
			taskID, err := s.store.Pop(ctx, qt)
			if err != nil {
				if errors.Is(err, ErrQueueEmpty) {
					break
				}
				return nil, err
			}

			task, err := s.loadSnapshot(ctx, taskID)
			if err != nil {
				if errors.Is(err, ErrTaskNotFound) {
					// Snapshot outlived by its queue entry. Skip and keep draining.
					s.logger.WarnContext(ctx, "dropping queue entry without snapshot",
						slog.String("task_id", taskID.String()),
						slog.String("queue", string(qt)))
					continue
				}
				return nil, err
			}

			return task, nil
		}
	}

	return nil, ErrQueueEmpty
}

// UpdateTaskStatus persists a task state transition and maintains queue
// statistics. On completion the queue's online average processing time is
// advanced by avg' = (avg·(n−1) + duration) / n.
func (s *Service) UpdateTaskStatus(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrTaskNil
	}

	prev, err := s.loadSnapshot(ctx, task.ID)
	if err != nil && !errors.Is(err, ErrTaskNotFound) {
		return err
	}
	if prev != nil && prev.Status.Terminal() && task.Status != prev.Status {
		return fmt.Errorf("%w: task %s is %s", ErrTaskTerminal, task.ID, prev.Status)
	}

	now := s.now()
	qt := task.QueueType()

	switch task.Status {
	case StatusRunning:
		if task.StartedAt == nil {
			task.StartedAt = &now
		}
		if err := s.store.IncrStat(ctx, qt, statRunning, 1); err != nil {
			return err
		}
	case StatusCompleted:
		if task.CompletedAt == nil {
			task.CompletedAt = &now
		}
		duration := task.CompletedAt.Sub(task.CreatedAt)
		if task.StartedAt != nil {
			duration = task.CompletedAt.Sub(*task.StartedAt)
		}
		if err := s.store.IncrStat(ctx, qt, statRunning, -1); err != nil {
			return err
		}
		if err := s.store.IncrStat(ctx, qt, statCompleted, 1); err != nil {
			return err
		}
		if err := s.store.IncrStatFloat(ctx, qt, statProcessingTimeTotal, duration.Seconds()); err != nil {
			return err
		}
	case StatusFailed:
		if err := s.store.IncrStat(ctx, qt, statRunning, -1); err != nil {
			return err
		}
		if err := s.store.IncrStat(ctx, qt, statFailed, 1); err != nil {
			return err
		}
	}

	if err := s.saveSnapshot(ctx, task); err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "task status updated",
		slog.String("task_id", task.ID.String()),
		slog.String("status", string(task.Status)))

	return nil
}

// RequeueTask schedules another attempt for a failed task. The retry counter
// is incremented and the next attempt is delayed by retryCount × backoff
// step, so successive delays grow linearly (2, 4, 6 minutes by default).
func (s *Service) RequeueTask(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrTaskNil
	}
	if task.RetryCount >= task.MaxRetries {
		return fmt.Errorf("%w: task %s used %d of %d retries",
			ErrRetriesExhausted, task.ID, task.RetryCount, task.MaxRetries)
	}

	task.RetryCount++
	task.Status = StatusPending
	task.StartedAt = nil
	task.CompletedAt = nil

	now := s.now()
	delay := time.Duration(task.RetryCount) * s.backoffStep
	at := now.Add(delay)
	task.ScheduledAt = &at

	if err := s.saveSnapshot(ctx, task); err != nil {
		return err
	}

	qt := task.QueueType()
	if at.After(now) {
		if err := s.store.PushDelayed(ctx, qt, task.ID, at); err != nil {
			return err
		}
	} else {
		if err := s.store.Push(ctx, qt, task.ID, task.Priority == PriorityHigh); err != nil {
			return err
		}
	}

	s.logger.InfoContext(ctx, "task requeued for retry",
		slog.String("task_id", task.ID.String()),
		slog.Int("retry_count", task.RetryCount),
		slog.Int("max_retries", task.MaxRetries),
		slog.Duration("backoff", delay))

	return nil
}

// MoveToDeadLetter escalates a task whose retries are exhausted or that hit
// an unrecoverable failure. Dead-lettered tasks are terminal: no automatic
// reprocessing happens, only explicit ReplayDeadLetter gets them out.
func (s *Service) MoveToDeadLetter(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrTaskNil
	}

	origin := task.QueueType()
	task.Status = StatusDeadLetter

	if err := s.saveSnapshot(ctx, task); err != nil {
		return err
	}
	if err := s.store.Push(ctx, QueueTypeDeadLetter, task.ID, false); err != nil {
		return err
	}
	if err := s.store.IncrStat(ctx, origin, statDeadLettered, 1); err != nil {
		return err
	}

	s.logger.WarnContext(ctx, "task moved to dead letter queue",
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", task.Type),
		slog.Int("retry_count", task.RetryCount))

	return nil
}

// ReplayDeadLetter re-enqueues a dead-lettered task with a fresh retry
// budget. This is the manual operator path; nothing replays automatically.
func (s *Service) ReplayDeadLetter(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.loadSnapshot(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != StatusDeadLetter {
		return fmt.Errorf("%w: task %s is %s", ErrTaskNotDeadLettered, taskID, task.Status)
	}

	if err := s.store.Remove(ctx, QueueTypeDeadLetter, taskID); err != nil {
		return err
	}

	task.Status = StatusPending
	task.RetryCount = 0
	task.ScheduledAt = nil
	task.StartedAt = nil
	task.CompletedAt = nil
	task.ErrorMessage = nil

	if err := s.saveSnapshot(ctx, task); err != nil {
		return err
	}

	qt := task.QueueType()
	if err := s.store.Push(ctx, qt, task.ID, task.Priority == PriorityHigh); err != nil {
		return err
	}
	if err := s.store.IncrStat(ctx, qt, statTotal, 1); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "dead-lettered task replayed",
		slog.String("task_id", taskID.String()),
		slog.String("queue", string(qt)))

	return nil
}

// GetTask returns the current snapshot of a task.
func (s *Service) GetTask(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	return s.loadSnapshot(ctx, taskID)
}

// GetTaskStatus returns the status read model for a task, built from the
// snapshot. Results live in the task's metadata under the "result" key.
func (s *Service) GetTaskStatus(ctx context.Context, taskID uuid.UUID) (*StatusInfo, error) {
	task, err := s.loadSnapshot(ctx, taskID)
	if err != nil {
		return nil, err
	}

	info := &StatusInfo{
		TaskID:       task.ID,
		Status:       task.Status,
		RetryCount:   task.RetryCount,
		ErrorMessage: task.ErrorMessage,
	}
	if task.Status == StatusCompleted {
		if result, ok := task.Metadata["result"].(map[string]any); ok {
			info.Result = result
		}
	}
	return info, nil
}

// QueueStats returns the operational statistics of one durable queue.
func (s *Service) QueueStats(ctx context.Context, qt QueueType) (QueueStats, error) {
	raw, err := s.store.GetStats(ctx, qt)
	if err != nil {
		return QueueStats{}, err
	}

	liveLen, err := s.store.Len(ctx, qt)
	if err != nil {
		return QueueStats{}, err
	}
	delayedLen, err := s.store.DelayedLen(ctx, qt)
	if err != nil {
		return QueueStats{}, err
	}

	stats := QueueStats{
		QueueType:    qt,
		Total:        int64(raw[statTotal]),
		Pending:      liveLen + delayedLen,
		Running:      int64(raw[statRunning]),
		Completed:    int64(raw[statCompleted]),
		Failed:       int64(raw[statFailed]),
		DeadLettered: int64(raw[statDeadLettered]),
	}

	if stats.Completed > 0 {
		avg := raw[statProcessingTimeTotal] / float64(stats.Completed)
		stats.AverageProcessingTime = time.Duration(avg * float64(time.Second))
	}

	if elapsed := s.now().Sub(s.startedAt).Seconds(); elapsed > 0 {
		stats.Throughput = float64(stats.Completed) / elapsed
	}

	if attempts := stats.Completed + stats.Failed; attempts > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(attempts)
	}

	return stats, nil
}

// Stats returns the operational statistics of every durable queue,
// including the dead-letter queue.
func (s *Service) Stats(ctx context.Context) (map[QueueType]QueueStats, error) {
	out := make(map[QueueType]QueueStats, len(PopOrder)+1)
	for _, qt := range append(slices.Clone(PopOrder), QueueTypeDeadLetter) {
		stats, err := s.QueueStats(ctx, qt)
		if err != nil {
			return nil, err
		}
		out[qt] = stats
	}
	return out, nil
}

// Healthcheck verifies the durable store answers a cheap read.
func (s *Service) Healthcheck(ctx context.Context) error {
	if _, err := s.store.Len(ctx, QueueTypeHighPriority); err != nil {
		return errors.Join(ErrHealthcheckFailed, err)
	}
	return nil
}

func (s *Service) saveSnapshot(ctx context.Context, task *Task) error {
	data, err := task.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize task %s: %w", task.ID, err)
	}
	return s.store.SaveTask(ctx, task.ID, data, s.snapshotTTL)
}

func (s *Service) loadSnapshot(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	data, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	task, err := UnmarshalTask(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize task %s: %w", taskID, err)
	}
	return task, nil
}
