package queue

import "errors"

// Package sentinel errors. Check with errors.Is; runtime task failures are
// never surfaced to producers directly; they show up as status transitions.
var (
	// ErrStoreNil is returned when a component is constructed without a store.
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrServiceNil is returned when a worker is constructed without a service.
	ErrServiceNil = errors.New("queue service cannot be nil")

	// ErrTaskNil is returned when a nil task is passed to a queue operation.
	ErrTaskNil = errors.New("task cannot be nil")

	// ErrQueueEmpty signals that no task is available to claim right now.
	ErrQueueEmpty = errors.New("no task available in queue")

	// ErrTaskNotFound is returned when no snapshot exists for a task ID.
	// Snapshots expire after the configured TTL.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskTerminal is returned on attempts to mutate a dead-lettered task.
	ErrTaskTerminal = errors.New("task is in a terminal state")

	// ErrTaskNotDeadLettered is returned when replaying a task that is not
	// in the dead-letter queue.
	ErrTaskNotDeadLettered = errors.New("task is not dead-lettered")

	// ErrInvalidPriority is returned for priorities outside HIGH/NORMAL/LOW.
	ErrInvalidPriority = errors.New("invalid task priority")

	// ErrInvalidMaxRetries is returned for negative retry limits.
	ErrInvalidMaxRetries = errors.New("max retries cannot be negative")

	// ErrRetriesExhausted is returned when requeueing a task whose retry
	// budget is already spent.
	ErrRetriesExhausted = errors.New("task retries exhausted")

	// ErrProcessorNil is returned when registering a nil processor.
	ErrProcessorNil = errors.New("processor cannot be nil")

	// ErrProcessorAlreadyRegistered is returned on duplicate task type bindings.
	ErrProcessorAlreadyRegistered = errors.New("processor already registered for task type")

	// ErrProcessorNotRegistered means no processor is bound to the task type.
	// It is routed through the standard retry/dead-letter path so operators
	// see the failure instead of a silent drop.
	ErrProcessorNotRegistered = errors.New("no processor registered for task type")

	// ErrValidationFailed means the processor rejected the task before
	// execution. Routed through the standard failure path.
	ErrValidationFailed = errors.New("task validation failed")

	// ErrTaskTimeout means task execution exceeded its deadline. Treated
	// identically to any other processing failure.
	ErrTaskTimeout = errors.New("task execution timed out")

	// ErrNoProcessors is returned when starting a worker with no registered
	// processors. Bindings are validated eagerly at startup.
	ErrNoProcessors = errors.New("no processors registered")

	// ErrHealthcheckFailed is the base error for component health checks.
	ErrHealthcheckFailed = errors.New("healthcheck failed")

	// ErrWorkerNotRunning indicates the worker loop is not active.
	ErrWorkerNotRunning = errors.New("worker is not running")

	// ErrWorkerOverloaded indicates all worker slots are busy.
	ErrWorkerOverloaded = errors.New("worker is overloaded")
)
