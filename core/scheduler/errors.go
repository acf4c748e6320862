package scheduler

import "errors"

// Package sentinel errors. Check with errors.Is.
var (
	// ErrTaskNil is returned when a nil task is submitted.
	ErrTaskNil = errors.New("task cannot be nil")

	// ErrDependencyUnmet is returned at submit time when a task's
	// dependencies are not all completed. The task is never enqueued;
	// this surfaces synchronously to the submitter and is not retryable.
	ErrDependencyUnmet = errors.New("task has unmet dependencies")

	// ErrTaskAlreadyQueued is returned when submitting a task ID that is
	// already queued or running.
	ErrTaskAlreadyQueued = errors.New("task already submitted")

	// ErrNoTaskReady signals that every queue is empty.
	ErrNoTaskReady = errors.New("no task ready to run")

	// ErrSchedulerSaturated signals the advisory concurrency cap is
	// reached; no task is dispatched until a running task finishes.
	ErrSchedulerSaturated = errors.New("scheduler at max concurrent tasks")

	// ErrUnknownTask is returned when completing or failing a task the
	// scheduler is not tracking as running.
	ErrUnknownTask = errors.New("task is not running")

	// ErrInvalidAlgorithm is returned for unrecognized algorithm names.
	ErrInvalidAlgorithm = errors.New("invalid scheduling algorithm")

	// ErrHealthcheckFailed is the base error for scheduler health checks.
	ErrHealthcheckFailed = errors.New("healthcheck failed")

	// ErrSchedulerNotRunning indicates the aging loop is not active.
	ErrSchedulerNotRunning = errors.New("scheduler is not running")
)
