package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the durable list/sorted-set abstraction backing the queue service.
// A task ID popped from a queue is owned by exactly one caller until it is
// completed, requeued, or dead-lettered; Pop is the only mutual-exclusion
// mechanism required across concurrent workers.
//
// Implementations: RedisStore (production), PostgresStore (alternative
// durable backend), MemoryStore (tests and local development).
type Store interface {
	// Push appends a task ID to a live queue. When front is true the ID is
	// pushed to the head of the list, jumping ahead of waiting tasks.
	Push(ctx context.Context, qt QueueType, taskID uuid.UUID, front bool) error

	// Pop atomically removes and returns the head of a live queue.
	// Returns ErrQueueEmpty when the queue has no tasks.
	Pop(ctx context.Context, qt QueueType) (uuid.UUID, error)

	// Remove deletes a single occurrence of a task ID from a live queue.
	Remove(ctx context.Context, qt QueueType, taskID uuid.UUID) error

	// PushDelayed schedules a task ID to become visible at the given time.
	PushDelayed(ctx context.Context, qt QueueType, taskID uuid.UUID, at time.Time) error

	// PromoteDue atomically moves all delayed entries due at or before now
	// into the live queue, preserving score order. Returns the number moved.
	PromoteDue(ctx context.Context, qt QueueType, now time.Time) (int, error)

	// Len returns the number of task IDs in the live queue.
	Len(ctx context.Context, qt QueueType) (int64, error)

	// DelayedLen returns the number of task IDs awaiting promotion.
	DelayedLen(ctx context.Context, qt QueueType) (int64, error)

	// SaveTask stores a serialized task snapshot with a TTL.
	SaveTask(ctx context.Context, taskID uuid.UUID, data []byte, ttl time.Duration) error

	// GetTask returns a serialized task snapshot.
	// Returns ErrTaskNotFound when the snapshot is missing or expired.
	GetTask(ctx context.Context, taskID uuid.UUID) ([]byte, error)

	// IncrStat atomically adjusts an integer statistics counter for a queue.
	IncrStat(ctx context.Context, qt QueueType, field string, delta int64) error

	// IncrStatFloat atomically adjusts a float statistics counter for a queue.
	IncrStatFloat(ctx context.Context, qt QueueType, field string, delta float64) error

	// GetStats returns all statistics counters recorded for a queue.
	GetStats(ctx context.Context, qt QueueType) (map[string]float64, error)
}

// Statistics counter fields maintained per queue.
const (
	statTotal               = "total"
	statRunning             = "running"
	statCompleted           = "completed"
	statFailed              = "failed"
	statDeadLettered        = "dead_lettered"
	statProcessingTimeTotal = "processing_time_total"
)
