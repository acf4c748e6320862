package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority governs durable routing and in-memory scheduling precedence.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"

	PriorityDefault = PriorityNormal
)

// Valid checks if the priority is one of the defined levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Promote returns the next priority level up. HIGH is the ceiling.
func (p Priority) Promote() Priority {
	switch p {
	case PriorityLow:
		return PriorityNormal
	case PriorityNormal:
		return PriorityHigh
	}
	return PriorityHigh
}

// QueueType returns the durable queue a task of this priority is routed to.
func (p Priority) QueueType() QueueType {
	switch p {
	case PriorityHigh:
		return QueueTypeHighPriority
	case PriorityLow:
		return QueueTypeLowPriority
	default:
		return QueueTypeNormalPriority
	}
}

// Category classifies tasks for weighted-fair scheduling.
type Category string

const (
	CategoryRealTime    Category = "realtime"
	CategoryInteractive Category = "interactive"
	CategoryBatch       Category = "batch"
	CategoryBackground  Category = "background"

	CategoryDefault = CategoryBackground
)

// Weight returns the scheduling weight used by the weighted-fair algorithm.
// Unknown categories fall back to the background weight.
func (c Category) Weight() float64 {
	switch c {
	case CategoryRealTime:
		return 4
	case CategoryInteractive:
		return 3
	case CategoryBatch:
		return 2
	default:
		return 1
	}
}

// Status tracks the lifecycle state of a task through the queue system.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

// Terminal reports whether no further status transitions are allowed.
// Dead-lettered tasks can only leave this state through an explicit
// operator replay.
func (s Status) Terminal() bool {
	return s == StatusDeadLetter
}

// QueueType identifies a durable queue. It is a coarse routing concept,
// distinct from the scheduler's fine-grained in-memory priority.
type QueueType string

const (
	QueueTypeHighPriority   QueueType = "high_priority"
	QueueTypeNormalPriority QueueType = "normal_priority"
	QueueTypeLowPriority    QueueType = "low_priority"
	QueueTypeBatch          QueueType = "batch"
	QueueTypeDeadLetter     QueueType = "dead_letter"
)

// PopOrder is the fixed precedence used when pulling work from the
// durable queues. The dead-letter queue is never polled for work.
var PopOrder = []QueueType{
	QueueTypeHighPriority,
	QueueTypeNormalPriority,
	QueueTypeLowPriority,
	QueueTypeBatch,
}

// Seconds is a duration that marshals as a JSON number of seconds,
// matching the durable wire format for task timeouts.
type Seconds time.Duration

// Std converts to a standard library duration.
func (s Seconds) Std() time.Duration {
	return time.Duration(s)
}

func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(s).Seconds())
}

func (s *Seconds) UnmarshalJSON(data []byte) error {
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return err
	}
	*s = Seconds(time.Duration(secs * float64(time.Second)))
	return nil
}

// Task is the unit of asynchronous work. The JSON tags define the durable
// wire format; snapshots must round-trip exactly, including nil optionals.
type Task struct {
	ID           uuid.UUID      `json:"task_id"`
	Type         string         `json:"task_type"`
	Priority     Priority       `json:"priority"`
	Category     Category       `json:"category,omitempty"`
	Payload      map[string]any `json:"payload"`
	CreatedAt    time.Time      `json:"created_at"`
	ScheduledAt  *time.Time     `json:"scheduled_at,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Status       Status         `json:"status"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	Timeout      Seconds        `json:"timeout"`
	Dependencies []uuid.UUID    `json:"dependencies,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	ErrorMessage *string        `json:"error_message,omitempty"`
}

// QueueType returns the durable queue this task is routed to. Tasks in the
// batch category route to the batch queue regardless of priority; everything
// else routes by priority level.
func (t *Task) QueueType() QueueType {
	if t.Category == CategoryBatch {
		return QueueTypeBatch
	}
	return t.Priority.QueueType()
}

// Marshal serializes the task snapshot for durable storage.
func (t *Task) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalTask deserializes a durable task snapshot.
func UnmarshalTask(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// StatusInfo is the read model returned by the status API. It is built from
// the task:<id> snapshot, which is retained for 24 hours and is not a
// long-term audit store.
type StatusInfo struct {
	TaskID       uuid.UUID      `json:"task_id"`
	Status       Status         `json:"status"`
	RetryCount   int            `json:"retry_count"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
}

// QueueStats aggregates per-queue operational counters.
type QueueStats struct {
	QueueType             QueueType     `json:"queue_type"`
	Total                 int64         `json:"total"`
	Pending               int64         `json:"pending"`
	Running               int64         `json:"running"`
	Completed             int64         `json:"completed"`
	Failed                int64         `json:"failed"`
	DeadLettered          int64         `json:"dead_lettered"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	Throughput            float64       `json:"throughput"`
	SuccessRate           float64       `json:"success_rate"`
}
