package queue_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/taskkit/core/queue"
)

func TestPriority(t *testing.T) {
	t.Parallel()

	t.Run("valid levels", func(t *testing.T) {
		t.Parallel()

		assert.True(t, queue.PriorityHigh.Valid())
		assert.True(t, queue.PriorityNormal.Valid())
		assert.True(t, queue.PriorityLow.Valid())
		assert.False(t, queue.Priority("urgent").Valid())
		assert.False(t, queue.Priority("").Valid())
	})

	t.Run("promote one level with high ceiling", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, queue.PriorityNormal, queue.PriorityLow.Promote())
		assert.Equal(t, queue.PriorityHigh, queue.PriorityNormal.Promote())
		assert.Equal(t, queue.PriorityHigh, queue.PriorityHigh.Promote())
	})

	t.Run("queue routing", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, queue.QueueTypeHighPriority, queue.PriorityHigh.QueueType())
		assert.Equal(t, queue.QueueTypeNormalPriority, queue.PriorityNormal.QueueType())
		assert.Equal(t, queue.QueueTypeLowPriority, queue.PriorityLow.QueueType())
	})
}

func TestCategoryWeight(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 4.0, queue.CategoryRealTime.Weight())
	assert.Equal(t, 3.0, queue.CategoryInteractive.Weight())
	assert.Equal(t, 2.0, queue.CategoryBatch.Weight())
	assert.Equal(t, 1.0, queue.CategoryBackground.Weight())
	assert.Equal(t, 1.0, queue.Category("unknown").Weight())
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, queue.StatusDeadLetter.Terminal())
	assert.False(t, queue.StatusPending.Terminal())
	assert.False(t, queue.StatusRunning.Terminal())
	assert.False(t, queue.StatusCompleted.Terminal())
	assert.False(t, queue.StatusFailed.Terminal())
}

func TestTaskQueueType(t *testing.T) {
	t.Parallel()

	t.Run("batch category overrides priority", func(t *testing.T) {
		t.Parallel()

		task := &queue.Task{Priority: queue.PriorityHigh, Category: queue.CategoryBatch}
		assert.Equal(t, queue.QueueTypeBatch, task.QueueType())
	})

	t.Run("priority routing otherwise", func(t *testing.T) {
		t.Parallel()

		task := &queue.Task{Priority: queue.PriorityLow, Category: queue.CategoryRealTime}
		assert.Equal(t, queue.QueueTypeLowPriority, task.QueueType())
	})
}

func TestTaskWireFormat(t *testing.T) {
	t.Parallel()

	t.Run("field names and shapes", func(t *testing.T) {
		t.Parallel()

		created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		scheduled := created.Add(time.Hour)
		task := &queue.Task{
			ID:          uuid.MustParse("a2f07dae-61a1-4f3a-9f3d-1f8f6dca9f1a"),
			Type:        "grade_submission",
			Priority:    queue.PriorityHigh,
			Category:    queue.CategoryInteractive,
			Payload:     map[string]any{"submission_id": "sub-42"},
			CreatedAt:   created,
			ScheduledAt: &scheduled,
			Status:      queue.StatusPending,
			RetryCount:  1,
			MaxRetries:  3,
			Timeout:     queue.Seconds(90 * time.Second),
			Metadata:    map[string]any{},
		}

		data, err := task.Marshal()
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))

		assert.Equal(t, "a2f07dae-61a1-4f3a-9f3d-1f8f6dca9f1a", raw["task_id"])
		assert.Equal(t, "grade_submission", raw["task_type"])
		assert.Equal(t, "high", raw["priority"])
		assert.Equal(t, "interactive", raw["category"])
		assert.Equal(t, "pending", raw["status"])
		assert.Equal(t, float64(1), raw["retry_count"])
		assert.Equal(t, float64(3), raw["max_retries"])
		assert.Equal(t, float64(90), raw["timeout"], "timeout is serialized as seconds")
		assert.Equal(t, "2025-06-01T12:00:00Z", raw["created_at"])
		assert.Equal(t, "2025-06-01T13:00:00Z", raw["scheduled_at"])

		// Unset optional timestamps stay off the wire.
		assert.NotContains(t, raw, "started_at")
		assert.NotContains(t, raw, "completed_at")
		assert.NotContains(t, raw, "error_message")
		assert.NotContains(t, raw, "dependencies")
	})

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		task := &queue.Task{
			ID:           uuid.New(),
			Type:         "send_notification",
			Priority:     queue.PriorityNormal,
			Payload:      map[string]any{"user_id": "u-1"},
			CreatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			Status:       queue.StatusFailed,
			MaxRetries:   2,
			Timeout:      queue.Seconds(30 * time.Second),
			Dependencies: []uuid.UUID{uuid.New()},
			Metadata:     map[string]any{"attempt": "first"},
		}

		data, err := task.Marshal()
		require.NoError(t, err)

		got, err := queue.UnmarshalTask(data)
		require.NoError(t, err)

		assert.Equal(t, task.ID, got.ID)
		assert.Equal(t, task.Type, got.Type)
		assert.Equal(t, task.Priority, got.Priority)
		assert.Equal(t, task.Status, got.Status)
		assert.Equal(t, task.Dependencies, got.Dependencies)
		assert.Equal(t, 30*time.Second, got.Timeout.Std())
	})
}
