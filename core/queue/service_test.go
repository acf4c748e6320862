package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/taskkit/core/queue"
)

func newTestService(t *testing.T, clock *fakeClock) *queue.Service {
	t.Helper()

	store := queue.NewMemoryStore(queue.WithMemoryClock(clock.Now))
	svc, err := queue.NewService(store, queue.WithServiceClock(clock.Now))
	require.NoError(t, err)
	return svc
}

func testClock() *fakeClock {
	return newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func TestServiceEnqueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("nil store rejected", func(t *testing.T) {
		t.Parallel()

		_, err := queue.NewService(nil)
		require.ErrorIs(t, err, queue.ErrStoreNil)
	})

	t.Run("empty task type rejected", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, testClock())
		_, err := svc.Enqueue(ctx, "", nil)
		require.Error(t, err)
	})

	t.Run("invalid priority rejected", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, testClock())
		_, err := svc.Enqueue(ctx, "grade_submission", nil, queue.WithPriority("urgent"))
		require.ErrorIs(t, err, queue.ErrInvalidPriority)
	})

	t.Run("negative max retries rejected", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, testClock())
		_, err := svc.Enqueue(ctx, "grade_submission", nil, queue.WithMaxRetries(-1))
		require.ErrorIs(t, err, queue.ErrInvalidMaxRetries)
	})

	t.Run("defaults applied", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, testClock())
		id, err := svc.Enqueue(ctx, "grade_submission", map[string]any{"submission_id": "sub-1"})
		require.NoError(t, err)

		task, err := svc.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.PriorityNormal, task.Priority)
		assert.Equal(t, queue.StatusPending, task.Status)
		assert.Equal(t, 3, task.MaxRetries)
		assert.Equal(t, 5*time.Minute, task.Timeout.Std())
		assert.Equal(t, 0, task.RetryCount)
	})

	t.Run("batch category routes to batch queue", func(t *testing.T) {
		t.Parallel()

		clock := testClock()
		svc := newTestService(t, clock)

		id, err := svc.Enqueue(ctx, "recompute_stats", nil,
			queue.WithPriority(queue.PriorityHigh),
			queue.WithCategory(queue.CategoryBatch))
		require.NoError(t, err)

		stats, err := svc.QueueStats(ctx, queue.QueueTypeBatch)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Total)
		assert.Equal(t, int64(1), stats.Pending)

		task, err := svc.GetNextTask(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, task.ID)
	})
}

func TestServiceGetNextTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, testClock())
		_, err := svc.GetNextTask(ctx)
		require.ErrorIs(t, err, queue.ErrQueueEmpty)
	})

	t.Run("queue precedence high normal low batch", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, testClock())

		batchID, err := svc.Enqueue(ctx, "t", nil, queue.WithCategory(queue.CategoryBatch))
		require.NoError(t, err)
		lowID, err := svc.Enqueue(ctx, "t", nil, queue.WithPriority(queue.PriorityLow))
		require.NoError(t, err)
		normalID, err := svc.Enqueue(ctx, "t", nil, queue.WithPriority(queue.PriorityNormal))
		require.NoError(t, err)
		highID, err := svc.Enqueue(ctx, "t", nil, queue.WithPriority(queue.PriorityHigh))
		require.NoError(t, err)

		for i, want := range []uuid.UUID{highID, normalID, lowID, batchID} {
			task, err := svc.GetNextTask(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, task.ID, "pop %d", i)
		}
	})

	t.Run("high priority tasks jump their queue", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, testClock())

		_, err := svc.Enqueue(ctx, "t", nil, queue.WithPriority(queue.PriorityHigh))
		require.NoError(t, err)
		newest, err := svc.Enqueue(ctx, "t", nil, queue.WithPriority(queue.PriorityHigh))
		require.NoError(t, err)

		task, err := svc.GetNextTask(ctx)
		require.NoError(t, err)
		assert.Equal(t, newest, task.ID)
	})

	t.Run("delayed task invisible until due", func(t *testing.T) {
		t.Parallel()

		clock := testClock()
		svc := newTestService(t, clock)

		id, err := svc.Enqueue(ctx, "send_reminder", nil, queue.WithDelay(10*time.Minute))
		require.NoError(t, err)

		_, err = svc.GetNextTask(ctx)
		require.ErrorIs(t, err, queue.ErrQueueEmpty)

		clock.Advance(11 * time.Minute)

		task, err := svc.GetNextTask(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, task.ID)
	})

	t.Run("scheduled at specific time", func(t *testing.T) {
		t.Parallel()

		clock := testClock()
		svc := newTestService(t, clock)

		at := clock.Now().Add(time.Hour)
		id, err := svc.Enqueue(ctx, "send_digest", nil, queue.WithScheduledAt(at))
		require.NoError(t, err)

		_, err = svc.GetNextTask(ctx)
		require.ErrorIs(t, err, queue.ErrQueueEmpty)

		clock.Advance(time.Hour)

		task, err := svc.GetNextTask(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, task.ID)
		require.NotNil(t, task.ScheduledAt)
		assert.True(t, task.ScheduledAt.Equal(at))
	})
}

func TestServiceRetryBackoff(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("linear backoff grows per attempt", func(t *testing.T) {
		t.Parallel()

		clock := testClock()
		svc := newTestService(t, clock)

		id, err := svc.Enqueue(ctx, "flaky", nil, queue.WithMaxRetries(3))
		require.NoError(t, err)
		task, err := svc.GetTask(ctx, id)
		require.NoError(t, err)

		for attempt, wantDelay := range []time.Duration{2 * time.Minute, 4 * time.Minute, 6 * time.Minute} {
			require.NoError(t, svc.RequeueTask(ctx, task))
			require.NotNil(t, task.ScheduledAt)
			assert.Equal(t, wantDelay, task.ScheduledAt.Sub(clock.Now()), "attempt %d", attempt)
			assert.Equal(t, attempt+1, task.RetryCount)
			assert.Equal(t, queue.StatusPending, task.Status)
		}

		require.ErrorIs(t, svc.RequeueTask(ctx, task), queue.ErrRetriesExhausted)
	})

	t.Run("requeued task becomes visible after backoff", func(t *testing.T) {
		t.Parallel()

		clock := testClock()
		svc := newTestService(t, clock)

		id, err := svc.Enqueue(ctx, "flaky", nil, queue.WithMaxRetries(1))
		require.NoError(t, err)

		task, err := svc.GetNextTask(ctx)
		require.NoError(t, err)
		require.NoError(t, svc.RequeueTask(ctx, task))

		_, err = svc.GetNextTask(ctx)
		require.ErrorIs(t, err, queue.ErrQueueEmpty)

		clock.Advance(2*time.Minute + time.Second)

		got, err := svc.GetNextTask(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
	})
}

func TestServiceDeadLetter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("dead lettered task is terminal", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, testClock())

		id, err := svc.Enqueue(ctx, "doomed", nil)
		require.NoError(t, err)
		task, err := svc.GetNextTask(ctx)
		require.NoError(t, err)

		require.NoError(t, svc.MoveToDeadLetter(ctx, task))

		// Never returned by normal claiming.
		_, err = svc.GetNextTask(ctx)
		require.ErrorIs(t, err, queue.ErrQueueEmpty)

		// Status transitions off dead_letter are rejected.
		task.Status = queue.StatusRunning
		err = svc.UpdateTaskStatus(ctx, task)
		require.ErrorIs(t, err, queue.ErrTaskTerminal)

		info, err := svc.GetTaskStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusDeadLetter, info.Status)
	})

	t.Run("replay resets and re-enqueues", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, testClock())

		id, err := svc.Enqueue(ctx, "doomed", nil, queue.WithMaxRetries(2))
		require.NoError(t, err)
		task, err := svc.GetNextTask(ctx)
		require.NoError(t, err)

		task.RetryCount = 2
		msg := "boom"
		task.ErrorMessage = &msg
		require.NoError(t, svc.MoveToDeadLetter(ctx, task))

		require.NoError(t, svc.ReplayDeadLetter(ctx, id))

		got, err := svc.GetNextTask(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, queue.StatusPending, got.Status)
		assert.Equal(t, 0, got.RetryCount)
		assert.Nil(t, got.ErrorMessage)
		assert.Nil(t, got.ScheduledAt)
	})

	t.Run("replay refuses live tasks", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, testClock())

		id, err := svc.Enqueue(ctx, "alive", nil)
		require.NoError(t, err)

		require.ErrorIs(t, svc.ReplayDeadLetter(ctx, id), queue.ErrTaskNotDeadLettered)
	})

	t.Run("replay unknown task", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, testClock())
		require.ErrorIs(t, svc.ReplayDeadLetter(ctx, uuid.New()), queue.ErrTaskNotFound)
	})
}

func TestServiceTaskStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("completed task exposes result", func(t *testing.T) {
		t.Parallel()

		clock := testClock()
		svc := newTestService(t, clock)

		id, err := svc.Enqueue(ctx, "grade_submission", nil)
		require.NoError(t, err)
		task, err := svc.GetNextTask(ctx)
		require.NoError(t, err)

		task.Status = queue.StatusRunning
		require.NoError(t, svc.UpdateTaskStatus(ctx, task))
		require.NotNil(t, task.StartedAt)

		clock.Advance(3 * time.Second)

		task.Metadata["result"] = map[string]any{"score": 0.95}
		task.Status = queue.StatusCompleted
		require.NoError(t, svc.UpdateTaskStatus(ctx, task))
		require.NotNil(t, task.CompletedAt)

		info, err := svc.GetTaskStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusCompleted, info.Status)
		assert.Equal(t, map[string]any{"score": 0.95}, info.Result)
	})

	t.Run("unknown task", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, testClock())
		_, err := svc.GetTaskStatus(ctx, uuid.New())
		require.ErrorIs(t, err, queue.ErrTaskNotFound)
	})
}

func TestServiceQueueStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clock := testClock()
	svc := newTestService(t, clock)

	for range 2 {
		id, err := svc.Enqueue(ctx, "work", nil)
		require.NoError(t, err)

		task, err := svc.GetTask(ctx, id)
		require.NoError(t, err)

		task.Status = queue.StatusRunning
		require.NoError(t, svc.UpdateTaskStatus(ctx, task))

		clock.Advance(4 * time.Second)

		task.Status = queue.StatusCompleted
		require.NoError(t, svc.UpdateTaskStatus(ctx, task))
	}

	failedID, err := svc.Enqueue(ctx, "work", nil)
	require.NoError(t, err)
	failed, err := svc.GetTask(ctx, failedID)
	require.NoError(t, err)
	failed.Status = queue.StatusRunning
	require.NoError(t, svc.UpdateTaskStatus(ctx, failed))
	failed.Status = queue.StatusFailed
	require.NoError(t, svc.UpdateTaskStatus(ctx, failed))

	stats, err := svc.QueueStats(ctx, queue.QueueTypeNormalPriority)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Running)
	assert.Equal(t, 4*time.Second, stats.AverageProcessingTime)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
	assert.Greater(t, stats.Throughput, 0.0)

	all, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Contains(t, all, queue.QueueTypeDeadLetter)
}

func TestServiceHealthcheck(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, testClock())
	require.NoError(t, svc.Healthcheck(context.Background()))
}
