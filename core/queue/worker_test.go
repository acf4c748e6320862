package queue_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/taskkit/core/queue"
)

type stubProcessor struct {
	process   func(ctx context.Context, task *queue.Task) (map[string]any, error)
	validate  func(task *queue.Task) bool
	onSuccess func(ctx context.Context, task *queue.Task, result map[string]any)
	onFailure func(ctx context.Context, task *queue.Task, err error)
}

func (p *stubProcessor) Process(ctx context.Context, task *queue.Task) (map[string]any, error) {
	if p.process == nil {
		return nil, nil
	}
	return p.process(ctx, task)
}

func (p *stubProcessor) Validate(task *queue.Task) bool {
	if p.validate == nil {
		return true
	}
	return p.validate(task)
}

func (p *stubProcessor) OnSuccess(ctx context.Context, task *queue.Task, result map[string]any) {
	if p.onSuccess != nil {
		p.onSuccess(ctx, task, result)
	}
}

func (p *stubProcessor) OnFailure(ctx context.Context, task *queue.Task, err error) {
	if p.onFailure != nil {
		p.onFailure(ctx, task, err)
	}
}

// newWorkerHarness wires a service with near-zero retry backoff to a worker
// polling fast enough for Eventually-style assertions.
func newWorkerHarness(t *testing.T) (*queue.Service, *queue.Worker) {
	t.Helper()

	store := queue.NewMemoryStore()
	svc, err := queue.NewService(store, queue.WithRetryBackoffStep(time.Millisecond))
	require.NoError(t, err)

	worker, err := queue.NewWorker(svc,
		queue.WithPollInterval(5*time.Millisecond),
		queue.WithMaxConcurrentTasks(4),
		queue.WithShutdownTimeout(2*time.Second),
	)
	require.NoError(t, err)
	return svc, worker
}

func startWorker(t *testing.T, worker *queue.Worker) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(3 * time.Second):
			t.Fatal("worker did not stop")
		}
	})
}

func waitForStatus(t *testing.T, svc *queue.Service, id uuid.UUID, want queue.Status) *queue.StatusInfo {
	t.Helper()

	var info *queue.StatusInfo
	require.Eventually(t, func() bool {
		got, err := svc.GetTaskStatus(context.Background(), id)
		if err != nil {
			return false
		}
		info = got
		return got.Status == want
	}, 3*time.Second, 5*time.Millisecond, "task never reached status %s", want)
	return info
}

func TestWorkerRegisterProcessor(t *testing.T) {
	t.Parallel()

	_, worker := newWorkerHarness(t)

	require.ErrorIs(t, worker.RegisterProcessor("x", nil), queue.ErrProcessorNil)
	require.Error(t, worker.RegisterProcessor("", &stubProcessor{}))

	require.NoError(t, worker.RegisterProcessor("grade_submission", &stubProcessor{}))
	require.ErrorIs(t, worker.RegisterProcessor("grade_submission", &stubProcessor{}),
		queue.ErrProcessorAlreadyRegistered)
	assert.Equal(t, 1, worker.ProcessorCount())
}

func TestWorkerStartRequiresProcessors(t *testing.T) {
	t.Parallel()

	_, worker := newWorkerHarness(t)
	require.ErrorIs(t, worker.Start(context.Background()), queue.ErrNoProcessors)
}

func TestWorkerProcessesTask(t *testing.T) {
	t.Parallel()

	svc, worker := newWorkerHarness(t)
	require.NoError(t, worker.RegisterProcessor("grade_submission", &stubProcessor{
		process: func(ctx context.Context, task *queue.Task) (map[string]any, error) {
			return map[string]any{"score": 0.95}, nil
		},
	}))

	startWorker(t, worker)

	id, err := svc.Enqueue(context.Background(), "grade_submission",
		map[string]any{"submission_id": "sub-1"})
	require.NoError(t, err)

	info := waitForStatus(t, svc, id, queue.StatusCompleted)
	assert.Equal(t, map[string]any{"score": 0.95}, info.Result)
	assert.Equal(t, 0, info.RetryCount)
	assert.Nil(t, info.ErrorMessage)

	require.Eventually(t, func() bool {
		return worker.Stats().TasksProcessed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerRetriesThenDeadLetters(t *testing.T) {
	t.Parallel()

	svc, worker := newWorkerHarness(t)

	var attempts atomic.Int32
	require.NoError(t, worker.RegisterProcessor("flaky", &stubProcessor{
		process: func(ctx context.Context, task *queue.Task) (map[string]any, error) {
			attempts.Add(1)
			return nil, errors.New("downstream unavailable")
		},
	}))

	startWorker(t, worker)

	id, err := svc.Enqueue(context.Background(), "flaky", nil, queue.WithMaxRetries(2))
	require.NoError(t, err)

	// max_retries=2 allows 3 attempts total before dead-lettering.
	info := waitForStatus(t, svc, id, queue.StatusDeadLetter)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 2, info.RetryCount)
	require.NotNil(t, info.ErrorMessage)
	assert.Contains(t, *info.ErrorMessage, "downstream unavailable")

	assert.Equal(t, int64(3), worker.Stats().TasksFailed)
}

func TestWorkerTaskTimeout(t *testing.T) {
	t.Parallel()

	svc, worker := newWorkerHarness(t)
	require.NoError(t, worker.RegisterProcessor("slow", &stubProcessor{
		process: func(ctx context.Context, task *queue.Task) (map[string]any, error) {
			select {
			case <-time.After(5 * time.Second):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	startWorker(t, worker)

	id, err := svc.Enqueue(context.Background(), "slow", nil,
		queue.WithTimeout(20*time.Millisecond),
		queue.WithMaxRetries(0))
	require.NoError(t, err)

	info := waitForStatus(t, svc, id, queue.StatusDeadLetter)
	require.NotNil(t, info.ErrorMessage)
	assert.Contains(t, *info.ErrorMessage, "timed out")
}

func TestWorkerUnregisteredTaskType(t *testing.T) {
	t.Parallel()

	svc, worker := newWorkerHarness(t)
	require.NoError(t, worker.RegisterProcessor("known", &stubProcessor{}))

	startWorker(t, worker)

	id, err := svc.Enqueue(context.Background(), "unknown", nil, queue.WithMaxRetries(0))
	require.NoError(t, err)

	info := waitForStatus(t, svc, id, queue.StatusDeadLetter)
	require.NotNil(t, info.ErrorMessage)
	assert.Contains(t, *info.ErrorMessage, "no processor registered")
}

func TestWorkerValidationFailure(t *testing.T) {
	t.Parallel()

	svc, worker := newWorkerHarness(t)

	var processed atomic.Bool
	require.NoError(t, worker.RegisterProcessor("strict", &stubProcessor{
		validate: func(task *queue.Task) bool { return false },
		process: func(ctx context.Context, task *queue.Task) (map[string]any, error) {
			processed.Store(true)
			return nil, nil
		},
	}))

	startWorker(t, worker)

	id, err := svc.Enqueue(context.Background(), "strict", nil, queue.WithMaxRetries(0))
	require.NoError(t, err)

	info := waitForStatus(t, svc, id, queue.StatusDeadLetter)
	require.NotNil(t, info.ErrorMessage)
	assert.Contains(t, *info.ErrorMessage, "validation failed")
	assert.False(t, processed.Load(), "rejected task must not reach Process")
}

func TestWorkerProcessorPanic(t *testing.T) {
	t.Parallel()

	svc, worker := newWorkerHarness(t)
	require.NoError(t, worker.RegisterProcessor("explosive", &stubProcessor{
		process: func(ctx context.Context, task *queue.Task) (map[string]any, error) {
			panic("boom")
		},
	}))

	startWorker(t, worker)

	id, err := svc.Enqueue(context.Background(), "explosive", nil, queue.WithMaxRetries(0))
	require.NoError(t, err)

	// Panic is contained and treated as a normal failure.
	info := waitForStatus(t, svc, id, queue.StatusDeadLetter)
	require.NotNil(t, info.ErrorMessage)
	assert.True(t, strings.Contains(*info.ErrorMessage, "panic"))
}

func TestWorkerHookPanicSwallowed(t *testing.T) {
	t.Parallel()

	svc, worker := newWorkerHarness(t)
	require.NoError(t, worker.RegisterProcessor("celebrate", &stubProcessor{
		process: func(ctx context.Context, task *queue.Task) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
		onSuccess: func(ctx context.Context, task *queue.Task, result map[string]any) {
			panic("hook gone wrong")
		},
	}))

	startWorker(t, worker)

	id, err := svc.Enqueue(context.Background(), "celebrate", nil)
	require.NoError(t, err)

	info := waitForStatus(t, svc, id, queue.StatusCompleted)
	assert.Equal(t, map[string]any{"ok": true}, info.Result)
}

func TestWorkerFailureHookObservesError(t *testing.T) {
	t.Parallel()

	svc, worker := newWorkerHarness(t)

	var hookErr atomic.Value
	require.NoError(t, worker.RegisterProcessor("flaky", &stubProcessor{
		process: func(ctx context.Context, task *queue.Task) (map[string]any, error) {
			return nil, errors.New("transient glitch")
		},
		onFailure: func(ctx context.Context, task *queue.Task, err error) {
			hookErr.Store(err.Error())
		},
	}))

	startWorker(t, worker)

	_, err := svc.Enqueue(context.Background(), "flaky", nil, queue.WithMaxRetries(0))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, ok := hookErr.Load().(string)
		return ok && strings.Contains(v, "transient glitch")
	}, 3*time.Second, 5*time.Millisecond)
}

func TestWorkerHealthcheck(t *testing.T) {
	t.Parallel()

	_, worker := newWorkerHarness(t)
	require.NoError(t, worker.RegisterProcessor("noop", &stubProcessor{}))

	err := worker.Healthcheck(context.Background())
	require.ErrorIs(t, err, queue.ErrHealthcheckFailed)
	require.ErrorIs(t, err, queue.ErrWorkerNotRunning)

	startWorker(t, worker)

	require.Eventually(t, func() bool {
		return worker.Healthcheck(context.Background()) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerRunWithErrgroup(t *testing.T) {
	t.Parallel()

	svc, worker := newWorkerHarness(t)
	require.NoError(t, worker.RegisterProcessor("grade_submission", &stubProcessor{
		process: func(ctx context.Context, task *queue.Task) (map[string]any, error) {
			return map[string]any{"score": 1.0}, nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(worker.Run(gctx))

	id, err := svc.Enqueue(ctx, "grade_submission", nil)
	require.NoError(t, err)
	waitForStatus(t, svc, id, queue.StatusCompleted)

	cancel()
	require.NoError(t, g.Wait())
}

func TestWorkerStopDrainsInFlight(t *testing.T) {
	t.Parallel()

	svc := func() *queue.Service {
		store := queue.NewMemoryStore()
		s, err := queue.NewService(store)
		require.NoError(t, err)
		return s
	}()

	release := make(chan struct{})
	started := make(chan struct{}, 1)

	worker, err := queue.NewWorker(svc,
		queue.WithPollInterval(5*time.Millisecond),
		queue.WithShutdownTimeout(2*time.Second),
	)
	require.NoError(t, err)
	require.NoError(t, worker.RegisterProcessor("blocker", &stubProcessor{
		process: func(ctx context.Context, task *queue.Task) (map[string]any, error) {
			started <- struct{}{}
			<-release
			return nil, nil
		},
	}))

	ctx := context.Background()
	go func() { _ = worker.Start(ctx) }()

	id, err := svc.Enqueue(ctx, "blocker", nil)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("task never started")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- worker.Stop() }()

	// Stop waits for the in-flight task instead of abandoning it.
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop never returned")
	}

	info, err := svc.GetTaskStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, info.Status)
}
