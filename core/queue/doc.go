// Package queue provides a durable, multi-queue task system with priority
// routing, delayed scheduling, retry with backoff, and dead-letter
// escalation. It backs the platform's background jobs: AI grading calls,
// content generation, and notifications.
//
// # Architecture
//
// Producers enqueue through the Service, which routes tasks into
// priority-named durable queues held by a Store. Workers pull from the
// Service, execute tasks through registered Processors, and report status
// transitions back. Failed tasks are retried with a linearly growing backoff
// until their retry budget is spent, then escalated to the dead-letter queue
// for manual replay.
//
//	producer → Service.Enqueue → store → Worker → Processor.Process
//	                                        └→ Completed | retried | dead-lettered
//
// # Durable layout
//
// Each queue type owns a FIFO list of task IDs (high-priority tasks are
// pushed to the head), a delayed sorted set scored by epoch seconds, and a
// statistics hash. Task state lives in per-task snapshots with a 24h TTL:
// a status window, not a long-term audit store.
//
// # Basic usage
//
//	store := queue.NewMemoryStore() // use NewRedisStore in production
//
//	service, err := queue.NewService(store)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	worker, err := queue.NewWorker(service,
//		queue.WithMaxConcurrentTasks(5),
//		queue.WithPollInterval(time.Second),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	err = worker.RegisterProcessor("grade_submission", queue.ProcessorFunc(
//		func(ctx context.Context, task *queue.Task) (map[string]any, error) {
//			// call the grading model
//			return map[string]any{"score": 0.92}, nil
//		},
//	))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	go worker.Start(ctx)
//
//	taskID, err := service.Enqueue(ctx, "grade_submission",
//		map[string]any{"submission_id": "42"},
//		queue.WithPriority(queue.PriorityHigh),
//	)
//
//	info, err := service.GetTaskStatus(ctx, taskID)
//
// # Concurrency
//
// A task ID popped from a queue is owned by exactly one worker until it is
// completed, requeued, or dead-lettered; the store's atomic pop is the only
// mutual exclusion the system needs. The worker's concurrency cap is
// advisory: it gates pulling new work, it never aborts running tasks.
// Stop() lets in-flight tasks finish; the only guarantee is that no new
// task starts after the call.
//
// # Error handling
//
// Submit-time errors (invalid priority, empty task type, store unreachable)
// surface synchronously to the Enqueue caller. Runtime errors (processor
// failures, timeouts, validation rejections, missing processors, panics)
// are caught at the worker boundary and converted into status transitions;
// producers observe them only through GetTaskStatus.
package queue
