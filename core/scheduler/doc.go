// Package scheduler provides an in-process priority scheduler deciding which
// already-claimed task runs next.
//
// The scheduler is the short-horizon companion to the durable queue in
// core/queue: the queue survives restarts and handles retries, while the
// scheduler holds a small in-memory working set and orders dispatch within
// an advisory concurrency cap. Nothing here is persisted; on restart the
// working set is rebuilt from the durable queue.
//
// # Architecture
//
// Tasks live in three min-heaps, one per priority level, ordered by creation
// time. Five interchangeable algorithms pick the next task:
//
//   - priority: strict HIGH → NORMAL → LOW
//   - round_robin: cycle non-empty levels
//   - weighted_fair: serve the most underserved category, scored by
//     category weight × (1 − completion rate)
//   - adaptive: priority under load, weighted-fair when idle, alternating
//     in between (the default)
//   - fifo: globally oldest task wins, priorities ignored
//
// A periodic aging pass promotes any task waiting longer than the
// starvation threshold one priority level, bounding worst-case wait. HIGH
// is the ceiling; promotion never demotes and at most one level per pass.
//
// # Basic Usage
//
//	sched := scheduler.New(
//		scheduler.WithAlgorithm(scheduler.AlgorithmAdaptive),
//		scheduler.WithMaxConcurrentTasks(8),
//	)
//
//	go sched.Start(ctx) // aging loop
//
//	if err := sched.Submit(task); err != nil {
//		// errors.Is(err, scheduler.ErrDependencyUnmet) when a
//		// dependency has not completed yet
//	}
//
//	next, err := sched.NextTask()
//	switch {
//	case errors.Is(err, scheduler.ErrSchedulerSaturated):
//		// cap reached, try again after a completion
//	case errors.Is(err, scheduler.ErrNoTaskReady):
//		// all queues empty
//	}
//
//	// after execution:
//	sched.Complete(next.ID) // or sched.Fail(next.ID)
//
// Dependencies are validated synchronously at Submit against the set of
// tasks this scheduler has completed. Completing a task unblocks its
// dependents; failing it does not.
//
// # Metrics
//
// Stats returns online averages for wait and execution time, throughput,
// the starvation promotion count, and Jain's fairness index over
// per-category completion rates. Failures count toward a category's
// completion rate so retry storms cannot skew fairness.
//
// All methods are safe for concurrent use.
package scheduler
