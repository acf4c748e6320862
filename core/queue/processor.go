package queue

import "context"

// Processor is the collaborator contract for task execution. The worker
// resolves a processor by task type, validates the task, executes it under
// the task's deadline, and invokes the outcome hooks.
//
// Process returns a result map that is merged into the task's metadata on
// success. Hooks must not be relied on for correctness: a panicking hook is
// logged and swallowed, never crashing the worker loop.
type Processor interface {
	// Process executes the task and returns its result.
	Process(ctx context.Context, task *Task) (map[string]any, error)

	// Validate rejects tasks that should not be executed. A false return
	// routes the task through the standard failure path.
	Validate(task *Task) bool

	// OnSuccess is invoked after a successful execution, before the status
	// transition is persisted.
	OnSuccess(ctx context.Context, task *Task, result map[string]any)

	// OnFailure is invoked after a failed execution, before the
	// retry/dead-letter decision.
	OnFailure(ctx context.Context, task *Task, err error)
}

// ProcessorFunc adapts a plain function into a Processor with a permissive
// Validate and no-op hooks. Convenient for simple task bodies and tests.
type ProcessorFunc func(ctx context.Context, task *Task) (map[string]any, error)

func (f ProcessorFunc) Process(ctx context.Context, task *Task) (map[string]any, error) {
	return f(ctx, task)
}

func (f ProcessorFunc) Validate(*Task) bool { return true }

func (f ProcessorFunc) OnSuccess(context.Context, *Task, map[string]any) {}

func (f ProcessorFunc) OnFailure(context.Context, *Task, error) {}
