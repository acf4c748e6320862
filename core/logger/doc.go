// Package logger provides structured logging utilities built on Go's standard slog package.
// It offers context-aware attribute extraction, environment-specific configuration,
// and a set of pre-built attributes for task processing workloads.
//
// # Basic Usage
//
// Create loggers using the factory function with various configuration options:
//
//	import "github.com/dmitrymomot/taskkit/core/logger"
//
//	// Create a development logger
//	log := logger.New(
//		logger.WithDevelopment("worker"),
//		logger.WithLevel(slog.LevelDebug),
//	)
//
//	// Create a production logger
//	log := logger.New(
//		logger.WithProduction("worker"),
//	)
//
//	// Use the logger
//	log.Info("task completed",
//		logger.TaskID(task.ID.String()),
//		logger.TaskType(task.Type),
//		logger.Duration(elapsed),
//	)
//
// # Attribute Helpers
//
// Attribute constructors return an empty slog.Attr for nil or empty input, so
// they can be used inline without guarding:
//
//	log.Error("claim failed",
//		logger.Error(err),          // safe when err is nil
//		logger.Queue("high_priority"),
//		logger.RetryCount(task.RetryCount),
//	)
//
// # Context Attributes
//
// Request- or task-scoped values stored in context can be injected into every
// record automatically:
//
//	log := logger.New(
//		logger.WithProduction("worker"),
//		logger.WithContextValue("correlation_id", correlationKey),
//	)
//
//	log.InfoContext(ctx, "task enqueued") // record carries correlation_id
//
// The extraction happens per log call inside a handler decorator, so scoped
// values are always current.
//
// # Output Formats
//
// JSON is the default and the right choice for aggregation systems; text is
// available for local debugging via WithTextFormatter or WithDevelopment.
package logger
