package scheduler

import (
	"time"

	"github.com/dmitrymomot/taskkit/core/queue"
)

// Metrics is a snapshot of the scheduler's running counters and derived
// indicators. Averages are maintained online; throughput is completed tasks
// per second since the scheduler was created.
type Metrics struct {
	TasksCompleted       int64         `json:"tasks_completed"`
	TasksFailed          int64         `json:"tasks_failed"`
	TasksTotal           int64         `json:"tasks_total"`
	AverageWaitTime      time.Duration `json:"average_wait_time"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	Throughput           float64       `json:"throughput"`
	FairnessIndex        float64       `json:"fairness_index"`
	StarvationCount      int64         `json:"starvation_count"`
}

// ResourcePool tracks advisory capacity for a named resource. Load is
// accounted but not enforced as hard admission control; it is an extension
// point for future admission policies.
type ResourcePool struct {
	ID          string `json:"id"`
	Capacity    int    `json:"capacity"`
	CurrentLoad int    `json:"current_load"`
}

// categoryStats accumulates per-category submission and completion counts
// for the fairness index. Failures count as completions here: a category
// cannot monopolize scheduler attention through endless retries.
type categoryStats struct {
	submitted int64
	completed int64
}

func (cs categoryStats) completionRate() float64 {
	if cs.submitted == 0 {
		return 0
	}
	return float64(cs.completed) / float64(cs.submitted)
}

// fairnessIndex computes Jain's Fairness Index over the per-category
// completion rates: (Σx)² / (n·Σx²). The result is bounded to (0, 1],
// with 1.0 meaning perfectly even completion across categories. With no
// measurable allocation yet the index is 1.0 by convention.
func fairnessIndex(stats map[queue.Category]*categoryStats) float64 {
	var sum, sumSquares float64
	n := 0
	for _, cs := range stats {
		if cs.submitted == 0 {
			continue
		}
		x := cs.completionRate()
		sum += x
		sumSquares += x * x
		n++
	}

	if n == 0 || sumSquares == 0 {
		return 1.0
	}
	return (sum * sum) / (float64(n) * sumSquares)
}

// onlineAverage advances a running average with one more sample:
// avg' = (avg·(n−1) + sample) / n.
func onlineAverage(avg time.Duration, sample time.Duration, n int64) time.Duration {
	if n <= 0 {
		return avg
	}
	return time.Duration((int64(avg)*(n-1) + int64(sample)) / n)
}
