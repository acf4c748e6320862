package scheduler

import (
	"github.com/dmitrymomot/taskkit/core/queue"
)

// Algorithm names a task selection strategy.
type Algorithm string

const (
	// AlgorithmPriority always drains HIGH before NORMAL before LOW.
	AlgorithmPriority Algorithm = "priority"

	// AlgorithmRoundRobin cycles through non-empty priority levels.
	AlgorithmRoundRobin Algorithm = "round_robin"

	// AlgorithmWeightedFair picks the most underserved category by
	// weight × (1 − completion rate), then the best task within it.
	AlgorithmWeightedFair Algorithm = "weighted_fair"

	// AlgorithmAdaptive switches between priority and weighted-fair
	// selection based on current scheduler utilization.
	AlgorithmAdaptive Algorithm = "adaptive"

	// AlgorithmFIFO ignores priority entirely and dispatches the oldest
	// task by creation time.
	AlgorithmFIFO Algorithm = "fifo"
)

// Valid reports whether a is a recognized algorithm name.
func (a Algorithm) Valid() bool {
	switch a {
	case AlgorithmPriority, AlgorithmRoundRobin, AlgorithmWeightedFair,
		AlgorithmAdaptive, AlgorithmFIFO:
		return true
	}
	return false
}

// selectNext picks the next queued task per the configured algorithm and
// removes it from its heap. Returns nil when every queue is empty.
// Caller must hold s.mu.
func (s *Scheduler) selectNext() *queuedTask {
	switch s.algorithm {
	case AlgorithmPriority:
		return s.selectPriority()
	case AlgorithmRoundRobin:
		return s.selectRoundRobin()
	case AlgorithmWeightedFair:
		return s.selectWeightedFair()
	case AlgorithmFIFO:
		return s.selectFIFO()
	default:
		return s.selectAdaptive()
	}
}

// selectPriority drains levels strictly top-down; within a level the oldest
// task wins.
func (s *Scheduler) selectPriority() *queuedTask {
	for _, p := range priorityScanOrder {
		if item := popMin(s.heaps[p]); item != nil {
			return item
		}
	}
	return nil
}

// selectRoundRobin cycles the priority levels, skipping empty ones, so a
// steady HIGH inflow cannot fully shut out LOW.
func (s *Scheduler) selectRoundRobin() *queuedTask {
	for i := range priorityScanOrder {
		idx := (s.rrIndex + i) % len(priorityScanOrder)
		if item := popMin(s.heaps[priorityScanOrder[idx]]); item != nil {
			s.rrIndex = idx + 1
			return item
		}
	}
	return nil
}

// selectWeightedFair scores every category with queued work by
// weight × (1 − completion rate) and serves the highest scorer. Within the
// chosen category, higher priority wins, then earlier creation time.
func (s *Scheduler) selectWeightedFair() *queuedTask {
	present := make(map[queue.Category]bool)
	for _, p := range priorityScanOrder {
		for _, item := range *s.heaps[p] {
			cat := item.task.Category
			if cat == "" {
				cat = queue.CategoryDefault
			}
			present[cat] = true
		}
	}
	if len(present) == 0 {
		return nil
	}

	var best queue.Category
	bestScore := -1.0
	for cat := range present {
		var rate float64
		if cs := s.catStats[cat]; cs != nil {
			rate = cs.completionRate()
		}
		score := cat.Weight() * (1 - rate)
		if score > bestScore || (score == bestScore && cat.Weight() > best.Weight()) {
			best = cat
			bestScore = score
		}
	}

	for _, p := range priorityScanOrder {
		h := s.heaps[p]
		chosen := -1
		for i, item := range *h {
			cat := item.task.Category
			if cat == "" {
				cat = queue.CategoryDefault
			}
			if cat != best {
				continue
			}
			if chosen == -1 || item.task.CreatedAt.Before((*h)[chosen].task.CreatedAt) {
				chosen = i
			}
		}
		if chosen >= 0 {
			return removeAt(h, chosen)
		}
	}
	return nil
}

// selectAdaptive follows strict priority under load (>80% utilization, when
// urgency matters most), weighted fairness when mostly idle (<30%, when
// there is slack to spend on balance), and alternates between the two
// second by second in between.
func (s *Scheduler) selectAdaptive() *queuedTask {
	utilization := float64(len(s.running)) / float64(s.maxConcurrent)

	switch {
	case utilization > 0.8:
		return s.selectPriority()
	case utilization < 0.3:
		return s.selectWeightedFair()
	case s.now().Unix()%2 == 0:
		return s.selectPriority()
	default:
		return s.selectWeightedFair()
	}
}

// selectFIFO dispatches the globally oldest task by creation time. Each
// heap minimum is its level's oldest task, so comparing the three minima
// finds the global minimum.
func (s *Scheduler) selectFIFO() *queuedTask {
	var bestHeap *taskHeap
	for _, p := range priorityScanOrder {
		h := s.heaps[p]
		min := h.peek()
		if min == nil {
			continue
		}
		if bestHeap == nil || min.task.CreatedAt.Before(bestHeap.peek().task.CreatedAt) {
			bestHeap = h
		}
	}
	if bestHeap == nil {
		return nil
	}
	return popMin(bestHeap)
}
