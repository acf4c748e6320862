package scheduler

import (
	"container/heap"
	"time"

	"github.com/dmitrymomot/taskkit/core/queue"
)

// queuedTask wraps a task waiting for admission, tracking when it entered
// the scheduler so aging and wait-time accounting work independently of the
// task's original creation time.
type queuedTask struct {
	task       *queue.Task
	enqueuedAt time.Time
	index      int
}

// taskHeap is a min-heap ordered by task creation time. Each heap holds one
// priority level, so ordering across levels comes from scan order and
// within a level the oldest task wins.
type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].task.CreatedAt.Before(h[j].task.CreatedAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*queuedTask)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// peek returns the heap minimum without removing it.
func (h taskHeap) peek() *queuedTask {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// popMin removes and returns the heap minimum.
func popMin(h *taskHeap) *queuedTask {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*queuedTask)
}

// pushTask inserts a queued task.
func pushTask(h *taskHeap, item *queuedTask) {
	heap.Push(h, item)
}

// removeAt removes the item at the given heap index.
func removeAt(h *taskHeap, i int) *queuedTask {
	return heap.Remove(h, i).(*queuedTask)
}
