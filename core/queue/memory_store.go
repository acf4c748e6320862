package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store with mutex-guarded in-process state.
// Intended for testing and local development; it mirrors the semantics of
// the durable backends, including snapshot TTLs and delayed promotion.
type MemoryStore struct {
	mu      sync.Mutex
	queues  map[QueueType][]uuid.UUID
	delayed map[QueueType][]delayedEntry
	tasks   map[uuid.UUID]snapshotEntry
	stats   map[QueueType]map[string]float64
	now     func() time.Time
}

type delayedEntry struct {
	taskID uuid.UUID
	dueAt  time.Time
}

type snapshotEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock overrides the store's time source. Tests use this to make
// delayed tasks and snapshot expiry deterministic.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if now != nil {
			ms.now = now
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		queues:  make(map[QueueType][]uuid.UUID),
		delayed: make(map[QueueType][]delayedEntry),
		tasks:   make(map[uuid.UUID]snapshotEntry),
		stats:   make(map[QueueType]map[string]float64),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(ms)
	}

	return ms
}

// Push appends a task ID to a live queue, or prepends it when front is true.
func (ms *MemoryStore) Push(ctx context.Context, qt QueueType, taskID uuid.UUID, front bool) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if front {
		ms.queues[qt] = append([]uuid.UUID{taskID}, ms.queues[qt]...)
	} else {
		ms.queues[qt] = append(ms.queues[qt], taskID)
	}
	return nil
}

// Pop removes and returns the head of a live queue.
func (ms *MemoryStore) Pop(ctx context.Context, qt QueueType) (uuid.UUID, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	q := ms.queues[qt]
	if len(q) == 0 {
		return uuid.Nil, ErrQueueEmpty
	}

	taskID := q[0]
	ms.queues[qt] = q[1:]
	return taskID, nil
}

// Remove deletes the first occurrence of a task ID from a live queue.
func (ms *MemoryStore) Remove(ctx context.Context, qt QueueType, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	q := ms.queues[qt]
	idx := slices.Index(q, taskID)
	if idx >= 0 {
		ms.queues[qt] = slices.Delete(q, idx, idx+1)
	}
	return nil
}

// PushDelayed schedules a task ID to become visible at the given time.
func (ms *MemoryStore) PushDelayed(ctx context.Context, qt QueueType, taskID uuid.UUID, at time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entries := append(ms.delayed[qt], delayedEntry{taskID: taskID, dueAt: at})
	slices.SortStableFunc(entries, func(a, b delayedEntry) int {
		return a.dueAt.Compare(b.dueAt)
	})
	ms.delayed[qt] = entries
	return nil
}

// PromoteDue moves all due delayed entries into the live queue in score order.
func (ms *MemoryStore) PromoteDue(ctx context.Context, qt QueueType, now time.Time) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entries := ms.delayed[qt]
	moved := 0
	for _, e := range entries {
		if e.dueAt.After(now) {
			break
		}
		ms.queues[qt] = append(ms.queues[qt], e.taskID)
		moved++
	}

	if moved > 0 {
		ms.delayed[qt] = entries[moved:]
	}
	return moved, nil
}

// Len returns the number of task IDs in the live queue.
func (ms *MemoryStore) Len(ctx context.Context, qt QueueType) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return int64(len(ms.queues[qt])), nil
}

// DelayedLen returns the number of task IDs awaiting promotion.
func (ms *MemoryStore) DelayedLen(ctx context.Context, qt QueueType) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return int64(len(ms.delayed[qt])), nil
}

// SaveTask stores a serialized task snapshot with a TTL.
func (ms *MemoryStore) SaveTask(ctx context.Context, taskID uuid.UUID, data []byte, ttl time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	snapshot := make([]byte, len(data))
	copy(snapshot, data)

	ms.tasks[taskID] = snapshotEntry{
		data:      snapshot,
		expiresAt: ms.now().Add(ttl),
	}
	return nil
}

// GetTask returns a serialized task snapshot if present and unexpired.
func (ms *MemoryStore) GetTask(ctx context.Context, taskID uuid.UUID) ([]byte, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, ok := ms.tasks[taskID]
	if !ok || entry.expiresAt.Before(ms.now()) {
		delete(ms.tasks, taskID)
		return nil, ErrTaskNotFound
	}

	data := make([]byte, len(entry.data))
	copy(data, entry.data)
	return data, nil
}

// IncrStat adjusts an integer statistics counter.
func (ms *MemoryStore) IncrStat(ctx context.Context, qt QueueType, field string, delta int64) error {
	return ms.IncrStatFloat(ctx, qt, field, float64(delta))
}

// IncrStatFloat adjusts a float statistics counter.
func (ms *MemoryStore) IncrStatFloat(ctx context.Context, qt QueueType, field string, delta float64) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.stats[qt] == nil {
		ms.stats[qt] = make(map[string]float64)
	}
	ms.stats[qt][field] += delta
	return nil
}

// GetStats returns a copy of all statistics counters for a queue.
func (ms *MemoryStore) GetStats(ctx context.Context, qt QueueType) (map[string]float64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := make(map[string]float64, len(ms.stats[qt]))
	for k, v := range ms.stats[qt] {
		out[k] = v
	}
	return out, nil
}
