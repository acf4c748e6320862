package queue

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrations holds the embedded schema migrations for PostgresStore.
// Apply them with integration/database/pg.Migrate before first use.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// PostgresStore implements Store on PostgreSQL. Queue order lives in a
// position sequence per direction: tail pushes take ascending positions,
// head pushes take descending negative positions, so a plain ORDER BY pos
// yields the same head/tail semantics as a Redis list. Pop uses
// FOR UPDATE SKIP LOCKED so concurrent workers never claim the same task.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Store backed by the given connection pool.
// Use integration/database/pg.Connect to build a verified pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, ErrStoreNil
	}
	return &PostgresStore{pool: pool}, nil
}

// Push appends a task ID to a live queue.
func (ps *PostgresStore) Push(ctx context.Context, qt QueueType, taskID uuid.UUID, front bool) error {
	query := `INSERT INTO queue_items (queue, task_id) VALUES ($1, $2)`
	if front {
		query = `INSERT INTO queue_items (queue, task_id, pos)
			VALUES ($1, $2, nextval('queue_items_front_seq'))`
	}

	if _, err := ps.pool.Exec(ctx, query, string(qt), taskID); err != nil {
		return fmt.Errorf("failed to push task %s to queue %s: %w", taskID, qt, err)
	}
	return nil
}

// Pop atomically claims and removes the head of a live queue.
func (ps *PostgresStore) Pop(ctx context.Context, qt QueueType) (uuid.UUID, error) {
	query := `
		DELETE FROM queue_items
		WHERE pos = (
			SELECT pos FROM queue_items
			WHERE queue = $1
			ORDER BY pos
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING task_id`

	var taskID uuid.UUID
	if err := ps.pool.QueryRow(ctx, query, string(qt)).Scan(&taskID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrQueueEmpty
		}
		return uuid.Nil, fmt.Errorf("failed to pop from queue %s: %w", qt, err)
	}
	return taskID, nil
}

// Remove deletes a single occurrence of a task ID from a live queue.
func (ps *PostgresStore) Remove(ctx context.Context, qt QueueType, taskID uuid.UUID) error {
	query := `
		DELETE FROM queue_items
		WHERE pos = (
			SELECT pos FROM queue_items
			WHERE queue = $1 AND task_id = $2
			ORDER BY pos
			LIMIT 1
		)`

	if _, err := ps.pool.Exec(ctx, query, string(qt), taskID); err != nil {
		return fmt.Errorf("failed to remove task %s from queue %s: %w", taskID, qt, err)
	}
	return nil
}

// PushDelayed schedules a task ID to become visible at the given time.
func (ps *PostgresStore) PushDelayed(ctx context.Context, qt QueueType, taskID uuid.UUID, at time.Time) error {
	query := `
		INSERT INTO queue_delayed_items (queue, task_id, due_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (queue, task_id) DO UPDATE SET due_at = EXCLUDED.due_at`

	if _, err := ps.pool.Exec(ctx, query, string(qt), taskID, at); err != nil {
		return fmt.Errorf("failed to delay task %s on queue %s: %w", taskID, qt, err)
	}
	return nil
}

// PromoteDue atomically moves all due delayed entries into the live queue.
func (ps *PostgresStore) PromoteDue(ctx context.Context, qt QueueType, now time.Time) (int, error) {
	query := `
		WITH due AS (
			DELETE FROM queue_delayed_items
			WHERE queue = $1 AND due_at <= $2
			RETURNING task_id, due_at
		)
		INSERT INTO queue_items (queue, task_id)
		SELECT $1, task_id FROM due ORDER BY due_at`

	tag, err := ps.pool.Exec(ctx, query, string(qt), now)
	if err != nil {
		return 0, fmt.Errorf("failed to promote delayed tasks on queue %s: %w", qt, err)
	}
	return int(tag.RowsAffected()), nil
}

// Len returns the live queue length.
func (ps *PostgresStore) Len(ctx context.Context, qt QueueType) (int64, error) {
	var n int64
	err := ps.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE queue = $1`, string(qt)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to read length of queue %s: %w", qt, err)
	}
	return n, nil
}

// DelayedLen returns the number of task IDs awaiting promotion.
func (ps *PostgresStore) DelayedLen(ctx context.Context, qt QueueType) (int64, error) {
	var n int64
	err := ps.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_delayed_items WHERE queue = $1`, string(qt)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed length of queue %s: %w", qt, err)
	}
	return n, nil
}

// SaveTask upserts a serialized task snapshot with a TTL.
func (ps *PostgresStore) SaveTask(ctx context.Context, taskID uuid.UUID, data []byte, ttl time.Duration) error {
	query := `
		INSERT INTO task_snapshots (task_id, data, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (task_id) DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at`

	if _, err := ps.pool.Exec(ctx, query, taskID, data, ttl.Seconds()); err != nil {
		return fmt.Errorf("failed to save snapshot for task %s: %w", taskID, err)
	}
	return nil
}

// GetTask returns an unexpired serialized task snapshot.
func (ps *PostgresStore) GetTask(ctx context.Context, taskID uuid.UUID) ([]byte, error) {
	var data []byte
	err := ps.pool.QueryRow(ctx,
		`SELECT data FROM task_snapshots WHERE task_id = $1 AND expires_at > now()`, taskID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot for task %s: %w", taskID, err)
	}
	return data, nil
}

// IncrStat atomically adjusts an integer statistics counter.
func (ps *PostgresStore) IncrStat(ctx context.Context, qt QueueType, field string, delta int64) error {
	return ps.IncrStatFloat(ctx, qt, field, float64(delta))
}

// IncrStatFloat atomically adjusts a float statistics counter.
func (ps *PostgresStore) IncrStatFloat(ctx context.Context, qt QueueType, field string, delta float64) error {
	query := `
		INSERT INTO queue_stats (queue, field, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (queue, field) DO UPDATE SET value = queue_stats.value + EXCLUDED.value`

	if _, err := ps.pool.Exec(ctx, query, string(qt), field, delta); err != nil {
		return fmt.Errorf("failed to update stat %s for queue %s: %w", field, qt, err)
	}
	return nil
}

// GetStats returns all statistics counters recorded for a queue.
func (ps *PostgresStore) GetStats(ctx context.Context, qt QueueType) (map[string]float64, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT field, value FROM queue_stats WHERE queue = $1`, string(qt))
	if err != nil {
		return nil, fmt.Errorf("failed to read stats for queue %s: %w", qt, err)
	}
	defer rows.Close()

	stats := make(map[string]float64)
	for rows.Next() {
		var field string
		var value float64
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("failed to scan stats for queue %s: %w", qt, err)
		}
		stats[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stats for queue %s: %w", qt, err)
	}
	return stats, nil
}
