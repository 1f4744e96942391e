// Package queue provides the durable offline operation queue.
//
// Every push that fails with a transport error (the remote hub was
// unreachable, not a conflict) is appended here and replayed in original
// order on the next successful connectivity. Each entry carries a stable
// change id; replay reclassifies against fresh local and remote state,
// so an operation whose context has moved on is routed through the
// normal resolver path rather than blindly applied.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Op is one queued operation, owned by the queue until replayed.
type Op struct {
	Seq        int64
	ChangeID   string
	ArtifactID string

	// Kind is the queued operation, "push" or "pull".
	Kind string

	QueuedAt time.Time
}

// Queue is a durable ordered log of pending operations, persisted in the
// same SQLite database as the local store.
type Queue struct {
	conn *sql.DB
}

// New wraps an open database connection. Call InitSchema before use.
func New(conn *sql.DB) *Queue {
	return &Queue{conn: conn}
}

// InitSchema creates the pending operations table. Idempotent.
func (q *Queue) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_ops (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		change_id TEXT NOT NULL UNIQUE,
		artifact_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		queued_at TEXT NOT NULL
	);
	`
	if _, err := q.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return nil
}

// Enqueue appends an operation. Enqueueing the same change id twice is a
// no-op, preserving the original queue position.
func (q *Queue) Enqueue(ctx context.Context, op Op) error {
	if op.ChangeID == "" {
		return fmt.Errorf("change id is required")
	}
	if op.Kind == "" {
		op.Kind = "push"
	}
	if op.QueuedAt.IsZero() {
		op.QueuedAt = time.Now()
	}
	_, err := q.conn.ExecContext(ctx, `
	INSERT OR IGNORE INTO pending_ops (change_id, artifact_id, kind, queued_at)
	VALUES (?, ?, ?, ?)
	`, op.ChangeID, op.ArtifactID, op.Kind,
		op.QueuedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to enqueue operation for %s: %w", op.ArtifactID, err)
	}
	return nil
}

// Pending returns all queued operations in original order.
func (q *Queue) Pending(ctx context.Context) ([]Op, error) {
	rows, err := q.conn.QueryContext(ctx, `
	SELECT seq, change_id, artifact_id, kind, queued_at
	FROM pending_ops
	ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()

	var ops []Op
	for rows.Next() {
		var op Op
		var queuedAt string
		if err := rows.Scan(&op.Seq, &op.ChangeID, &op.ArtifactID, &op.Kind,
			&queuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending operation: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, queuedAt); err == nil {
			op.QueuedAt = t
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending operations: %w", err)
	}
	return ops, nil
}

// Remove deletes a replayed operation, transferring ownership of the
// change back to the local store and remote hub.
func (q *Queue) Remove(ctx context.Context, changeID string) error {
	_, err := q.conn.ExecContext(ctx,
		`DELETE FROM pending_ops WHERE change_id = ?`, changeID)
	if err != nil {
		return fmt.Errorf("failed to remove queued operation %s: %w", changeID, err)
	}
	return nil
}

// Len returns the number of queued operations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_ops`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return n, nil
}
