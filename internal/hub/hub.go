// Package hub implements the shared synchronization hub.
//
// The hub holds one record per artifact id and enforces conditional
// writes server-side: a put succeeds only when the caller's expected
// version equals the stored version. The check is independent of client
// behavior, so the protocol stays safe even against a client that omits
// its own version check.
package hub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/stagecraft/drift/internal/artifact"
)

// ErrNotFound is returned when a record id is unknown to the hub.
var ErrNotFound = errors.New("record not found")

// Store is the hub's record table, backed by embedded SQLite.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates the hub database at path. The caller MUST call Close.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create hub directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hub database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping hub database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	return &Store{conn: conn, path: path}, nil
}

// Close closes the hub database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// InitSchema creates the record tables for one logical table name.
// Tables are namespaced so one hub can serve several teams. Idempotent.
func (s *Store) InitSchema(ctx context.Context, table string) error {
	if err := validTable(table); err != nil {
		return err
	}
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]q (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		state TEXT NOT NULL,
		version INTEGER NOT NULL,
		last_modified TEXT NOT NULL,
		author TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL
	);

	-- Applied change ids, for idempotent replay of client retries.
	CREATE TABLE IF NOT EXISTS %[2]q (
		change_id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS %[3]q ON %[1]q(seq);
	`, table, table+"_changes", "idx_"+table+"_seq")

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize hub schema for %s: %w", table, err)
	}
	return nil
}

// Get returns the hub's record for an artifact id.
func (s *Store) Get(ctx context.Context, table, id string) (*artifact.Artifact, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}
	row := s.conn.QueryRowContext(ctx, fmt.Sprintf(`
	SELECT id, type, content, state, version, last_modified, author, deleted
	FROM %q WHERE id = ?
	`, table), id)

	a, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return a, nil
}

// Put performs the conditional write.
//
// When the stored version differs from expected, Put returns the current
// record with ok=false: the caller maps that to the wire-level conflict
// outcome. A change id the hub has already applied short-circuits to the
// recorded version, so client retries never double-apply.
func (s *Store) Put(ctx context.Context, table, id string, expected int64, rec *artifact.Artifact, changeID string) (version int64, current *artifact.Artifact, ok bool, err error) {
	if err := validTable(table); err != nil {
		return 0, nil, false, err
	}
	if changeID == "" {
		return 0, nil, false, fmt.Errorf("change id is required")
	}
	if err := rec.Validate(); err != nil {
		return 0, nil, false, fmt.Errorf("malformed record: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prior int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT version FROM %q WHERE change_id = ?`, table+"_changes"), changeID).Scan(&prior)
	if err == nil {
		return prior, nil, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, nil, false, fmt.Errorf("failed to check change id: %w", err)
	}

	var cur int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT version FROM %q WHERE id = ?`, table), id).Scan(&cur)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, nil, false, fmt.Errorf("failed to read current version: %w", err)
	}

	if cur != expected {
		crow := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, type, content, state, version, last_modified, author, deleted
		FROM %q WHERE id = ?
		`, table), id)
		a, err := scanRecord(crow)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, nil, false, fmt.Errorf("failed to read conflicting record: %w", err)
		}
		return 0, a, false, nil
	}

	if rec.Version <= cur {
		return 0, nil, false, fmt.Errorf("record version %d must exceed current version %d", rec.Version, cur)
	}

	var seq int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM %q`, table)).Scan(&seq)
	if err != nil {
		return 0, nil, false, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
	INSERT INTO %q (id, type, content, state, version, last_modified, author, deleted, seq)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		content = excluded.content,
		state = excluded.state,
		version = excluded.version,
		last_modified = excluded.last_modified,
		author = excluded.author,
		deleted = excluded.deleted,
		seq = excluded.seq
	`, table),
		id, string(rec.Type), rec.Content, string(rec.State), rec.Version,
		rec.LastModified.UTC().Format(time.RFC3339Nano), rec.Author,
		boolToInt(rec.Deleted), seq,
	)
	if err != nil {
		return 0, nil, false, fmt.Errorf("failed to upsert record %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %q (change_id, record_id, version) VALUES (?, ?, ?)`,
		table+"_changes"), changeID, id, rec.Version)
	if err != nil {
		return 0, nil, false, fmt.Errorf("failed to record change id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, false, fmt.Errorf("failed to commit put: %w", err)
	}
	return rec.Version, nil, true, nil
}

// ListSince returns records changed after the checkpoint, oldest first,
// and the checkpoint to use for the next incremental pull.
//
// The returned checkpoint is the highest seq among the returned rows
// themselves, never a separate MAX(seq) read: a write committing between
// two queries could otherwise advance the checkpoint past a record this
// call never saw, and the next pull would skip it for good. When no rows
// match, the checkpoint stays where it was.
func (s *Store) ListSince(ctx context.Context, table string, checkpoint int64) ([]*artifact.Artifact, int64, error) {
	if err := validTable(table); err != nil {
		return nil, 0, err
	}
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(`
	SELECT id, type, content, state, version, last_modified, author, deleted, seq
	FROM %q WHERE seq > ? ORDER BY seq ASC
	`, table), checkpoint)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []*artifact.Artifact
	next := checkpoint
	for rows.Next() {
		var a artifact.Artifact
		var typ, state, lastModified string
		var deleted int
		var seq int64
		err := rows.Scan(&a.ID, &typ, &a.Content, &state, &a.Version,
			&lastModified, &a.Author, &deleted, &seq)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan record: %w", err)
		}
		a.Type = artifact.Type(typ)
		a.State = artifact.State(state)
		a.Deleted = deleted != 0
		if t, err := time.Parse(time.RFC3339Nano, lastModified); err == nil {
			a.LastModified = t
		}
		out = append(out, &a)
		if seq > next {
			next = seq
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating records: %w", err)
	}
	return out, next, nil
}

// validTable guards against table names that would break the quoted SQL.
func validTable(table string) error {
	if table == "" {
		return fmt.Errorf("table name is required")
	}
	for _, r := range table {
		if !(r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return fmt.Errorf("invalid table name %q", table)
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*artifact.Artifact, error) {
	var a artifact.Artifact
	var typ, state, lastModified string
	var deleted int

	err := row.Scan(&a.ID, &typ, &a.Content, &state, &a.Version,
		&lastModified, &a.Author, &deleted)
	if err != nil {
		return nil, err
	}
	a.Type = artifact.Type(typ)
	a.State = artifact.State(state)
	a.Deleted = deleted != 0
	if t, err := time.Parse(time.RFC3339Nano, lastModified); err == nil {
		a.LastModified = t
	}
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
