// Package store provides the embedded local datastore for drift artifacts.
//
// The store is a SQLite database (WAL mode, embedded driver) holding the
// artifact table and its append-only change history. It is the only
// resource mutated by more than one actor: several CLI invocations may run
// concurrently against the same database, so every write goes through an
// optimistic version check, with a process-level file lock around write
// transactions to avoid spurious conflicts between local writers.
//
// Put is atomic: the artifact row and its history entry are persisted in
// one transaction, or not at all. A crash mid-write can never leave an
// artifact at a version that has no corresponding history entry.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/stagecraft/drift/internal/artifact"
)

// ErrNotFound is returned when an artifact id has no row.
var ErrNotFound = errors.New("artifact not found")

// VersionConflictError reports a failed optimistic concurrency check:
// the caller's expected prior version no longer matches the stored one.
// Callers recover by re-reading the current version and retrying once.
type VersionConflictError struct {
	ID       string
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, found %d", e.ID, e.Expected, e.Actual)
}

// IsVersionConflict reports whether err is a local CAS failure.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc)
}

// Subscriber is notified with the artifact id after every successful Put.
// The sync orchestrator uses this hook to batch dirty artifacts.
type Subscriber func(id string)

// Store wraps the SQLite database holding artifacts and history.
type Store struct {
	conn *sql.DB
	path string
	lock *flock.Flock

	mu   sync.Mutex
	subs []Subscriber
}

// Open creates the database at path, enabling WAL mode for concurrent
// reads. The parent directory is created if needed. The caller MUST call
// Close when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
		lock: flock.New(path + ".lock"),
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection, for components that
// persist their own tables in the same database (the offline queue).
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the artifact, history, and meta tables. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		state TEXT NOT NULL,
		version INTEGER NOT NULL,
		base_version INTEGER NOT NULL DEFAULT 0,
		last_modified TEXT NOT NULL,
		author TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		conflicted INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS history (
		change_id TEXT PRIMARY KEY,
		artifact_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		author TEXT NOT NULL,
		description TEXT NOT NULL,
		delta TEXT,
		parent_local INTEGER NOT NULL DEFAULT 0,
		parent_remote INTEGER NOT NULL DEFAULT 0,
		UNIQUE (artifact_id, version),
		FOREIGN KEY (artifact_id) REFERENCES artifacts(id)
	);

	-- Small key/value table for sync bookkeeping (pull checkpoint).
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_type ON artifacts(type);
	CREATE INDEX IF NOT EXISTS idx_artifacts_dirty ON artifacts(version, base_version);
	CREATE INDEX IF NOT EXISTS idx_history_artifact ON history(artifact_id, version);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Subscribe registers a hook invoked after every successful Put.
func (s *Store) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) notify(id string) {
	s.mu.Lock()
	subs := make([]Subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(id)
	}
}

// Put persists an artifact together with its history entry, atomically.
//
// expected is the version the caller last read (0 for a new artifact).
// Put fails with *VersionConflictError when the stored version differs,
// which is how two concurrent local writers are kept from clobbering each
// other. a.Version must be strictly greater than expected; fast-forwards
// from the remote may jump by more than one.
//
// Replaying the same entry (same ChangeID) is a no-op that returns the
// originally recorded version: history never gains a duplicate row and
// the version never double-advances.
func (s *Store) Put(ctx context.Context, a *artifact.Artifact, e *artifact.HistoryEntry, expected int64) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, fmt.Errorf("invalid artifact: %w", err)
	}
	e.ArtifactID = a.ID
	e.Version = a.Version
	if err := e.Validate(); err != nil {
		return 0, fmt.Errorf("invalid history entry: %w", err)
	}
	if a.Version <= expected {
		return 0, fmt.Errorf("version %d must exceed expected prior version %d", a.Version, expected)
	}

	// Serialize local writers. The optimistic check below remains the
	// correctness backstop; the lock only avoids spurious conflicts.
	if err := s.lock.Lock(); err != nil {
		return 0, fmt.Errorf("failed to acquire store lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Idempotent replay guard.
	var prior int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM history WHERE change_id = ?`, e.ChangeID).Scan(&prior)
	if err == nil {
		return prior, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to check change id: %w", err)
	}

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM artifacts WHERE id = ?`, a.ID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to read current version: %w", err)
	}
	if current != expected {
		return 0, &VersionConflictError{ID: a.ID, Expected: expected, Actual: current}
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO artifacts (id, type, content, state, version, base_version,
	                       last_modified, author, deleted, conflicted)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		content = excluded.content,
		state = excluded.state,
		version = excluded.version,
		base_version = excluded.base_version,
		last_modified = excluded.last_modified,
		author = excluded.author,
		deleted = excluded.deleted,
		conflicted = excluded.conflicted
	`,
		a.ID, string(a.Type), a.Content, string(a.State), a.Version, a.BaseVersion,
		a.LastModified.UTC().Format(time.RFC3339Nano), a.Author,
		boolToInt(a.Deleted), boolToInt(a.Conflicted),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert artifact %s: %w", a.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO history (change_id, artifact_id, version, timestamp, author,
	                     description, delta, parent_local, parent_remote)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ChangeID, e.ArtifactID, e.Version,
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.Author,
		e.Description, e.Delta, e.ParentLocal, e.ParentRemote,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append history for %s: %w", a.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit put: %w", err)
	}

	s.notify(a.ID)
	return a.Version, nil
}

// Get retrieves a single artifact by id. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id string) (*artifact.Artifact, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT id, type, content, state, version, base_version,
	       last_modified, author, deleted, conflicted
	FROM artifacts WHERE id = ?
	`, id)

	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact %s: %w", id, err)
	}
	return a, nil
}

// List retrieves artifacts, optionally filtered by type, ordered by id.
// Tombstoned artifacts are included; callers filter as needed.
func (s *Store) List(ctx context.Context, typ artifact.Type) ([]*artifact.Artifact, error) {
	var conditions []string
	var args []interface{}

	if typ != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(typ))
	}

	query := `
	SELECT id, type, content, state, version, base_version,
	       last_modified, author, deleted, conflicted
	FROM artifacts
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*artifact.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}
	return out, nil
}

// Dirty returns artifacts whose version is ahead of their base version,
// i.e. local changes not yet confirmed by the remote hub.
func (s *Store) Dirty(ctx context.Context) ([]*artifact.Artifact, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, type, content, state, version, base_version,
	       last_modified, author, deleted, conflicted
	FROM artifacts
	WHERE version > base_version
	ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dirty artifacts: %w", err)
	}
	defer rows.Close()

	var out []*artifact.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dirty artifacts: %w", err)
	}
	return out, nil
}

// History returns all history entries for an artifact, ordered by version
// ascending.
func (s *Store) History(ctx context.Context, id string) ([]*artifact.HistoryEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT change_id, artifact_id, version, timestamp, author,
	       description, delta, parent_local, parent_remote
	FROM history
	WHERE artifact_id = ?
	ORDER BY version ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", id, err)
	}
	defer rows.Close()

	var out []*artifact.HistoryEntry
	for rows.Next() {
		var e artifact.HistoryEntry
		var ts string
		var delta sql.NullString
		err := rows.Scan(&e.ChangeID, &e.ArtifactID, &e.Version, &ts,
			&e.Author, &e.Description, &delta, &e.ParentLocal, &e.ParentRemote)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		e.Delta = delta.String
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return out, nil
}

// SetBaseVersion records the version last confirmed in sync with the
// remote hub for one artifact, after a successful push or fast-forward.
func (s *Store) SetBaseVersion(ctx context.Context, id string, base int64) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE artifacts SET base_version = ? WHERE id = ?`, base, id)
	if err != nil {
		return fmt.Errorf("failed to set base version for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetConflicted flags or clears the pending-manual-resolution marker.
func (s *Store) SetConflicted(ctx context.Context, id string, conflicted bool) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE artifacts SET conflicted = ? WHERE id = ?`, boolToInt(conflicted), id)
	if err != nil {
		return fmt.Errorf("failed to mark %s conflicted: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Checkpoint returns the stored incremental-pull checkpoint (0 if unset).
func (s *Store) Checkpoint(ctx context.Context) (int64, error) {
	var v int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'pull_checkpoint'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return v, nil
}

// SetCheckpoint stores the incremental-pull checkpoint.
func (s *Store) SetCheckpoint(ctx context.Context, v int64) error {
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO meta (key, value) VALUES ('pull_checkpoint', ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, fmt.Sprintf("%d", v))
	if err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanArtifact(row scanner) (*artifact.Artifact, error) {
	var a artifact.Artifact
	var typ, state, lastModified string
	var deleted, conflicted int

	err := row.Scan(&a.ID, &typ, &a.Content, &state, &a.Version, &a.BaseVersion,
		&lastModified, &a.Author, &deleted, &conflicted)
	if err != nil {
		return nil, err
	}

	a.Type = artifact.Type(typ)
	a.State = artifact.State(state)
	a.Deleted = deleted != 0
	a.Conflicted = conflicted != 0
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
