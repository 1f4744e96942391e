package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/stagecraft/drift/internal/artifact"
	"github.com/stagecraft/drift/internal/store"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long to wait before processing file
	// changes, batching rapid editor saves together.
	DebounceInterval time.Duration

	// Author is stamped on imported mutations.
	Author string

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 250 * time.Millisecond,
		Author:           "drift-watch",
		Logger:           log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

// Daemon watches the workspace and imports artifact file edits into the
// local store.
type Daemon struct {
	store  *store.Store
	root   string
	config *Config

	watcher *FileWatcher

	pendingMu sync.Mutex
	pending   map[string]FileEvent // path -> latest event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance. Use Start to begin watching.
func New(s *store.Store, root string, config *Config) (*Daemon, error) {
	if s == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:   s,
		root:    root,
		config:  config,
		watcher: watcher,
		pending: make(map[string]FileEvent),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins watching and importing. Non-blocking.
func (d *Daemon) Start() error {
	if err := d.watcher.Start(d.root); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	d.wg.Add(2)
	go d.collectEvents()
	go d.flushLoop()

	d.config.Logger.Printf("watching %s", d.root)
	return nil
}

// Stop shuts the daemon down and waits for in-flight imports.
func (d *Daemon) Stop() error {
	d.cancel()
	err := d.watcher.Stop()
	d.wg.Wait()
	return err
}

// collectEvents coalesces raw watcher events into the pending map.
func (d *Daemon) collectEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case ev, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.pendingMu.Lock()
			d.pending[ev.Path] = ev
			d.pendingMu.Unlock()
		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Warning: watcher error: %v", err)
		}
	}
}

// flushLoop periodically drains the pending map and imports each file.
func (d *Daemon) flushLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.flush()
		}
	}
}

func (d *Daemon) flush() {
	d.pendingMu.Lock()
	batch := d.pending
	d.pending = make(map[string]FileEvent)
	d.pendingMu.Unlock()

	for _, ev := range batch {
		if err := d.Import(d.ctx, ev); err != nil {
			d.config.Logger.Printf("Warning: failed to import %s: %v", ev.Path, err)
		}
	}
}

// Import applies a single file event to the local store.
//
// A create or modify reads the file and, when the content actually
// changed, writes a new artifact version. A delete writes a tombstone.
// Unchanged content is skipped so editor no-op saves don't churn history.
// A version conflict from a concurrent CLI write is retried once.
func (d *Daemon) Import(ctx context.Context, ev FileEvent) error {
	err := d.importOnce(ctx, ev)
	if err != nil && store.IsVersionConflict(err) {
		err = d.importOnce(ctx, ev)
	}
	return err
}

func (d *Daemon) importOnce(ctx context.Context, ev FileEvent) error {
	local, err := d.store.Get(ctx, ev.ArtifactID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if ev.Op == OpDelete {
		if local == nil || local.Deleted {
			return nil
		}
		tomb := local.Clone()
		tomb.Deleted = true
		tomb.Version = local.Version + 1
		tomb.Author = d.config.Author
		tomb.LastModified = time.Now().UTC()
		entry := &artifact.HistoryEntry{
			ArtifactID:  ev.ArtifactID,
			ChangeID:    artifact.NewChangeID(),
			Version:     tomb.Version,
			Timestamp:   time.Now().UTC(),
			Author:      d.config.Author,
			Description: "deleted (file removed from workspace)",
			Delta:       "tombstone; prior content retained in history",
		}
		_, err := d.store.Put(ctx, tomb, entry, local.Version)
		if err != nil {
			return err
		}
		d.config.Logger.Printf("tombstoned %s", ev.ArtifactID)
		return nil
	}

	data, err := os.ReadFile(ev.Path)
	if err != nil {
		// The file may have vanished between event and flush.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", ev.Path, err)
	}
	content := string(data)

	if err := artifact.ValidateContent(ev.Type, content); err != nil {
		return fmt.Errorf("invalid %s content in %s: %w", ev.Type, ev.Path, err)
	}

	if local == nil {
		a := &artifact.Artifact{
			ID:           ev.ArtifactID,
			Type:         ev.Type,
			Content:      content,
			State:        artifact.StateDraft,
			Version:      1,
			Author:       d.config.Author,
			LastModified: time.Now().UTC(),
		}
		entry := &artifact.HistoryEntry{
			ArtifactID:  ev.ArtifactID,
			ChangeID:    artifact.NewChangeID(),
			Version:     1,
			Timestamp:   time.Now().UTC(),
			Author:      d.config.Author,
			Description: "created from workspace file",
		}
		if _, err := d.store.Put(ctx, a, entry, 0); err != nil {
			return err
		}
		d.config.Logger.Printf("created %s (%s)", ev.ArtifactID, ev.Type)
		return nil
	}

	if local.Content == content && !local.Deleted {
		return nil
	}

	next := local.Clone()
	next.Content = content
	next.Deleted = false
	next.Version = local.Version + 1
	next.Author = d.config.Author
	next.LastModified = time.Now().UTC()
	entry := &artifact.HistoryEntry{
		ArtifactID:  ev.ArtifactID,
		ChangeID:    artifact.NewChangeID(),
		Version:     next.Version,
		Timestamp:   time.Now().UTC(),
		Author:      d.config.Author,
		Description: "imported from workspace file",
	}
	if _, err := d.store.Put(ctx, next, entry, local.Version); err != nil {
		return err
	}
	d.config.Logger.Printf("imported %s v%d", ev.ArtifactID, next.Version)
	return nil
}
