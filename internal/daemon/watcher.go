// Package daemon provides the workspace watcher for drift.
//
// The daemon watches the workspace artifact directories (plans/, stories/,
// runbooks/, journeys/) and imports edited files into the local store,
// bumping the artifact version so the next `drift sync push` picks the
// change up. It is a local editing convenience; the sync engine itself
// never depends on it.
package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/stagecraft/drift/internal/artifact"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent represents a file system event for an artifact file.
type FileEvent struct {
	// Path is the absolute path of the file that changed.
	Path string
	// ArtifactID is derived from the file name (without extension).
	ArtifactID string
	// Type is derived from the parent directory.
	Type artifact.Type
	// Op is the operation that occurred.
	Op EventOp
}

// typeDirs maps workspace subdirectories to artifact types.
var typeDirs = map[string]artifact.Type{
	"plans":    artifact.TypePlan,
	"stories":  artifact.TypeStory,
	"runbooks": artifact.TypeRunbook,
	"journeys": artifact.TypeJourney,
}

// DirFor returns the workspace subdirectory holding files of a type.
func DirFor(t artifact.Type) string {
	for dir, typ := range typeDirs {
		if typ == t {
			return dir
		}
	}
	return ""
}

// FileWatcher watches the workspace artifact directories for changes.
// It uses fsnotify for cross-platform file system event monitoring.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	root    string
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the artifact directories under root. Directories
// that do not exist yet are skipped; at least one must be present.
func (fw *FileWatcher) Start(root string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}
	fw.root = root

	watched := 0
	for dir := range typeDirs {
		path := filepath.Join(root, dir)
		if err := fw.watcher.Add(path); err != nil {
			continue
		}
		watched++
	}
	if watched == 0 {
		return fmt.Errorf("no artifact directories found under %s", root)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching and cleans up resources. It blocks until the event
// processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits FileEvent notifications.
// The channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits error notifications.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to a FileEvent.
// Returns false for events that should be ignored.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	ext := filepath.Ext(event.Name)
	switch ext {
	case ".md", ".yaml", ".yml":
	default:
		return FileEvent{}, false
	}

	typ, ok := fw.typeForPath(event.Name)
	if !ok {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// Treat rename as delete; the new name triggers a create.
		op = OpDelete
	default:
		// Ignore chmod and other events.
		return FileEvent{}, false
	}

	base := filepath.Base(event.Name)
	id := strings.TrimSuffix(base, ext)

	return FileEvent{
		Path:       event.Name,
		ArtifactID: id,
		Type:       typ,
		Op:         op,
	}, true
}

// typeForPath maps a file path to its artifact type via the parent
// directory name.
func (fw *FileWatcher) typeForPath(path string) (artifact.Type, bool) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	dir := filepath.Base(filepath.Dir(absPath))
	typ, ok := typeDirs[dir]
	return typ, ok
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}
