package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/stagecraft/drift/internal/config"
	"github.com/stagecraft/drift/internal/queue"
	"github.com/stagecraft/drift/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "drift",
	Short: "Local-first sync for governance artifacts",
	Long: `drift keeps a workspace of governance artifacts (plans, stories,
runbooks, journeys) in a local store and synchronizes them with a shared
hub. All authoring commands work offline; sync reconciles with the hub
when connectivity allows, queueing what it cannot deliver.`,
	SilenceUsage: true,
}

var verbose bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose diagnostics")
	rootCmd.AddGroup(
		&cobra.Group{ID: "artifacts", Title: "Artifact Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
}

// newLogger builds the CLI diagnostic logger. Components take a standard
// *log.Logger, so hand them the charm logger's std adapter.
func newLogger(prefix string) *log.Logger {
	l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Prefix:          prefix,
		ReportTimestamp: true,
	})
	if verbose {
		l.SetLevel(charmlog.DebugLevel)
	}
	return l.StandardLog()
}

// findWorkspace walks up from the working directory looking for a .drift
// directory, the same way git finds its repository root.
func findWorkspace() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, config.Dir)); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mustWorkspace resolves the workspace root or exits with a usage error.
func mustWorkspace() string {
	ws := findWorkspace()
	if ws == "" {
		fmt.Fprintf(os.Stderr, "Error: not a drift workspace (no %s directory found)\n", config.Dir)
		fmt.Fprintf(os.Stderr, "Run 'drift init' first\n")
		os.Exit(2)
	}
	return ws
}

// openStore opens the workspace store with its schema and offline queue
// initialized. The caller must Close the store.
func openStore(ws string) (*store.Store, *queue.Queue, error) {
	s, err := store.Open(config.StorePath(ws))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	q := queue.New(s.RawDB())
	if err := q.InitSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	return s, q, nil
}
