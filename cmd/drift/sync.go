package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagecraft/drift/internal/artifact"
	"github.com/stagecraft/drift/internal/audit"
	"github.com/stagecraft/drift/internal/config"
	"github.com/stagecraft/drift/internal/daemon"
	"github.com/stagecraft/drift/internal/engine"
	"github.com/stagecraft/drift/internal/remote"
	"github.com/stagecraft/drift/internal/store"
	"github.com/stagecraft/drift/internal/ui"
)

var (
	initRemoteURL string
	initTable     string
	initAuthor    string
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "sync",
	Short:   "Initialize a drift workspace",
	Long: `Create the .drift directory, config file, local store, and the
per-type artifact directories (plans/, stories/, runbooks/, journeys/).

The remote credential is never written to the config file; supply it via
the ` + config.TokenEnv + ` environment variable when syncing.`,
	Run: func(cmd *cobra.Command, args []string) {
		ws, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}

		cfg := &config.Config{
			RemoteURL:   initRemoteURL,
			RemoteTable: initTable,
			Timeout:     30 * time.Second,
			Author:      initAuthor,
		}
		if err := config.Write(ws, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(2)
		}

		for _, t := range artifact.Types {
			dir := filepath.Join(ws, daemon.DirFor(t))
			if err := os.MkdirAll(dir, 0755); err != nil {
				fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", dir, err)
				os.Exit(2)
			}
		}

		s, _, err := openStore(ws)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		defer s.Close()

		fmt.Printf("%s Initialized drift workspace in %s\n", ui.RenderPass("✓"), ws)
		if initRemoteURL == "" {
			fmt.Printf("%s\n", ui.RenderDim("No remote configured; set remote_url in "+config.Path(ws)+" to sync"))
		}
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Synchronize the workspace with the hub",
}

var syncJSON bool

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push local changes to the hub",
	Long: `Push every dirty artifact (local version ahead of its sync base) to
the hub. Queued operations from previous offline runs are replayed first,
in their original order. Divergent artifacts are auto-resolved when a
lossless rule applies; the rest are reported pending manual resolution.`,
	Run: func(cmd *cobra.Command, args []string) {
		runSync(true, func(ctx context.Context, o *engine.Orchestrator) (*engine.Report, error) {
			return o.Push(ctx)
		})
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull hub changes into the local store",
	Long: `Fetch every hub record written since the last pull checkpoint and
fold it into the local store. Clean artifacts fast-forward; locally
modified ones go through conflict resolution. Local uncommitted changes
are never silently overwritten.`,
	Run: func(cmd *cobra.Command, args []string) {
		runSync(true, func(ctx context.Context, o *engine.Orchestrator) (*engine.Report, error) {
			return o.Pull(ctx)
		})
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync state of every artifact",
	Long: `Classify each artifact against the hub (in-sync, ahead, behind,
diverged) without modifying anything on either side. Exits 1 when any
artifact is diverged or awaiting manual resolution.`,
	Run: func(cmd *cobra.Command, args []string) {
		ws := mustWorkspace()
		o, _, cleanup := buildOrchestrator(ws)
		defer cleanup()

		rows, err := o.Status(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		needsResolve := false
		for _, row := range rows {
			if row.NeedsResolve() {
				needsResolve = true
			}
		}

		if syncJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(rows); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if needsResolve {
				os.Exit(1)
			}
			return
		}

		if len(rows) == 0 {
			fmt.Println("No artifacts in workspace")
			return
		}

		fmt.Printf("\n%s\n\n", ui.RenderHeader("Sync Status"))
		for _, row := range rows {
			line := fmt.Sprintf("%s %-28s %-10s local v%-3d base v%-3d",
				ui.ClassGlyph(row.Class), row.ID, row.Type, row.LocalVersion, row.BaseVersion)
			if row.RemoteVersion > 0 {
				line += fmt.Sprintf(" remote v%-3d", row.RemoteVersion)
			}
			line += "  " + row.Class.String()
			if row.NeedsResolve() {
				line += " " + ui.RenderWarn("(needs resolve)")
			}
			if row.Err != "" {
				line += " " + ui.RenderFail(row.Err)
			}
			fmt.Println(line)
		}
		fmt.Println()
		if needsResolve {
			os.Exit(1)
		}
	},
}

var (
	resolveKeepLocal  bool
	resolveKeepRemote bool
	resolveMergedFile string
)

var syncResolveCmd = &cobra.Command{
	Use:   "resolve <artifact-id>",
	Short: "Resolve a diverged artifact",
	Long: `Resolve a divergence that automatic resolution declined, by keeping
the local side, keeping the remote side, or supplying a merged payload
from a file. The discarded side is retained in history.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var choice engine.Choice
		var merged string
		switch {
		case resolveKeepLocal && !resolveKeepRemote && resolveMergedFile == "":
			choice = engine.KeepLocal
		case resolveKeepRemote && !resolveKeepLocal && resolveMergedFile == "":
			choice = engine.KeepRemote
		case resolveMergedFile != "" && !resolveKeepLocal && !resolveKeepRemote:
			data, err := os.ReadFile(resolveMergedFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading merged file: %v\n", err)
				os.Exit(2)
			}
			choice = engine.Merged
			merged = string(data)
		default:
			fmt.Fprintf(os.Stderr, "Error: exactly one of --keep-local, --keep-remote, --merged is required\n")
			os.Exit(2)
		}

		runSync(false, func(ctx context.Context, o *engine.Orchestrator) (*engine.Report, error) {
			return o.Resolve(ctx, args[0], choice, merged)
		})
	},
}

// runSync wires the orchestrator, runs one sync operation, prints its
// report, and exits 1 when any artifact failed or is pending. With
// drainFirst the offline queue is replayed before the operation so
// queued work lands in its original order.
func runSync(drainFirst bool, fn func(context.Context, *engine.Orchestrator) (*engine.Report, error)) {
	ws := mustWorkspace()
	o, _, cleanup := buildOrchestrator(ws)

	ctx := context.Background()
	failed := false

	if drainFirst {
		rep, err := o.Drain(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error replaying queue: %v\n", err)
			cleanup()
			os.Exit(1)
		}
		if printReport(rep) {
			failed = true
		}
	}

	rep, err := fn(ctx, o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cleanup()
		os.Exit(1)
	}
	if printReport(rep) {
		failed = true
	}

	cleanup()
	if failed {
		os.Exit(1)
	}
}

// printReport renders a report and returns whether it carries failures.
func printReport(rep *engine.Report) bool {
	if rep == nil || len(rep.Results) == 0 {
		return false
	}
	for _, res := range rep.Results {
		glyph := ui.RenderPass("✓")
		switch res.Outcome {
		case engine.OutcomeFailed:
			glyph = ui.RenderFail("✗")
		case engine.OutcomePending, engine.OutcomeQueued:
			glyph = ui.RenderWarn("!")
		case engine.OutcomeSkipped, engine.OutcomeUpToDate:
			glyph = ui.RenderDim("-")
		}
		line := fmt.Sprintf("%s %-28s %s", glyph, res.ID, res.Outcome)
		if res.Detail != "" {
			line += " " + ui.RenderDim("("+res.Detail+")")
		}
		fmt.Println(line)
	}
	fmt.Printf("\n%s\n", rep.Summary())
	return rep.HasFailures()
}

// buildOrchestrator loads config, opens the store and queue, and wires
// the engine against the configured hub. Exits 2 on config problems.
func buildOrchestrator(ws string) (*engine.Orchestrator, *store.Store, func()) {
	cfg, err := config.Load(ws)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	s, q, err := openStore(ws)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	auditLog := audit.NewFileLogger(config.AuditPath(ws))

	client := remote.NewClient(cfg.RemoteURL, cfg.RemoteTable, cfg.Token, cfg.Timeout)
	o, err := engine.New(engine.Config{
		Store:  s,
		Remote: client,
		Queue:  q,
		Author: cfg.Author,
		Audit:  auditLog,
		Logger: newLogger("sync"),
	})
	if err != nil {
		_ = s.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	cleanup := func() {
		_ = auditLog.Close()
		_ = s.Close()
	}
	return o, s, cleanup
}

func init() {
	initCmd.Flags().StringVar(&initRemoteURL, "remote-url", "", "hub base URL")
	initCmd.Flags().StringVar(&initTable, "table", "artifacts", "hub table name")
	initCmd.Flags().StringVar(&initAuthor, "author", "", "author identity (defaults to user@host)")

	syncStatusCmd.Flags().BoolVar(&syncJSON, "json", false, "emit JSON")

	syncResolveCmd.Flags().BoolVar(&resolveKeepLocal, "keep-local", false, "keep the local side")
	syncResolveCmd.Flags().BoolVar(&resolveKeepRemote, "keep-remote", false, "adopt the remote side")
	syncResolveCmd.Flags().StringVar(&resolveMergedFile, "merged", "", "file containing the merged payload")

	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncPullCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncResolveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(syncCmd)
}
