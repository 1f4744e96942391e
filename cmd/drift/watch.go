package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagecraft/drift/internal/daemon"
	"github.com/stagecraft/drift/internal/ui"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "artifacts",
	Short:   "Watch the workspace and import file edits (foreground)",
	Long: `Watch the per-type artifact directories and import edited files into
the local store as new versions. Rapid saves are debounced; deleting a
file writes a tombstone. Run 'drift sync push' to publish the imports.`,
	Run: func(cmd *cobra.Command, args []string) {
		ws := mustWorkspace()
		s, _, err := openStore(ws)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		defer s.Close()

		cfg := daemon.DefaultConfig()
		cfg.Logger = newLogger("watch")
		cfg.Author = loadAuthor(ws)
		if watchDebounce > 0 {
			cfg.DebounceInterval = watchDebounce
		}

		d, err := daemon.New(s, ws, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating watcher: %v\n", err)
			os.Exit(2)
		}

		if err := d.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Watching %s\n", ui.RenderAccent("●"), ws)
		fmt.Printf("Press Ctrl+C to stop\n")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		if err := d.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping watcher: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Stopped")
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "debounce interval for file events")
	rootCmd.AddCommand(watchCmd)
}
