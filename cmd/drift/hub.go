package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagecraft/drift/internal/config"
	"github.com/stagecraft/drift/internal/hub"
	"github.com/stagecraft/drift/internal/ui"
)

var hubCmd = &cobra.Command{
	Use:     "hub",
	GroupID: "sync",
	Short:   "Run and manage a sync hub",
}

var (
	hubAddr  string
	hubDB    string
	hubTable string
)

var hubServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sync hub over HTTP",
	Long: `Start the hub HTTP server backed by a local SQLite database. Clients
authenticate with a bearer token taken from the ` + config.TokenEnv + `
environment variable; requests without it are rejected.`,
	Run: func(cmd *cobra.Command, args []string) {
		token := os.Getenv(config.TokenEnv)
		if token == "" {
			fmt.Fprintf(os.Stderr, "Error: %s must be set to serve the hub\n", config.TokenEnv)
			os.Exit(2)
		}

		store, err := hub.Open(hubDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening hub database: %v\n", err)
			os.Exit(2)
		}
		defer store.Close()

		if err := store.InitSchema(context.Background(), hubTable); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
			os.Exit(2)
		}

		logger := newLogger("hub")
		handler := hub.NewHandler(store, hub.ServerConfig{
			Token:  token,
			Logger: logger,
		})

		srv := &http.Server{
			Addr:              hubAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		fmt.Printf("%s Hub listening on %s (table %s, db %s)\n",
			ui.RenderAccent("●"), hubAddr, hubTable, hubDB)
		fmt.Printf("Press Ctrl+C to stop\n")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Hub stopped")
		}
	},
}

func init() {
	hubServeCmd.Flags().StringVar(&hubAddr, "addr", ":8080", "listen address")
	hubServeCmd.Flags().StringVar(&hubDB, "db", "hub.db", "hub database path")
	hubServeCmd.Flags().StringVar(&hubTable, "table", "artifacts", "table to serve")

	hubCmd.AddCommand(hubServeCmd)
	rootCmd.AddCommand(hubCmd)
}
