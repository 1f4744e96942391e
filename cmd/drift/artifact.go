package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagecraft/drift/internal/artifact"
	"github.com/stagecraft/drift/internal/config"
	"github.com/stagecraft/drift/internal/daemon"
	"github.com/stagecraft/drift/internal/store"
	"github.com/stagecraft/drift/internal/ui"
)

var newFile string

var newCmd = &cobra.Command{
	Use:     "new <plan|story|runbook|journey> <id>",
	GroupID: "artifacts",
	Short:   "Create a new artifact in draft state",
	Long: `Create a new artifact, both as a workspace file and as version 1 in
the local store. Plans and stories are Markdown; runbooks and journeys
are YAML. Use --file to seed the content, otherwise a template is used.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		typ := artifact.Type(args[0])
		if !typ.Valid() {
			fmt.Fprintf(os.Stderr, "Error: unknown artifact type %q (want plan, story, runbook, or journey)\n", args[0])
			os.Exit(2)
		}
		id := args[1]

		ws := mustWorkspace()
		content := templateFor(typ, id)
		if newFile != "" {
			data, err := os.ReadFile(newFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", newFile, err)
				os.Exit(2)
			}
			content = string(data)
		}
		if err := artifact.ValidateContent(typ, content); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}

		s, _, err := openStore(ws)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		defer s.Close()

		ctx := context.Background()
		if _, err := s.Get(ctx, id); err == nil {
			fmt.Fprintf(os.Stderr, "Error: artifact %s already exists\n", id)
			os.Exit(1)
		} else if !errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		author := loadAuthor(ws)
		now := time.Now().UTC()
		a := &artifact.Artifact{
			ID:           id,
			Type:         typ,
			Content:      content,
			State:        artifact.StateDraft,
			Version:      1,
			Author:       author,
			LastModified: now,
		}
		entry := &artifact.HistoryEntry{
			ArtifactID:  id,
			ChangeID:    artifact.NewChangeID(),
			Version:     1,
			Timestamp:   now,
			Author:      author,
			Description: "created",
		}
		if _, err := s.Put(ctx, a, entry, 0); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		path := artifactPath(ws, typ, id)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err == nil {
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to write %s: %v\n", path, err)
			}
		}

		fmt.Printf("%s Created %s %s (v1, draft)\n", ui.RenderPass("✓"), typ, id)
		fmt.Printf("  %s\n", ui.RenderDim(path))
	},
}

var (
	editState string
)

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "artifacts",
	Short:   "Edit an artifact's content or advance its workflow state",
	Long: `Open the artifact in $EDITOR and write the result back to the store
as a new version. With --state, advance the workflow state instead
(draft -> committed -> accepted); the state never moves backward.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := mustWorkspace()
		s, _, err := openStore(ws)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		defer s.Close()

		ctx := context.Background()
		local, err := s.Get(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if local.Deleted {
			fmt.Fprintf(os.Stderr, "Error: artifact %s is deleted\n", args[0])
			os.Exit(1)
		}

		next := local.Clone()
		description := "edited"

		if editState != "" {
			target := artifact.State(strings.ToUpper(editState))
			if !artifact.Comparable(local.State, target) {
				fmt.Fprintf(os.Stderr, "Error: unknown state %q (want committed or accepted)\n", editState)
				os.Exit(2)
			}
			if artifact.MoreAdvanced(local.State, target) != target || local.State == target {
				fmt.Fprintf(os.Stderr, "Error: cannot move %s from %s to %s\n", args[0], local.State, editState)
				os.Exit(1)
			}
			next.State = target
			description = fmt.Sprintf("state %s -> %s", local.State, target)
		} else {
			content, err := editInEditor(ws, local)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if content == local.Content {
				fmt.Println("No changes")
				return
			}
			if err := artifact.ValidateContent(local.Type, content); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			next.Content = content
		}

		author := loadAuthor(ws)
		now := time.Now().UTC()
		next.Version = local.Version + 1
		next.Author = author
		next.LastModified = now
		entry := &artifact.HistoryEntry{
			ArtifactID:  args[0],
			ChangeID:    artifact.NewChangeID(),
			Version:     next.Version,
			Timestamp:   now,
			Author:      author,
			Description: description,
		}
		if _, err := s.Put(ctx, next, entry, local.Version); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s %s v%d (%s)\n", ui.RenderPass("✓"), args[0], next.Version, description)
	},
}

var showHistory bool

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "artifacts",
	Short:   "Show an artifact",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := mustWorkspace()
		s, _, err := openStore(ws)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		defer s.Close()

		ctx := context.Background()
		a, err := s.Get(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s\n", ui.RenderHeader(a.ID))
		fmt.Printf("Type:     %s\n", a.Type)
		fmt.Printf("State:    %s\n", a.State)
		fmt.Printf("Version:  %d (base %d)\n", a.Version, a.BaseVersion)
		fmt.Printf("Author:   %s\n", a.Author)
		fmt.Printf("Modified: %s\n", a.LastModified.Format("2006-01-02 15:04:05"))
		if a.Deleted {
			fmt.Printf("Status:   %s\n", ui.RenderWarn("deleted"))
		}
		if a.Conflicted {
			fmt.Printf("Status:   %s\n", ui.RenderWarn("diverged, needs resolve"))
		}

		if showHistory {
			entries, err := s.History(ctx, a.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("\n%s\n", ui.RenderHeader("History"))
			for _, e := range entries {
				line := fmt.Sprintf("v%-3d %s %-18s %s",
					e.Version, e.Timestamp.Format("2006-01-02 15:04"), e.Author, e.Description)
				if e.ParentLocal > 0 || e.ParentRemote > 0 {
					line += ui.RenderDim(fmt.Sprintf(" (parents v%d/v%d)", e.ParentLocal, e.ParentRemote))
				}
				fmt.Println(line)
			}
		} else if !a.Deleted {
			fmt.Printf("\n%s\n", a.Content)
		}
	},
}

var listType string

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "artifacts",
	Short:   "List artifacts in the workspace",
	Run: func(cmd *cobra.Command, args []string) {
		ws := mustWorkspace()
		s, _, err := openStore(ws)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		defer s.Close()

		typ := artifact.Type(listType)
		if listType != "" && !typ.Valid() {
			fmt.Fprintf(os.Stderr, "Error: unknown artifact type %q\n", listType)
			os.Exit(2)
		}

		artifacts, err := s.List(context.Background(), typ)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(artifacts) == 0 {
			fmt.Println("No artifacts")
			return
		}

		for _, a := range artifacts {
			state := string(a.State)
			if a.Deleted {
				state = "deleted"
			}
			line := fmt.Sprintf("%-28s %-10s %-10s v%-3d %s",
				a.ID, a.Type, state, a.Version, a.LastModified.Format("2006-01-02"))
			if a.Conflicted {
				line += " " + ui.RenderWarn("!")
			}
			fmt.Println(line)
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	GroupID: "artifacts",
	Short:   "Delete an artifact (tombstone)",
	Long: `Mark the artifact deleted. The tombstone propagates to the hub on the
next push; prior versions stay in history and the delete itself can be
contested by a concurrent edit, which surfaces as a divergence.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := mustWorkspace()
		s, _, err := openStore(ws)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		defer s.Close()

		ctx := context.Background()
		local, err := s.Get(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if local.Deleted {
			fmt.Printf("%s already deleted\n", args[0])
			return
		}

		author := loadAuthor(ws)
		now := time.Now().UTC()
		tomb := local.Clone()
		tomb.Deleted = true
		tomb.Version = local.Version + 1
		tomb.Author = author
		tomb.LastModified = now
		entry := &artifact.HistoryEntry{
			ArtifactID:  args[0],
			ChangeID:    artifact.NewChangeID(),
			Version:     tomb.Version,
			Timestamp:   now,
			Author:      author,
			Description: "deleted",
			Delta:       "tombstone; prior content retained in history",
		}
		if _, err := s.Put(ctx, tomb, entry, local.Version); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		path := artifactPath(ws, local.Type, local.ID)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to remove %s: %v\n", path, err)
		}

		fmt.Printf("%s Deleted %s (v%d tombstone)\n", ui.RenderPass("✓"), args[0], tomb.Version)
	},
}

// artifactPath returns the workspace file for an artifact id.
func artifactPath(ws string, t artifact.Type, id string) string {
	ext := ".md"
	if t == artifact.TypeRunbook || t == artifact.TypeJourney {
		ext = ".yaml"
	}
	return filepath.Join(ws, daemon.DirFor(t), id+ext)
}

// loadAuthor reads the configured author identity without requiring the
// remote settings to be present.
func loadAuthor(ws string) string {
	cfg, err := config.Load(ws)
	if err != nil || cfg.Author == "" {
		return "unknown"
	}
	return cfg.Author
}

// editInEditor runs $EDITOR on the artifact's workspace file, seeding it
// from the store when absent, and returns the resulting content.
func editInEditor(ws string, a *artifact.Artifact) (string, error) {
	path := artifactPath(ws, a.Type, a.ID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", err
		}
		if err := os.WriteFile(path, []byte(a.Content), 0644); err != nil {
			return "", err
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}
	c := exec.Command(editor, path)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return "", fmt.Errorf("editor failed: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// templateFor returns starter content for a new artifact.
func templateFor(t artifact.Type, id string) string {
	switch t {
	case artifact.TypePlan, artifact.TypeStory:
		return fmt.Sprintf("---\ntitle: %s\n---\n\n# %s\n\nDescribe the %s here.\n", id, id, t)
	default:
		return fmt.Sprintf("name: %s\nsteps:\n  - describe the first step\n", id)
	}
}

func init() {
	newCmd.Flags().StringVar(&newFile, "file", "", "seed content from file")
	editCmd.Flags().StringVar(&editState, "state", "", "advance workflow state (committed, accepted)")
	showCmd.Flags().BoolVar(&showHistory, "history", false, "show version history instead of content")
	listCmd.Flags().StringVar(&listType, "type", "", "filter by artifact type")

	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
}
