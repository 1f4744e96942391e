package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stagecraft/drift/internal/artifact"
	"github.com/stagecraft/drift/internal/store"
)

func testSetup(t *testing.T) (*Daemon, *store.Store, string) {
	t.Helper()
	root := t.TempDir()
	s, err := store.Open(filepath.Join(root, ".drift", "drift.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	d, err := New(s, root, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d, s, root
}

func writeFile(t *testing.T, root, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(root, dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestImportCreate(t *testing.T) {
	d, s, root := testSetup(t)
	ctx := context.Background()

	path := writeFile(t, root, "plans", "plan-001.md", "# Plan\n")
	ev := FileEvent{Path: path, ArtifactID: "plan-001", Type: artifact.TypePlan, Op: OpCreate}
	if err := d.Import(ctx, ev); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	a, err := s.Get(ctx, "plan-001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a.Version != 1 || a.State != artifact.StateDraft {
		t.Errorf("imported artifact = v%d %s, want v1 DRAFT", a.Version, a.State)
	}
	if a.Content != "# Plan\n" {
		t.Errorf("content = %q", a.Content)
	}
}

func TestImportModify(t *testing.T) {
	d, s, root := testSetup(t)
	ctx := context.Background()

	path := writeFile(t, root, "plans", "plan-001.md", "# Plan\n")
	ev := FileEvent{Path: path, ArtifactID: "plan-001", Type: artifact.TypePlan, Op: OpCreate}
	if err := d.Import(ctx, ev); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	writeFile(t, root, "plans", "plan-001.md", "# Plan\n\nMore.\n")
	ev.Op = OpModify
	if err := d.Import(ctx, ev); err != nil {
		t.Fatalf("second Import failed: %v", err)
	}

	a, _ := s.Get(ctx, "plan-001")
	if a.Version != 2 || a.Content != "# Plan\n\nMore.\n" {
		t.Errorf("after modify: v%d %q", a.Version, a.Content)
	}
}

func TestImportUnchangedIsNoOp(t *testing.T) {
	d, s, root := testSetup(t)
	ctx := context.Background()

	path := writeFile(t, root, "plans", "plan-001.md", "# Plan\n")
	ev := FileEvent{Path: path, ArtifactID: "plan-001", Type: artifact.TypePlan, Op: OpCreate}
	if err := d.Import(ctx, ev); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	// An editor save with identical bytes must not churn history.
	ev.Op = OpModify
	if err := d.Import(ctx, ev); err != nil {
		t.Fatalf("no-op Import failed: %v", err)
	}

	entries, err := s.History(ctx, "plan-001")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("history has %d entries after no-op save, want 1", len(entries))
	}
}

func TestImportDeleteWritesTombstone(t *testing.T) {
	d, s, root := testSetup(t)
	ctx := context.Background()

	path := writeFile(t, root, "plans", "plan-001.md", "# Plan\n")
	ev := FileEvent{Path: path, ArtifactID: "plan-001", Type: artifact.TypePlan, Op: OpCreate}
	if err := d.Import(ctx, ev); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	ev.Op = OpDelete
	if err := d.Import(ctx, ev); err != nil {
		t.Fatalf("delete Import failed: %v", err)
	}

	a, err := s.Get(ctx, "plan-001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !a.Deleted || a.Version != 2 {
		t.Errorf("after delete: deleted=%v v%d, want tombstone v2", a.Deleted, a.Version)
	}

	// Deleting an already-deleted artifact is a no-op.
	if err := d.Import(ctx, ev); err != nil {
		t.Fatalf("repeat delete failed: %v", err)
	}
	a, _ = s.Get(ctx, "plan-001")
	if a.Version != 2 {
		t.Errorf("repeat delete advanced version to %d", a.Version)
	}
}

func TestImportRejectsInvalidContent(t *testing.T) {
	d, _, root := testSetup(t)

	path := writeFile(t, root, "runbooks", "rb-001.yaml", "steps: [broken\n")
	ev := FileEvent{Path: path, ArtifactID: "rb-001", Type: artifact.TypeRunbook, Op: OpCreate}
	if err := d.Import(context.Background(), ev); err == nil {
		t.Fatal("expected error importing invalid YAML runbook")
	}
}

func TestDirFor(t *testing.T) {
	cases := map[artifact.Type]string{
		artifact.TypePlan:    "plans",
		artifact.TypeStory:   "stories",
		artifact.TypeRunbook: "runbooks",
		artifact.TypeJourney: "journeys",
	}
	for typ, want := range cases {
		if got := DirFor(typ); got != want {
			t.Errorf("DirFor(%s) = %q, want %q", typ, got, want)
		}
	}
}

func TestWatcherStartStop(t *testing.T) {
	d, _, root := testSetup(t)
	for dir := range typeDirs {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
	}

	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
