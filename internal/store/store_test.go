package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stagecraft/drift/internal/artifact"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "drift.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	return s
}

func testArtifact(id string, version int64) *artifact.Artifact {
	return &artifact.Artifact{
		ID:           id,
		Type:         artifact.TypePlan,
		Content:      "# Plan\n\nContent.\n",
		State:        artifact.StateDraft,
		Version:      version,
		Author:       "alice@dev",
		LastModified: time.Now().UTC(),
	}
}

func testEntry(id string, version int64) *artifact.HistoryEntry {
	return &artifact.HistoryEntry{
		ArtifactID:  id,
		ChangeID:    artifact.NewChangeID(),
		Version:     version,
		Timestamp:   time.Now().UTC(),
		Author:      "alice@dev",
		Description: "test write",
	}
}

func TestPutAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := testArtifact("plan-001", 1)
	v, err := s.Put(ctx, a, testEntry(a.ID, 1), 0)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if v != 1 {
		t.Errorf("Put returned version %d, want 1", v)
	}

	got, err := s.Get(ctx, "plan-001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != a.Content {
		t.Errorf("content mismatch: got %q", got.Content)
	}
	if got.State != artifact.StateDraft {
		t.Errorf("state = %q, want DRAFT", got.State)
	}
	if got.Version != 1 || got.BaseVersion != 0 {
		t.Errorf("versions = %d/%d, want 1/0", got.Version, got.BaseVersion)
	}
}

func TestGetNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutVersionConflict(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, testArtifact("plan-001", 1), testEntry("plan-001", 1), 0); err != nil {
		t.Fatalf("initial Put failed: %v", err)
	}

	// A writer that still believes the artifact is at version 0 must be
	// rejected, not silently applied.
	_, err := s.Put(ctx, testArtifact("plan-001", 2), testEntry("plan-001", 2), 0)
	if !IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	var vc *VersionConflictError
	if !errors.As(err, &vc) {
		t.Fatalf("expected *VersionConflictError, got %T", err)
	}
	if vc.Expected != 0 || vc.Actual != 1 {
		t.Errorf("conflict = expected %d actual %d, want 0/1", vc.Expected, vc.Actual)
	}

	// The stored artifact is untouched.
	got, err := s.Get(ctx, "plan-001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("version = %d after rejected write, want 1", got.Version)
	}
}

func TestPutVersionMustAdvance(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, testArtifact("plan-001", 1), testEntry("plan-001", 1), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := s.Put(ctx, testArtifact("plan-001", 1), testEntry("plan-001", 1), 1); err == nil {
		t.Fatal("expected error writing version 1 over version 1")
	}
}

func TestPutIdempotentReplay(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := testArtifact("plan-001", 1)
	e := testEntry("plan-001", 1)
	if _, err := s.Put(ctx, a, e, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Replaying the identical change must be a no-op returning the
	// original version, even with a stale expected value.
	v, err := s.Put(ctx, a.Clone(), &artifact.HistoryEntry{
		ArtifactID: a.ID,
		ChangeID:   e.ChangeID,
		Version:    1,
		Timestamp:  time.Now().UTC(),
		Author:     "alice@dev",
	}, 0)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if v != 1 {
		t.Errorf("replay returned version %d, want 1", v)
	}

	entries, err := s.History(ctx, "plan-001")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("history has %d entries after replay, want 1", len(entries))
	}
}

func TestPutRejectsMalformed(t *testing.T) {
	s := testStore(t)

	a := testArtifact("plan-001", 1)
	a.Content = ""
	if _, err := s.Put(context.Background(), a, testEntry("plan-001", 1), 0); err == nil {
		t.Fatal("expected validation error for empty content")
	}
}

func TestTombstonePut(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, testArtifact("plan-001", 1), testEntry("plan-001", 1), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	tomb := testArtifact("plan-001", 2)
	tomb.Deleted = true
	tomb.Content = ""
	if _, err := s.Put(ctx, tomb, testEntry("plan-001", 2), 1); err != nil {
		t.Fatalf("tombstone Put failed: %v", err)
	}

	got, err := s.Get(ctx, "plan-001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Deleted {
		t.Error("expected deleted flag set")
	}

	// Prior versions stay in history.
	entries, err := s.History(ctx, "plan-001")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("history has %d entries, want 2", len(entries))
	}
}

func TestHistoryOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for v := int64(1); v <= 5; v++ {
		a := testArtifact("plan-001", v)
		if _, err := s.Put(ctx, a, testEntry("plan-001", v), v-1); err != nil {
			t.Fatalf("Put v%d failed: %v", v, err)
		}
	}

	entries, err := s.History(ctx, "plan-001")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("history has %d entries, want 5", len(entries))
	}
	for i, e := range entries {
		if e.Version != int64(i+1) {
			t.Errorf("entry %d has version %d, want %d", i, e.Version, i+1)
		}
	}
}

func TestListAndDirty(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// One clean, one dirty, one of another type.
	clean := testArtifact("plan-clean", 2)
	clean.BaseVersion = 2
	if _, err := s.Put(ctx, clean, testEntry(clean.ID, 2), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	dirty := testArtifact("plan-dirty", 3)
	dirty.BaseVersion = 1
	if _, err := s.Put(ctx, dirty, testEntry(dirty.ID, 3), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rb := testArtifact("rb-001", 1)
	rb.Type = artifact.TypeRunbook
	rb.Content = "name: restart\nsteps:\n  - go\n"
	if _, err := s.Put(ctx, rb, testEntry(rb.ID, 1), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List returned %d artifacts, want 3", len(all))
	}

	plans, err := s.List(ctx, artifact.TypePlan)
	if err != nil {
		t.Fatalf("List(plan) failed: %v", err)
	}
	if len(plans) != 2 {
		t.Errorf("List(plan) returned %d artifacts, want 2", len(plans))
	}

	dirties, err := s.Dirty(ctx)
	if err != nil {
		t.Fatalf("Dirty failed: %v", err)
	}
	if len(dirties) != 2 {
		t.Fatalf("Dirty returned %d artifacts, want 2 (dirty plan + new runbook)", len(dirties))
	}
}

func TestSetBaseVersion(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, testArtifact("plan-001", 2), testEntry("plan-001", 2), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.SetBaseVersion(ctx, "plan-001", 2); err != nil {
		t.Fatalf("SetBaseVersion failed: %v", err)
	}

	got, _ := s.Get(ctx, "plan-001")
	if got.BaseVersion != 2 {
		t.Errorf("base = %d, want 2", got.BaseVersion)
	}
	if got.Dirty() {
		t.Error("artifact still dirty after base update")
	}
}

func TestSetConflicted(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, testArtifact("plan-001", 1), testEntry("plan-001", 1), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.SetConflicted(ctx, "plan-001", true); err != nil {
		t.Fatalf("SetConflicted failed: %v", err)
	}
	got, _ := s.Get(ctx, "plan-001")
	if !got.Conflicted {
		t.Error("expected conflicted flag set")
	}

	if err := s.SetConflicted(ctx, "plan-001", false); err != nil {
		t.Fatalf("SetConflicted(false) failed: %v", err)
	}
	got, _ = s.Get(ctx, "plan-001")
	if got.Conflicted {
		t.Error("expected conflicted flag cleared")
	}
}

func TestCheckpoint(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ckpt, err := s.Checkpoint(ctx)
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	if ckpt != 0 {
		t.Errorf("fresh checkpoint = %d, want 0", ckpt)
	}

	if err := s.SetCheckpoint(ctx, 42); err != nil {
		t.Fatalf("SetCheckpoint failed: %v", err)
	}
	ckpt, err = s.Checkpoint(ctx)
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	if ckpt != 42 {
		t.Errorf("checkpoint = %d, want 42", ckpt)
	}
}

func TestSubscribe(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var notified []string
	s.Subscribe(func(id string) { notified = append(notified, id) })

	if _, err := s.Put(ctx, testArtifact("plan-001", 1), testEntry("plan-001", 1), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if len(notified) != 1 || notified[0] != "plan-001" {
		t.Errorf("notifications = %v, want [plan-001]", notified)
	}

	// A rejected write must not notify.
	_, _ = s.Put(ctx, testArtifact("plan-001", 2), testEntry("plan-001", 2), 99)
	if len(notified) != 1 {
		t.Errorf("rejected write produced a notification: %v", notified)
	}
}
