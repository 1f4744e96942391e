package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stagecraft/drift/internal/artifact"
	"github.com/stagecraft/drift/internal/remote"
)

func testHub(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(context.Background(), "artifacts"); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	return s
}

func hubRecord(id string, version int64) *artifact.Artifact {
	return &artifact.Artifact{
		ID:           id,
		Type:         artifact.TypeStory,
		Content:      "# Story\n",
		State:        artifact.StateDraft,
		Version:      version,
		Author:       "bob@dev",
		LastModified: time.Now().UTC(),
	}
}

func TestHubPutAndGet(t *testing.T) {
	s := testHub(t)
	ctx := context.Background()

	v, current, ok, err := s.Put(ctx, "artifacts", "story-001", 0, hubRecord("story-001", 1), "c1")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !ok || v != 1 || current != nil {
		t.Errorf("Put = (%d, %v, %v), want (1, nil, true)", v, current, ok)
	}

	got, err := s.Get(ctx, "artifacts", "story-001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 1 || got.Author != "bob@dev" {
		t.Errorf("got %+v", got)
	}
}

func TestHubGetNotFound(t *testing.T) {
	s := testHub(t)
	_, err := s.Get(context.Background(), "artifacts", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHubPutConflict(t *testing.T) {
	s := testHub(t)
	ctx := context.Background()

	if _, _, _, err := s.Put(ctx, "artifacts", "story-001", 0, hubRecord("story-001", 1), "c1"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// A writer that never saw version 1 is refused and handed the
	// current record.
	v, current, ok, err := s.Put(ctx, "artifacts", "story-001", 0, hubRecord("story-001", 2), "c2")
	if err != nil {
		t.Fatalf("Put errored: %v", err)
	}
	if ok {
		t.Fatal("conditional write succeeded against stale expected version")
	}
	if v != 0 || current == nil || current.Version != 1 {
		t.Errorf("conflict result = (%d, %+v), want current v1", v, current)
	}

	// Hub state is unchanged.
	got, _ := s.Get(ctx, "artifacts", "story-001")
	if got.Version != 1 {
		t.Errorf("hub advanced to v%d on refused write", got.Version)
	}
}

func TestHubPutIdempotentReplay(t *testing.T) {
	s := testHub(t)
	ctx := context.Background()

	if _, _, _, err := s.Put(ctx, "artifacts", "story-001", 0, hubRecord("story-001", 1), "c1"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Same change id replayed with a stale expected version must
	// short-circuit to the recorded version, not conflict.
	v, _, ok, err := s.Put(ctx, "artifacts", "story-001", 0, hubRecord("story-001", 1), "c1")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !ok || v != 1 {
		t.Errorf("replay = (%d, %v), want (1, true)", v, ok)
	}
}

func TestHubPutVersionMustAdvance(t *testing.T) {
	s := testHub(t)
	ctx := context.Background()

	if _, _, _, err := s.Put(ctx, "artifacts", "story-001", 0, hubRecord("story-001", 3), "c1"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, _, _, err := s.Put(ctx, "artifacts", "story-001", 3, hubRecord("story-001", 2), "c2"); err == nil {
		t.Fatal("expected error pushing version 2 over version 3")
	}
}

func TestHubListSince(t *testing.T) {
	s := testHub(t)
	ctx := context.Background()

	_, _, _, _ = s.Put(ctx, "artifacts", "a", 0, hubRecord("a", 1), "c1")
	_, _, _, _ = s.Put(ctx, "artifacts", "b", 0, hubRecord("b", 1), "c2")

	records, ckpt, err := s.ListSince(ctx, "artifacts", 0)
	if err != nil {
		t.Fatalf("ListSince failed: %v", err)
	}
	if len(records) != 2 || ckpt != 2 {
		t.Fatalf("got %d records checkpoint %d, want 2/2", len(records), ckpt)
	}
	if records[0].ID != "a" || records[1].ID != "b" {
		t.Errorf("order = %s, %s", records[0].ID, records[1].ID)
	}

	// Incremental pull from the checkpoint sees only newer writes.
	_, _, _, _ = s.Put(ctx, "artifacts", "a", 1, hubRecord("a", 2), "c3")
	records, ckpt2, err := s.ListSince(ctx, "artifacts", ckpt)
	if err != nil {
		t.Fatalf("ListSince failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "a" || records[0].Version != 2 {
		t.Errorf("incremental records = %+v", records)
	}
	if ckpt2 <= ckpt {
		t.Errorf("checkpoint did not advance: %d -> %d", ckpt, ckpt2)
	}

	// Nothing new: empty list, checkpoint stays put.
	records, ckpt3, err := s.ListSince(ctx, "artifacts", ckpt2)
	if err != nil {
		t.Fatalf("ListSince failed: %v", err)
	}
	if len(records) != 0 || ckpt3 != ckpt2 {
		t.Errorf("quiet list = %d records checkpoint %d", len(records), ckpt3)
	}
}

// TestHubListSinceConcurrentWriter pulls incrementally while another
// connection is committing writes. Every committed record must show up
// in some pull; a checkpoint that runs ahead of the listed rows would
// skip records for good.
func TestHubListSinceConcurrentWriter(t *testing.T) {
	s := testHub(t)
	ctx := context.Background()
	const writes = 500

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < writes; i++ {
			id := fmt.Sprintf("story-%04d", i)
			if _, _, _, err := s.Put(ctx, "artifacts", id, 0, hubRecord(id, 1), "c-"+id); err != nil {
				t.Errorf("Put %s failed: %v", id, err)
				return
			}
		}
	}()

	seen := make(map[string]bool)
	var ckpt int64
	pull := func() {
		records, next, err := s.ListSince(ctx, "artifacts", ckpt)
		if err != nil {
			t.Fatalf("ListSince failed: %v", err)
		}
		for _, rec := range records {
			seen[rec.ID] = true
		}
		if next < ckpt {
			t.Fatalf("checkpoint went backwards: %d -> %d", ckpt, next)
		}
		ckpt = next
	}

	for writerDone := false; !writerDone; {
		select {
		case <-done:
			writerDone = true
		default:
		}
		pull()
	}
	pull()

	if len(seen) != writes {
		t.Fatalf("%d of %d records never returned by any pull", writes-len(seen), writes)
	}
}

func TestValidTable(t *testing.T) {
	s := testHub(t)
	ctx := context.Background()

	bad := []string{"", "bad name", `art"facts`, "tab;drop"}
	for _, table := range bad {
		if err := s.InitSchema(ctx, table); err == nil {
			t.Errorf("InitSchema accepted table %q", table)
		}
	}
}

// TestServerRoundTrip exercises the HTTP surface with the real client.
func TestServerRoundTrip(t *testing.T) {
	s := testHub(t)
	handler := NewHandler(s, ServerConfig{Token: "sekrit"})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx := context.Background()
	client := remote.NewClient(srv.URL, "artifacts", "sekrit", time.Second)

	v, err := client.Put(ctx, "story-001", 0, hubRecord("story-001", 1), "c1")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if v != 1 {
		t.Errorf("accepted version = %d, want 1", v)
	}

	got, err := client.Fetch(ctx, "story-001")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got.Version != 1 || got.Content != "# Story\n" {
		t.Errorf("fetched %+v", got)
	}

	// Conflicting write surfaces as a 409 carrying the current record.
	_, err = client.Put(ctx, "story-001", 0, hubRecord("story-001", 2), "c2")
	if !remote.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	records, ckpt, err := client.ListSince(ctx, 0)
	if err != nil {
		t.Fatalf("ListSince failed: %v", err)
	}
	if len(records) != 1 || ckpt != 1 {
		t.Errorf("list = %d records checkpoint %d", len(records), ckpt)
	}

	_, err = client.Fetch(ctx, "missing")
	if !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServerRejectsBadToken(t *testing.T) {
	s := testHub(t)
	srv := httptest.NewServer(NewHandler(s, ServerConfig{Token: "sekrit"}))
	defer srv.Close()

	client := remote.NewClient(srv.URL, "artifacts", "wrong", time.Second)
	_, err := client.Fetch(context.Background(), "story-001")
	if !remote.IsTransport(err) {
		t.Errorf("expected transport error for bad token, got %v", err)
	}
}

func TestServerRejectsMalformed(t *testing.T) {
	s := testHub(t)
	srv := httptest.NewServer(NewHandler(s, ServerConfig{Token: "sekrit"}))
	defer srv.Close()

	client := remote.NewClient(srv.URL, "artifacts", "sekrit", time.Second)
	bad := hubRecord("story-001", 1)
	bad.Author = ""
	_, err := client.Put(context.Background(), "story-001", 0, bad, "c1")
	if err == nil {
		t.Fatal("expected error for malformed record")
	}
	if remote.IsConflict(err) || remote.IsTransport(err) {
		t.Errorf("malformed record misclassified: %v", err)
	}
}
