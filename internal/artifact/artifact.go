// Package artifact provides the data structures for governance artifacts.
//
// An Artifact is the unit of synchronization: a versioned record (Plan,
// Story, Runbook, or Journey) with an opaque serialized body. Each accepted
// mutation appends an immutable HistoryEntry and bumps the artifact version.
package artifact

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of governance artifact.
type Type string

const (
	TypePlan    Type = "plan"
	TypeStory   Type = "story"
	TypeRunbook Type = "runbook"
	TypeJourney Type = "journey"
)

// Types lists all valid artifact types.
var Types = []Type{TypePlan, TypeStory, TypeRunbook, TypeJourney}

// Valid reports whether t is one of the known artifact types.
func (t Type) Valid() bool {
	switch t {
	case TypePlan, TypeStory, TypeRunbook, TypeJourney:
		return true
	}
	return false
}

// State is the workflow tag of an artifact. Git remains the system of
// record for final content; the state field is carried verbatim across
// sync and is never overwritten by automatic merge logic.
type State string

const (
	StateDraft     State = "DRAFT"
	StateCommitted State = "COMMITTED"
	StateAccepted  State = "ACCEPTED"
)

// stateRank orders the workflow lattice DRAFT -> COMMITTED -> ACCEPTED.
// States outside the lattice have rank -1 and are incomparable.
var stateRank = map[State]int{
	StateDraft:     0,
	StateCommitted: 1,
	StateAccepted:  2,
}

// Comparable reports whether both states sit on the workflow lattice,
// so that one can be said to be more advanced than the other.
func Comparable(a, b State) bool {
	_, aok := stateRank[a]
	_, bok := stateRank[b]
	return aok && bok
}

// MoreAdvanced returns the further-along of two lattice states.
// Both states must be Comparable; otherwise a is returned unchanged.
func MoreAdvanced(a, b State) State {
	ra, aok := stateRank[a]
	rb, bok := stateRank[b]
	if !aok || !bok {
		return a
	}
	if rb > ra {
		return b
	}
	return a
}

// Artifact represents a single governance record.
//
// Version is a strictly increasing integer, unique per artifact.
// BaseVersion is the version last known to be in sync with the remote hub,
// the three-way-merge reference point. BaseVersion is local bookkeeping and
// never crosses the wire.
type Artifact struct {
	ID      string `json:"id"`
	Type    Type   `json:"type"`
	Content string `json:"content"`
	State   State  `json:"state"`

	Version     int64 `json:"version"`
	BaseVersion int64 `json:"-"`

	// LastModified is author-observable and used for display and
	// tie-break heuristics only, never for correctness.
	LastModified time.Time `json:"last_modified"`
	Author       string    `json:"author"`

	// Deleted marks a tombstone. Deletion propagates through sync,
	// it is never a silent drop.
	Deleted bool `json:"deleted,omitempty"`

	// Conflicted marks an artifact awaiting manual resolution.
	// Local bookkeeping, not part of the wire contract.
	Conflicted bool `json:"-"`
}

// Dirty reports whether the artifact has local changes not yet confirmed
// by the remote hub.
func (a *Artifact) Dirty() bool {
	return a.Version > a.BaseVersion
}

// Validate checks the artifact envelope and its typed content body.
// A failure here is a MalformedArtifact condition: the artifact is
// skipped and reported, it never aborts a whole sync batch.
func (a *Artifact) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.ContainsAny(a.ID, " \t\n/") {
		return fmt.Errorf("id %q contains whitespace or path separators", a.ID)
	}
	if !a.Type.Valid() {
		return fmt.Errorf("unknown artifact type %q", a.Type)
	}
	if a.State == "" {
		return fmt.Errorf("state is required")
	}
	if a.Version < 1 {
		return fmt.Errorf("version must be >= 1 (got %d)", a.Version)
	}
	if a.BaseVersion > a.Version {
		return fmt.Errorf("base version %d exceeds version %d", a.BaseVersion, a.Version)
	}
	if a.Author == "" {
		return fmt.Errorf("author is required")
	}
	if !a.Deleted {
		if err := ValidateContent(a.Type, a.Content); err != nil {
			return fmt.Errorf("invalid %s content: %w", a.Type, err)
		}
	}
	return nil
}

// Clone returns a deep copy of the artifact.
func (a *Artifact) Clone() *Artifact {
	c := *a
	return &c
}

// HistoryEntry is an immutable append-only record of one artifact mutation.
//
// ChangeID values are globally unique and used to de-duplicate replayed
// operations: applying the same ChangeID twice must be a no-op.
type HistoryEntry struct {
	ArtifactID  string    `json:"artifact_id"`
	ChangeID    string    `json:"change_id"`
	Version     int64     `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
	Author      string    `json:"author"`
	Description string    `json:"description"`

	// Delta is a human-readable account of what changed. For a merge
	// resolution the delta retains the full losing payload so that the
	// discarded side stays recoverable on demand.
	Delta string `json:"delta,omitempty"`

	// ParentLocal and ParentRemote record both parent versions of a
	// resolution entry. Zero for ordinary edits; history stays a linear
	// chain and merge lineage is metadata, not graph edges.
	ParentLocal  int64 `json:"parent_local,omitempty"`
	ParentRemote int64 `json:"parent_remote,omitempty"`
}

// Validate checks the history entry fields.
func (e *HistoryEntry) Validate() error {
	if e.ArtifactID == "" {
		return fmt.Errorf("artifact_id is required")
	}
	if e.ChangeID == "" {
		return fmt.Errorf("change_id is required")
	}
	if e.Version < 1 {
		return fmt.Errorf("version must be >= 1 (got %d)", e.Version)
	}
	if e.Author == "" {
		return fmt.Errorf("author is required")
	}
	return nil
}

// NewChangeID returns a fresh globally unique change identifier.
// UUIDv7 is time-ordered, which keeps replay logs roughly chronological.
func NewChangeID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}
