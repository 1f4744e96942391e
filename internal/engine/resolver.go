package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/stagecraft/drift/internal/artifact"
)

// ErrManualRequired means no safe, lossless automatic rule applies to a
// divergence. Not an error condition for the sync batch: the artifact is
// reported pending and resolved later with an explicit choice.
var ErrManualRequired = errors.New("manual resolution required")

// Choice selects the winning side of a manual resolution.
type Choice int

const (
	// KeepLocal keeps the local payload and workflow state.
	KeepLocal Choice = iota
	// KeepRemote adopts the remote payload and workflow state.
	KeepRemote
	// Merged applies a caller-supplied merged payload.
	Merged
)

// String returns a human-readable name for the choice.
func (c Choice) String() string {
	switch c {
	case KeepLocal:
		return "keep-local"
	case KeepRemote:
		return "keep-remote"
	case Merged:
		return "merged"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of resolving one diverged artifact: a new
// artifact version strictly greater than both parents, and a synthetic
// history entry recording both parent versions for audit. The losing
// payload is retained in the entry delta, recoverable on demand.
type Resolution struct {
	Artifact *artifact.Artifact
	Entry    *artifact.HistoryEntry
}

// ResolveAuto applies the automatic resolution rule.
//
// The only safe, lossless case is a state-only divergence: both sides
// hold identical content but the workflow state advanced differently.
// Then the more-advanced lattice state wins. Any content divergence, an
// off-lattice state, or a one-sided deletion requires manual resolution.
func ResolveAuto(local, remote *artifact.Artifact, author string) (*Resolution, error) {
	if local.Deleted != remote.Deleted {
		return nil, ErrManualRequired
	}
	if local.Content != remote.Content {
		return nil, ErrManualRequired
	}
	if !artifact.Comparable(local.State, remote.State) {
		return nil, ErrManualRequired
	}

	resolved := local.Clone()
	resolved.State = artifact.MoreAdvanced(local.State, remote.State)
	finish(resolved, local, remote, author)

	entry := resolutionEntry(resolved, local, remote, author,
		fmt.Sprintf("auto-resolved state divergence: local %s, remote %s -> %s",
			local.State, remote.State, resolved.State))
	// Nothing is discarded in a state-only merge; record both states.
	entry.Delta = fmt.Sprintf("state: local=%s remote=%s chosen=%s",
		local.State, remote.State, resolved.State)

	return &Resolution{Artifact: resolved, Entry: entry}, nil
}

// ResolveManual applies an explicit keep-local, keep-remote, or merged
// decision. merged is only consulted for Choice Merged.
func ResolveManual(local, remote *artifact.Artifact, choice Choice, merged string, author string) (*Resolution, error) {
	var resolved *artifact.Artifact

	switch choice {
	case KeepLocal:
		resolved = local.Clone()
	case KeepRemote:
		resolved = remote.Clone()
		resolved.BaseVersion = local.BaseVersion
		resolved.Conflicted = false
	case Merged:
		if merged == "" {
			return nil, fmt.Errorf("merged payload is required for a merged resolution")
		}
		resolved = local.Clone()
		resolved.Content = merged
		if artifact.Comparable(local.State, remote.State) {
			resolved.State = artifact.MoreAdvanced(local.State, remote.State)
		}
	default:
		return nil, fmt.Errorf("unknown resolution choice %d", choice)
	}

	finish(resolved, local, remote, author)

	entry := resolutionEntry(resolved, local, remote, author,
		fmt.Sprintf("manually resolved divergence (%s)", choice))
	entry.Delta = discardedDelta(choice, local, remote)

	if err := resolved.Validate(); err != nil {
		return nil, fmt.Errorf("resolution produced an invalid artifact: %w", err)
	}
	return &Resolution{Artifact: resolved, Entry: entry}, nil
}

// finish stamps the resolved artifact with a version strictly greater
// than both parents, keeping history monotonic on both lineages.
func finish(resolved, local, remote *artifact.Artifact, author string) {
	v := local.Version
	if remote.Version > v {
		v = remote.Version
	}
	resolved.Version = v + 1
	resolved.Author = author
	resolved.LastModified = time.Now().UTC()
	resolved.Conflicted = false
}

func resolutionEntry(resolved, local, remote *artifact.Artifact, author, description string) *artifact.HistoryEntry {
	return &artifact.HistoryEntry{
		ArtifactID:   resolved.ID,
		ChangeID:     artifact.NewChangeID(),
		Version:      resolved.Version,
		Timestamp:    time.Now().UTC(),
		Author:       author,
		Description:  description,
		ParentLocal:  local.Version,
		ParentRemote: remote.Version,
	}
}

// discardedDelta preserves the non-chosen payload so resolution never
// silently discards the losing side.
func discardedDelta(choice Choice, local, remote *artifact.Artifact) string {
	switch choice {
	case KeepLocal:
		return fmt.Sprintf("discarded remote v%d by %s:\n%s",
			remote.Version, remote.Author, remote.Content)
	case KeepRemote:
		return fmt.Sprintf("discarded local v%d by %s:\n%s",
			local.Version, local.Author, local.Content)
	case Merged:
		return fmt.Sprintf("merged from local v%d by %s:\n%s\n--- and remote v%d by %s:\n%s",
			local.Version, local.Author, local.Content,
			remote.Version, remote.Author, remote.Content)
	default:
		return ""
	}
}
