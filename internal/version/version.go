// Package version classifies per-artifact version lineages.
//
// The classification mirrors three-way-merge base tracking: each artifact
// carries a local version, a base version (the version last confirmed equal
// between local and remote), and the remote hub holds its own version.
// Comparing the three is enough to decide how the artifact synchronizes;
// content is never inspected, so the same triple always yields the same
// class regardless of payload size or network timing.
package version

// SyncClass is the synchronization state of one artifact.
type SyncClass int

const (
	// UpToDate means local and remote hold the same version.
	UpToDate SyncClass = iota
	// LocalAhead means only the local side changed since the base;
	// the artifact is safe to push.
	LocalAhead
	// RemoteAhead means only the remote side changed since the base;
	// the artifact is safe to fast-forward locally.
	RemoteAhead
	// Diverged means both sides changed since the last common point.
	Diverged
)

// String returns a human-readable name for the class.
func (c SyncClass) String() string {
	switch c {
	case UpToDate:
		return "up-to-date"
	case LocalAhead:
		return "local-ahead"
	case RemoteAhead:
		return "remote-ahead"
	case Diverged:
		return "diverged"
	default:
		return "unknown"
	}
}

// Classify determines the sync class from the three version numbers.
//
// A remote version of 0 means the artifact does not exist on the hub yet.
// The function is deterministic and side-effect-free.
func Classify(local, base, remote int64) SyncClass {
	if local == remote {
		return UpToDate
	}
	if base == remote && local > base {
		return LocalAhead
	}
	if base == local && remote > base {
		return RemoteAhead
	}
	return Diverged
}
