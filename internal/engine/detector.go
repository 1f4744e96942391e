package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/stagecraft/drift/internal/artifact"
	"github.com/stagecraft/drift/internal/remote"
	"github.com/stagecraft/drift/internal/store"
	"github.com/stagecraft/drift/internal/version"
)

// Classification pairs an artifact's sync class with the remote record it
// was computed against, so the resolver can act without a second fetch.
type Classification struct {
	Class  version.SyncClass
	Remote *artifact.Artifact // nil when the hub has no record
}

// Detector classifies artifacts against the remote hub.
//
// Classification depends only on the three version numbers (local, base,
// remote), never on content, so the same triple always yields the same
// class regardless of payload size or network timing.
type Detector struct {
	store  *store.Store
	remote remote.Adapter
}

// NewDetector creates a detector over the given store and adapter.
func NewDetector(s *store.Store, r remote.Adapter) *Detector {
	return &Detector{store: s, remote: r}
}

// Classify determines the sync class for one artifact id.
func (d *Detector) Classify(ctx context.Context, id string) (Classification, error) {
	local, err := d.store.Get(ctx, id)
	if err != nil {
		return Classification{}, fmt.Errorf("failed to load %s: %w", id, err)
	}
	return d.classifyLocal(ctx, local)
}

// classifyLocal classifies an already-loaded artifact, saving a store read.
func (d *Detector) classifyLocal(ctx context.Context, local *artifact.Artifact) (Classification, error) {
	rec, err := d.remote.Fetch(ctx, local.ID)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return Classification{}, err
	}

	var remoteVersion int64
	if rec != nil {
		remoteVersion = rec.Version
	}

	return Classification{
		Class:  version.Classify(local.Version, local.BaseVersion, remoteVersion),
		Remote: rec,
	}, nil
}

// ClassifyAll classifies a batch, requesting remote versions only for the
// given (locally dirty) set to minimize round-trips. A transport error on
// one artifact is recorded in its Classification slot as a nil entry and
// returned in the error map; the rest of the batch still classifies.
func (d *Detector) ClassifyAll(ctx context.Context, ids []string) (map[string]Classification, map[string]error) {
	classes := make(map[string]Classification, len(ids))
	errs := make(map[string]error)

	for _, id := range ids {
		c, err := d.Classify(ctx, id)
		if err != nil {
			errs[id] = err
			continue
		}
		classes[id] = c
	}
	return classes, errs
}
