// Package engine implements the sync orchestrator for drift artifacts.
//
// A sync invocation moves through the phases
// Idle -> Scanning -> Classifying -> {Pushing | Pulling | Resolving} ->
// Reporting -> Idle. Atomicity is per artifact, not per invocation: a
// partial failure leaves already-synced artifacts committed and reports
// the remainder, safe to retry idempotently because every operation
// carries a stable change id the hub deduplicates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/stagecraft/drift/internal/artifact"
	"github.com/stagecraft/drift/internal/audit"
	"github.com/stagecraft/drift/internal/queue"
	"github.com/stagecraft/drift/internal/remote"
	"github.com/stagecraft/drift/internal/store"
	"github.com/stagecraft/drift/internal/version"
)

// Phase is the orchestrator's position in the sync state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhaseClassifying
	PhasePushing
	PhasePulling
	PhaseResolving
	PhaseReporting
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScanning:
		return "scanning"
	case PhaseClassifying:
		return "classifying"
	case PhasePushing:
		return "pushing"
	case PhasePulling:
		return "pulling"
	case PhaseResolving:
		return "resolving"
	case PhaseReporting:
		return "reporting"
	default:
		return "unknown"
	}
}

// Config wires an Orchestrator. All collaborators are explicit; the
// engine reads no ambient global state, which keeps tests deterministic
// with injected fakes for the remote adapter.
type Config struct {
	Store  *store.Store
	Remote remote.Adapter
	Queue  *queue.Queue

	// Author is the identity stamped on mutations this engine performs.
	Author string

	// Audit receives one record per operation. Defaults to audit.Nop.
	Audit audit.Logger

	// Logger for engine diagnostics. Defaults to stderr.
	Logger *log.Logger
}

// Orchestrator composes the store, detector, resolver, remote adapter,
// and offline queue into push, pull, status, resolve, and drain.
type Orchestrator struct {
	store    *store.Store
	remote   remote.Adapter
	queue    *queue.Queue
	detector *Detector
	audit    audit.Logger
	logger   *log.Logger
	author   string

	// changed accumulates artifact ids notified by the store since the
	// last push, catching writers that race the dirty scan.
	mu      sync.Mutex
	changed map[string]struct{}

	phase Phase
}

// New creates an Orchestrator from the config.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote adapter is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("offline queue is required")
	}
	if cfg.Author == "" {
		return nil, fmt.Errorf("author is required")
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	o := &Orchestrator{
		store:    cfg.Store,
		remote:   cfg.Remote,
		queue:    cfg.Queue,
		detector: NewDetector(cfg.Store, cfg.Remote),
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		author:   cfg.Author,
		changed:  make(map[string]struct{}),
	}
	cfg.Store.Subscribe(func(id string) {
		o.mu.Lock()
		o.changed[id] = struct{}{}
		o.mu.Unlock()
	})
	return o, nil
}

// takeChanged drains the ids accumulated from store notifications.
func (o *Orchestrator) takeChanged() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.changed))
	for id := range o.changed {
		ids = append(ids, id)
	}
	o.changed = make(map[string]struct{})
	sort.Strings(ids)
	return ids
}

// Phase returns the orchestrator's current phase.
func (o *Orchestrator) Phase() Phase {
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	if o.phase == p {
		return
	}
	o.phase = p
	o.logger.Printf("phase: %s", p)
}

// Push sends locally-ahead artifacts to the hub and routes diverged ones
// through the resolver. Diverged artifacts never gate unrelated artifacts
// in the same batch.
func (o *Orchestrator) Push(ctx context.Context) (*Report, error) {
	rep := newReport("push")
	defer o.setPhase(PhaseIdle)

	o.setPhase(PhaseScanning)
	dirty, err := o.store.Dirty(ctx)
	if err != nil {
		return rep, fmt.Errorf("failed to scan dirty artifacts: %w", err)
	}

	byID := make(map[string]*artifact.Artifact, len(dirty))
	ids := make([]string, 0, len(dirty))
	for _, a := range dirty {
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}
	// Writers that committed after the scan started were notified through
	// the store subscription; fold them into the same batch.
	for _, id := range o.takeChanged() {
		if _, ok := byID[id]; ok {
			continue
		}
		a, err := o.store.Get(ctx, id)
		if err != nil || !a.Dirty() {
			continue
		}
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}

	o.setPhase(PhaseClassifying)
	candidates := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := byID[id].Validate(); err != nil {
			rep.add(id, version.Diverged, OutcomeSkipped, "malformed: "+err.Error())
			o.emit("push", id, string(OutcomeSkipped))
			continue
		}
		candidates = append(candidates, id)
	}

	classes, classErrs := o.detector.ClassifyAll(ctx, candidates)
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		if err, ok := classErrs[id]; ok {
			if remote.IsTransport(err) {
				o.enqueuePush(ctx, rep, byID[id])
				continue
			}
			rep.add(id, version.Diverged, OutcomeFailed, err.Error())
			o.emit("push", id, string(OutcomeFailed))
			continue
		}

		o.setPhase(PhasePushing)
		o.pushOne(ctx, rep, byID[id], classes[id])
	}

	o.setPhase(PhaseReporting)
	o.logger.Printf("%s", rep.Summary())
	rep.FinishedAt = time.Now()
	return rep, nil
}

// pushOne advances a single classified artifact and records its outcome.
func (o *Orchestrator) pushOne(ctx context.Context, rep *Report, local *artifact.Artifact, cls Classification) Outcome {
	switch cls.Class {
	case version.UpToDate:
		// Local and remote agree but the base lagged (e.g. an earlier
		// crash between put and base update). Repair the base pointer.
		if local.BaseVersion != local.Version {
			if err := o.store.SetBaseVersion(ctx, local.ID, local.Version); err != nil {
				rep.add(local.ID, cls.Class, OutcomeFailed, err.Error())
				return OutcomeFailed
			}
		}
		rep.add(local.ID, cls.Class, OutcomeUpToDate, "")
		return OutcomeUpToDate

	case version.RemoteAhead:
		// Nothing local to push; a pull will fast-forward it.
		rep.add(local.ID, cls.Class, OutcomeSkipped, "remote ahead; run pull")
		return OutcomeSkipped

	case version.LocalAhead:
		changeID, err := o.headChangeID(ctx, local.ID)
		if err != nil {
			rep.add(local.ID, cls.Class, OutcomeFailed, err.Error())
			o.emit("push", local.ID, string(OutcomeFailed))
			return OutcomeFailed
		}

		_, err = o.remote.Put(ctx, local.ID, local.BaseVersion, local, changeID)
		switch {
		case err == nil:
			if err := o.store.SetBaseVersion(ctx, local.ID, local.Version); err != nil {
				rep.add(local.ID, cls.Class, OutcomeFailed, err.Error())
				return OutcomeFailed
			}
			rep.add(local.ID, cls.Class, OutcomePushed, "")
			o.emit("push", local.ID, string(OutcomePushed))
			return OutcomePushed

		case remote.IsTransport(err):
			o.enqueuePush(ctx, rep, local)
			return OutcomeQueued

		case remote.IsConflict(err):
			// The hub's CAS is the authoritative conflict signal:
			// somebody else advanced the record since our base.
			var conflict *remote.ConflictError
			errors.As(err, &conflict)
			return o.resolveDiverged(ctx, rep, "push", local, conflict.Current)

		default:
			rep.add(local.ID, cls.Class, OutcomeFailed, err.Error())
			o.emit("push", local.ID, string(OutcomeFailed))
			return OutcomeFailed
		}

	case version.Diverged:
		return o.resolveDiverged(ctx, rep, "push", local, cls.Remote)
	}

	rep.add(local.ID, cls.Class, OutcomeSkipped, "")
	return OutcomeSkipped
}

// resolveDiverged attempts automatic resolution of a divergence and, on
// success, commits the resolution locally and pushes it to the hub.
func (o *Orchestrator) resolveDiverged(ctx context.Context, rep *Report, op string, local, rec *artifact.Artifact) Outcome {
	o.setPhase(PhaseResolving)

	if rec == nil {
		rep.add(local.ID, version.Diverged, OutcomeFailed, "diverged but no remote record")
		return OutcomeFailed
	}

	res, err := ResolveAuto(local, rec, o.author)
	if errors.Is(err, ErrManualRequired) {
		if err := o.store.SetConflicted(ctx, local.ID, true); err != nil {
			rep.add(local.ID, version.Diverged, OutcomeFailed, err.Error())
			return OutcomeFailed
		}
		rep.add(local.ID, version.Diverged, OutcomePending, "run `drift sync resolve "+local.ID+"`")
		o.emit(op, local.ID, string(OutcomePending))
		return OutcomePending
	}
	if err != nil {
		rep.add(local.ID, version.Diverged, OutcomeFailed, err.Error())
		return OutcomeFailed
	}

	return o.commitResolution(ctx, rep, op, local, rec, res,
		func(fresh *artifact.Artifact) (*Resolution, error) {
			return ResolveAuto(fresh, rec, o.author)
		})
}

// commitResolution writes a resolution locally and then to the hub.
//
// A concurrent local writer between classification and the local write
// surfaces as a version conflict; the resolution is rebuilt once against
// the fresh record before giving up and reporting Pending.
func (o *Orchestrator) commitResolution(ctx context.Context, rep *Report, op string, local, rec *artifact.Artifact, res *Resolution, rebuild func(*artifact.Artifact) (*Resolution, error)) Outcome {
	for attempt := 0; ; attempt++ {
		res.Artifact.BaseVersion = local.BaseVersion
		_, err := o.store.Put(ctx, res.Artifact, res.Entry, local.Version)
		if err == nil {
			break
		}
		if !store.IsVersionConflict(err) {
			rep.add(local.ID, version.Diverged, OutcomeFailed, err.Error())
			return OutcomeFailed
		}
		if attempt == 0 && rebuild != nil {
			fresh, gerr := o.store.Get(ctx, local.ID)
			if gerr == nil {
				if next, rerr := rebuild(fresh); rerr == nil {
					local, res = fresh, next
					continue
				}
			}
		}
		rep.add(local.ID, version.Diverged, OutcomePending, "local store moved during resolution; re-run sync")
		return OutcomePending
	}

	_, err := o.remote.Put(ctx, local.ID, rec.Version, res.Artifact, res.Entry.ChangeID)
	switch {
	case err == nil:
		if err := o.store.SetBaseVersion(ctx, local.ID, res.Artifact.Version); err != nil {
			rep.add(local.ID, version.Diverged, OutcomeFailed, err.Error())
			return OutcomeFailed
		}
		rep.add(local.ID, version.Diverged, OutcomeResolved, "")
		o.emit(op, local.ID, string(OutcomeResolved))
		return OutcomeResolved

	case remote.IsTransport(err):
		o.enqueuePush(ctx, rep, res.Artifact)
		return OutcomeQueued

	case remote.IsConflict(err):
		// The hub moved again mid-resolution. The resolution is
		// committed locally; the next sync reclassifies it.
		rep.add(local.ID, version.Diverged, OutcomePending, "hub moved during resolution; re-run sync")
		o.emit(op, local.ID, string(OutcomePending))
		return OutcomePending

	default:
		rep.add(local.ID, version.Diverged, OutcomeFailed, err.Error())
		return OutcomeFailed
	}
}

// Pull fetches remote changes since the stored checkpoint, fast-forwards
// clean artifacts (preserving the local workflow state verbatim), routes
// diverged ones through the resolver, and advances the checkpoint.
func (o *Orchestrator) Pull(ctx context.Context) (*Report, error) {
	rep := newReport("pull")
	defer o.setPhase(PhaseIdle)

	o.setPhase(PhaseScanning)
	checkpoint, err := o.store.Checkpoint(ctx)
	if err != nil {
		return rep, err
	}

	o.setPhase(PhaseClassifying)
	records, next, err := o.remote.ListSince(ctx, checkpoint)
	if err != nil {
		if remote.IsTransport(err) {
			o.enqueuePull(ctx, rep, checkpoint)
			rep.FinishedAt = time.Now()
			return rep, nil
		}
		return rep, fmt.Errorf("failed to list remote changes: %w", err)
	}

	o.setPhase(PhasePulling)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		o.pullOne(ctx, rep, rec)
	}

	o.setPhase(PhaseReporting)
	if err := o.store.SetCheckpoint(ctx, next); err != nil {
		return rep, err
	}
	o.logger.Printf("%s", rep.Summary())
	rep.FinishedAt = time.Now()
	return rep, nil
}

// pullOne merges a single remote record into the local store.
func (o *Orchestrator) pullOne(ctx context.Context, rep *Report, rec *artifact.Artifact) Outcome {
	if err := rec.Validate(); err != nil {
		rep.add(rec.ID, version.RemoteAhead, OutcomeSkipped, "malformed remote record: "+err.Error())
		o.emit("pull", rec.ID, string(OutcomeSkipped))
		return OutcomeSkipped
	}

	// Retry once on a local CAS race with a concurrent CLI process.
	for attempt := 0; ; attempt++ {
		local, err := o.store.Get(ctx, rec.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			rep.add(rec.ID, version.RemoteAhead, OutcomeFailed, err.Error())
			return OutcomeFailed
		}

		var localVersion, baseVersion int64
		if local != nil {
			localVersion = local.Version
			baseVersion = local.BaseVersion
		}

		cls := version.Classify(localVersion, baseVersion, rec.Version)
		var outcome Outcome
		var ffErr error

		switch cls {
		case version.UpToDate:
			if local != nil && local.BaseVersion != local.Version {
				if err := o.store.SetBaseVersion(ctx, rec.ID, local.Version); err != nil {
					rep.add(rec.ID, cls, OutcomeFailed, err.Error())
					return OutcomeFailed
				}
			}
			rep.add(rec.ID, cls, OutcomeUpToDate, "")
			return OutcomeUpToDate

		case version.LocalAhead:
			// Our own earlier push echoing back through list_since.
			rep.add(rec.ID, cls, OutcomeSkipped, "local ahead; push pending")
			return OutcomeSkipped

		case version.RemoteAhead:
			outcome, ffErr = o.fastForward(ctx, rep, local, rec)
			if ffErr != nil && store.IsVersionConflict(ffErr) && attempt == 0 {
				continue // somebody wrote locally between Get and Put
			}
			if ffErr != nil {
				rep.add(rec.ID, cls, OutcomeFailed, ffErr.Error())
				return OutcomeFailed
			}
			return outcome

		case version.Diverged:
			return o.resolveDivergedPull(ctx, rep, local, rec)
		}
		return OutcomeSkipped
	}
}

// fastForward applies a remote update with no intervening local change.
//
// The local workflow state is preserved verbatim: sync never regresses a
// state the developer set. The remote state is adopted only when it is a
// forward move on the workflow lattice.
func (o *Orchestrator) fastForward(ctx context.Context, rep *Report, local *artifact.Artifact, rec *artifact.Artifact) (Outcome, error) {
	next := rec.Clone()
	next.BaseVersion = rec.Version
	next.Conflicted = false

	var expected int64
	description := "created from hub"
	if local != nil {
		expected = local.Version
		description = fmt.Sprintf("fast-forward from hub (v%d -> v%d)", local.Version, rec.Version)
		if !rec.Deleted && artifact.Comparable(local.State, rec.State) {
			next.State = artifact.MoreAdvanced(local.State, rec.State)
		} else if !rec.Deleted && !artifact.Comparable(local.State, rec.State) {
			next.State = local.State
		}
	}

	entry := &artifact.HistoryEntry{
		ArtifactID: rec.ID,
		// Deterministic change id: pulling the same remote version
		// twice must not create a second history entry.
		ChangeID:    fmt.Sprintf("ff-%s-v%d", rec.ID, rec.Version),
		Version:     rec.Version,
		Timestamp:   time.Now().UTC(),
		Author:      rec.Author,
		Description: description,
	}

	if _, err := o.store.Put(ctx, next, entry, expected); err != nil {
		return OutcomeFailed, err
	}

	rep.add(rec.ID, version.RemoteAhead, OutcomeFastForwarded, "")
	o.emit("pull", rec.ID, string(OutcomeFastForwarded))
	return OutcomeFastForwarded, nil
}

// resolveDivergedPull resolves a divergence found during pull. The
// resolution commits locally; the resolved version reaches the hub on
// the next push (the artifact stays classified LocalAhead until then).
func (o *Orchestrator) resolveDivergedPull(ctx context.Context, rep *Report, local, rec *artifact.Artifact) Outcome {
	o.setPhase(PhaseResolving)

	res, err := ResolveAuto(local, rec, o.author)
	if errors.Is(err, ErrManualRequired) {
		if err := o.store.SetConflicted(ctx, local.ID, true); err != nil {
			rep.add(local.ID, version.Diverged, OutcomeFailed, err.Error())
			return OutcomeFailed
		}
		rep.add(local.ID, version.Diverged, OutcomePending, "run `drift sync resolve "+local.ID+"`")
		o.emit("pull", local.ID, string(OutcomePending))
		return OutcomePending
	}
	if err != nil {
		rep.add(local.ID, version.Diverged, OutcomeFailed, err.Error())
		return OutcomeFailed
	}

	// After the resolution, the remote record's version is incorporated:
	// it becomes the new common point.
	res.Artifact.BaseVersion = rec.Version
	if _, err := o.store.Put(ctx, res.Artifact, res.Entry, local.Version); err != nil {
		rep.add(local.ID, version.Diverged, OutcomeFailed, err.Error())
		return OutcomeFailed
	}

	rep.add(local.ID, version.Diverged, OutcomeResolved, "resolved locally; push to publish")
	o.emit("pull", local.ID, string(OutcomeResolved))
	return OutcomeResolved
}

// StatusRow is one line of the read-only status table.
type StatusRow struct {
	ID            string            `json:"id"`
	Type          artifact.Type     `json:"type"`
	Class         version.SyncClass `json:"-"`
	ClassName     string            `json:"class"`
	LocalVersion  int64             `json:"local_version"`
	BaseVersion   int64             `json:"base_version"`
	RemoteVersion int64             `json:"remote_version"`
	Conflicted    bool              `json:"conflicted,omitempty"`
	Err           string            `json:"error,omitempty"`
}

// NeedsResolve reports whether the row is diverged or flagged conflicted,
// i.e. sync cannot proceed for it without a resolution.
func (r StatusRow) NeedsResolve() bool {
	return r.Class == version.Diverged || r.Conflicted
}

// Status classifies every local artifact without mutating either store.
func (o *Orchestrator) Status(ctx context.Context) ([]StatusRow, error) {
	o.setPhase(PhaseScanning)
	defer o.setPhase(PhaseIdle)

	artifacts, err := o.store.List(ctx, "")
	if err != nil {
		return nil, err
	}

	o.setPhase(PhaseClassifying)
	rows := make([]StatusRow, 0, len(artifacts))
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return rows, err
		}

		row := StatusRow{
			ID:           a.ID,
			Type:         a.Type,
			LocalVersion: a.Version,
			BaseVersion:  a.BaseVersion,
			Conflicted:   a.Conflicted,
		}

		cls, err := o.detector.classifyLocal(ctx, a)
		if err != nil {
			row.Err = err.Error()
			row.ClassName = "unknown"
		} else {
			row.Class = cls.Class
			row.ClassName = cls.Class.String()
			if cls.Remote != nil {
				row.RemoteVersion = cls.Remote.Version
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Resolve applies a manual resolution decision to one artifact.
func (o *Orchestrator) Resolve(ctx context.Context, id string, choice Choice, merged string) (*Report, error) {
	rep := newReport("resolve")
	defer o.setPhase(PhaseIdle)

	o.setPhase(PhaseClassifying)
	local, err := o.store.Get(ctx, id)
	if err != nil {
		return rep, fmt.Errorf("failed to load %s: %w", id, err)
	}

	cls, err := o.detector.classifyLocal(ctx, local)
	if err != nil {
		return rep, fmt.Errorf("failed to classify %s: %w", id, err)
	}
	if cls.Class != version.Diverged && !local.Conflicted {
		return rep, fmt.Errorf("%s is %s, not diverged: nothing to resolve", id, cls.Class)
	}
	if cls.Remote == nil {
		return rep, fmt.Errorf("%s has no remote record to resolve against", id)
	}

	o.setPhase(PhaseResolving)
	res, err := ResolveManual(local, cls.Remote, choice, merged, o.author)
	if err != nil {
		return rep, err
	}

	o.commitResolution(ctx, rep, "resolve", local, cls.Remote, res,
		func(fresh *artifact.Artifact) (*Resolution, error) {
			return ResolveManual(fresh, cls.Remote, choice, merged, o.author)
		})

	o.setPhase(PhaseReporting)
	rep.FinishedAt = time.Now()
	return rep, nil
}

// Drain replays queued operations in original order. Replay stops at the
// first operation that still cannot reach the hub, preserving order for
// the next attempt. A replay that now conflicts is reclassified and
// handled by the normal resolver path rather than blindly overwritten.
func (o *Orchestrator) Drain(ctx context.Context) (*Report, error) {
	rep := newReport("drain")
	defer o.setPhase(PhaseIdle)

	o.setPhase(PhaseScanning)
	ops, err := o.queue.Pending(ctx)
	if err != nil {
		return rep, err
	}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		if op.Kind == "pull" {
			pullRep, err := o.Pull(ctx)
			if err != nil {
				return rep, err
			}
			rep.Results = append(rep.Results, pullRep.Results...)
			if pullRep.Count(OutcomeQueued) > 0 {
				// Still offline; keep the rest of the queue intact.
				return rep, nil
			}
			if err := o.queue.Remove(ctx, op.ChangeID); err != nil {
				return rep, err
			}
			continue
		}

		local, err := o.store.Get(ctx, op.ArtifactID)
		if errors.Is(err, store.ErrNotFound) {
			// Artifact vanished since enqueueing; nothing to replay.
			if err := o.queue.Remove(ctx, op.ChangeID); err != nil {
				return rep, err
			}
			continue
		}
		if err != nil {
			return rep, err
		}

		cls, err := o.detector.classifyLocal(ctx, local)
		if err != nil {
			if remote.IsTransport(err) {
				rep.add(local.ID, version.Diverged, OutcomeQueued, "hub still unreachable")
				return rep, nil
			}
			rep.add(local.ID, version.Diverged, OutcomeFailed, err.Error())
			continue
		}

		outcome := o.pushOne(ctx, rep, local, cls)
		if outcome == OutcomeQueued {
			// enqueuePush deduplicates on change id, so the entry
			// keeps its original queue position.
			return rep, nil
		}
		if err := o.queue.Remove(ctx, op.ChangeID); err != nil {
			return rep, err
		}
		o.emit("drain", local.ID, string(outcome))
	}

	o.setPhase(PhaseReporting)
	rep.FinishedAt = time.Now()
	return rep, nil
}

// enqueuePush appends a push operation for later replay.
func (o *Orchestrator) enqueuePush(ctx context.Context, rep *Report, a *artifact.Artifact) {
	changeID, err := o.headChangeID(ctx, a.ID)
	if err != nil {
		rep.add(a.ID, version.LocalAhead, OutcomeFailed, err.Error())
		return
	}
	err = o.queue.Enqueue(ctx, queue.Op{
		ChangeID:   changeID,
		ArtifactID: a.ID,
		Kind:       "push",
	})
	if err != nil {
		rep.add(a.ID, version.LocalAhead, OutcomeFailed, "failed to queue: "+err.Error())
		return
	}
	rep.add(a.ID, version.LocalAhead, OutcomeQueued, "hub unreachable")
	o.emit("push", a.ID, string(OutcomeQueued))
}

// enqueuePull records that an incremental pull could not reach the hub.
// The change id is derived from the checkpoint so repeated failures
// collapse into one queue entry.
func (o *Orchestrator) enqueuePull(ctx context.Context, rep *Report, checkpoint int64) {
	err := o.queue.Enqueue(ctx, queue.Op{
		ChangeID:   fmt.Sprintf("pull-ckpt-%d", checkpoint),
		ArtifactID: "*",
		Kind:       "pull",
	})
	if err != nil {
		rep.add("*", version.RemoteAhead, OutcomeFailed, "failed to queue pull: "+err.Error())
		return
	}
	rep.add("*", version.RemoteAhead, OutcomeQueued, "hub unreachable; pull queued")
	o.emit("pull", "*", string(OutcomeQueued))
}

// headChangeID returns the change id of the artifact's newest history
// entry. Pushes reuse it so the hub can deduplicate retries.
func (o *Orchestrator) headChangeID(ctx context.Context, id string) (string, error) {
	entries, err := o.store.History(ctx, id)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("artifact %s has no history", id)
	}
	return entries[len(entries)-1].ChangeID, nil
}

// emit writes one audit record; audit failures are logged, never fatal.
func (o *Orchestrator) emit(operation, artifactID, outcome string) {
	err := o.audit.Log(audit.Record{
		Timestamp:  time.Now().UTC(),
		Author:     o.author,
		ArtifactID: artifactID,
		Operation:  operation,
		Outcome:    outcome,
	})
	if err != nil {
		o.logger.Printf("Warning: failed to write audit record: %v", err)
	}
}
