package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/stagecraft/drift/internal/version"
)

// Outcome is the terminal state of one artifact within a sync invocation.
type Outcome string

const (
	// OutcomePushed means the artifact was accepted by the hub.
	OutcomePushed Outcome = "pushed"
	// OutcomeFastForwarded means the local store adopted the remote
	// version with no intervening local change.
	OutcomeFastForwarded Outcome = "fast-forwarded"
	// OutcomeResolved means a divergence was resolved automatically
	// (or via an explicit resolve) and committed.
	OutcomeResolved Outcome = "resolved"
	// OutcomePending means the artifact diverged and needs a manual
	// `drift sync resolve`. Not an error; a terminal state for this run.
	OutcomePending Outcome = "pending-manual"
	// OutcomeQueued means the hub was unreachable and the operation
	// was appended to the offline queue for later replay.
	OutcomeQueued Outcome = "queued"
	// OutcomeSkipped means the artifact was malformed or had nothing
	// to do; sync continued with the rest of the batch.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeUpToDate means no action was needed.
	OutcomeUpToDate Outcome = "up-to-date"
	// OutcomeFailed means an unexpected per-artifact error. The batch
	// continues; the failure is reported with a one-line cause.
	OutcomeFailed Outcome = "failed"
)

// Result is the per-artifact line of a sync report.
type Result struct {
	ID      string            `json:"id"`
	Class   version.SyncClass `json:"-"`
	Outcome Outcome           `json:"outcome"`
	Detail  string            `json:"detail,omitempty"`
}

// Report is the consolidated outcome of one push, pull, or drain.
type Report struct {
	Operation  string    `json:"operation"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Results    []Result  `json:"results"`
}

func newReport(operation string) *Report {
	return &Report{Operation: operation, StartedAt: time.Now()}
}

func (r *Report) add(id string, class version.SyncClass, outcome Outcome, detail string) {
	r.Results = append(r.Results, Result{ID: id, Class: class, Outcome: outcome, Detail: detail})
}

// Count returns how many artifacts ended in the given outcome.
func (r *Report) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// HasFailures reports whether any artifact ended Failed or pending manual
// resolution; the CLI maps this to exit code 1.
func (r *Report) HasFailures() bool {
	return r.Count(OutcomeFailed) > 0 || r.Count(OutcomePending) > 0
}

// Summary renders a one-line account of the report.
func (r *Report) Summary() string {
	parts := []string{}
	for _, o := range []Outcome{
		OutcomePushed, OutcomeFastForwarded, OutcomeResolved,
		OutcomePending, OutcomeQueued, OutcomeSkipped, OutcomeFailed,
	} {
		if n := r.Count(o); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, o))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s: nothing to do", r.Operation)
	}
	return fmt.Sprintf("%s: %s", r.Operation, strings.Join(parts, ", "))
}
