// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ops

import (
	"context"
	"time"

	"github.com/ryansmccoy/spine-core-sub007/internal/dispatcher"
	"github.com/ryansmccoy/spine-core-sub007/internal/ledger"
	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// Context carries a caller identity and a dry_run flag alongside the
// standard context.Context (spec.md §4.14: "every operation takes a
// Context containing the connection, caller identity, and dry_run
// flag"). Spine's repositories already carry their own *sql.DB, injected
// at construction rather than threaded per call, so there is no
// connection field here — that part of the source's Context is simply
// how Go wires dependencies, not a value passed at the call site.
type Context struct {
	context.Context
	Caller string
	DryRun bool
}

// NewContext wraps ctx as an ops Context for caller on behalf of whom
// every subsequent operation acts.
func NewContext(ctx context.Context, caller string) Context {
	return Context{Context: ctx, Caller: caller}
}

// WithDryRun returns a copy of c with DryRun set.
func (c Context) WithDryRun(dryRun bool) Context {
	c.DryRun = dryRun
	return c
}

// RunStore is the slice of *internal/dispatcher.Dispatcher the ops layer
// wraps for run query/control operations.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*spine.RunRecord, error)
	ListRuns(ctx context.Context, f dispatcher.ListFilter) ([]*spine.RunRecord, error)
	Cancel(ctx context.Context, runID string) error
	Retry(ctx context.Context, runID string) (string, error)
}

// RunCounter is the slice of *internal/ledger.Ledger the ops layer needs
// to populate a Page's Total independent of its Limit/Offset.
type RunCounter interface {
	CountExecutions(ctx context.Context, f ledger.ListFilter) (int64, error)
}

// Facade is the Ops Layer of spec.md §4.14.
type Facade struct {
	runs    RunStore
	counter RunCounter
	now     func() time.Time
}

// New returns a Facade wrapping runs for query/control and counter for
// pagination totals.
func New(runs RunStore, counter RunCounter) *Facade {
	return &Facade{runs: runs, counter: counter, now: time.Now}
}

// GetRun fetches a single run by ID.
func (f *Facade) GetRun(ctx Context, runID string) Result[*spine.RunRecord] {
	start := f.now()
	run, err := f.runs.GetRun(ctx.Context, runID)
	if err != nil {
		return fail[*spine.RunRecord](classify(err), "get run "+runID, err, start)
	}
	return ok(run, start)
}

// ListRunsRequest is the typed Request for ListRuns.
type ListRunsRequest struct {
	Status      spine.Status
	Workflow    string
	ParentRunID string
	Limit       int
	Offset      int
}

func (r ListRunsRequest) toLedgerFilter() ledger.ListFilter {
	return ledger.ListFilter{Status: r.Status, Workflow: r.Workflow, ParentRunID: r.ParentRunID, Limit: r.Limit, Offset: r.Offset}
}

// ListRuns returns a page of runs matching req.
func (f *Facade) ListRuns(ctx Context, req ListRunsRequest) Result[Page[*spine.RunRecord]] {
	start := f.now()
	filter := req.toLedgerFilter()

	runs, err := f.runs.ListRuns(ctx.Context, filter)
	if err != nil {
		return fail[Page[*spine.RunRecord]](classify(err), "list runs", err, start)
	}

	total, err := f.counter.CountExecutions(ctx.Context, filter)
	if err != nil {
		// A page of results without a total is still useful; degrade
		// gracefully rather than failing the whole request.
		return okWithWarnings(newPage(runs, int64(len(runs)), req.Limit, req.Offset), start,
			"total count unavailable: "+err.Error())
	}
	return ok(newPage(runs, total, req.Limit, req.Offset), start)
}

// CancelRun cancels a run if it is in a cancellable state. Under DryRun
// it validates but performs no mutation, reporting what would happen.
func (f *Facade) CancelRun(ctx Context, runID string) Result[struct{}] {
	start := f.now()
	run, err := f.runs.GetRun(ctx.Context, runID)
	if err != nil {
		return fail[struct{}](classify(err), "cancel run "+runID, err, start)
	}
	if run.Status.Terminal() {
		return fail[struct{}](CodeNotCancellable, "run "+runID+" is already in a terminal state ("+string(run.Status)+")", nil, start)
	}

	if ctx.DryRun {
		return okWithWarnings(struct{}{}, start, "dry_run: run was not actually cancelled")
	}

	if err := f.runs.Cancel(ctx.Context, runID); err != nil {
		code := classify(err)
		if code == CodeConflict {
			code = CodeNotCancellable
		}
		return fail[struct{}](code, "cancel run "+runID, err, start)
	}
	return ok(struct{}{}, start)
}

// RetryRun submits a new run retrying a previously failed one. Under
// DryRun it validates but performs no submission.
func (f *Facade) RetryRun(ctx Context, runID string) Result[string] {
	start := f.now()
	source, err := f.runs.GetRun(ctx.Context, runID)
	if err != nil {
		return fail[string](classify(err), "retry run "+runID, err, start)
	}
	switch source.Status {
	case spine.StatusCompleted:
		return fail[string](CodeAlreadyComplete, "run "+runID+" already completed, nothing to retry", nil, start)
	case spine.StatusFailed:
		// only a failed run may be retried
	default:
		return fail[string](CodeConflict, "run "+runID+" is not in a retryable state ("+string(source.Status)+")", nil, start)
	}

	if ctx.DryRun {
		return okWithWarnings("", start, "dry_run: no retry submitted")
	}

	newRunID, err := f.runs.Retry(ctx.Context, runID)
	if err != nil {
		return fail[string](classify(err), "retry run "+runID, err, start)
	}
	return ok(newRunID, start)
}
