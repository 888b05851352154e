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

// Package dispatcher implements the central submission path of spec.md
// §4.6: validate a WorkSpec, check idempotency, persist a RunRecord,
// hand it to an Executor, and expose the query/control surface
// (get_run, list_runs, get_events, get_children, cancel, retry) that
// every external caller (API, CLI, MCP, Scheduler) goes through.
//
// Dispatcher implements executor.Reporter so each Executor can persist
// transitions back through it without importing internal/ledger itself
// (spec.md §9's Runnable-interface pattern for breaking cross-module
// cycles between the execution layer and the orchestration layer).
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryansmccoy/spine-core-sub007/internal/errs"
	"github.com/ryansmccoy/spine-core-sub007/internal/executor"
	"github.com/ryansmccoy/spine-core-sub007/internal/ledger"
	"github.com/ryansmccoy/spine-core-sub007/internal/metrics"
	"github.com/ryansmccoy/spine-core-sub007/internal/registry"
	"github.com/ryansmccoy/spine-core-sub007/internal/tracing"
	"github.com/ryansmccoy/spine-core-sub007/pkg/observability"
	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// ListFilter is an alias of internal/ledger.ListFilter: the dispatcher's
// query surface passes filters straight through to the ledger, so there
// is no separate dispatcher-level filter type to keep in sync.
type ListFilter = ledger.ListFilter

// Store is the narrow ledger surface the dispatcher needs: execution
// CRUD plus event recording. Declared here (rather than depending on
// *ledger.Ledger directly) so the dispatcher can be driven by a fake in
// tests; *ledger.Ledger satisfies this interface as-is.
type Store interface {
	CreateExecution(ctx context.Context, r *spine.RunRecord) error
	GetExecution(ctx context.Context, runID string) (*spine.RunRecord, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*spine.RunRecord, error)
	UpdateStatus(ctx context.Context, next *spine.RunRecord, from ...spine.Status) error
	RecordEvent(ctx context.Context, runID string, eventType spine.EventType, payload map[string]any, now time.Time) (spine.Event, error)
	ListExecutions(ctx context.Context, f ListFilter) ([]*spine.RunRecord, error)
	GetEvents(ctx context.Context, runID string) ([]spine.Event, error)
	GetChildren(ctx context.Context, runID string) ([]*spine.RunRecord, error)
}

// Publisher is the narrow slice of internal/events.Bus the dispatcher
// uses to announce lifecycle transitions. A nil Publisher is valid: event
// publication is then skipped entirely.
type Publisher interface {
	Publish(event spine.Event)
}

// Dispatcher is the central submission path of spec.md §4.6.
type Dispatcher struct {
	store     Store
	registry  *registryAdapter
	executors map[ExecutorKind]executor.Executor
	publisher Publisher
	tracer    observability.Tracer
	now       func() time.Time

	spanMu sync.Mutex
	spans  map[string]observability.SpanHandle
}

// WithTracer attaches a Tracer and returns the same Dispatcher, for
// chaining onto New. Submit opens a run-level span that stays open across
// the run's lifetime and is closed by whichever of Completed/Failed
// transitions the run to a terminal state (spec.md §4.6). A nil tracer
// (the default) leaves submissions untraced.
func (d *Dispatcher) WithTracer(t observability.Tracer) *Dispatcher {
	d.tracer = t
	return d
}

func (d *Dispatcher) startRunSpan(ctx context.Context, runID string, spec spine.WorkSpec) context.Context {
	if d.tracer == nil {
		return ctx
	}
	ctx, span := tracing.StartRun(ctx, d.tracer, runID, string(spec.Kind), spec.Name)
	d.spanMu.Lock()
	d.spans[runID] = span
	d.spanMu.Unlock()
	return ctx
}

func (d *Dispatcher) endRunSpan(runID string, cause error) {
	if d.tracer == nil {
		return
	}
	d.spanMu.Lock()
	span, ok := d.spans[runID]
	if ok {
		delete(d.spans, runID)
	}
	d.spanMu.Unlock()
	if ok {
		tracing.EndWithResult(span, cause)
	}
}

// ExecutorKind selects which Executor handles a given submission.
// Every submission defaults to ExecutorInMemory; a submission of any kind
// may be routed to another registered executor (the thread pool or a
// remote adapter) via WorkSpec.Metadata["executor"].
type ExecutorKind string

const (
	ExecutorInMemory   ExecutorKind = "in_memory"
	ExecutorThreadPool ExecutorKind = "thread_pool"
	ExecutorRemote     ExecutorKind = "remote"
)

// registryAdapter lets callers hand the dispatcher either a
// *registry.Registry directly or any type satisfying RegistryLike.
type registryAdapter struct {
	get func(kind spine.Kind, name string) (registry.Handler, error)
	has func(kind spine.Kind, name string) bool
}

// RegistryLike is satisfied by *registry.Registry.
type RegistryLike interface {
	Get(kind spine.Kind, name string) (registry.Handler, error)
	Has(kind spine.Kind, name string) bool
}

// New returns a Dispatcher wired to store for persistence, reg for
// handler lookup, and executors for each supported kind. At minimum
// ExecutorInMemory must be present; New panics if it is missing, since
// every workflow/step submission depends on it being available as the
// synchronous fallback.
func New(store Store, reg RegistryLike, executors map[ExecutorKind]executor.Executor, publisher Publisher) *Dispatcher {
	if _, ok := executors[ExecutorInMemory]; !ok {
		panic("dispatcher: an in-memory executor is required")
	}
	return &Dispatcher{
		store: store,
		registry: &registryAdapter{
			get: reg.Get,
			has: reg.Has,
		},
		executors: executors,
		publisher: publisher,
		now:       time.Now,
		spans:     make(map[string]observability.SpanHandle),
	}
}

func (d *Dispatcher) publish(ev spine.Event) {
	if d.publisher != nil {
		d.publisher.Publish(ev)
	}
}

func (d *Dispatcher) executorFor(spec spine.WorkSpec) executor.Executor {
	if name, ok := spec.Metadata["executor"].(string); ok {
		if e, ok := d.executors[ExecutorKind(name)]; ok {
			return e
		}
	}
	return d.executors[ExecutorInMemory]
}

// Submit implements spec.md §4.6's six-step submission path.
func (d *Dispatcher) Submit(ctx context.Context, spec spine.WorkSpec) (string, error) {
	if !d.registry.has(spec.Kind, spec.Name) {
		metrics.RecordSubmissionRejection(string(spec.Kind), spec.Name, "unregistered")
		return "", errs.New(errs.CategoryValidation, "dispatcher.Submit",
			"no handler registered for kind="+string(spec.Kind)+" name="+spec.Name)
	}

	if spec.IdempotencyKey != "" {
		existing, err := d.store.GetByIdempotencyKey(ctx, spec.IdempotencyKey)
		if err == nil {
			return existing.RunID, nil
		}
	}

	runID := uuid.NewString()
	now := d.now()
	record := spine.NewRunRecord(runID, spec, now)
	ctx = d.startRunSpan(ctx, runID, spec)

	if err := d.store.CreateExecution(ctx, record); err != nil {
		d.endRunSpan(runID, err)
		return "", err
	}
	ev, err := d.store.RecordEvent(ctx, runID, spine.EventCreated, map[string]any{"kind": string(spec.Kind), "name": spec.Name}, now)
	if err == nil {
		d.publish(ev)
	}

	handler, err := d.registry.get(spec.Kind, spec.Name)
	if err != nil {
		return "", d.failSubmission(ctx, record, err)
	}

	exec := d.executorFor(spec)
	if _, err := exec.Submit(ctx, runID, spec, executor.Handler(handler), d); err != nil {
		metrics.RecordSubmissionRejection(string(spec.Kind), spec.Name, "executor_rejected")
		return "", d.failSubmission(ctx, record, err)
	}
	metrics.RecordSubmission(string(spec.Kind), spec.Name)
	return runID, nil
}

// failSubmission marks record failed when the executor itself rejects
// the submission (spec.md §4.6 step 5), distinct from a handler failure
// reported later via Failed.
func (d *Dispatcher) failSubmission(ctx context.Context, record *spine.RunRecord, cause error) error {
	failed, terr := record.Transition(spine.StatusFailed, d.now())
	if terr != nil {
		return terr
	}
	failed.Error = cause.Error()
	failed.ErrorCategory = string(errs.CategoryOf(cause))
	if uerr := d.store.UpdateStatus(ctx, failed, record.Status); uerr != nil {
		return uerr
	}
	if ev, err := d.store.RecordEvent(ctx, record.RunID, spine.EventFailed, map[string]any{"error": cause.Error()}, d.now()); err == nil {
		d.publish(ev)
	}
	d.endRunSpan(record.RunID, cause)
	return cause
}

// Convenience submission methods (spec.md §4.6).

func (d *Dispatcher) SubmitTask(ctx context.Context, name string, params map[string]any, opts ...SubmitOption) (string, error) {
	return d.Submit(ctx, applyOptions(spine.WorkSpec{Kind: spine.KindTask, Name: name, Params: params}, opts))
}

func (d *Dispatcher) SubmitPipeline(ctx context.Context, name string, params map[string]any, opts ...SubmitOption) (string, error) {
	return d.Submit(ctx, applyOptions(spine.WorkSpec{Kind: spine.KindPipeline, Name: name, Params: params}, opts))
}

func (d *Dispatcher) SubmitWorkflow(ctx context.Context, name string, params map[string]any, opts ...SubmitOption) (string, error) {
	return d.Submit(ctx, applyOptions(spine.WorkSpec{Kind: spine.KindWorkflow, Name: name, Params: params}, opts))
}

func (d *Dispatcher) SubmitStep(ctx context.Context, name string, params map[string]any, opts ...SubmitOption) (string, error) {
	return d.Submit(ctx, applyOptions(spine.WorkSpec{Kind: spine.KindStep, Name: name, Params: params}, opts))
}

// SubmitOption customizes a convenience-method submission.
type SubmitOption func(*spine.WorkSpec)

func WithIdempotencyKey(key string) SubmitOption {
	return func(s *spine.WorkSpec) { s.IdempotencyKey = key }
}

func WithParentRunID(id string) SubmitOption {
	return func(s *spine.WorkSpec) { s.ParentRunID = id }
}

func WithTriggerSource(src spine.TriggerSource) SubmitOption {
	return func(s *spine.WorkSpec) { s.TriggerSource = src }
}

func WithMetadata(meta map[string]any) SubmitOption {
	return func(s *spine.WorkSpec) { s.Metadata = meta }
}

func applyOptions(spec spine.WorkSpec, opts []SubmitOption) spine.WorkSpec {
	for _, opt := range opts {
		opt(&spec)
	}
	return spec
}

// Query methods.

func (d *Dispatcher) GetRun(ctx context.Context, runID string) (*spine.RunRecord, error) {
	return d.store.GetExecution(ctx, runID)
}

func (d *Dispatcher) ListRuns(ctx context.Context, f ListFilter) ([]*spine.RunRecord, error) {
	return d.store.ListExecutions(ctx, f)
}

func (d *Dispatcher) GetEvents(ctx context.Context, runID string) ([]spine.Event, error) {
	return d.store.GetEvents(ctx, runID)
}

func (d *Dispatcher) GetChildren(ctx context.Context, runID string) ([]*spine.RunRecord, error) {
	return d.store.GetChildren(ctx, runID)
}

// Control methods.

// Cancel transitions runID to cancelled if it is in a cancellable state
// (pending, queued, or running), and asks the owning executor to signal
// the underlying goroutine/adapter.
func (d *Dispatcher) Cancel(ctx context.Context, runID string) error {
	record, err := d.store.GetExecution(ctx, runID)
	if err != nil {
		return err
	}
	next, err := record.Transition(spine.StatusCancelled, d.now())
	if err != nil {
		return err
	}
	if err := d.store.UpdateStatus(ctx, next, record.Status); err != nil {
		return err
	}
	if ev, err := d.store.RecordEvent(ctx, runID, spine.EventCancelled, nil, d.now()); err == nil {
		d.publish(ev)
	}
	d.endRunSpan(runID, errs.New(errs.CategoryValidation, "dispatcher.Cancel", "run cancelled"))

	exec := d.executorFor(record.Spec)
	_, _ = exec.Cancel(ctx, record.ExternalRef)
	return nil
}

// Retry implements spec.md §4.6's retry semantics: the source run must be
// failed; a brand-new run is created with attempt incremented and
// retry_of_run_id set, and the original run is never mutated.
func (d *Dispatcher) Retry(ctx context.Context, runID string) (string, error) {
	source, err := d.store.GetExecution(ctx, runID)
	if err != nil {
		return "", err
	}
	newRunID := uuid.NewString()
	next, err := source.Retry(newRunID, d.now())
	if err != nil {
		return "", err
	}
	ctx = d.startRunSpan(ctx, newRunID, next.Spec)

	if err := d.store.CreateExecution(ctx, next); err != nil {
		d.endRunSpan(newRunID, err)
		return "", err
	}
	if ev, err := d.store.RecordEvent(ctx, newRunID, spine.EventRetryScheduled, map[string]any{"retry_of_run_id": runID}, d.now()); err == nil {
		d.publish(ev)
	}

	handler, err := d.registry.get(next.Spec.Kind, next.Spec.Name)
	if err != nil {
		return "", d.failSubmission(ctx, next, err)
	}
	exec := d.executorFor(next.Spec)
	if _, err := exec.Submit(ctx, newRunID, next.Spec, executor.Handler(handler), d); err != nil {
		return "", d.failSubmission(ctx, next, err)
	}
	return newRunID, nil
}

// Running, Completed, and Failed implement executor.Reporter: every
// Executor calls these to persist its transitions, so the dispatcher
// (not the executor) owns the conditional-UPDATE state-machine
// discipline of spec.md §4.3.

func (d *Dispatcher) Running(ctx context.Context, runID string) error {
	record, err := d.store.GetExecution(ctx, runID)
	if err != nil {
		return err
	}
	if record.Status == spine.StatusRunning {
		return nil
	}
	next, err := record.Transition(spine.StatusRunning, d.now())
	if err != nil {
		return err
	}
	if err := d.store.UpdateStatus(ctx, next, record.Status); err != nil {
		return err
	}
	if ev, err := d.store.RecordEvent(ctx, runID, spine.EventStarted, nil, d.now()); err == nil {
		d.publish(ev)
	}
	return nil
}

func (d *Dispatcher) Completed(ctx context.Context, runID string, result map[string]any) error {
	record, err := d.store.GetExecution(ctx, runID)
	if err != nil {
		return err
	}
	next, err := record.WithResult(result, d.now())
	if err != nil {
		return err
	}
	if err := d.store.UpdateStatus(ctx, next, record.Status); err != nil {
		return err
	}
	if ev, err := d.store.RecordEvent(ctx, runID, spine.EventCompleted, map[string]any{"result": result}, d.now()); err == nil {
		d.publish(ev)
	}
	metrics.RecordRunCompletion(string(record.Spec.Kind), record.Spec.Name)
	d.endRunSpan(runID, nil)
	return nil
}

func (d *Dispatcher) Failed(ctx context.Context, runID string, cause error) error {
	record, err := d.store.GetExecution(ctx, runID)
	if err != nil {
		return err
	}
	category := string(errs.CategoryOf(cause))
	next, err := record.WithError(cause.Error(), errTypeOf(cause), category, d.now())
	if err != nil {
		return err
	}
	if err := d.store.UpdateStatus(ctx, next, record.Status); err != nil {
		return err
	}
	if ev, err := d.store.RecordEvent(ctx, runID, spine.EventFailed, map[string]any{"error": cause.Error()}, d.now()); err == nil {
		d.publish(ev)
	}
	metrics.RecordRunFailure(string(record.Spec.Kind), record.Spec.Name, category)
	d.endRunSpan(runID, cause)
	return nil
}

func errTypeOf(err error) string {
	if se, ok := err.(*errs.SpineError); ok {
		return se.Op
	}
	return ""
}
