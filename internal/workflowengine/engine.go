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

package workflowengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ryansmccoy/spine-core-sub007/internal/errs"
	"github.com/ryansmccoy/spine-core-sub007/internal/registry"
	"github.com/ryansmccoy/spine-core-sub007/internal/tracing"
	"github.com/ryansmccoy/spine-core-sub007/pkg/observability"
	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// RegistryLike is satisfied by *registry.Registry; operation steps
// resolve their handler through it by (Kind, HandlerName).
type RegistryLike interface {
	Get(kind spine.Kind, name string) (registry.Handler, error)
}

// Recorder is the narrow ledger surface the engine needs to emit
// STEP_STARTED/STEP_COMPLETED/STEP_FAILED events (spec.md §4.9).
type Recorder interface {
	RecordEvent(ctx context.Context, runID string, eventType spine.EventType, payload map[string]any, now time.Time) (spine.Event, error)
}

// Publisher is the narrow slice of internal/events.Bus the engine uses to
// announce step events. A nil Publisher skips publication.
type Publisher interface {
	Publish(event spine.Event)
}

// DLQParker is the slice of internal/resilience.DLQManager the engine
// needs for the dlq on_error policy, kept narrow for the same reason
// every other package in this tree declares its dependencies this way.
type DLQParker interface {
	Park(ctx context.Context, executionID, workflow string, params map[string]any, cause error, maxRetries int) (*spine.DeadLetter, error)
}

// Observer receives a callback after every step finishes, successfully or
// not. internal/tracked uses this to persist manifest stages and
// checkpoints incrementally, so a crash mid-workflow resumes from the
// last completed step rather than the last completed workflow.
type Observer interface {
	StepFinished(ctx context.Context, runID string, rec StepRecord)
}

// Engine executes Workflows per spec.md §4.9.
type Engine struct {
	registry  RegistryLike
	recorder  Recorder
	publisher Publisher
	dlq       DLQParker
	observer  Observer
	tracer    observability.Tracer
	eval      *evaluator
	now       func() time.Time
}

// WithObserver attaches an Observer and returns the same Engine, for
// chaining onto New.
func (e *Engine) WithObserver(o Observer) *Engine {
	e.observer = o
	return e
}

// WithTracer attaches a Tracer and returns the same Engine, for chaining
// onto New. Run and each step execution open a span through it (spec.md
// §4.6, §4.9). A nil tracer (the default) leaves Run/runOneStep
// untraced.
func (e *Engine) WithTracer(t observability.Tracer) *Engine {
	e.tracer = t
	return e
}

// New returns an Engine. recorder, publisher, and dlq may all be nil: a
// nil recorder/publisher simply means no events are emitted, and a nil
// dlq makes the dlq on_error policy behave like stop.
func New(reg RegistryLike, recorder Recorder, publisher Publisher, dlq DLQParker) *Engine {
	return &Engine{
		registry:  reg,
		recorder:  recorder,
		publisher: publisher,
		dlq:       dlq,
		eval:      newEvaluator(),
		now:       time.Now,
	}
}

func (e *Engine) emit(ctx context.Context, runID string, eventType spine.EventType, payload map[string]any) {
	if e.recorder == nil {
		return
	}
	ev, err := e.recorder.RecordEvent(ctx, runID, eventType, payload, e.now())
	if err == nil && e.publisher != nil {
		e.publisher.Publish(ev)
	}
}

// contextBox guards the WorkflowContext threaded across concurrently
// running steps: every step reads a snapshot before it runs and folds its
// own output back in once it completes.
type contextBox struct {
	mu  sync.Mutex
	ctx *WorkflowContext
}

func (b *contextBox) snapshot() *WorkflowContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

func (b *contextBox) addOutput(stepName string, output map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ctx = b.ctx.WithOutput(stepName, output)
}

// Run executes wf to completion against runID, the already-created run
// this workflow's execution is tracked under (spec.md §4.9).
func (e *Engine) Run(ctx context.Context, runID string, wf Workflow, inputs map[string]any) (*WorkflowResult, error) {
	sorted, err := topologicalSort(wf.Steps)
	if err != nil {
		return nil, err
	}

	var runSpan observability.SpanHandle
	if e.tracer != nil {
		ctx, runSpan = tracing.StartRun(ctx, e.tracer, runID, "workflow", wf.Name)
	}

	box := &contextBox{ctx: NewWorkflowContext(inputs)}
	start := e.now()

	run := &runState{
		engine:  e,
		wf:      wf,
		runID:   runID,
		box:     box,
		graph:   buildGraph(wf.Steps),
		skipped: make(map[string]bool),
		records: make(map[string]*StepRecord),
	}

	switch wf.Policy.Mode {
	case ModeSequential, "":
		run.runSequential(ctx, sorted)
	case ModeParallel:
		run.runParallel(ctx, sorted)
	case ModeAdaptive:
		run.runAdaptive(ctx)
	default:
		modeErr := errs.New(errs.CategoryValidation, "workflowengine.Run", "unknown execution mode: "+string(wf.Policy.Mode))
		tracing.EndWithResult(runSpan, modeErr)
		return nil, modeErr
	}

	result := &WorkflowResult{
		Steps:     run.orderedRecords(sorted),
		Duration:  e.now().Sub(start),
		FinalStep: box.snapshot(),
	}
	switch {
	case run.aborted && run.abortErr != nil:
		result.Status = WorkflowFailed
		result.Error = run.abortErr.Error()
	case run.anyFailed:
		result.Status = WorkflowFailedPartial
	default:
		result.Status = WorkflowCompleted
	}

	if runSpan != nil {
		var spanErr error
		if result.Status != WorkflowCompleted {
			spanErr = errors.New(string(result.Status))
		}
		tracing.EndWithResult(runSpan, spanErr)
	}
	return result, nil
}

// runState carries one Run call's mutable bookkeeping.
type runState struct {
	engine *Engine
	wf     Workflow
	runID  string
	box    *contextBox
	graph  *graph

	mu        sync.Mutex
	skipped   map[string]bool
	records   map[string]*StepRecord
	aborted   bool
	abortErr  error
	anyFailed bool
}

func (r *runState) isSkipped(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped[name]
}

func (r *runState) isAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

func (r *runState) setRecord(rec *StepRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.Name] = rec
}

// skipFrom marks name and every transitive dependent of name as skipped.
func (r *runState) skipFrom(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.skipped[name] {
		return
	}
	queue := []string{name}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if r.skipped[n] {
			continue
		}
		r.skipped[n] = true
		queue = append(queue, r.graph.dependents[n]...)
	}
}

func (r *runState) abort(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.aborted {
		r.aborted = true
		r.abortErr = cause
	}
}

func (r *runState) markFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anyFailed = true
}

func (r *runState) orderedRecords(sorted []Step) []StepRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StepRecord, 0, len(sorted))
	for _, s := range sorted {
		if rec, ok := r.records[s.Name]; ok {
			out = append(out, *rec)
			continue
		}
		if r.skipped[s.Name] {
			out = append(out, StepRecord{Name: s.Name, Status: StepStatusSkipped})
		}
	}
	return out
}

// handleOutcome applies spec.md §4.9 point 4's on_error policy once a
// step's execution has produced rec. It returns true if the caller should
// stop scheduling further steps.
func (r *runState) handleOutcome(ctx context.Context, step Step, rec *StepRecord) (haltCaller bool) {
	r.setRecord(rec)
	if rec.Status != StepStatusFailed {
		if step.Type == StepChoice {
			r.applyChoiceSkip(step, rec)
		}
		return false
	}

	r.markFailed()
	switch step.OnError {
	case OnErrorContinue:
		r.skipFrom(step.Name)
		return false
	case OnErrorDLQ:
		if r.engine.dlq != nil {
			_, _ = r.engine.dlq.Park(ctx, r.runID, r.wf.Name, step.Params, errors.New(rec.Error), 3)
		}
		r.abort(errors.New(rec.Error))
		return true
	default: // OnErrorStop and unset
		r.abort(errors.New(rec.Error))
		return true
	}
}

func (r *runState) applyChoiceSkip(step Step, rec *StepRecord) {
	var notTaken string
	if rec.Branch == step.IfTrue {
		notTaken = step.IfFalse
	} else {
		notTaken = step.IfTrue
	}
	if notTaken != "" {
		r.skipFrom(notTaken)
	}
}

func (r *runState) runSequential(ctx context.Context, sorted []Step) {
	for _, step := range sorted {
		if r.isAborted() || ctx.Err() != nil {
			return
		}
		if r.isSkipped(step.Name) {
			continue
		}
		rec := r.engine.runOneStep(ctx, r.runID, r.box, step)
		if r.handleOutcome(ctx, step, rec) {
			return
		}
	}
}

func (r *runState) runParallel(ctx context.Context, sorted []Step) {
	maxConcurrency := int64(r.wf.Policy.MaxConcurrency)
	if maxConcurrency <= 0 {
		maxConcurrency = int64(len(sorted))
		if maxConcurrency == 0 {
			maxConcurrency = 1
		}
	}
	sem := semaphore.NewWeighted(maxConcurrency)

	for _, level := range dependencyLevels(sorted) {
		if r.isAborted() || ctx.Err() != nil {
			return
		}
		var wg sync.WaitGroup
		for _, step := range level {
			step := step
			if r.isSkipped(step.Name) {
				continue
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				rec := r.engine.runOneStep(ctx, r.runID, r.box, step)
				r.handleOutcome(ctx, step, rec)
			}()
		}
		wg.Wait()
	}
}

func (r *runState) runAdaptive(ctx context.Context) {
	maxConcurrency := int64(r.wf.Policy.MaxConcurrency)
	if maxConcurrency <= 0 {
		maxConcurrency = int64(len(r.wf.Steps))
		if maxConcurrency == 0 {
			maxConcurrency = 1
		}
	}
	sem := semaphore.NewWeighted(maxConcurrency)
	done := make(chan string, len(r.wf.Steps))

	launch := func(name string) {
		step := r.graph.byName[name]
		if r.isSkipped(name) {
			done <- name
			return
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			done <- name
			return
		}
		go func() {
			defer sem.Release(1)
			rec := r.engine.runOneStep(ctx, r.runID, r.box, step)
			r.handleOutcome(ctx, step, rec)
			done <- name
		}()
	}

	for _, name := range r.graph.initialReady(r.wf.Steps) {
		go launch(name)
	}

	for remaining := len(r.wf.Steps); remaining > 0; {
		select {
		case name := <-done:
			remaining--
			if r.isAborted() || ctx.Err() != nil {
				return
			}
			for _, next := range r.graph.release(name) {
				go launch(next)
			}
		case <-ctx.Done():
			return
		}
	}
}

// runOneStep executes a single step's body and returns its StepRecord,
// emitting the STEP_STARTED/STEP_COMPLETED/STEP_FAILED events and folding
// a successful step's output back into the shared WorkflowContext.
func (e *Engine) runOneStep(ctx context.Context, runID string, box *contextBox, step Step) *StepRecord {
	started := e.now()
	e.emit(ctx, runID, spine.EventStepStarted, map[string]any{"step": step.Name})

	var stepSpan observability.SpanHandle
	if e.tracer != nil {
		ctx, stepSpan = tracing.StartStep(ctx, e.tracer, runID, step.Name, string(step.Type))
	}

	wfCtx := box.snapshot()
	output, branch, err := e.execute(ctx, wfCtx, step)
	finished := e.now()
	tracing.EndWithResult(stepSpan, err)

	var rec *StepRecord
	if err != nil {
		e.emit(ctx, runID, spine.EventStepFailed, map[string]any{"step": step.Name, "error": err.Error()})
		rec = &StepRecord{Name: step.Name, Status: StepStatusFailed, Error: err.Error(), StartedAt: started, FinishedAt: finished}
	} else {
		box.addOutput(step.Name, output)
		e.emit(ctx, runID, spine.EventStepCompleted, map[string]any{"step": step.Name, "output": output})
		rec = &StepRecord{Name: step.Name, Status: StepStatusCompleted, Output: output, Branch: branch, StartedAt: started, FinishedAt: finished}
	}

	if e.observer != nil {
		e.observer.StepFinished(ctx, runID, *rec)
	}
	return rec
}

// execute dispatches step to its type-specific behavior (spec.md §4.9
// point 5).
func (e *Engine) execute(ctx context.Context, wfCtx *WorkflowContext, step Step) (output map[string]any, branch string, err error) {
	switch step.Type {
	case StepLambda:
		out, err := step.Lambda(wfCtx)
		return out, "", err

	case StepChoice:
		ok, err := e.eval.evalBool(step.Predicate, wfCtx.exprEnv())
		if err != nil {
			return nil, "", err
		}
		if ok {
			return map[string]any{"branch": step.IfTrue}, step.IfTrue, nil
		}
		return map[string]any{"branch": step.IfFalse}, step.IfFalse, nil

	case StepWait:
		select {
		case <-time.After(step.Duration):
			return map[string]any{"waited_ms": step.Duration.Milliseconds()}, "", nil
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}

	case StepMap:
		return e.executeMap(ctx, wfCtx, step)

	case StepOperation:
		fallthrough
	default:
		return e.executeOperation(ctx, step)
	}
}

func (e *Engine) executeOperation(ctx context.Context, step Step) (map[string]any, string, error) {
	handler, err := e.registry.Get(spine.Kind(step.Kind), step.HandlerName)
	if err != nil {
		return nil, "", err
	}
	out, err := handler(ctx, step.Params)
	return out, "", err
}

func (e *Engine) executeMap(ctx context.Context, wfCtx *WorkflowContext, step Step) (map[string]any, string, error) {
	items, err := e.eval.evalItems(step.ItemsExpr, wfCtx.exprEnv())
	if err != nil {
		return nil, "", err
	}
	if step.MapStep == nil {
		return nil, "", errs.New(errs.CategoryValidation, "workflowengine.executeMap", "map step "+step.Name+" has no nested step")
	}

	maxConcurrency := int64(step.MaxConcurrency)
	if maxConcurrency <= 0 {
		maxConcurrency = int64(len(items))
		if maxConcurrency == 0 {
			maxConcurrency = 1
		}
	}
	sem := semaphore.NewWeighted(maxConcurrency)

	results := make([]any, len(items))
	itemErrs := make([]error, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		i, item := i, item
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, "", err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			itemCtx := NewWorkflowContext(map[string]any{"item": item})
			out, _, err := e.execute(ctx, itemCtx, *step.MapStep)
			if err != nil {
				itemErrs[i] = err
				return
			}
			results[i] = out
		}()
	}
	wg.Wait()

	for _, err := range itemErrs {
		if err != nil {
			return nil, "", err
		}
	}
	return map[string]any{"results": results}, "", nil
}
