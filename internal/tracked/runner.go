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

// Package tracked wraps the Workflow Engine with per-partition
// idempotency (spec.md §4.10): a workflow already recorded COMPLETED for
// a (domain, partition_key) short-circuits to a skipped success, and
// individual steps already recorded STEP_<name> are replayed from their
// last checkpointed output rather than rerun, so a crash mid-workflow
// resumes from its last completed step.
//
// Grounded on the teacher's internal/daemon/runner checkpoint/resume
// logic (saveCheckpoint, ResumeInterrupted), generalized from the
// teacher's single in-process Run struct to the manifest-stage ledger
// primitives of internal/ledger.
package tracked

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ryansmccoy/spine-core-sub007/internal/ledger"
	"github.com/ryansmccoy/spine-core-sub007/internal/workflowengine"
)

const (
	stageStarted   = "STARTED"
	stageCompleted = "COMPLETED"
)

func stepStage(name string) string {
	return "STEP_" + name
}

// ManifestStore is the slice of internal/ledger.Ledger the tracked runner
// needs to check and record per-partition progress stages.
type ManifestStore interface {
	HasManifestStage(ctx context.Context, domain, partitionKey, stage string) (bool, error)
	RecordManifestStage(ctx context.Context, domain, partitionKey, stage string, now time.Time) error
}

// CheckpointStore is the slice of internal/ledger.Ledger the tracked
// runner needs to persist and reload a run's in-flight step outputs.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, c ledger.Checkpoint) error
	GetCheckpoint(ctx context.Context, runID string) (*ledger.Checkpoint, error)
}

// EngineRunner is the slice of *workflowengine.Engine the tracked runner
// drives.
type EngineRunner interface {
	Run(ctx context.Context, runID string, wf workflowengine.Workflow, inputs map[string]any) (*workflowengine.WorkflowResult, error)
}

// Result wraps a WorkflowResult with the tracked runner's own
// skip-if-completed marker.
type Result struct {
	*workflowengine.WorkflowResult
	Skipped bool
}

type activeRun struct {
	domain, partitionKey string

	mu      sync.Mutex
	outputs map[string]any
}

// Runner is the idempotent-by-partition wrapper of spec.md §4.10.
type Runner struct {
	engine      EngineRunner
	manifest    ManifestStore
	checkpoints CheckpointStore
	log         *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	active map[string]*activeRun
}

// New returns a Runner and registers it as engine's step observer, so
// every step the engine completes is recorded into the manifest and
// checkpointed incrementally.
func New(engine *workflowengine.Engine, manifest ManifestStore, checkpoints CheckpointStore, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		engine:      engine,
		manifest:    manifest,
		checkpoints: checkpoints,
		log:         log,
		now:         time.Now,
		active:      make(map[string]*activeRun),
	}
	engine.WithObserver(r)
	return r
}

// StepFinished implements workflowengine.Observer. It records the
// STEP_<name> manifest stage and folds the step's output into the run's
// checkpoint, but only for steps that actually completed — a failed or
// skipped step must not appear done on the next resume attempt.
func (r *Runner) StepFinished(ctx context.Context, runID string, rec workflowengine.StepRecord) {
	if rec.Status != workflowengine.StepStatusCompleted {
		return
	}

	r.mu.Lock()
	run, ok := r.active[runID]
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := r.manifest.RecordManifestStage(ctx, run.domain, run.partitionKey, stepStage(rec.Name), r.now()); err != nil {
		r.log.Warn("tracked: failed to record step stage", "run_id", runID, "step", rec.Name, "error", err)
		return
	}

	run.mu.Lock()
	run.outputs[rec.Name] = rec.Output
	snapshot := make(map[string]any, len(run.outputs))
	for k, v := range run.outputs {
		snapshot[k] = v
	}
	run.mu.Unlock()

	cp := ledger.Checkpoint{RunID: runID, StepID: rec.Name, Context: snapshot, CreatedAt: r.now()}
	if err := r.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		r.log.Warn("tracked: failed to save checkpoint", "run_id", runID, "step", rec.Name, "error", err)
	}
}

// Run executes wf under manifest-stage idempotency for (domain,
// partitionKey). If skipIfCompleted is set and the partition already has
// a COMPLETED stage, it returns immediately with Result.Skipped set.
// Otherwise steps already recorded as STEP_<name>-complete are replayed
// from their last checkpointed output instead of rerun.
func (r *Runner) Run(ctx context.Context, domain, partitionKey, runID string, wf workflowengine.Workflow, inputs map[string]any, skipIfCompleted bool) (*Result, error) {
	if skipIfCompleted {
		done, err := r.manifest.HasManifestStage(ctx, domain, partitionKey, stageCompleted)
		if err != nil {
			return nil, err
		}
		if done {
			return &Result{
				WorkflowResult: &workflowengine.WorkflowResult{Status: workflowengine.WorkflowCompleted},
				Skipped:        true,
			}, nil
		}
	}

	priorOutputs := map[string]any{}
	cp, err := r.checkpoints.GetCheckpoint(ctx, runID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}
	if cp != nil {
		priorOutputs = cp.Context
	}

	resumed := wf
	resumed.Steps = make([]workflowengine.Step, len(wf.Steps))
	for i, step := range wf.Steps {
		done, err := r.manifest.HasManifestStage(ctx, domain, partitionKey, stepStage(step.Name))
		if err != nil {
			return nil, err
		}
		if done {
			resumed.Steps[i] = replayStep(step, priorOutputs[step.Name])
		} else {
			resumed.Steps[i] = step
		}
	}

	hasStarted, err := r.manifest.HasManifestStage(ctx, domain, partitionKey, stageStarted)
	if err != nil {
		return nil, err
	}
	if !hasStarted {
		if err := r.manifest.RecordManifestStage(ctx, domain, partitionKey, stageStarted, r.now()); err != nil {
			return nil, err
		}
	}

	run := &activeRun{domain: domain, partitionKey: partitionKey, outputs: map[string]any{}}
	for name, output := range priorOutputs {
		if m, ok := output.(map[string]any); ok {
			run.outputs[name] = m
		}
	}
	r.mu.Lock()
	r.active[runID] = run
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, runID)
		r.mu.Unlock()
	}()

	result, err := r.engine.Run(ctx, runID, resumed, inputs)
	if err != nil {
		return nil, err
	}

	if result.Status == workflowengine.WorkflowCompleted {
		if err := r.manifest.RecordManifestStage(ctx, domain, partitionKey, stageCompleted, r.now()); err != nil {
			return nil, err
		}
	}
	return &Result{WorkflowResult: result}, nil
}

// replayStep turns an already-completed step into a lambda that replays
// its cached output instead of rerunning the step's side effects,
// preserving its name and dependency edges so downstream steps still see
// the same DAG shape.
func replayStep(step workflowengine.Step, cachedOutput any) workflowengine.Step {
	output, _ := cachedOutput.(map[string]any)
	return workflowengine.Step{
		Name:      step.Name,
		Type:      workflowengine.StepLambda,
		DependsOn: step.DependsOn,
		OnError:   step.OnError,
		Lambda: func(*workflowengine.WorkflowContext) (map[string]any, error) {
			return output, nil
		},
	}
}
