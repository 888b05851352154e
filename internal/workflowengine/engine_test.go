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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansmccoy/spine-core-sub007/internal/registry"
	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

type fakeRegistry struct {
	handlers map[string]registry.Handler
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{handlers: make(map[string]registry.Handler)}
}

func (f *fakeRegistry) register(kind spine.Kind, name string, h registry.Handler) {
	f.handlers[string(kind)+"/"+name] = h
}

func (f *fakeRegistry) Get(kind spine.Kind, name string) (registry.Handler, error) {
	h, ok := f.handlers[string(kind)+"/"+name]
	if !ok {
		return nil, fmt.Errorf("no handler for %s/%s", kind, name)
	}
	return h, nil
}

type recordedEvent struct {
	runID     string
	eventType spine.EventType
	payload   map[string]any
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeRecorder) RecordEvent(_ context.Context, runID string, eventType spine.EventType, payload map[string]any, now time.Time) (spine.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{runID: runID, eventType: eventType, payload: payload})
	return spine.NewEvent("evt", runID, eventType, payload, now), nil
}

func (f *fakeRecorder) types() []spine.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]spine.EventType, len(f.events))
	for i, e := range f.events {
		out[i] = e.eventType
	}
	return out
}

type fakePublisher struct {
	mu        sync.Mutex
	published []spine.Event
}

func (f *fakePublisher) Publish(event spine.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, event)
}

type fakeDLQ struct {
	mu     sync.Mutex
	parked int
}

func (f *fakeDLQ) Park(_ context.Context, executionID, workflow string, params map[string]any, cause error, maxRetries int) (*spine.DeadLetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parked++
	return &spine.DeadLetter{}, nil
}

func opHandler(out map[string]any, err error) registry.Handler {
	return func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return out, err
	}
}

func recordOf(t *testing.T, result *WorkflowResult, name string) StepRecord {
	t.Helper()
	for _, rec := range result.Steps {
		if rec.Name == name {
			return rec
		}
	}
	t.Fatalf("no step record for %q", name)
	return StepRecord{}
}

func TestEngineRunSequentialSucceeds(t *testing.T) {
	reg := newFakeRegistry()
	reg.register("noop", "a", opHandler(map[string]any{"x": 1}, nil))
	reg.register("noop", "b", opHandler(map[string]any{"y": 2}, nil))
	recorder := &fakeRecorder{}
	pub := &fakePublisher{}

	eng := New(reg, recorder, pub, nil)
	wf := Workflow{
		Name: "two-step",
		Steps: []Step{
			{Name: "a", Type: StepOperation, Kind: "noop", HandlerName: "a"},
			{Name: "b", Type: StepOperation, Kind: "noop", HandlerName: "b", DependsOn: []string{"a"}},
		},
	}

	result, err := eng.Run(context.Background(), "run-1", wf, map[string]any{"start": true})
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, result.Status)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, StepStatusCompleted, recordOf(t, result, "a").Status)
	assert.Equal(t, StepStatusCompleted, recordOf(t, result, "b").Status)
	assert.Equal(t, map[string]any{"y": 2}, result.FinalStep.Output("b"))

	assert.Contains(t, recorder.types(), spine.EventStepStarted)
	assert.Contains(t, recorder.types(), spine.EventStepCompleted)
	assert.NotEmpty(t, pub.published)
}

func TestEngineOnErrorStopHaltsWorkflow(t *testing.T) {
	reg := newFakeRegistry()
	reg.register("noop", "a", opHandler(nil, errors.New("boom")))
	reg.register("noop", "b", opHandler(map[string]any{}, nil))

	eng := New(reg, nil, nil, nil)
	wf := Workflow{Steps: []Step{
		{Name: "a", Type: StepOperation, Kind: "noop", HandlerName: "a", OnError: OnErrorStop},
		{Name: "b", Type: StepOperation, Kind: "noop", HandlerName: "b", DependsOn: []string{"a"}},
	}}

	result, err := eng.Run(context.Background(), "run-2", wf, nil)
	require.NoError(t, err)
	assert.Equal(t, WorkflowFailed, result.Status)
	assert.Contains(t, result.Error, "boom")
	assert.Equal(t, StepStatusFailed, recordOf(t, result, "a").Status)
	// b never even got scheduled under stop, so it has no record at all.
	for _, rec := range result.Steps {
		assert.NotEqual(t, "b", rec.Name)
	}
}

func TestEngineOnErrorContinueSkipsDownstream(t *testing.T) {
	reg := newFakeRegistry()
	reg.register("noop", "a", opHandler(nil, errors.New("boom")))
	reg.register("noop", "c", opHandler(map[string]any{}, nil))

	eng := New(reg, nil, nil, nil)
	wf := Workflow{Steps: []Step{
		{Name: "a", Type: StepOperation, Kind: "noop", HandlerName: "a", OnError: OnErrorContinue},
		{Name: "b", Type: StepOperation, Kind: "noop", HandlerName: "a", DependsOn: []string{"a"}},
		{Name: "c", Type: StepOperation, Kind: "noop", HandlerName: "c"},
	}}

	result, err := eng.Run(context.Background(), "run-3", wf, nil)
	require.NoError(t, err)
	assert.Equal(t, WorkflowFailedPartial, result.Status)
	assert.Equal(t, StepStatusFailed, recordOf(t, result, "a").Status)
	assert.Equal(t, StepStatusSkipped, recordOf(t, result, "b").Status)
	assert.Equal(t, StepStatusCompleted, recordOf(t, result, "c").Status)
}

func TestEngineOnErrorDLQParksAndStops(t *testing.T) {
	reg := newFakeRegistry()
	reg.register("noop", "a", opHandler(nil, errors.New("boom")))
	dlq := &fakeDLQ{}

	eng := New(reg, nil, nil, dlq)
	wf := Workflow{Steps: []Step{
		{Name: "a", Type: StepOperation, Kind: "noop", HandlerName: "a", OnError: OnErrorDLQ},
	}}

	result, err := eng.Run(context.Background(), "run-4", wf, nil)
	require.NoError(t, err)
	assert.Equal(t, WorkflowFailed, result.Status)
	assert.Equal(t, 1, dlq.parked)
}

func TestEngineChoiceStepSkipsUntakenBranch(t *testing.T) {
	reg := newFakeRegistry()
	reg.register("noop", "left", opHandler(map[string]any{}, nil))
	reg.register("noop", "right", opHandler(map[string]any{}, nil))

	eng := New(reg, nil, nil, nil)
	wf := Workflow{Steps: []Step{
		{Name: "decide", Type: StepChoice, Predicate: "inputs.go_left", IfTrue: "left", IfFalse: "right"},
		{Name: "left", Type: StepOperation, Kind: "noop", HandlerName: "left", DependsOn: []string{"decide"}},
		{Name: "right", Type: StepOperation, Kind: "noop", HandlerName: "right", DependsOn: []string{"decide"}},
	}}

	result, err := eng.Run(context.Background(), "run-5", wf, map[string]any{"go_left": true})
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, result.Status)
	assert.Equal(t, "left", recordOf(t, result, "decide").Branch)
	assert.Equal(t, StepStatusCompleted, recordOf(t, result, "left").Status)
	assert.Equal(t, StepStatusSkipped, recordOf(t, result, "right").Status)
}

func TestEngineWaitStepSleeps(t *testing.T) {
	eng := New(newFakeRegistry(), nil, nil, nil)
	wf := Workflow{Steps: []Step{
		{Name: "pause", Type: StepWait, Duration: 10 * time.Millisecond},
	}}

	start := time.Now()
	result, err := eng.Run(context.Background(), "run-6", wf, nil)
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, result.Status)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestEngineLambdaStepRunsDirectly(t *testing.T) {
	eng := New(newFakeRegistry(), nil, nil, nil)
	wf := Workflow{Steps: []Step{
		{Name: "compute", Type: StepLambda, Lambda: func(ctx *WorkflowContext) (map[string]any, error) {
			return map[string]any{"doubled": ctx.Inputs["n"].(int) * 2}, nil
		}},
	}}

	result, err := eng.Run(context.Background(), "run-7", wf, map[string]any{"n": 21})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"doubled": 42}, result.FinalStep.Output("compute"))
}

func TestEngineMapStepFansOutOverItems(t *testing.T) {
	eng := New(newFakeRegistry(), nil, nil, nil)
	wf := Workflow{Steps: []Step{
		{
			Name:           "square-each",
			Type:           StepMap,
			ItemsExpr:      "inputs.nums",
			MaxConcurrency: 2,
			MapStep: &Step{
				Name: "square", Type: StepLambda,
				Lambda: func(ctx *WorkflowContext) (map[string]any, error) {
					n := ctx.Inputs["item"].(int)
					return map[string]any{"squared": n * n}, nil
				},
			},
		},
	}}

	result, err := eng.Run(context.Background(), "run-8", wf, map[string]any{"nums": []int{2, 3, 4}})
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, result.Status)

	out := result.FinalStep.Output("square-each")
	results, ok := out["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 3)
	assert.Equal(t, map[string]any{"squared": 4}, results[0])
	assert.Equal(t, map[string]any{"squared": 16}, results[2])
}

func TestEngineParallelModeRunsIndependentStepsConcurrently(t *testing.T) {
	reg := newFakeRegistry()
	reg.register("noop", "a", opHandler(map[string]any{}, nil))
	reg.register("noop", "b", opHandler(map[string]any{}, nil))
	reg.register("noop", "c", opHandler(map[string]any{}, nil))

	eng := New(reg, nil, nil, nil)
	wf := Workflow{
		Policy: ExecutionPolicy{Mode: ModeParallel, MaxConcurrency: 2},
		Steps: []Step{
			{Name: "a", Type: StepOperation, Kind: "noop", HandlerName: "a"},
			{Name: "b", Type: StepOperation, Kind: "noop", HandlerName: "b"},
			{Name: "c", Type: StepOperation, Kind: "noop", HandlerName: "c", DependsOn: []string{"a", "b"}},
		},
	}

	result, err := eng.Run(context.Background(), "run-9", wf, nil)
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, result.Status)
	require.Len(t, result.Steps, 3)
}

func TestEngineAdaptiveModeStartsEachStepAsItsDependenciesFinish(t *testing.T) {
	reg := newFakeRegistry()
	reg.register("noop", "a", opHandler(map[string]any{}, nil))
	reg.register("noop", "b", opHandler(map[string]any{}, nil))
	reg.register("noop", "c", opHandler(map[string]any{}, nil))
	reg.register("noop", "d", opHandler(map[string]any{}, nil))

	eng := New(reg, nil, nil, nil)
	wf := Workflow{
		Policy: ExecutionPolicy{Mode: ModeAdaptive, MaxConcurrency: 4},
		Steps: []Step{
			{Name: "a", Type: StepOperation, Kind: "noop", HandlerName: "a"},
			{Name: "b", Type: StepOperation, Kind: "noop", HandlerName: "b", DependsOn: []string{"a"}},
			{Name: "c", Type: StepOperation, Kind: "noop", HandlerName: "c"},
			{Name: "d", Type: StepOperation, Kind: "noop", HandlerName: "d", DependsOn: []string{"b", "c"}},
		},
	}

	result, err := eng.Run(context.Background(), "run-10", wf, nil)
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, result.Status)
	require.Len(t, result.Steps, 4)
	for _, name := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, StepStatusCompleted, recordOf(t, result, name).Status)
	}
}

func TestEngineDetectsCycleBeforeRunning(t *testing.T) {
	eng := New(newFakeRegistry(), nil, nil, nil)
	wf := Workflow{Steps: []Step{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}}

	_, err := eng.Run(context.Background(), "run-11", wf, nil)
	require.Error(t, err)
	var cycleErr *ErrCycle
	require.ErrorAs(t, err, &cycleErr)
}
