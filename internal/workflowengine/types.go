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

// Package workflowengine executes a DAG-shaped Workflow of spec.md §4.9:
// topological ordering with cycle detection, three execution policies
// (sequential/parallel/adaptive), three on_error policies
// (stop/continue/dlq), and operation/lambda/choice/wait/map step types.
//
// Grounded on the teacher's pkg/workflow package: StepDefinition's
// id/type/depends_on/on_error shape and StepResult's status/output/error/
// duration fields are reused and generalized from the teacher's
// LLM-agent-specific step kinds to this engine's generic ones.
package workflowengine

import (
	"time"
)

// StepType selects how a Step's Run/predicate/duration/items field is
// interpreted (spec.md §4.9 point 5).
type StepType string

const (
	StepOperation StepType = "operation"
	StepLambda    StepType = "lambda"
	StepChoice    StepType = "choice"
	StepWait      StepType = "wait"
	StepMap       StepType = "map"
)

// OnError selects how the engine reacts to a step's failure (spec.md
// §4.9 point 4).
type OnError string

const (
	OnErrorStop     OnError = "stop"
	OnErrorContinue OnError = "continue"
	OnErrorDLQ      OnError = "dlq"
)

// ExecutionMode selects the scheduling policy across a workflow's steps
// (spec.md §4.9 point 2).
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
	ModeAdaptive   ExecutionMode = "adaptive"
)

// ExecutionPolicy configures scheduling for a Workflow.
type ExecutionPolicy struct {
	Mode           ExecutionMode
	MaxConcurrency int
}

// Step is a single node in a Workflow's DAG.
type Step struct {
	Name      string
	Type      StepType
	DependsOn []string
	OnError   OnError

	// Kind/HandlerName resolve an operation step's handler from the
	// registry, the same (Kind, name) pair a WorkSpec uses.
	Kind        string
	HandlerName string
	Params      map[string]any

	// Lambda steps run an in-process function directly, with no
	// registry lookup; used for engine-internal glue steps.
	Lambda func(ctx *WorkflowContext) (map[string]any, error)

	// Choice steps evaluate Predicate against the context and branch to
	// IfTrue or IfFalse, both optional; the engine records which branch
	// was taken and marks the untaken branch's step, with everything that
	// depends on it, skipped.
	Predicate string
	IfTrue    string
	IfFalse   string

	// Wait steps sleep for Duration before completing.
	Duration time.Duration

	// Map steps evaluate ItemsExpr against the context to obtain a
	// slice, then run MapStep once per item (each invocation sees the
	// item under context key "item") bounded by MaxConcurrency.
	ItemsExpr      string
	MapStep        *Step
	MaxConcurrency int
}

// Workflow is the DAG-shaped unit of work the engine executes.
type Workflow struct {
	Name    string
	Steps   []Step
	Policy  ExecutionPolicy
	DLQName string
}

// WorkflowContext is the immutable value threaded through every step
// (spec.md §4.9 point 3). WithOutput never mutates the receiver; it
// returns a new context carrying the added step output alongside
// everything already present.
type WorkflowContext struct {
	Inputs  map[string]any
	outputs map[string]any
}

// NewWorkflowContext seeds a context with the workflow's initial inputs.
func NewWorkflowContext(inputs map[string]any) *WorkflowContext {
	return &WorkflowContext{Inputs: inputs, outputs: map[string]any{}}
}

// WithOutput returns a new WorkflowContext with stepName's output
// recorded, leaving the receiver untouched.
func (c *WorkflowContext) WithOutput(stepName string, output map[string]any) *WorkflowContext {
	next := make(map[string]any, len(c.outputs)+1)
	for k, v := range c.outputs {
		next[k] = v
	}
	next[stepName] = output
	return &WorkflowContext{Inputs: c.Inputs, outputs: next}
}

// Output returns stepName's recorded output, or nil if it has not run.
func (c *WorkflowContext) Output(stepName string) map[string]any {
	return c.outputs[stepName]
}

// exprEnv renders the context into the flat map expr-lang/expr evaluates
// choice predicates and map item-extraction expressions against:
// "inputs" for workflow inputs, "steps" for completed step outputs.
func (c *WorkflowContext) exprEnv() map[string]any {
	return map[string]any{
		"inputs": c.Inputs,
		"steps":  c.outputs,
	}
}

// StepStatus is a step's terminal execution state within a WorkflowResult.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepRecord is one step's entry in a WorkflowResult.
type StepRecord struct {
	Name       string
	Status     StepStatus
	Output     map[string]any
	Error      string
	Branch     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration reports how long the step ran.
func (r StepRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// WorkflowStatus is a workflow run's terminal state.
type WorkflowStatus string

const (
	WorkflowCompleted     WorkflowStatus = "completed"
	WorkflowFailed        WorkflowStatus = "failed"
	WorkflowFailedPartial WorkflowStatus = "failed_partial"
)

// WorkflowResult is the engine's final report for one Run (spec.md §4.9).
type WorkflowResult struct {
	Status     WorkflowStatus
	Steps      []StepRecord
	Duration   time.Duration
	Error      string
	FinalStep  *WorkflowContext
}
