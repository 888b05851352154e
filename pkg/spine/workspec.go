// Package spine defines the core domain types shared across the execution
// engine, orchestration layer, and scheduling layer: WorkSpec, RunRecord,
// Event, Schedule, and friends. These types are immutable value objects;
// mutation is expressed as functions that return a modified copy.
package spine

import "time"

// Kind identifies the category of work a WorkSpec describes.
type Kind string

const (
	KindTask     Kind = "task"
	KindPipeline Kind = "pipeline"
	KindWorkflow Kind = "workflow"
	KindStep     Kind = "step"
)

// TriggerSource identifies what originated a WorkSpec submission.
type TriggerSource string

const (
	TriggerAPI      TriggerSource = "api"
	TriggerCLI      TriggerSource = "cli"
	TriggerSchedule TriggerSource = "schedule"
	TriggerWebhook  TriggerSource = "webhook"
	TriggerRetry    TriggerSource = "retry"
	TriggerManual   TriggerSource = "manual"
)

// WorkSpec is the declarative, immutable request to perform work. It is the
// only input the Dispatcher accepts.
type WorkSpec struct {
	Kind           Kind
	Name           string
	Params         map[string]any
	Metadata       map[string]any
	IdempotencyKey string
	ParentRunID    string
	TriggerSource  TriggerSource
}

// WithParams returns a copy of the spec with Params replaced by a deep copy
// of the given map. The receiver is left unmodified.
func (s WorkSpec) WithParams(params map[string]any) WorkSpec {
	out := s
	out.Params = deepCopyMap(params)
	return out
}

// WithMetadata returns a copy of the spec with Metadata replaced by a deep
// copy of the given map. The receiver is left unmodified.
func (s WorkSpec) WithMetadata(meta map[string]any) WorkSpec {
	out := s
	out.Metadata = deepCopyMap(meta)
	return out
}

// Clone returns a deep copy of the spec, safe to mutate independently of the
// original.
func (s WorkSpec) Clone() WorkSpec {
	out := s
	out.Params = deepCopyMap(s.Params)
	out.Metadata = deepCopyMap(s.Metadata)
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// ParamsOrEmpty returns Params, substituting an empty (non-nil) map when nil.
func (s WorkSpec) ParamsOrEmpty() map[string]any {
	if s.Params == nil {
		return map[string]any{}
	}
	return s.Params
}

// Timestamps groups the three lifecycle timestamps every terminal RunRecord
// carries, kept together to make the status invariants easy to check in one
// place (see RunRecord.Validate).
type Timestamps struct {
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Duration returns the elapsed time between StartedAt and CompletedAt, or
// zero if either is unset.
func (t Timestamps) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}
