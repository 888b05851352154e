package spine

import "time"

// DeadLetter records a workflow/execution failure parked for post-hoc retry
// (spec.md §3). An entry is unresolved iff ResolvedAt is nil.
type DeadLetter struct {
	ID           string
	ExecutionID  string
	WorkflowName string
	Params       map[string]any
	Error        string
	RetryCount   int
	MaxRetries   int
	CreatedAt    time.Time
	LastRetryAt  *time.Time
	ResolvedAt   *time.Time
	ResolvedBy   string
}

// Unresolved reports whether the entry has not yet been terminally resolved.
func (d *DeadLetter) Unresolved() bool {
	return d.ResolvedAt == nil
}

// CanRetry reports whether the entry is both unresolved and under its retry
// budget.
func (d *DeadLetter) CanRetry() bool {
	return d.Unresolved() && d.RetryCount < d.MaxRetries
}

// ManifestStage records that a tracked workflow reached a named milestone
// for a given partition (spec.md §3, §4.10). Stage names are either
// "STARTED", "COMPLETED", or "STEP_<step name>".
type ManifestStage struct {
	Domain       string
	PartitionKey string
	Stage        string
	RecordedAt   time.Time
}

// StepStageName formats the manifest stage name for a named workflow step.
func StepStageName(stepName string) string {
	return "STEP_" + stepName
}

const (
	StageStarted   = "STARTED"
	StageCompleted = "COMPLETED"
)

// Reject is an append-only record of a malformed input encountered during
// processing (spec.md §3).
type Reject struct {
	Domain        string
	PartitionKey  string
	Stage         string
	ReasonCode    string
	ReasonDetail  string
	RawData       map[string]any
	SourceLocator string
	LineNumber    int
	ExecutionID   string
	BatchID       string
	CreatedAt     time.Time
}
