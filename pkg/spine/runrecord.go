package spine

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a RunRecord. Terminal statuses are
// immutable once reached; see ValidTransition.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether the status is one a RunRecord cannot leave.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// transitions enumerates the allowed source statuses for each destination
// status, mirroring spec.md §4.3. Retries are not a transition: they create
// a new RunRecord rather than mutating a failed one.
var transitions = map[Status][]Status{
	StatusQueued:    {StatusPending},
	StatusRunning:   {StatusPending, StatusQueued},
	StatusCompleted: {StatusRunning},
	StatusFailed:    {StatusRunning},
	StatusTimedOut:  {StatusRunning},
	StatusCancelled: {StatusPending, StatusQueued, StatusRunning},
}

// ValidTransition reports whether moving from `from` to `to` is legal.
func ValidTransition(from, to Status) bool {
	for _, allowed := range transitions[to] {
		if allowed == from {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned when a caller attempts to move a
// RunRecord through a transition not in the state machine.
type ErrInvalidTransition struct {
	From, To Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

// RunRecord is the durable unit of execution tracking described in
// spec.md §3. It is treated as an immutable value outside of the
// component (executor, worker) that currently owns it; all mutation goes
// through the With* methods, which validate the state machine and return a
// new record.
type RunRecord struct {
	RunID         string
	Spec          WorkSpec
	Status        Status
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Result        map[string]any
	Error         string
	ErrorType     string
	ErrorCategory string
	Attempt       int
	RetryOfRunID  string
	ParentRunID   string
	ExternalRef   string
}

// NewRunRecord creates a fresh, pending RunRecord for the given spec.
func NewRunRecord(runID string, spec WorkSpec, now time.Time) *RunRecord {
	return &RunRecord{
		RunID:       runID,
		Spec:        spec,
		Status:      StatusPending,
		CreatedAt:   now,
		Attempt:     1,
		ParentRunID: spec.ParentRunID,
	}
}

// DurationSeconds derives elapsed execution time from the lifecycle
// timestamps, per spec.md §3.
func (r *RunRecord) DurationSeconds() float64 {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt).Seconds()
}

// Validate checks the status invariants of spec.md §3:
//   - StartedAt is nil iff status is pending/queued.
//   - CompletedAt is non-nil iff status is terminal.
func (r *RunRecord) Validate() error {
	wantStarted := r.Status != StatusPending && r.Status != StatusQueued
	if wantStarted && r.StartedAt == nil {
		return fmt.Errorf("run %s: status %s requires started_at", r.RunID, r.Status)
	}
	if !wantStarted && r.StartedAt != nil {
		return fmt.Errorf("run %s: status %s forbids started_at", r.RunID, r.Status)
	}
	if r.Status.Terminal() && r.CompletedAt == nil {
		return fmt.Errorf("run %s: terminal status %s requires completed_at", r.RunID, r.Status)
	}
	if !r.Status.Terminal() && r.CompletedAt != nil {
		return fmt.Errorf("run %s: non-terminal status %s forbids completed_at", r.RunID, r.Status)
	}
	if r.CompletedAt != nil && r.StartedAt != nil && r.CompletedAt.Before(*r.StartedAt) {
		return fmt.Errorf("run %s: completed_at before started_at", r.RunID)
	}
	return nil
}

// Transition returns a copy of the record moved to `to`, stamping the
// appropriate timestamp. It does not mutate the receiver. Callers
// persisting the transition must use a conditional UPDATE keyed on the
// current status (see internal/ledger) so that a concurrent writer loses
// the race rather than corrupting state.
func (r *RunRecord) Transition(to Status, now time.Time) (*RunRecord, error) {
	if !ValidTransition(r.Status, to) {
		return nil, &ErrInvalidTransition{From: r.Status, To: to}
	}
	next := *r
	next.Status = to
	switch to {
	case StatusRunning:
		next.StartedAt = &now
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		next.CompletedAt = &now
		if next.StartedAt == nil {
			// Cancelled directly from pending/queued: the run never ran, but
			// every status past pending/queued carries started_at (see
			// Validate), so it takes the cancellation time.
			next.StartedAt = &now
		}
	}
	return &next, nil
}

// WithResult returns a copy transitioned to completed with the given result.
func (r *RunRecord) WithResult(result map[string]any, now time.Time) (*RunRecord, error) {
	next, err := r.Transition(StatusCompleted, now)
	if err != nil {
		return nil, err
	}
	next.Result = result
	return next, nil
}

// WithError returns a copy transitioned to failed with the given error
// detail.
func (r *RunRecord) WithError(errMsg, errType, errCategory string, now time.Time) (*RunRecord, error) {
	next, err := r.Transition(StatusFailed, now)
	if err != nil {
		return nil, err
	}
	next.Error = errMsg
	next.ErrorType = errType
	next.ErrorCategory = errCategory
	return next, nil
}

// Retry builds a new RunRecord representing a retry attempt of a failed run.
// The source run is never mutated; the caller persists both independently.
func (r *RunRecord) Retry(newRunID string, now time.Time) (*RunRecord, error) {
	if r.Status != StatusFailed {
		return nil, fmt.Errorf("run %s: cannot retry from status %s", r.RunID, r.Status)
	}
	spec := r.Spec.Clone()
	spec.TriggerSource = TriggerRetry
	next := NewRunRecord(newRunID, spec, now)
	next.Attempt = r.Attempt + 1
	next.RetryOfRunID = r.RunID
	next.ParentRunID = r.ParentRunID
	return next, nil
}
