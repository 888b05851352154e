package spine

import (
	"fmt"
	"time"
)

// TargetType identifies what a Schedule dispatches: a registered workflow or
// a registered operation (task).
type TargetType string

const (
	TargetWorkflow  TargetType = "workflow"
	TargetOperation TargetType = "operation"
)

// Schedule is a time-based trigger definition (spec.md §3). Exactly one of
// CronExpression or IntervalSeconds must be set; Validate enforces this.
type Schedule struct {
	ScheduleID      string
	Name            string
	TargetType      TargetType
	TargetName      string
	CronExpression  string
	IntervalSeconds int
	Enabled         bool
	NextRunAt       time.Time
	LastRunAt       *time.Time
	Params          map[string]any
}

// Validate enforces that exactly one schedule kind is configured.
func (s *Schedule) Validate() error {
	hasCron := s.CronExpression != ""
	hasInterval := s.IntervalSeconds > 0
	if hasCron == hasInterval {
		return fmt.Errorf("schedule %s: exactly one of cron_expression or interval_seconds must be set", s.Name)
	}
	return nil
}

// IsCron reports whether the schedule is cron-driven rather than
// interval-driven.
func (s *Schedule) IsCron() bool {
	return s.CronExpression != ""
}

// ScheduleLock is the per-schedule mutual-exclusion row (spec.md §3).
type ScheduleLock struct {
	ScheduleID string
	LockedBy   string
	LockedAt   time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lock has passed its TTL as of `now`.
func (l *ScheduleLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// ConcurrencyLock is an arbitrary-resource-keyed mutual-exclusion row,
// sharing acquisition discipline with ScheduleLock (spec.md §3).
type ConcurrencyLock struct {
	LockKey     string
	ExecutionID string
	AcquiredAt  time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the lock has passed its TTL as of `now`.
func (l *ConcurrencyLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
