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

// Package scheduler implements the Scheduler Service of spec.md §4.11: a
// ticker backend drives periodic ticks, each of which polls due schedules,
// takes the per-schedule lock, resolves and submits the target, then
// recomputes next_run_at.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ryansmccoy/spine-core-sub007/internal/dispatcher"
	"github.com/ryansmccoy/spine-core-sub007/internal/lock"
	"github.com/ryansmccoy/spine-core-sub007/internal/metrics"
	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// Repository is the narrow *internal/ledger.Ledger slice the scheduler
// needs for schedule CRUD and due-schedule polling.
type Repository interface {
	GetDueSchedules(ctx context.Context, now time.Time) ([]*spine.Schedule, error)
	GetSchedule(ctx context.Context, name string) (*spine.Schedule, error)
	ListSchedules(ctx context.Context) ([]*spine.Schedule, error)
	UpdateScheduleAfterDispatch(ctx context.Context, name string, lastRun, nextRun time.Time) error
	SetScheduleEnabled(ctx context.Context, name string, enabled bool) error
}

// LockManager is the slice of *internal/lock.Manager the scheduler uses
// to serialize dispatch of a given schedule across instances.
type LockManager interface {
	Acquire(ctx context.Context, kind lock.Kind, key, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, kind lock.Kind, key, holder string) (bool, error)
}

// RegistryLike lets the scheduler confirm a schedule's target is
// registered before it even attempts to acquire a lock for it.
type RegistryLike interface {
	Has(kind spine.Kind, name string) bool
}

// Dispatcher is the slice of *internal/dispatcher.Dispatcher the
// scheduler submits through.
type Dispatcher interface {
	SubmitWorkflow(ctx context.Context, name string, params map[string]any, opts ...dispatcher.SubmitOption) (string, error)
	SubmitTask(ctx context.Context, name string, params map[string]any, opts ...dispatcher.SubmitOption) (string, error)
}

// Config configures a Service.
type Config struct {
	Repository Repository
	Locks      LockManager
	Registry   RegistryLike
	Dispatcher Dispatcher
	Backend    Backend // defaults to a tickerBackend if nil

	InstanceID string        // identifies this instance as a lock holder
	TickEvery  time.Duration // default 1s
	LockTTL    time.Duration // default 30s
	Log        *slog.Logger

	// DispatchRateLimit caps how many due schedules a single Tick may
	// dispatch per second; zero means unlimited. This smooths the
	// dispatch burst that follows an instance restart with many
	// schedules due at once, rather than submitting them all in one
	// tight loop.
	DispatchRateLimit float64
}

// Service is the Scheduler Service of spec.md §4.11.
type Service struct {
	repo     Repository
	locks    LockManager
	registry RegistryLike
	dispatch Dispatcher
	backend  Backend

	instanceID string
	tickEvery  time.Duration
	lockTTL    time.Duration
	log        *slog.Logger
	limiter    *rate.Limiter

	mu              sync.Mutex
	activeLockCount int
}

// New returns a Service. It does not start ticking until Start is called.
func New(cfg Config) *Service {
	if cfg.Backend == nil {
		cfg.Backend = newTickerBackend()
	}
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.DispatchRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRateLimit), 1)
	}
	return &Service{
		repo:       cfg.Repository,
		locks:      cfg.Locks,
		registry:   cfg.Registry,
		dispatch:   cfg.Dispatcher,
		backend:    cfg.Backend,
		instanceID: cfg.InstanceID,
		tickEvery:  cfg.TickEvery,
		lockTTL:    cfg.LockTTL,
		log:        log.With("component", "scheduler"),
		limiter:    limiter,
	}
}

// Start begins ticking. Each tick calls Tick against the current time.
func (s *Service) Start(ctx context.Context) {
	s.backend.Start(func(now time.Time) { s.Tick(ctx, now) }, s.tickEvery)
}

// Stop ends the tick loop, blocking until the in-flight tick (if any)
// returns.
func (s *Service) Stop() {
	s.backend.Stop()
}

// Tick runs one scheduling cycle against now: spec.md §4.11 steps 1-5.
func (s *Service) Tick(ctx context.Context, now time.Time) {
	due, err := s.repo.GetDueSchedules(ctx, now)
	if err != nil {
		s.log.Error("failed to query due schedules", "error", err)
		return
	}
	metrics.RecordTick(len(due))
	for _, sched := range due {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
		}
		s.dispatchDue(ctx, sched, now)
	}
}

func (s *Service) dispatchDue(ctx context.Context, sched *spine.Schedule, now time.Time) {
	schedLog := s.log.With("schedule", sched.Name, "target_type", string(sched.TargetType), "target_name", sched.TargetName)

	if !s.registry.Has(targetKind(sched.TargetType), sched.TargetName) {
		schedLog.Error("schedule target is not registered, skipping")
		metrics.RecordDispatchOutcome(metrics.OutcomeTargetMissing)
		return
	}

	acquired, err := s.locks.Acquire(ctx, lock.KindSchedule, sched.ScheduleID, s.instanceID, s.lockTTL)
	if err != nil {
		schedLog.Error("failed to acquire schedule lock", "error", err)
		metrics.RecordDispatchOutcome(metrics.OutcomeSubmitFailed)
		return
	}
	if !acquired {
		schedLog.Debug("schedule lock held by another instance, skipping this tick")
		metrics.RecordDispatchOutcome(metrics.OutcomeLockHeld)
		return
	}
	s.trackLockHeld(1)
	defer func() {
		s.trackLockHeld(-1)
		if _, err := s.locks.Release(ctx, lock.KindSchedule, sched.ScheduleID, s.instanceID); err != nil {
			schedLog.Error("failed to release schedule lock", "error", err)
		}
	}()

	if _, err := s.submit(ctx, sched, sched.Params, spine.TriggerSchedule); err != nil {
		schedLog.Error("failed to submit scheduled target", "error", err)
		metrics.RecordDispatchOutcome(metrics.OutcomeSubmitFailed)
		return
	}
	metrics.RecordDispatchOutcome(metrics.OutcomeDispatched)

	next, err := s.nextRunAt(sched, now)
	if err != nil {
		schedLog.Error("failed to compute next run time", "error", err)
		return
	}
	if err := s.repo.UpdateScheduleAfterDispatch(ctx, sched.Name, now, next); err != nil {
		schedLog.Error("failed to update schedule after dispatch", "error", err)
	}
}

func (s *Service) submit(ctx context.Context, sched *spine.Schedule, params map[string]any, trigger spine.TriggerSource) (string, error) {
	opt := dispatcher.WithTriggerSource(trigger)
	switch sched.TargetType {
	case spine.TargetWorkflow:
		return s.dispatch.SubmitWorkflow(ctx, sched.TargetName, params, opt)
	case spine.TargetOperation:
		return s.dispatch.SubmitTask(ctx, sched.TargetName, params, opt)
	default:
		return "", fmt.Errorf("scheduler: unknown target type %q", sched.TargetType)
	}
}

func targetKind(t spine.TargetType) spine.Kind {
	if t == spine.TargetWorkflow {
		return spine.KindWorkflow
	}
	return spine.KindTask
}

func (s *Service) nextRunAt(sched *spine.Schedule, from time.Time) (time.Time, error) {
	if sched.IsCron() {
		expr, err := parseCron(sched.CronExpression)
		if err != nil {
			return time.Time{}, err
		}
		return expr.next(from), nil
	}
	return from.Add(time.Duration(sched.IntervalSeconds) * time.Second), nil
}

func (s *Service) trackLockHeld(delta int) {
	s.mu.Lock()
	s.activeLockCount += delta
	count := s.activeLockCount
	s.mu.Unlock()
	metrics.SetActiveLocks(count)
}

// Pause disables a schedule so due-polling skips it, without deleting it.
func (s *Service) Pause(ctx context.Context, name string) error {
	return s.repo.SetScheduleEnabled(ctx, name, false)
}

// Resume re-enables a paused schedule.
func (s *Service) Resume(ctx context.Context, name string) error {
	return s.repo.SetScheduleEnabled(ctx, name, true)
}

// Trigger submits name's target immediately, merging paramsOverride over
// the schedule's configured params. A manual trigger still takes the
// schedule lock (so it cannot race a concurrent tick dispatching the same
// schedule) but deliberately does not touch next_run_at: it is an
// out-of-band run, not a tick of the regular cadence.
func (s *Service) Trigger(ctx context.Context, name string, paramsOverride map[string]any) (string, error) {
	sched, err := s.repo.GetSchedule(ctx, name)
	if err != nil {
		return "", err
	}
	if !s.registry.Has(targetKind(sched.TargetType), sched.TargetName) {
		return "", fmt.Errorf("scheduler: target %s/%s is not registered", sched.TargetType, sched.TargetName)
	}

	acquired, err := s.locks.Acquire(ctx, lock.KindSchedule, sched.ScheduleID, s.instanceID, s.lockTTL)
	if err != nil {
		return "", err
	}
	if !acquired {
		return "", fmt.Errorf("scheduler: schedule %s is locked by another instance", name)
	}
	defer s.locks.Release(ctx, lock.KindSchedule, sched.ScheduleID, s.instanceID)

	params := make(map[string]any, len(sched.Params)+len(paramsOverride))
	for k, v := range sched.Params {
		params[k] = v
	}
	for k, v := range paramsOverride {
		params[k] = v
	}
	return s.submit(ctx, sched, params, spine.TriggerManual)
}

// Health aggregates the backend's tick health with the scheduler's own
// state: active lock count here means locks this instance currently
// holds, not a fleet-wide count (the lock tables expose no such query).
type Health struct {
	Backend         BackendHealth
	ActiveLockCount int
}

func (s *Service) Health() Health {
	s.mu.Lock()
	count := s.activeLockCount
	s.mu.Unlock()
	return Health{Backend: s.backend.Health(), ActiveLockCount: count}
}
