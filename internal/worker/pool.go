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

// Package worker implements the polling worker loop of spec.md §4.8: a
// long-running goroutine that periodically claims a batch of pending
// executions, resolves each one's handler from the registry, and runs it
// to completion. Multiple Pools can poll the same ledger safely since the
// claim itself is the ledger's own conditional UPDATE (internal/ledger's
// ClaimPending): a row another worker claims first simply does not come
// back from the query.
//
// Grounded on the teacher's internal/daemon/runner.Runner: its
// channel-backed semaphore for bounded parallelism and its
// StartDraining/IsDraining/WaitForDrain graceful-shutdown
// shape are reused here, generalized from a submission-queue runner to a
// poll-claim-execute loop.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ryansmccoy/spine-core-sub007/internal/metrics"
	"github.com/ryansmccoy/spine-core-sub007/internal/registry"
	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// Store is the narrow ledger surface the worker loop needs: claiming a
// batch of pending executions and recording the transitions it causes.
type Store interface {
	ClaimPending(ctx context.Context, batchSize int, now time.Time) ([]*spine.RunRecord, error)
	UpdateStatus(ctx context.Context, next *spine.RunRecord, from ...spine.Status) error
	RecordEvent(ctx context.Context, runID string, eventType spine.EventType, payload map[string]any, now time.Time) (spine.Event, error)
}

// RegistryLike is satisfied by *registry.Registry.
type RegistryLike interface {
	Get(kind spine.Kind, name string) (registry.Handler, error)
}

// Publisher is the narrow slice of internal/events.Bus the worker loop
// uses to announce lifecycle transitions. A nil Publisher skips
// publication entirely.
type Publisher interface {
	Publish(event spine.Event)
}

// Config controls a Pool's polling behavior (spec.md §4.8).
type Config struct {
	// Name identifies this pool in metrics labels; multiple Pools
	// polling distinct work should use distinct names.
	Name string
	// BatchSize is the maximum number of pending executions claimed per
	// poll tick.
	BatchSize int
	// PollInterval is how often the loop checks for newly pending work.
	PollInterval time.Duration
	// MaxWorkers bounds in-process parallelism across claimed executions.
	MaxWorkers int64
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 10
	}
	return c
}

// Stats reports a Pool's lifetime counters (spec.md §4.8 step 5).
type Stats struct {
	Processed int64
	Completed int64
	Failed    int64
	Uptime    time.Duration
}

// Pool is the worker loop of spec.md §4.8.
type Pool struct {
	store     Store
	registry  RegistryLike
	publisher Publisher
	log       *slog.Logger
	cfg       Config
	now       func() time.Time

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	draining  atomic.Bool
	startedAt time.Time

	processed atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

// New returns a Pool ready to Run.
func New(store Store, reg RegistryLike, publisher Publisher, cfg Config, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Pool{
		store:     store,
		registry:  reg,
		publisher: publisher,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
		sem:       semaphore.NewWeighted(cfg.MaxWorkers),
	}
}

func (p *Pool) publish(ev spine.Event) {
	if p.publisher != nil {
		p.publisher.Publish(ev)
	}
}

// Run polls until ctx is cancelled. After StartDraining it keeps running
// but claims no new work; it returns only once ctx is cancelled. Run
// blocks until every in-flight execution it started has returned.
func (p *Pool) Run(ctx context.Context) {
	p.startedAt = p.now()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case <-ticker.C:
			if p.draining.Load() {
				continue
			}
			p.pollOnce(ctx)
		}
	}
}

// pollOnce claims one batch and dispatches each claimed execution to its
// own goroutine, bounded by the MaxWorkers semaphore.
func (p *Pool) pollOnce(ctx context.Context) {
	claimed, err := p.store.ClaimPending(ctx, p.cfg.BatchSize, p.now())
	if err != nil {
		p.log.Error("worker: claim pending failed", "error", err)
		return
	}
	metrics.RecordClaims(p.cfg.Name, len(claimed))
	for _, record := range claimed {
		record := record
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		p.wg.Add(1)
		metrics.SetInFlight(p.cfg.Name, int(p.inFlight.Add(1)))
		go func() {
			defer p.wg.Done()
			defer p.sem.Release(1)
			defer metrics.SetInFlight(p.cfg.Name, int(p.inFlight.Add(-1)))
			p.execute(ctx, record)
		}()
	}
}

// execute resolves record's handler and runs it, persisting the
// completed/failed transition and emitting the matching event (spec.md
// §4.8 steps 2-3).
func (p *Pool) execute(ctx context.Context, record *spine.RunRecord) {
	p.processed.Add(1)

	if ev, err := p.store.RecordEvent(ctx, record.RunID, spine.EventStarted, nil, p.now()); err == nil {
		p.publish(ev)
	}

	handler, err := p.registry.Get(record.Spec.Kind, record.Spec.Name)
	if err != nil {
		p.fail(ctx, record, err)
		return
	}

	result, err := handler(ctx, record.Spec.ParamsOrEmpty())
	if err != nil {
		p.fail(ctx, record, err)
		return
	}
	p.succeed(ctx, record, result)
}

func (p *Pool) succeed(ctx context.Context, record *spine.RunRecord, result map[string]any) {
	next, err := record.WithResult(result, p.now())
	if err != nil {
		p.log.Error("worker: invalid completion transition", "run_id", record.RunID, "error", err)
		return
	}
	if err := p.store.UpdateStatus(ctx, next, record.Status); err != nil {
		p.log.Error("worker: update status to completed failed", "run_id", record.RunID, "error", err)
		return
	}
	p.completed.Add(1)
	if ev, err := p.store.RecordEvent(ctx, record.RunID, spine.EventCompleted, map[string]any{"result": result}, p.now()); err == nil {
		p.publish(ev)
	}
	metrics.RecordExecution(p.cfg.Name, "completed")
}

func (p *Pool) fail(ctx context.Context, record *spine.RunRecord, cause error) {
	next, err := record.WithError(cause.Error(), "", "", p.now())
	if err != nil {
		p.log.Error("worker: invalid failure transition", "run_id", record.RunID, "error", err)
		return
	}
	if err := p.store.UpdateStatus(ctx, next, record.Status); err != nil {
		p.log.Error("worker: update status to failed failed", "run_id", record.RunID, "error", err)
		return
	}
	p.failed.Add(1)
	if ev, err := p.store.RecordEvent(ctx, record.RunID, spine.EventFailed, map[string]any{"error": cause.Error()}, p.now()); err == nil {
		p.publish(ev)
	}
	metrics.RecordExecution(p.cfg.Name, "failed")
}

// StartDraining stops the pool from claiming new work; in-flight
// executions continue to completion.
func (p *Pool) StartDraining() {
	p.draining.Store(true)
	metrics.SetDraining(p.cfg.Name, true)
}

// IsDraining reports whether StartDraining has been called.
func (p *Pool) IsDraining() bool {
	return p.draining.Load()
}

// ErrDrainTimeout is returned by WaitForDrain when in-flight work has not
// finished before timeout elapses.
var ErrDrainTimeout = errors.New("worker: drain timeout")

// WaitForDrain blocks until every in-flight execution completes, ctx is
// cancelled, or timeout elapses.
func (p *Pool) WaitForDrain(ctx context.Context, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return ErrDrainTimeout
	}
}

// Stats reports the pool's lifetime counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Uptime:    p.now().Sub(p.startedAt),
	}
}
