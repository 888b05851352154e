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

package lock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// advisoryLockID hashes namespace into an int64 suitable for
// pg_try_advisory_lock. Using a hash rather than a fixed constant lets
// multiple spine deployments share a Postgres instance without
// colliding on the same advisory lock, so long as each uses a distinct
// namespace (typically the deployment or environment name).
func advisoryLockID(namespace string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	return int64(h.Sum64())
}

// Elector runs single-writer leader election across a fleet of scheduler
// or worker instances sharing one Postgres database, using
// pg_try_advisory_lock. Only meaningful against the Postgres dialect;
// SQLite and the other backends have no advisory lock primitive, so an
// Elector is simply not constructed for them (the scheduler runs as a
// single instance in that configuration).
type Elector struct {
	db        *sql.DB
	lockID    int64
	instance  string
	retryEvery time.Duration
	log       *slog.Logger

	mu        sync.RWMutex
	isLeader  bool
	callbacks []func(isLeader bool)

	stop chan struct{}
	done chan struct{}
}

// ElectorConfig configures an Elector.
type ElectorConfig struct {
	DB         *sql.DB
	Namespace  string // distinguishes concurrent deployments sharing one database
	InstanceID string
	RetryEvery time.Duration
	Log        *slog.Logger
}

// NewElector returns an Elector. It does not attempt to acquire
// leadership until Start is called.
func NewElector(cfg ElectorConfig) *Elector {
	if cfg.RetryEvery <= 0 {
		cfg.RetryEvery = 5 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Elector{
		db:         cfg.DB,
		lockID:     advisoryLockID(cfg.Namespace),
		instance:   cfg.InstanceID,
		retryEvery: cfg.RetryEvery,
		log:        log.With("component", "lock.elector", "instance_id", cfg.InstanceID),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the election loop in its own goroutine until Stop is
// called or ctx is cancelled.
func (e *Elector) Start(ctx context.Context) {
	go e.run(ctx)
}

// Stop ends the election loop and releases leadership if held, blocking
// until the loop has exited.
func (e *Elector) Stop() {
	close(e.stop)
	<-e.done
}

// IsLeader reports whether this instance currently holds the lock.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// OnLeadershipChange registers a callback fired whenever leadership
// status flips, in either direction.
func (e *Elector) OnLeadershipChange(fn func(isLeader bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, fn)
}

func (e *Elector) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.retryEvery)
	defer ticker.Stop()

	e.tryAcquire(ctx)
	for {
		select {
		case <-ctx.Done():
			e.release(context.Background())
			return
		case <-e.stop:
			e.release(context.Background())
			return
		case <-ticker.C:
			if !e.IsLeader() {
				e.tryAcquire(ctx)
				continue
			}
			if !e.stillHolding(ctx) {
				e.setLeader(false)
				e.log.Warn("lost leadership, will retry")
			}
		}
	}
}

func (e *Elector) tryAcquire(ctx context.Context) {
	var acquired bool
	err := e.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.lockID).Scan(&acquired)
	if err != nil {
		e.log.Error("failed to attempt leadership acquisition", "error", err)
		return
	}
	if acquired {
		e.setLeader(true)
		e.log.Info("acquired leadership")
	}
}

// stillHolding confirms the advisory lock is still held by this
// backend's own connection, since pg_try_advisory_lock is
// session-scoped: a dropped or recycled connection silently releases it.
func (e *Elector) stillHolding(ctx context.Context) bool {
	var holding bool
	err := e.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_locks
			WHERE locktype = 'advisory'
			AND objid = ($1 & 4294967295)::int
			AND pid = pg_backend_pid()
		)`, e.lockID).Scan(&holding)
	if err != nil {
		e.log.Error("failed to verify leadership", "error", err)
		return false
	}
	return holding
}

func (e *Elector) release(ctx context.Context) {
	if !e.IsLeader() {
		return
	}
	if _, err := e.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", e.lockID); err != nil {
		e.log.Error("failed to release leadership", "error", err)
	}
	e.setLeader(false)
	e.log.Info("released leadership")
}

func (e *Elector) setLeader(isLeader bool) {
	e.mu.Lock()
	changed := e.isLeader != isLeader
	e.isLeader = isLeader
	callbacks := make([]func(bool), len(e.callbacks))
	copy(callbacks, e.callbacks)
	e.mu.Unlock()

	if changed {
		for _, cb := range callbacks {
			cb(isLeader)
		}
	}
}
