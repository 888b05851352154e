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

package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// ThreadPool submits handler invocations to a bounded pool of goroutines,
// per spec.md §4.5. Submit returns as soon as a slot is reserved,
// waiting on ctx while the pool is saturated; the external ref is a
// future handle the caller can poll via GetStatus or cancel via Cancel.
type ThreadPool struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	futures map[string]*future
}

type future struct {
	cancel context.CancelFunc
	status Status
}

// NewThreadPool returns a pool allowing at most maxConcurrency handler
// invocations to run at once.
func NewThreadPool(maxConcurrency int64) *ThreadPool {
	return &ThreadPool{
		sem:     semaphore.NewWeighted(maxConcurrency),
		futures: make(map[string]*future),
	}
}

// Submit acquires a pool slot (blocking on ctx if the pool is saturated)
// and runs handler on a new goroutine. The external ref equals runID.
func (p *ThreadPool) Submit(ctx context.Context, runID string, spec spine.WorkSpec, handler Handler, reporter Reporter) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &future{cancel: cancel, status: StatusAccepted}
	p.mu.Lock()
	p.futures[runID] = f
	p.mu.Unlock()

	go func() {
		defer p.sem.Release(1)

		p.setStatus(runID, StatusRunning)
		if err := reporter.Running(runCtx, runID); err != nil {
			p.setStatus(runID, StatusFailed)
			return
		}

		result, err := handler(runCtx, spec.ParamsOrEmpty())
		if runCtx.Err() != nil {
			p.setStatus(runID, StatusCancelled)
			return
		}
		if err != nil {
			p.setStatus(runID, StatusFailed)
			_ = reporter.Failed(runCtx, runID, err)
			return
		}
		p.setStatus(runID, StatusCompleted)
		_ = reporter.Completed(runCtx, runID, result)
	}()

	return runID, nil
}

func (p *ThreadPool) setStatus(runID string, s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.futures[runID]; ok {
		f.status = s
	}
}

// Cancel signals the goroutine running externalRef to stop via context
// cancellation. It reports true iff a live future was found, regardless
// of whether the handler honors cancellation promptly.
func (p *ThreadPool) Cancel(ctx context.Context, externalRef string) (bool, error) {
	p.mu.Lock()
	f, ok := p.futures[externalRef]
	p.mu.Unlock()
	if !ok {
		return false, nil
	}
	f.cancel()
	return true, nil
}

// GetStatus returns the last known status for externalRef.
func (p *ThreadPool) GetStatus(ctx context.Context, externalRef string) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.futures[externalRef]
	if !ok {
		return "", ErrNotFound
	}
	return f.status, nil
}
