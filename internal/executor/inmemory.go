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

	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// InMemory invokes the handler synchronously on the caller's goroutine,
// per spec.md §4.5. Submit does not return until the handler does; the
// external ref is simply runID. Cancel on an in-memory submission that
// has already finished is always a no-op, since there is no separate
// goroutine left to signal.
type InMemory struct {
	mu       sync.Mutex
	statuses map[string]Status
}

// NewInMemory returns a ready-to-use in-memory executor.
func NewInMemory() *InMemory {
	return &InMemory{statuses: make(map[string]Status)}
}

func (e *InMemory) setStatus(runID string, s Status) {
	e.mu.Lock()
	e.statuses[runID] = s
	e.mu.Unlock()
}

// Submit runs handler to completion before returning, reporting Running
// then Completed or Failed to reporter along the way.
func (e *InMemory) Submit(ctx context.Context, runID string, spec spine.WorkSpec, handler Handler, reporter Reporter) (string, error) {
	e.setStatus(runID, StatusRunning)
	if err := reporter.Running(ctx, runID); err != nil {
		return runID, err
	}

	result, err := handler(ctx, spec.ParamsOrEmpty())
	if err != nil {
		e.setStatus(runID, StatusFailed)
		if rErr := reporter.Failed(ctx, runID, err); rErr != nil {
			return runID, rErr
		}
		return runID, nil
	}

	e.setStatus(runID, StatusCompleted)
	if err := reporter.Completed(ctx, runID, result); err != nil {
		return runID, err
	}
	return runID, nil
}

// Cancel is always a no-op for the in-memory executor: by the time a
// caller could observe externalRef, Submit has already returned.
func (e *InMemory) Cancel(ctx context.Context, externalRef string) (bool, error) {
	return false, nil
}

// GetStatus returns the last status observed for externalRef.
func (e *InMemory) GetStatus(ctx context.Context, externalRef string) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.statuses[externalRef]
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}
