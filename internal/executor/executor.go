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

// Package executor provides the pluggable submission strategies of
// spec.md §4.5: in-memory (synchronous, caller's goroutine), thread pool
// (bounded async), and a remote runtime adapter stub. The Dispatcher is
// executor-agnostic: it only ever calls Submit/Cancel/GetStatus against
// the Executor interface, never a concrete implementation.
package executor

import (
	"context"
	"errors"

	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// ErrNotFound is returned by GetStatus/Cancel when externalRef is unknown
// to this executor.
var ErrNotFound = errors.New("executor: external ref not found")

// Status reports an executor-internal view of a submitted spec, distinct
// from (but informing) the RunRecord's ledger-persisted Status.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Handler is resolved from the registry by kind+name and invoked with the
// spec's params.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Reporter is the narrow slice of ledger-backed transition recording an
// executor needs: "Each executor is responsible for updating the
// RunRecord via the Ledger at every transition" (spec.md §4.5). Declaring
// it here rather than importing internal/ledger keeps executor strategies
// free of a storage dependency; the dispatcher supplies a concrete
// Reporter backed by the ledger and event bus at call time.
type Reporter interface {
	Running(ctx context.Context, runID string) error
	Completed(ctx context.Context, runID string, result map[string]any) error
	Failed(ctx context.Context, runID string, err error) error
}

// Executor is the strategy interface of spec.md §4.5. Implementations
// call the supplied Reporter at every transition they cause; the
// dispatcher only records the CREATED event and the submission-failure
// path itself.
type Executor interface {
	// Submit hands spec off for execution under runID, using handler to
	// perform the work and reporter to persist transitions. It returns an
	// external reference identifying the submission (trivial for the
	// in-memory executor, a future handle for the thread pool, an
	// adapter-specific ID for remote runtimes).
	//
	// Submit may block (in-memory executor: blocks until handler
	// returns) or return immediately (thread pool, remote adapter).
	Submit(ctx context.Context, runID string, spec spine.WorkSpec, handler Handler, reporter Reporter) (externalRef string, err error)

	// Cancel requests cancellation of externalRef, returning whether a
	// live submission was found and signalled. Cancellation of a
	// synchronous in-memory submission that has already returned is a
	// no-op (false, nil).
	Cancel(ctx context.Context, externalRef string) (bool, error)

	// GetStatus reports the last known status for externalRef, or
	// ErrNotFound if the executor has no record of it (e.g. it was
	// already reaped after completion).
	GetStatus(ctx context.Context, externalRef string) (Status, error)
}
