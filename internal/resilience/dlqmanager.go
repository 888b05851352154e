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

package resilience

import (
	"context"
	"errors"

	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// ErrDLQExhausted is returned by DLQManager.Retry when the entry has
// already used its retry budget (spec.md §4.7's max_retries).
var ErrDLQExhausted = errors.New("resilience: dead letter has exhausted its retry budget")

// DeadLetterStore is the slice of *ledger.Ledger's DLQ methods the manager
// needs, kept as a narrow interface for the same reason LockStore is
// (spec.md §9's Runnable pattern: resilience never imports ledger).
type DeadLetterStore interface {
	AddToDLQ(ctx context.Context, executionID, workflow string, params map[string]any, errMsg string, maxRetries int) (*spine.DeadLetter, error)
	GetDLQEntry(ctx context.Context, id string) (*spine.DeadLetter, error)
	ListUnresolvedDLQ(ctx context.Context, limit int) ([]*spine.DeadLetter, error)
	MarkRetryAttempted(ctx context.Context, id string) error
	ResolveDLQ(ctx context.Context, id, resolvedBy string) error
}

// Resubmit is the caller-supplied callback a DLQManager invokes to turn a
// dead letter back into a fresh, running execution. Dispatcher wires this
// to its own Submit so resilience never depends on the dispatcher package.
type Resubmit func(ctx context.Context, workflow string, params map[string]any) (string, error)

// DLQManager implements spec.md §4.7's park-and-retry lifecycle for
// permanently-failed executions: Park parks them, Retry resubmits them
// as a brand-new execution (never mutating the original run record) and
// records the attempt, and Resolve terminally closes an entry whether or
// not it was ever retried.
type DLQManager struct {
	store    DeadLetterStore
	resubmit Resubmit
}

// NewDLQManager returns a manager backed by store, using resubmit to
// create new executions on Retry.
func NewDLQManager(store DeadLetterStore, resubmit Resubmit) *DLQManager {
	return &DLQManager{store: store, resubmit: resubmit}
}

// Park records executionID's terminal failure as a new dead-letter entry.
func (m *DLQManager) Park(ctx context.Context, executionID, workflow string, params map[string]any, cause error, maxRetries int) (*spine.DeadLetter, error) {
	return m.store.AddToDLQ(ctx, executionID, workflow, params, cause.Error(), maxRetries)
}

// Retry resubmits the dead letter identified by id as a new execution,
// returning the new execution's ID. It refuses to resubmit an entry that
// is already resolved or has exhausted its retry budget.
func (m *DLQManager) Retry(ctx context.Context, id string) (string, error) {
	entry, err := m.store.GetDLQEntry(ctx, id)
	if err != nil {
		return "", err
	}
	if !entry.CanRetry() {
		return "", ErrDLQExhausted
	}

	newID, err := m.resubmit(ctx, entry.WorkflowName, entry.Params)
	if err != nil {
		return "", err
	}
	if err := m.store.MarkRetryAttempted(ctx, id); err != nil {
		return newID, err
	}
	return newID, nil
}

// Resolve terminally closes a dead-letter entry, recording who closed it.
// A resolved entry can never be retried again.
func (m *DLQManager) Resolve(ctx context.Context, id, resolvedBy string) error {
	return m.store.ResolveDLQ(ctx, id, resolvedBy)
}

// ListUnresolved returns up to limit unresolved dead letters, oldest first.
func (m *DLQManager) ListUnresolved(ctx context.Context, limit int) ([]*spine.DeadLetter, error) {
	return m.store.ListUnresolvedDLQ(ctx, limit)
}
