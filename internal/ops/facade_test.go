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

package ops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansmccoy/spine-core-sub007/internal/dispatcher"
	"github.com/ryansmccoy/spine-core-sub007/internal/ledger"
	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

type fakeRunStore struct {
	runs      map[string]*spine.RunRecord
	cancelled map[string]bool
	retried   map[string]string
	cancelErr error
}

func newFakeRunStore(runs ...*spine.RunRecord) *fakeRunStore {
	m := map[string]*spine.RunRecord{}
	for _, r := range runs {
		m[r.RunID] = r
	}
	return &fakeRunStore{runs: m, cancelled: map[string]bool{}, retried: map[string]string{}}
}

func (f *fakeRunStore) GetRun(_ context.Context, runID string) (*spine.RunRecord, error) {
	r, ok := f.runs[runID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return r, nil
}

func (f *fakeRunStore) ListRuns(_ context.Context, filter dispatcher.ListFilter) ([]*spine.RunRecord, error) {
	var out []*spine.RunRecord
	for _, r := range f.runs {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRunStore) Cancel(_ context.Context, runID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled[runID] = true
	return nil
}

func (f *fakeRunStore) Retry(_ context.Context, runID string) (string, error) {
	newID := "retry-of-" + runID
	f.retried[runID] = newID
	return newID, nil
}

type fakeCounter struct {
	total int64
	err   error
}

func (f *fakeCounter) CountExecutions(context.Context, ledger.ListFilter) (int64, error) {
	return f.total, f.err
}

func runRecord(id string, status spine.Status) *spine.RunRecord {
	return &spine.RunRecord{RunID: id, Status: status}
}

func TestGetRunSucceeds(t *testing.T) {
	store := newFakeRunStore(runRecord("run-1", spine.StatusRunning))
	f := New(store, &fakeCounter{})

	res := f.GetRun(NewContext(context.Background(), "alice"), "run-1")
	require.True(t, res.Success)
	assert.Equal(t, "run-1", res.Data.RunID)
}

func TestGetRunNotFound(t *testing.T) {
	store := newFakeRunStore()
	f := New(store, &fakeCounter{})

	res := f.GetRun(NewContext(context.Background(), "alice"), "missing")
	require.False(t, res.Success)
	assert.Equal(t, CodeNotFound, res.Error.Code)
}

func TestListRunsPopulatesPageEnvelope(t *testing.T) {
	store := newFakeRunStore(runRecord("a", spine.StatusRunning), runRecord("b", spine.StatusRunning))
	f := New(store, &fakeCounter{total: 10})

	res := f.ListRuns(NewContext(context.Background(), "alice"), ListRunsRequest{Status: spine.StatusRunning, Limit: 2, Offset: 0})
	require.True(t, res.Success)
	assert.Len(t, res.Data.Items, 2)
	assert.Equal(t, int64(10), res.Data.Total)
	assert.True(t, res.Data.HasMore)
}

func TestListRunsDegradesWithoutTotalOnCountError(t *testing.T) {
	store := newFakeRunStore(runRecord("a", spine.StatusRunning))
	f := New(store, &fakeCounter{err: assert.AnError})

	res := f.ListRuns(NewContext(context.Background(), "alice"), ListRunsRequest{})
	require.True(t, res.Success)
	assert.NotEmpty(t, res.Warnings)
}

func TestCancelRunRejectsTerminalStatus(t *testing.T) {
	store := newFakeRunStore(runRecord("run-1", spine.StatusCompleted))
	f := New(store, &fakeCounter{})

	res := f.CancelRun(NewContext(context.Background(), "alice"), "run-1")
	require.False(t, res.Success)
	assert.Equal(t, CodeNotCancellable, res.Error.Code)
	assert.False(t, store.cancelled["run-1"])
}

func TestCancelRunSucceeds(t *testing.T) {
	store := newFakeRunStore(runRecord("run-1", spine.StatusRunning))
	f := New(store, &fakeCounter{})

	res := f.CancelRun(NewContext(context.Background(), "alice"), "run-1")
	require.True(t, res.Success)
	assert.True(t, store.cancelled["run-1"])
}

func TestCancelRunDryRunSkipsMutation(t *testing.T) {
	store := newFakeRunStore(runRecord("run-1", spine.StatusRunning))
	f := New(store, &fakeCounter{})

	res := f.CancelRun(NewContext(context.Background(), "alice").WithDryRun(true), "run-1")
	require.True(t, res.Success)
	assert.False(t, store.cancelled["run-1"])
	assert.NotEmpty(t, res.Warnings)
}

func TestRetryRunRejectsCompletedRun(t *testing.T) {
	store := newFakeRunStore(runRecord("run-1", spine.StatusCompleted))
	f := New(store, &fakeCounter{})

	res := f.RetryRun(NewContext(context.Background(), "alice"), "run-1")
	require.False(t, res.Success)
	assert.Equal(t, CodeAlreadyComplete, res.Error.Code)
}

func TestRetryRunRejectsNonFailedRun(t *testing.T) {
	store := newFakeRunStore(runRecord("run-1", spine.StatusRunning))
	f := New(store, &fakeCounter{})

	res := f.RetryRun(NewContext(context.Background(), "alice"), "run-1")
	require.False(t, res.Success)
	assert.Equal(t, CodeConflict, res.Error.Code)
}

func TestRetryRunSucceeds(t *testing.T) {
	store := newFakeRunStore(runRecord("run-1", spine.StatusFailed))
	f := New(store, &fakeCounter{})

	res := f.RetryRun(NewContext(context.Background(), "alice"), "run-1")
	require.True(t, res.Success)
	assert.Equal(t, "retry-of-run-1", res.Data)
}

func TestRetryRunDryRunSkipsSubmission(t *testing.T) {
	store := newFakeRunStore(runRecord("run-1", spine.StatusFailed))
	f := New(store, &fakeCounter{})

	res := f.RetryRun(NewContext(context.Background(), "alice").WithDryRun(true), "run-1")
	require.True(t, res.Success)
	assert.Empty(t, store.retried)
}
