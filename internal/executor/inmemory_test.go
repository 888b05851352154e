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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

type recordingReporter struct {
	running   []string
	completed []string
	failed    []string
	results   map[string]map[string]any
	errs      map[string]error
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{results: make(map[string]map[string]any), errs: make(map[string]error)}
}

func (r *recordingReporter) Running(ctx context.Context, runID string) error {
	r.running = append(r.running, runID)
	return nil
}

func (r *recordingReporter) Completed(ctx context.Context, runID string, result map[string]any) error {
	r.completed = append(r.completed, runID)
	r.results[runID] = result
	return nil
}

func (r *recordingReporter) Failed(ctx context.Context, runID string, err error) error {
	r.failed = append(r.failed, runID)
	r.errs[runID] = err
	return nil
}

func TestInMemorySubmitSuccess(t *testing.T) {
	e := NewInMemory()
	reporter := newRecordingReporter()

	ref, err := e.Submit(context.Background(), "run-1", spine.WorkSpec{Name: "do-thing"}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}, reporter)

	require.NoError(t, err)
	assert.Equal(t, "run-1", ref)
	assert.Equal(t, []string{"run-1"}, reporter.running)
	assert.Equal(t, []string{"run-1"}, reporter.completed)
	assert.Empty(t, reporter.failed)

	status, err := e.GetStatus(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
}

func TestInMemorySubmitFailure(t *testing.T) {
	e := NewInMemory()
	reporter := newRecordingReporter()
	sentinel := errors.New("handler exploded")

	_, err := e.Submit(context.Background(), "run-2", spine.WorkSpec{}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return nil, sentinel
	}, reporter)

	require.NoError(t, err) // Submit itself doesn't fail; it reports the handler's failure
	assert.Equal(t, []string{"run-2"}, reporter.failed)
	assert.ErrorIs(t, reporter.errs["run-2"], sentinel)

	status, err := e.GetStatus(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
}

func TestInMemoryGetStatusUnknownRef(t *testing.T) {
	e := NewInMemory()
	_, err := e.GetStatus(context.Background(), "never-submitted")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryCancelIsAlwaysNoOp(t *testing.T) {
	e := NewInMemory()
	ok, err := e.Cancel(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}
