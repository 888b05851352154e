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

// Checkpoints and step results supplement the manifest-stage idempotency
// of spec.md §4.10 with the teacher's finer-grained recovery primitives
// (internal/daemon/runner/checkpoint.go, StepResultStore), per
// SPEC_FULL.md §4.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ryansmccoy/spine-core-sub007/internal/errs"
)

// Checkpoint is a crash-recovery snapshot of a workflow run's in-flight
// context at a given step, letting a resumed run skip completed steps
// without replaying them.
type Checkpoint struct {
	RunID     string
	StepID    string
	StepIndex int
	Context   map[string]any
	CreatedAt time.Time
}

// SaveCheckpoint upserts the checkpoint for a run, overwriting any prior
// checkpoint (only the latest matters for resume).
func (l *Ledger) SaveCheckpoint(ctx context.Context, c Checkpoint) error {
	data, err := json.Marshal(c.Context)
	if err != nil {
		return errs.Wrap(err, errs.CategoryInternal, "ledger.SaveCheckpoint", "marshal context")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	query := l.dialect.Upsert("core_checkpoints",
		[]string{"run_id", "step_id", "step_index", "context", "created_at"},
		[]string{"run_id"},
		[]string{"step_id", "step_index", "context", "created_at"})
	_, err = l.db.ExecContext(ctx, query, c.RunID, c.StepID, c.StepIndex, string(data), formatTime(c.CreatedAt))
	if err != nil {
		return errs.Wrap(err, errs.CategoryDatabase, "ledger.SaveCheckpoint", "upsert")
	}
	return nil
}

// GetCheckpoint loads the latest checkpoint for a run, or ErrNotFound.
func (l *Ledger) GetCheckpoint(ctx context.Context, runID string) (*Checkpoint, error) {
	query := fmt.Sprintf(`SELECT run_id, step_id, step_index, context, created_at
		FROM core_checkpoints WHERE run_id = %s`, l.dialect.Placeholder(1))
	var c Checkpoint
	var data, createdAt string
	err := l.db.QueryRowContext(ctx, query, runID).Scan(&c.RunID, &c.StepID, &c.StepIndex, &data, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.GetCheckpoint", "query")
	}
	if data != "" && data != "null" {
		if err := json.Unmarshal([]byte(data), &c.Context); err != nil {
			return nil, fmt.Errorf("ledger: unmarshal checkpoint context: %w", err)
		}
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("ledger: parse checkpoint created_at: %w", err)
	}
	return &c, nil
}

// StepResult is a per-step execution record, richer than the coarse
// RunRecord: inputs, outputs, duration, and status for one workflow step.
type StepResult struct {
	RunID      string
	StepID     string
	StepIndex  int
	Inputs     map[string]any
	Outputs    map[string]any
	DurationMs int64
	Status     string
	Error      string
	CreatedAt  time.Time
}

// SaveStepResult upserts the result row for (RunID, StepID).
func (l *Ledger) SaveStepResult(ctx context.Context, r StepResult) error {
	inputs, err := json.Marshal(r.Inputs)
	if err != nil {
		return errs.Wrap(err, errs.CategoryInternal, "ledger.SaveStepResult", "marshal inputs")
	}
	outputs, err := json.Marshal(r.Outputs)
	if err != nil {
		return errs.Wrap(err, errs.CategoryInternal, "ledger.SaveStepResult", "marshal outputs")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	query := l.dialect.Upsert("core_step_results",
		[]string{"run_id", "step_id", "step_index", "inputs", "outputs", "duration_ms", "status", "error", "created_at"},
		[]string{"run_id", "step_id"},
		[]string{"step_index", "inputs", "outputs", "duration_ms", "status", "error", "created_at"})
	_, err = l.db.ExecContext(ctx, query, r.RunID, r.StepID, r.StepIndex, string(inputs), string(outputs),
		r.DurationMs, r.Status, nullString(r.Error), formatTime(r.CreatedAt))
	if err != nil {
		return errs.Wrap(err, errs.CategoryDatabase, "ledger.SaveStepResult", "upsert")
	}
	return nil
}

// ListStepResults returns every recorded step result for a run, in step
// order.
func (l *Ledger) ListStepResults(ctx context.Context, runID string) ([]StepResult, error) {
	query := fmt.Sprintf(`SELECT run_id, step_id, step_index, inputs, outputs, duration_ms, status, error, created_at
		FROM core_step_results WHERE run_id = %s ORDER BY step_index ASC`, l.dialect.Placeholder(1))
	rows, err := l.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.ListStepResults", "query")
	}
	defer rows.Close()

	var out []StepResult
	for rows.Next() {
		var r StepResult
		var inputs, outputs, createdAt string
		var errStr sql.NullString
		if err := rows.Scan(&r.RunID, &r.StepID, &r.StepIndex, &inputs, &outputs, &r.DurationMs,
			&r.Status, &errStr, &createdAt); err != nil {
			return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.ListStepResults", "scan")
		}
		r.Error = stringOrEmpty(errStr)
		if inputs != "" && inputs != "null" {
			if err := json.Unmarshal([]byte(inputs), &r.Inputs); err != nil {
				return nil, fmt.Errorf("ledger: unmarshal step inputs: %w", err)
			}
		}
		if outputs != "" && outputs != "null" {
			if err := json.Unmarshal([]byte(outputs), &r.Outputs); err != nil {
				return nil, fmt.Errorf("ledger: unmarshal step outputs: %w", err)
			}
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("ledger: parse step result created_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
