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

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ryansmccoy/spine-core-sub007/internal/errs"
	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("ledger: not found")

// ErrConflict is returned when a conditional UPDATE (state-machine
// transition or lock mutation) affects zero rows because another writer
// already changed the row, per spec.md §4.3's single-writer discipline.
var ErrConflict = errors.New("ledger: conflicting write")

// CreateExecution persists a brand-new RunRecord row.
func (l *Ledger) CreateExecution(ctx context.Context, r *spine.RunRecord) error {
	params, err := json.Marshal(r.Spec.ParamsOrEmpty())
	if err != nil {
		return errs.Wrap(err, errs.CategoryInternal, "ledger.CreateExecution", "marshal params")
	}
	meta, err := json.Marshal(r.Spec.Metadata)
	if err != nil {
		return errs.Wrap(err, errs.CategoryInternal, "ledger.CreateExecution", "marshal metadata")
	}

	query := fmt.Sprintf(`INSERT INTO core_executions
		(id, workflow, kind, params, metadata, status, trigger_source, parent_execution_id,
		 created_at, started_at, completed_at, result, error, error_type, error_category,
		 attempt, retry_of_run_id, external_ref, idempotency_key)
		VALUES (%s)`, l.dialect.Placeholders(19))

	_, err = l.db.ExecContext(ctx, query,
		r.RunID, r.Spec.Name, string(r.Spec.Kind), string(params), string(meta), string(r.Status),
		string(r.Spec.TriggerSource), nullString(r.ParentRunID),
		formatTime(r.CreatedAt), formatTimePtr(r.StartedAt), formatTimePtr(r.CompletedAt),
		nullString(""), nullString(r.Error), nullString(r.ErrorType), nullString(r.ErrorCategory),
		r.Attempt, nullString(r.RetryOfRunID), nullString(r.ExternalRef), nullString(r.Spec.IdempotencyKey),
	)
	if err != nil {
		return errs.Wrap(err, errs.CategoryDatabase, "ledger.CreateExecution", "insert execution")
	}
	return nil
}

// GetExecution loads a RunRecord by run ID.
func (l *Ledger) GetExecution(ctx context.Context, runID string) (*spine.RunRecord, error) {
	query := fmt.Sprintf(`SELECT id, workflow, kind, params, metadata, status, trigger_source,
		parent_execution_id, created_at, started_at, completed_at, result, error, error_type,
		error_category, attempt, retry_of_run_id, external_ref, idempotency_key
		FROM core_executions WHERE id = %s`, l.dialect.Placeholder(1))
	row := l.db.QueryRowContext(ctx, query, runID)
	return scanExecution(row)
}

// GetByIdempotencyKey returns the most recently created non-failed
// execution recorded under key, or ErrNotFound if none exists (spec.md §4.6 step 2).
func (l *Ledger) GetByIdempotencyKey(ctx context.Context, key string) (*spine.RunRecord, error) {
	query := fmt.Sprintf(`SELECT id, workflow, kind, params, metadata, status, trigger_source,
		parent_execution_id, created_at, started_at, completed_at, result, error, error_type,
		error_category, attempt, retry_of_run_id, external_ref, idempotency_key
		FROM core_executions WHERE idempotency_key = %s AND status != %s
		ORDER BY created_at DESC LIMIT 1`, l.dialect.Placeholder(1), l.dialect.Placeholder(2))
	row := l.db.QueryRowContext(ctx, query, key, string(spine.StatusFailed))
	return scanExecution(row)
}

// UpdateStatus performs the conditional UPDATE that enforces spec.md
// §4.3's single-writer state machine: the WHERE clause only matches rows
// currently in one of `from`, so a concurrent writer that already moved
// the row elsewhere affects zero rows and gets ErrConflict back.
func (l *Ledger) UpdateStatus(ctx context.Context, next *spine.RunRecord, from ...spine.Status) error {
	result, err := json.Marshal(next.Result)
	if err != nil {
		return errs.Wrap(err, errs.CategoryInternal, "ledger.UpdateStatus", "marshal result")
	}

	placeholders := make([]string, len(from))
	args := []any{
		string(next.Status), formatTimePtr(next.StartedAt), formatTimePtr(next.CompletedAt),
		string(result), nullString(next.Error), nullString(next.ErrorType), nullString(next.ErrorCategory),
		next.Attempt, nullString(next.ExternalRef), next.RunID,
	}
	base := len(args)
	for i, s := range from {
		placeholders[i] = l.dialect.Placeholder(base + i + 1)
		args = append(args, string(s))
	}

	query := fmt.Sprintf(`UPDATE core_executions SET status = %s, started_at = %s,
		completed_at = %s, result = %s, error = %s, error_type = %s, error_category = %s,
		attempt = %s, external_ref = %s
		WHERE id = %s AND status IN (%s)`,
		l.dialect.Placeholder(1), l.dialect.Placeholder(2), l.dialect.Placeholder(3),
		l.dialect.Placeholder(4), l.dialect.Placeholder(5), l.dialect.Placeholder(6),
		l.dialect.Placeholder(7), l.dialect.Placeholder(8), l.dialect.Placeholder(9),
		l.dialect.Placeholder(10), joinPlaceholders(placeholders))

	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errs.Wrap(err, errs.CategoryDatabase, "ledger.UpdateStatus", "update execution")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(err, errs.CategoryDatabase, "ledger.UpdateStatus", "rows affected")
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ListFilter narrows ListExecutions.
type ListFilter struct {
	Status      spine.Status
	Workflow    string
	ParentRunID string
	Limit       int
	Offset      int
}

// filterWhere builds the shared "WHERE 1=1 AND ..." clause and its
// argument list for f, via next (a placeholder generator sharing a
// single counter across callers that append further clauses of their
// own, such as ListExecutions' LIMIT/OFFSET).
func filterWhere(f ListFilter, next func() string) (string, []any) {
	var clause string
	var args []any
	if f.Status != "" {
		clause += " AND status = " + next()
		args = append(args, string(f.Status))
	}
	if f.Workflow != "" {
		clause += " AND workflow = " + next()
		args = append(args, f.Workflow)
	}
	if f.ParentRunID != "" {
		clause += " AND parent_execution_id = " + next()
		args = append(args, f.ParentRunID)
	}
	return clause, args
}

// ListExecutions returns RunRecords matching filter, newest first.
func (l *Ledger) ListExecutions(ctx context.Context, f ListFilter) ([]*spine.RunRecord, error) {
	n := 0
	next := func() string { n++; return l.dialect.Placeholder(n) }
	where, args := filterWhere(f, next)

	query := `SELECT id, workflow, kind, params, metadata, status, trigger_source,
		parent_execution_id, created_at, started_at, completed_at, result, error, error_type,
		error_category, attempt, retry_of_run_id, external_ref, idempotency_key
		FROM core_executions WHERE 1=1` + where + " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT " + next()
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + next()
		args = append(args, f.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.ListExecutions", "query")
	}
	defer rows.Close()

	var out []*spine.RunRecord
	for rows.Next() {
		r, err := scanExecutionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountExecutions returns the total number of RunRecords matching filter,
// ignoring its Limit/Offset — used by the ops layer's pagination
// envelope (spec.md §4.14) to report `total` alongside a page of results.
func (l *Ledger) CountExecutions(ctx context.Context, f ListFilter) (int64, error) {
	n := 0
	next := func() string { n++; return l.dialect.Placeholder(n) }
	where, args := filterWhere(f, next)

	query := `SELECT COUNT(*) FROM core_executions WHERE 1=1` + where
	var count int64
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errs.Wrap(err, errs.CategoryDatabase, "ledger.CountExecutions", "query")
	}
	return count, nil
}

// GetChildren returns all RunRecords whose ParentRunID equals runID, used
// by the Dispatcher's get_children query.
func (l *Ledger) GetChildren(ctx context.Context, runID string) ([]*spine.RunRecord, error) {
	return l.ListExecutions(ctx, ListFilter{ParentRunID: runID})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row *sql.Row) (*spine.RunRecord, error) {
	r, err := scanExecutionRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func scanExecutionRows(row rowScanner) (*spine.RunRecord, error) {
	var r spine.RunRecord
	var kind, paramsJSON, metaJSON string
	var resultJSON sql.NullString
	var parentRunID, errMsg, errType, errCategory, retryOf, externalRef, idemKey sql.NullString
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(&r.RunID, &r.Spec.Name, &kind, &paramsJSON, &metaJSON, &r.Status,
		&r.Spec.TriggerSource, &parentRunID, &createdAt, &startedAt, &completedAt,
		&resultJSON, &errMsg, &errType, &errCategory, &r.Attempt, &retryOf, &externalRef, &idemKey)
	if err != nil {
		return nil, err
	}

	r.Spec.Kind = spine.Kind(kind)
	r.Spec.IdempotencyKey = stringOrEmpty(idemKey)
	r.ParentRunID = stringOrEmpty(parentRunID)
	r.Error = stringOrEmpty(errMsg)
	r.ErrorType = stringOrEmpty(errType)
	r.ErrorCategory = stringOrEmpty(errCategory)
	r.RetryOfRunID = stringOrEmpty(retryOf)
	r.ExternalRef = stringOrEmpty(externalRef)

	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &r.Spec.Params); err != nil {
			return nil, fmt.Errorf("ledger: unmarshal params: %w", err)
		}
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &r.Spec.Metadata); err != nil {
			return nil, fmt.Errorf("ledger: unmarshal metadata: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" && resultJSON.String != "null" {
		if err := json.Unmarshal([]byte(resultJSON.String), &r.Result); err != nil {
			return nil, fmt.Errorf("ledger: unmarshal result: %w", err)
		}
	}

	r.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse created_at: %w", err)
	}
	if r.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("ledger: parse started_at: %w", err)
	}
	if r.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("ledger: parse completed_at: %w", err)
	}
	return &r, nil
}

func joinPlaceholders(ph []string) string {
	out := ""
	for i, p := range ph {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
