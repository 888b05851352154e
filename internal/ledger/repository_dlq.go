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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ryansmccoy/spine-core-sub007/internal/errs"
	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// AddToDLQ appends a dead-letter entry, per spec.md §4.7.
func (l *Ledger) AddToDLQ(ctx context.Context, executionID, workflow string, params map[string]any, errMsg string, maxRetries int) (*spine.DeadLetter, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryInternal, "ledger.AddToDLQ", "marshal params")
	}

	d := &spine.DeadLetter{
		ID:           uuid.NewString(),
		ExecutionID:  executionID,
		WorkflowName: workflow,
		Params:       params,
		Error:        errMsg,
		MaxRetries:   maxRetries,
		CreatedAt:    time.Now(),
	}

	query := fmt.Sprintf(`INSERT INTO core_dead_letters
		(id, execution_id, workflow, params, error, retry_count, max_retries, created_at)
		VALUES (%s)`, l.dialect.Placeholders(8))
	_, err = l.db.ExecContext(ctx, query, d.ID, d.ExecutionID, d.WorkflowName, string(paramsJSON),
		d.Error, d.RetryCount, d.MaxRetries, formatTime(d.CreatedAt))
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.AddToDLQ", "insert")
	}
	return d, nil
}

// GetDLQEntry loads a dead-letter entry by ID.
func (l *Ledger) GetDLQEntry(ctx context.Context, id string) (*spine.DeadLetter, error) {
	query := fmt.Sprintf(`SELECT id, execution_id, workflow, params, error, retry_count, max_retries,
		created_at, last_retry_at, resolved_at, resolved_by FROM core_dead_letters WHERE id = %s`,
		l.dialect.Placeholder(1))
	return scanDLQ(l.db.QueryRowContext(ctx, query, id))
}

// ListUnresolvedDLQ returns every entry with resolved_at IS NULL.
func (l *Ledger) ListUnresolvedDLQ(ctx context.Context, limit int) ([]*spine.DeadLetter, error) {
	query := fmt.Sprintf(`SELECT id, execution_id, workflow, params, error, retry_count, max_retries,
		created_at, last_retry_at, resolved_at, resolved_by FROM core_dead_letters
		WHERE resolved_at IS NULL ORDER BY created_at ASC LIMIT %s`, l.dialect.Placeholder(1))
	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.ListUnresolvedDLQ", "query")
	}
	defer rows.Close()

	var out []*spine.DeadLetter
	for rows.Next() {
		d, err := scanDLQRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkRetryAttempted increments retry_count and stamps last_retry_at,
// per spec.md §4.7.
func (l *Ledger) MarkRetryAttempted(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE core_dead_letters SET retry_count = retry_count + 1, last_retry_at = %s
		WHERE id = %s`, l.dialect.Placeholder(1), l.dialect.Placeholder(2))
	_, err := l.db.ExecContext(ctx, query, formatTime(time.Now()), id)
	if err != nil {
		return errs.Wrap(err, errs.CategoryDatabase, "ledger.MarkRetryAttempted", "update")
	}
	return nil
}

// ResolveDLQ terminally resolves an entry; this is the only mutation DLQ
// rows accept besides retry-count increments (spec.md §4.7's resolve is
// terminal).
func (l *Ledger) ResolveDLQ(ctx context.Context, id, resolvedBy string) error {
	query := fmt.Sprintf(`UPDATE core_dead_letters SET resolved_at = %s, resolved_by = %s
		WHERE id = %s AND resolved_at IS NULL`,
		l.dialect.Placeholder(1), l.dialect.Placeholder(2), l.dialect.Placeholder(3))
	res, err := l.db.ExecContext(ctx, query, formatTime(time.Now()), resolvedBy, id)
	if err != nil {
		return errs.Wrap(err, errs.CategoryDatabase, "ledger.ResolveDLQ", "update")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(err, errs.CategoryDatabase, "ledger.ResolveDLQ", "rows affected")
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func scanDLQ(row *sql.Row) (*spine.DeadLetter, error) {
	d, err := scanDLQRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

func scanDLQRow(row rowScanner) (*spine.DeadLetter, error) {
	var d spine.DeadLetter
	var paramsJSON string
	var createdAt string
	var lastRetryAt, resolvedAt, resolvedBy sql.NullString

	err := row.Scan(&d.ID, &d.ExecutionID, &d.WorkflowName, &paramsJSON, &d.Error,
		&d.RetryCount, &d.MaxRetries, &createdAt, &lastRetryAt, &resolvedAt, &resolvedBy)
	if err != nil {
		return nil, err
	}
	d.ResolvedBy = stringOrEmpty(resolvedBy)

	if paramsJSON != "" && paramsJSON != "null" {
		if err := json.Unmarshal([]byte(paramsJSON), &d.Params); err != nil {
			return nil, fmt.Errorf("ledger: unmarshal dlq params: %w", err)
		}
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("ledger: parse dlq created_at: %w", err)
	}
	if d.LastRetryAt, err = parseTimePtr(lastRetryAt); err != nil {
		return nil, err
	}
	if d.ResolvedAt, err = parseTimePtr(resolvedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
