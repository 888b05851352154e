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
	"fmt"

	"github.com/ryansmccoy/spine-core-sub007/internal/errs"
	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// Stats summarizes execution counts over a trailing window, per spec.md
// §4.2's ExecutionRepository.stats(hours).
type Stats struct {
	Total     int
	Completed int
	Failed    int
	Running   int
	Pending   int
}

// Stats reports counts of executions created within the trailing window.
func (l *Ledger) Stats(ctx context.Context, hours int) (Stats, error) {
	query := fmt.Sprintf(`SELECT status, COUNT(*) FROM core_executions
		WHERE created_at >= %s GROUP BY status`, l.dialect.IntervalExpr(-hours*3600))
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return Stats{}, errs.Wrap(err, errs.CategoryDatabase, "ledger.Stats", "query")
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, errs.Wrap(err, errs.CategoryDatabase, "ledger.Stats", "scan")
		}
		s.Total += count
		switch spine.Status(status) {
		case spine.StatusCompleted:
			s.Completed = count
		case spine.StatusFailed, spine.StatusTimedOut, spine.StatusCancelled:
			s.Failed += count
		case spine.StatusRunning:
			s.Running = count
		case spine.StatusPending, spine.StatusQueued:
			s.Pending += count
		}
	}
	return s, rows.Err()
}

// StaleExecutions returns runs stuck in `running` longer than
// thresholdMinutes without completing. It only reports them; it does not
// change their status, and the worker loop does not call it.
func (l *Ledger) StaleExecutions(ctx context.Context, thresholdMinutes int) ([]*spine.RunRecord, error) {
	query := fmt.Sprintf(`SELECT id, workflow, kind, params, metadata, status, trigger_source,
		parent_execution_id, created_at, started_at, completed_at, result, error, error_type,
		error_category, attempt, retry_of_run_id, external_ref, idempotency_key
		FROM core_executions WHERE status = %s AND started_at < %s`,
		l.dialect.Placeholder(1), l.dialect.IntervalExpr(-thresholdMinutes*60))

	rows, err := l.db.QueryContext(ctx, query, string(spine.StatusRunning))
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.StaleExecutions", "query")
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

// RecentFailures returns the most recent `failed` runs within the trailing
// window, newest first, capped at limit.
func (l *Ledger) RecentFailures(ctx context.Context, hours, limit int) ([]*spine.RunRecord, error) {
	query := fmt.Sprintf(`SELECT id, workflow, kind, params, metadata, status, trigger_source,
		parent_execution_id, created_at, started_at, completed_at, result, error, error_type,
		error_category, attempt, retry_of_run_id, external_ref, idempotency_key
		FROM core_executions WHERE status = %s AND created_at >= %s
		ORDER BY created_at DESC LIMIT %s`,
		l.dialect.Placeholder(1), l.dialect.IntervalExpr(-hours*3600), l.dialect.Placeholder(2))

	rows, err := l.db.QueryContext(ctx, query, string(spine.StatusFailed), limit)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.RecentFailures", "query")
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
