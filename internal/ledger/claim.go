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
	"time"

	"github.com/ryansmccoy/spine-core-sub007/internal/errs"
	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// ClaimPending selects up to batchSize pending executions ordered by
// created_at and attempts to move each to running via the same
// conditional UPDATE UpdateStatus already uses. Multiple worker loops can
// call ClaimPending against the same ledger concurrently: a row another
// worker claims first loses its WHERE status = 'pending' match and is
// silently skipped rather than returned twice (spec.md §4.8).
func (l *Ledger) ClaimPending(ctx context.Context, batchSize int, now time.Time) ([]*spine.RunRecord, error) {
	query := fmt.Sprintf(`SELECT id, workflow, kind, params, metadata, status, trigger_source,
		parent_execution_id, created_at, started_at, completed_at, result, error, error_type,
		error_category, attempt, retry_of_run_id, external_ref, idempotency_key
		FROM core_executions WHERE status = %s ORDER BY created_at ASC LIMIT %s`,
		l.dialect.Placeholder(1), l.dialect.Placeholder(2))

	rows, err := l.db.QueryContext(ctx, query, string(spine.StatusPending), batchSize)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.ClaimPending", "query")
	}
	var candidates []*spine.RunRecord
	for rows.Next() {
		r, err := scanExecutionRows(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	claimed := make([]*spine.RunRecord, 0, len(candidates))
	for _, r := range candidates {
		next, err := r.Transition(spine.StatusRunning, now)
		if err != nil {
			continue
		}
		if err := l.UpdateStatus(ctx, next, spine.StatusPending); err != nil {
			if err == ErrConflict {
				continue
			}
			return nil, err
		}
		claimed = append(claimed, next)
	}
	return claimed, nil
}
