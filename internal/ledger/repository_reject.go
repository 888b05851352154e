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

	"github.com/ryansmccoy/spine-core-sub007/internal/errs"
	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// AppendReject records a malformed record encountered during processing,
// per spec.md §3. The sink is append-only; there is no update or delete.
func (l *Ledger) AppendReject(ctx context.Context, r spine.Reject) error {
	raw, err := json.Marshal(r.RawData)
	if err != nil {
		return errs.Wrap(err, errs.CategoryInternal, "ledger.AppendReject", "marshal raw_data")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	query := fmt.Sprintf(`INSERT INTO core_rejects
		(domain, partition_key, stage, reason_code, reason_detail, raw_json, source_locator,
		 line_number, execution_id, batch_id, created_at)
		VALUES (%s)`, l.dialect.Placeholders(11))
	_, err = l.db.ExecContext(ctx, query, r.Domain, nullString(r.PartitionKey), nullString(r.Stage),
		r.ReasonCode, nullString(r.ReasonDetail), string(raw), nullString(r.SourceLocator),
		r.LineNumber, nullString(r.ExecutionID), nullString(r.BatchID), formatTime(r.CreatedAt))
	if err != nil {
		return errs.Wrap(err, errs.CategoryDatabase, "ledger.AppendReject", "insert")
	}
	return nil
}

// ListRejects returns rejects recorded for domain, newest first.
func (l *Ledger) ListRejects(ctx context.Context, domain string, limit int) ([]spine.Reject, error) {
	query := fmt.Sprintf(`SELECT domain, partition_key, stage, reason_code, reason_detail, raw_json,
		source_locator, line_number, execution_id, batch_id, created_at
		FROM core_rejects WHERE domain = %s ORDER BY created_at DESC LIMIT %s`,
		l.dialect.Placeholder(1), l.dialect.Placeholder(2))

	rows, err := l.db.QueryContext(ctx, query, domain, limit)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.ListRejects", "query")
	}
	defer rows.Close()

	var out []spine.Reject
	for rows.Next() {
		var r spine.Reject
		var partitionKey, stage, reasonDetail, sourceLocator, executionID, batchID sql.NullString
		var rawJSON, createdAt string
		if err := rows.Scan(&r.Domain, &partitionKey, &stage, &r.ReasonCode, &reasonDetail, &rawJSON,
			&sourceLocator, &r.LineNumber, &executionID, &batchID, &createdAt); err != nil {
			return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.ListRejects", "scan")
		}
		r.PartitionKey = stringOrEmpty(partitionKey)
		r.Stage = stringOrEmpty(stage)
		r.ReasonDetail = stringOrEmpty(reasonDetail)
		r.SourceLocator = stringOrEmpty(sourceLocator)
		r.ExecutionID = stringOrEmpty(executionID)
		r.BatchID = stringOrEmpty(batchID)
		if rawJSON != "" && rawJSON != "null" {
			if err := json.Unmarshal([]byte(rawJSON), &r.RawData); err != nil {
				return nil, fmt.Errorf("ledger: unmarshal reject raw_data: %w", err)
			}
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("ledger: parse reject created_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
