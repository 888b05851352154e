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
	"fmt"
	"time"

	"github.com/ryansmccoy/spine-core-sub007/internal/errs"
)

// RecordManifestStage idempotently records that partitionKey reached
// stage within domain, per spec.md §4.10. Re-recording the same stage is
// a no-op (the primary key prevents duplicates).
func (l *Ledger) RecordManifestStage(ctx context.Context, domain, partitionKey, stage string, now time.Time) error {
	query := fmt.Sprintf(`INSERT INTO core_manifest (domain, partition_key, stage, recorded_at)
		VALUES (%s) ON CONFLICT (domain, partition_key, stage) DO NOTHING`, l.dialect.Placeholders(4))
	_, err := l.db.ExecContext(ctx, query, domain, partitionKey, stage, formatTime(now))
	if err != nil {
		return errs.Wrap(err, errs.CategoryDatabase, "ledger.RecordManifestStage", "insert")
	}
	return nil
}

// HasManifestStage reports whether the given stage was already recorded
// for (domain, partitionKey), used by the Tracked Runner to skip
// already-completed work on resume.
func (l *Ledger) HasManifestStage(ctx context.Context, domain, partitionKey, stage string) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM core_manifest WHERE domain = %s AND partition_key = %s AND stage = %s`,
		l.dialect.Placeholder(1), l.dialect.Placeholder(2), l.dialect.Placeholder(3))
	var one int
	err := l.db.QueryRowContext(ctx, query, domain, partitionKey, stage).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(err, errs.CategoryDatabase, "ledger.HasManifestStage", "query")
	}
	return true, nil
}

// ManifestStages returns every stage recorded for (domain, partitionKey).
func (l *Ledger) ManifestStages(ctx context.Context, domain, partitionKey string) (map[string]bool, error) {
	query := fmt.Sprintf(`SELECT stage FROM core_manifest WHERE domain = %s AND partition_key = %s`,
		l.dialect.Placeholder(1), l.dialect.Placeholder(2))
	rows, err := l.db.QueryContext(ctx, query, domain, partitionKey)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.ManifestStages", "query")
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var stage string
		if err := rows.Scan(&stage); err != nil {
			return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.ManifestStages", "scan")
		}
		out[stage] = true
	}
	return out, rows.Err()
}
