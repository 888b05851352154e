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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ryansmccoy/spine-core-sub007/internal/errs"
	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// RecordEvent appends a lifecycle event for runID, per spec.md §4.2.
func (l *Ledger) RecordEvent(ctx context.Context, runID string, eventType spine.EventType, payload map[string]any, now time.Time) (spine.Event, error) {
	ev := spine.NewEvent(uuid.NewString(), runID, eventType, payload, now)
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return spine.Event{}, errs.Wrap(err, errs.CategoryInternal, "ledger.RecordEvent", "marshal payload")
	}

	query := fmt.Sprintf(`INSERT INTO core_execution_events (id, execution_id, event_type, timestamp, data)
		VALUES (%s)`, l.dialect.Placeholders(5))
	if _, err := l.db.ExecContext(ctx, query, ev.EventID, ev.RunID, string(ev.EventType), formatTime(ev.Timestamp), string(data)); err != nil {
		return spine.Event{}, errs.Wrap(err, errs.CategoryDatabase, "ledger.RecordEvent", "insert event")
	}
	return ev, nil
}

// GetEvents returns every event recorded for runID, oldest first.
func (l *Ledger) GetEvents(ctx context.Context, runID string) ([]spine.Event, error) {
	query := fmt.Sprintf(`SELECT id, execution_id, event_type, timestamp, data
		FROM core_execution_events WHERE execution_id = %s ORDER BY timestamp ASC`, l.dialect.Placeholder(1))
	rows, err := l.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.GetEvents", "query")
	}
	defer rows.Close()

	var out []spine.Event
	for rows.Next() {
		var ev spine.Event
		var ts, data string
		if err := rows.Scan(&ev.EventID, &ev.RunID, &ev.EventType, &ts, &data); err != nil {
			return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.GetEvents", "scan")
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("ledger: parse event timestamp: %w", err)
		}
		if data != "" && data != "null" {
			if err := json.Unmarshal([]byte(data), &ev.Payload); err != nil {
				return nil, fmt.Errorf("ledger: unmarshal event payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
