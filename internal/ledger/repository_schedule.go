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

// CreateSchedule persists a new Schedule row.
func (l *Ledger) CreateSchedule(ctx context.Context, s *spine.Schedule) error {
	if err := s.Validate(); err != nil {
		return errs.Wrap(err, errs.CategoryValidation, "ledger.CreateSchedule", "invalid schedule")
	}
	params, err := json.Marshal(s.Params)
	if err != nil {
		return errs.Wrap(err, errs.CategoryInternal, "ledger.CreateSchedule", "marshal params")
	}

	scheduleType := "interval"
	if s.IsCron() {
		scheduleType = "cron"
	}

	query := fmt.Sprintf(`INSERT INTO core_schedules
		(schedule_id, name, target_type, target_name, schedule_type, cron_expression,
		 interval_seconds, enabled, next_run_at, last_run_at, params, created_at)
		VALUES (%s)`, l.dialect.Placeholders(12))

	_, err = l.db.ExecContext(ctx, query,
		s.ScheduleID, s.Name, string(s.TargetType), s.TargetName, scheduleType,
		nullString(s.CronExpression), s.IntervalSeconds, boolToInt(s.Enabled),
		formatTime(s.NextRunAt), formatTimePtr(s.LastRunAt), string(params), formatTime(time.Now()),
	)
	if err != nil {
		return errs.Wrap(err, errs.CategoryDatabase, "ledger.CreateSchedule", "insert schedule")
	}
	return nil
}

// GetDueSchedules returns enabled schedules whose next_run_at <= now,
// per spec.md §4.11 step 1.
func (l *Ledger) GetDueSchedules(ctx context.Context, now time.Time) ([]*spine.Schedule, error) {
	query := fmt.Sprintf(`SELECT schedule_id, name, target_type, target_name, cron_expression,
		interval_seconds, enabled, next_run_at, last_run_at, params
		FROM core_schedules WHERE enabled = 1 AND next_run_at <= %s
		ORDER BY next_run_at ASC`, l.dialect.Placeholder(1))

	rows, err := l.db.QueryContext(ctx, query, formatTime(now))
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.GetDueSchedules", "query")
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// GetSchedule loads a Schedule by name.
func (l *Ledger) GetSchedule(ctx context.Context, name string) (*spine.Schedule, error) {
	query := fmt.Sprintf(`SELECT schedule_id, name, target_type, target_name, cron_expression,
		interval_seconds, enabled, next_run_at, last_run_at, params
		FROM core_schedules WHERE name = %s`, l.dialect.Placeholder(1))

	rows, err := l.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.GetSchedule", "query")
	}
	defer rows.Close()
	out, err := scanSchedules(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out[0], nil
}

// ListSchedules returns every schedule.
func (l *Ledger) ListSchedules(ctx context.Context) ([]*spine.Schedule, error) {
	query := `SELECT schedule_id, name, target_type, target_name, cron_expression,
		interval_seconds, enabled, next_run_at, last_run_at, params
		FROM core_schedules ORDER BY name ASC`
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.ListSchedules", "query")
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// UpdateScheduleAfterDispatch recomputes next_run_at and persists
// last_run_at, per spec.md §4.11 step 4.
func (l *Ledger) UpdateScheduleAfterDispatch(ctx context.Context, name string, lastRun, nextRun time.Time) error {
	query := fmt.Sprintf(`UPDATE core_schedules SET last_run_at = %s, next_run_at = %s
		WHERE name = %s`, l.dialect.Placeholder(1), l.dialect.Placeholder(2), l.dialect.Placeholder(3))
	_, err := l.db.ExecContext(ctx, query, formatTime(lastRun), formatTime(nextRun), name)
	if err != nil {
		return errs.Wrap(err, errs.CategoryDatabase, "ledger.UpdateScheduleAfterDispatch", "update")
	}
	return nil
}

// SetScheduleEnabled implements pause(name)/resume(name) from spec.md §4.11.
func (l *Ledger) SetScheduleEnabled(ctx context.Context, name string, enabled bool) error {
	query := fmt.Sprintf(`UPDATE core_schedules SET enabled = %s WHERE name = %s`,
		l.dialect.Placeholder(1), l.dialect.Placeholder(2))
	_, err := l.db.ExecContext(ctx, query, boolToInt(enabled), name)
	if err != nil {
		return errs.Wrap(err, errs.CategoryDatabase, "ledger.SetScheduleEnabled", "update")
	}
	return nil
}

func scanSchedules(rows *sql.Rows) ([]*spine.Schedule, error) {
	var out []*spine.Schedule
	for rows.Next() {
		var s spine.Schedule
		var targetType string
		var cronExpr sql.NullString
		var enabled int
		var nextRunAt string
		var lastRunAt sql.NullString
		var paramsJSON string

		if err := rows.Scan(&s.ScheduleID, &s.Name, &targetType, &s.TargetName, &cronExpr,
			&s.IntervalSeconds, &enabled, &nextRunAt, &lastRunAt, &paramsJSON); err != nil {
			return nil, errs.Wrap(err, errs.CategoryDatabase, "ledger.scanSchedules", "scan")
		}
		s.TargetType = spine.TargetType(targetType)
		s.CronExpression = stringOrEmpty(cronExpr)
		s.Enabled = enabled != 0

		var err error
		if s.NextRunAt, err = parseTime(nextRunAt); err != nil {
			return nil, fmt.Errorf("ledger: parse next_run_at: %w", err)
		}
		if lastRunAt.Valid && lastRunAt.String != "" {
			t, err := parseTime(lastRunAt.String)
			if err != nil {
				return nil, fmt.Errorf("ledger: parse last_run_at: %w", err)
			}
			s.LastRunAt = &t
		}
		if paramsJSON != "" && paramsJSON != "null" {
			if err := json.Unmarshal([]byte(paramsJSON), &s.Params); err != nil {
				return nil, fmt.Errorf("ledger: unmarshal schedule params: %w", err)
			}
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
