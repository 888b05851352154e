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

// AcquireScheduleLock implements the conditional-INSERT-or-UPDATE
// discipline of spec.md §4.12: it succeeds if no row exists for
// scheduleID, or the existing row has expired, or the existing row is
// already held by lockedBy (TTL refresh by the same holder never blocks).
func (l *Ledger) AcquireScheduleLock(ctx context.Context, scheduleID, lockedBy string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expires := now.Add(ttl)

	ok, err := l.tryInsertLock(ctx, "core_schedule_locks", "schedule_id", scheduleID, lockedBy, now, expires)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return l.tryRefreshLock(ctx, "core_schedule_locks", "schedule_id", scheduleID, lockedBy, now, expires)
}

// ReleaseScheduleLock deletes the lock row only if lockedBy matches,
// returning true iff a row was deleted.
func (l *Ledger) ReleaseScheduleLock(ctx context.Context, scheduleID, lockedBy string) (bool, error) {
	return l.releaseLock(ctx, "core_schedule_locks", "schedule_id", scheduleID, lockedBy)
}

// IsScheduleLocked reports whether scheduleID currently has a live lock.
func (l *Ledger) IsScheduleLocked(ctx context.Context, scheduleID string) (bool, error) {
	return l.isLocked(ctx, "core_schedule_locks", "schedule_id", scheduleID)
}

// AcquireConcurrencyLock is the ConcurrencyLock analogue of
// AcquireScheduleLock, used by the concurrency guard (spec.md §4.7).
func (l *Ledger) AcquireConcurrencyLock(ctx context.Context, lockKey, executionID string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expires := now.Add(ttl)

	ok, err := l.tryInsertLock(ctx, "core_concurrency_locks", "lock_key", lockKey, executionID, now, expires)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return l.tryRefreshLock(ctx, "core_concurrency_locks", "lock_key", lockKey, executionID, now, expires)
}

// ReleaseConcurrencyLock deletes the lock row only if executionID matches.
func (l *Ledger) ReleaseConcurrencyLock(ctx context.Context, lockKey, executionID string) (bool, error) {
	return l.releaseLock(ctx, "core_concurrency_locks", "lock_key", lockKey, executionID)
}

// IsConcurrencyLocked reports whether lockKey currently has a live lock.
func (l *Ledger) IsConcurrencyLocked(ctx context.Context, lockKey string) (bool, error) {
	return l.isLocked(ctx, "core_concurrency_locks", "lock_key", lockKey)
}

// holderColumn returns the name of the column identifying a lock's holder
// for the given table: "locked_by" for schedule locks, "execution_id" for
// concurrency locks.
func holderColumn(table string) string {
	if table == "core_schedule_locks" {
		return "locked_by"
	}
	return "execution_id"
}

func (l *Ledger) tryInsertLock(ctx context.Context, table, keyCol, key, holder string, acquiredAt, expiresAt time.Time) (bool, error) {
	hCol := holderColumn(table)
	acquiredCol := "locked_at"
	if hCol == "execution_id" {
		acquiredCol = "acquired_at"
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s, %s, %s, expires_at) VALUES (%s)
		ON CONFLICT (%s) DO NOTHING`,
		table, keyCol, hCol, acquiredCol, l.dialect.Placeholders(4), keyCol)

	res, err := l.db.ExecContext(ctx, query, key, holder, formatTime(acquiredAt), formatTime(expiresAt))
	if err != nil {
		return false, errs.Wrap(err, errs.CategoryDatabase, "ledger.tryInsertLock", "insert "+table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Wrap(err, errs.CategoryDatabase, "ledger.tryInsertLock", "rows affected")
	}
	return n > 0, nil
}

// tryRefreshLock handles the two remaining acquisition paths: the existing
// row is expired (any holder may take over), or the existing row is
// already held by the same holder (TTL refresh, per spec.md §4.12 and
// §8's boundary behavior "acquiring a lock with the same holder
// re-acquires rather than blocking").
func (l *Ledger) tryRefreshLock(ctx context.Context, table, keyCol, key, holder string, acquiredAt, expiresAt time.Time) (bool, error) {
	hCol := holderColumn(table)
	acquiredCol := "locked_at"
	if hCol == "execution_id" {
		acquiredCol = "acquired_at"
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = %s, %s = %s, expires_at = %s
		WHERE %s = %s AND (expires_at < %s OR %s = %s)`,
		table, hCol, l.dialect.Placeholder(1), acquiredCol, l.dialect.Placeholder(2),
		l.dialect.Placeholder(3), keyCol, l.dialect.Placeholder(4), l.dialect.Placeholder(5),
		hCol, l.dialect.Placeholder(6))

	res, err := l.db.ExecContext(ctx, query, holder, formatTime(acquiredAt), formatTime(expiresAt),
		key, formatTime(time.Now()), holder)
	if err != nil {
		return false, errs.Wrap(err, errs.CategoryDatabase, "ledger.tryRefreshLock", "update "+table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Wrap(err, errs.CategoryDatabase, "ledger.tryRefreshLock", "rows affected")
	}
	return n > 0, nil
}

func (l *Ledger) releaseLock(ctx context.Context, table, keyCol, key, holder string) (bool, error) {
	hCol := holderColumn(table)
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = %s AND %s = %s`,
		table, keyCol, l.dialect.Placeholder(1), hCol, l.dialect.Placeholder(2))
	res, err := l.db.ExecContext(ctx, query, key, holder)
	if err != nil {
		return false, errs.Wrap(err, errs.CategoryDatabase, "ledger.releaseLock", "delete "+table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Wrap(err, errs.CategoryDatabase, "ledger.releaseLock", "rows affected")
	}
	return n > 0, nil
}

func (l *Ledger) isLocked(ctx context.Context, table, keyCol, key string) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE %s = %s AND expires_at > %s`,
		table, keyCol, l.dialect.Placeholder(1), l.dialect.Placeholder(2))
	var one int
	err := l.db.QueryRowContext(ctx, query, key, formatTime(time.Now())).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(err, errs.CategoryDatabase, "ledger.isLocked", "query "+table)
	}
	return true, nil
}

// CleanupExpiredLocks deletes every expired row across both lock tables,
// returning the total row count removed (spec.md §4.12 cleanup_expired).
func (l *Ledger) CleanupExpiredLocks(ctx context.Context) (int64, error) {
	var total int64
	for _, table := range []string{"core_schedule_locks", "core_concurrency_locks"} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < %s`, table, l.dialect.Placeholder(1))
		res, err := l.db.ExecContext(ctx, query, formatTime(time.Now()))
		if err != nil {
			return total, errs.Wrap(err, errs.CategoryDatabase, "ledger.CleanupExpiredLocks", "delete "+table)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, errs.Wrap(err, errs.CategoryDatabase, "ledger.CleanupExpiredLocks", "rows affected")
		}
		total += n
	}
	return total, nil
}

// ForceReleaseAllLocks is the recovery path of spec.md §4.12: clears every
// lock row regardless of holder or TTL.
func (l *Ledger) ForceReleaseAllLocks(ctx context.Context) error {
	for _, table := range []string{"core_schedule_locks", "core_concurrency_locks"} {
		if _, err := l.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errs.Wrap(err, errs.CategoryDatabase, "ledger.ForceReleaseAllLocks", "delete "+table)
		}
	}
	return nil
}
