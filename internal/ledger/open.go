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
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/ryansmccoy/spine-core-sub007/internal/dialect"
)

// OpenFromURL opens a *sql.DB for databaseURL (grounded on spec.md §6's
// SQLAlchemy-style URL scheme), pairs it with the matching Dialect, and
// runs migrations. Supported schemes: sqlite://, postgres://.
//
// The connection provider the rest of the Ledger depends on is just
// *sql.DB itself: Go's standard library already offers the minimal
// execute/commit/rollback seam spec.md §4.2 asks for, including pooling,
// so Spine does not reinvent a separate provider interface the way the
// source's ORM-session bridge does — callers who prefer an ORM can open
// their own *sql.DB and hand it to Open directly.
func OpenFromURL(ctx context.Context, databaseURL string) (*Ledger, error) {
	d, err := dialect.FromDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch d.Name() {
	case "sqlite":
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		path = strings.TrimPrefix(path, "file://")
		db, err = sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("ledger: open sqlite: %w", err)
		}
		// SQLite serializes writes; a single connection avoids SQLITE_BUSY
		// storms under concurrent callers, matching the teacher's
		// sqlite.Backend.New.
		db.SetMaxOpenConns(1)
	case "postgres":
		db, err = sql.Open("pgx", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("ledger: open postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("ledger: unsupported database scheme for %q", databaseURL)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}

	return Open(ctx, db, d)
}
