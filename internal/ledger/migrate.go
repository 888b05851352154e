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
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/ryansmccoy/spine-core-sub007/internal/dialect"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending numbered migration in migrations/ to db,
// tracked in goose's own `_migrations`-equivalent table
// (goose_db_version), matching spec.md §6's "migrations are numbered and
// applied in ascending order at startup".
func Migrate(ctx context.Context, db *sql.DB, d dialect.Dialect) error {
	gooseDialect, err := gooseDialectFor(d)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(gooseDialect, db, migrationFS)
	if err != nil {
		return fmt.Errorf("ledger: new migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("ledger: apply migrations: %w", err)
	}
	return nil
}

func gooseDialectFor(d dialect.Dialect) (goose.Dialect, error) {
	switch d.Name() {
	case "sqlite":
		return goose.DialectSQLite3, nil
	case "postgres":
		return goose.DialectPostgres, nil
	default:
		return "", fmt.Errorf("ledger: no migration dialect for %q", d.Name())
	}
}
