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

package dialect

import (
	"fmt"
	"strconv"
	"strings"
)

// Postgres generates SQL for the jackc/pgx backend.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Placeholder(i int) string { return "$" + strconv.Itoa(i) }

func (Postgres) Placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = Postgres{}.Placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (Postgres) NowExpr() string { return "NOW()" }

func (Postgres) IntervalExpr(seconds int) string {
	return fmt.Sprintf("NOW() + INTERVAL '%d seconds'", seconds)
}

func (Postgres) Upsert(table string, columns, conflictCols, updateCols []string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table, joinColumns(columns), Postgres{}.Placeholders(len(columns)),
		joinColumns(conflictCols), setClause(updateCols),
	)
}

func (Postgres) InsertOrIgnore(table string, columns, conflictCols []string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table, joinColumns(columns), Postgres{}.Placeholders(len(columns)), joinColumns(conflictCols),
	)
}
