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

import "fmt"

// SQLite generates SQL for the modernc.org/sqlite backend.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) Placeholders(n int) string {
	return repeatJoined("?", n)
}

func (SQLite) NowExpr() string { return "datetime('now')" }

func (SQLite) IntervalExpr(seconds int) string {
	return fmt.Sprintf("datetime('now', '%+d seconds')", seconds)
}

func (SQLite) Upsert(table string, columns, conflictCols, updateCols []string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table, joinColumns(columns), SQLite{}.Placeholders(len(columns)),
		joinColumns(conflictCols), setClause(updateCols),
	)
}

func (SQLite) InsertOrIgnore(table string, columns, conflictCols []string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table, joinColumns(columns), SQLite{}.Placeholders(len(columns)), joinColumns(conflictCols),
	)
}

func repeatJoined(placeholder string, n int) string {
	if n <= 0 {
		return ""
	}
	out := placeholder
	for i := 1; i < n; i++ {
		out += ", " + placeholder
	}
	return out
}
