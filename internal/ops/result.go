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

package ops

import "time"

// Result is the OperationResult<T> of spec.md §4.14: every ops operation
// returns one of these instead of a bare (T, error) pair, so callers
// (API handlers, CLI commands, MCP tools) have a single shape to render
// regardless of which operation they called.
type Result[T any] struct {
	Success   bool
	Data      T
	Error     *Error
	Warnings  []string
	ElapsedMS int64
	Metadata  map[string]any
}

func ok[T any](data T, start time.Time) Result[T] {
	return Result[T]{Success: true, Data: data, ElapsedMS: elapsedMS(start)}
}

func okWithWarnings[T any](data T, start time.Time, warnings ...string) Result[T] {
	r := ok(data, start)
	r.Warnings = warnings
	return r
}

func fail[T any](code Code, message string, cause error, start time.Time) Result[T] {
	var zero T
	return Result[T]{Success: false, Data: zero, Error: newError(code, message, cause), ElapsedMS: elapsedMS(start)}
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// Page is the pagination envelope of spec.md §4.14.
type Page[T any] struct {
	Items   []T
	Total   int64
	Limit   int
	Offset  int
	HasMore bool
}

func newPage[T any](items []T, total int64, limit, offset int) Page[T] {
	return Page[T]{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+len(items)) < total,
	}
}
