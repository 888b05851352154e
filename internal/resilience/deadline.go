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

package resilience

import (
	"context"
	"fmt"
	"time"
)

// TimeoutExpired is returned when the innermost deadline on the context
// has already passed (spec.md §4.7).
type TimeoutExpired struct {
	Operation string
	Deadline  time.Time
}

func (e *TimeoutExpired) Error() string {
	return fmt.Sprintf("resilience: deadline exceeded for %q at %s", e.Operation, e.Deadline.Format(time.RFC3339))
}

type deadlineKey struct{}

type deadlineFrame struct {
	operation string
	deadline  time.Time
	parent    *deadlineFrame
}

// WithDeadline pushes a new deadline onto ctx's nestable deadline stack
// (spec.md §4.7, §9's task-local-context-carrier design note: Go's
// context.Context is the idiomatic replacement for the source's
// contextvars-based task-local stack). A nested deadline that would
// extend beyond the parent's remaining budget is clamped to the parent's
// deadline, so the innermost effective deadline always governs. The
// returned context also carries a standard context.WithDeadline
// cancellation so blocking operations that select on ctx.Done() are
// interrupted without needing to call CheckDeadline themselves.
func WithDeadline(ctx context.Context, d time.Duration, operation string) (context.Context, context.CancelFunc) {
	deadline := time.Now().Add(d)

	if parent, ok := ctx.Value(deadlineKey{}).(*deadlineFrame); ok {
		if parent.deadline.Before(deadline) {
			deadline = parent.deadline
		}
	}

	frame := &deadlineFrame{operation: operation, deadline: deadline}
	ctx = context.WithValue(ctx, deadlineKey{}, frame)
	return context.WithDeadline(ctx, deadline)
}

// CheckDeadline reports whether the innermost deadline on ctx has passed,
// returning a *TimeoutExpired if so. Operations that cannot cooperatively
// select on ctx.Done() should call this at safe checkpoints.
func CheckDeadline(ctx context.Context) error {
	frame, ok := ctx.Value(deadlineKey{}).(*deadlineFrame)
	if !ok {
		return nil
	}
	if time.Now().After(frame.deadline) {
		return &TimeoutExpired{Operation: frame.operation, Deadline: frame.deadline}
	}
	return nil
}

// RemainingBudget returns the time left before the innermost deadline on
// ctx, or (0, false) if ctx carries no deadline. The retry loop uses this
// to abort early when the remaining budget cannot fit the next delay
// (spec.md §5).
func RemainingBudget(ctx context.Context) (time.Duration, bool) {
	frame, ok := ctx.Value(deadlineKey{}).(*deadlineFrame)
	if !ok {
		return 0, false
	}
	return time.Until(frame.deadline), true
}

// RunWithTimeout is the one-shot wrapper of spec.md §4.7: it runs fn under
// a fresh deadline and returns its result, or *TimeoutExpired if fn does
// not return before secs elapses. fn must itself select on ctx.Done() to
// be interruptible; an uncooperative fn's result is discarded but its
// goroutine is not forcibly killed, matching spec.md §5's cancellation
// semantics.
func RunWithTimeout[T any](ctx context.Context, secs time.Duration, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	ctx, cancel := WithDeadline(ctx, secs, operation)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{val: v, err: err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		return zero, CheckDeadline(ctx)
	}
}
