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
	"errors"
	"time"

	"github.com/ryansmccoy/spine-core-sub007/internal/errs"
)

// WithRetry runs fn, retrying per strategy on failure (spec.md §4.7). On
// each failure it records the error in a RetryContext, checks whether
// another attempt remains, and — honoring any deadline on ctx — sleeps
// for the strategy's next delay before retrying, or for the error's
// RetryAfter hint (errs.RetryAfterOf) when it carries one. If the context's
// remaining deadline budget cannot fit the next delay, the loop aborts
// early rather than oversleeping past the deadline (spec.md §5). An
// ErrCircuitOpen failure is returned at once, without being recorded or
// retried.
//
// The returned error, if non-nil, is the final attempt's error; callers
// that need the full failure history should retain the RetryContext via
// WithRetryContext instead.
func WithRetry[T any](ctx context.Context, strategy RetryStrategy, fn func(context.Context) (T, error)) (T, error) {
	rc := NewRetryContext(strategy)
	return WithRetryContext(ctx, rc, fn)
}

// WithRetryContext is WithRetry with an explicit, caller-owned
// RetryContext, so the caller can inspect Errors()/LastError() after the
// loop finishes (e.g. to summarize all attempt errors in a terminal
// failed RunRecord, per spec.md §7).
func WithRetryContext[T any](ctx context.Context, rc *RetryContext, fn func(context.Context) (T, error)) (T, error) {
	for {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			return val, err
		}
		rc.RecordFailure(err)

		if !rc.ShouldRetry() {
			return val, err
		}

		delay := rc.NextDelay()
		if hint, ok := errs.RetryAfterOf(err); ok {
			delay = hint
		}
		if remaining, ok := RemainingBudget(ctx); ok && remaining < delay {
			return val, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
