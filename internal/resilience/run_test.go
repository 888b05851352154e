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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	val, err := WithRetry(context.Background(), ConstantBackoff{Delay: time.Millisecond, Max: 3}, func(context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	sentinel := errors.New("always fails")
	_, err := WithRetry(context.Background(), ConstantBackoff{Delay: time.Millisecond, Max: 2}, func(context.Context) (int, error) {
		attempts++
		return 0, sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, attempts) // initial attempt + 2 retries
}

func TestWithRetryContextRecordsAllFailures(t *testing.T) {
	rc := NewRetryContext(ConstantBackoff{Delay: time.Millisecond, Max: 2})
	_, err := WithRetryContext(context.Background(), rc, func(context.Context) (int, error) {
		return 0, errors.New("nope")
	})
	assert.Error(t, err)
	assert.Len(t, rc.Errors(), 3)
}

func TestWithRetryAbortsWhenDeadlineCannotFitNextDelay(t *testing.T) {
	ctx, cancel := WithDeadline(context.Background(), 5*time.Millisecond, "test-op")
	defer cancel()

	attempts := 0
	_, err := WithRetry(ctx, ConstantBackoff{Delay: time.Hour, Max: 5}, func(context.Context) (int, error) {
		attempts++
		return 0, errors.New("fails")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
