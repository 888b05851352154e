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

func TestCircuitBreakersTripsAfterThreshold(t *testing.T) {
	breakers := NewCircuitBreakers(2, 50*time.Millisecond)
	failing := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := Call(breakers, "svc-a", context.Background(), func(context.Context) (string, error) {
			return "", failing
		})
		assert.ErrorIs(t, err, failing)
	}

	assert.Equal(t, BreakerOpen, breakers.State("svc-a"))

	_, err := Call(breakers, "svc-a", context.Background(), func(context.Context) (string, error) {
		return "unreached", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakersScopePerKey(t *testing.T) {
	breakers := NewCircuitBreakers(1, time.Second)
	_, _ = Call(breakers, "svc-a", context.Background(), func(context.Context) (string, error) {
		return "", errors.New("boom")
	})
	assert.Equal(t, BreakerOpen, breakers.State("svc-a"))
	assert.Equal(t, BreakerClosed, breakers.State("svc-b"))
}

func TestCircuitBreakersUnknownKeyIsClosed(t *testing.T) {
	breakers := NewCircuitBreakers(3, time.Second)
	assert.Equal(t, BreakerClosed, breakers.State("never-used"))
}

func TestCircuitBreakersRecoversAfterCooldown(t *testing.T) {
	breakers := NewCircuitBreakers(1, 10*time.Millisecond)
	_, _ = Call(breakers, "svc-c", context.Background(), func(context.Context) (string, error) {
		return "", errors.New("boom")
	})
	require.Equal(t, BreakerOpen, breakers.State("svc-c"))

	time.Sleep(20 * time.Millisecond)

	val, err := Call(breakers, "svc-c", context.Background(), func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, BreakerClosed, breakers.State("svc-c"))
}
