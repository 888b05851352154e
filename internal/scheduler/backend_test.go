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

package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerBackendFiresAtInterval(t *testing.T) {
	b := newTickerBackend()
	var ticks int32

	b.Start(func(now time.Time) { atomic.AddInt32(&ticks, 1) }, 10*time.Millisecond)
	defer b.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ticks) >= 3 }, time.Second, time.Millisecond)
}

func TestTickerBackendHealthReportsTickCount(t *testing.T) {
	b := newTickerBackend()
	b.Start(func(now time.Time) {}, 10*time.Millisecond)
	defer b.Stop()

	require.Eventually(t, func() bool { return b.Health().TickCount >= 2 }, time.Second, time.Millisecond)
	h := b.Health()
	assert.True(t, h.Healthy)
	assert.False(t, h.LastTick.IsZero())
}

func TestTickerBackendStopIsIdempotent(t *testing.T) {
	b := newTickerBackend()
	b.Start(func(now time.Time) {}, 10*time.Millisecond)
	b.Stop()
	b.Stop() // must not block or panic

	assert.False(t, b.Health().Healthy)
}

func TestTickerBackendStartTwiceIsNoop(t *testing.T) {
	b := newTickerBackend()
	b.Start(func(now time.Time) {}, time.Hour)
	b.Start(func(now time.Time) {}, time.Millisecond) // ignored, loop already running
	defer b.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), b.Health().TickCount)
}
