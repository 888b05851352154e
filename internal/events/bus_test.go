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

package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestBusExactTopicMatch(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	var received []spine.EventType
	bus.Subscribe("run.completed", func(ev spine.Event) {
		mu.Lock()
		received = append(received, ev.EventType)
		mu.Unlock()
	})

	bus.Publish(spine.NewEvent("e1", "run-1", spine.EventCompleted, nil, time.Now()))
	bus.Publish(spine.NewEvent("e2", "run-1", spine.EventFailed, nil, time.Now()))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})
	assert.Equal(t, []spine.EventType{spine.EventCompleted}, received)
}

func TestBusWildcardPrefixMatch(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var count int
	var mu sync.Mutex
	bus.Subscribe("run.*", func(ev spine.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(spine.NewEvent("e1", "run-1", spine.EventStarted, nil, time.Now()))
	bus.Publish(spine.NewEvent("e2", "run-1", spine.EventCompleted, nil, time.Now()))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	})
}

func TestBusGlobalWildcard(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	received := make(chan spine.Event, 1)
	bus.Subscribe("*", func(ev spine.Event) {
		received <- ev
	})

	bus.Publish(spine.NewEvent("e1", "run-1", spine.EventStepStarted, nil, time.Now()))

	select {
	case ev := <-received:
		assert.Equal(t, spine.EventStepStarted, ev.EventType)
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	id := bus.Subscribe("run.*", func(ev spine.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(spine.NewEvent("e1", "run-1", spine.EventStarted, nil, time.Now()))
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	bus.Unsubscribe(id)
	bus.Publish(spine.NewEvent("e2", "run-1", spine.EventCompleted, nil, time.Now()))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestBusHandlerPanicDoesNotCrashBus(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	received := make(chan spine.Event, 1)
	bus.Subscribe("run.*", func(ev spine.Event) {
		panic("boom")
	})
	bus.Subscribe("run.*", func(ev spine.Event) {
		received <- ev
	})

	bus.Publish(spine.NewEvent("e1", "run-1", spine.EventStarted, nil, time.Now()))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("second subscriber never received event after first panicked")
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern, topic string
		want           bool
	}{
		{"*", "run.completed", true},
		{"run.*", "run.completed", true},
		{"run.*", "schedule.fired", false},
		{"run.completed", "run.completed", true},
		{"run.completed", "run.failed", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, matches(tt.pattern, tt.topic), "pattern=%s topic=%s", tt.pattern, tt.topic)
	}
}
