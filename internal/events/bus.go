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

// Package events implements the in-memory PubSub bus of spec.md §4.13:
// publish/subscribe over dotted topics ("run.completed", "run.step_failed")
// with wildcard matching, best-effort asynchronous delivery, and a
// subscriber error that never propagates back to the publisher.
//
// spec.md names a second, external multi-process backend as an
// implementation choice alongside the in-memory one. No library in the
// example pack provides a message broker client (no NATS/Kafka/Redis
// pub-sub dependency anywhere in go.mod or the rest of the pack), so only
// the in-memory implementation is built; DESIGN.md records this as an
// unwired spec option rather than a silently dropped requirement.
package events

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// Handler receives a published event. A handler error is logged and
// otherwise ignored: it never reaches the publisher or other subscribers
// (spec.md §4.13).
type Handler func(spine.Event)

// subscriberQueueSize bounds each subscriber's delivery channel so one
// slow handler cannot grow memory unboundedly; once full, further events
// for that subscriber are dropped and logged, matching the "best-effort"
// delivery spec.md calls for.
const subscriberQueueSize = 256

type subscription struct {
	id      string
	pattern string
	handler Handler
	queue   chan spine.Event
	done    chan struct{}
}

// Bus is the in-memory EventBus of spec.md §4.13.
type Bus struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[string]*subscription
}

// NewBus returns a ready-to-use in-memory bus. A nil logger falls back to
// slog.Default().
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log, subs: make(map[string]*subscription)}
}

// Subscribe registers handler under pattern ("*" matches every topic,
// "run.*" matches every topic with that prefix, an exact topic matches
// only itself) and returns a subscription ID for Unsubscribe.
func (b *Bus) Subscribe(pattern string, handler Handler) string {
	sub := &subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		handler: handler,
		queue:   make(chan spine.Event, subscriberQueueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go b.deliverLoop(sub)
	return sub.id
}

// Unsubscribe removes the subscription and stops its delivery goroutine.
// It is a no-op if id is unknown.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

// Publish fans event out to every matching subscriber without blocking
// the caller: delivery happens on each subscriber's own goroutine, and a
// full subscriber queue drops the event rather than applying backpressure
// to the publisher.
func (b *Bus) Publish(event spine.Event) {
	topic := event.Topic()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !matches(sub.pattern, topic) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			b.log.Warn("events: dropping event, subscriber queue full",
				"subscription_id", sub.id, "pattern", sub.pattern, "topic", topic)
		}
	}
}

// Close stops every subscription's delivery goroutine. The bus is unusable
// afterward.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
}

func (b *Bus) deliverLoop(sub *subscription) {
	for {
		select {
		case ev := <-sub.queue:
			b.invoke(sub, ev)
		case <-sub.done:
			return
		}
	}
}

func (b *Bus) invoke(sub *subscription, ev spine.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("events: subscriber handler panicked",
				"subscription_id", sub.id, "topic", ev.Topic(), "panic", r)
		}
	}()
	sub.handler(ev)
}

// matches reports whether topic satisfies pattern: "*" matches anything,
// a trailing ".*" matches every topic starting with the part before the
// "*" (dot included), anything else must match exactly.
func matches(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(topic, prefix)
	}
	return pattern == topic
}
