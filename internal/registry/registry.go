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

// Package registry is the process-wide (kind, name) -> Handler mapping of
// spec.md §4.4. Registration happens once at startup; lookups happen on
// every dispatch, so the map is guarded by a RWMutex rather than a single
// exclusive lock, matching spec.md §5's "read-mostly" guidance.
//
// The source's decorator-based registration (a function annotated to
// self-register at import time) has no equivalent in a statically
// compiled language; spec.md §9 prescribes explicit Register calls
// instead, which is what this package provides. Workflow submissions carry
// kind "workflow" and resolve here like any other kind, so a handler must be
// registered under that kind and the workflow's name; internal/workflowengine
// registers no handler in this registry.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// Handler is the contract every registered task, pipeline, step, or
// workflow handler satisfies (spec.md §6's "handler contract"): a
// function over a params map that may block, may use ctx for
// cancellation/deadlines, and returns a result map or an error.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Entry describes one registered handler for listing purposes.
type Entry struct {
	Kind        spine.Kind
	Name        string
	Description string
	Tags        []string
}

type key struct {
	kind spine.Kind
	name string
}

// ErrDuplicate is returned by Register when (kind, name) is already taken.
type ErrDuplicate struct {
	Kind spine.Kind
	Name string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("registry: handler already registered for kind=%s name=%s", e.Kind, e.Name)
}

// ErrNotFound is returned by Get when (kind, name) has no handler.
type ErrNotFound struct {
	Kind spine.Kind
	Name string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("registry: no handler registered for kind=%s name=%s", e.Kind, e.Name)
}

// Registry is the concurrency-safe handler map.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]entryWithHandler
}

type entryWithHandler struct {
	Entry
	handler Handler
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[key]entryWithHandler)}
}

// Register adds a handler under (kind, name). It returns ErrDuplicate if
// one is already registered; callers that want to replace a handler must
// go through a fresh Registry (registration is startup-time only).
func (r *Registry) Register(kind spine.Kind, name string, handler Handler, description string, tags ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{kind: kind, name: name}
	if _, exists := r.entries[k]; exists {
		return &ErrDuplicate{Kind: kind, Name: name}
	}
	r.entries[k] = entryWithHandler{
		Entry:   Entry{Kind: kind, Name: name, Description: description, Tags: tags},
		handler: handler,
	}
	return nil
}

// Get returns the handler registered for (kind, name), or ErrNotFound.
func (r *Registry) Get(kind spine.Kind, name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key{kind: kind, name: name}]
	if !ok {
		return nil, &ErrNotFound{Kind: kind, Name: name}
	}
	return e.handler, nil
}

// Has reports whether a handler is registered for (kind, name).
func (r *Registry) Has(kind spine.Kind, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key{kind: kind, name: name}]
	return ok
}

// ListWithMetadata returns every registered entry, sorted by kind then
// name for deterministic output.
func (r *Registry) ListWithMetadata() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}
