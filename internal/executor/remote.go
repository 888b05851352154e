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

package executor

import (
	"context"
	"fmt"

	"github.com/ryansmccoy/spine-core-sub007/pkg/spine"
)

// ResourceLimits caps what a remote submission may consume; the adapter
// router rejects a submission exceeding these before ever contacting the
// backing scheduler (spec.md §4.5's "pre-submit validation").
type ResourceLimits struct {
	MaxCPUMillis  int64
	MaxMemoryMB   int64
	MaxBudgetUSD  float64
	Capabilities  []string
}

// Adapter is the protocol a remote container scheduler (Docker, K8s, a
// batch system) implements to accept submissions from Spine.
type Adapter interface {
	Name() string
	Validate(spec spine.WorkSpec, limits ResourceLimits) error
	Submit(ctx context.Context, runID string, spec spine.WorkSpec) (externalRef string, err error)
	Cancel(ctx context.Context, externalRef string) (bool, error)
	GetStatus(ctx context.Context, externalRef string) (Status, error)
}

// ErrNoAdapter is returned when spec.Metadata["adapter"] names an adapter
// that was never registered with the router, and no default is set.
var ErrNoAdapter = fmt.Errorf("executor: no remote adapter available")

// AdapterRouter picks an Adapter by the spec's explicit request
// (Metadata["adapter"]) or falls back to a configured default, per
// spec.md §4.5.
type AdapterRouter struct {
	adapters map[string]Adapter
	byDefault string
	limits   ResourceLimits
}

// NewAdapterRouter returns a router with the given default adapter name
// (must be registered via Register before first use) and resource limits
// applied to every submission it validates.
func NewAdapterRouter(defaultAdapter string, limits ResourceLimits) *AdapterRouter {
	return &AdapterRouter{
		adapters:  make(map[string]Adapter),
		byDefault: defaultAdapter,
		limits:    limits,
	}
}

// Register adds an adapter under its own Name().
func (r *AdapterRouter) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

func (r *AdapterRouter) resolve(spec spine.WorkSpec) (Adapter, error) {
	name := r.byDefault
	if requested, ok := spec.Metadata["adapter"].(string); ok && requested != "" {
		name = requested
	}
	a, ok := r.adapters[name]
	if !ok {
		return nil, ErrNoAdapter
	}
	return a, nil
}

// Remote is the Remote Runtime Adapter executor of spec.md §4.5: it
// routes to an Adapter by explicit spec request or default, validating
// resource limits before ever calling Submit on the backing scheduler.
type Remote struct {
	router *AdapterRouter
}

// NewRemote returns a remote executor backed by router.
func NewRemote(router *AdapterRouter) *Remote {
	return &Remote{router: router}
}

// Submit validates spec against the resolved adapter's capabilities and
// resource limits, then hands it to the adapter. The handler argument is
// unused: remote submissions never invoke an in-process handler.
func (e *Remote) Submit(ctx context.Context, runID string, spec spine.WorkSpec, handler Handler, reporter Reporter) (string, error) {
	adapter, err := e.router.resolve(spec)
	if err != nil {
		return "", err
	}
	if err := adapter.Validate(spec, e.router.limits); err != nil {
		return "", err
	}

	if err := reporter.Running(ctx, runID); err != nil {
		return "", err
	}
	ref, err := adapter.Submit(ctx, runID, spec)
	if err != nil {
		_ = reporter.Failed(ctx, runID, err)
		return "", err
	}
	return ref, nil
}

// Cancel and GetStatus require knowing which adapter owns externalRef;
// Remote tracks that mapping implicitly through the caller, since
// external refs are adapter-specific and opaque to Spine. Callers that
// need to cancel or poll a remote submission should retain the adapter
// alongside the ref, or route through a single-adapter Remote instance.
func (e *Remote) CancelVia(ctx context.Context, adapterName, externalRef string) (bool, error) {
	a, ok := e.router.adapters[adapterName]
	if !ok {
		return false, ErrNoAdapter
	}
	return a.Cancel(ctx, externalRef)
}

func (e *Remote) StatusVia(ctx context.Context, adapterName, externalRef string) (Status, error) {
	a, ok := e.router.adapters[adapterName]
	if !ok {
		return "", ErrNoAdapter
	}
	return a.GetStatus(ctx, externalRef)
}

// Cancel and GetStatus satisfy the Executor interface for a Remote bound
// to exactly one adapter (the common case: Remote wraps a single default
// adapter rather than fronting the whole router for dispatcher use).
func (e *Remote) Cancel(ctx context.Context, externalRef string) (bool, error) {
	return e.CancelVia(ctx, e.router.byDefault, externalRef)
}

func (e *Remote) GetStatus(ctx context.Context, externalRef string) (Status, error) {
	return e.StatusVia(ctx, e.router.byDefault, externalRef)
}
