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

package tracing

import (
	"context"
	"fmt"

	"github.com/ryansmccoy/spine-core-sub007/pkg/observability"
)

// StartRun opens a root span for a dispatched run (spec.md §4.6), named
// after its kind and target so a trace backend groups task/workflow/step
// runs separately.
func StartRun(ctx context.Context, tracer observability.Tracer, runID, kind, name string) (context.Context, observability.SpanHandle) {
	return tracer.Start(ctx, fmt.Sprintf("%s.run: %s", kind, name),
		observability.WithSpanKind(observability.SpanKindInternal),
		observability.WithAttributes(map[string]any{
			"spine.kind":    kind,
			"spine.name":    name,
			"spine.run_id":  runID,
			"span.type":     "run",
		}),
	)
}

// StartStep opens a span for one workflow step execution (spec.md §4.9).
func StartStep(ctx context.Context, tracer observability.Tracer, runID, stepID string, stepType string) (context.Context, observability.SpanHandle) {
	return tracer.Start(ctx, fmt.Sprintf("step: %s", stepID),
		observability.WithSpanKind(observability.SpanKindInternal),
		observability.WithAttributes(map[string]any{
			"spine.run_id":  runID,
			"step.id":       stepID,
			"step.type":     stepType,
			"span.type":     "workflow.step",
		}),
	)
}

// EndWithResult finalizes span with an OK or error status, recording err
// as a span event when non-nil. It is a no-op if span is nil, so callers
// can unconditionally defer it even when tracing produced no handle.
func EndWithResult(span observability.SpanHandle, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(map[string]any{"error": true})
		span.SetStatus(observability.StatusCodeError, err.Error())
	} else {
		span.SetStatus(observability.StatusCodeOK, "")
	}
	span.End()
}
