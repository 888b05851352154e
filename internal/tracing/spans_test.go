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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartRunAndEndWithResult(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider, err := NewOTelProvider("test-service", "1.0.0", sdktrace.WithSyncer(exporter))
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	tracer := provider.Tracer("test")
	ctx, span := StartRun(context.Background(), tracer, "run-1", "workflow", "demo")
	require.NotNil(t, ctx)
	EndWithResult(span, nil)

	require.NoError(t, provider.ForceFlush(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "workflow.run: demo", spans[0].Name)
	assert.Equal(t, "Ok", spans[0].Status.Code.String())
}

func TestStartStepAndEndWithResultError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider, err := NewOTelProvider("test-service", "1.0.0", sdktrace.WithSyncer(exporter))
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	tracer := provider.Tracer("test")
	_, span := StartStep(context.Background(), tracer, "run-1", "step-1", "lambda")
	EndWithResult(span, errors.New("boom"))

	require.NoError(t, provider.ForceFlush(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "step: step-1", spans[0].Name)
	assert.Equal(t, "Error", spans[0].Status.Code.String())
	assert.NotEmpty(t, spans[0].Events)
}

func TestEndWithResultNilSpanIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		EndWithResult(nil, nil)
		EndWithResult(nil, errors.New("ignored"))
	})
}
