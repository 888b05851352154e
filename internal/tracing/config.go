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

// Package tracing adapts the OpenTelemetry SDK to Spine's
// pkg/observability.TracerProvider interface and wires span instrumentation
// around Dispatcher submission and Workflow Engine step execution (spec.md
// §4.6, §4.9).
package tracing

// Config holds tracing configuration.
type Config struct {
	// Enabled controls whether tracing is active. New returns a no-op
	// provider when false, so callers never need to branch on whether
	// tracing is configured.
	Enabled bool

	// ServiceName identifies this process in emitted spans.
	ServiceName string

	// ServiceVersion is the running build's version string.
	ServiceVersion string

	// Sampling configures which traces are recorded.
	Sampling SamplingConfig
}

// SamplingConfig controls trace sampling.
type SamplingConfig struct {
	// Enabled activates rate-based sampling. When false, every trace is
	// recorded.
	Enabled bool

	// Rate is the fraction of traces sampled (0.0-1.0) when Enabled.
	Rate float64

	// AlwaysSampleErrors records every trace carrying an error attribute
	// regardless of Rate.
	AlwaysSampleErrors bool
}

// DefaultConfig returns tracing disabled, matching the teacher's opt-in
// default.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "spine",
		ServiceVersion: "unknown",
		Sampling: SamplingConfig{
			Enabled:            false,
			Rate:               1.0,
			AlwaysSampleErrors: true,
		},
	}
}
