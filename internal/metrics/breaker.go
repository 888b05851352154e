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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// breakerState gauges a circuit breaker's current state as 0
	// (closed), 1 (half_open), or 2 (open), keyed by breaker name.
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spine_breaker_state",
			Help: "Circuit breaker state by key: 0=closed, 1=half_open, 2=open",
		},
		[]string{"key"},
	)

	// breakerRejections tracks calls rejected by an open breaker.
	breakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spine_breaker_rejections_total",
			Help: "Total calls rejected because the breaker for key was open",
		},
		[]string{"key"},
	)
)

// breakerStateValue maps the resilience package's state vocabulary onto
// the gauge's numeric encoding without importing that package here
// (metrics stays a leaf dependency everything else can import).
func breakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half_open":
		return 1
	default:
		return 0
	}
}

// SetBreakerState records the current state ("closed", "half_open", or
// "open") of the breaker identified by key.
func SetBreakerState(key, state string) {
	breakerState.WithLabelValues(key).Set(breakerStateValue(state))
}

// RecordBreakerRejection increments the rejection counter for key.
func RecordBreakerRejection(key string) {
	breakerRejections.WithLabelValues(key).Inc()
}
