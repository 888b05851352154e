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
	// workerClaims tracks executions claimed off the queue per poll.
	workerClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spine_worker_claims_total",
			Help: "Total executions claimed by the worker pool per poll",
		},
		[]string{"pool"},
	)

	// workerExecutions tracks handler invocations, by outcome.
	workerExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spine_worker_executions_total",
			Help: "Total handler invocations by the worker pool, by outcome",
		},
		[]string{"pool", "outcome"},
	)

	// workerInFlight gauges the number of executions currently occupying
	// a worker slot.
	workerInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spine_worker_in_flight",
			Help: "Number of executions currently occupying a worker slot",
		},
		[]string{"pool"},
	)

	// workerDraining gauges 1 while a pool is draining, 0 otherwise.
	workerDraining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spine_worker_draining",
			Help: "1 while the worker pool is draining in-flight work, 0 otherwise",
		},
		[]string{"pool"},
	)
)

// RecordClaims adds n to the claimed-execution counter for pool.
func RecordClaims(pool string, n int) {
	if n <= 0 {
		return
	}
	workerClaims.WithLabelValues(pool).Add(float64(n))
}

// RecordExecution increments the execution outcome counter (outcome is
// "completed" or "failed") for pool.
func RecordExecution(pool, outcome string) {
	workerExecutions.WithLabelValues(pool, outcome).Inc()
}

// SetInFlight sets the in-flight gauge for pool.
func SetInFlight(pool string, n int) {
	workerInFlight.WithLabelValues(pool).Set(float64(n))
}

// SetDraining sets the draining gauge for pool.
func SetDraining(pool string, draining bool) {
	v := 0.0
	if draining {
		v = 1.0
	}
	workerDraining.WithLabelValues(pool).Set(v)
}
