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
	// schedulerTicks tracks every backend tick the scheduler processes.
	schedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spine_scheduler_ticks_total",
			Help: "Total scheduler backend ticks processed",
		},
	)

	// schedulerDue tracks how many schedules were found due per tick.
	schedulerDue = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spine_scheduler_due_total",
			Help: "Total schedules found due across all ticks",
		},
	)

	// schedulerDispatches tracks schedule dispatch outcomes.
	schedulerDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spine_scheduler_dispatches_total",
			Help: "Total schedule dispatch attempts by outcome",
		},
		[]string{"outcome"},
	)

	// schedulerActiveLocks gauges schedule locks this instance currently holds.
	schedulerActiveLocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spine_scheduler_active_locks",
			Help: "Number of schedule locks this instance currently holds",
		},
	)
)

// RecordTick increments the tick counter and adds dueCount to the due total.
func RecordTick(dueCount int) {
	schedulerTicks.Inc()
	if dueCount > 0 {
		schedulerDue.Add(float64(dueCount))
	}
}

// Dispatch outcomes recorded by RecordDispatchOutcome.
const (
	OutcomeDispatched    = "dispatched"
	OutcomeLockHeld      = "lock_held"
	OutcomeTargetMissing = "target_missing"
	OutcomeSubmitFailed  = "submit_failed"
)

// RecordDispatchOutcome increments the dispatch outcome counter.
func RecordDispatchOutcome(outcome string) {
	schedulerDispatches.WithLabelValues(outcome).Inc()
}

// SetActiveLocks sets the active-lock gauge to n.
func SetActiveLocks(n int) {
	schedulerActiveLocks.Set(float64(n))
}
