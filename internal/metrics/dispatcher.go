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

// Package metrics holds the Prometheus instrumentation spec.md §4.15
// requires of the dispatcher, worker pool, scheduler, and circuit
// breakers. Every component records through a package-level
// CounterVec/Gauge and a small exported Record* function, so wiring a
// call site costs one line and the registration happens exactly once
// via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// submissions tracks work accepted by Dispatcher.Submit, by kind.
	submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spine_dispatcher_submissions_total",
			Help: "Total work submissions accepted by the dispatcher, by kind and name",
		},
		[]string{"kind", "name"},
	)

	// submissionRejections tracks Submit calls that never reach a
	// RunRecord (unregistered handler, executor rejection).
	submissionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spine_dispatcher_submission_rejections_total",
			Help: "Total submissions rejected before a run record was created",
		},
		[]string{"kind", "name", "reason"},
	)

	// runCompletions tracks Dispatcher.Completed calls, by kind.
	runCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spine_dispatcher_run_completions_total",
			Help: "Total runs transitioned to completed, by kind and name",
		},
		[]string{"kind", "name"},
	)

	// runFailures tracks Dispatcher.Failed calls, by kind and error category.
	runFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spine_dispatcher_run_failures_total",
			Help: "Total runs transitioned to failed, by kind, name, and error category",
		},
		[]string{"kind", "name", "category"},
	)
)

// RecordSubmission increments the submission counter for a kind/name pair.
func RecordSubmission(kind, name string) {
	submissions.WithLabelValues(kind, name).Inc()
}

// RecordSubmissionRejection increments the rejection counter for a
// kind/name pair with the reason the submission never produced a run.
func RecordSubmissionRejection(kind, name, reason string) {
	submissionRejections.WithLabelValues(kind, name, reason).Inc()
}

// RecordRunCompletion increments the completion counter for a kind/name pair.
func RecordRunCompletion(kind, name string) {
	runCompletions.WithLabelValues(kind, name).Inc()
}

// RecordRunFailure increments the failure counter for a kind/name pair
// with the error category assigned to the cause.
func RecordRunFailure(kind, name, category string) {
	runFailures.WithLabelValues(kind, name, category).Inc()
}
