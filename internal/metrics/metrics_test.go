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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSubmissionIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(submissions.With(prometheus.Labels{"kind": "workflow", "name": "nightly-sync"}))
	RecordSubmission("workflow", "nightly-sync")
	after := testutil.ToFloat64(submissions.With(prometheus.Labels{"kind": "workflow", "name": "nightly-sync"}))
	assert.Equal(t, before+1, after)
}

func TestRecordSubmissionRejectionIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(submissionRejections.With(prometheus.Labels{"kind": "task", "name": "send-email", "reason": "unregistered"}))
	RecordSubmissionRejection("task", "send-email", "unregistered")
	after := testutil.ToFloat64(submissionRejections.With(prometheus.Labels{"kind": "task", "name": "send-email", "reason": "unregistered"}))
	assert.Equal(t, before+1, after)
}

func TestRecordRunCompletionAndFailure(t *testing.T) {
	beforeC := testutil.ToFloat64(runCompletions.With(prometheus.Labels{"kind": "task", "name": "export"}))
	RecordRunCompletion("task", "export")
	assert.Equal(t, beforeC+1, testutil.ToFloat64(runCompletions.With(prometheus.Labels{"kind": "task", "name": "export"})))

	beforeF := testutil.ToFloat64(runFailures.With(prometheus.Labels{"kind": "task", "name": "export", "category": "network"}))
	RecordRunFailure("task", "export", "network")
	assert.Equal(t, beforeF+1, testutil.ToFloat64(runFailures.With(prometheus.Labels{"kind": "task", "name": "export", "category": "network"})))
}

func TestRecordClaimsIgnoresNonPositive(t *testing.T) {
	before := testutil.ToFloat64(workerClaims.With(prometheus.Labels{"pool": "default"}))
	RecordClaims("default", 0)
	RecordClaims("default", -3)
	assert.Equal(t, before, testutil.ToFloat64(workerClaims.With(prometheus.Labels{"pool": "default"})))

	RecordClaims("default", 4)
	assert.Equal(t, before+4, testutil.ToFloat64(workerClaims.With(prometheus.Labels{"pool": "default"})))
}

func TestSetInFlightAndDraining(t *testing.T) {
	SetInFlight("default", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(workerInFlight.With(prometheus.Labels{"pool": "default"})))

	SetDraining("default", true)
	assert.Equal(t, float64(1), testutil.ToFloat64(workerDraining.With(prometheus.Labels{"pool": "default"})))

	SetDraining("default", false)
	assert.Equal(t, float64(0), testutil.ToFloat64(workerDraining.With(prometheus.Labels{"pool": "default"})))
}

func TestRecordTickAccumulatesDueCount(t *testing.T) {
	beforeTicks := testutil.ToFloat64(schedulerTicks)
	beforeDue := testutil.ToFloat64(schedulerDue)

	RecordTick(3)
	RecordTick(0)

	assert.Equal(t, beforeTicks+2, testutil.ToFloat64(schedulerTicks))
	assert.Equal(t, beforeDue+3, testutil.ToFloat64(schedulerDue))
}

func TestRecordDispatchOutcomeAndActiveLocks(t *testing.T) {
	before := testutil.ToFloat64(schedulerDispatches.With(prometheus.Labels{"outcome": OutcomeDispatched}))
	RecordDispatchOutcome(OutcomeDispatched)
	assert.Equal(t, before+1, testutil.ToFloat64(schedulerDispatches.With(prometheus.Labels{"outcome": OutcomeDispatched})))

	SetActiveLocks(5)
	assert.Equal(t, float64(5), testutil.ToFloat64(schedulerActiveLocks))
}

func TestSetBreakerStateEncodesVocabulary(t *testing.T) {
	SetBreakerState("payments-api", "closed")
	assert.Equal(t, float64(0), testutil.ToFloat64(breakerState.With(prometheus.Labels{"key": "payments-api"})))

	SetBreakerState("payments-api", "half_open")
	assert.Equal(t, float64(1), testutil.ToFloat64(breakerState.With(prometheus.Labels{"key": "payments-api"})))

	SetBreakerState("payments-api", "open")
	assert.Equal(t, float64(2), testutil.ToFloat64(breakerState.With(prometheus.Labels{"key": "payments-api"})))
}

func TestRecordBreakerRejection(t *testing.T) {
	before := testutil.ToFloat64(breakerRejections.With(prometheus.Labels{"key": "payments-api"}))
	RecordBreakerRejection("payments-api")
	assert.Equal(t, before+1, testutil.ToFloat64(breakerRejections.With(prometheus.Labels{"key": "payments-api"})))
}
