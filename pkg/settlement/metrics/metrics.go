// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
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
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

type SettlementMetrics interface {
	IncSubmitted(challengeType, action string)
	IncConfirmed(challengeType, action string)
	IncFailed(challengeType, action, reason string)
	ObserveConfirmation(challengeType, action string, durationInSeconds float64)
}

var METRICS_SUBSYSTEM = "settlement"

type settlementMetrics struct {
	submitted    *prometheus.CounterVec
	confirmed    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	confirmation *prometheus.HistogramVec
}

func InitMetrics(ctx context.Context, registry *prometheus.Registry) SettlementMetrics {
	metrics := &settlementMetrics{}

	metrics.submitted = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "submitted_txns_total",
		Help: "Settlement challenge transactions submitted", Subsystem: METRICS_SUBSYSTEM}, []string{"type", "action"})
	metrics.confirmed = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "confirmed_txns_total",
		Help: "Settlement challenge transactions confirmed on chain", Subsystem: METRICS_SUBSYSTEM}, []string{"type", "action"})
	metrics.failed = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "failed_txns_total",
		Help: "Settlement challenge transactions that failed to submit or confirm", Subsystem: METRICS_SUBSYSTEM}, []string{"type", "action", "reason"})
	metrics.confirmation = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "confirmation_seconds",
		Help:    "Time from submission to confirmation of settlement challenge transactions",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300}, Subsystem: METRICS_SUBSYSTEM}, []string{"type", "action"})

	registry.MustRegister(metrics.submitted)
	registry.MustRegister(metrics.confirmed)
	registry.MustRegister(metrics.failed)
	registry.MustRegister(metrics.confirmation)
	return metrics
}

func (sm *settlementMetrics) IncSubmitted(challengeType, action string) {
	sm.submitted.WithLabelValues(challengeType, action).Inc()
}

func (sm *settlementMetrics) IncConfirmed(challengeType, action string) {
	sm.confirmed.WithLabelValues(challengeType, action).Inc()
}

func (sm *settlementMetrics) IncFailed(challengeType, action, reason string) {
	sm.failed.WithLabelValues(challengeType, action, reason).Inc()
}

func (sm *settlementMetrics) ObserveConfirmation(challengeType, action string, durationInSeconds float64) {
	sm.confirmation.WithLabelValues(challengeType, action).Observe(durationInSeconds)
}

type noopMetrics struct{}

// NoopMetrics discards everything, for callers that do not expose metrics.
func NoopMetrics() SettlementMetrics {
	return noopMetrics{}
}

func (noopMetrics) IncSubmitted(challengeType, action string)                          {}
func (noopMetrics) IncConfirmed(challengeType, action string)                          {}
func (noopMetrics) IncFailed(challengeType, action, reason string)                     {}
func (noopMetrics) ObserveConfirmation(challengeType, action string, seconds float64) {}
