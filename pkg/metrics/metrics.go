/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics instruments the pipeline, replica coordinator, and
// pricing ingest with Prometheus collectors, exposed over the process's
// MetricsAddr listener (§6.5).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "herdguard"

// Collectors groups every metric this module exports. Built once per
// process and shared by every instrumented component.
type Collectors struct {
	registry *prometheus.Registry

	VerdictsTotal          *prometheus.CounterVec
	ActuationsTotal        *prometheus.CounterVec
	SwitchDuration         *prometheus.HistogramVec
	ReplicaActionsTotal    *prometheus.CounterVec
	PricingIngestsTotal    *prometheus.CounterVec
	RiskEventsCleanedTotal prometheus.Counter
}

// NewCollectors builds and registers every collector on a fresh registry.
func NewCollectors() *Collectors {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collectors{
		registry: reg,
		VerdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_verdicts_total",
			Help:      "Count of pipeline verdicts rendered, by verdict.",
		}, []string{"verdict"}),
		ActuationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuations_total",
			Help:      "Count of actuator invocations, by verdict and outcome.",
		}, []string{"verdict", "outcome"}),
		SwitchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "switch_duration_seconds",
			Help:      "Time spent performing a cloud-side switch, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"outcome"}),
		ReplicaActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replica_actions_total",
			Help:      "Count of replica coordinator actions, by action kind.",
		}, []string{"action"}),
		PricingIngestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_ingests_total",
			Help:      "Count of pricing reports ingested, by source.",
		}, []string{"source"}),
		RiskEventsCleanedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_events_cleaned_total",
			Help:      "Count of expired risk events deleted by the cleanup job.",
		}),
	}
}

// Handler serves every registered collector in the Prometheus exposition
// format. It does not route by path: cmd/server uses it as the whole
// metrics listener's handler, so every path on that listener returns the
// metrics.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordPricingIngest implements pricing.Recorder.
func (c *Collectors) RecordPricingIngest(source string) {
	c.PricingIngestsTotal.WithLabelValues(source).Inc()
}

// RecordReplicaAction implements replica.ActionRecorder.
func (c *Collectors) RecordReplicaAction(action string) {
	c.ReplicaActionsTotal.WithLabelValues(action).Inc()
}

// RecordRiskEventsCleaned implements scheduler.RiskCleanupRecorder.
func (c *Collectors) RecordRiskEventsCleaned(n int64) {
	if n > 0 {
		c.RiskEventsCleanedTotal.Add(float64(n))
	}
}
