// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// Package metrics provides the Prometheus implementation of the engine's
// metrics collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowmech/sagaflow/pkg/saga"
)

// PrometheusCollector records engine events into Prometheus metrics. It
// implements orchestrator.MetricsCollector.
type PrometheusCollector struct {
	sagasStarted        *prometheus.CounterVec
	sagasFinished       *prometheus.CounterVec
	sagaDuration        *prometheus.HistogramVec
	stepsExecuted       *prometheus.CounterVec
	stepAttempts        *prometheus.HistogramVec
	stepDuration        *prometheus.HistogramVec
	stepsFailed         *prometheus.CounterVec
	compensationsOK     *prometheus.CounterVec
	compensationsFailed *prometheus.CounterVec
	sagasRecovered      *prometheus.CounterVec
}

// NewPrometheusCollector creates a collector and registers its metrics with
// the given registerer. Pass prometheus.DefaultRegisterer for the process
// default registry.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	c := &PrometheusCollector{
		sagasStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow",
			Name:      "sagas_started_total",
			Help:      "Number of saga executions started.",
		}, []string{"saga_type"}),
		sagasFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow",
			Name:      "sagas_finished_total",
			Help:      "Number of saga executions that reached a terminal status.",
		}, []string{"saga_type", "status"}),
		sagaDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sagaflow",
			Name:      "saga_duration_seconds",
			Help:      "Wall time from saga creation to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"saga_type", "status"}),
		stepsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow",
			Name:      "steps_executed_total",
			Help:      "Number of forward step actions that succeeded.",
		}, []string{"saga_type", "step"}),
		stepAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sagaflow",
			Name:      "step_attempts",
			Help:      "Attempts spent per successful forward step action.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 10},
		}, []string{"saga_type", "step"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sagaflow",
			Name:      "step_duration_seconds",
			Help:      "Wall time per successful forward step action, including backoff waits.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"saga_type", "step"}),
		stepsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow",
			Name:      "steps_failed_total",
			Help:      "Number of forward step actions that failed beyond retry.",
		}, []string{"saga_type", "step"}),
		compensationsOK: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow",
			Name:      "compensations_applied_total",
			Help:      "Number of compensating actions that succeeded.",
		}, []string{"saga_type", "step"}),
		compensationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow",
			Name:      "compensations_failed_total",
			Help:      "Number of compensating actions that failed beyond retry.",
		}, []string{"saga_type", "step"}),
		sagasRecovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow",
			Name:      "sagas_recovered_total",
			Help:      "Number of stale saga executions resumed by recovery scans.",
		}, []string{"saga_type"}),
	}

	collectors := []prometheus.Collector{
		c.sagasStarted, c.sagasFinished, c.sagaDuration,
		c.stepsExecuted, c.stepAttempts, c.stepDuration, c.stepsFailed,
		c.compensationsOK, c.compensationsFailed, c.sagasRecovered,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SagaStarted implements orchestrator.MetricsCollector.
func (c *PrometheusCollector) SagaStarted(sagaType string) {
	c.sagasStarted.WithLabelValues(sagaType).Inc()
}

// SagaFinished implements orchestrator.MetricsCollector.
func (c *PrometheusCollector) SagaFinished(sagaType string, status saga.Status, duration time.Duration) {
	c.sagasFinished.WithLabelValues(sagaType, status.String()).Inc()
	c.sagaDuration.WithLabelValues(sagaType, status.String()).Observe(duration.Seconds())
}

// StepExecuted implements orchestrator.MetricsCollector.
func (c *PrometheusCollector) StepExecuted(sagaType, stepName string, attempts int, duration time.Duration) {
	c.stepsExecuted.WithLabelValues(sagaType, stepName).Inc()
	c.stepAttempts.WithLabelValues(sagaType, stepName).Observe(float64(attempts))
	c.stepDuration.WithLabelValues(sagaType, stepName).Observe(duration.Seconds())
}

// StepFailed implements orchestrator.MetricsCollector.
func (c *PrometheusCollector) StepFailed(sagaType, stepName string) {
	c.stepsFailed.WithLabelValues(sagaType, stepName).Inc()
}

// CompensationApplied implements orchestrator.MetricsCollector.
func (c *PrometheusCollector) CompensationApplied(sagaType, stepName string) {
	c.compensationsOK.WithLabelValues(sagaType, stepName).Inc()
}

// CompensationFailed implements orchestrator.MetricsCollector.
func (c *PrometheusCollector) CompensationFailed(sagaType, stepName string) {
	c.compensationsFailed.WithLabelValues(sagaType, stepName).Inc()
}

// SagaRecovered implements orchestrator.MetricsCollector.
func (c *PrometheusCollector) SagaRecovered(sagaType string) {
	c.sagasRecovered.WithLabelValues(sagaType).Inc()
}
