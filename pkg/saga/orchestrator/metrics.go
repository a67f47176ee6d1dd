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

package orchestrator

import (
	"time"

	"github.com/flowmech/sagaflow/pkg/saga"
)

// MetricsCollector receives engine events. Implementations must be safe for
// concurrent use; the engine calls them from multiple saga workers.
type MetricsCollector interface {
	// SagaStarted is called when a new execution is persisted.
	SagaStarted(sagaType string)

	// SagaFinished is called when an execution reaches a terminal status.
	// Duration measures from the execution's creation.
	SagaFinished(sagaType string, status saga.Status, duration time.Duration)

	// StepExecuted is called when a forward action succeeds.
	StepExecuted(sagaType, stepName string, attempts int, duration time.Duration)

	// StepFailed is called when a forward action fails beyond retry.
	StepFailed(sagaType, stepName string)

	// CompensationApplied is called when a compensating action succeeds.
	CompensationApplied(sagaType, stepName string)

	// CompensationFailed is called when a compensating action fails beyond
	// retry. The unwind continues past it.
	CompensationFailed(sagaType, stepName string)

	// SagaRecovered is called when the recovery scan resumes a stale
	// execution.
	SagaRecovered(sagaType string)
}

// noOpMetricsCollector discards all events. Used when no collector is
// configured.
type noOpMetricsCollector struct{}

func (noOpMetricsCollector) SagaStarted(string)                              {}
func (noOpMetricsCollector) SagaFinished(string, saga.Status, time.Duration) {}
func (noOpMetricsCollector) StepExecuted(string, string, int, time.Duration) {}
func (noOpMetricsCollector) StepFailed(string, string)                       {}
func (noOpMetricsCollector) CompensationApplied(string, string)              {}
func (noOpMetricsCollector) CompensationFailed(string, string)               {}
func (noOpMetricsCollector) SagaRecovered(string)                            {}

// NewNoOpMetricsCollector returns a collector that discards all events.
func NewNoOpMetricsCollector() MetricsCollector {
	return noOpMetricsCollector{}
}
