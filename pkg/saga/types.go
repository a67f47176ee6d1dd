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

// Package saga provides the core model of the saga orchestration engine:
// execution records, the step contract, saga definitions, and the error
// taxonomy shared by the orchestrator, the step executor, and the stores.
package saga

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the overall state of a saga execution.
type Status int

const (
	// StatusStarted indicates the execution is persisted but no step has
	// been dispatched yet.
	StatusStarted Status = iota

	// StatusInProgress indicates forward execution is underway.
	StatusInProgress

	// StatusCompleted indicates all steps completed successfully.
	StatusCompleted

	// StatusCompensating indicates a step failed and previously executed
	// steps are being unwound in reverse order.
	StatusCompensating

	// StatusCompensated indicates every executed step was successfully
	// compensated. For the business entity this is a clean rollback, not
	// an error state.
	StatusCompensated

	// StatusFailed indicates the execution is terminal and requires
	// operator attention: either the first step failed before anything
	// was executed, or one or more compensations could not be confirmed.
	StatusFailed
)

// String returns the string representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "started"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusCompensating:
		return "compensating"
	case StatusCompensated:
		return "compensated"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseStatus converts a stored status string back into a Status.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "started":
		return StatusStarted, nil
	case "in_progress":
		return StatusInProgress, nil
	case "completed":
		return StatusCompleted, nil
	case "compensating":
		return StatusCompensating, nil
	case "compensated":
		return StatusCompensated, nil
	case "failed":
		return StatusFailed, nil
	default:
		return 0, fmt.Errorf("unknown saga status %q", name)
	}
}

// IsTerminal returns true if no further transitions occur from this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCompensated || s == StatusFailed
}

// IsActive returns true if the execution still owns work: it is either
// making forward progress or unwinding.
func (s Status) IsActive() bool {
	return s == StatusStarted || s == StatusInProgress || s == StatusCompensating
}

// ActiveStatuses returns the set of non-terminal statuses, in the order they
// occur in the lifecycle. Used for duplicate-start detection and recovery
// scans.
func ActiveStatuses() []Status {
	return []Status{StatusStarted, StatusInProgress, StatusCompensating}
}

// Execution is the durable record of a saga instance's progress. It is the
// only mutable persisted entity of the engine; every transition is written
// to the ExecutionStore before the next step begins, guarded by Version.
//
// CurrentStepIndex only increases during forward execution and only
// decreases during compensation (one step back per compensation applied).
// While compensating it doubles as the compensation frontier: the next step
// to undo is CurrentStepIndex-1.
type Execution struct {
	// ID uniquely identifies this execution.
	ID string `json:"id"`

	// SagaType names the Definition this execution follows, e.g. "CreateOrder".
	SagaType string `json:"saga_type"`

	// AggregateID identifies the business entity the saga acts on, e.g. an
	// order ID. At most one active execution may exist per
	// (SagaType, AggregateID) pair.
	AggregateID string `json:"aggregate_id"`

	// Status is the current state machine position.
	Status Status `json:"status"`

	// CurrentStepIndex is the index of the next step to execute (forward)
	// or one past the next step to compensate (unwinding).
	CurrentStepIndex int `json:"current_step_index"`

	// TotalSteps is fixed at creation from the Definition.
	TotalSteps int `json:"total_steps"`

	// Context holds each executed step's output keyed by step name, in
	// execution order. Values are opaque to the engine.
	Context *ExecutionContext `json:"context"`

	// ErrorMessage records the original failure and any compensation
	// failures. Empty while the execution is healthy.
	ErrorMessage string `json:"error_message,omitempty"`

	// RetryCount is the number of retries spent on the step at
	// CurrentStepIndex; reset to zero on every step advance.
	RetryCount int `json:"retry_count"`

	// FailedCompensations counts compensating actions that exhausted their
	// retries. A non-zero count forces the terminal status to Failed
	// instead of Compensated, even across a crash and recovery.
	FailedCompensations int `json:"failed_compensations"`

	// Version is incremented on every persisted mutation and guards all
	// writes (optimistic concurrency). A zero version marks an execution
	// that has never been saved.
	Version int64 `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewExecution creates an Execution in StatusStarted with an empty context
// and a generated ID. It is not persisted until the first Save.
func NewExecution(sagaType, aggregateID string, totalSteps int) *Execution {
	now := time.Now().UTC()
	return &Execution{
		ID:          uuid.NewString(),
		SagaType:    sagaType,
		AggregateID: aggregateID,
		Status:      StatusStarted,
		TotalSteps:  totalSteps,
		Context:     NewExecutionContext(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsTerminal reports whether the execution reached a terminal status.
func (e *Execution) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// RecordError appends a failure description to ErrorMessage, separating
// entries so the original failure and later compensation failures both
// remain visible to operators.
func (e *Execution) RecordError(msg string) {
	if e.ErrorMessage == "" {
		e.ErrorMessage = msg
		return
	}
	e.ErrorMessage = fmt.Sprintf("%s; %s", e.ErrorMessage, msg)
}

// Clone returns a deep copy of the execution. Stores hand out clones so
// callers never share mutable state with stored records.
func (e *Execution) Clone() *Execution {
	cp := *e
	if e.Context != nil {
		cp.Context = e.Context.Clone()
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
