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

package saga

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine. Callers test them with
// errors.Is.
var (
	// ErrExecutionNotFound is returned by stores when no execution exists
	// for the given ID or aggregate.
	ErrExecutionNotFound = errors.New("saga execution not found")

	// ErrVersionConflict is returned by Save when the stored version no
	// longer matches the version the caller read. It is an internal
	// concurrency signal: the orchestrator re-reads and re-evaluates
	// instead of surfacing it.
	ErrVersionConflict = errors.New("saga execution version conflict")

	// ErrDuplicateAggregate is returned by Save when creating an execution
	// while another active execution holds the same (sagaType, aggregateID).
	// The check is atomic with the create, so it also catches races that a
	// lookup before Save would miss.
	ErrDuplicateAggregate = errors.New("active saga execution already exists for aggregate")

	// ErrSagaTypeNotRegistered is returned when no Definition is
	// registered for the requested saga type.
	ErrSagaTypeNotRegistered = errors.New("saga type not registered")

	// ErrStoreClosed is returned by store operations after Close.
	ErrStoreClosed = errors.New("execution store is closed")
)

// ErrorClass partitions collaborator failures for the step executor.
type ErrorClass string

const (
	// ClassTransient marks failures worth retrying: network timeouts,
	// 5xx-equivalent responses, contended resources.
	ClassTransient ErrorClass = "transient"

	// ClassTerminal marks failures that no retry can fix: a declined
	// payment, insufficient stock, a validation rejection.
	ClassTerminal ErrorClass = "terminal"
)

// Error is a classified failure returned by a collaborator call. The class
// is supplied by the collaborator's error taxonomy, not inferred by the
// engine.
type Error struct {
	// Class determines retry behavior in the step executor.
	Class ErrorClass

	// Code is a short machine-readable identifier, e.g. "PAYMENT_DECLINED".
	Code string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a retryable classified error.
func NewTransientError(code, message string) *Error {
	return &Error{Class: ClassTransient, Code: code, Message: message}
}

// NewTerminalError creates a non-retryable classified error.
func NewTerminalError(code, message string) *Error {
	return &Error{Class: ClassTerminal, Code: code, Message: message}
}

// WrapTransient wraps err as a retryable classified error.
func WrapTransient(err error, code, message string) *Error {
	return &Error{Class: ClassTransient, Code: code, Message: message, Cause: err}
}

// WrapTerminal wraps err as a non-retryable classified error.
func WrapTerminal(err error, code, message string) *Error {
	return &Error{Class: ClassTerminal, Code: code, Message: message, Cause: err}
}

// Classify returns the error class the step executor should act on. A
// classified *Error speaks for itself. A deadline expiry counts as
// transient: the attempt timed out, the next one may not. Anything the
// collaborator left unclassified is treated as transient so it gets the
// benefit of the retry budget before compensation kicks in.
func Classify(err error) ErrorClass {
	var se *Error
	if errors.As(err, &se) {
		return se.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassTransient
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err) == ClassTransient
}

// IsTerminal reports whether err short-circuits retries.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err) == ClassTerminal
}

// DuplicateSagaError is returned by Start when an active execution already
// exists for the same (SagaType, AggregateID) pair. The caller should Resume
// or await the existing execution instead.
type DuplicateSagaError struct {
	SagaType    string
	AggregateID string
	ExistingID  string
}

// Error implements the error interface.
func (e *DuplicateSagaError) Error() string {
	return fmt.Sprintf("active saga %q already exists for %s/%s",
		e.ExistingID, e.SagaType, e.AggregateID)
}

// IsDuplicateSaga reports whether err is a DuplicateSagaError.
func IsDuplicateSaga(err error) bool {
	var d *DuplicateSagaError
	return errors.As(err, &d)
}

// CompensationError records a compensating action that failed after
// exhausting its retries. It is recorded on the execution and does not halt
// the rest of the unwind.
type CompensationError struct {
	StepName string
	Cause    error
}

// Error implements the error interface.
func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation for step %q failed: %v", e.StepName, e.Cause)
}

// Unwrap returns the underlying failure.
func (e *CompensationError) Unwrap() error {
	return e.Cause
}
