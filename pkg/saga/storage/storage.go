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

// Package storage defines the execution store contract and provides the
// in-memory, MySQL (GORM), and Redis implementations. The orchestration
// logic depends only on the contract; any store offering per-record
// optimistic concurrency can back it.
package storage

import (
	"context"
	"time"

	"github.com/flowmech/sagaflow/pkg/saga"
)

// ExecutionStore is the durable record of saga progress. All writes are
// guarded by the execution's version: Save fails with
// saga.ErrVersionConflict when the stored version no longer matches the
// version the caller read, and the caller re-reads and re-evaluates instead
// of overwriting.
//
// Save semantics: an execution with Version 0 has never been persisted and
// is created with version 1. The create is atomic with a uniqueness check
// over (sagaType, aggregateID): it fails with saga.ErrDuplicateAggregate
// while another active execution holds the same aggregate, so two racing
// creates can never both succeed. For any later save the stored version
// must equal exec.Version; the record is written with exec.Version+1. On
// success the passed struct's Version and UpdatedAt are advanced to match
// the store.
type ExecutionStore interface {
	// Load returns the execution with the given ID, or
	// saga.ErrExecutionNotFound.
	Load(ctx context.Context, id string) (*saga.Execution, error)

	// Save persists the execution conditionally on its version.
	Save(ctx context.Context, exec *saga.Execution) error

	// FindByAggregate returns the active (non-terminal) execution for the
	// given (sagaType, aggregateID) pair, or saga.ErrExecutionNotFound.
	// Used for duplicate-start detection.
	FindByAggregate(ctx context.Context, sagaType, aggregateID string) (*saga.Execution, error)

	// FindStale returns executions in any of the given statuses whose
	// UpdatedAt is older than olderThan, oldest first. Used by the
	// recovery scan.
	FindStale(ctx context.Context, statuses []saga.Status, olderThan time.Duration) ([]*saga.Execution, error)
}
