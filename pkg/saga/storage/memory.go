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

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowmech/sagaflow/pkg/saga"
)

// MemoryStore is a thread-safe in-memory ExecutionStore. Intended for tests
// and single-process deployments; records do not survive a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*saga.Execution
	closed     bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*saga.Execution),
	}
}

// Load implements ExecutionStore.
func (s *MemoryStore) Load(ctx context.Context, id string) (*saga.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, saga.ErrStoreClosed
	}
	exec, ok := s.executions[id]
	if !ok {
		return nil, saga.ErrExecutionNotFound
	}
	return exec.Clone(), nil
}

// Save implements ExecutionStore. The store keeps its own deep copy, so the
// caller remains free to mutate the passed execution afterwards.
func (s *MemoryStore) Save(ctx context.Context, exec *saga.Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return saga.ErrStoreClosed
	}

	stored, ok := s.executions[exec.ID]
	if exec.Version == 0 {
		if ok {
			return saga.ErrVersionConflict
		}
		// Creation and the duplicate check happen under the same lock, so
		// two racing creates for one aggregate cannot both get through.
		for _, other := range s.executions {
			if other.SagaType == exec.SagaType && other.AggregateID == exec.AggregateID && other.Status.IsActive() {
				return saga.ErrDuplicateAggregate
			}
		}
	} else {
		if !ok {
			return saga.ErrExecutionNotFound
		}
		if stored.Version != exec.Version {
			return saga.ErrVersionConflict
		}
	}

	exec.Version++
	exec.UpdatedAt = time.Now().UTC()
	s.executions[exec.ID] = exec.Clone()
	return nil
}

// FindByAggregate implements ExecutionStore.
func (s *MemoryStore) FindByAggregate(ctx context.Context, sagaType, aggregateID string) (*saga.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, saga.ErrStoreClosed
	}
	for _, exec := range s.executions {
		if exec.SagaType == sagaType && exec.AggregateID == aggregateID && exec.Status.IsActive() {
			return exec.Clone(), nil
		}
	}
	return nil, saga.ErrExecutionNotFound
}

// FindStale implements ExecutionStore.
func (s *MemoryStore) FindStale(ctx context.Context, statuses []saga.Status, olderThan time.Duration) ([]*saga.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, saga.ErrStoreClosed
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	wanted := make(map[saga.Status]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	var stale []*saga.Execution
	for _, exec := range s.executions {
		if wanted[exec.Status] && exec.UpdatedAt.Before(cutoff) {
			stale = append(stale, exec.Clone())
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	return stale, nil
}

// Close marks the store closed; subsequent operations fail with
// saga.ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len reports the number of stored executions. Useful in tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.executions)
}
