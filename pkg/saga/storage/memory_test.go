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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmech/sagaflow/pkg/saga"
)

func TestMemoryStore_SaveAndLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	exec := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, exec))
	assert.Equal(t, int64(1), exec.Version, "first save assigns version 1")

	loaded, err := store.Load(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, loaded.ID)
	assert.Equal(t, saga.StatusStarted, loaded.Status)
	assert.Equal(t, int64(1), loaded.Version)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, saga.ErrExecutionNotFound)
}

func TestMemoryStore_LoadReturnsIndependentCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	exec := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, exec))

	loaded, err := store.Load(ctx, exec.ID)
	require.NoError(t, err)
	loaded.Status = saga.StatusFailed

	again, err := store.Load(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusStarted, again.Status, "mutating a loaded copy must not touch the stored record")
}

func TestMemoryStore_VersionGuard(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	exec := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, exec))

	// Two drivers read the same version.
	a, err := store.Load(ctx, exec.ID)
	require.NoError(t, err)
	b, err := store.Load(ctx, exec.ID)
	require.NoError(t, err)

	a.Status = saga.StatusInProgress
	require.NoError(t, store.Save(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Status = saga.StatusCompensating
	assert.ErrorIs(t, store.Save(ctx, b), saga.ErrVersionConflict)

	// The loser re-reads and retries with the fresh version.
	fresh, err := store.Load(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusInProgress, fresh.Status)
	require.NoError(t, store.Save(ctx, fresh))
	assert.Equal(t, int64(3), fresh.Version)
}

func TestMemoryStore_SaveVersionZeroTwiceConflicts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	exec := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, exec))

	dup := exec.Clone()
	dup.Version = 0
	assert.ErrorIs(t, store.Save(ctx, dup), saga.ErrVersionConflict)
}

func TestMemoryStore_SaveUnknownExecutionWithVersion(t *testing.T) {
	store := NewMemoryStore()
	exec := saga.NewExecution("CreateOrder", "order-1", 3)
	exec.Version = 4
	assert.ErrorIs(t, store.Save(context.Background(), exec), saga.ErrExecutionNotFound)
}

func TestMemoryStore_FindByAggregate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	active := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, active))

	found, err := store.FindByAggregate(ctx, "CreateOrder", "order-1")
	require.NoError(t, err)
	assert.Equal(t, active.ID, found.ID)

	// Other type or aggregate does not match.
	_, err = store.FindByAggregate(ctx, "CancelOrder", "order-1")
	assert.ErrorIs(t, err, saga.ErrExecutionNotFound)
	_, err = store.FindByAggregate(ctx, "CreateOrder", "order-2")
	assert.ErrorIs(t, err, saga.ErrExecutionNotFound)

	// Terminal executions no longer count as duplicates.
	active.Status = saga.StatusCompleted
	require.NoError(t, store.Save(ctx, active))
	_, err = store.FindByAggregate(ctx, "CreateOrder", "order-1")
	assert.ErrorIs(t, err, saga.ErrExecutionNotFound)
}

func TestMemoryStore_SaveRejectsDuplicateActiveAggregate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, first))

	// A second create for the same aggregate fails even though nobody
	// looked it up first.
	second := saga.NewExecution("CreateOrder", "order-1", 3)
	err := store.Save(ctx, second)
	assert.ErrorIs(t, err, saga.ErrDuplicateAggregate)
	assert.Equal(t, 1, store.Len())

	// Other aggregates and saga types are unaffected.
	other := saga.NewExecution("CreateOrder", "order-2", 3)
	require.NoError(t, store.Save(ctx, other))
	cancel := saga.NewExecution("CancelOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, cancel))

	// Once the holder is terminal the aggregate is free again.
	first.Status = saga.StatusCompleted
	require.NoError(t, store.Save(ctx, first))
	retry := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, retry))
}

func TestMemoryStore_FindStale(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	stuck := saga.NewExecution("CreateOrder", "order-1", 3)
	stuck.Status = saga.StatusInProgress
	require.NoError(t, store.Save(ctx, stuck))

	done := saga.NewExecution("CreateOrder", "order-2", 3)
	require.NoError(t, store.Save(ctx, done))
	done.Status = saga.StatusCompleted
	require.NoError(t, store.Save(ctx, done))

	// A generous threshold finds nothing.
	got, err := store.FindStale(ctx, saga.ActiveStatuses(), time.Hour)
	require.NoError(t, err)
	assert.Empty(t, got)

	// A negative threshold puts the cutoff in the future, so every active
	// execution counts as stale.
	got, err = store.FindStale(ctx, saga.ActiveStatuses(), -time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stuck.ID, got[0].ID)
}

func TestMemoryStore_FindStaleOrdersOldestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, first))
	time.Sleep(2 * time.Millisecond)
	second := saga.NewExecution("CreateOrder", "order-2", 3)
	require.NoError(t, store.Save(ctx, second))

	got, err := store.FindStale(ctx, saga.ActiveStatuses(), -time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	exec := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, exec))
	require.NoError(t, store.Close())

	_, err := store.Load(ctx, exec.ID)
	assert.ErrorIs(t, err, saga.ErrStoreClosed)
	assert.ErrorIs(t, store.Save(ctx, exec), saga.ErrStoreClosed)
	_, err = store.FindByAggregate(ctx, "CreateOrder", "order-1")
	assert.ErrorIs(t, err, saga.ErrStoreClosed)
	_, err = store.FindStale(ctx, saga.ActiveStatuses(), time.Minute)
	assert.ErrorIs(t, err, saga.ErrStoreClosed)
}

func TestMemoryStore_ConcurrentSavesSerialize(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	exec := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, exec))

	const writers = 8
	var wg sync.WaitGroup
	conflicts := make([]int, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for {
				current, err := store.Load(ctx, exec.ID)
				if err != nil {
					return
				}
				current.RetryCount++
				err = store.Save(ctx, current)
				if err == nil {
					return
				}
				conflicts[n]++
			}
		}(i)
	}
	wg.Wait()

	final, err := store.Load(ctx, exec.ID)
	require.NoError(t, err)
	// Each writer's read-modify-write landed exactly once.
	assert.Equal(t, int64(1+writers), final.Version)
	assert.Equal(t, writers, final.RetryCount)
}
