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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmech/sagaflow/pkg/saga"
)

func setupRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client, "sagaflow:")
}

func TestRedisStore_SaveAndLoad(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	exec := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, exec.Context.Set("order_request", map[string]string{"order_id": "order-1"}))
	require.NoError(t, store.Save(ctx, exec))
	assert.Equal(t, int64(1), exec.Version)

	loaded, err := store.Load(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, loaded.ID)
	assert.Equal(t, saga.StatusStarted, loaded.Status)
	assert.Equal(t, int64(1), loaded.Version)
	assert.True(t, loaded.Context.Has("order_request"))

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, saga.ErrExecutionNotFound)
}

func TestRedisStore_VersionGuard(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	exec := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, exec))

	a, err := store.Load(ctx, exec.ID)
	require.NoError(t, err)
	b, err := store.Load(ctx, exec.ID)
	require.NoError(t, err)

	a.Status = saga.StatusInProgress
	require.NoError(t, store.Save(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Status = saga.StatusCompensating
	assert.ErrorIs(t, store.Save(ctx, b), saga.ErrVersionConflict)

	fresh, err := store.Load(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusInProgress, fresh.Status)
}

func TestRedisStore_SaveVersionZeroTwiceConflicts(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	exec := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, exec))

	dup := exec.Clone()
	dup.Version = 0
	assert.ErrorIs(t, store.Save(ctx, dup), saga.ErrVersionConflict)
}

func TestRedisStore_SaveRejectsDuplicateActiveAggregate(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	first := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, first))

	// The aggregate index key blocks a second create, no lookup required.
	second := saga.NewExecution("CreateOrder", "order-1", 3)
	assert.ErrorIs(t, store.Save(ctx, second), saga.ErrDuplicateAggregate)

	other := saga.NewExecution("CreateOrder", "order-2", 3)
	require.NoError(t, store.Save(ctx, other))

	// A terminal save releases the aggregate.
	first.Status = saga.StatusCompensated
	require.NoError(t, store.Save(ctx, first))
	retry := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, retry))
}

func TestRedisStore_SaveUnknownExecutionWithVersion(t *testing.T) {
	store := setupRedisStore(t)

	exec := saga.NewExecution("CreateOrder", "order-1", 3)
	exec.Version = 3
	assert.ErrorIs(t, store.Save(context.Background(), exec), saga.ErrExecutionNotFound)
}

func TestRedisStore_FindByAggregate(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	exec := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, exec))

	found, err := store.FindByAggregate(ctx, "CreateOrder", "order-1")
	require.NoError(t, err)
	assert.Equal(t, exec.ID, found.ID)

	_, err = store.FindByAggregate(ctx, "CreateOrder", "order-2")
	assert.ErrorIs(t, err, saga.ErrExecutionNotFound)

	// A terminal save clears the aggregate index.
	exec.Status = saga.StatusCompleted
	require.NoError(t, store.Save(ctx, exec))
	_, err = store.FindByAggregate(ctx, "CreateOrder", "order-1")
	assert.ErrorIs(t, err, saga.ErrExecutionNotFound)

	// A new saga for the same aggregate is allowed afterwards.
	next := saga.NewExecution("CreateOrder", "order-1", 3)
	require.NoError(t, store.Save(ctx, next))
	found, err = store.FindByAggregate(ctx, "CreateOrder", "order-1")
	require.NoError(t, err)
	assert.Equal(t, next.ID, found.ID)
}

func TestRedisStore_FindStale(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	stuck := saga.NewExecution("CreateOrder", "order-1", 3)
	stuck.Status = saga.StatusInProgress
	require.NoError(t, store.Save(ctx, stuck))

	done := saga.NewExecution("CreateOrder", "order-2", 3)
	require.NoError(t, store.Save(ctx, done))
	done.Status = saga.StatusCompleted
	require.NoError(t, store.Save(ctx, done))

	got, err := store.FindStale(ctx, saga.ActiveStatuses(), time.Hour)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = store.FindStale(ctx, saga.ActiveStatuses(), -time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stuck.ID, got[0].ID)

	// Filtering by status subsets works too.
	got, err = store.FindStale(ctx, []saga.Status{saga.StatusCompensating}, -time.Minute)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultRedisConfig().Validate())
	assert.Error(t, (&RedisConfig{Addr: ""}).Validate())
	assert.Error(t, (&RedisConfig{Addr: "localhost:6379", DB: -1}).Validate())
}
