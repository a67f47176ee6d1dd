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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowmech/sagaflow/pkg/saga"
)

const (
	// executionKeyPattern is the pattern for execution records:
	// {prefix}execution:{id}
	executionKeyPattern = "%sexecution:%s"

	// aggregateKeyPattern is the pattern for the active-execution index:
	// {prefix}aggregate:{sagaType}:{aggregateID} -> execution ID
	aggregateKeyPattern = "%saggregate:%s:%s"

	// activeSetKeyPattern is the pattern for the sorted set of active
	// executions scored by UpdatedAt: {prefix}active
	activeSetKeyPattern = "%sactive"
)

// RedisConfig configures the Redis-backed execution store.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `json:"addr" yaml:"addr"`

	// Password authenticates the connection. Empty means no auth.
	Password string `json:"password" yaml:"password"`

	// DB selects the Redis logical database.
	DB int `json:"db" yaml:"db"`

	// KeyPrefix namespaces all keys written by the store.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultRedisConfig returns a configuration suitable for a local Redis.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "sagaflow:",
	}
}

// Validate checks the configuration for missing fields.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("redis addr is required")
	}
	if c.DB < 0 {
		return errors.New("redis db must be non-negative")
	}
	return nil
}

// RedisStore persists executions in Redis. Optimistic concurrency is
// implemented with WATCH on the execution key: a concurrent write between
// read and EXEC aborts the transaction and surfaces as
// saga.ErrVersionConflict.
//
// Alongside the record itself the store maintains an aggregate index key for
// duplicate-start lookups and a sorted set of active executions scored by
// UpdatedAt for the recovery scan. Both are kept in the same transaction as
// the record write, and a version-0 save fails with
// saga.ErrDuplicateAggregate while the aggregate key is held by another
// active execution.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore connects to Redis using the given configuration.
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return &RedisStore{client: client, prefix: config.KeyPrefix}, nil
}

// NewRedisStoreWithClient wraps an existing client. The caller keeps
// ownership of the client's lifecycle.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) executionKey(id string) string {
	return fmt.Sprintf(executionKeyPattern, s.prefix, id)
}

func (s *RedisStore) aggregateKey(sagaType, aggregateID string) string {
	return fmt.Sprintf(aggregateKeyPattern, s.prefix, sagaType, aggregateID)
}

func (s *RedisStore) activeSetKey() string {
	return fmt.Sprintf(activeSetKeyPattern, s.prefix)
}

// Load implements ExecutionStore.
func (s *RedisStore) Load(ctx context.Context, id string) (*saga.Execution, error) {
	data, err := s.client.Get(ctx, s.executionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, saga.ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load execution from redis: %w", err)
	}
	return decodeExecution([]byte(data))
}

// Save implements ExecutionStore.
func (s *RedisStore) Save(ctx context.Context, exec *saga.Execution) error {
	key := s.executionKey(exec.ID)
	aggKey := s.aggregateKey(exec.SagaType, exec.AggregateID)
	now := time.Now().UTC()

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if exec.Version != 0 {
				return saga.ErrExecutionNotFound
			}
			// The aggregate index key exists exactly while an execution is
			// active; it is watched, so a concurrent create of the same
			// aggregate aborts one of the transactions.
			held, err := tx.Exists(ctx, aggKey).Result()
			if err != nil {
				return fmt.Errorf("read aggregate index from redis: %w", err)
			}
			if held > 0 {
				return saga.ErrDuplicateAggregate
			}
		case err != nil:
			return fmt.Errorf("read execution from redis: %w", err)
		default:
			if exec.Version == 0 {
				return saga.ErrVersionConflict
			}
			current, err := decodeExecution([]byte(stored))
			if err != nil {
				return err
			}
			if current.Version != exec.Version {
				return saga.ErrVersionConflict
			}
		}

		next := exec.Clone()
		next.Version = exec.Version + 1
		next.UpdatedAt = now
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal execution: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)

			activeKey := s.activeSetKey()
			if next.Status.IsActive() {
				pipe.Set(ctx, aggKey, next.ID, 0)
				pipe.ZAdd(ctx, activeKey, redis.Z{
					Score:  float64(next.UpdatedAt.UnixMilli()),
					Member: next.ID,
				})
			} else {
				pipe.Del(ctx, aggKey)
				pipe.ZRem(ctx, activeKey, next.ID)
			}
			return nil
		})
		return err
	}, key, aggKey)

	if errors.Is(err, redis.TxFailedErr) {
		if exec.Version == 0 {
			// A racing create may have claimed the aggregate between our
			// check and EXEC; reclassify so the caller sees a duplicate,
			// not a retryable conflict.
			if held, exErr := s.client.Exists(ctx, aggKey).Result(); exErr == nil && held > 0 {
				return saga.ErrDuplicateAggregate
			}
		}
		return saga.ErrVersionConflict
	}
	if err != nil {
		return err
	}

	exec.Version++
	exec.UpdatedAt = now
	return nil
}

// FindByAggregate implements ExecutionStore.
func (s *RedisStore) FindByAggregate(ctx context.Context, sagaType, aggregateID string) (*saga.Execution, error) {
	id, err := s.client.Get(ctx, s.aggregateKey(sagaType, aggregateID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, saga.ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read aggregate index from redis: %w", err)
	}

	exec, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	// The index lags the record when a terminal save lost its index
	// cleanup, so re-check before reporting a duplicate.
	if !exec.Status.IsActive() {
		return nil, saga.ErrExecutionNotFound
	}
	return exec, nil
}

// FindStale implements ExecutionStore.
func (s *RedisStore) FindStale(ctx context.Context, statuses []saga.Status, olderThan time.Duration) ([]*saga.Execution, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	ids, err := s.client.ZRangeByScore(ctx, s.activeSetKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan active executions in redis: %w", err)
	}

	wanted := make(map[saga.Status]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	stale := make([]*saga.Execution, 0, len(ids))
	for _, id := range ids {
		exec, err := s.Load(ctx, id)
		if errors.Is(err, saga.ErrExecutionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if wanted[exec.Status] {
			stale = append(stale, exec)
		}
	}
	return stale, nil
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping verifies connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeExecution(data []byte) (*saga.Execution, error) {
	exec := &saga.Execution{Context: saga.NewExecutionContext()}
	if err := json.Unmarshal(data, exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	if exec.Context == nil {
		exec.Context = saga.NewExecutionContext()
	}
	return exec, nil
}
