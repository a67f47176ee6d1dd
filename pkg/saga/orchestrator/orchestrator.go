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

// Package orchestrator drives saga executions through their state machine:
// forward step execution, reverse-order compensation, and crash recovery.
// Every transition is persisted to the execution store before the next step
// begins, so a crashed run can resume from its last durable position.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowmech/sagaflow/pkg/logger"
	"github.com/flowmech/sagaflow/pkg/saga"
	"github.com/flowmech/sagaflow/pkg/saga/retry"
	"github.com/flowmech/sagaflow/pkg/saga/storage"
)

// ErrOrchestratorClosed is returned by Start after Close has been called.
var ErrOrchestratorClosed = errors.New("orchestrator is closed")

// Config assembles the orchestrator's collaborators.
type Config struct {
	// Store persists execution state. Required.
	Store storage.ExecutionStore

	// Registry resolves saga types to definitions. Required.
	Registry *saga.Registry

	// Executor applies the retry policy to step invocations. Defaults to
	// retry.DefaultExecutorConfig.
	Executor *retry.Executor

	// Metrics receives engine events. Defaults to a no-op collector.
	Metrics MetricsCollector

	// Logger is the structured logger. Defaults to the global logger.
	Logger *zap.Logger
}

// Validate checks that the required collaborators are present.
func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("orchestrator config: store is required")
	}
	if c.Registry == nil {
		return errors.New("orchestrator config: registry is required")
	}
	return nil
}

// Orchestrator coordinates saga executions. It is safe for concurrent use;
// each Start dispatches the new execution to its own worker goroutine, and
// concurrent drivers of the same execution are serialized by the store's
// version guard.
type Orchestrator struct {
	store    storage.ExecutionStore
	registry *saga.Registry
	executor *retry.Executor
	metrics  MetricsCollector
	logger   *zap.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewOrchestrator creates an orchestrator from the given configuration.
func NewOrchestrator(config *Config) (*Orchestrator, error) {
	if config == nil {
		return nil, errors.New("orchestrator config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	executor := config.Executor
	if executor == nil {
		var err error
		executor, err = retry.NewExecutor(nil)
		if err != nil {
			return nil, err
		}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewNoOpMetricsCollector()
	}
	log := config.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	return &Orchestrator{
		store:    config.Store,
		registry: config.Registry,
		executor: executor,
		metrics:  metrics,
		logger:   log,
	}, nil
}

// Start creates a new execution for the given saga type and aggregate,
// persists it in StatusStarted, and dispatches it to a background worker. It
// returns a snapshot of the persisted execution immediately; callers observe
// the outcome through the store.
//
// If an active execution already exists for (sagaType, aggregateID), Start
// returns a *saga.DuplicateSagaError naming it.
func (o *Orchestrator) Start(ctx context.Context, sagaType, aggregateID string, initial map[string]any) (*saga.Execution, error) {
	if aggregateID == "" {
		return nil, errors.New("aggregate ID must not be empty")
	}

	def, err := o.registry.Get(sagaType)
	if err != nil {
		return nil, err
	}

	existing, err := o.store.FindByAggregate(ctx, sagaType, aggregateID)
	if err == nil {
		return nil, &saga.DuplicateSagaError{
			SagaType:    sagaType,
			AggregateID: aggregateID,
			ExistingID:  existing.ID,
		}
	}
	if !errors.Is(err, saga.ErrExecutionNotFound) {
		return nil, err
	}

	exec := saga.NewExecution(sagaType, aggregateID, def.StepCount())
	if len(initial) > 0 {
		ec, err := saga.NewExecutionContextFromMap(initial)
		if err != nil {
			return nil, err
		}
		exec.Context = ec
	}

	if err := o.store.Save(ctx, exec); err != nil {
		if errors.Is(err, saga.ErrDuplicateAggregate) {
			// A racing Start won between our lookup and the save; the
			// store's create guard is the authoritative check.
			dup := &saga.DuplicateSagaError{SagaType: sagaType, AggregateID: aggregateID}
			if winner, lookupErr := o.store.FindByAggregate(ctx, sagaType, aggregateID); lookupErr == nil {
				dup.ExistingID = winner.ID
			}
			return nil, dup
		}
		return nil, fmt.Errorf("persist new execution: %w", err)
	}
	o.metrics.SagaStarted(sagaType)
	o.logger.Info("saga started",
		zap.String("saga_id", exec.ID),
		zap.String("saga_type", sagaType),
		zap.String("aggregate_id", aggregateID),
	)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		// The record is durable; a recovery scan will pick it up.
		return exec.Clone(), ErrOrchestratorClosed
	}
	o.wg.Add(1)
	o.mu.Unlock()

	// The worker outlives the request that started the saga.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer o.wg.Done()
		status, err := o.run(runCtx, exec.ID, def)
		if err != nil {
			o.logger.Error("saga worker stopped",
				zap.String("saga_id", exec.ID),
				zap.String("saga_type", sagaType),
				zap.String("status", status.String()),
				zap.Error(err),
			)
		}
	}()

	return exec.Clone(), nil
}

// Resume picks up an existing execution wherever its persisted state left
// off and drives it synchronously to a terminal status. Resuming a terminal
// execution is a no-op returning its status. Resume is idempotent and safe
// to race with another driver of the same execution: the loser of each
// version conflict re-reads and re-evaluates.
func (o *Orchestrator) Resume(ctx context.Context, id string) (saga.Status, error) {
	exec, err := o.store.Load(ctx, id)
	if err != nil {
		return 0, err
	}
	if exec.IsTerminal() {
		return exec.Status, nil
	}

	def, err := o.registry.Get(exec.SagaType)
	if err != nil {
		return exec.Status, err
	}
	return o.run(ctx, id, def)
}

// Close stops accepting new sagas and waits for in-flight workers to finish
// their runs. Executions interrupted anyway (process exit) are picked up by
// the next recovery scan.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wg.Wait()
	return nil
}

// run drives one execution until it reaches a terminal status or the
// context is interrupted. Version conflicts from concurrent drivers are
// absorbed here by re-reading and re-evaluating.
func (o *Orchestrator) run(ctx context.Context, id string, def *saga.Definition) (saga.Status, error) {
	for {
		exec, err := o.store.Load(ctx, id)
		if err != nil {
			return 0, err
		}

		status, err := o.drive(ctx, exec, def)
		if errors.Is(err, saga.ErrVersionConflict) {
			// Another driver advanced the execution; re-read and
			// re-evaluate from its new position.
			continue
		}
		return status, err
	}
}

// drive advances the execution through the state machine, persisting every
// transition. It returns the execution's status along with any error;
// saga.ErrVersionConflict means a concurrent driver won a write race.
func (o *Orchestrator) drive(ctx context.Context, exec *saga.Execution, def *saga.Definition) (saga.Status, error) {
	for {
		if err := ctx.Err(); err != nil {
			return exec.Status, err
		}

		switch exec.Status {
		case saga.StatusCompleted, saga.StatusCompensated, saga.StatusFailed:
			return exec.Status, nil

		case saga.StatusStarted:
			exec.Status = saga.StatusInProgress
			if err := o.store.Save(ctx, exec); err != nil {
				return exec.Status, err
			}

		case saga.StatusInProgress:
			if exec.CurrentStepIndex >= exec.TotalSteps {
				return o.finalize(ctx, exec, saga.StatusCompleted)
			}
			if err := o.executeStep(ctx, exec, def); err != nil {
				return exec.Status, err
			}

		case saga.StatusCompensating:
			return o.compensate(ctx, exec, def)

		default:
			return exec.Status, fmt.Errorf("execution %s in unknown status %v", exec.ID, exec.Status)
		}
	}
}

// executeStep runs the step at CurrentStepIndex and persists the outcome:
// either the advance past a successful step, or the turn toward compensation
// after a definitive failure.
func (o *Orchestrator) executeStep(ctx context.Context, exec *saga.Execution, def *saga.Definition) error {
	step, err := def.StepAt(exec.CurrentStepIndex)
	if err != nil {
		return err
	}
	key := def.IdempotencyKey(exec.ID, step)

	res, execErr := o.executor.ExecuteStep(ctx, step, exec.Context, key)
	if execErr != nil {
		if ctx.Err() != nil {
			// Interrupted, not failed: leave the persisted state as is so
			// Resume can retry the same step.
			return execErr
		}

		o.metrics.StepFailed(exec.SagaType, step.Name())
		o.logger.Error("saga step failed",
			zap.String("saga_id", exec.ID),
			zap.String("step", step.Name()),
			zap.Int("attempts", res.Attempts),
			zap.Error(execErr),
		)

		exec.RetryCount = res.Attempts - 1
		exec.RecordError(fmt.Sprintf("step %q: %v", step.Name(), execErr))

		if exec.CurrentStepIndex == 0 {
			// Nothing has executed; there is nothing to undo.
			_, err := o.finalize(ctx, exec, saga.StatusFailed)
			return err
		}
		exec.Status = saga.StatusCompensating
		return o.store.Save(ctx, exec)
	}

	if len(res.Output) > 0 {
		if err := exec.Context.Set(step.Name(), res.Output); err != nil {
			return err
		}
	}
	exec.CurrentStepIndex++
	exec.RetryCount = 0
	if err := o.store.Save(ctx, exec); err != nil {
		return err
	}

	o.metrics.StepExecuted(exec.SagaType, step.Name(), res.Attempts, res.Duration)
	o.logger.Debug("saga step executed",
		zap.String("saga_id", exec.ID),
		zap.String("step", step.Name()),
		zap.Int("attempts", res.Attempts),
		zap.Int("next_step_index", exec.CurrentStepIndex),
	)
	return nil
}

// finalize persists the terminal transition and reports it.
func (o *Orchestrator) finalize(ctx context.Context, exec *saga.Execution, status saga.Status) (saga.Status, error) {
	now := time.Now().UTC()
	exec.Status = status
	exec.CompletedAt = &now
	if err := o.store.Save(ctx, exec); err != nil {
		return exec.Status, err
	}

	o.metrics.SagaFinished(exec.SagaType, status, now.Sub(exec.CreatedAt))
	o.logger.Info("saga finished",
		zap.String("saga_id", exec.ID),
		zap.String("saga_type", exec.SagaType),
		zap.String("status", status.String()),
		zap.Int("failed_compensations", exec.FailedCompensations),
	)
	return status, nil
}
