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

package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flowmech/sagaflow/pkg/logger"
	"github.com/flowmech/sagaflow/pkg/saga"
)

// ExecutorConfig configures the uniform resilience policy applied to every
// step invocation.
type ExecutorConfig struct {
	// MaxAttempts is the total number of attempts per invocation,
	// including the first. Must be >= 1.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// AttemptTimeout bounds each individual attempt. Zero disables the
	// per-attempt timeout.
	AttemptTimeout time.Duration `json:"attempt_timeout" yaml:"attempt_timeout"`

	// Backoff computes the wait between attempts. Defaults to exponential
	// backoff with full jitter.
	Backoff BackoffPolicy `json:"-" yaml:"-"`
}

// DefaultExecutorConfig returns the default policy: three attempts, a ten
// second attempt timeout, exponential backoff from 100ms capped at 5s with
// full jitter.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxAttempts:    3,
		AttemptTimeout: 10 * time.Second,
		Backoff:        NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 1.0),
	}
}

// Validate checks the configuration.
func (c *ExecutorConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.AttemptTimeout < 0 {
		return fmt.Errorf("attempt timeout must not be negative")
	}
	return nil
}

// Result reports how an invocation went, whether or not it succeeded.
type Result struct {
	// Output is the step's forward output; nil for compensations and for
	// failed invocations.
	Output json.RawMessage

	// Attempts is the number of attempts actually made.
	Attempts int

	// Duration is the total wall time spent, including backoff waits.
	Duration time.Duration
}

// Executor invokes a step's forward or compensating action against its
// external collaborator with timeout, retry-with-backoff, and error
// classification. Only errors classified transient are retried; terminal
// errors short-circuit immediately. Every attempt of one invocation carries
// the same idempotency key so the collaborator can deduplicate.
type Executor struct {
	config *ExecutorConfig
	logger *zap.Logger
}

// NewExecutor creates a step executor. A nil config selects
// DefaultExecutorConfig.
func NewExecutor(config *ExecutorConfig) (*Executor, error) {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid executor config: %w", err)
	}
	if config.Backoff == nil {
		config.Backoff = NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 1.0)
	}
	return &Executor{
		config: config,
		logger: logger.GetLogger(),
	}, nil
}

// ExecuteStep runs the step's forward action under the retry policy.
func (e *Executor) ExecuteStep(ctx context.Context, step saga.Step, ec *saga.ExecutionContext, idempotencyKey string) (*Result, error) {
	var output json.RawMessage
	res, err := e.run(ctx, step.Name(), "execute", func(attemptCtx context.Context) error {
		out, execErr := step.Execute(attemptCtx, ec, idempotencyKey)
		if execErr != nil {
			return execErr
		}
		output = out
		return nil
	})
	if err != nil {
		return res, err
	}
	res.Output = output
	return res, nil
}

// CompensateStep runs the step's compensating action under the retry policy.
func (e *Executor) CompensateStep(ctx context.Context, step saga.Step, ec *saga.ExecutionContext, idempotencyKey string) (*Result, error) {
	return e.run(ctx, step.Name(), "compensate", func(attemptCtx context.Context) error {
		return step.Compensate(attemptCtx, ec, idempotencyKey)
	})
}

// run drives the attempt loop shared by forward and compensating actions.
func (e *Executor) run(ctx context.Context, stepName, action string, invoke func(context.Context) error) (*Result, error) {
	start := time.Now()
	res := &Result{}

	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Attempts = attempt - 1
			res.Duration = time.Since(start)
			return res, err
		}

		res.Attempts = attempt
		err := e.invokeOnce(ctx, invoke)
		if err == nil {
			res.Duration = time.Since(start)
			return res, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// The caller went away; this is an interruption, not a
			// collaborator verdict.
			res.Duration = time.Since(start)
			return res, err
		}

		if saga.IsTerminal(err) {
			e.logger.Warn("step action failed terminally",
				zap.String("step", stepName),
				zap.String("action", action),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			res.Duration = time.Since(start)
			return res, err
		}

		if attempt == e.config.MaxAttempts {
			break
		}

		delay := e.config.Backoff.Delay(attempt)
		e.logger.Info("retrying step action",
			zap.String("step", stepName),
			zap.String("action", action),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.config.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			res.Duration = time.Since(start)
			return res, ctx.Err()
		}
	}

	res.Duration = time.Since(start)
	e.logger.Warn("step action exhausted retries",
		zap.String("step", stepName),
		zap.String("action", action),
		zap.Int("attempts", res.Attempts),
		zap.Error(lastErr),
	)
	return res, fmt.Errorf("%s %q exhausted %d attempts: %w", action, stepName, res.Attempts, lastErr)
}

// invokeOnce makes a single attempt bounded by the per-attempt timeout.
func (e *Executor) invokeOnce(ctx context.Context, invoke func(context.Context) error) error {
	if e.config.AttemptTimeout <= 0 {
		return invoke(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
	defer cancel()
	return invoke(attemptCtx)
}
