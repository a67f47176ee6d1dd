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
	"context"

	"go.uber.org/zap"

	"github.com/flowmech/sagaflow/pkg/saga"
)

// compensate unwinds executed steps in reverse order, starting from the step
// just below CurrentStepIndex. A compensation that fails beyond retry is
// recorded and the unwind continues past it: an unreleased hotel room must
// not keep a payment from being refunded. The terminal status is
// StatusCompensated only when every compensation succeeded; any recorded
// failure forces StatusFailed so operators see the residue.
//
// Each applied compensation persists the decremented CurrentStepIndex before
// the next one runs, so a crash mid-unwind resumes without re-undoing
// already compensated steps (their idempotency keys also guard the
// collaborators against the re-invocations that do happen).
func (o *Orchestrator) compensate(ctx context.Context, exec *saga.Execution, def *saga.Definition) (saga.Status, error) {
	for exec.CurrentStepIndex > 0 {
		if err := ctx.Err(); err != nil {
			return exec.Status, err
		}

		step, err := def.StepAt(exec.CurrentStepIndex - 1)
		if err != nil {
			return exec.Status, err
		}
		key := def.IdempotencyKey(exec.ID, step)

		res, compErr := o.executor.CompensateStep(ctx, step, exec.Context, key)
		if compErr != nil {
			if ctx.Err() != nil {
				return exec.Status, compErr
			}

			failure := &saga.CompensationError{StepName: step.Name(), Cause: compErr}
			exec.FailedCompensations++
			exec.RecordError(failure.Error())

			o.metrics.CompensationFailed(exec.SagaType, step.Name())
			o.logger.Error("saga compensation failed, continuing unwind",
				zap.String("saga_id", exec.ID),
				zap.String("step", step.Name()),
				zap.Int("attempts", res.Attempts),
				zap.Error(compErr),
			)
		} else {
			o.metrics.CompensationApplied(exec.SagaType, step.Name())
			o.logger.Debug("saga step compensated",
				zap.String("saga_id", exec.ID),
				zap.String("step", step.Name()),
				zap.Int("attempts", res.Attempts),
			)
		}

		exec.CurrentStepIndex--
		if err := o.store.Save(ctx, exec); err != nil {
			return exec.Status, err
		}
	}

	final := saga.StatusCompensated
	if exec.FailedCompensations > 0 {
		final = saga.StatusFailed
	}
	return o.finalize(ctx, exec, final)
}
