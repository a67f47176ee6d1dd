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
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/flowmech/sagaflow/pkg/saga"
)

// RecoverAll scans the store for executions stuck in an active status whose
// last update is older than olderThan and drives each to a terminal status.
// The persisted state already encodes the direction: in-progress executions
// continue forward, compensating ones continue unwinding.
//
// A failure to recover one execution does not stop the scan; errors are
// joined and returned after every candidate was attempted. The count reports
// executions that reached a terminal status during this call.
func (o *Orchestrator) RecoverAll(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := o.store.FindStale(ctx, saga.ActiveStatuses(), olderThan)
	if err != nil {
		return 0, fmt.Errorf("scan stale executions: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	o.logger.Info("recovering stale saga executions",
		zap.Int("count", len(stale)),
		zap.Duration("older_than", olderThan),
	)

	recovered := 0
	var errs []error
	for _, exec := range stale {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		o.metrics.SagaRecovered(exec.SagaType)
		status, err := o.Resume(ctx, exec.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("recover execution %s: %w", exec.ID, err))
			o.logger.Error("saga recovery failed",
				zap.String("saga_id", exec.ID),
				zap.String("saga_type", exec.SagaType),
				zap.Error(err),
			)
			continue
		}
		if status.IsTerminal() {
			recovered++
		}
	}
	return recovered, errors.Join(errs...)
}

// RecoveryConfig configures the periodic recovery scan.
type RecoveryConfig struct {
	// Schedule is a cron expression or descriptor (e.g. "@every 1m")
	// controlling how often the scan runs.
	Schedule string `json:"schedule" yaml:"schedule"`

	// OlderThan is the stuck-detection threshold: an active execution not
	// updated for this long is presumed abandoned by a crashed worker. It
	// must comfortably exceed the longest expected step duration including
	// retries, or recovery will race live workers.
	OlderThan time.Duration `json:"older_than" yaml:"older_than"`
}

// DefaultRecoveryConfig scans every minute for executions idle over five
// minutes.
func DefaultRecoveryConfig() *RecoveryConfig {
	return &RecoveryConfig{
		Schedule:  "@every 1m",
		OlderThan: 5 * time.Minute,
	}
}

// Validate checks the configuration.
func (c *RecoveryConfig) Validate() error {
	if c.Schedule == "" {
		return errors.New("recovery schedule is required")
	}
	if c.OlderThan <= 0 {
		return errors.New("recovery older-than threshold must be positive")
	}
	return nil
}

// RecoveryScheduler runs RecoverAll on a cron schedule. One scheduler per
// process is enough; overlapping scans are harmless (version conflicts
// serialize the drivers) but wasteful.
type RecoveryScheduler struct {
	orchestrator *Orchestrator
	config       *RecoveryConfig
	cron         *cron.Cron
	logger       *zap.Logger
}

// NewRecoveryScheduler creates a scheduler bound to the given orchestrator.
// A nil config selects DefaultRecoveryConfig.
func NewRecoveryScheduler(o *Orchestrator, config *RecoveryConfig) (*RecoveryScheduler, error) {
	if o == nil {
		return nil, errors.New("orchestrator is required")
	}
	if config == nil {
		config = DefaultRecoveryConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recovery config: %w", err)
	}

	s := &RecoveryScheduler{
		orchestrator: o,
		config:       config,
		cron:         cron.New(),
		logger:       o.logger,
	}
	if _, err := s.cron.AddFunc(config.Schedule, s.scan); err != nil {
		return nil, fmt.Errorf("invalid recovery schedule %q: %w", config.Schedule, err)
	}
	return s, nil
}

// Start begins the periodic scans.
func (s *RecoveryScheduler) Start() {
	s.cron.Start()
	s.logger.Info("recovery scheduler started",
		zap.String("schedule", s.config.Schedule),
		zap.Duration("older_than", s.config.OlderThan),
	)
}

// Stop halts scheduling and waits for a running scan to finish.
func (s *RecoveryScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("recovery scheduler stopped")
}

func (s *RecoveryScheduler) scan() {
	recovered, err := s.orchestrator.RecoverAll(context.Background(), s.config.OlderThan)
	if err != nil {
		s.logger.Error("recovery scan finished with errors",
			zap.Int("recovered", recovered),
			zap.Error(err),
		)
		return
	}
	if recovered > 0 {
		s.logger.Info("recovery scan finished", zap.Int("recovered", recovered))
	}
}
