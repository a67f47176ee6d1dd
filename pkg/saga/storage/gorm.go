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

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/flowmech/sagaflow/pkg/saga"
)

// isDuplicateKeyError recognizes a unique-constraint violation whether or
// not the connection was opened with gorm error translation enabled.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqldriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// executionRecord is the database representation of a saga execution. The
// step context travels as a JSON document so the schema stays stable while
// saga payloads evolve.
type executionRecord struct {
	ID                  string     `gorm:"column:id;type:varchar(36);primaryKey"`
	SagaType            string     `gorm:"column:saga_type;type:varchar(128);not null;index:idx_saga_aggregate"`
	AggregateID         string     `gorm:"column:aggregate_id;type:varchar(128);not null;index:idx_saga_aggregate"`
	Status              string     `gorm:"column:status;type:varchar(32);not null;index:idx_status_updated"`
	ActiveAggregate     *string    `gorm:"column:active_aggregate;type:varchar(260);uniqueIndex:uniq_active_aggregate"`
	CurrentStepIndex    int        `gorm:"column:current_step_index;not null"`
	TotalSteps          int        `gorm:"column:total_steps;not null"`
	Context             string     `gorm:"column:context;type:json"`
	ErrorMessage        string     `gorm:"column:error_message;type:text"`
	RetryCount          int        `gorm:"column:retry_count;not null"`
	FailedCompensations int        `gorm:"column:failed_compensations;not null"`
	Version             int64      `gorm:"column:version;not null"`
	CreatedAt           time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;not null;index:idx_status_updated"`
	CompletedAt         *time.Time `gorm:"column:completed_at"`
}

// TableName sets the table name for GORM.
func (executionRecord) TableName() string {
	return "saga_executions"
}

func toRecord(exec *saga.Execution) (*executionRecord, error) {
	ctxJSON, err := json.Marshal(exec.Context)
	if err != nil {
		return nil, fmt.Errorf("marshal execution context: %w", err)
	}
	// active_aggregate is non-NULL only while the execution is active; the
	// unique index over it makes "one active execution per aggregate" a
	// database constraint, with NULLs free to repeat once terminal.
	var activeAggregate *string
	if exec.Status.IsActive() {
		v := exec.SagaType + ":" + exec.AggregateID
		activeAggregate = &v
	}
	return &executionRecord{
		ID:                  exec.ID,
		SagaType:            exec.SagaType,
		AggregateID:         exec.AggregateID,
		Status:              exec.Status.String(),
		ActiveAggregate:     activeAggregate,
		CurrentStepIndex:    exec.CurrentStepIndex,
		TotalSteps:          exec.TotalSteps,
		Context:             string(ctxJSON),
		ErrorMessage:        exec.ErrorMessage,
		RetryCount:          exec.RetryCount,
		FailedCompensations: exec.FailedCompensations,
		Version:             exec.Version,
		CreatedAt:           exec.CreatedAt,
		UpdatedAt:           exec.UpdatedAt,
		CompletedAt:         exec.CompletedAt,
	}, nil
}

func fromRecord(rec *executionRecord) (*saga.Execution, error) {
	status, err := saga.ParseStatus(rec.Status)
	if err != nil {
		return nil, fmt.Errorf("execution %s: %w", rec.ID, err)
	}
	ec := saga.NewExecutionContext()
	if rec.Context != "" {
		if err := json.Unmarshal([]byte(rec.Context), ec); err != nil {
			return nil, fmt.Errorf("unmarshal execution context for %s: %w", rec.ID, err)
		}
	}
	return &saga.Execution{
		ID:                  rec.ID,
		SagaType:            rec.SagaType,
		AggregateID:         rec.AggregateID,
		Status:              status,
		CurrentStepIndex:    rec.CurrentStepIndex,
		TotalSteps:          rec.TotalSteps,
		Context:             ec,
		ErrorMessage:        rec.ErrorMessage,
		RetryCount:          rec.RetryCount,
		FailedCompensations: rec.FailedCompensations,
		Version:             rec.Version,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
		CompletedAt:         rec.CompletedAt,
	}, nil
}

// GormStore persists executions in a relational database through GORM.
// Optimistic concurrency uses a version column: updates are conditional on
// the version the caller read.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store backed by the given GORM connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates or updates the saga_executions table.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&executionRecord{})
}

// Load implements ExecutionStore.
func (s *GormStore) Load(ctx context.Context, id string) (*saga.Execution, error) {
	var rec executionRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, saga.ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

// Save implements ExecutionStore.
func (s *GormStore) Save(ctx context.Context, exec *saga.Execution) error {
	now := time.Now().UTC()

	rec, err := toRecord(exec)
	if err != nil {
		return err
	}
	rec.UpdatedAt = now

	if exec.Version == 0 {
		rec.Version = 1
		if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
			if isDuplicateKeyError(err) {
				// The primary key and the active-aggregate index both
				// surface as duplicate keys; a row with our ID means a
				// re-create, anything else means the aggregate is taken.
				var count int64
				if countErr := s.db.WithContext(ctx).
					Model(&executionRecord{}).
					Where("id = ?", exec.ID).
					Count(&count).Error; countErr != nil {
					return countErr
				}
				if count > 0 {
					return saga.ErrVersionConflict
				}
				return saga.ErrDuplicateAggregate
			}
			return err
		}
		exec.Version = 1
		exec.UpdatedAt = now
		return nil
	}

	rec.Version = exec.Version + 1
	result := s.db.WithContext(ctx).
		Model(&executionRecord{}).
		Where("id = ? AND version = ?", exec.ID, exec.Version).
		Updates(map[string]interface{}{
			"status":               rec.Status,
			"active_aggregate":     rec.ActiveAggregate,
			"current_step_index":   rec.CurrentStepIndex,
			"context":              rec.Context,
			"error_message":        rec.ErrorMessage,
			"retry_count":          rec.RetryCount,
			"failed_compensations": rec.FailedCompensations,
			"version":              rec.Version,
			"updated_at":           rec.UpdatedAt,
			"completed_at":         rec.CompletedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Either the row moved past our version or it never existed.
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&executionRecord{}).
			Where("id = ?", exec.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return saga.ErrExecutionNotFound
		}
		return saga.ErrVersionConflict
	}

	exec.Version++
	exec.UpdatedAt = now
	return nil
}

// FindByAggregate implements ExecutionStore.
func (s *GormStore) FindByAggregate(ctx context.Context, sagaType, aggregateID string) (*saga.Execution, error) {
	active := make([]string, 0, 3)
	for _, st := range saga.ActiveStatuses() {
		active = append(active, st.String())
	}

	var rec executionRecord
	err := s.db.WithContext(ctx).
		Where("saga_type = ? AND aggregate_id = ? AND status IN ?", sagaType, aggregateID, active).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, saga.ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

// FindStale implements ExecutionStore.
func (s *GormStore) FindStale(ctx context.Context, statuses []saga.Status, olderThan time.Duration) ([]*saga.Execution, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, st.String())
	}
	cutoff := time.Now().UTC().Add(-olderThan)

	var recs []executionRecord
	err := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", names, cutoff).
		Order("updated_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	execs := make([]*saga.Execution, 0, len(recs))
	for i := range recs {
		exec, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, nil
}
