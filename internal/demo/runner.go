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

package demo

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/flowmech/sagaflow/pkg/logger"
	"github.com/flowmech/sagaflow/pkg/saga"
	"github.com/flowmech/sagaflow/pkg/saga/metrics"
	"github.com/flowmech/sagaflow/pkg/saga/orchestrator"
	"github.com/flowmech/sagaflow/pkg/saga/orderflow"
	"github.com/flowmech/sagaflow/pkg/saga/storage"
)

// Run wires the engine from the configuration, submits the demo orders, and
// waits until every submitted saga reaches a terminal status.
func Run(ctx context.Context, config *Config) error {
	if err := logger.SetLevel(config.Logging.Level); err != nil {
		return err
	}
	log := logger.GetLogger()

	store, cleanup, err := buildStore(config)
	if err != nil {
		return err
	}
	defer cleanup()

	inventory := newSimulatedInventory()
	payments := newSimulatedPayments(config.Demo.DeclineEvery)
	orders := newSimulatedOrders()

	definition, err := orderflow.NewCreateOrderDefinition(inventory, payments, orders)
	if err != nil {
		return err
	}
	registry := saga.NewRegistry()
	if err := registry.Register(definition); err != nil {
		return err
	}

	collector, err := metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	if config.Metrics.Addr != "" {
		go serveMetrics(config.Metrics.Addr, log)
	}

	engine, err := orchestrator.NewOrchestrator(&orchestrator.Config{
		Store:    store,
		Registry: registry,
		Metrics:  collector,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	scheduler, err := orchestrator.NewRecoveryScheduler(engine, &orchestrator.RecoveryConfig{
		Schedule:  config.Recovery.Schedule,
		OlderThan: config.Recovery.OlderThan,
	})
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	ids, err := submitOrders(ctx, engine, config.Demo.Orders)
	if err != nil {
		return err
	}
	return awaitOutcomes(ctx, store, ids, log)
}

func buildStore(config *Config) (storage.ExecutionStore, func(), error) {
	switch config.Storage.Backend {
	case "memory":
		store := storage.NewMemoryStore()
		return store, func() { _ = store.Close() }, nil

	case "mysql":
		db, err := gorm.Open(mysql.Open(config.Storage.MySQL.DSN), &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mysql: %w", err)
		}
		store := storage.NewGormStore(db)
		if err := store.AutoMigrate(); err != nil {
			return nil, nil, fmt.Errorf("migrate saga schema: %w", err)
		}
		return store, func() {}, nil

	case "redis":
		store, err := storage.NewRedisStore(&storage.RedisConfig{
			Addr:      config.Storage.Redis.Addr,
			Password:  config.Storage.Redis.Password,
			DB:        config.Storage.Redis.DB,
			KeyPrefix: config.Storage.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", config.Storage.Backend)
	}
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics endpoint stopped", zap.Error(err))
	}
}

func submitOrders(ctx context.Context, engine *orchestrator.Orchestrator, count int) ([]string, error) {
	ids := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		req := &orderflow.OrderRequest{
			OrderID:     fmt.Sprintf("order-%04d", i),
			CustomerID:  fmt.Sprintf("customer-%02d", i),
			SKU:         "sku-widget",
			Quantity:    1 + i%3,
			AmountCents: int64(1999 * i),
			Currency:    "USD",
		}
		initial, err := orderflow.InitialContext(req)
		if err != nil {
			return nil, err
		}
		exec, err := engine.Start(ctx, orderflow.SagaTypeCreateOrder, req.OrderID, initial)
		if err != nil {
			return nil, fmt.Errorf("start saga for %s: %w", req.OrderID, err)
		}
		ids = append(ids, exec.ID)
	}
	return ids, nil
}

func awaitOutcomes(ctx context.Context, store storage.ExecutionStore, ids []string, log *zap.Logger) error {
	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for id := range pending {
			exec, err := store.Load(ctx, id)
			if err != nil {
				return err
			}
			if !exec.IsTerminal() {
				continue
			}
			delete(pending, id)
			log.Info("saga outcome",
				zap.String("saga_id", exec.ID),
				zap.String("aggregate_id", exec.AggregateID),
				zap.String("status", exec.Status.String()),
				zap.String("error", exec.ErrorMessage),
			)
		}
	}
	return nil
}
