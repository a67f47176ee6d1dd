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

package orderflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmech/sagaflow/pkg/saga"
	"github.com/flowmech/sagaflow/pkg/saga/orchestrator"
	"github.com/flowmech/sagaflow/pkg/saga/retry"
	"github.com/flowmech/sagaflow/pkg/saga/storage"
)

// mockInventory records reservations and releases keyed by idempotency key.
type mockInventory struct {
	mu         sync.Mutex
	reserveErr error
	reserved   map[string]*Reservation
	released   []string
}

func newMockInventory() *mockInventory {
	return &mockInventory{reserved: make(map[string]*Reservation)}
}

func (m *mockInventory) Reserve(ctx context.Context, req *OrderRequest, idempotencyKey string) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.reserved[idempotencyKey]; ok {
		return existing, nil
	}
	if m.reserveErr != nil {
		return nil, m.reserveErr
	}
	r := &Reservation{ReservationID: "rsv-" + req.OrderID, SKU: req.SKU, Quantity: req.Quantity}
	m.reserved[idempotencyKey] = r
	return r, nil
}

func (m *mockInventory) Release(ctx context.Context, reservationID string, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, reservationID)
	return nil
}

// mockPayments charges and refunds, optionally declining.
type mockPayments struct {
	mu        sync.Mutex
	chargeErr error
	charges   map[string]*Charge
	refunded  []string
}

func newMockPayments() *mockPayments {
	return &mockPayments{charges: make(map[string]*Charge)}
}

func (m *mockPayments) Charge(ctx context.Context, req *OrderRequest, idempotencyKey string) (*Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.charges[idempotencyKey]; ok {
		return existing, nil
	}
	if m.chargeErr != nil {
		return nil, m.chargeErr
	}
	c := &Charge{ChargeID: "chg-" + req.OrderID, AmountCents: req.AmountCents, Currency: req.Currency}
	m.charges[idempotencyKey] = c
	return c, nil
}

func (m *mockPayments) Refund(ctx context.Context, chargeID string, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunded = append(m.refunded, chargeID)
	return nil
}

// mockOrders confirms orders, optionally failing.
type mockOrders struct {
	mu         sync.Mutex
	confirmErr error
	confirmed  []string
}

func (m *mockOrders) Confirm(ctx context.Context, orderID string, idempotencyKey string) (*Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmErr != nil {
		return nil, m.confirmErr
	}
	m.confirmed = append(m.confirmed, orderID)
	return &Confirmation{OrderID: orderID, ConfirmedAt: time.Now().UTC().Format(time.RFC3339)}, nil
}

func newOrderEngine(t *testing.T, inv InventoryService, pay PaymentService, ord OrderService) (*orchestrator.Orchestrator, *storage.MemoryStore) {
	t.Helper()

	def, err := NewCreateOrderDefinition(inv, pay, ord)
	require.NoError(t, err)
	registry := saga.NewRegistry()
	require.NoError(t, registry.Register(def))

	executor, err := retry.NewExecutor(&retry.ExecutorConfig{
		MaxAttempts:    2,
		AttemptTimeout: time.Second,
		Backoff:        retry.NewFixedBackoff(time.Millisecond, 0.0),
	})
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	engine, err := orchestrator.NewOrchestrator(&orchestrator.Config{
		Store:    store,
		Registry: registry,
		Executor: executor,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine, store
}

func startOrder(t *testing.T, engine *orchestrator.Orchestrator, orderID string) *saga.Execution {
	t.Helper()
	initial, err := InitialContext(&OrderRequest{
		OrderID:     orderID,
		CustomerID:  "customer-1",
		SKU:         "sku-widget",
		Quantity:    2,
		AmountCents: 4998,
		Currency:    "USD",
	})
	require.NoError(t, err)

	exec, err := engine.Start(context.Background(), SagaTypeCreateOrder, orderID, initial)
	require.NoError(t, err)
	return exec
}

func awaitTerminal(t *testing.T, store *storage.MemoryStore, id string) *saga.Execution {
	t.Helper()
	var exec *saga.Execution
	require.Eventually(t, func() bool {
		var err error
		exec, err = store.Load(context.Background(), id)
		return err == nil && exec.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return exec
}

func TestCreateOrderSaga_Completes(t *testing.T) {
	inv := newMockInventory()
	pay := newMockPayments()
	ord := &mockOrders{}
	engine, store := newOrderEngine(t, inv, pay, ord)

	started := startOrder(t, engine, "order-1")
	exec := awaitTerminal(t, store, started.ID)

	assert.Equal(t, saga.StatusCompleted, exec.Status)
	assert.Equal(t, []string{"order-1"}, ord.confirmed)
	assert.Empty(t, inv.released)
	assert.Empty(t, pay.refunded)

	var reservation Reservation
	require.NoError(t, exec.Context.Decode(StepReserveInventory, &reservation))
	assert.Equal(t, "rsv-order-1", reservation.ReservationID)

	var charge Charge
	require.NoError(t, exec.Context.Decode(StepChargePayment, &charge))
	assert.Equal(t, int64(4998), charge.AmountCents)
}

func TestCreateOrderSaga_PaymentDeclineReleasesInventory(t *testing.T) {
	inv := newMockInventory()
	pay := newMockPayments()
	pay.chargeErr = saga.NewTerminalError("PAYMENT_DECLINED", "card declined")
	ord := &mockOrders{}
	engine, store := newOrderEngine(t, inv, pay, ord)

	started := startOrder(t, engine, "order-2")
	exec := awaitTerminal(t, store, started.ID)

	assert.Equal(t, saga.StatusCompensated, exec.Status)
	assert.Equal(t, []string{"rsv-order-2"}, inv.released, "the reservation is released on unwind")
	assert.Empty(t, pay.refunded, "a declined charge captured nothing to refund")
	assert.Empty(t, ord.confirmed)
	assert.Contains(t, exec.ErrorMessage, "PAYMENT_DECLINED")
}

func TestCreateOrderSaga_ConfirmFailureRefundsAndReleases(t *testing.T) {
	inv := newMockInventory()
	pay := newMockPayments()
	ord := &mockOrders{confirmErr: saga.NewTerminalError("ORDER_REJECTED", "order validation failed")}
	engine, store := newOrderEngine(t, inv, pay, ord)

	started := startOrder(t, engine, "order-3")
	exec := awaitTerminal(t, store, started.ID)

	assert.Equal(t, saga.StatusCompensated, exec.Status)
	assert.Equal(t, []string{"chg-order-3"}, pay.refunded)
	assert.Equal(t, []string{"rsv-order-3"}, inv.released)
}

func TestCreateOrderSaga_ReserveFailureFailsOutright(t *testing.T) {
	inv := newMockInventory()
	inv.reserveErr = saga.NewTerminalError("OUT_OF_STOCK", "sku exhausted")
	pay := newMockPayments()
	ord := &mockOrders{}
	engine, store := newOrderEngine(t, inv, pay, ord)

	started := startOrder(t, engine, "order-4")
	exec := awaitTerminal(t, store, started.ID)

	assert.Equal(t, saga.StatusFailed, exec.Status)
	assert.Empty(t, inv.released)
	assert.Empty(t, pay.refunded)
}

func TestInitialContext_Validation(t *testing.T) {
	_, err := InitialContext(nil)
	assert.Error(t, err)

	_, err = InitialContext(&OrderRequest{Quantity: 1, AmountCents: 100})
	assert.Error(t, err, "order ID is required")

	_, err = InitialContext(&OrderRequest{OrderID: "o", Quantity: 0, AmountCents: 100})
	assert.Error(t, err)

	_, err = InitialContext(&OrderRequest{OrderID: "o", Quantity: 1, AmountCents: 0})
	assert.Error(t, err)

	initial, err := InitialContext(&OrderRequest{OrderID: "o", Quantity: 1, AmountCents: 100})
	require.NoError(t, err)
	assert.Contains(t, initial, KeyOrderRequest)
}

func TestNewCreateOrderDefinition_RequiresServices(t *testing.T) {
	_, err := NewCreateOrderDefinition(nil, newMockPayments(), &mockOrders{})
	assert.Error(t, err)

	def, err := NewCreateOrderDefinition(newMockInventory(), newMockPayments(), &mockOrders{})
	require.NoError(t, err)
	assert.Equal(t, SagaTypeCreateOrder, def.SagaType())
	assert.Equal(t, 3, def.StepCount())
}
