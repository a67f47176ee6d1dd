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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmech/sagaflow/pkg/saga"
	"github.com/flowmech/sagaflow/pkg/saga/orderflow"
)

// simulatedInventory is an in-memory InventoryService. Like a real
// collaborator it deduplicates by idempotency key: a repeated Reserve with a
// known key returns the original reservation.
type simulatedInventory struct {
	mu       sync.Mutex
	reserved map[string]*orderflow.Reservation
}

func newSimulatedInventory() *simulatedInventory {
	return &simulatedInventory{reserved: make(map[string]*orderflow.Reservation)}
}

func (s *simulatedInventory) Reserve(ctx context.Context, req *orderflow.OrderRequest, idempotencyKey string) (*orderflow.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.reserved[idempotencyKey]; ok {
		return existing, nil
	}
	reservation := &orderflow.Reservation{
		ReservationID: uuid.NewString(),
		SKU:           req.SKU,
		Quantity:      req.Quantity,
	}
	s.reserved[idempotencyKey] = reservation
	return reservation, nil
}

func (s *simulatedInventory) Release(ctx context.Context, reservationID string, idempotencyKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, reservation := range s.reserved {
		if reservation.ReservationID == reservationID {
			delete(s.reserved, key)
			break
		}
	}
	// Releasing an unknown reservation succeeds.
	return nil
}

// simulatedPayments is an in-memory PaymentService that declines every Nth
// charge terminally so the demo exercises the compensation path.
type simulatedPayments struct {
	mu           sync.Mutex
	charges      map[string]*orderflow.Charge
	declineEvery int
	seen         int
}

func newSimulatedPayments(declineEvery int) *simulatedPayments {
	return &simulatedPayments{
		charges:      make(map[string]*orderflow.Charge),
		declineEvery: declineEvery,
	}
}

func (s *simulatedPayments) Charge(ctx context.Context, req *orderflow.OrderRequest, idempotencyKey string) (*orderflow.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.charges[idempotencyKey]; ok {
		return existing, nil
	}

	s.seen++
	if s.declineEvery > 0 && s.seen%s.declineEvery == 0 {
		return nil, saga.NewTerminalError("PAYMENT_DECLINED", "card declined by issuer")
	}

	charge := &orderflow.Charge{
		ChargeID:    uuid.NewString(),
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}
	s.charges[idempotencyKey] = charge
	return charge, nil
}

func (s *simulatedPayments) Refund(ctx context.Context, chargeID string, idempotencyKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, charge := range s.charges {
		if charge.ChargeID == chargeID {
			delete(s.charges, key)
			break
		}
	}
	return nil
}

// simulatedOrders is an in-memory OrderService.
type simulatedOrders struct {
	mu        sync.Mutex
	confirmed map[string]*orderflow.Confirmation
}

func newSimulatedOrders() *simulatedOrders {
	return &simulatedOrders{confirmed: make(map[string]*orderflow.Confirmation)}
}

func (s *simulatedOrders) Confirm(ctx context.Context, orderID string, idempotencyKey string) (*orderflow.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.confirmed[idempotencyKey]; ok {
		return existing, nil
	}
	confirmation := &orderflow.Confirmation{
		OrderID:     orderID,
		ConfirmedAt: time.Now().UTC().Format(time.RFC3339),
	}
	s.confirmed[idempotencyKey] = confirmation
	return confirmation, nil
}
