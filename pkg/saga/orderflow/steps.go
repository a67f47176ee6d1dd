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
	"encoding/json"
	"fmt"

	"github.com/flowmech/sagaflow/pkg/saga"
)

// Context entry names. KeyOrderRequest is seeded by the caller at start;
// the step names record each step's own output.
const (
	KeyOrderRequest = "order_request"

	StepReserveInventory = "reserve_inventory"
	StepChargePayment    = "charge_payment"
	StepConfirmOrder     = "confirm_order"
)

func orderRequest(ec *saga.ExecutionContext) (*OrderRequest, error) {
	var req OrderRequest
	if err := ec.Decode(KeyOrderRequest, &req); err != nil {
		return nil, fmt.Errorf("order request missing from saga context: %w", err)
	}
	return &req, nil
}

// reserveInventoryStep holds stock and releases it on compensation.
type reserveInventoryStep struct {
	inventory InventoryService
}

func (s *reserveInventoryStep) Name() string { return StepReserveInventory }

func (s *reserveInventoryStep) Execute(ctx context.Context, ec *saga.ExecutionContext, idempotencyKey string) (json.RawMessage, error) {
	req, err := orderRequest(ec)
	if err != nil {
		return nil, err
	}
	reservation, err := s.inventory.Reserve(ctx, req, idempotencyKey)
	if err != nil {
		return nil, err
	}
	return json.Marshal(reservation)
}

func (s *reserveInventoryStep) Compensate(ctx context.Context, ec *saga.ExecutionContext, idempotencyKey string) error {
	var reservation Reservation
	if err := ec.Decode(StepReserveInventory, &reservation); err != nil {
		// No recorded output means the forward action never completed;
		// there is nothing to release.
		return nil
	}
	return s.inventory.Release(ctx, reservation.ReservationID, idempotencyKey)
}

// chargePaymentStep captures funds and refunds them on compensation.
type chargePaymentStep struct {
	payments PaymentService
}

func (s *chargePaymentStep) Name() string { return StepChargePayment }

func (s *chargePaymentStep) Execute(ctx context.Context, ec *saga.ExecutionContext, idempotencyKey string) (json.RawMessage, error) {
	req, err := orderRequest(ec)
	if err != nil {
		return nil, err
	}
	charge, err := s.payments.Charge(ctx, req, idempotencyKey)
	if err != nil {
		return nil, err
	}
	return json.Marshal(charge)
}

func (s *chargePaymentStep) Compensate(ctx context.Context, ec *saga.ExecutionContext, idempotencyKey string) error {
	var charge Charge
	if err := ec.Decode(StepChargePayment, &charge); err != nil {
		return nil
	}
	return s.payments.Refund(ctx, charge.ChargeID, idempotencyKey)
}

// confirmOrderStep finalizes the order. It is the last step, so a success
// here means the saga completes and the confirmation is never unwound; its
// compensation is a no-op.
type confirmOrderStep struct {
	orders OrderService
}

func (s *confirmOrderStep) Name() string { return StepConfirmOrder }

func (s *confirmOrderStep) Execute(ctx context.Context, ec *saga.ExecutionContext, idempotencyKey string) (json.RawMessage, error) {
	req, err := orderRequest(ec)
	if err != nil {
		return nil, err
	}
	confirmation, err := s.orders.Confirm(ctx, req.OrderID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	return json.Marshal(confirmation)
}

func (s *confirmOrderStep) Compensate(ctx context.Context, ec *saga.ExecutionContext, idempotencyKey string) error {
	return nil
}
