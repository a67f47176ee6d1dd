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

// Package orderflow implements the CreateOrder saga: reserve inventory,
// charge payment, confirm the order. Each forward action has a compensating
// inverse (release, refund) except order confirmation, which as the final
// step is never unwound.
package orderflow

import "context"

// OrderRequest is the initial payload a CreateOrder saga starts with.
type OrderRequest struct {
	OrderID     string `json:"order_id"`
	CustomerID  string `json:"customer_id"`
	SKU         string `json:"sku"`
	Quantity    int    `json:"quantity"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// Reservation is the inventory service's record of held stock.
type Reservation struct {
	ReservationID string `json:"reservation_id"`
	SKU           string `json:"sku"`
	Quantity      int    `json:"quantity"`
}

// Charge is the payment service's record of captured funds.
type Charge struct {
	ChargeID    string `json:"charge_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// Confirmation is the order service's acknowledgment.
type Confirmation struct {
	OrderID     string `json:"order_id"`
	ConfirmedAt string `json:"confirmed_at"`
}

// InventoryService reserves and releases stock. Implementations deduplicate
// by idempotency key: repeating a call with a key already processed must
// return the original outcome without side effects.
type InventoryService interface {
	// Reserve holds stock for an order.
	Reserve(ctx context.Context, req *OrderRequest, idempotencyKey string) (*Reservation, error)

	// Release returns previously reserved stock. Releasing an unknown or
	// already released reservation succeeds.
	Release(ctx context.Context, reservationID string, idempotencyKey string) error
}

// PaymentService captures and refunds funds, deduplicating by idempotency
// key.
type PaymentService interface {
	// Charge captures the order amount.
	Charge(ctx context.Context, req *OrderRequest, idempotencyKey string) (*Charge, error)

	// Refund returns a captured charge. Refunding an unknown or already
	// refunded charge succeeds.
	Refund(ctx context.Context, chargeID string, idempotencyKey string) error
}

// OrderService finalizes orders, deduplicating by idempotency key.
type OrderService interface {
	// Confirm marks the order placed.
	Confirm(ctx context.Context, orderID string, idempotencyKey string) (*Confirmation, error)
}
