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
	"errors"
	"fmt"

	"github.com/flowmech/sagaflow/pkg/saga"
)

// SagaTypeCreateOrder names the order placement saga.
const SagaTypeCreateOrder = "CreateOrder"

// NewCreateOrderDefinition builds the CreateOrder saga definition:
// reserve_inventory, charge_payment, confirm_order.
func NewCreateOrderDefinition(inventory InventoryService, payments PaymentService, orders OrderService) (*saga.Definition, error) {
	if inventory == nil || payments == nil || orders == nil {
		return nil, errors.New("orderflow: all collaborating services are required")
	}
	return saga.NewDefinitionBuilder(SagaTypeCreateOrder).
		AddStep(&reserveInventoryStep{inventory: inventory}).
		AddStep(&chargePaymentStep{payments: payments}).
		AddStep(&confirmOrderStep{orders: orders}).
		Build()
}

// InitialContext builds the start payload for a CreateOrder saga.
func InitialContext(req *OrderRequest) (map[string]any, error) {
	if req == nil {
		return nil, errors.New("orderflow: order request is required")
	}
	if req.OrderID == "" {
		return nil, errors.New("orderflow: order ID is required")
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("orderflow: quantity must be positive, got %d", req.Quantity)
	}
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("orderflow: amount must be positive, got %d", req.AmountCents)
	}
	return map[string]any{KeyOrderRequest: req}, nil
}
