// Package payment talks to the external payment processor: orders, payment
// lookups, refunds and callback signature checks.
package payment

import (
	"context"

	"github.com/templeseva/darshan/internal/domain"
)

// Processor is the narrow client the gateway needs from a payment provider.
// Implementations return domain.ErrPaymentNotFound for unknown ids and wrap
// every other provider failure in domain.ErrGateway.
type Processor interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
	// Refund must not issue a second refund for a repeated idempotencyKey.
	Refund(ctx context.Context, paymentID string, amountMinor int64, idempotencyKey string, notes map[string]string) (*Refund, error)
}

type OrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

type Order struct {
	ID       string            `json:"id"`
	Amount   domain.Amount     `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes"`
}

type Payment struct {
	ID             string        `json:"id"`
	OrderID        string        `json:"order_id"`
	Amount         domain.Amount `json:"amount"`
	AmountRefunded domain.Amount `json:"amount_refunded"`
	Currency       string        `json:"currency"`
	Status         string        `json:"status"`
	Method         string        `json:"method"`
}

// Settled reports whether money has been collected for the payment.
func (p *Payment) Settled() bool {
	return p.Status == "captured" || p.Status == "authorized"
}

type Refund struct {
	ID        string        `json:"id"`
	PaymentID string        `json:"payment_id"`
	Amount    domain.Amount `json:"amount"`
	Status    string        `json:"status"`
}
