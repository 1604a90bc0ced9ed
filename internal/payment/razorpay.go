package payment

import (
	"context"
	"fmt"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"

	"github.com/templeseva/darshan/internal/domain"
)

// RazorpayProcessor adapts the Razorpay SDK to Processor.
type RazorpayProcessor struct {
	client *razorpay.Client
}

func NewRazorpayProcessor(keyID, keySecret string) *RazorpayProcessor {
	return &RazorpayProcessor{client: razorpay.NewClient(keyID, keySecret)}
}

func (p *RazorpayProcessor) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := map[string]interface{}{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		data["notes"] = req.Notes
	}
	body, err := p.client.Order.Create(data, nil)
	if err != nil {
		return nil, classify(err)
	}
	return &Order{
		ID:       str(body, "id"),
		Amount:   domain.Amount(num(body, "amount")),
		Currency: str(body, "currency"),
		Receipt:  str(body, "receipt"),
		Status:   str(body, "status"),
		Notes:    notes(body),
	}, nil
}

func (p *RazorpayProcessor) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := p.client.Payment.Fetch(paymentID, nil, nil)
	if err != nil {
		return nil, classify(err)
	}
	return &Payment{
		ID:             str(body, "id"),
		OrderID:        str(body, "order_id"),
		Amount:         domain.Amount(num(body, "amount")),
		AmountRefunded: domain.Amount(num(body, "amount_refunded")),
		Currency:       str(body, "currency"),
		Status:         str(body, "status"),
		Method:         str(body, "method"),
	}, nil
}

// IdempotencyHeader makes a repeated refund request return the first refund.
const IdempotencyHeader = "X-Refund-Idempotency"

func (p *RazorpayProcessor) Refund(ctx context.Context, paymentID string, amountMinor int64, idempotencyKey string, refundNotes map[string]string) (*Refund, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := map[string]interface{}{}
	if len(refundNotes) > 0 {
		data["notes"] = refundNotes
	}
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{IdempotencyHeader: idempotencyKey}
	}
	body, err := p.client.Payment.Refund(paymentID, int(amountMinor), data, headers)
	if err != nil {
		return nil, classify(err)
	}
	return &Refund{
		ID:        str(body, "id"),
		PaymentID: str(body, "payment_id"),
		Amount:    domain.Amount(num(body, "amount")),
		Status:    str(body, "status"),
	}, nil
}

func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found") || strings.Contains(msg, "is not a valid id") {
		return fmt.Errorf("%w: %v", domain.ErrPaymentNotFound, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrGateway, err)
}

func str(body map[string]interface{}, key string) string {
	v, _ := body[key].(string)
	return v
}

// JSON numbers arrive as float64.
func num(body map[string]interface{}, key string) int64 {
	switch v := body[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// notes is an object when set and an empty array otherwise.
func notes(body map[string]interface{}) map[string]string {
	raw, ok := body["notes"].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}

var _ Processor = (*RazorpayProcessor)(nil)
