package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/templeseva/darshan/internal/domain"
)

type Gateway struct {
	processor  Processor
	secret     []byte
	currency   string
	maxRetries uint64
	initial    time.Duration
	log        logrus.FieldLogger
}

type GatewayOption func(*Gateway)

func WithRetry(maxRetries uint64, initial time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.maxRetries = maxRetries
		g.initial = initial
	}
}

func WithLogger(log logrus.FieldLogger) GatewayOption {
	return func(g *Gateway) {
		g.log = log
	}
}

func NewGateway(processor Processor, secret, currency string, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		processor:  processor,
		secret:     []byte(secret),
		currency:   currency,
		maxRetries: 3,
		initial:    200 * time.Millisecond,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Currency() string {
	return g.currency
}

// CreateOrder is not retried here: a lost response would leave a duplicate
// order behind, so the caller decides.
func (g *Gateway) CreateOrder(ctx context.Context, amount domain.Amount, currency, receipt string, notes map[string]string) (*Order, error) {
	if amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	if currency == "" {
		currency = g.currency
	}
	order, err := g.processor.CreateOrder(ctx, OrderRequest{
		AmountMinor: amount.Minor(),
		Currency:    currency,
		Receipt:     receipt,
		Notes:       notes,
	})
	if err != nil {
		g.log.WithFields(logrus.Fields{"receipt": receipt, "error": err}).Error("create order failed")
		return nil, err
	}
	return order, nil
}

// Sign computes the callback signature for orderID and paymentID.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Gateway) VerifySignature(orderID, paymentID, signature string) error {
	expected := Sign(string(g.secret), orderID, paymentID)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		g.log.WithFields(logrus.Fields{
			"security_event": "payment_signature_mismatch",
			"order_id":       orderID,
			"payment_id":     paymentID,
		}).Warn("payment signature rejected")
		return domain.ErrInvalidSignature
	}
	return nil
}

func (g *Gateway) GetStatus(ctx context.Context, paymentID string) (*Payment, error) {
	var payment *Payment
	err := g.retry(ctx, "fetch_payment", paymentID, func() error {
		p, err := g.processor.FetchPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// Refund returns money for paymentID. A nil amount refunds whatever is left
// of the original payment. Every retry of one call carries the same
// idempotency key, so a lost response is never refunded twice.
func (g *Gateway) Refund(ctx context.Context, paymentID string, amount *domain.Amount, notes map[string]string) (*Refund, error) {
	var minor int64
	if amount != nil {
		if *amount <= 0 {
			return nil, domain.NewValidationError("amount", "must be positive")
		}
		minor = amount.Minor()
	} else {
		payment, err := g.GetStatus(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		minor = (payment.Amount - payment.AmountRefunded).Minor()
		if minor <= 0 {
			return nil, fmt.Errorf("%w: nothing left to refund", domain.ErrInvalidTransition)
		}
	}

	key := uuid.NewString()
	var refund *Refund
	err := g.retry(ctx, "refund", paymentID, func() error {
		r, err := g.processor.Refund(ctx, paymentID, minor, key, notes)
		if err != nil {
			return err
		}
		refund = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.log.WithFields(logrus.Fields{"payment_id": paymentID, "refund_id": refund.ID, "amount": minor}).Info("refund issued")
	return refund, nil
}

func (g *Gateway) retry(ctx context.Context, op, paymentID string, fn func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = g.initial
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, g.maxRetries), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		g.log.WithFields(logrus.Fields{"op": op, "payment_id": paymentID, "wait": wait, "error": err}).Warn("processor call failed, retrying")
	})
}

// Retryable reports whether a processor error may succeed on another attempt.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
