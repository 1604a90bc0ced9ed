// Package settlement ties payment processor calls to the bookings they pay for.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/templeseva/darshan/internal/domain"
	"github.com/templeseva/darshan/internal/payment"
	"github.com/templeseva/darshan/internal/service/booking"
)

type SettlementUseCase interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*payment.Order, error)
	VerifyPayment(ctx context.Context, input VerifyInput) (*VerifyResult, error)
	GetStatus(ctx context.Context, paymentID string) (*payment.Payment, error)
	Refund(ctx context.Context, paymentID string, input RefundInput) (*payment.Refund, error)
}

type Gateway interface {
	Currency() string
	CreateOrder(ctx context.Context, amount domain.Amount, currency, receipt string, notes map[string]string) (*payment.Order, error)
	VerifySignature(orderID, paymentID, signature string) error
	GetStatus(ctx context.Context, paymentID string) (*payment.Payment, error)
	Refund(ctx context.Context, paymentID string, amount *domain.Amount, notes map[string]string) (*payment.Refund, error)
}

// Guard serializes concurrent verifications and refunds of one payment id.
type Guard interface {
	AcquirePaymentLock(ctx context.Context, paymentID string, ttl time.Duration) (bool, error)
	ReleasePaymentLock(ctx context.Context, paymentID string) error
}

var (
	ErrVerificationInProgress = errors.New("payment verification already in progress")
	ErrRefundInProgress       = errors.New("refund already in progress for this payment")
)

type CreateOrderInput struct {
	BookingID string            `json:"bookingId"`
	Amount    *domain.Amount    `json:"amount"`
	Currency  string            `json:"currency"`
	Receipt   string            `json:"receipt"`
	Notes     map[string]string `json:"notes"`
}

type VerifyInput struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
	BookingID string `json:"bookingId"`
}

type VerifyResult struct {
	Verified bool             `json:"verified"`
	Payment  *payment.Payment `json:"payment"`
	Booking  *domain.Booking  `json:"-"`
}

type RefundInput struct {
	Amount *domain.Amount     `json:"amount"`
	Notes  map[string]string `json:"notes"`
}

type Service struct {
	gateway  Gateway
	bookings booking.BookingUseCase
	guard    Guard
	lockTTL  time.Duration
	log      logrus.FieldLogger
}

type Option func(*Service)

func WithGuard(guard Guard, ttl time.Duration) Option {
	return func(s *Service) {
		s.guard = guard
		s.lockTTL = ttl
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) {
		s.log = log
	}
}

func NewService(gateway Gateway, bookings booking.BookingUseCase, opts ...Option) *Service {
	s := &Service{
		gateway:  gateway,
		bookings: bookings,
		lockTTL:  30 * time.Second,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder opens a processor order. For a booking the amount always comes
// from the booking and a previously created order id is kept on it.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (*payment.Order, error) {
	currency := input.Currency
	if currency == "" {
		currency = s.gateway.Currency()
	}

	if input.BookingID == "" {
		if input.Amount == nil {
			return nil, domain.NewValidationError("amount", "is required without a booking")
		}
		return s.gateway.CreateOrder(ctx, *input.Amount, currency, input.Receipt, input.Notes)
	}

	b, err := s.bookings.GetBooking(ctx, input.BookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingStatusPending {
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
	}
	if b.Payment.OrderID != "" {
		return &payment.Order{ID: b.Payment.OrderID, Amount: b.FinalAmount, Currency: currency, Receipt: b.ID, Status: "created"}, nil
	}

	receipt := input.Receipt
	if receipt == "" {
		receipt = b.ID
	}
	notes := map[string]string{"booking_id": b.ID, "temple_id": b.TempleID}
	for k, v := range input.Notes {
		if _, taken := notes[k]; !taken {
			notes[k] = v
		}
	}

	order, err := s.gateway.CreateOrder(ctx, b.FinalAmount, currency, receipt, notes)
	if err != nil {
		return nil, err
	}
	if _, err := s.bookings.AttachOrder(ctx, b.ID, order.ID); err != nil {
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "order_id": order.ID, "error": err}).Error("failed to attach order to booking")
		return nil, err
	}
	return order, nil
}

// VerifyPayment authenticates a payment callback and confirms the booking it
// pays for. A forged signature is rejected before anything else is read.
func (s *Service) VerifyPayment(ctx context.Context, input VerifyInput) (*VerifyResult, error) {
	v := &domain.ValidationError{}
	if input.OrderID == "" {
		v.Add("orderId", "is required")
	}
	if input.PaymentID == "" {
		v.Add("paymentId", "is required")
	}
	if input.Signature == "" {
		v.Add("signature", "is required")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := s.gateway.VerifySignature(input.OrderID, input.PaymentID, input.Signature); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, input.PaymentID, ErrVerificationInProgress)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.gateway.GetStatus(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if p.OrderID != "" && p.OrderID != input.OrderID {
		return nil, fmt.Errorf("%w: payment belongs to order %s", domain.ErrPaymentMismatch, p.OrderID)
	}
	if !p.Settled() {
		return nil, fmt.Errorf("%w: payment is %s", domain.ErrPaymentMismatch, p.Status)
	}

	result := &VerifyResult{Verified: true, Payment: p}
	if input.BookingID == "" {
		return result, nil
	}

	b, err := s.bookings.ConfirmPayment(ctx, input.BookingID, p)
	if err != nil {
		return nil, err
	}
	result.Booking = b
	return result, nil
}

func (s *Service) GetStatus(ctx context.Context, paymentID string) (*payment.Payment, error) {
	if paymentID == "" {
		return nil, domain.NewValidationError("paymentId", "is required")
	}
	return s.gateway.GetStatus(ctx, paymentID)
}

// Refund returns money for a payment. When the payment settled a booking the
// booking must already be cancelled, and without an explicit amount its
// computed refund is used. The refund is claimed on the booking before the
// processor is called, so a payment is never refunded twice.
func (s *Service) Refund(ctx context.Context, paymentID string, input RefundInput) (*payment.Refund, error) {
	if paymentID == "" {
		return nil, domain.NewValidationError("paymentId", "is required")
	}

	release, err := s.acquire(ctx, refundLockKey(paymentID), ErrRefundInProgress)
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := s.bookings.FindByPayment(ctx, paymentID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if b == nil {
		return s.gateway.Refund(ctx, paymentID, input.Amount, input.Notes)
	}

	if b.RefundStatus == domain.RefundStatusProcessed || b.Payment.Status == domain.PaymentStatusRefunded {
		return nil, fmt.Errorf("%w: booking %s is already refunded", domain.ErrInvalidTransition, b.ID)
	}
	if b.Status != domain.BookingStatusCancelled {
		return nil, fmt.Errorf("%w: booking %s must be cancelled before a refund", domain.ErrNotCancellable, b.ID)
	}

	amount := input.Amount
	if amount == nil {
		if b.RefundAmount <= 0 {
			return nil, fmt.Errorf("%w: booking %s has nothing to refund", domain.ErrInvalidTransition, b.ID)
		}
		owed := b.RefundAmount
		amount = &owed
	}
	notes := map[string]string{"booking_id": b.ID}
	for k, v := range input.Notes {
		notes[k] = v
	}

	if _, err := s.bookings.BeginRefund(ctx, b.ID); err != nil {
		return nil, err
	}

	r, err := s.gateway.Refund(ctx, paymentID, amount, notes)
	if err != nil {
		if _, recErr := s.bookings.RecordRefund(ctx, b.ID, domain.RefundStatusFailed, ""); recErr != nil {
			s.log.WithFields(logrus.Fields{"booking_id": b.ID, "error": recErr}).Warn("failed to record refund failure")
		}
		return nil, err
	}
	if _, err := s.bookings.RecordRefund(ctx, b.ID, domain.RefundStatusProcessed, r.ID); err != nil {
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "refund_id": r.ID, "error": err}).Error("refund issued but not recorded")
		return nil, err
	}
	return r, nil
}

func refundLockKey(paymentID string) string {
	return "refund:" + paymentID
}

// acquire takes the guard for key. A held guard fails with busy; an
// unreachable guard is logged and skipped.
func (s *Service) acquire(ctx context.Context, key string, busy error) (func(), error) {
	if s.guard == nil {
		return func() {}, nil
	}
	ok, err := s.guard.AcquirePaymentLock(ctx, key, s.lockTTL)
	if err != nil {
		s.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("payment guard unavailable")
		return func() {}, nil
	}
	if !ok {
		return nil, busy
	}
	return func() {
		if err := s.guard.ReleasePaymentLock(context.WithoutCancel(ctx), key); err != nil {
			s.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("failed to release payment guard")
		}
	}, nil
}

var _ SettlementUseCase = (*Service)(nil)
