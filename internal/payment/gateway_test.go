package payment

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/templeseva/darshan/internal/domain"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockProcessor) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *MockProcessor) Refund(ctx context.Context, paymentID string, amountMinor int64, idempotencyKey string, notes map[string]string) (*Refund, error) {
	args := m.Called(ctx, paymentID, amountMinor, idempotencyKey, notes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Refund), args.Error(1)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestGateway(p Processor) *Gateway {
	return NewGateway(p, "secret", "INR", WithRetry(3, time.Millisecond), WithLogger(quietLogger()))
}

func TestGateway_VerifySignature(t *testing.T) {
	g := newTestGateway(&MockProcessor{})
	valid := Sign("secret", "order_1", "pay_1")

	assert.NoError(t, g.VerifySignature("order_1", "pay_1", valid))
	assert.ErrorIs(t, g.VerifySignature("order_1", "pay_2", valid), domain.ErrInvalidSignature)
	assert.ErrorIs(t, g.VerifySignature("order_1", "pay_1", Sign("other", "order_1", "pay_1")), domain.ErrInvalidSignature)
	assert.ErrorIs(t, g.VerifySignature("order_1", "pay_1", ""), domain.ErrInvalidSignature)
}

func TestGateway_CreateOrderConvertsToMinorUnits(t *testing.T) {
	p := &MockProcessor{}
	g := newTestGateway(p)
	ctx := context.Background()

	req := OrderRequest{AmountMinor: 105050, Currency: "INR", Receipt: "b-1", Notes: map[string]string{"booking_id": "b-1"}}
	p.On("CreateOrder", ctx, req).Return(&Order{ID: "order_1", Amount: 105050, Currency: "INR"}, nil).Once()

	order, err := g.CreateOrder(ctx, domain.AmountFromMajor(1050.50), "", "b-1", map[string]string{"booking_id": "b-1"})

	require.NoError(t, err)
	assert.Equal(t, "order_1", order.ID)
	p.AssertExpectations(t)
}

func TestGateway_CreateOrderRejectsNonPositive(t *testing.T) {
	p := &MockProcessor{}
	_, err := newTestGateway(p).CreateOrder(context.Background(), 0, "INR", "r", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	p.AssertNotCalled(t, "CreateOrder")
}

func TestGateway_GetStatusRetriesTransientErrors(t *testing.T) {
	p := &MockProcessor{}
	g := newTestGateway(p)
	ctx := context.Background()

	transient := fmt.Errorf("%w: 503", domain.ErrGateway)
	p.On("FetchPayment", ctx, "pay_1").Return(nil, transient).Twice()
	p.On("FetchPayment", ctx, "pay_1").Return(&Payment{ID: "pay_1", Status: "captured"}, nil).Once()

	payment, err := g.GetStatus(ctx, "pay_1")

	require.NoError(t, err)
	assert.True(t, payment.Settled())
	p.AssertNumberOfCalls(t, "FetchPayment", 3)
}

func TestGateway_GetStatusGivesUpAfterMaxRetries(t *testing.T) {
	p := &MockProcessor{}
	g := newTestGateway(p)
	ctx := context.Background()

	p.On("FetchPayment", ctx, "pay_1").Return(nil, fmt.Errorf("%w: timeout", domain.ErrGateway))

	_, err := g.GetStatus(ctx, "pay_1")

	assert.ErrorIs(t, err, domain.ErrGateway)
	p.AssertNumberOfCalls(t, "FetchPayment", 4)
}

func TestGateway_GetStatusDoesNotRetryNotFound(t *testing.T) {
	p := &MockProcessor{}
	g := newTestGateway(p)
	ctx := context.Background()

	p.On("FetchPayment", ctx, "pay_x").Return(nil, fmt.Errorf("%w: pay_x", domain.ErrPaymentNotFound)).Once()

	_, err := g.GetStatus(ctx, "pay_x")

	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	p.AssertNumberOfCalls(t, "FetchPayment", 1)
}

func TestGateway_RefundPartial(t *testing.T) {
	p := &MockProcessor{}
	g := newTestGateway(p)
	ctx := context.Background()
	amount := domain.AmountFromMajor(800)

	p.On("Refund", ctx, "pay_1", int64(80000), mock.AnythingOfType("string"), map[string]string(nil)).Return(&Refund{ID: "rfnd_1", Amount: amount}, nil).Once()

	refund, err := g.Refund(ctx, "pay_1", &amount, nil)

	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", refund.ID)
	p.AssertNotCalled(t, "FetchPayment", mock.Anything, mock.Anything)
}

func TestGateway_RefundFullUsesRemainingAmount(t *testing.T) {
	p := &MockProcessor{}
	g := newTestGateway(p)
	ctx := context.Background()

	p.On("FetchPayment", ctx, "pay_1").Return(&Payment{ID: "pay_1", Amount: 100000, AmountRefunded: 20000}, nil).Once()
	p.On("Refund", ctx, "pay_1", int64(80000), mock.AnythingOfType("string"), map[string]string{"reason": "x"}).Return(&Refund{ID: "rfnd_1"}, nil).Once()

	_, err := g.Refund(ctx, "pay_1", nil, map[string]string{"reason": "x"})

	require.NoError(t, err)
	p.AssertExpectations(t)
}

func TestGateway_RefundFullWhenNothingLeft(t *testing.T) {
	p := &MockProcessor{}
	g := newTestGateway(p)
	ctx := context.Background()

	p.On("FetchPayment", ctx, "pay_1").Return(&Payment{ID: "pay_1", Amount: 100000, AmountRefunded: 100000}, nil).Once()

	_, err := g.Refund(ctx, "pay_1", nil, nil)

	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	p.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGateway_RefundRetriesReuseIdempotencyKey(t *testing.T) {
	p := &MockProcessor{}
	g := newTestGateway(p)
	ctx := context.Background()
	amount := domain.AmountFromMajor(200)

	var keys []string
	record := func(args mock.Arguments) { keys = append(keys, args.String(3)) }
	p.On("Refund", ctx, "pay_1", int64(20000), mock.AnythingOfType("string"), map[string]string(nil)).
		Run(record).Return(nil, fmt.Errorf("%w: timeout", domain.ErrGateway)).Twice()
	p.On("Refund", ctx, "pay_1", int64(20000), mock.AnythingOfType("string"), map[string]string(nil)).
		Run(record).Return(&Refund{ID: "rfnd_1", Amount: amount}, nil).Once()

	refund, err := g.Refund(ctx, "pay_1", &amount, nil)
	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", refund.ID)

	require.Len(t, keys, 3)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[0], keys[2])

	p.On("Refund", ctx, "pay_2", int64(20000), mock.AnythingOfType("string"), map[string]string(nil)).
		Run(record).Return(&Refund{ID: "rfnd_2", Amount: amount}, nil).Once()
	_, err = g.Refund(ctx, "pay_2", &amount, nil)
	require.NoError(t, err)
	assert.NotEqual(t, keys[0], keys[3])
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("%w: 500", domain.ErrGateway)))
	assert.False(t, Retryable(domain.ErrInvalidSignature))
	assert.False(t, Retryable(fmt.Errorf("wrap: %w", domain.ErrPaymentNotFound)))
	assert.False(t, Retryable(context.Canceled))
}
