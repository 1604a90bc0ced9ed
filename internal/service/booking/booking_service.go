package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/templeseva/darshan/internal/domain"
	"github.com/templeseva/darshan/internal/payment"
	"github.com/templeseva/darshan/internal/refund"
	"github.com/templeseva/darshan/internal/repository"
	"github.com/templeseva/darshan/internal/service/slots"
	"github.com/templeseva/darshan/internal/ticket"
)

type BookingUseCase interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error)
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	ListBookings(ctx context.Context, filter repository.ListFilter) ([]domain.Booking, int, error)
	FindByPayment(ctx context.Context, paymentID string) (*domain.Booking, error)
	AttachOrder(ctx context.Context, id, orderID string) (*domain.Booking, error)
	UpdatePaymentStatus(ctx context.Context, id string, update PaymentUpdate) (*domain.Booking, error)
	ConfirmPayment(ctx context.Context, id string, p *payment.Payment) (*domain.Booking, error)
	CheckIn(ctx context.Context, id, ticketPayload string) (*domain.Booking, error)
	Complete(ctx context.Context, id string) (*domain.Booking, error)
	CancelBooking(ctx context.Context, id, reason string) (*domain.Booking, error)
	BeginRefund(ctx context.Context, id string) (*domain.Booking, error)
	RecordRefund(ctx context.Context, id string, status domain.RefundStatus, refundID string) (*domain.Booking, error)
	ExpirePendingBookings(ctx context.Context) ([]domain.Booking, error)
	Ticket(ctx context.Context, id string) (string, []byte, error)
}

type Cache interface {
	InvalidateSlots(ctx context.Context, templeID, date string) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type Refunder interface {
	Refund(ctx context.Context, paymentID string, amount *domain.Amount, notes map[string]string) (*payment.Refund, error)
}

type TicketIssuer interface {
	Issue(bookingID string, issuedAt time.Time) (string, error)
	Verify(payload string) (*ticket.Claims, error)
	QRCode(payload string) ([]byte, error)
}

type BookingService struct {
	bookings           repository.BookingRepository
	catalog            *slots.Catalog
	tickets            TicketIssuer
	refunder           Refunder
	cache              Cache
	producer           Producer
	bookingTopic       string
	notificationsTopic string
	pendingTTL         time.Duration
	now                func() time.Time
	log                logrus.FieldLogger
}

type BookingServiceOption func(*BookingService)

func WithCache(cache Cache) BookingServiceOption {
	return func(s *BookingService) {
		s.cache = cache
	}
}

func WithProducer(producer Producer, bookingTopic string) BookingServiceOption {
	return func(s *BookingService) {
		s.producer = producer
		s.bookingTopic = bookingTopic
	}
}

func WithNotificationsTopic(topic string) BookingServiceOption {
	return func(s *BookingService) {
		s.notificationsTopic = topic
	}
}

func WithPendingTTL(ttl time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		s.pendingTTL = ttl
	}
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) {
		s.now = now
	}
}

func WithLogger(log logrus.FieldLogger) BookingServiceOption {
	return func(s *BookingService) {
		s.log = log
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	catalog *slots.Catalog,
	tickets TicketIssuer,
	refunder Refunder,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		bookings:   bookings,
		catalog:    catalog,
		tickets:    tickets,
		refunder:   refunder,
		pendingTTL: 30 * time.Minute,
		now:        time.Now,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error) {
	now := s.now()
	visitDate, slot, err := s.validate(input, now)
	if err != nil {
		return nil, err
	}

	b := &domain.Booking{
		ID:        uuid.NewString(),
		TempleID:  input.TempleID,
		UserID:    input.UserID,
		VisitDate: visitDate,
		TimeSlot:  slot,
		Visitors:  input.Visitors.domain(),
		Contact: domain.ContactInfo{
			Name:            input.Contact.Name,
			Phone:           input.Contact.Phone,
			Email:           input.Contact.Email,
			SpecialRequests: input.Contact.SpecialRequests,
		},
		Payment: domain.PaymentInfo{
			Method: domain.PaymentMethod(input.PaymentMethod),
			Status: domain.PaymentStatusPending,
		},
		Status:       domain.BookingStatusPending,
		RefundStatus: domain.RefundStatusNone,
		ExpiresAt:    now.Add(s.pendingTTL),
	}
	b.SetAmounts(s.catalog.Pricing(input.TempleID).Quote(b.Visitors))

	remaining, err := s.bookings.ReservePending(ctx, b, s.catalog.Capacity(input.TempleID))
	if err != nil {
		if errors.Is(err, domain.ErrSlotUnavailable) {
			s.log.WithFields(logrus.Fields{
				"temple_id": b.TempleID,
				"date":      b.FormattedDate(),
				"slot":      b.TimeSlot.String(),
				"requested": b.TotalVisitors(),
				"remaining": remaining,
			}).Info("slot capacity exceeded")
		}
		return nil, err
	}

	s.invalidate(ctx, b)
	s.publish(ctx, domain.EventBookingCreated, b)
	return b, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	if id == "" {
		return nil, domain.NewValidationError("id", "is required")
	}
	return s.bookings.GetByID(ctx, id)
}

func (s *BookingService) ListBookings(ctx context.Context, filter repository.ListFilter) ([]domain.Booking, int, error) {
	v := &domain.ValidationError{}
	if filter.Page == 0 {
		filter.Page = 1
	}
	if filter.Limit == 0 {
		filter.Limit = DefaultPageLimit
	}
	if filter.Page < 1 {
		v.Add("page", "must be at least 1")
	}
	if filter.Limit < 1 || filter.Limit > MaxPageLimit {
		v.Add("limit", fmt.Sprintf("must be between 1 and %d", MaxPageLimit))
	}
	if filter.Status != "" && !filter.Status.Valid() {
		v.Add("status", "is not a booking status")
	}
	if err := v.Err(); err != nil {
		return nil, 0, err
	}
	return s.bookings.List(ctx, filter)
}

func (s *BookingService) FindByPayment(ctx context.Context, paymentID string) (*domain.Booking, error) {
	return s.bookings.GetByPaymentID(ctx, paymentID)
}

func (s *BookingService) AttachOrder(ctx context.Context, id, orderID string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := b.AttachOrder(orderID, s.now()); err != nil {
		return nil, err
	}
	if err := s.bookings.Save(ctx, b, domain.BookingStatusPending); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BookingService) UpdatePaymentStatus(ctx context.Context, id string, update PaymentUpdate) (*domain.Booking, error) {
	if !update.Status.Valid() {
		return nil, domain.NewValidationError("status", "is not a payment status")
	}
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch update.Status {
	case domain.PaymentStatusCompleted:
		if update.TransactionID == "" {
			return nil, domain.NewValidationError("transactionId", "is required to complete a payment")
		}
		if b.HasTicket() && b.Payment.TransactionID == update.TransactionID {
			return b, nil
		}
		if update.OrderID != "" && b.Payment.OrderID == "" {
			if err := b.AttachOrder(update.OrderID, s.now()); err != nil {
				return nil, err
			}
		}
		return s.confirm(ctx, b, update.TransactionID)
	case domain.PaymentStatusRefunded:
		return s.RecordRefund(ctx, id, domain.RefundStatusProcessed, "")
	default:
		if err := b.RecordPaymentAttempt(update.Status, update.TransactionID, s.now()); err != nil {
			return nil, err
		}
		if err := s.bookings.Save(ctx, b, domain.BookingStatusPending); err != nil {
			return nil, err
		}
		return b, nil
	}
}

// ConfirmPayment confirms a pending booking against the processor's own
// record of the payment. Repeating it with the same payment is a no-op.
func (s *BookingService) ConfirmPayment(ctx context.Context, id string, p *payment.Payment) (*domain.Booking, error) {
	if p == nil || p.ID == "" {
		return nil, domain.NewValidationError("paymentId", "is required")
	}
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.HasTicket() && b.Payment.TransactionID == p.ID {
		return b, nil
	}
	if b.Status != domain.BookingStatusPending {
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
	}
	if p.Amount != b.FinalAmount {
		s.log.WithFields(logrus.Fields{
			"booking_id": b.ID,
			"payment_id": p.ID,
			"paid":       p.Amount.Minor(),
			"expected":   b.FinalAmount.Minor(),
		}).Warn("payment amount does not match booking")
		return nil, fmt.Errorf("%w: paid %.2f, expected %.2f", domain.ErrPaymentMismatch, p.Amount.Major(), b.FinalAmount.Major())
	}
	if b.Payment.OrderID != "" && p.OrderID != "" && b.Payment.OrderID != p.OrderID {
		return nil, fmt.Errorf("%w: payment belongs to order %s", domain.ErrPaymentMismatch, p.OrderID)
	}
	if b.Payment.OrderID == "" && p.OrderID != "" {
		if err := b.AttachOrder(p.OrderID, s.now()); err != nil {
			return nil, err
		}
	}
	return s.confirm(ctx, b, p.ID)
}

func (s *BookingService) confirm(ctx context.Context, b *domain.Booking, transactionID string) (*domain.Booking, error) {
	now := s.now()
	payload, err := s.tickets.Issue(b.ID, now)
	if err != nil {
		return nil, err
	}
	if err := b.Confirm(transactionID, payload, now); err != nil {
		return nil, err
	}
	if err := s.bookings.Save(ctx, b, domain.BookingStatusPending); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// a concurrent confirmation with the same payment already won
			current, getErr := s.bookings.GetByID(ctx, b.ID)
			if getErr == nil && current.HasTicket() && current.Payment.TransactionID == transactionID {
				return current, nil
			}
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"booking_id": b.ID, "payment_id": transactionID}).Info("booking confirmed")
	s.publish(ctx, domain.EventBookingConfirmed, b)
	return b, nil
}

// CheckIn admits a confirmed booking. A scanned ticket, when given, must
// verify and name this booking.
func (s *BookingService) CheckIn(ctx context.Context, id, ticketPayload string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticketPayload != "" {
		claims, err := s.tickets.Verify(ticketPayload)
		if err != nil {
			return nil, domain.NewValidationError("ticket", "is not a valid ticket")
		}
		if claims.BookingID != b.ID {
			return nil, domain.NewValidationError("ticket", "belongs to another booking")
		}
	}

	prev := b.Status
	if err := b.CheckIn(s.now()); err != nil {
		return nil, err
	}
	if err := s.bookings.Save(ctx, b, prev); err != nil {
		return nil, err
	}
	s.invalidate(ctx, b)
	s.publish(ctx, domain.EventBookingCheckedIn, b)
	return b, nil
}

func (s *BookingService) Complete(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := b.Status
	if err := b.Complete(s.now()); err != nil {
		return nil, err
	}
	if err := s.bookings.Save(ctx, b, prev); err != nil {
		return nil, err
	}
	s.invalidate(ctx, b)
	s.publish(ctx, domain.EventBookingCompleted, b)
	return b, nil
}

// CancelBooking cancels and, for paid bookings, refunds the tiered amount.
// The cancellation is persisted before the processor is called. If the
// refund then fails the booking stays cancelled with refund status failed
// and the returned error wraps domain.ErrGateway.
func (s *BookingService) CancelBooking(ctx context.Context, id, reason string) (*domain.Booking, error) {
	if len(reason) > MaxReasonLength {
		return nil, domain.NewValidationError("reason", fmt.Sprintf("must be at most %d characters", MaxReasonLength))
	}
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	start, err := b.VisitStart(s.catalog.Location())
	if err != nil {
		return nil, err
	}

	now := s.now()
	amount, ok := refund.ForCancellation(b.Status, b.FinalAmount, start, now)
	if !ok {
		return nil, fmt.Errorf("%w: %s booking, visit at %s", domain.ErrNotCancellable, b.Status, start.Format(time.RFC3339))
	}

	prev := b.Status
	if err := b.Cancel(reason, amount, now); err != nil {
		return nil, err
	}
	if err := s.bookings.Save(ctx, b, prev); err != nil {
		return nil, err
	}
	s.invalidate(ctx, b)
	s.publish(ctx, domain.EventBookingCancelled, b)

	if amount > 0 && b.Payment.TransactionID != "" {
		if err := s.refund(ctx, b, amount); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (s *BookingService) refund(ctx context.Context, b *domain.Booking, amount domain.Amount) error {
	if err := s.claimRefund(ctx, b); err != nil {
		if !errors.Is(err, domain.ErrInvalidTransition) {
			return err
		}
		// someone else claimed the refund between the cancellation and now
		current, getErr := s.bookings.GetByID(ctx, b.ID)
		if getErr != nil {
			return getErr
		}
		*b = *current
		return nil
	}

	notes := map[string]string{"booking_id": b.ID}
	if b.CancellationReason != "" {
		notes["reason"] = b.CancellationReason
	}

	status, refundID := domain.RefundStatusProcessed, ""
	r, refundErr := s.refunder.Refund(ctx, b.Payment.TransactionID, &amount, notes)
	if refundErr != nil {
		status = domain.RefundStatusFailed
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "payment_id": b.Payment.TransactionID, "error": refundErr}).Error("refund failed")
	} else {
		refundID = r.ID
	}

	if err := b.RecordRefund(status, refundID, s.now()); err != nil {
		return err
	}
	if err := s.bookings.SaveRefund(ctx, b, domain.RefundStatusProcessing); err != nil {
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "refund_id": refundID, "error": err}).Error("failed to record refund")
		return err
	}

	if refundErr != nil {
		if errors.Is(refundErr, domain.ErrGateway) || errors.Is(refundErr, domain.ErrPaymentNotFound) {
			return fmt.Errorf("refund for booking %s: %w", b.ID, refundErr)
		}
		return fmt.Errorf("%w: refund for booking %s: %v", domain.ErrGateway, b.ID, refundErr)
	}
	return nil
}

// claimRefund moves an owed or failed refund to processing. Of concurrent
// claims for one booking exactly one is stored.
func (s *BookingService) claimRefund(ctx context.Context, b *domain.Booking) error {
	prev := b.RefundStatus
	if err := b.BeginRefund(s.now()); err != nil {
		return err
	}
	return s.bookings.SaveRefund(ctx, b, prev)
}

// BeginRefund claims the refund of a cancelled booking before money moves.
// It fails with domain.ErrInvalidTransition when the refund is already in
// progress or processed.
func (s *BookingService) BeginRefund(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.claimRefund(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BookingService) RecordRefund(ctx context.Context, id string, status domain.RefundStatus, refundID string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := b.RefundStatus
	if err := b.RecordRefund(status, refundID, s.now()); err != nil {
		return nil, err
	}
	if err := s.bookings.SaveRefund(ctx, b, prev); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BookingService) ExpirePendingBookings(ctx context.Context) ([]domain.Booking, error) {
	expired, err := s.bookings.ExpirePendingBefore(ctx, s.now())
	if err != nil {
		return nil, err
	}
	for i := range expired {
		b := &expired[i]
		s.invalidate(ctx, b)
		s.publish(ctx, domain.EventBookingExpired, b)
	}
	if len(expired) > 0 {
		s.log.WithField("count", len(expired)).Info("expired pending bookings")
	}
	return expired, nil
}

// Ticket returns the ticket payload and its QR image. The payload is
// regenerated from the booking when it was not stored.
func (s *BookingService) Ticket(ctx context.Context, id string) (string, []byte, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if !b.HasTicket() {
		return "", nil, fmt.Errorf("%w: %s booking has no ticket", domain.ErrInvalidTransition, b.Status)
	}

	payload := b.QRCode
	if payload == "" {
		issuedAt := b.UpdatedAt
		if b.ConfirmedAt != nil {
			issuedAt = *b.ConfirmedAt
		}
		if payload, err = s.tickets.Issue(b.ID, issuedAt); err != nil {
			return "", nil, err
		}
	}
	png, err := s.tickets.QRCode(payload)
	if err != nil {
		return "", nil, err
	}
	return payload, png, nil
}

func (s *BookingService) invalidate(ctx context.Context, b *domain.Booking) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateSlots(ctx, b.TempleID, b.FormattedDate()); err != nil {
		s.log.WithFields(logrus.Fields{"temple_id": b.TempleID, "date": b.FormattedDate(), "error": err}).Warn("slot cache invalidation failed")
	}
}

// publish never fails the caller; the state change is already stored.
func (s *BookingService) publish(ctx context.Context, eventType string, b *domain.Booking) {
	if s.producer == nil || s.bookingTopic == "" {
		return
	}
	event := domain.NewBookingEvent(eventType, b, s.now())
	if err := s.producer.Publish(ctx, s.bookingTopic, b.ID, event); err != nil {
		s.log.WithFields(logrus.Fields{"event": eventType, "booking_id": b.ID, "error": err}).Warn("failed to publish booking event")
		return
	}
	if s.notificationsTopic != "" {
		if err := s.producer.Publish(ctx, s.notificationsTopic, b.ID, event); err != nil {
			s.log.WithFields(logrus.Fields{"event": eventType, "booking_id": b.ID, "error": err}).Warn("failed to publish notification event")
		}
	}
}

var _ BookingUseCase = (*BookingService)(nil)
