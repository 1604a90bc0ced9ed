package domain

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	SlotLayout = "15:04"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCheckedIn BookingStatus = "checked_in"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusExpired   BookingStatus = "expired"
)

func (s BookingStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// HoldsCapacity reports whether bookings in this state count against a slot.
func (s BookingStatus) HoldsCapacity() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodNetbanking PaymentMethod = "netbanking"
	PaymentMethodWallet     PaymentMethod = "wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodUPI, PaymentMethodNetbanking, PaymentMethodWallet:
		return true
	}
	return false
}

type RefundStatus string

const (
	RefundStatusNone       RefundStatus = "none"
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusProcessed  RefundStatus = "processed"
	RefundStatusFailed     RefundStatus = "failed"
)

type TimeSlot struct {
	Start string
	End   string
}

func (s TimeSlot) String() string {
	return s.Start + "-" + s.End
}

type Visitors struct {
	Adults   int
	Children int
	Seniors  int
}

func (v Visitors) Total() int {
	return v.Adults + v.Children + v.Seniors
}

type ContactInfo struct {
	Name            string
	Phone           string
	Email           string
	SpecialRequests string
}

type PaymentInfo struct {
	Method        PaymentMethod
	Status        PaymentStatus
	OrderID       string
	TransactionID string
}

type Booking struct {
	ID                 string
	TempleID           string
	UserID             string
	VisitDate          time.Time
	TimeSlot           TimeSlot
	Visitors           Visitors
	TotalAmount        Amount
	ServiceFee         Amount
	FinalAmount        Amount
	Contact            ContactInfo
	Payment            PaymentInfo
	Status             BookingStatus
	QRCode             string
	ConfirmedAt        *time.Time
	CheckInTime        *time.Time
	CheckOutTime       *time.Time
	CancellationReason string
	RefundAmount       Amount
	RefundStatus       RefundStatus
	RefundID           string
	ExpiresAt          time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SetAmounts is the only writer of the three amount fields.
func (b *Booking) SetAmounts(total, serviceFee Amount) {
	b.TotalAmount = total
	b.ServiceFee = serviceFee
	b.FinalAmount = total + serviceFee
}

func (b *Booking) TotalVisitors() int {
	return b.Visitors.Total()
}

func (b *Booking) FormattedDate() string {
	return b.VisitDate.Format(DateLayout)
}

// VisitStart is the moment the booked slot opens in the temple's location.
func (b *Booking) VisitStart(loc *time.Location) (time.Time, error) {
	return SlotStart(b.VisitDate, b.TimeSlot, loc)
}

func SlotStart(date time.Time, slot TimeSlot, loc *time.Location) (time.Time, error) {
	clock, err := time.Parse(SlotLayout, slot.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slot start %q: %w", slot.Start, err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

var transitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled, BookingStatusExpired},
	BookingStatusConfirmed: {BookingStatusCheckedIn, BookingStatusCompleted, BookingStatusCancelled},
	BookingStatusCheckedIn: {BookingStatusCompleted},
	BookingStatusCompleted: nil,
	BookingStatusCancelled: nil,
	BookingStatusExpired:   nil,
}

func CanTransition(from, to BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (b *Booking) transition(to BookingStatus, now time.Time) error {
	if !CanTransition(b.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}
	b.Status = to
	b.UpdatedAt = now
	return nil
}

// Confirm records the settled payment and attaches the ticket.
func (b *Booking) Confirm(transactionID, ticket string, now time.Time) error {
	if err := b.transition(BookingStatusConfirmed, now); err != nil {
		return err
	}
	b.Payment.Status = PaymentStatusCompleted
	b.Payment.TransactionID = transactionID
	b.QRCode = ticket
	b.ConfirmedAt = &now
	return nil
}

func (b *Booking) CheckIn(now time.Time) error {
	if err := b.transition(BookingStatusCheckedIn, now); err != nil {
		return err
	}
	b.CheckInTime = &now
	return nil
}

func (b *Booking) Complete(now time.Time) error {
	if err := b.transition(BookingStatusCompleted, now); err != nil {
		return err
	}
	out := now
	if b.CheckInTime != nil && out.Before(*b.CheckInTime) {
		out = *b.CheckInTime
	}
	b.CheckOutTime = &out
	return nil
}

func (b *Booking) Cancel(reason string, refund Amount, now time.Time) error {
	if err := b.transition(BookingStatusCancelled, now); err != nil {
		return err
	}
	b.CancellationReason = reason
	b.RefundAmount = refund
	b.RefundStatus = RefundStatusNone
	if refund > 0 {
		b.RefundStatus = RefundStatusPending
	}
	return nil
}

func (b *Booking) Expire(now time.Time) error {
	return b.transition(BookingStatusExpired, now)
}

// BeginRefund claims the refund owed by a cancelled booking before the
// processor is called. Only an owed or failed refund can be claimed.
func (b *Booking) BeginRefund(now time.Time) error {
	if b.Status != BookingStatusCancelled {
		return fmt.Errorf("%w: refund on %s booking", ErrInvalidTransition, b.Status)
	}
	switch b.RefundStatus {
	case RefundStatusPending, RefundStatusFailed:
	case RefundStatusProcessing:
		return fmt.Errorf("%w: refund already in progress", ErrInvalidTransition)
	case RefundStatusProcessed:
		return fmt.Errorf("%w: refund already processed", ErrInvalidTransition)
	default:
		return fmt.Errorf("%w: no refund owed", ErrInvalidTransition)
	}
	b.RefundStatus = RefundStatusProcessing
	b.UpdatedAt = now
	return nil
}

// RecordRefund settles the refund started by Cancel.
func (b *Booking) RecordRefund(status RefundStatus, refundID string, now time.Time) error {
	if b.Status != BookingStatusCancelled {
		return fmt.Errorf("%w: refund on %s booking", ErrInvalidTransition, b.Status)
	}
	if b.RefundStatus == RefundStatusProcessed {
		return fmt.Errorf("%w: refund already processed", ErrInvalidTransition)
	}
	b.RefundStatus = status
	if refundID != "" {
		b.RefundID = refundID
	}
	if status == RefundStatusProcessed {
		b.Payment.Status = PaymentStatusRefunded
	}
	b.UpdatedAt = now
	return nil
}

// AttachOrder records the processor order created for a pending booking.
func (b *Booking) AttachOrder(orderID string, now time.Time) error {
	if b.Status != BookingStatusPending {
		return fmt.Errorf("%w: order for %s booking", ErrInvalidTransition, b.Status)
	}
	b.Payment.OrderID = orderID
	b.UpdatedAt = now
	return nil
}

// RecordPaymentAttempt tracks an unsettled payment on a pending booking.
// Completed and refunded have their own transitions.
func (b *Booking) RecordPaymentAttempt(status PaymentStatus, transactionID string, now time.Time) error {
	if b.Status != BookingStatusPending {
		return fmt.Errorf("%w: payment update on %s booking", ErrInvalidTransition, b.Status)
	}
	switch status {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusFailed:
	default:
		return fmt.Errorf("%w: payment status %s on pending booking", ErrInvalidTransition, status)
	}
	b.Payment.Status = status
	if transactionID != "" {
		b.Payment.TransactionID = transactionID
	}
	b.UpdatedAt = now
	return nil
}

// HasTicket reports whether the booking is in a state that carries a ticket.
func (b *Booking) HasTicket() bool {
	switch b.Status {
	case BookingStatusConfirmed, BookingStatusCheckedIn, BookingStatusCompleted:
		return true
	}
	return false
}
