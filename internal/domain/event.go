package domain

import "time"

const (
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingCheckedIn = "booking_checked_in"
	EventBookingCompleted = "booking_completed"
	EventBookingCancelled = "booking_cancelled"
	EventBookingExpired   = "booking_expired"
)

// BookingEvent is the broker payload for every lifecycle change.
type BookingEvent struct {
	Type          string    `json:"type"`
	BookingID     string    `json:"booking_id"`
	TempleID      string    `json:"temple_id"`
	UserID        string    `json:"user_id"`
	VisitDate     string    `json:"visit_date"`
	TimeSlot      string    `json:"time_slot"`
	TotalVisitors int       `json:"total_visitors"`
	Status        string    `json:"status"`
	FinalAmount   Amount    `json:"final_amount"`
	RefundAmount  Amount    `json:"refund_amount,omitempty"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func NewBookingEvent(eventType string, b *Booking, at time.Time) BookingEvent {
	return BookingEvent{
		Type:          eventType,
		BookingID:     b.ID,
		TempleID:      b.TempleID,
		UserID:        b.UserID,
		VisitDate:     b.FormattedDate(),
		TimeSlot:      b.TimeSlot.String(),
		TotalVisitors: b.TotalVisitors(),
		Status:        string(b.Status),
		FinalAmount:   b.FinalAmount,
		RefundAmount:  b.RefundAmount,
		Email:         b.Contact.Email,
		Phone:         b.Contact.Phone,
		OccurredAt:    at,
	}
}
