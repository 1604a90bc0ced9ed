// Package refund computes cancellation refunds from the time left before a visit.
package refund

import (
	"time"

	"github.com/templeseva/darshan/internal/domain"
)

const (
	FullRefundWindow    = 48 * time.Hour
	PartialRefundWindow = 24 * time.Hour
	PartialPercent      = 80
)

// Calculate returns the refund for a paid booking cancelled at now.
func Calculate(finalAmount domain.Amount, visitStart, now time.Time) domain.Amount {
	until := visitStart.Sub(now)
	switch {
	case until >= FullRefundWindow:
		return finalAmount
	case until >= PartialRefundWindow:
		return finalAmount.Percent(PartialPercent)
	default:
		return 0
	}
}

// Eligible reports whether a booking in status may be cancelled at now.
// Unpaid bookings can always be dropped.
func Eligible(status domain.BookingStatus, visitStart, now time.Time) bool {
	switch status {
	case domain.BookingStatusPending:
		return true
	case domain.BookingStatusConfirmed:
		return visitStart.Sub(now) >= PartialRefundWindow
	default:
		return false
	}
}

// ForCancellation combines Eligible and Calculate. Pending bookings refund nothing.
func ForCancellation(status domain.BookingStatus, finalAmount domain.Amount, visitStart, now time.Time) (domain.Amount, bool) {
	if !Eligible(status, visitStart, now) {
		return 0, false
	}
	if status == domain.BookingStatusPending {
		return 0, true
	}
	return Calculate(finalAmount, visitStart, now), true
}
