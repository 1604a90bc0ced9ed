package refund

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/templeseva/darshan/internal/domain"
)

func TestCalculate(t *testing.T) {
	now := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	final := domain.AmountFromMajor(1000)

	testCases := []struct {
		name   string
		until  time.Duration
		expect domain.Amount
	}{
		{name: "50 hours out", until: 50 * time.Hour, expect: domain.AmountFromMajor(1000)},
		{name: "exactly 48 hours", until: 48 * time.Hour, expect: domain.AmountFromMajor(1000)},
		{name: "just under 48 hours", until: 48*time.Hour - time.Second, expect: domain.AmountFromMajor(800)},
		{name: "30 hours out", until: 30 * time.Hour, expect: domain.AmountFromMajor(800)},
		{name: "exactly 24 hours", until: 24 * time.Hour, expect: domain.AmountFromMajor(800)},
		{name: "10 hours out", until: 10 * time.Hour, expect: 0},
		{name: "visit passed", until: -time.Hour, expect: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, Calculate(final, now.Add(tc.until), now))
		})
	}
}

func TestCalculate_RoundsDownToPaise(t *testing.T) {
	now := time.Now()
	assert.Equal(t, domain.Amount(79), Calculate(domain.Amount(99), now.Add(30*time.Hour), now))
}

func TestForCancellation(t *testing.T) {
	now := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	final := domain.AmountFromMajor(1000)

	testCases := []struct {
		name     string
		status   domain.BookingStatus
		until    time.Duration
		refund   domain.Amount
		eligible bool
	}{
		{name: "confirmed 50h", status: domain.BookingStatusConfirmed, until: 50 * time.Hour, refund: final, eligible: true},
		{name: "confirmed 30h", status: domain.BookingStatusConfirmed, until: 30 * time.Hour, refund: domain.AmountFromMajor(800), eligible: true},
		{name: "confirmed 10h", status: domain.BookingStatusConfirmed, until: 10 * time.Hour, eligible: false},
		{name: "pending 10h", status: domain.BookingStatusPending, until: 10 * time.Hour, eligible: true},
		{name: "pending 72h", status: domain.BookingStatusPending, until: 72 * time.Hour, eligible: true},
		{name: "checked in", status: domain.BookingStatusCheckedIn, until: 72 * time.Hour, eligible: false},
		{name: "cancelled", status: domain.BookingStatusCancelled, until: 72 * time.Hour, eligible: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			amount, ok := ForCancellation(tc.status, final, now.Add(tc.until), now)
			assert.Equal(t, tc.eligible, ok)
			assert.Equal(t, tc.refund, amount)
		})
	}
}
