package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/templeseva/darshan/internal/domain"
)

var visitDay = time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

func pendingBooking(id, user string, adults int) *domain.Booking {
	b := &domain.Booking{
		ID:        id,
		TempleID:  "t-1",
		UserID:    user,
		VisitDate: visitDay,
		TimeSlot:  domain.TimeSlot{Start: "08:00", End: "10:00"},
		Visitors:  domain.Visitors{Adults: adults},
		Status:    domain.BookingStatusPending,
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}
	b.SetAmounts(domain.Amount(int64(adults)*10000), 500)
	return b
}

func TestMemoryRepository_ConcurrentReservationsNeverOverbook(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()

	a := pendingBooking("a", "u-1", 30)
	b := pendingBooking("b", "u-2", 25)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, bk := range []*domain.Booking{a, b} {
		wg.Add(1)
		go func(i int, bk *domain.Booking) {
			defer wg.Done()
			_, errs[i] = repo.ReservePending(ctx, bk, 50)
		}(i, bk)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrSlotUnavailable)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	committed, err := repo.CommittedVisitors(ctx, domain.SlotKey{TempleID: "t-1", Date: "2026-11-01", Start: "08:00"})
	require.NoError(t, err)
	assert.LessOrEqual(t, committed, 50)
}

func TestMemoryRepository_ManySmallReservationsFillExactly(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.ReservePending(ctx, pendingBooking(fmt.Sprintf("b-%d", i), "u", 1), 50)
			if err == nil {
				accepted.Add(1)
			} else if !errors.Is(err, domain.ErrSlotUnavailable) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(50), accepted.Load())
}

func TestMemoryRepository_ReserveReportsRemaining(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()

	remaining, err := repo.ReservePending(ctx, pendingBooking("a", "u", 20), 50)
	require.NoError(t, err)
	assert.Equal(t, 30, remaining)

	remaining, err = repo.ReservePending(ctx, pendingBooking("b", "u", 31), 50)
	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)
	assert.Equal(t, 30, remaining)
}

func TestMemoryRepository_CancelledBookingsFreeCapacity(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()

	first := pendingBooking("a", "u", 20)
	_, err := repo.ReservePending(ctx, first, 20)
	require.NoError(t, err)

	require.NoError(t, first.Cancel("", 0, time.Now()))
	require.NoError(t, repo.Save(ctx, first, domain.BookingStatusPending))

	_, err = repo.ReservePending(ctx, pendingBooking("b", "u", 20), 20)
	assert.NoError(t, err)
}

func TestMemoryRepository_SaveIsCompareAndSet(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()

	b := pendingBooking("a", "u", 2)
	_, err := repo.ReservePending(ctx, b, 50)
	require.NoError(t, err)

	stale := *b
	require.NoError(t, b.Confirm("pay_1", "ticket", time.Now()))
	require.NoError(t, repo.Save(ctx, b, domain.BookingStatusPending))

	require.NoError(t, stale.Cancel("", 0, time.Now()))
	err = repo.Save(ctx, &stale, domain.BookingStatusPending)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, stored.Status)

	byPayment, err := repo.GetByPaymentID(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "a", byPayment.ID)

	missing := pendingBooking("zzz", "u", 1)
	assert.ErrorIs(t, repo.Save(ctx, missing, domain.BookingStatusPending), domain.ErrNotFound)
}

func TestMemoryRepository_ListPaginates(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b := pendingBooking(fmt.Sprintf("b-%d", i), "u-1", 1)
		b.VisitDate = visitDay.AddDate(0, 0, i)
		_, err := repo.ReservePending(ctx, b, 50)
		require.NoError(t, err)
	}
	_, err := repo.ReservePending(ctx, pendingBooking("other", "u-2", 1), 50)
	require.NoError(t, err)

	page, total, err := repo.List(ctx, ListFilter{UserID: "u-1", Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "b-2", page[0].ID)
	assert.Equal(t, "b-1", page[1].ID)

	page, total, err = repo.List(ctx, ListFilter{UserID: "u-1", Status: domain.BookingStatusConfirmed, Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, page)
}

func TestMemoryRepository_ExpirePendingBefore(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()

	old := pendingBooking("old", "u", 1)
	old.ExpiresAt = time.Now().Add(-time.Minute)
	fresh := pendingBooking("fresh", "u", 1)
	for _, b := range []*domain.Booking{old, fresh} {
		_, err := repo.ReservePending(ctx, b, 50)
		require.NoError(t, err)
	}

	expired, err := repo.ExpirePendingBefore(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].ID)
	assert.Equal(t, domain.BookingStatusExpired, expired[0].Status)

	usage, err := repo.CommittedBySlot(ctx, "t-1", "2026-11-01")
	require.NoError(t, err)
	assert.Equal(t, 1, usage["08:00"])
}
