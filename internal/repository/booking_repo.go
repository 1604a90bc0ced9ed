package repository

import (
	"context"
	"embed"
	"time"

	"github.com/templeseva/darshan/internal/domain"
)

//go:embed migrations/*.sql
var Migrations embed.FS

type BookingRepository interface {
	// ReservePending inserts booking if its slot still has room for it. The
	// capacity check and the insert are one atomic step; on success it
	// returns the capacity left afterwards.
	ReservePending(ctx context.Context, booking *domain.Booking, capacity int) (int, error)
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*domain.Booking, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Booking, int, error)
	// Save writes booking back only if the stored status still equals
	// expected, otherwise it fails with domain.ErrInvalidTransition.
	Save(ctx context.Context, booking *domain.Booking, expected domain.BookingStatus) error
	// SaveRefund writes the refund fields of a cancelled booking only if the
	// stored refund status still equals expected.
	SaveRefund(ctx context.Context, booking *domain.Booking, expected domain.RefundStatus) error
	CommittedVisitors(ctx context.Context, key domain.SlotKey) (int, error)
	CommittedBySlot(ctx context.Context, templeID, date string) (map[string]int, error)
	ExpirePendingBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error)
}

type ListFilter struct {
	UserID string
	Status domain.BookingStatus
	Page   int
	Limit  int
}

func (f ListFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}
