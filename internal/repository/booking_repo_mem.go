package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/templeseva/darshan/internal/domain"
)

// MemoryBookingRepository keeps bookings in process memory. Reservations for
// the same slot serialize on a per-slot mutex, mirroring the advisory lock
// used by the Postgres store.
type MemoryBookingRepository struct {
	mu       sync.RWMutex
	bookings map[string]domain.Booking

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

func NewMemoryBookingRepository() *MemoryBookingRepository {
	return &MemoryBookingRepository{
		bookings: make(map[string]domain.Booking),
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

func (r *MemoryBookingRepository) slotLock(key string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

func (r *MemoryBookingRepository) ReservePending(ctx context.Context, booking *domain.Booking, capacity int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key := domain.SlotKey{TempleID: booking.TempleID, Date: booking.FormattedDate(), Start: booking.TimeSlot.Start}
	lock := r.slotLock(key.String())
	lock.Lock()
	defer lock.Unlock()

	committed, err := r.CommittedVisitors(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("sum slot visitors: %w", err)
	}
	remaining := capacity - committed
	if booking.TotalVisitors() > remaining {
		return max(remaining, 0), fmt.Errorf("%w: %d of %d places left", domain.ErrSlotUnavailable, max(remaining, 0), capacity)
	}

	now := r.now()
	booking.CreatedAt = now
	booking.UpdatedAt = now

	r.mu.Lock()
	if _, exists := r.bookings[booking.ID]; exists {
		r.mu.Unlock()
		return 0, fmt.Errorf("booking %s already exists", booking.ID)
	}
	r.bookings[booking.ID] = *booking
	r.mu.Unlock()

	return remaining - booking.TotalVisitors(), nil
}

func (r *MemoryBookingRepository) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (r *MemoryBookingRepository) GetByPaymentID(_ context.Context, paymentID string) (*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bookings {
		if paymentID != "" && b.Payment.TransactionID == paymentID {
			return &b, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryBookingRepository) List(_ context.Context, filter ListFilter) ([]domain.Booking, int, error) {
	r.mu.RLock()
	matched := make([]domain.Booking, 0)
	for _, b := range r.bookings {
		if b.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		matched = append(matched, b)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].VisitDate.Equal(matched[j].VisitDate) {
			return matched[i].VisitDate.After(matched[j].VisitDate)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	from := min(filter.Offset(), total)
	to := total
	if filter.Limit > 0 {
		to = min(from+filter.Limit, total)
	}
	return matched[from:to], total, nil
}

func (r *MemoryBookingRepository) Save(_ context.Context, b *domain.Booking, expected domain.BookingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.bookings[b.ID]
	if !ok {
		return fmt.Errorf("booking %s: %w", b.ID, domain.ErrNotFound)
	}
	if current.Status != expected {
		return fmt.Errorf("%w: booking is %s, expected %s", domain.ErrInvalidTransition, current.Status, expected)
	}
	if tx := b.Payment.TransactionID; tx != "" {
		for id, other := range r.bookings {
			if id != b.ID && other.Payment.TransactionID == tx {
				return fmt.Errorf("%w: payment already attached to another booking", domain.ErrPaymentMismatch)
			}
		}
	}
	b.UpdatedAt = r.now()
	r.bookings[b.ID] = *b
	return nil
}

func (r *MemoryBookingRepository) SaveRefund(_ context.Context, b *domain.Booking, expected domain.RefundStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.bookings[b.ID]
	if !ok {
		return fmt.Errorf("booking %s: %w", b.ID, domain.ErrNotFound)
	}
	if current.Status != domain.BookingStatusCancelled || current.RefundStatus != expected {
		return fmt.Errorf("%w: refund is %s, expected %s", domain.ErrInvalidTransition, current.RefundStatus, expected)
	}
	current.RefundStatus = b.RefundStatus
	current.RefundID = b.RefundID
	current.Payment.Status = b.Payment.Status
	current.UpdatedAt = r.now()
	b.UpdatedAt = current.UpdatedAt
	r.bookings[b.ID] = current
	return nil
}

func (r *MemoryBookingRepository) CommittedVisitors(_ context.Context, key domain.SlotKey) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sum := 0
	for _, b := range r.bookings {
		if b.TempleID == key.TempleID && b.FormattedDate() == key.Date && b.TimeSlot.Start == key.Start && b.Status.HoldsCapacity() {
			sum += b.TotalVisitors()
		}
	}
	return sum, nil
}

func (r *MemoryBookingRepository) CommittedBySlot(_ context.Context, templeID, date string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	usage := make(map[string]int)
	for _, b := range r.bookings {
		if b.TempleID == templeID && b.FormattedDate() == date && b.Status.HoldsCapacity() {
			usage[b.TimeSlot.Start] += b.TotalVisitors()
		}
	}
	return usage, nil
}

func (r *MemoryBookingRepository) ExpirePendingBefore(_ context.Context, deadline time.Time) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	expired := make([]domain.Booking, 0)
	for id, b := range r.bookings {
		if b.Status != domain.BookingStatusPending || b.ExpiresAt.After(deadline) {
			continue
		}
		if err := b.Expire(now); err != nil {
			return nil, err
		}
		r.bookings[id] = b
		expired = append(expired, b)
	}
	return expired, nil
}

var _ BookingRepository = (*MemoryBookingRepository)(nil)
