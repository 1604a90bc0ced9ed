package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/templeseva/darshan/internal/domain"
	"github.com/templeseva/darshan/internal/repository"
)

type SlotUseCase interface {
	CheckAvailability(ctx context.Context, templeID, date string, slot domain.TimeSlot, requested int) (domain.Availability, error)
	ListSlotsForDate(ctx context.Context, templeID, date string) ([]domain.SlotAvailability, error)
}

// SlotCache holds computed listings. GetSlots reports the listing version
// it saw; SetSlots discards the write when the version moved since.
type SlotCache interface {
	GetSlots(ctx context.Context, templeID, date string) ([]domain.SlotAvailability, int64, error)
	SetSlots(ctx context.Context, templeID, date string, slots []domain.SlotAvailability, version int64) error
}

type SlotService struct {
	repo    repository.BookingRepository
	catalog *Catalog
	cache   SlotCache
	log     logrus.FieldLogger
}

type SlotServiceOption func(*SlotService)

func WithCache(cache SlotCache) SlotServiceOption {
	return func(s *SlotService) {
		s.cache = cache
	}
}

func WithLogger(log logrus.FieldLogger) SlotServiceOption {
	return func(s *SlotService) {
		s.log = log
	}
}

func NewSlotService(repo repository.BookingRepository, catalog *Catalog, opts ...SlotServiceOption) *SlotService {
	s := &SlotService{repo: repo, catalog: catalog, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckAvailability is advisory. The binding check runs inside the
// repository when the booking is inserted.
func (s *SlotService) CheckAvailability(ctx context.Context, templeID, date string, slot domain.TimeSlot, requested int) (domain.Availability, error) {
	if requested < 1 {
		return domain.Availability{}, domain.NewValidationError("visitors", "at least one visitor is required")
	}
	committed, err := s.repo.CommittedVisitors(ctx, domain.SlotKey{TempleID: templeID, Date: date, Start: slot.Start})
	if err != nil {
		return domain.Availability{}, err
	}
	capacity := s.catalog.Capacity(templeID)
	remaining := capacity - committed
	if remaining < 0 {
		remaining = 0
	}
	return domain.Availability{
		Available: committed+requested <= capacity,
		Remaining: remaining,
	}, nil
}

func (s *SlotService) ListSlotsForDate(ctx context.Context, templeID, date string) ([]domain.SlotAvailability, error) {
	if templeID == "" {
		return nil, domain.NewValidationError("templeId", "is required")
	}
	if _, err := time.ParseInLocation(domain.DateLayout, date, s.catalog.Location()); err != nil {
		return nil, domain.NewValidationError("date", fmt.Sprintf("must be formatted as %s", domain.DateLayout))
	}

	writeBack := false
	var version int64
	if s.cache != nil {
		cached, v, err := s.cache.GetSlots(ctx, templeID, date)
		switch {
		case err != nil:
			s.log.WithFields(logrus.Fields{"temple_id": templeID, "date": date, "error": err}).Warn("slot cache read failed")
		case cached != nil:
			return cached, nil
		default:
			writeBack, version = true, v
		}
	}

	committed, err := s.repo.CommittedBySlot(ctx, templeID, date)
	if err != nil {
		return nil, err
	}

	capacity := s.catalog.Capacity(templeID)
	catalog := s.catalog.Slots(templeID)
	result := make([]domain.SlotAvailability, 0, len(catalog))
	for _, slot := range catalog {
		remaining := capacity - committed[slot.Start]
		if remaining < 0 {
			remaining = 0
		}
		result = append(result, domain.SlotAvailability{
			Time:              slot.String(),
			Start:             slot.Start,
			End:               slot.End,
			Available:         remaining > 0,
			RemainingCapacity: remaining,
			Capacity:          capacity,
		})
	}

	if writeBack {
		if err := s.cache.SetSlots(ctx, templeID, date, result, version); err != nil {
			s.log.WithFields(logrus.Fields{"temple_id": templeID, "date": date, "error": err}).Warn("slot cache write failed")
		}
	}
	return result, nil
}

var _ SlotUseCase = (*SlotService)(nil)
