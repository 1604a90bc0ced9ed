package slots

import (
	"math"
	"time"

	"github.com/templeseva/darshan/config"
	"github.com/templeseva/darshan/internal/domain"
)

// Pricing is the per-visitor fare for one temple. The service fee is kept in
// basis points so fee arithmetic stays in integers.
type Pricing struct {
	Adult         domain.Amount
	Child         domain.Amount
	Senior        domain.Amount
	ServiceFeeBps int64
}

// Quote prices a party and returns the subtotal and the service fee. The fee
// is rounded down to the nearest paisa.
func (p Pricing) Quote(v domain.Visitors) (domain.Amount, domain.Amount) {
	total := p.Adult*domain.Amount(v.Adults) + p.Child*domain.Amount(v.Children) + p.Senior*domain.Amount(v.Seniors)
	fee := domain.Amount(int64(total) * p.ServiceFeeBps / 10000)
	return total, fee
}

// Catalog resolves capacity, slots and fares per temple from configuration.
type Catalog struct {
	loc      *time.Location
	capacity int
	slots    []domain.TimeSlot
	pricing  Pricing
	temples  map[string]templeEntry
}

type templeEntry struct {
	capacity int
	slots    []domain.TimeSlot
	pricing  Pricing
}

func NewCatalog(cfg config.BookingConfig) (*Catalog, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	defaults := cfg.Slots
	if len(defaults) == 0 {
		defaults = config.DefaultSlots()
	}
	c := &Catalog{
		loc:      loc,
		capacity: cfg.SlotCapacity,
		slots:    toSlots(defaults),
		pricing:  toPricing(cfg.Pricing, Pricing{}),
		temples:  make(map[string]templeEntry, len(cfg.Temples)),
	}
	for id, t := range cfg.Temples {
		entry := templeEntry{capacity: t.Capacity, pricing: toPricing(t.Pricing, c.pricing)}
		if len(t.Slots) > 0 {
			entry.slots = toSlots(t.Slots)
		}
		c.temples[id] = entry
	}
	return c, nil
}

func (c *Catalog) Location() *time.Location {
	return c.loc
}

func (c *Catalog) Capacity(templeID string) int {
	if t, ok := c.temples[templeID]; ok && t.capacity > 0 {
		return t.capacity
	}
	return c.capacity
}

func (c *Catalog) Slots(templeID string) []domain.TimeSlot {
	if t, ok := c.temples[templeID]; ok && len(t.slots) > 0 {
		return t.slots
	}
	return c.slots
}

// Find returns the catalog slot starting at start. A non-empty end must match too.
func (c *Catalog) Find(templeID, start, end string) (domain.TimeSlot, bool) {
	for _, s := range c.Slots(templeID) {
		if s.Start == start && (end == "" || s.End == end) {
			return s, true
		}
	}
	return domain.TimeSlot{}, false
}

func (c *Catalog) Pricing(templeID string) Pricing {
	if t, ok := c.temples[templeID]; ok {
		return t.pricing
	}
	return c.pricing
}

func toSlots(in []config.SlotConfig) []domain.TimeSlot {
	out := make([]domain.TimeSlot, 0, len(in))
	for _, s := range in {
		out = append(out, domain.TimeSlot{Start: s.Start, End: s.End})
	}
	return out
}

// toPricing converts configured major-unit fares. Zero fields take fallback.
func toPricing(p config.PricingConfig, fallback Pricing) Pricing {
	out := fallback
	if p.Adult > 0 {
		out.Adult = domain.AmountFromMajor(p.Adult)
	}
	if p.Child > 0 {
		out.Child = domain.AmountFromMajor(p.Child)
	}
	if p.Senior > 0 {
		out.Senior = domain.AmountFromMajor(p.Senior)
	}
	if p.ServiceFeePercent > 0 {
		out.ServiceFeeBps = int64(math.Round(p.ServiceFeePercent * 100))
	}
	return out
}
