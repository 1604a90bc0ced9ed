package cache

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is the single-process stand-in for the Redis payment lock.
// Locks expire after their ttl so a crashed holder cannot wedge a payment.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), clock: time.Now}
}

func (l *LocalLocker) AcquirePaymentLock(_ context.Context, paymentID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if until, ok := l.held[paymentID]; ok && now.Before(until) {
		return false, nil
	}
	l.held[paymentID] = now.Add(ttl)
	return true, nil
}

func (l *LocalLocker) ReleasePaymentLock(_ context.Context, paymentID string) error {
	l.mu.Lock()
	delete(l.held, paymentID)
	l.mu.Unlock()
	return nil
}
