package cache

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/email-cart/internal/domain"
	"github.com/sony/gobreaker/v2"
)

// BreakerCache stops calling the wrapped cache after repeated failures.
// While open, Get reports a miss and Set is skipped.
type BreakerCache struct {
	next    CartCache
	breaker *gobreaker.CircuitBreaker[*domain.Cart]
}

type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	OnStateChange    func(name string, from, to gobreaker.State)
}

func NewBreakerCache(next CartCache, s BreakerSettings) *BreakerCache {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}

	threshold := s.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[*domain.Cart](gobreaker.Settings{
		Name:    s.Name,
		Timeout: s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// a miss is a healthy answer from the cache
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrCacheMiss)
		},
		OnStateChange: s.OnStateChange,
	})

	return &BreakerCache{next: next, breaker: cb}
}

func (b *BreakerCache) Get(ctx context.Context, email string) (*domain.Cart, error) {
	cart, err := b.breaker.Execute(func() (*domain.Cart, error) {
		return b.next.Get(ctx, email)
	})
	if isOpen(err) {
		return nil, ErrCacheMiss
	}
	return cart, err
}

func (b *BreakerCache) Set(ctx context.Context, email string, cart *domain.Cart) error {
	_, err := b.breaker.Execute(func() (*domain.Cart, error) {
		return nil, b.next.Set(ctx, email, cart)
	})
	if isOpen(err) {
		return nil
	}
	return err
}

// Delete always reaches the wrapped cache, even while the breaker is open,
// so an entry skipped here cannot be served once the breaker closes.
func (b *BreakerCache) Delete(ctx context.Context, email string) error {
	return b.next.Delete(ctx, email)
}

func (b *BreakerCache) State() gobreaker.State {
	return b.breaker.State()
}

func isOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
