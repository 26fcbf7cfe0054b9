package cache

import (
	"context"
	"errors"

	"github.com/fjod/email-cart/internal/domain"
)

// CartCache holds fetched carts keyed by normalized email.
type CartCache interface {
	Get(ctx context.Context, email string) (*domain.Cart, error)
	Set(ctx context.Context, email string, cart *domain.Cart) error
	Delete(ctx context.Context, email string) error
}

var ErrCacheMiss = errors.New("cache miss")

// NopCache is used when no Redis is configured. Every Get misses.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*domain.Cart, error) { return nil, ErrCacheMiss }

func (NopCache) Set(context.Context, string, *domain.Cart) error { return nil }

func (NopCache) Delete(context.Context, string) error { return nil }
