package service

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/email-cart/internal/cache"
	"github.com/fjod/email-cart/internal/domain"
	"github.com/fjod/email-cart/internal/publisher"
	"github.com/fjod/email-cart/internal/repository"
)

// memoryRepository mimics the document store's single-document semantics.
type memoryRepository struct {
	m     sync.Mutex
	carts map[string]*domain.Cart
	err   error

	// beforeWrite runs once between the lookup and the write of an add,
	// letting a test inject a concurrent writer.
	beforeWrite func(r *memoryRepository)
	// getGate, when set, holds every GetCart until it is closed.
	getGate chan struct{}

	appends, inserts, gets int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{carts: map[string]*domain.Cart{}}
}

func (r *memoryRepository) put(email string, lines ...domain.CartLine) {
	r.m.Lock()
	defer r.m.Unlock()
	r.carts[email] = &domain.Cart{Email: email, Products: lines}
}

func (r *memoryRepository) lines(email string) []domain.CartLine {
	r.m.Lock()
	defer r.m.Unlock()
	c, ok := r.carts[email]
	if !ok {
		return nil
	}
	return append([]domain.CartLine(nil), c.Products...)
}

func (r *memoryRepository) writes() int {
	r.m.Lock()
	defer r.m.Unlock()
	return r.appends + r.inserts
}

func (r *memoryRepository) getCount() int {
	r.m.Lock()
	defer r.m.Unlock()
	return r.gets
}

func (r *memoryRepository) hook() {
	if r.beforeWrite != nil {
		h := r.beforeWrite
		r.beforeWrite = nil
		h(r)
	}
}

func (r *memoryRepository) GetCart(_ context.Context, email string) (*domain.Cart, error) {
	r.m.Lock()
	r.gets++
	gate := r.getGate
	r.m.Unlock()
	if gate != nil {
		<-gate
	}

	r.m.Lock()
	defer r.m.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	c, ok := r.carts[email]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	cp := *c
	cp.Products = append([]domain.CartLine(nil), c.Products...)
	return &cp, nil
}

func (r *memoryRepository) AppendLines(_ context.Context, email string, lines []domain.CartLine) (bool, error) {
	r.hook()
	r.m.Lock()
	defer r.m.Unlock()
	if r.err != nil {
		return false, r.err
	}
	c, ok := r.carts[email]
	if !ok {
		return false, nil
	}
	for _, have := range c.Products {
		for _, add := range lines {
			if have.ProductID == add.ProductID {
				return false, nil
			}
		}
	}
	r.appends++
	c.Products = append(c.Products, lines...)
	return true, nil
}

func (r *memoryRepository) InsertCart(_ context.Context, cart *domain.Cart) error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.carts[cart.Email]; ok {
		return repository.ErrCartExists
	}
	r.inserts++
	cp := *cart
	cp.Products = append([]domain.CartLine(nil), cart.Products...)
	r.carts[cart.Email] = &cp
	return nil
}

func (r *memoryRepository) UpdateQuantity(_ context.Context, email, productID string, quantity uint32) error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.err != nil {
		return r.err
	}
	c, ok := r.carts[email]
	if !ok {
		return repository.ErrItemNotFound
	}
	for i := range c.Products {
		if c.Products[i].ProductID == productID {
			c.Products[i].Quantity = quantity
			return nil
		}
	}
	return repository.ErrItemNotFound
}

func (r *memoryRepository) RemoveProduct(_ context.Context, email, productID string) error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.err != nil {
		return r.err
	}
	c, ok := r.carts[email]
	if !ok {
		return repository.ErrItemNotFound
	}
	kept := c.Products[:0]
	removed := false
	for _, line := range c.Products {
		if line.ProductID == productID {
			removed = true
			continue
		}
		kept = append(kept, line)
	}
	if !removed {
		return repository.ErrItemNotFound
	}
	c.Products = kept
	return nil
}

func (r *memoryRepository) Ping(context.Context) error {
	r.m.Lock()
	defer r.m.Unlock()
	return r.err
}

type mockCache struct {
	m       sync.RWMutex
	carts   map[string]*domain.Cart
	err     error
	deletes int
}

func newMockCache() *mockCache {
	return &mockCache{carts: map[string]*domain.Cart{}}
}

func (c *mockCache) Get(_ context.Context, email string) (*domain.Cart, error) {
	c.m.RLock()
	defer c.m.RUnlock()
	if c.err != nil {
		return nil, c.err
	}
	cart, ok := c.carts[email]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart, nil
}

func (c *mockCache) Set(_ context.Context, email string, cart *domain.Cart) error {
	c.m.Lock()
	defer c.m.Unlock()
	if c.err != nil {
		return c.err
	}
	c.carts[email] = cart
	return nil
}

func (c *mockCache) Delete(_ context.Context, email string) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.deletes++
	delete(c.carts, email)
	return c.err
}

func (c *mockCache) has(email string) bool {
	c.m.RLock()
	defer c.m.RUnlock()
	_, ok := c.carts[email]
	return ok
}

// slowCache delays every Set and can run a hook just before storing, standing
// in for a Redis write that races with other requests.
type slowCache struct {
	*mockCache
	delay     time.Duration
	beforeSet func()
}

func (c *slowCache) Set(ctx context.Context, email string, cart *domain.Cart) error {
	time.Sleep(c.delay)
	if c.beforeSet != nil {
		h := c.beforeSet
		c.beforeSet = nil
		h()
	}
	return c.mockCache.Set(ctx, email, cart)
}

type mockPublisher struct {
	m      sync.Mutex
	events []publisher.Event
	err    error
}

func (p *mockPublisher) Publish(_ context.Context, e publisher.Event) error {
	p.m.Lock()
	defer p.m.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *mockPublisher) Close() error { return nil }

func (p *mockPublisher) published() []publisher.Event {
	p.m.Lock()
	defer p.m.Unlock()
	return append([]publisher.Event(nil), p.events...)
}
