package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/email-cart/internal/cache"
	"github.com/fjod/email-cart/internal/domain"
	"github.com/fjod/email-cart/internal/logger"
	"github.com/fjod/email-cart/internal/publisher"
	"github.com/fjod/email-cart/internal/repository"
	"golang.org/x/sync/singleflight"
)

const (
	maxAddAttempts    = 3
	sideEffectTTL     = 5 * time.Second
	loadTimeout       = 5 * time.Second
	generationStripes = 256
)

// AddResult reports what an add actually wrote.
type AddResult struct {
	Added   bool
	Created bool
	Lines   []domain.CartLine
}

type CartService struct {
	repo      repository.CartRepository
	cache     cache.CartCache
	publisher publisher.Publisher
	log       *slog.Logger
	sfg       singleflight.Group // Prevents cache stampede
	pending   sync.WaitGroup

	// bumped by every mutation before its cache invalidation
	gens [generationStripes]atomic.Uint64
}

func NewCartService(repo repository.CartRepository, c cache.CartCache, p publisher.Publisher, log *slog.Logger) *CartService {
	if c == nil {
		c = cache.NopCache{}
	}
	if p == nil {
		p = publisher.NopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &CartService{
		repo:      repo,
		cache:     c,
		publisher: p,
		log:       log,
	}
}

// AddToCart appends the lines whose product is not yet in the cart, creating
// the cart on first use. Lines already present are left untouched.
func (s *CartService) AddToCart(ctx context.Context, email string, lines []domain.CartLine) (AddResult, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return AddResult{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return AddResult{}, fmt.Errorf("%w: product_id is required", ErrInvalidInput)
		}
	}

	log := logger.FromContext(ctx, s.log).With("email", email)
	for attempt := 1; attempt <= maxAddAttempts; attempt++ {
		res, err := s.tryAdd(ctx, email, lines)
		if errors.Is(err, errRaced) {
			log.Debug("add raced with another writer, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			log.Error("add to cart failed", "err", err)
			return AddResult{}, err
		}

		if res.Added {
			s.afterWrite(email, publisher.NewEvent(publisher.ProductsAdded, email, domain.ProductIDs(res.Lines)...))
		}
		return res, nil
	}

	log.Warn("add to cart gave up", "attempts", maxAddAttempts)
	return AddResult{}, ErrConflict
}

// tryAdd runs one lookup, diff and conditional write. errRaced means the
// cart changed in between and the caller should start over.
func (s *CartService) tryAdd(ctx context.Context, email string, lines []domain.CartLine) (AddResult, error) {
	var existing []domain.CartLine
	exists := true

	cart, err := s.repo.GetCart(ctx, email)
	switch {
	case err == nil:
		existing = cart.Products
	case errors.Is(err, repository.ErrCartNotFound):
		exists = false
	default:
		return AddResult{}, fmt.Errorf("lookup cart: %w", err)
	}

	fresh := domain.NewLines(existing, lines)
	if len(fresh) == 0 {
		return AddResult{}, nil
	}

	matched, err := s.repo.AppendLines(ctx, email, fresh)
	if err != nil {
		return AddResult{}, err
	}
	if matched {
		return AddResult{Added: true, Lines: fresh}, nil
	}
	if exists {
		return AddResult{}, errRaced
	}

	err = s.repo.InsertCart(ctx, &domain.Cart{Email: email, Products: fresh})
	if errors.Is(err, repository.ErrCartExists) {
		return AddResult{}, errRaced
	}
	if err != nil {
		return AddResult{}, err
	}
	return AddResult{Added: true, Created: true, Lines: fresh}, nil
}

// UpdateQuantity sets the quantity of one line in place. Zero is stored as is.
func (s *CartService) UpdateQuantity(ctx context.Context, email, productID string, quantity uint32) error {
	email, err := validateTarget(email, productID)
	if err != nil {
		return err
	}

	errUpdate := s.repo.UpdateQuantity(ctx, email, productID, quantity)
	if errors.Is(errUpdate, repository.ErrItemNotFound) {
		return ErrNotFound
	}
	if errUpdate != nil {
		logger.FromContext(ctx, s.log).Error("repo update quantity error", "email", email, "err", errUpdate)
		return errUpdate
	}

	event := publisher.NewEvent(publisher.QuantityUpdated, email, productID)
	event.Quantity = &quantity
	s.afterWrite(email, event)
	return nil
}

// FetchCart returns the stored cart document, served from cache when possible.
// Concurrent fetches of one email share a single load, which does not depend
// on any one caller's cancellation.
func (s *CartService) FetchCart(ctx context.Context, email string) (*domain.Cart, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	log := logger.FromContext(ctx, s.log)

	ch := s.sfg.DoChan(email, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.loadCart(loadCtx, log, email)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Cart), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *CartService) loadCart(ctx context.Context, log *slog.Logger, email string) (*domain.Cart, error) {
	cart, err := s.cache.Get(ctx, email)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn("cache get error", "email", email, "err", err)
	}

	gen := s.generation(email)
	seen := gen.Load()

	cart, errGet := s.repo.GetCart(ctx, email)
	if errors.Is(errGet, repository.ErrCartNotFound) {
		return nil, ErrNotFound
	}
	if errGet != nil {
		log.Error("repo get cart error", "email", email, "err", errGet)
		return nil, errGet
	}

	// A write since the read makes this document stale.
	if gen.Load() != seen {
		return cart, nil
	}
	if errSet := s.cache.Set(ctx, email, cart); errSet != nil {
		log.Warn("cache set error", "email", email, "err", errSet)
		return cart, nil
	}
	// The write may have landed between the check and the Set.
	if gen.Load() != seen {
		invalidateCache(s, email)
	}
	return cart, nil
}

// DeleteProduct pulls every line for productID from the cart.
func (s *CartService) DeleteProduct(ctx context.Context, email, productID string) error {
	email, err := validateTarget(email, productID)
	if err != nil {
		return err
	}

	errRemove := s.repo.RemoveProduct(ctx, email, productID)
	if errors.Is(errRemove, repository.ErrItemNotFound) {
		return ErrNotFound
	}
	if errRemove != nil {
		logger.FromContext(ctx, s.log).Error("repo remove product error", "email", email, "err", errRemove)
		return errRemove
	}

	s.afterWrite(email, publisher.NewEvent(publisher.ProductRemoved, email, productID))
	return nil
}

// Ready reports whether the document store answers.
func (s *CartService) Ready(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Wait blocks until background event publishes finish.
func (s *CartService) Wait() {
	s.pending.Wait()
}

// afterWrite runs after a successful store write.
func (s *CartService) afterWrite(email string, event publisher.Event) {
	s.generation(email).Add(1)
	invalidateCache(s, email)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTTL)
		defer cancel()
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.log.Warn("publish cart event error", "type", event.Type, "email", email, "err", err)
		}
	}()
}

// generation returns the write counter for email's stripe. Emails sharing a
// stripe only cost each other a skipped cache fill.
func (s *CartService) generation(email string) *atomic.Uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(email))
	return &s.gens[h.Sum32()%generationStripes]
}

func invalidateCache(s *CartService, email string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, email); err != nil {
		s.log.Warn("cache invalidate error", "email", email, "err", err)
	}
}

func validateTarget(email, productID string) (string, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(productID) == "" {
		return "", fmt.Errorf("%w: product_id is required", ErrInvalidInput)
	}
	return email, nil
}
