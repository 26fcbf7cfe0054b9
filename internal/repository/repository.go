package repository

import (
	"context"

	"github.com/fjod/email-cart/internal/domain"
)

// CartRepository is the document store surface the cart service needs.
// Every method is a single round trip against one cart document.
type CartRepository interface {
	GetCart(ctx context.Context, email string) (*domain.Cart, error)
	// AppendLines pushes lines onto an existing cart, but only if none of
	// their product ids is present yet. matched is false when no cart
	// satisfied that condition.
	AppendLines(ctx context.Context, email string, lines []domain.CartLine) (matched bool, err error)
	InsertCart(ctx context.Context, cart *domain.Cart) error
	UpdateQuantity(ctx context.Context, email, productID string, quantity uint32) error
	RemoveProduct(ctx context.Context, email, productID string) error
	Ping(ctx context.Context) error
}
