package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/email-cart/internal/domain"
	"github.com/fjod/email-cart/internal/service"
)

// CartService is what the handlers need from the cart service.
type CartService interface {
	AddToCart(ctx context.Context, email string, lines []domain.CartLine) (service.AddResult, error)
	UpdateQuantity(ctx context.Context, email, productID string, quantity uint32) error
	FetchCart(ctx context.Context, email string) (*domain.Cart, error)
	DeleteProduct(ctx context.Context, email, productID string) error
	Ready(ctx context.Context) error
}

type CartHandler struct {
	service CartService
	timeout time.Duration
	maxBody int64
	log     *slog.Logger
}

func NewCartHandler(svc CartService, timeout time.Duration, maxBody int64, log *slog.Logger) *CartHandler {
	if log == nil {
		log = slog.Default()
	}
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &CartHandler{
		service: svc,
		timeout: timeout,
		maxBody: maxBody,
		log:     log,
	}
}

type CartLineDTO struct {
	ProductID string  `json:"product_id"`
	Quantity  *uint32 `json:"quantity"`
}

type AddToCartRequestDTO struct {
	Email    string        `json:"email"`
	Products []CartLineDTO `json:"products"`
}

type UpdateQuantityRequestDTO struct {
	Email     string  `json:"email"`
	ProductID string  `json:"product_id"`
	Quantity  *uint32 `json:"quantity"`
}

type FetchCartRequestDTO struct {
	Email string `json:"email"`
}

type DeleteProductRequestDTO struct {
	Email     string `json:"email"`
	ProductID string `json:"product_id"`
}

func (h *CartHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddToCartRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	if req.Products == nil {
		respondError(w, http.StatusBadRequest, "products is required")
		return
	}

	lines := make([]domain.CartLine, 0, len(req.Products))
	for _, p := range req.Products {
		if p.Quantity == nil {
			respondError(w, http.StatusBadRequest, "quantity is required")
			return
		}
		lines = append(lines, domain.CartLine{ProductID: p.ProductID, Quantity: *p.Quantity})
	}

	res, err := h.service.AddToCart(ctx, req.Email, lines)
	if err != nil {
		writeServiceError(w, r, h.log, err, msgCartNotFound)
		return
	}

	if !res.Added {
		respondJSON(w, http.StatusOK, Response{Success: true, Message: msgNoNewProducts})
		return
	}
	respondJSON(w, http.StatusCreated, Response{Success: true})
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateQuantityRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "quantity is required")
		return
	}

	if err := h.service.UpdateQuantity(ctx, req.Email, req.ProductID, *req.Quantity); err != nil {
		writeServiceError(w, r, h.log, err, msgCartOrProductNotFound)
		return
	}

	respondJSON(w, http.StatusOK, Response{Success: true, Message: msgQuantityUpdated})
}

func (h *CartHandler) FetchCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req FetchCartRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	cart, err := h.service.FetchCart(ctx, req.Email)
	if err != nil {
		writeServiceError(w, r, h.log, err, msgCartNotFound)
		return
	}

	respondJSON(w, http.StatusOK, Response{Success: true, Cart: cart})
}

func (h *CartHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req DeleteProductRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.DeleteProduct(ctx, req.Email, req.ProductID); err != nil {
		writeServiceError(w, r, h.log, err, msgProductNotInCart)
		return
	}

	respondJSON(w, http.StatusOK, Response{Success: true, Message: msgProductRemoved})
}

// Ready answers 503 while the document store is unreachable.
func (h *CartHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.service.Ready(ctx); err != nil {
		h.log.Warn("readiness check failed", "err", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *CartHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	return true
}
