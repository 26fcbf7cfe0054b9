package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/email-cart/internal/domain"
	"github.com/fjod/email-cart/internal/logger"
	"github.com/fjod/email-cart/internal/service"
)

const (
	msgNoNewProducts   = "No new products added."
	msgQuantityUpdated = "Quantity updated"
	msgProductRemoved  = "Product removed from cart"

	msgCartOrProductNotFound = "Cart or product not found"
	msgCartNotFound          = "Cart not found"
	msgProductNotInCart      = "Product not found in cart"

	msgInvalidBody     = "Invalid request body"
	msgInternal        = "Internal server error"
	msgTimeout         = "Request timed out"
	msgConflict        = "Cart was modified concurrently, please retry"
	msgTooManyRequests = "Too many requests"
)

// Response is the envelope every cart route answers with.
type Response struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Cart    *domain.Cart `json:"cart,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, Response{Success: false, Message: message})
}

// writeServiceError maps service errors to statuses. Internal error text is
// logged and never sent to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		respondError(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, service.ErrConflict):
		respondError(w, http.StatusConflict, msgConflict)
	case errors.Is(err, context.DeadlineExceeded):
		logger.FromContext(r.Context(), log).Warn("request timed out", "path", r.URL.Path, "err", err)
		respondError(w, http.StatusGatewayTimeout, msgTimeout)
	default:
		logger.FromContext(r.Context(), log).Error("request failed", "path", r.URL.Path, "err", err)
		respondError(w, http.StatusInternalServerError, msgInternal)
	}
}
