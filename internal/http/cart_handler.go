package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/cart-store/internal/cart"
	"github.com/fjod/go_cart/cart-store/internal/domain"
	"github.com/fjod/go_cart/cart-store/internal/logger"
	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker/v2"
)

// CartStore is the part of cart.Store the handlers use.
type CartStore interface {
	Products() ([]domain.LineItem, error)
	Totals() (domain.Totals, error)
	AddToCart(ctx context.Context, product domain.Product) ([]domain.LineItem, error)
	Increment(ctx context.Context, id string) ([]domain.LineItem, error)
	Decrement(ctx context.Context, id string) ([]domain.LineItem, error)
	Reload(ctx context.Context) ([]domain.LineItem, error)
}

type CartHandler struct {
	store   CartStore
	timeout time.Duration
}

func NewCartHandler(store CartStore, timeout time.Duration) *CartHandler {
	return &CartHandler{
		store:   store,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	ImageURL string  `json:"image_url"`
	Price    float64 `json:"price"`
}

type CartResponse struct {
	Items  []domain.LineItem `json:"items"`
	Totals domain.Totals     `json:"totals"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.Products()
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	respondCart(w, r, http.StatusOK, items)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.ID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "id must not be empty")
		return
	}
	if req.Price < 0 {
		respondError(w, http.StatusBadRequest, "invalid_price", "price must not be negative")
		return
	}

	items, err := h.store.AddToCart(ctx, domain.Product{
		ID:       req.ID,
		Title:    req.Title,
		ImageURL: req.ImageURL,
		Price:    req.Price,
	})
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	respondCart(w, r, http.StatusCreated, items)
}

func (h *CartHandler) Increment(w http.ResponseWriter, r *http.Request) {
	h.changeQuantity(w, r, h.store.Increment)
}

func (h *CartHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	h.changeQuantity(w, r, h.store.Decrement)
}

func (h *CartHandler) Reload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	items, err := h.store.Reload(ctx)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	respondCart(w, r, http.StatusOK, items)
}

func (h *CartHandler) changeQuantity(w http.ResponseWriter, r *http.Request, op func(context.Context, string) ([]domain.LineItem, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "id must not be empty")
		return
	}

	items, err := op(ctx, id)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	respondCart(w, r, http.StatusOK, items)
}

// respondCart writes the snapshot produced by the request's own operation.
func respondCart(w http.ResponseWriter, r *http.Request, status int, items []domain.LineItem) {
	respondJSON(w, r, status, CartResponse{
		Items:  items,
		Totals: domain.CalculateTotals(items),
	})
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var httpStatus int
	var code string

	switch {
	case errors.Is(err, cart.ErrNotInitialized):
		httpStatus = http.StatusServiceUnavailable
		code = "store_unavailable"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		httpStatus = http.StatusServiceUnavailable
		code = "storage_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus = http.StatusGatewayTimeout
		code = "timeout"
	case errors.Is(err, cart.ErrCorruptSnapshot):
		httpStatus = http.StatusInternalServerError
		code = "corrupt_snapshot"
	default:
		httpStatus = http.StatusInternalServerError
		code = "storage_error"
	}

	logger.FromContext(r.Context()).Error().
		Err(err).
		Str("request_id", GetRequestID(r.Context())).
		Int("status", httpStatus).
		Msg("cart request failed")

	respondError(w, httpStatus, code, err.Error())
}
