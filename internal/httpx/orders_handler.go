package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/stridekart/checkout/internal/catalog"
	"github.com/stridekart/checkout/internal/orders"
	"github.com/stridekart/checkout/internal/redisx"
)

type OrderReader interface {
	Get(ctx context.Context, id string) (orders.Order, error)
	ListForUser(ctx context.Context, userID string) ([]orders.Order, error)
}

type OrderStatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, next orders.Status) (orders.Order, error)
}

type ProductLister interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
}

// OrdersHandler is the thin read/update surface over the ledger: user
// order history, fulfillment status updates, and the catalog listing.
// The only logic here is the state machine guard inside the ledger.
type OrdersHandler struct {
	Reader   OrderReader
	Updater  OrderStatusUpdater
	Products ProductLister
	Redis    *redis.Client
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Get("/users/{id}/orders", h.listUserOrders)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Get("/products", h.listProducts)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Reader.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": s})
		return
	}

	o, err := h.Reader.Get(ctx, orderID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	_ = h.Redis.Set(ctx, key, string(o.Status), redisx.TTLStatusCache).Err()
	writeJSON(w, http.StatusOK, map[string]string{"status": string(o.Status)})
}

func (h *OrdersHandler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out, err := h.Reader.ListForUser(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing status"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	next := orders.Status(req.Status)

	// Cancelling a pending order would strand its stock reservation:
	// that path belongs to checkout (failed verification) or the
	// sweeper, both of which release stock. This passthrough only
	// serves fulfillment transitions.
	if next == orders.StatusCancelled {
		cur, err := h.Reader.Get(ctx, orderID)
		if err != nil {
			if errors.Is(err, orders.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if cur.Status == orders.StatusPending {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": "pending orders are cancelled by payment failure or expiry, not by status update",
			})
			return
		}
	}

	o, err := h.Updater.UpdateStatus(ctx, orderID, next)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		case errors.Is(err, orders.ErrInvalidTransition):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Set(ctx, key, string(o.Status), redisx.TTLStatusCache).Err()
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Products.ListProducts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
