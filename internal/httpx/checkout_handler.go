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

	"github.com/stridekart/checkout/internal/checkout"
	"github.com/stridekart/checkout/internal/orders"
	"github.com/stridekart/checkout/internal/redisx"
)

type CheckoutService interface {
	PlaceOrder(ctx context.Context, userID string, lines []orders.CartLine, addr orders.ShippingAddress, method orders.PaymentMethod) (checkout.PlacedOrder, error)
	Confirm(ctx context.Context, orderID, paymentID, signature string) (orders.Order, error)
}

type CheckoutHandler struct {
	Svc    CheckoutService
	Reader OrderReader
	Redis  *redis.Client
	// Key id the browser SDK needs to open the gateway's payment UI.
	GatewayKey string
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.placeOrder)
	r.Post("/orders/{id}/confirm", h.confirmOrder)
}

type cartLineReq struct {
	ProductID string `json:"product_id"`
	Size      int    `json:"size"`
	Qty       int    `json:"qty"`
	// accepted for compatibility with older clients, never trusted
	UnitPriceCents int `json:"unit_price_cents,omitempty"`
}

type placeOrderReq struct {
	UserID        string                 `json:"user_id"`
	Items         []cartLineReq          `json:"items"`
	Address       orders.ShippingAddress `json:"address"`
	PaymentMethod string                 `json:"payment_method"`
}

type placeOrderResp struct {
	Order      orders.Order `json:"order"`
	GatewayKey string       `json:"gateway_key,omitempty"`
	GatewayRef struct {
		OrderID     string `json:"order_id"`
		AmountCents int    `json:"amount_cents"`
		Currency    string `json:"currency"`
	} `json:"gateway_ref"`
}

func (h *CheckoutHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	lines := make([]orders.CartLine, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, orders.CartLine{ProductID: it.ProductID, Size: it.Size, Qty: it.Qty})
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	placed, err := h.Svc.PlaceOrder(ctx, req.UserID, lines, req.Address, orders.PaymentMethod(req.PaymentMethod))
	if err != nil {
		h.writePlaceError(w, err)
		return
	}

	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, placed.Order.ID)
	_ = h.Redis.Set(ctx, statusKey, string(placed.Order.Status), redisx.TTLStatusCache).Err()

	resp := placeOrderResp{Order: placed.Order, GatewayKey: h.GatewayKey}
	resp.GatewayRef.OrderID = placed.Gateway.ID
	resp.GatewayRef.AmountCents = placed.Gateway.AmountCents
	resp.GatewayRef.Currency = placed.Gateway.Currency
	writeJSON(w, http.StatusCreated, resp)
}

func (h *CheckoutHandler) writePlaceError(w http.ResponseWriter, err error) {
	var oos *checkout.OutOfStockError
	switch {
	case errors.As(err, &oos):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "OUT_OF_STOCK",
			"shortages": oos.Shortages,
		})
	case errors.Is(err, checkout.ErrPaymentInitFailed):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "PAYMENT_INIT_FAILED"})
	case errors.Is(err, checkout.ErrEmptyCart), errors.Is(err, checkout.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

type confirmReq struct {
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

func (h *CheckoutHandler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req confirmReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if orderID == "" || req.PaymentID == "" || req.Signature == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// Fast path for webhook redelivery: the key is only ever set after a
	// verified confirmation, Postgres stays the source of truth.
	seenKey := fmt.Sprintf(redisx.KeyConfirmSeen, orderID)
	if seen, _ := redisx.Exists(ctx, h.Redis, seenKey); seen {
		if o, err := h.Reader.Get(ctx, orderID); err == nil && o.Status == orders.StatusConfirmed {
			writeJSON(w, http.StatusOK, o)
			return
		}
	}

	o, err := h.Svc.Confirm(ctx, orderID, req.PaymentID, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		case errors.Is(err, checkout.ErrPaymentVerificationFailed):
			writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"error": "PAYMENT_VERIFICATION_FAILED",
				"order": o,
			})
		case errors.Is(err, orders.ErrInvalidTransition):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}

	_ = h.Redis.Set(ctx, seenKey, "1", redisx.TTLConfirm).Err()
	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Set(ctx, statusKey, string(o.Status), redisx.TTLStatusCache).Err()

	writeJSON(w, http.StatusOK, o)
}
