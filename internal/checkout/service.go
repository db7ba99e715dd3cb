package checkout

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/stridekart/checkout/internal/orders"
	"github.com/stridekart/checkout/internal/payment"
)

// InventoryStore is the stock counter side of the catalog. Reserve must
// be all-or-nothing and re-check stock at write time; Release must be a
// no-op the second time it runs for the same order.
type InventoryStore interface {
	Validate(ctx context.Context, lines []orders.CartLine) ([]orders.Shortage, error)
	Reserve(ctx context.Context, orderID string, lines []orders.CartLine) ([]orders.Shortage, error)
	Release(ctx context.Context, orderID string) error
}

// Pricer reads authoritative product prices. Client-submitted prices are
// never used.
type Pricer interface {
	Prices(ctx context.Context, productIDs []string) (map[string]int, error)
}

type Ledger interface {
	Create(ctx context.Context, d orders.Draft) (orders.Order, error)
	Get(ctx context.Context, id string) (orders.Order, error)
	SetGatewayOrder(ctx context.Context, id, gatewayOrderID string, amountCents int) error
	ConfirmPayment(ctx context.Context, id, paymentID, signature string) (orders.Order, bool, error)
	Cancel(ctx context.Context, id string) (orders.Order, error)
}

// Events receives lifecycle notifications after the corresponding state
// change has committed.
type Events interface {
	OrderPlaced(ctx context.Context, o orders.Order)
	OrderConfirmed(ctx context.Context, o orders.Order)
	OrderCancelled(ctx context.Context, o orders.Order, reason string)
}

// PlacedOrder is what POST /orders hands back: the pending order plus
// the gateway reference the client drives the payment UI with.
type PlacedOrder struct {
	Order   orders.Order
	Gateway payment.GatewayOrder
}

// Service sequences checkout: validate, price, reserve, create, gateway.
// The reservation is the single commit gate; everything before it is
// pure, and the only compensating paths after it are cancel+release.
type Service struct {
	Inventory InventoryStore
	Catalog   Pricer
	Ledger    Ledger
	Gateway   payment.Gateway
	Events    Events

	Currency             string
	CODDepositCents      int
	ShippingFlatCents    int
	FreeShippingMinCents int
}

func (s *Service) PlaceOrder(ctx context.Context, userID string, lines []orders.CartLine, addr orders.ShippingAddress, method orders.PaymentMethod) (PlacedOrder, error) {
	if len(lines) == 0 {
		return PlacedOrder{}, ErrEmptyCart
	}
	for _, ln := range lines {
		if ln.Qty < 1 {
			return PlacedOrder{}, fmt.Errorf("%w: product %s size %d", ErrInvalidQuantity, ln.ProductID, ln.Size)
		}
	}
	if method != orders.PaymentOnline && method != orders.PaymentCOD {
		return PlacedOrder{}, fmt.Errorf("unknown payment method %q", method)
	}
	lines = mergeLines(lines)

	// Fast pre-check so a hopeless cart fails with every shortage listed
	// before anything is touched. Reserve re-checks under lock anyway.
	shortages, err := s.Inventory.Validate(ctx, lines)
	if err != nil {
		return PlacedOrder{}, err
	}
	if len(shortages) > 0 {
		return PlacedOrder{}, &OutOfStockError{Shortages: shortages}
	}

	items, totals, err := s.priceLines(ctx, lines)
	if err != nil {
		return PlacedOrder{}, err
	}

	// Commit gate. A failure here means we lost the stock race since the
	// pre-check; nothing has been written, so there is nothing to undo.
	orderID := uuid.NewString()
	shortages, err = s.Inventory.Reserve(ctx, orderID, lines)
	if err != nil {
		return PlacedOrder{}, err
	}
	if len(shortages) > 0 {
		return PlacedOrder{}, &OutOfStockError{Shortages: shortages}
	}

	o, err := s.Ledger.Create(ctx, orders.Draft{
		ID:            orderID,
		UserID:        userID,
		Items:         items,
		Address:       addr,
		Method:        method,
		TotalCents:    totals.total,
		ShippingCents: totals.shipping,
	})
	if err != nil {
		// Reservation committed but the order row did not. Give the stock
		// back rather than leaving it held by an order that never existed.
		_ = s.Inventory.Release(ctx, orderID)
		return PlacedOrder{}, err
	}

	gwAmount := totals.total
	if method == orders.PaymentCOD {
		gwAmount = s.CODDepositCents
	}
	gw, err := s.Gateway.CreateOrder(ctx, gwAmount, s.Currency, orderID)
	if err != nil {
		s.abort(ctx, orderID, "PAYMENT_INIT_FAILED")
		return PlacedOrder{}, fmt.Errorf("%w: %v", ErrPaymentInitFailed, err)
	}
	if err := s.Ledger.SetGatewayOrder(ctx, orderID, gw.ID, gw.AmountCents); err != nil {
		s.abort(ctx, orderID, "PAYMENT_INIT_FAILED")
		return PlacedOrder{}, fmt.Errorf("%w: %v", ErrPaymentInitFailed, err)
	}
	o.GatewayOrderID = gw.ID
	o.GatewayAmount = gw.AmountCents

	s.Events.OrderPlaced(ctx, o)
	return PlacedOrder{Order: o, Gateway: gw}, nil
}

// Confirm handles the gateway callback carrying payment proof. Trust
// comes from the signature alone. Repeat calls for an already confirmed
// order are no-ops returning the stored row; calls for a cancelled order
// never release twice.
func (s *Service) Confirm(ctx context.Context, orderID, paymentID, signature string) (orders.Order, error) {
	o, err := s.Ledger.Get(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	switch o.Status {
	case orders.StatusConfirmed:
		return o, nil
	case orders.StatusCancelled:
		return o, ErrPaymentVerificationFailed
	case orders.StatusPending:
	default:
		return o, fmt.Errorf("%w: %s -> %s", orders.ErrInvalidTransition, o.Status, orders.StatusConfirmed)
	}

	if o.GatewayOrderID == "" || !s.Gateway.VerifySignature(o.GatewayOrderID, paymentID, signature) {
		s.abort(ctx, orderID, "PAYMENT_VERIFICATION_FAILED")
		co, gerr := s.Ledger.Get(ctx, orderID)
		if gerr == nil {
			o = co
		}
		return o, ErrPaymentVerificationFailed
	}

	co, already, err := s.Ledger.ConfirmPayment(ctx, orderID, paymentID, signature)
	if err != nil {
		return orders.Order{}, err
	}
	co.Items = o.Items
	if !already {
		s.Events.OrderConfirmed(ctx, co)
	}
	return co, nil
}

// abort drives an order to CANCELLED and releases its reservation.
// The cancel transition is the guard: if it fails because another path
// already cancelled, the release is skipped — their cancel released it.
// If cancel fails for any other reason the order is still PENDING, so
// stock stays held and no event goes out; the stale reservation is the
// sweeper's to reclaim, same as an abandoned order.
func (s *Service) abort(ctx context.Context, orderID, reason string) {
	co, err := s.Ledger.Cancel(ctx, orderID)
	if err != nil {
		return
	}
	_ = s.Inventory.Release(ctx, orderID)
	s.Events.OrderCancelled(ctx, co, reason)
}

// mergeLines coalesces repeated (product, size) lines into one delta.
// Validation and Reserve both treat a line as an independent claim on
// the counter, so duplicates must be summed before either sees them.
func mergeLines(lines []orders.CartLine) []orders.CartLine {
	type lineKey struct {
		pid  string
		size int
	}
	idx := map[lineKey]int{}
	out := make([]orders.CartLine, 0, len(lines))
	for _, ln := range lines {
		key := lineKey{ln.ProductID, ln.Size}
		if i, ok := idx[key]; ok {
			out[i].Qty += ln.Qty
			continue
		}
		idx[key] = len(out)
		out = append(out, ln)
	}
	return out
}

type totals struct {
	items    int
	shipping int
	total    int
}

func (s *Service) priceLines(ctx context.Context, lines []orders.CartLine) ([]orders.Item, totals, error) {
	ids := make([]string, 0, len(lines))
	seen := map[string]bool{}
	for _, ln := range lines {
		if !seen[ln.ProductID] {
			seen[ln.ProductID] = true
			ids = append(ids, ln.ProductID)
		}
	}
	prices, err := s.Catalog.Prices(ctx, ids)
	if err != nil {
		return nil, totals{}, err
	}

	items := make([]orders.Item, 0, len(lines))
	var t totals
	for _, ln := range lines {
		price, ok := prices[ln.ProductID]
		if !ok {
			return nil, totals{}, &OutOfStockError{Shortages: []orders.Shortage{{
				ProductID: ln.ProductID, Size: ln.Size, Requested: ln.Qty,
				Reason: orders.ReasonUnknownSize,
			}}}
		}
		items = append(items, orders.Item{
			ProductID: ln.ProductID, Size: ln.Size, Qty: ln.Qty, PriceCents: price,
		})
		t.items += price * ln.Qty
	}
	if t.items < s.FreeShippingMinCents {
		t.shipping = s.ShippingFlatCents
	}
	t.total = t.items + t.shipping
	return items, t, nil
}
