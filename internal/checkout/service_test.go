package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stridekart/checkout/internal/orders"
	"github.com/stridekart/checkout/internal/payment"
)

// fakeInventory mirrors the Postgres implementation's guarantees: Reserve
// is atomic check-and-decrement over all lines under one lock, Release
// only gives back what is still held.
type fakeInventory struct {
	mu       sync.Mutex
	stock    map[string]map[int]int // productID -> size -> stock
	reserved map[string][]orders.CartLine
	released map[string]int
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{
		stock:    map[string]map[int]int{},
		reserved: map[string][]orders.CartLine{},
		released: map[string]int{},
	}
}

func (f *fakeInventory) set(productID string, size, stock int) {
	if f.stock[productID] == nil {
		f.stock[productID] = map[int]int{}
	}
	f.stock[productID][size] = stock
}

func (f *fakeInventory) get(productID string, size int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[productID][size]
}

func (f *fakeInventory) classify(lines []orders.CartLine) []orders.Shortage {
	var out []orders.Shortage
	for _, ln := range lines {
		sizes, ok := f.stock[ln.ProductID]
		if !ok {
			out = append(out, orders.Shortage{ProductID: ln.ProductID, Size: ln.Size, Requested: ln.Qty, Reason: orders.ReasonUnknownSize})
			continue
		}
		avail, ok := sizes[ln.Size]
		if !ok {
			out = append(out, orders.Shortage{ProductID: ln.ProductID, Size: ln.Size, Requested: ln.Qty, Reason: orders.ReasonUnknownSize})
			continue
		}
		if avail < ln.Qty {
			out = append(out, orders.Shortage{ProductID: ln.ProductID, Size: ln.Size, Requested: ln.Qty, Available: avail, Reason: orders.ReasonOutOfStock})
		}
	}
	return out
}

func (f *fakeInventory) Validate(_ context.Context, lines []orders.CartLine) ([]orders.Shortage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classify(lines), nil
}

func (f *fakeInventory) Reserve(_ context.Context, orderID string, lines []orders.CartLine) ([]orders.Shortage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s := f.classify(lines); len(s) > 0 {
		return s, nil // all-or-nothing: no counter was touched
	}
	for _, ln := range lines {
		f.stock[ln.ProductID][ln.Size] -= ln.Qty
	}
	f.reserved[orderID] = lines
	return nil, nil
}

func (f *fakeInventory) Release(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines, ok := f.reserved[orderID]
	if !ok {
		return nil // nothing held, no-op
	}
	delete(f.reserved, orderID)
	f.released[orderID]++
	for _, ln := range lines {
		f.stock[ln.ProductID][ln.Size] += ln.Qty
	}
	return nil
}

type fakePricer struct{ prices map[string]int }

func (f *fakePricer) Prices(_ context.Context, ids []string) (map[string]int, error) {
	out := map[string]int{}
	for _, id := range ids {
		if p, ok := f.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeLedger struct {
	mu         sync.Mutex
	byID       map[string]orders.Order
	failed     bool // force Create to fail
	cancelFail bool // force Cancel to fail with a storage error
}

func newFakeLedger() *fakeLedger { return &fakeLedger{byID: map[string]orders.Order{}} }

func (f *fakeLedger) Create(_ context.Context, d orders.Draft) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return orders.Order{}, errors.New("storage unavailable")
	}
	o := orders.Order{
		ID: d.ID, UserID: d.UserID, Items: d.Items, Address: d.Address,
		Method: d.Method, Status: orders.StatusPending,
		TotalCents: d.TotalCents, ShippingCents: d.ShippingCents,
		AmountDue: d.TotalCents,
	}
	f.byID[d.ID] = o
	return o, nil
}

func (f *fakeLedger) Get(_ context.Context, id string) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (f *fakeLedger) SetGatewayOrder(_ context.Context, id, gwID string, amount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return orders.ErrNotFound
	}
	o.GatewayOrderID = gwID
	o.GatewayAmount = amount
	f.byID[id] = o
	return nil
}

func (f *fakeLedger) ConfirmPayment(_ context.Context, id, paymentID, signature string) (orders.Order, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return orders.Order{}, false, orders.ErrNotFound
	}
	if o.Status == orders.StatusConfirmed {
		return o, true, nil
	}
	if !orders.CanTransition(o.Status, orders.StatusConfirmed) {
		return o, false, fmt.Errorf("%w: %s -> CONFIRMED", orders.ErrInvalidTransition, o.Status)
	}
	o.Status = orders.StatusConfirmed
	o.AmountPaid = o.GatewayAmount
	o.AmountDue = o.TotalCents - o.GatewayAmount
	o.GatewayPaymentID = paymentID
	o.GatewaySignature = signature
	f.byID[id] = o
	return o, false, nil
}

func (f *fakeLedger) Cancel(_ context.Context, id string) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelFail {
		return orders.Order{}, errors.New("storage unavailable")
	}
	o, ok := f.byID[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	if !orders.CanTransition(o.Status, orders.StatusCancelled) {
		return o, fmt.Errorf("%w: %s -> CANCELLED", orders.ErrInvalidTransition, o.Status)
	}
	o.Status = orders.StatusCancelled
	f.byID[id] = o
	return o, nil
}

type fakeGateway struct {
	mu         sync.Mutex
	failCreate bool
	created    []payment.GatewayOrder
}

func gatewaySig(gatewayOrderID, paymentID string) string {
	return "sig(" + gatewayOrderID + "|" + paymentID + ")"
}

func (f *fakeGateway) CreateOrder(_ context.Context, amountCents int, currency, receipt string) (payment.GatewayOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return payment.GatewayOrder{}, errors.New("gateway unreachable")
	}
	gw := payment.GatewayOrder{ID: "gw_" + receipt, AmountCents: amountCents, Currency: currency}
	f.created = append(f.created, gw)
	return gw, nil
}

func (f *fakeGateway) VerifySignature(gatewayOrderID, paymentID, signature string) bool {
	return signature == gatewaySig(gatewayOrderID, paymentID)
}

type fakeEvents struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeEvents) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeEvents) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *fakeEvents) OrderPlaced(_ context.Context, o orders.Order)    { f.record("placed:" + o.ID) }
func (f *fakeEvents) OrderConfirmed(_ context.Context, o orders.Order) { f.record("confirmed:" + o.ID) }
func (f *fakeEvents) OrderCancelled(_ context.Context, o orders.Order, reason string) {
	f.record("cancelled:" + o.ID + ":" + reason)
}

type fixture struct {
	inv    *fakeInventory
	pricer *fakePricer
	ledger *fakeLedger
	gw     *fakeGateway
	events *fakeEvents
	svc    *Service
}

func newFixture() *fixture {
	f := &fixture{
		inv:    newFakeInventory(),
		pricer: &fakePricer{prices: map[string]int{}},
		ledger: newFakeLedger(),
		gw:     &fakeGateway{},
		events: &fakeEvents{},
	}
	f.svc = &Service{
		Inventory:            f.inv,
		Catalog:              f.pricer,
		Ledger:               f.ledger,
		Gateway:              f.gw,
		Events:               f.events,
		Currency:             "INR",
		CODDepositCents:      20000,
		ShippingFlatCents:    9900,
		FreeShippingMinCents: 100000,
	}
	return f
}

var testAddr = orders.ShippingAddress{Name: "A Kumar", Line1: "12 MG Road", City: "Pune", State: "MH", PinCode: "411001", Phone: "9999999999"}

func TestPlaceOrderHappyPath(t *testing.T) {
	f := newFixture()
	f.inv.set("P1", 9, 5)
	f.pricer.prices["P1"] = 50000

	placed, err := f.svc.PlaceOrder(context.Background(), "u1",
		[]orders.CartLine{{ProductID: "P1", Size: 9, Qty: 2}}, testAddr, orders.PaymentOnline)
	require.NoError(t, err)

	assert.Equal(t, 3, f.inv.get("P1", 9))
	assert.Equal(t, orders.StatusPending, placed.Order.Status)
	// 2 x 50000 clears the free-shipping threshold
	assert.Equal(t, 100000, placed.Order.TotalCents)
	assert.Equal(t, 0, placed.Order.ShippingCents)
	assert.Equal(t, 0, placed.Order.AmountPaid)
	assert.Equal(t, 100000, placed.Order.AmountDue)
	assert.Equal(t, 100000, placed.Gateway.AmountCents)
	assert.NotEmpty(t, placed.Gateway.ID)
	assert.Equal(t, 1, f.events.count("placed:"))

	// item snapshot carries the catalog price, not anything client-sent
	require.Len(t, placed.Order.Items, 1)
	assert.Equal(t, 50000, placed.Order.Items[0].PriceCents)
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	f := newFixture()
	f.inv.set("P1", 9, 1)
	f.pricer.prices["P1"] = 50000

	_, err := f.svc.PlaceOrder(context.Background(), "u1",
		[]orders.CartLine{{ProductID: "P1", Size: 9, Qty: 2}}, testAddr, orders.PaymentOnline)

	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	require.Len(t, oos.Shortages, 1)
	assert.Equal(t, 2, oos.Shortages[0].Requested)
	assert.Equal(t, 1, oos.Shortages[0].Available)
	assert.Equal(t, orders.ReasonOutOfStock, oos.Shortages[0].Reason)

	// nothing mutated
	assert.Equal(t, 1, f.inv.get("P1", 9))
	assert.Empty(t, f.ledger.byID)
	assert.Empty(t, f.gw.created)
}

func TestPlaceOrderReportsAllShortages(t *testing.T) {
	f := newFixture()
	f.inv.set("P1", 9, 1)
	f.inv.set("P2", 10, 4)
	f.pricer.prices["P1"] = 50000
	f.pricer.prices["P2"] = 30000

	_, err := f.svc.PlaceOrder(context.Background(), "u1", []orders.CartLine{
		{ProductID: "P1", Size: 9, Qty: 3},  // short
		{ProductID: "P2", Size: 10, Qty: 2}, // fine
		{ProductID: "P2", Size: 11, Qty: 1}, // size does not exist
	}, testAddr, orders.PaymentOnline)

	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	require.Len(t, oos.Shortages, 2)
	reasons := map[string]bool{}
	for _, s := range oos.Shortages {
		reasons[s.Reason] = true
	}
	assert.True(t, reasons[orders.ReasonOutOfStock])
	assert.True(t, reasons[orders.ReasonUnknownSize])
}

func TestPlaceOrderShippingBelowThreshold(t *testing.T) {
	f := newFixture()
	f.inv.set("P1", 8, 10)
	f.pricer.prices["P1"] = 40000

	placed, err := f.svc.PlaceOrder(context.Background(), "u1",
		[]orders.CartLine{{ProductID: "P1", Size: 8, Qty: 1}}, testAddr, orders.PaymentOnline)
	require.NoError(t, err)

	assert.Equal(t, 9900, placed.Order.ShippingCents)
	assert.Equal(t, 49900, placed.Order.TotalCents)
	assert.Equal(t, placed.Order.TotalCents, placed.Order.AmountPaid+placed.Order.AmountDue)
}

func TestPlaceOrderInputValidation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.PlaceOrder(context.Background(), "u1", nil, testAddr, orders.PaymentOnline)
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.svc.PlaceOrder(context.Background(), "u1",
		[]orders.CartLine{{ProductID: "P1", Size: 9, Qty: 0}}, testAddr, orders.PaymentOnline)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPlaceOrderRace(t *testing.T) {
	f := newFixture()
	f.inv.set("P1", 9, 1)
	f.pricer.prices["P1"] = 50000

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PlaceOrder(context.Background(), "u1",
				[]orders.CartLine{{ProductID: "P1", Size: 9, Qty: 1}}, testAddr, orders.PaymentOnline)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var okCount, oosCount int
	for err := range results {
		var oos *OutOfStockError
		switch {
		case err == nil:
			okCount++
		case errors.As(err, &oos):
			oosCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, okCount, "exactly one shopper gets the last unit")
	assert.Equal(t, 1, oosCount)
	assert.Equal(t, 0, f.inv.get("P1", 9))
}

func TestPlaceOrderGatewayInitFailureReleasesStock(t *testing.T) {
	f := newFixture()
	f.inv.set("P1", 9, 5)
	f.pricer.prices["P1"] = 50000
	f.gw.failCreate = true

	_, err := f.svc.PlaceOrder(context.Background(), "u1",
		[]orders.CartLine{{ProductID: "P1", Size: 9, Qty: 2}}, testAddr, orders.PaymentOnline)
	require.ErrorIs(t, err, ErrPaymentInitFailed)

	assert.Equal(t, 5, f.inv.get("P1", 9), "reservation rolled back")
	for _, o := range f.ledger.byID {
		assert.Equal(t, orders.StatusCancelled, o.Status)
	}
	assert.Equal(t, 1, f.events.count("cancelled:"))
}

func TestPlaceOrderLedgerFailureReleasesStock(t *testing.T) {
	f := newFixture()
	f.inv.set("P1", 9, 5)
	f.pricer.prices["P1"] = 50000
	f.ledger.failed = true

	_, err := f.svc.PlaceOrder(context.Background(), "u1",
		[]orders.CartLine{{ProductID: "P1", Size: 9, Qty: 2}}, testAddr, orders.PaymentOnline)
	require.Error(t, err)
	assert.Equal(t, 5, f.inv.get("P1", 9))
}

func placeCOD(t *testing.T, f *fixture) PlacedOrder {
	t.Helper()
	placed, err := f.svc.PlaceOrder(context.Background(), "u1",
		[]orders.CartLine{{ProductID: "P1", Size: 9, Qty: 3}}, testAddr, orders.PaymentCOD)
	require.NoError(t, err)
	return placed
}

func TestConfirmCODDeposit(t *testing.T) {
	f := newFixture()
	f.inv.set("P1", 9, 10)
	f.pricer.prices["P1"] = 50000

	placed := placeCOD(t, f)
	// 3 x 50000 = 150000, free shipping; gateway order is for the deposit only
	require.Equal(t, 150000, placed.Order.TotalCents)
	require.Equal(t, 20000, placed.Gateway.AmountCents)

	o, err := f.svc.Confirm(context.Background(), placed.Order.ID, "pay_1",
		gatewaySig(placed.Gateway.ID, "pay_1"))
	require.NoError(t, err)

	assert.Equal(t, orders.StatusConfirmed, o.Status)
	assert.Equal(t, 20000, o.AmountPaid)
	assert.Equal(t, 130000, o.AmountDue)
	assert.Equal(t, o.TotalCents, o.AmountPaid+o.AmountDue)
}

func TestConfirmVerificationFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.inv.set("P1", 9, 5)
	f.pricer.prices["P1"] = 50000

	placed, err := f.svc.PlaceOrder(context.Background(), "u1",
		[]orders.CartLine{{ProductID: "P1", Size: 9, Qty: 2}}, testAddr, orders.PaymentOnline)
	require.NoError(t, err)
	require.Equal(t, 3, f.inv.get("P1", 9))

	o, err := f.svc.Confirm(context.Background(), placed.Order.ID, "pay_1", "forged-signature")
	require.ErrorIs(t, err, ErrPaymentVerificationFailed)

	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, 0, o.AmountPaid)
	assert.Equal(t, 5, f.inv.get("P1", 9), "stock restored to pre-reservation level")
	assert.Equal(t, 1, f.inv.released[placed.Order.ID])

	// retry for the cancelled order: no-op, never a double release
	_, err = f.svc.Confirm(context.Background(), placed.Order.ID, "pay_1", "forged-signature")
	require.ErrorIs(t, err, ErrPaymentVerificationFailed)
	assert.Equal(t, 5, f.inv.get("P1", 9))
	assert.Equal(t, 1, f.inv.released[placed.Order.ID])
}

func TestConfirmIdempotent(t *testing.T) {
	f := newFixture()
	f.inv.set("P1", 9, 5)
	f.pricer.prices["P1"] = 50000

	placed, err := f.svc.PlaceOrder(context.Background(), "u1",
		[]orders.CartLine{{ProductID: "P1", Size: 9, Qty: 2}}, testAddr, orders.PaymentOnline)
	require.NoError(t, err)

	sig := gatewaySig(placed.Gateway.ID, "pay_1")
	first, err := f.svc.Confirm(context.Background(), placed.Order.ID, "pay_1", sig)
	require.NoError(t, err)
	require.Equal(t, orders.StatusConfirmed, first.Status)
	require.Equal(t, first.TotalCents, first.AmountPaid)

	second, err := f.svc.Confirm(context.Background(), placed.Order.ID, "pay_1", sig)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, second.Status)
	assert.Equal(t, first.AmountPaid, second.AmountPaid, "no double credit")
	assert.Equal(t, 1, f.events.count("confirmed:"), "confirmed event emitted once")
	assert.Equal(t, 3, f.inv.get("P1", 9), "stock untouched by repeat confirmation")
}

func TestConfirmUnknownOrder(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Confirm(context.Background(), "no-such-order", "pay_1", "sig")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestPlaceOrderMergesDuplicateLines(t *testing.T) {
	f := newFixture()
	f.inv.set("P1", 9, 5)
	f.pricer.prices["P1"] = 50000

	// same (product, size) twice: one claim of 3, not two independent ones
	placed, err := f.svc.PlaceOrder(context.Background(), "u1", []orders.CartLine{
		{ProductID: "P1", Size: 9, Qty: 1},
		{ProductID: "P1", Size: 9, Qty: 2},
	}, testAddr, orders.PaymentOnline)
	require.NoError(t, err)

	assert.Equal(t, 2, f.inv.get("P1", 9))
	require.Len(t, placed.Order.Items, 1, "duplicate lines collapse to one item")
	assert.Equal(t, 3, placed.Order.Items[0].Qty)
	assert.Equal(t, 150000, placed.Order.TotalCents)

	stored := f.ledger.byID[placed.Order.ID]
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 3, stored.Items[0].Qty)
}

func TestPlaceOrderDuplicateLinesExceedingStock(t *testing.T) {
	f := newFixture()
	f.inv.set("P1", 9, 2)
	f.pricer.prices["P1"] = 50000

	_, err := f.svc.PlaceOrder(context.Background(), "u1", []orders.CartLine{
		{ProductID: "P1", Size: 9, Qty: 1},
		{ProductID: "P1", Size: 9, Qty: 2},
	}, testAddr, orders.PaymentOnline)

	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	require.Len(t, oos.Shortages, 1)
	assert.Equal(t, 3, oos.Shortages[0].Requested)
	assert.Equal(t, 2, oos.Shortages[0].Available)
	assert.Equal(t, 2, f.inv.get("P1", 9), "nothing reserved")
	assert.Empty(t, f.ledger.byID)
}

func TestAbortKeepsStockHeldWhenCancelFails(t *testing.T) {
	f := newFixture()
	f.inv.set("P1", 9, 5)
	f.pricer.prices["P1"] = 50000
	f.gw.failCreate = true
	f.ledger.cancelFail = true

	_, err := f.svc.PlaceOrder(context.Background(), "u1",
		[]orders.CartLine{{ProductID: "P1", Size: 9, Qty: 2}}, testAddr, orders.PaymentOnline)
	require.ErrorIs(t, err, ErrPaymentInitFailed)

	// cancel never committed, so the order is still PENDING: stock stays
	// reserved for the sweeper and no cancelled event goes out
	for _, o := range f.ledger.byID {
		assert.Equal(t, orders.StatusPending, o.Status)
	}
	assert.Equal(t, 3, f.inv.get("P1", 9))
	assert.Equal(t, 0, f.events.count("cancelled:"))
	assert.Empty(t, f.inv.released)
}

func TestPlaceOrderUnknownProduct(t *testing.T) {
	f := newFixture()
	// size row exists but the product has no catalog price entry
	f.inv.set("P9", 7, 3)

	_, err := f.svc.PlaceOrder(context.Background(), "u1",
		[]orders.CartLine{{ProductID: "P9", Size: 7, Qty: 1}}, testAddr, orders.PaymentOnline)

	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, orders.ReasonUnknownSize, oos.Shortages[0].Reason)
	assert.Equal(t, 3, f.inv.get("P9", 7), "nothing reserved")
}
