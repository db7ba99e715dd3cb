package checkout

import (
	"errors"
	"fmt"

	"github.com/stridekart/checkout/internal/orders"
)

var (
	// ErrPaymentInitFailed: the gateway rejected or never received the
	// order-create call. When it happens after the reservation committed,
	// PlaceOrder has already cancelled the order and released stock.
	ErrPaymentInitFailed = errors.New("payment gateway order creation failed")

	// ErrPaymentVerificationFailed: signature mismatch or gateway-reported
	// failure. The order is cancelled and its reservation released.
	ErrPaymentVerificationFailed = errors.New("payment verification failed")

	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// OutOfStockError carries every unsatisfiable line, so one response can
// report all shortages instead of forcing line-by-line retries.
type OutOfStockError struct {
	Shortages []orders.Shortage
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("out of stock: %d cart line(s) unsatisfiable", len(e.Shortages))
}
