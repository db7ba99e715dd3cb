package orders

import "time"

type PaymentMethod string

const (
	PaymentOnline PaymentMethod = "online"
	PaymentCOD    PaymentMethod = "cod"
)

type ShippingAddress struct {
	Name    string `json:"name"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	PinCode string `json:"pin_code"`
	Phone   string `json:"phone"`
}

// Item is a price-and-availability snapshot taken at purchase time.
// It is never re-derived from the current product row.
type Item struct {
	ProductID  string `json:"product_id"`
	Size       int    `json:"size"`
	Qty        int    `json:"qty"`
	PriceCents int    `json:"price_cents"`
}

type Order struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Items          []Item          `json:"items"`
	Address        ShippingAddress `json:"address"`
	Method         PaymentMethod   `json:"payment_method"`
	Status         Status          `json:"status"`
	TotalCents     int             `json:"total_cents"`
	ShippingCents  int             `json:"shipping_cents"`
	AmountPaid     int             `json:"amount_paid_cents"`
	AmountDue      int             `json:"amount_due_cents"`
	GatewayOrderID string          `json:"gateway_order_id,omitempty"`
	// Amount the gateway order was created for; what a successful
	// confirmation credits. Full total for online, deposit for COD.
	GatewayAmount    int       `json:"gateway_amount_cents,omitempty"`
	GatewayPaymentID string    `json:"gateway_payment_id,omitempty"`
	GatewaySignature string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Draft is everything the orchestrator decides before the order row
// exists. The ID is pre-assigned so the stock reservation committed just
// before Create can already be keyed by it.
type Draft struct {
	ID            string
	UserID        string
	Items         []Item
	Address       ShippingAddress
	Method        PaymentMethod
	TotalCents    int
	ShippingCents int
}
