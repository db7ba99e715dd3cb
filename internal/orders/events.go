package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced    = "OrderPlaced"
	EventOrderConfirmed = "OrderConfirmed"
	EventOrderCancelled = "OrderCancelled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type OrderPlacedPayload struct {
	OrderID    string        `json:"order_id"`
	UserID     string        `json:"user_id"`
	Items      []Item        `json:"items"`
	Method     PaymentMethod `json:"payment_method"`
	TotalCents int           `json:"total_cents"`
}

type OrderConfirmedPayload struct {
	OrderID         string `json:"order_id"`
	AmountPaidCents int    `json:"amount_paid_cents"`
	AmountDueCents  int    `json:"amount_due_cents"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"` // e.g. PAYMENT_VERIFICATION_FAILED
}
