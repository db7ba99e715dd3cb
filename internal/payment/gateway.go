package payment

import "context"

// GatewayOrder is the opaque reference the external gateway hands back.
// It is bound to the amount it was created for; confirmations are only
// trusted against this reference.
type GatewayOrder struct {
	ID          string `json:"id"`
	AmountCents int    `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// Gateway is the reconciliation contract checkout holds the payment
// provider to. VerifySignature is cryptographic, never a client-asserted
// success flag.
type Gateway interface {
	CreateOrder(ctx context.Context, amountCents int, currency, receipt string) (GatewayOrder, error)
	VerifySignature(gatewayOrderID, paymentID, signature string) bool
}
