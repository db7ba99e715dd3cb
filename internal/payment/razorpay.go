package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RazorpayClient talks to the Razorpay orders API. Amounts are already
// in minor units (paise), which is what the API expects.
type RazorpayClient struct {
	Key     string
	Secret  string
	BaseURL string
	HTTP    *http.Client
}

func NewRazorpayClient(key, secret, baseURL string) *RazorpayClient {
	return &RazorpayClient{
		Key:     key,
		Secret:  secret,
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type createOrderReq struct {
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type createOrderResp struct {
	ID       string `json:"id"`
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func (c *RazorpayClient) CreateOrder(ctx context.Context, amountCents int, currency, receipt string) (GatewayOrder, error) {
	body, err := json.Marshal(createOrderReq{Amount: amountCents, Currency: currency, Receipt: receipt})
	if err != nil {
		return GatewayOrder{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return GatewayOrder{}, err
	}
	req.SetBasicAuth(c.Key, c.Secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("gateway create order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GatewayOrder{}, fmt.Errorf("gateway create order: status %d", resp.StatusCode)
	}
	var out createOrderResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return GatewayOrder{}, fmt.Errorf("gateway create order: decode: %w", err)
	}
	return GatewayOrder{ID: out.ID, AmountCents: out.Amount, Currency: out.Currency}, nil
}

// VerifySignature checks the HMAC-SHA256 the gateway computes over
// "<gateway_order_id>|<payment_id>" with the API secret. Constant-time
// compare; a forged signature simply comes back false.
func (c *RazorpayClient) VerifySignature(gatewayOrderID, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(c.Secret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
