// Package payment creates gateway orders on a Razorpay-style API and verifies
// the HMAC signature the gateway attaches to payment callbacks.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Currency  string
	Timeout   time.Duration
}

// GatewayOrder is the gateway-side order a payer completes out of band.
// Amount is in minor units.
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
	KeyID    string `json:"key_id,omitempty"`
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpClient}
}

// ToMinorUnits converts a currency amount to the gateway's minor unit
// (x100, rounded half away from zero).
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type gatewayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateIntent creates a gateway order for amount. Transport failures and
// non-2xx answers wrap domain.ErrGateway; the caller decides whether to retry.
func (c *Client) CreateIntent(ctx context.Context, amount decimal.Decimal, receipt string) (GatewayOrder, error) {
	if !amount.IsPositive() {
		return GatewayOrder{}, fmt.Errorf("%w: amount must be > 0", domain.ErrValidation)
	}
	if strings.TrimSpace(receipt) == "" {
		return GatewayOrder{}, fmt.Errorf("%w: receipt is required", domain.ErrValidation)
	}
	body, err := json.Marshal(createOrderRequest{
		Amount:   ToMinorUnits(amount),
		Currency: c.cfg.Currency,
		Receipt:  receipt,
	})
	if err != nil {
		return GatewayOrder{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return GatewayOrder{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("%w: create order: %v", domain.ErrGateway, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("%w: read response: %v", domain.ErrGateway, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ge gatewayError
		_ = json.Unmarshal(data, &ge)
		return GatewayOrder{}, fmt.Errorf("%w: create order: status %d %s", domain.ErrGateway, resp.StatusCode, ge.Error.Description)
	}

	var out GatewayOrder
	if err := json.Unmarshal(data, &out); err != nil {
		return GatewayOrder{}, fmt.Errorf("%w: decode order: %v", domain.ErrGateway, err)
	}
	if out.ID == "" {
		return GatewayOrder{}, fmt.Errorf("%w: gateway returned no order id", domain.ErrGateway)
	}
	out.KeyID = c.cfg.KeyID
	return out, nil
}

// Verify checks a callback signature with the configured key secret.
func (c *Client) Verify(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return VerifySignature(gatewayOrderID, gatewayPaymentID, signature, c.cfg.KeySecret)
}

// Sign returns hex(HMAC-SHA256(secret, orderID + "|" + paymentID)).
func Sign(gatewayOrderID, gatewayPaymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the expected signature and compares it in
// constant time. Any mismatch or malformed input yields false. An empty
// secret never verifies.
func VerifySignature(gatewayOrderID, gatewayPaymentID, signature, secret string) bool {
	if secret == "" || signature == "" || gatewayOrderID == "" || gatewayPaymentID == "" {
		return false
	}
	expected := Sign(gatewayOrderID, gatewayPaymentID, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
