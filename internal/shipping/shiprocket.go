// Package shipping talks to a Shiprocket-style carrier aggregator:
// serviceability quotes, invoices and labels for orders that already carry a
// carrier order id.
package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

type Config struct {
	BaseURL       string
	Email         string
	Password      string
	PickupPincode string
	// TokenTTL bounds how long a session token is reused.
	TokenTTL time.Duration
	Timeout  time.Duration
}

type Query struct {
	DeliveryPincode string
	Weight          decimal.Decimal
	COD             bool
	DeclaredValue   decimal.Decimal
}

type Quote struct {
	CarrierID   int             `json:"carrier_id"`
	Name        string          `json:"name"`
	Rate        decimal.Decimal `json:"rate"`
	ETADays     int             `json:"eta_days"`
	ETD         string          `json:"etd,omitempty"`
	Rating      float64         `json:"rating"`
	COD         bool            `json:"cod"`
	Recommended bool            `json:"recommended"`
}

type Document struct {
	URL string `json:"url"`
}

type Client struct {
	cfg    Config
	http   *http.Client
	tokens TokenCache
}

func NewClient(cfg Config, tokens TokenCache, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if tokens == nil {
		tokens = NewMemoryTokenCache()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpClient, tokens: tokens}
}

func (c *Client) tokenKey() string { return c.cfg.Email }

// token returns a cached session token or logs in. Any login failure is
// domain.ErrAuthenticationFailed.
func (c *Client) token(ctx context.Context) (string, error) {
	if tok, ok, err := c.tokens.Get(ctx, c.tokenKey()); err == nil && ok {
		return tok, nil
	}
	body, _ := json.Marshal(map[string]string{"email": c.cfg.Email, "password": c.cfg.Password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/external/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuthenticationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuthenticationFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: login status %d", domain.ErrAuthenticationFailed, resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Token == "" {
		return "", fmt.Errorf("%w: login returned no token", domain.ErrAuthenticationFailed)
	}
	// A cache write failure only costs a later re-login.
	_ = c.tokens.Set(ctx, c.tokenKey(), out.Token, c.cfg.TokenTTL)
	return out.Token, nil
}

// do sends an authorised request and decodes a 2xx JSON body into out.
// A 401 drops the cached token and reports ErrAuthenticationFailed.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrGateway, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		_ = c.tokens.Delete(ctx, c.tokenKey())
		return fmt.Errorf("%w: %s rejected the session token", domain.ErrAuthenticationFailed, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s: status %d", domain.ErrGateway, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrGateway, path, err)
	}
	return nil
}

type courierCompany struct {
	CourierCompanyID      int             `json:"courier_company_id"`
	CourierName           string          `json:"courier_name"`
	Rate                  decimal.Decimal `json:"rate"`
	EstimatedDeliveryDays string          `json:"estimated_delivery_days"`
	ETD                   string          `json:"etd"`
	Rating                float64         `json:"rating"`
	COD                   int             `json:"cod"`
}

type serviceabilityResponse struct {
	Status int `json:"status"`
	Data   struct {
		AvailableCourierCompanies   []courierCompany `json:"available_courier_companies"`
		RecommendedCourierCompanyID int              `json:"recommended_courier_company_id"`
	} `json:"data"`
}

// CheckServiceability lists carriers for the destination. The carrier's own
// recommended courier comes first, the rest follow by rating, then rate.
func (c *Client) CheckServiceability(ctx context.Context, q Query) ([]Quote, error) {
	if strings.TrimSpace(q.DeliveryPincode) == "" {
		return nil, fmt.Errorf("%w: delivery pincode is required", domain.ErrValidation)
	}
	if !q.Weight.IsPositive() {
		return nil, fmt.Errorf("%w: weight must be > 0", domain.ErrValidation)
	}
	cod := "0"
	if q.COD {
		cod = "1"
	}
	params := url.Values{}
	params.Set("pickup_postcode", c.cfg.PickupPincode)
	params.Set("delivery_postcode", q.DeliveryPincode)
	params.Set("weight", q.Weight.String())
	params.Set("cod", cod)
	params.Set("declared_value", q.DeclaredValue.String())

	var resp serviceabilityResponse
	if err := c.do(ctx, http.MethodGet, "/v1/external/courier/serviceability/", params, nil, &resp); err != nil {
		return nil, err
	}

	recommended := resp.Data.RecommendedCourierCompanyID
	quotes := make([]Quote, 0, len(resp.Data.AvailableCourierCompanies))
	for _, cc := range resp.Data.AvailableCourierCompanies {
		eta, _ := strconv.Atoi(strings.TrimSpace(cc.EstimatedDeliveryDays))
		quotes = append(quotes, Quote{
			CarrierID:   cc.CourierCompanyID,
			Name:        cc.CourierName,
			Rate:        cc.Rate,
			ETADays:     eta,
			ETD:         cc.ETD,
			Rating:      cc.Rating,
			COD:         cc.COD == 1,
			Recommended: cc.CourierCompanyID == recommended,
		})
	}
	sort.SliceStable(quotes, func(i, j int) bool {
		a, b := quotes[i], quotes[j]
		if a.Recommended != b.Recommended {
			return a.Recommended
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.Rate.LessThan(b.Rate)
	})
	return quotes, nil
}

// GenerateInvoice asks the carrier for the invoice of a created shipment.
// Orders without a carrier order id fail with domain.ErrNotShippable before
// any remote call.
func (c *Client) GenerateInvoice(ctx context.Context, order *domain.Order) (Document, error) {
	if order == nil || order.Shipment == nil || order.Shipment.CarrierOrderID == "" {
		return Document{}, domain.ErrNotShippable
	}
	id, err := strconv.ParseInt(order.Shipment.CarrierOrderID, 10, 64)
	if err != nil {
		return Document{}, fmt.Errorf("%w: carrier order id %q", domain.ErrNotShippable, order.Shipment.CarrierOrderID)
	}
	var resp struct {
		IsInvoiceCreated bool   `json:"is_invoice_created"`
		InvoiceURL       string `json:"invoice_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/external/orders/print/invoice", nil, map[string]any{"ids": []int64{id}}, &resp); err != nil {
		return Document{}, err
	}
	if !resp.IsInvoiceCreated || resp.InvoiceURL == "" {
		return Document{}, fmt.Errorf("%w: invoice not created", domain.ErrGateway)
	}
	return Document{URL: resp.InvoiceURL}, nil
}

// GenerateLabel asks the carrier for the shipping label. It needs both the
// carrier order id and the shipment id.
func (c *Client) GenerateLabel(ctx context.Context, order *domain.Order) (Document, error) {
	if order == nil || order.Shipment == nil || order.Shipment.CarrierOrderID == "" || order.Shipment.ShipmentID == "" {
		return Document{}, domain.ErrNotShippable
	}
	id, err := strconv.ParseInt(order.Shipment.ShipmentID, 10, 64)
	if err != nil {
		return Document{}, fmt.Errorf("%w: shipment id %q", domain.ErrNotShippable, order.Shipment.ShipmentID)
	}
	var resp struct {
		LabelCreated int    `json:"label_created"`
		LabelURL     string `json:"label_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/external/courier/generate/label", nil, map[string]any{"shipment_id": []int64{id}}, &resp); err != nil {
		return Document{}, err
	}
	if resp.LabelCreated != 1 || resp.LabelURL == "" {
		return Document{}, fmt.Errorf("%w: label not created", domain.ErrGateway)
	}
	return Document{URL: resp.LabelURL}, nil
}
