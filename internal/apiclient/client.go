// Package apiclient is a typed client for the storefront HTTP API, used by
// the operator tools.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/httpapi"
	"github.com/nazeru/storefront-checkout-go/internal/shipping"
	"github.com/nazeru/storefront-checkout-go/pkg/idempotency"
)

type Client struct {
	base string
	http *http.Client
}

func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

// APIError is a non-2xx answer decoded from the error body.
type APIError struct {
	Status int
	Body   httpapi.ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d %s: %s", e.Status, e.Body.Code, e.Body.Error)
}

// StatusOf returns the HTTP status carried by err, or 0 for transport errors.
func StatusOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

func (c *Client) do(ctx context.Context, method, path string, header map[string]string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ae := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, &ae.Body) != nil {
			ae.Body.Error = strings.TrimSpace(string(data))
		}
		return resp.StatusCode, ae
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// CreateOrder places an order. An empty key lets the server derive one.
func (c *Client) CreateOrder(ctx context.Context, req httpapi.CreateOrderRequest, idemKey string) (httpapi.CreateOrderResponse, error) {
	var hdr map[string]string
	if idemKey != "" {
		hdr = map[string]string{idempotency.Header: idemKey}
	}
	var out httpapi.CreateOrderResponse
	_, err := c.do(ctx, http.MethodPost, "/orders", hdr, req, &out)
	return out, err
}

func (c *Client) GetOrder(ctx context.Context, id string) (httpapi.OrderResponse, error) {
	var out httpapi.OrderResponse
	_, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) VerifyPayment(ctx context.Context, id string, req httpapi.VerifyPaymentRequest) (httpapi.OrderResponse, error) {
	var out httpapi.OrderResponse
	_, err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(id)+"/payment/verify", nil, req, &out)
	return out, err
}

func (c *Client) FailPayment(ctx context.Context, id, reason string) (httpapi.OrderResponse, error) {
	var out httpapi.OrderResponse
	_, err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(id)+"/payment/fail", nil, httpapi.FailPaymentRequest{Reason: reason}, &out)
	return out, err
}

func (c *Client) RetryPayment(ctx context.Context, id string) (httpapi.GatewayOrderResponse, error) {
	var out httpapi.GatewayOrderResponse
	_, err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(id)+"/payment/retry", nil, nil, &out)
	return out, err
}

func (c *Client) Serviceability(ctx context.Context, pincode string, weight decimal.Decimal, cod bool) ([]shipping.Quote, error) {
	q := url.Values{}
	q.Set("pincode", pincode)
	q.Set("weight", weight.String())
	q.Set("cod", strconv.FormatBool(cod))
	var out struct {
		Quotes []shipping.Quote `json:"quotes"`
	}
	_, err := c.do(ctx, http.MethodGet, "/shipping/serviceability?"+q.Encode(), nil, nil, &out)
	return out.Quotes, err
}

func (c *Client) ValidateCoupon(ctx context.Context, code string, amount decimal.Decimal) (httpapi.CouponResponse, error) {
	var out httpapi.CouponResponse
	_, err := c.do(ctx, http.MethodPost, "/coupons/validate", nil, httpapi.CouponRequest{Code: code, OrderAmount: amount}, &out)
	return out, err
}
