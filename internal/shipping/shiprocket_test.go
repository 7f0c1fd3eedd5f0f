package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

type fakeCarrier struct {
	logins    atomic.Int32
	rejectAll bool
	invoices  atomic.Int32
}

func (f *fakeCarrier) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/external/auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.logins.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if f.rejectAll || body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	mux.HandleFunc("/v1/external/courier/serviceability/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "110001", r.URL.Query().Get("pickup_postcode"))
		assert.Equal(t, "560001", r.URL.Query().Get("delivery_postcode"))
		assert.Equal(t, "1", r.URL.Query().Get("cod"))
		_, _ = w.Write([]byte(`{"status":200,"data":{"recommended_courier_company_id":7,"available_courier_companies":[
			{"courier_company_id":3,"courier_name":"Slow","rate":80,"estimated_delivery_days":"6","rating":3.1,"cod":1},
			{"courier_company_id":5,"courier_name":"Rated","rate":140.5,"estimated_delivery_days":"3","rating":4.6,"cod":1},
			{"courier_company_id":7,"courier_name":"Picked","rate":120,"estimated_delivery_days":"4","rating":4.0,"cod":1},
			{"courier_company_id":9,"courier_name":"Cheap","rate":60,"estimated_delivery_days":"5","rating":3.1,"cod":0}
		]}}`))
	})
	mux.HandleFunc("/v1/external/orders/print/invoice", func(w http.ResponseWriter, r *http.Request) {
		f.invoices.Add(1)
		var body struct {
			IDs []int64 `json:"ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []int64{4242}, body.IDs)
		_, _ = w.Write([]byte(`{"is_invoice_created":true,"invoice_url":"https://carrier.example/inv/4242.pdf"}`))
	})
	mux.HandleFunc("/v1/external/courier/generate/label", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"label_created":1,"label_url":"https://carrier.example/label/99.pdf"}`))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeCarrier, password string) (*Client, func()) {
	srv := httptest.NewServer(f.handler(t))
	c := NewClient(Config{BaseURL: srv.URL, Email: "ops@example.com", Password: password, PickupPincode: "110001"}, NewMemoryTokenCache(), srv.Client())
	return c, srv.Close
}

func TestCheckServiceabilitySortsByRecommendation(t *testing.T) {
	f := &fakeCarrier{}
	c, done := newTestClient(t, f, "secret")
	defer done()

	quotes, err := c.CheckServiceability(context.Background(), Query{
		DeliveryPincode: "560001",
		Weight:          decimal.RequireFromString("0.5"),
		COD:             true,
		DeclaredValue:   decimal.NewFromInt(450),
	})
	require.NoError(t, err)
	require.Len(t, quotes, 4)

	names := []string{quotes[0].Name, quotes[1].Name, quotes[2].Name, quotes[3].Name}
	assert.Equal(t, []string{"Picked", "Rated", "Cheap", "Slow"}, names)
	assert.True(t, quotes[0].Recommended)
	assert.Equal(t, 4, quotes[0].ETADays)
	assert.True(t, quotes[1].Rate.Equal(decimal.RequireFromString("140.5")))

	// token is reused
	_, err = c.CheckServiceability(context.Background(), Query{DeliveryPincode: "560001", Weight: decimal.NewFromInt(1), COD: true})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.logins.Load())
}

func TestAuthenticationFailureAborts(t *testing.T) {
	f := &fakeCarrier{}
	c, done := newTestClient(t, f, "wrong")
	defer done()

	_, err := c.CheckServiceability(context.Background(), Query{DeliveryPincode: "560001", Weight: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)

	order := &domain.Order{Shipment: &domain.Shipment{CarrierOrderID: "4242"}}
	_, err = c.GenerateInvoice(context.Background(), order)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.Equal(t, int32(0), f.invoices.Load(), "no carrier call after failed login")
}

func TestGenerateInvoiceAndLabel(t *testing.T) {
	f := &fakeCarrier{}
	c, done := newTestClient(t, f, "secret")
	defer done()
	ctx := context.Background()

	_, err := c.GenerateInvoice(ctx, &domain.Order{})
	assert.ErrorIs(t, err, domain.ErrNotShippable)
	assert.Equal(t, int32(0), f.logins.Load(), "precondition checked before login")

	order := &domain.Order{Shipment: &domain.Shipment{CarrierOrderID: "4242"}}
	doc, err := c.GenerateInvoice(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, "https://carrier.example/inv/4242.pdf", doc.URL)

	_, err = c.GenerateLabel(ctx, order)
	assert.ErrorIs(t, err, domain.ErrNotShippable, "label needs a shipment id")

	order.Shipment.ShipmentID = "99"
	doc, err = c.GenerateLabel(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, "https://carrier.example/label/99.pdf", doc.URL)
}

func TestServiceabilityValidation(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:0"}, nil, nil)
	_, err := c.CheckServiceability(context.Background(), Query{Weight: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = c.CheckServiceability(context.Background(), Query{DeliveryPincode: "560001"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestMemoryTokenCacheExpiry(t *testing.T) {
	c := NewMemoryTokenCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

// TestRedisTokenCache_Integration requires a running Redis on localhost.
func TestRedisTokenCache_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	c := NewRedisTokenCache(client)
	require.NoError(t, c.Set(ctx, "it@example.com", "tok", time.Minute))
	v, ok, err := c.Get(ctx, "it@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", v)

	require.NoError(t, c.Delete(ctx, "it@example.com"))
	_, ok, err = c.Get(ctx, "it@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}
