package checkout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-checkout-go/internal/coupon"
	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/internal/order/store"
	"github.com/nazeru/storefront-checkout-go/internal/payment"
	"github.com/nazeru/storefront-checkout-go/internal/shipping"
	"github.com/nazeru/storefront-checkout-go/internal/stock"
	"github.com/nazeru/storefront-checkout-go/pkg/outbox"
)

const testSecret = "rzp_test_secret"

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeGateway struct {
	mu       sync.Mutex
	calls    atomic.Int32
	receipts []string
	err      error
}

func (g *fakeGateway) CreateIntent(_ context.Context, amount decimal.Decimal, receipt string) (payment.GatewayOrder, error) {
	n := g.calls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return payment.GatewayOrder{}, g.err
	}
	g.receipts = append(g.receipts, receipt)
	return payment.GatewayOrder{
		ID:       fmt.Sprintf("order_gw_%d", n),
		Amount:   payment.ToMinorUnits(amount),
		Currency: "INR",
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (g *fakeGateway) Verify(orderID, paymentID, signature string) bool {
	return payment.VerifySignature(orderID, paymentID, signature, testSecret)
}

func (g *fakeGateway) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

type fakeShipper struct {
	invoices atomic.Int32
}

func (f *fakeShipper) CheckServiceability(context.Context, shipping.Query) ([]shipping.Quote, error) {
	return []shipping.Quote{{CarrierID: 1, Name: "Fast", Rate: dec("80"), ETADays: 2, Recommended: true}}, nil
}

func (f *fakeShipper) GenerateInvoice(_ context.Context, o *domain.Order) (shipping.Document, error) {
	if o.Shipment == nil || o.Shipment.CarrierOrderID == "" {
		return shipping.Document{}, domain.ErrNotShippable
	}
	f.invoices.Add(1)
	return shipping.Document{URL: "https://carrier.example/inv/" + o.Shipment.CarrierOrderID}, nil
}

func (f *fakeShipper) GenerateLabel(_ context.Context, o *domain.Order) (shipping.Document, error) {
	if o.Shipment == nil || o.Shipment.ShipmentID == "" {
		return shipping.Document{}, domain.ErrNotShippable
	}
	return shipping.Document{URL: "https://carrier.example/label/" + o.Shipment.ShipmentID}, nil
}

type harness struct {
	svc       *Service
	ledger    *stock.MemoryLedger
	coupons   *coupon.MemoryStore
	orders    *store.MemoryOrders
	customers *store.MemoryCustomers
	gateway   *fakeGateway
	shipper   *fakeShipper
	events    *outbox.MemoryPublisher
}

func productA(stockQty int) domain.Product {
	return domain.Product{ID: "p-a", Name: "Product A", Price: dec("250"), StockQuantity: stockQty, Category: "mugs"}
}

func save10() domain.Coupon {
	return domain.Coupon{
		Code:               "SAVE10",
		DiscountType:       domain.DiscountPercentage,
		DiscountValue:      dec("10"),
		MinimumOrderAmount: dec("100"),
		IsActive:           true,
		ValidFrom:          now.Add(-24 * time.Hour),
		ValidUntil:         now.Add(24 * time.Hour),
	}
}

func newHarness(t *testing.T, products ...domain.Product) *harness {
	t.Helper()
	h := &harness{
		ledger:    stock.NewMemoryLedger(products...),
		coupons:   coupon.NewMemoryStore(save10()),
		orders:    store.NewMemoryOrders(),
		customers: store.NewMemoryCustomers(),
		gateway:   &fakeGateway{},
		shipper:   &fakeShipper{},
		events:    &outbox.MemoryPublisher{},
	}
	clock := func() time.Time { return now }
	h.ledger.SetClock(clock)
	h.svc = NewService(Deps{
		Ledger:    h.ledger,
		Coupons:   coupon.NewEngine(h.coupons).WithClock(clock),
		Orders:    h.orders,
		Customers: h.customers,
		Gateway:   h.gateway,
		Shipper:   h.shipper,
		Events:    h.events,
		Now:       clock,
	})
	return h
}

func buyer(email string) domain.CustomerSnapshot {
	return domain.CustomerSnapshot{Email: email, Name: "Buyer", Phone: "9876543210", Pincode: "560001"}
}

func cart(lines ...LineItem) CreateOrderInput {
	return CreateOrderInput{Items: lines, Customer: buyer("buyer@example.com"), PaymentMethod: domain.PaymentMethodRazorpay}
}

func (h *harness) stock(t *testing.T, id domain.ProductID) domain.Product {
	t.Helper()
	p, err := h.ledger.Product(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (h *harness) place(t *testing.T, in CreateOrderInput) *domain.Order {
	t.Helper()
	placed, err := h.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, placed.IntentErr)
	return placed.Order
}
