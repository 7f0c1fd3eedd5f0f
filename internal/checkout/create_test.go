package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/internal/order/store"
	"github.com/nazeru/storefront-checkout-go/internal/stock"
)

func TestCreateOrderWithCouponDrainsStock(t *testing.T) {
	h := newHarness(t, productA(2))
	in := cart(LineItem{ProductID: "p-a", Quantity: 2})
	in.CouponCode = "SAVE10"

	placed, err := h.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, placed.IntentErr)
	o := placed.Order

	assert.True(t, o.Subtotal.Equal(dec("500")))
	assert.True(t, o.DiscountAmount.Equal(dec("50")))
	assert.True(t, o.Total.Equal(dec("450")))
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.Equal(t, domain.PaymentStatusPending, o.PaymentStatus)
	assert.Equal(t, "SAVE10", o.CouponCode)
	assert.Regexp(t, `^ORD-20260510-[0-9A-F]{8}$`, o.OrderNumber)

	p := h.stock(t, "p-a")
	assert.Equal(t, 0, p.StockQuantity)
	assert.False(t, p.InStock)

	c, err := h.coupons.Get(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)

	require.NotNil(t, placed.Gateway)
	assert.Equal(t, int64(45000), placed.Gateway.Amount)
	assert.Equal(t, o.OrderNumber, placed.Gateway.Receipt)
	require.NotNil(t, o.PaymentIntent)
	assert.Equal(t, placed.Gateway.ID, o.PaymentIntent.GatewayOrderID)
	assert.Equal(t, domain.IntentCreated, o.PaymentIntent.Status)

	for _, r := range h.ledger.Reservations(o.AttemptID) {
		assert.Equal(t, stock.ReservationCommitted, r.Status)
	}

	cust, err := h.customers.Get(context.Background(), "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, cust.TotalOrders)
	assert.True(t, cust.TotalSpent.Equal(dec("450")))

	assert.Equal(t, []string{"order.created"}, h.events.Types())
}

func TestConcurrentCheckoutsForLastUnit(t *testing.T) {
	h := newHarness(t, productA(1))
	const buyers = 8

	var wg sync.WaitGroup
	results := make([]error, buyers)
	start := make(chan struct{})
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := cart(LineItem{ProductID: "p-a", Quantity: 1})
			in.Customer = buyer(fmt.Sprintf("buyer%d@example.com", i))
			<-start
			_, results[i] = h.svc.CreateOrder(context.Background(), in)
		}(i)
	}
	close(start)
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		var se *domain.StockError
		require.True(t, errors.As(err, &se), "unexpected error: %v", err)
		assert.Equal(t, domain.ProductID("p-a"), se.ProductID)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 0, h.stock(t, "p-a").StockQuantity)

	orders, err := h.svc.ListOrders(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestFailedLineReleasesEarlierReservations(t *testing.T) {
	b := domain.Product{ID: "p-b", Name: "Product B", Price: dec("100"), StockQuantity: 1}
	h := newHarness(t, productA(5), b)

	_, err := h.svc.CreateOrder(context.Background(), cart(
		LineItem{ProductID: "p-a", Quantity: 2},
		LineItem{ProductID: "p-b", Quantity: 3},
	))
	var se *domain.StockError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, domain.ProductID("p-b"), se.ProductID)
	assert.Equal(t, 3, se.Requested)
	assert.Equal(t, 1, se.Available)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 5, h.stock(t, "p-a").StockQuantity)
	assert.True(t, h.stock(t, "p-a").InStock)
	assert.Equal(t, 1, h.stock(t, "p-b").StockQuantity)
	assert.Empty(t, h.events.Types())
}

func TestUnknownProductIsNotFound(t *testing.T) {
	h := newHarness(t, productA(5))
	_, err := h.svc.CreateOrder(context.Background(), cart(
		LineItem{ProductID: "p-a", Quantity: 1},
		LineItem{ProductID: "ghost", Quantity: 1},
	))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 5, h.stock(t, "p-a").StockQuantity)
}

func TestCouponFailureReleasesStock(t *testing.T) {
	cheap := domain.Product{ID: "p-c", Name: "Sticker", Price: dec("30"), StockQuantity: 10}
	h := newHarness(t, cheap)
	in := cart(LineItem{ProductID: "p-c", Quantity: 2})
	in.CouponCode = "SAVE10"

	_, err := h.svc.CreateOrder(context.Background(), in)
	var ce *domain.CouponError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, domain.CouponBelowMinimum, ce.Reason)
	assert.Equal(t, 10, h.stock(t, "p-c").StockQuantity)

	in.CouponCode = "NOPE"
	in.Items[0].Quantity = 5
	_, err = h.svc.CreateOrder(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrCouponInvalid)
	assert.Equal(t, 10, h.stock(t, "p-c").StockQuantity)
}

func TestPersistFailureRollsBackStockAndCoupon(t *testing.T) {
	h := newHarness(t, productA(3))
	h.orders.FailCreate(errors.New("connection reset"))
	in := cart(LineItem{ProductID: "p-a", Quantity: 2})
	in.CouponCode = "SAVE10"

	_, err := h.svc.CreateOrder(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist order")

	assert.Equal(t, 3, h.stock(t, "p-a").StockQuantity)
	c, err := h.coupons.Get(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 0, c.UsedCount)
	_, err = h.customers.Get(context.Background(), "buyer@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int32(0), h.gateway.calls.Load())
}

func TestRepeatedCheckoutIsReplayed(t *testing.T) {
	h := newHarness(t, productA(10))
	in := cart(LineItem{ProductID: "p-a", Quantity: 1}, LineItem{ProductID: "p-a", Quantity: 1})

	first, err := h.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	require.Len(t, first.Order.Items, 1, "lines for one product are merged")
	assert.Equal(t, 2, first.Order.Items[0].Quantity)

	// Same customer and cart in another order: derived key matches.
	again := cart(LineItem{ProductID: "p-a", Quantity: 2})
	second, err := h.svc.CreateOrder(context.Background(), again)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	assert.Equal(t, 8, h.stock(t, "p-a").StockQuantity)
	cust, err := h.customers.Get(context.Background(), "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, cust.TotalOrders)
	assert.Equal(t, int32(1), h.gateway.calls.Load())

	// An explicit key distinguishes otherwise identical carts.
	keyed := cart(LineItem{ProductID: "p-a", Quantity: 2})
	keyed.IdempotencyKey = "attempt-2"
	third, err := h.svc.CreateOrder(context.Background(), keyed)
	require.NoError(t, err)
	assert.False(t, third.Replayed)
	assert.NotEqual(t, first.Order.ID, third.Order.ID)
}

func TestSameCartAfterClosedOrderIsNewOrder(t *testing.T) {
	cases := map[string][]domain.OrderStatus{
		"delivered": {domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered},
		"cancelled": {domain.OrderStatusCancelled},
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, productA(10))
			ctx := context.Background()
			first := h.place(t, cart(LineItem{ProductID: "p-a", Quantity: 2}))
			for _, to := range path {
				_, err := h.svc.TransitionStatus(ctx, first.ID, to)
				require.NoError(t, err)
			}

			again, err := h.svc.CreateOrder(ctx, cart(LineItem{ProductID: "p-a", Quantity: 2}))
			require.NoError(t, err)
			assert.False(t, again.Replayed)
			assert.NotEqual(t, first.ID, again.Order.ID)
			assert.Equal(t, first.IdempotencyKey, again.Order.IdempotencyKey)

			old, err := h.orders.Get(ctx, first.ID)
			require.NoError(t, err)
			assert.Empty(t, old.IdempotencyKey)
			assert.Equal(t, path[len(path)-1], old.Status)

			cust, err := h.customers.Get(ctx, "buyer@example.com")
			require.NoError(t, err)
			assert.Equal(t, 2, cust.TotalOrders)
			assert.Equal(t, int32(2), h.gateway.calls.Load())

			// The new order is open again, so a quick resubmit replays it.
			third, err := h.svc.CreateOrder(ctx, cart(LineItem{ProductID: "p-a", Quantity: 2}))
			require.NoError(t, err)
			assert.True(t, third.Replayed)
			assert.Equal(t, again.Order.ID, third.Order.ID)
		})
	}
}

func TestSameCartAfterReplayWindowIsNewOrder(t *testing.T) {
	h := newHarness(t, productA(10))
	ctx := context.Background()
	first := h.place(t, cart(LineItem{ProductID: "p-a", Quantity: 1}))

	h.svc.now = func() time.Time { return now.Add(DefaultReplayWindow - time.Second) }
	inside, err := h.svc.CreateOrder(ctx, cart(LineItem{ProductID: "p-a", Quantity: 1}))
	require.NoError(t, err)
	assert.True(t, inside.Replayed)

	h.svc.now = func() time.Time { return now.Add(DefaultReplayWindow) }
	after, err := h.svc.CreateOrder(ctx, cart(LineItem{ProductID: "p-a", Quantity: 1}))
	require.NoError(t, err)
	assert.False(t, after.Replayed)
	assert.NotEqual(t, first.ID, after.Order.ID)
	assert.Equal(t, 8, h.stock(t, "p-a").StockQuantity)

	// An explicit key is honoured no matter how old the order is.
	keyed := cart(LineItem{ProductID: "p-a", Quantity: 1})
	keyed.IdempotencyKey = "order-form-7"
	h.svc.now = func() time.Time { return now }
	kept := h.place(t, keyed)
	h.svc.now = func() time.Time { return now.Add(48 * time.Hour) }
	replay, err := h.svc.CreateOrder(ctx, keyed)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, kept.ID, replay.Order.ID)
}

func TestConcurrentDuplicateSubmitsCreateOneOrder(t *testing.T) {
	h := newHarness(t, productA(10))
	const submits = 6

	var wg sync.WaitGroup
	ids := make([]domain.OrderID, submits)
	start := make(chan struct{})
	for i := 0; i < submits; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := cart(LineItem{ProductID: "p-a", Quantity: 3})
			in.IdempotencyKey = "double-click"
			<-start
			placed, err := h.svc.CreateOrder(context.Background(), in)
			if assert.NoError(t, err) {
				ids[i] = placed.Order.ID
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 7, h.stock(t, "p-a").StockQuantity, "losers released their reservations")
	cust, err := h.customers.Get(context.Background(), "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, cust.TotalOrders)
}

func TestPriceEditDoesNotChangeTotal(t *testing.T) {
	h := newHarness(t, productA(5))
	o := h.place(t, cart(LineItem{ProductID: "p-a", Quantity: 2}))
	require.True(t, o.Total.Equal(dec("500")))

	edited := h.stock(t, "p-a")
	edited.Price = dec("999")
	h.ledger.Put(edited)

	got, err := h.svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(dec("500")))
	assert.True(t, got.Items[0].UnitPrice.Equal(dec("250")))

	_, err = h.svc.TransitionStatus(context.Background(), o.ID, domain.OrderStatusProcessing)
	require.NoError(t, err)
	got, err = h.svc.GetOrderByNumber(context.Background(), o.OrderNumber)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(dec("500")))
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t, productA(5))
	cases := map[string]CreateOrderInput{
		"empty cart":   {Customer: buyer("buyer@example.com")},
		"zero qty":     cart(LineItem{ProductID: "p-a", Quantity: 0}),
		"blank id":     cart(LineItem{ProductID: " ", Quantity: 1}),
		"no email":     {Items: []LineItem{{ProductID: "p-a", Quantity: 1}}, Customer: domain.CustomerSnapshot{Name: "X"}},
		"no name":      {Items: []LineItem{{ProductID: "p-a", Quantity: 1}}, Customer: domain.CustomerSnapshot{Email: "a@b.c"}},
		"wrong method": {Items: []LineItem{{ProductID: "p-a", Quantity: 1}}, Customer: buyer("a@b.c"), PaymentMethod: "cheque"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.CreateOrder(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Equal(t, 5, h.stock(t, "p-a").StockQuantity)
}

func TestCODSkipsGateway(t *testing.T) {
	h := newHarness(t, productA(5))
	in := cart(LineItem{ProductID: "p-a", Quantity: 1})
	in.PaymentMethod = domain.PaymentMethodCOD

	placed, err := h.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, placed.Gateway)
	assert.Nil(t, placed.Order.PaymentIntent)
	assert.Equal(t, int32(0), h.gateway.calls.Load())
}

func TestGatewayOutageStillPlacesOrder(t *testing.T) {
	h := newHarness(t, productA(5))
	h.gateway.fail(fmt.Errorf("%w: connection refused", domain.ErrGateway))

	placed, err := h.svc.CreateOrder(context.Background(), cart(LineItem{ProductID: "p-a", Quantity: 1}))
	require.NoError(t, err)
	assert.ErrorIs(t, placed.IntentErr, domain.ErrGateway)
	assert.Nil(t, placed.Order.PaymentIntent)
	assert.Equal(t, 4, h.stock(t, "p-a").StockQuantity, "the order stands; stock stays reserved")

	h.gateway.fail(nil)
	gw, err := h.svc.RetryPayment(context.Background(), placed.Order.ID)
	require.NoError(t, err)
	got, err := h.svc.GetOrder(context.Background(), placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, gw.ID, got.PaymentIntent.GatewayOrderID)
	assert.Equal(t, 1, got.PaymentIntent.Attempts)
}

func TestPublishFailureDoesNotFailCheckout(t *testing.T) {
	h := newHarness(t, productA(5))
	h.events.Err = errors.New("outbox unavailable")
	_, err := h.svc.CreateOrder(context.Background(), cart(LineItem{ProductID: "p-a", Quantity: 1}))
	require.NoError(t, err)
}

func TestFullyDiscountedOrderIsPaid(t *testing.T) {
	free := domain.Coupon{
		Code: "FREE", DiscountType: domain.DiscountFixed, DiscountValue: dec("1000"),
		IsActive: true, ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour),
	}
	h := newHarness(t, productA(5))
	h.coupons.Put(free)
	in := cart(LineItem{ProductID: "p-a", Quantity: 1})
	in.CouponCode = "FREE"

	o := h.place(t, in)
	assert.True(t, o.Total.IsZero())
	assert.True(t, o.DiscountAmount.Equal(dec("250")))
	assert.Equal(t, domain.PaymentStatusPaid, o.PaymentStatus)
	assert.Equal(t, int32(0), h.gateway.calls.Load())
}
