// Package checkout sequences the stock ledger, coupon engine, order store and
// gateways into the storefront's use cases.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/coupon"
	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/internal/order/store"
	"github.com/nazeru/storefront-checkout-go/internal/payment"
	"github.com/nazeru/storefront-checkout-go/internal/shipping"
	"github.com/nazeru/storefront-checkout-go/internal/stock"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/idempotency"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
)

const logService = "checkout"

// DefaultReplayWindow bounds how long a repeated cart without an explicit
// idempotency key is treated as the same checkout.
const DefaultReplayWindow = 15 * time.Minute

type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, receipt string) (payment.GatewayOrder, error)
	Verify(gatewayOrderID, gatewayPaymentID, signature string) bool
}

type Shipper interface {
	CheckServiceability(ctx context.Context, q shipping.Query) ([]shipping.Quote, error)
	GenerateInvoice(ctx context.Context, order *domain.Order) (shipping.Document, error)
	GenerateLabel(ctx context.Context, order *domain.Order) (shipping.Document, error)
}

type Publisher interface {
	Publish(ctx context.Context, evt contracts.Event) error
}

type Deps struct {
	Ledger    stock.Ledger
	Coupons   *coupon.Engine
	Orders    store.Orders
	Customers store.Customers
	Gateway   PaymentGateway
	Shipper   Shipper
	Events    Publisher
	Metrics   *metrics.CheckoutMetrics
	Now       func() time.Time

	// ReplayWindow applies to derived keys only; zero means
	// DefaultReplayWindow.
	ReplayWindow time.Duration
}

type Service struct {
	ledger    stock.Ledger
	coupons   *coupon.Engine
	orders    store.Orders
	customers store.Customers
	gateway   PaymentGateway
	shipper   Shipper
	events    Publisher
	metrics   *metrics.CheckoutMetrics
	now       func() time.Time
	window    time.Duration
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.ReplayWindow <= 0 {
		d.ReplayWindow = DefaultReplayWindow
	}
	return &Service{
		ledger:    d.Ledger,
		coupons:   d.Coupons,
		orders:    d.Orders,
		customers: d.Customers,
		gateway:   d.Gateway,
		shipper:   d.Shipper,
		events:    d.Events,
		metrics:   d.Metrics,
		now:       d.Now,
		window:    d.ReplayWindow,
	}
}

type LineItem struct {
	ProductID domain.ProductID
	Quantity  int
}

type CreateOrderInput struct {
	Items          []LineItem
	Customer       domain.CustomerSnapshot
	CouponCode     string
	PaymentMethod  domain.PaymentMethod
	IdempotencyKey string
}

// Placed is the outcome of CreateOrder. Replayed marks an order returned for
// a repeated idempotency key. IntentErr is set when the order exists but the
// gateway order could not be created; RetryPayment recovers from it.
type Placed struct {
	Order     *domain.Order
	Gateway   *payment.GatewayOrder
	Replayed  bool
	IntentErr error
}

func (in CreateOrderInput) validate() error {
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: cart is empty", domain.ErrValidation)
	}
	for _, it := range in.Items {
		if strings.TrimSpace(string(it.ProductID)) == "" {
			return fmt.Errorf("%w: product id is required", domain.ErrValidation)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for %s must be > 0", domain.ErrValidation, it.ProductID)
		}
	}
	email := strings.TrimSpace(in.Customer.Email)
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: customer email is required", domain.ErrValidation)
	}
	if strings.TrimSpace(in.Customer.Name) == "" {
		return fmt.Errorf("%w: customer name is required", domain.ErrValidation)
	}
	if !in.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", domain.ErrValidation, in.PaymentMethod)
	}
	return nil
}

// mergeLines sums quantities per product, keeping first-seen order.
func mergeLines(items []LineItem) []LineItem {
	idx := make(map[domain.ProductID]int, len(items))
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		id := domain.ProductID(strings.TrimSpace(string(it.ProductID)))
		if i, ok := idx[id]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[id] = len(out)
		out = append(out, LineItem{ProductID: id, Quantity: it.Quantity})
	}
	return out
}

// checkoutKey returns the key guarding this checkout and whether the caller
// supplied it.
func checkoutKey(in CreateOrderInput, lines []LineItem) (string, bool) {
	if k := strings.TrimSpace(in.IdempotencyKey); k != "" {
		return k, true
	}
	il := make([]idempotency.Line, 0, len(lines))
	for _, l := range lines {
		il = append(il, idempotency.Line{ProductID: string(l.ProductID), Quantity: l.Quantity})
	}
	return idempotency.Derive(in.Customer.Email, il, in.CouponCode), false
}

// replayable reports whether an order found under a derived key is still the
// checkout being repeated. Once it is closed or older than the window, the
// same cart is a new purchase.
func (s *Service) replayable(o *domain.Order) bool {
	switch o.Status {
	case domain.OrderStatusDelivered, domain.OrderStatusCancelled:
		return false
	}
	switch o.PaymentStatus {
	case domain.PaymentStatusFailed, domain.PaymentStatusRefunded:
		return false
	}
	return s.now().Sub(o.CreatedAt) < s.window
}

// CreateOrder reserves every line, redeems the coupon and persists the order
// as pending/pending. Any failure before the order is durable undoes the
// reservations and the coupon use before the error is returned.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (Placed, error) {
	start := time.Now()
	if in.PaymentMethod == "" {
		in.PaymentMethod = domain.PaymentMethodRazorpay
	}
	if err := in.validate(); err != nil {
		s.metrics.Operation("create_order", "invalid")
		return Placed{}, err
	}
	in.Customer.Email = strings.TrimSpace(in.Customer.Email)
	in.CouponCode = strings.TrimSpace(in.CouponCode)
	lines := mergeLines(in.Items)
	key, explicit := checkoutKey(in, lines)

	if existing, err := s.orders.GetByIdempotencyKey(ctx, key); err == nil {
		if explicit || s.replayable(existing) {
			s.metrics.Operation("create_order", "replayed")
			return Placed{Order: existing, Replayed: true}, nil
		}
		if err := s.orders.ReleaseIdempotencyKey(ctx, existing.ID, key); err != nil {
			return Placed{}, fmt.Errorf("release idempotency key: %w", err)
		}
		logging.Log(logging.Fields{Service: logService, OrderID: string(existing.ID), Step: "release_key", Status: "ok", Message: string(existing.Status) + "/" + string(existing.PaymentStatus)})
	} else if !errors.Is(err, domain.ErrNotFound) {
		return Placed{}, fmt.Errorf("lookup idempotency key: %w", err)
	}

	attempt := domain.AttemptID(uuid.NewString())
	comp := &compensation{attempt: string(attempt)}
	fail := func(outcome string, err error) (Placed, error) {
		if rerr := comp.rollback(ctx); rerr != nil {
			err = errors.Join(err, rerr)
		}
		s.metrics.Operation("create_order", outcome)
		logging.Log(logging.Fields{Service: logService, AttemptID: string(attempt), Step: "create_order", Status: outcome, DurationMS: logging.Since(start), Error: err.Error()})
		return Placed{}, err
	}

	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		r, err := s.ledger.Reserve(ctx, attempt, line.ProductID, line.Quantity)
		if err != nil {
			s.metrics.Reservation(outcomeOf(err))
			return fail(outcomeOf(err), err)
		}
		s.metrics.Reservation("ok")
		reservationID := r.ID
		comp.push("release_stock:"+string(line.ProductID), func(ctx context.Context) error {
			return s.ledger.Release(ctx, reservationID)
		})
		items = append(items, domain.OrderItem{
			ProductID: line.ProductID,
			Name:      r.Product.Name,
			Quantity:  line.Quantity,
			UnitPrice: r.Product.Price,
		})
		logging.Log(logging.Fields{Service: logService, AttemptID: string(attempt), Step: "reserve_stock", Status: "ok", Message: fmt.Sprintf("%s x%d left=%d", line.ProductID, line.Quantity, r.NewQuantity)})
	}

	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Subtotal())
	}

	discount := decimal.Zero
	if in.CouponCode != "" {
		q, err := s.coupons.Redeem(ctx, in.CouponCode, subtotal)
		if err != nil {
			return fail(outcomeOf(err), err)
		}
		discount = q.Discount
		code := in.CouponCode
		comp.push("restore_coupon:"+code, func(ctx context.Context) error {
			return s.coupons.Restore(ctx, code)
		})
		logging.Log(logging.Fields{Service: logService, AttemptID: string(attempt), Step: "consume_coupon", Status: "ok", Message: code})
	}

	order := domain.NewOrder(attempt, items, in.Customer, discount, in.PaymentMethod, s.now())
	order.IdempotencyKey = key
	order.CouponCode = in.CouponCode

	if err := s.orders.Create(ctx, order); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// Lost the race on the idempotency key: undo ours, return theirs.
			if rerr := comp.rollback(ctx); rerr != nil {
				logging.Log(logging.Fields{Service: logService, AttemptID: string(attempt), Step: "persist_order", Status: "compensation_failed", Error: rerr.Error()})
			}
			if existing, qerr := s.orders.GetByIdempotencyKey(ctx, key); qerr == nil {
				s.metrics.Operation("create_order", "replayed")
				return Placed{Order: existing, Replayed: true}, nil
			}
			s.metrics.Operation("create_order", "duplicate")
			return Placed{}, err
		}
		return fail("persist_failed", fmt.Errorf("persist order: %w", err))
	}
	logging.Log(logging.Fields{Service: logService, AttemptID: string(attempt), OrderID: string(order.ID), Step: "persist_order", Status: "ok"})

	// The order is durable; from here on nothing is undone.
	if err := s.ledger.Commit(ctx, attempt); err != nil {
		logging.Log(logging.Fields{Service: logService, AttemptID: string(attempt), OrderID: string(order.ID), Step: "commit_reservations", Status: "failed", Error: err.Error()})
	}
	if err := s.customers.RecordOrder(ctx, order.Customer, order.Total); err != nil {
		logging.Log(logging.Fields{Service: logService, OrderID: string(order.ID), Step: "record_customer", Status: "failed", Error: err.Error()})
	}
	s.publish(ctx, contracts.EventOrderCreated, order, map[string]any{
		"total":          order.Total.StringFixed(2),
		"payment_method": string(order.PaymentMethod),
		"email":          order.Customer.Email,
	})

	placed := Placed{Order: order}
	if order.PaymentMethod == domain.PaymentMethodRazorpay {
		placed = s.openIntent(ctx, order)
	}
	s.metrics.Operation("create_order", "ok")
	logging.Log(logging.Fields{Service: logService, AttemptID: string(attempt), OrderID: string(order.ID), Step: "create_order", Status: "ok", DurationMS: logging.Since(start)})
	return placed, nil
}

// openIntent creates the first gateway order for a new razorpay order. An
// order whose total is zero needs no payment and is marked paid directly.
func (s *Service) openIntent(ctx context.Context, order *domain.Order) Placed {
	if !order.Total.IsPositive() {
		updated, err := s.orders.Update(ctx, order.ID, func(o *domain.Order) error {
			return o.TransitionPayment(domain.PaymentStatusPaid, s.now())
		})
		if err != nil {
			return Placed{Order: order, IntentErr: err}
		}
		return Placed{Order: updated}
	}

	gw, err := s.gateway.CreateIntent(ctx, order.Total, order.OrderNumber)
	if err != nil {
		logging.Log(logging.Fields{Service: logService, OrderID: string(order.ID), Step: "create_intent", Status: "failed", Error: err.Error()})
		return Placed{Order: order, IntentErr: err}
	}
	updated, err := s.orders.Update(ctx, order.ID, func(o *domain.Order) error {
		o.PaymentIntent = &domain.PaymentIntent{GatewayOrderID: gw.ID, Status: domain.IntentCreated, Attempts: 1}
		o.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return Placed{Order: order, IntentErr: fmt.Errorf("store intent: %w", err)}
	}
	return Placed{Order: updated, Gateway: &gw}
}

func (s *Service) publish(ctx context.Context, eventType string, o *domain.Order, payload map[string]any) {
	if s.events == nil {
		return
	}
	evt := contracts.NewEvent(eventType, string(o.ID), o.OrderNumber, payload)
	if err := s.events.Publish(ctx, evt); err != nil {
		logging.Log(logging.Fields{Service: logService, OrderID: string(o.ID), EventID: evt.EventID, Step: "publish_" + eventType, Status: "failed", Error: err.Error()})
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrCouponExhausted):
		return "coupon_exhausted"
	case errors.Is(err, domain.ErrCouponInvalid):
		return "coupon_invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrGateway), errors.Is(err, domain.ErrAuthenticationFailed):
		return "gateway_error"
	}
	return "error"
}

func (s *Service) GetOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	return s.orders.Get(ctx, id)
}

func (s *Service) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return s.orders.GetByNumber(ctx, number)
}

func (s *Service) ListOrders(ctx context.Context, f store.Filter) ([]*domain.Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, f.Status)
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", domain.ErrValidation, f.PaymentStatus)
	}
	return s.orders.List(ctx, f)
}

// ValidateCoupon quotes a code against an amount without consuming it.
func (s *Service) ValidateCoupon(ctx context.Context, code string, amount decimal.Decimal) (coupon.Quote, error) {
	return s.coupons.Validate(ctx, strings.TrimSpace(code), amount)
}
