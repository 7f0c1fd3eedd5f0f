// Package store persists orders and customer aggregates.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type Filter struct {
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	Limit         int
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}

// UpdateFunc mutates an order in place. Returning an error discards the
// mutation.
type UpdateFunc func(o *domain.Order) error

type Orders interface {
	// Create inserts a new order. A second order with the same idempotency
	// key fails with domain.ErrDuplicate.
	Create(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id domain.OrderID) (*domain.Order, error)
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	// ReleaseIdempotencyKey detaches key from order id so a new order may
	// claim it. It is a no-op when id no longer holds key.
	ReleaseIdempotencyKey(ctx context.Context, id domain.OrderID, key string) error
	ExistsForAttempt(ctx context.Context, attempt domain.AttemptID) (bool, error)
	List(ctx context.Context, f Filter) ([]*domain.Order, error)
	// Update applies fn under a per-order lock and persists the mutable
	// fields: status, payment status, payment intent, shipment, updated_at.
	Update(ctx context.Context, id domain.OrderID, fn UpdateFunc) (*domain.Order, error)
}

type Customers interface {
	// RecordOrder upserts the customer by email and adds one order worth
	// total to its stats in a single step.
	RecordOrder(ctx context.Context, c domain.CustomerSnapshot, total decimal.Decimal) error
	Get(ctx context.Context, email string) (domain.Customer, error)
}

func clone(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.PaymentIntent != nil {
		pi := *o.PaymentIntent
		c.PaymentIntent = &pi
	}
	if o.Shipment != nil {
		s := *o.Shipment
		c.Shipment = &s
	}
	return &c
}
