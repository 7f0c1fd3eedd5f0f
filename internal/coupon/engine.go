// Package coupon validates discount codes and consumes their usage.
package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

// Store persists coupons. Consume and Restore must be single conditional
// updates against the stored counter.
type Store interface {
	Get(ctx context.Context, code string) (domain.Coupon, error)
	// Consume increments used_count only while the coupon is active, inside
	// its window at now, and below its usage limit.
	Consume(ctx context.Context, code string, now time.Time) (domain.Coupon, error)
	// Restore decrements used_count, never below zero.
	Restore(ctx context.Context, code string) error
}

type Quote struct {
	Code     string          `json:"code"`
	Discount decimal.Decimal `json:"discount_amount"`
	Coupon   domain.Coupon   `json:"-"`
}

type Engine struct {
	store Store
	now   func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Validate checks the code against orderAmount without consuming it.
// Codes match exactly, case included.
func (e *Engine) Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (Quote, error) {
	if strings.TrimSpace(code) == "" {
		return Quote{}, fmt.Errorf("%w: coupon code is required", domain.ErrValidation)
	}
	c, err := e.store.Get(ctx, code)
	if err != nil {
		return Quote{}, err
	}
	if reason := c.Usable(e.now()); reason != "" {
		return Quote{}, &domain.CouponError{Code: code, Reason: reason}
	}
	if orderAmount.LessThan(c.MinimumOrderAmount) {
		return Quote{}, &domain.CouponError{Code: code, Reason: domain.CouponBelowMinimum}
	}
	discount := c.Discount(orderAmount)
	if c.Exhausted() {
		return Quote{}, &domain.CouponError{Code: code, Reason: domain.CouponExhausted}
	}
	return Quote{Code: code, Discount: discount, Coupon: c}, nil
}

// Redeem validates and then consumes one use. The limit is checked again by
// the store at increment time, so a code validated by two racing checkouts
// still yields exactly one success for the last redemption.
func (e *Engine) Redeem(ctx context.Context, code string, orderAmount decimal.Decimal) (Quote, error) {
	q, err := e.Validate(ctx, code, orderAmount)
	if err != nil {
		return Quote{}, err
	}
	c, err := e.store.Consume(ctx, code, e.now())
	if err != nil {
		return Quote{}, err
	}
	q.Coupon = c
	return q, nil
}

func (e *Engine) Consume(ctx context.Context, code string) (domain.Coupon, error) {
	return e.store.Consume(ctx, code, e.now())
}

func (e *Engine) Restore(ctx context.Context, code string) error {
	return e.store.Restore(ctx, code)
}

// classify explains why a conditional consume matched no row.
func classify(c domain.Coupon, now time.Time) error {
	if reason := c.Usable(now); reason != "" {
		return &domain.CouponError{Code: c.Code, Reason: reason}
	}
	if c.Exhausted() {
		return &domain.CouponError{Code: c.Code, Reason: domain.CouponExhausted}
	}
	return fmt.Errorf("coupon %q: consume matched no row", c.Code)
}
