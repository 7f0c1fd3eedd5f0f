package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the inventory view of a catalog entry. InStock always mirrors
// StockQuantity > 0.
type Product struct {
	ID            ProductID       `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	InStock       bool            `json:"in_stock"`
	Featured      bool            `json:"featured"`
	Category      string          `json:"category"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type Coupon struct {
	Code                  string           `json:"code"`
	DiscountType          DiscountType     `json:"discount_type"`
	DiscountValue         decimal.Decimal  `json:"discount_value"`
	MinimumOrderAmount    decimal.Decimal  `json:"minimum_order_amount"`
	MaximumDiscountAmount *decimal.Decimal `json:"maximum_discount_amount,omitempty"`
	UsageLimit            *int             `json:"usage_limit,omitempty"`
	UsedCount             int              `json:"used_count"`
	IsActive              bool             `json:"is_active"`
	ValidFrom             time.Time        `json:"valid_from"`
	ValidUntil            time.Time        `json:"valid_until"`
}

// Usable reports whether the coupon is active and inside its validity window
// at now. An empty reason means usable. Usage limits are checked separately.
func (c Coupon) Usable(now time.Time) CouponReason {
	if !c.IsActive {
		return CouponInactive
	}
	if now.Before(c.ValidFrom) || !now.Before(c.ValidUntil) {
		return CouponExpired
	}
	return ""
}

func (c Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit
}

// Discount computes the discount for orderAmount. Percentage discounts are
// rounded to two places and capped by MaximumDiscountAmount.
func (c Coupon) Discount(orderAmount decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.DiscountType {
	case DiscountFixed:
		d = c.DiscountValue
	default:
		d = orderAmount.Mul(c.DiscountValue).Div(decimal.NewFromInt(100)).Round(2)
		if c.MaximumDiscountAmount != nil && d.GreaterThan(*c.MaximumDiscountAmount) {
			d = *c.MaximumDiscountAmount
		}
	}
	if d.GreaterThan(orderAmount) {
		d = orderAmount
	}
	return d
}

type Customer struct {
	Email       string          `json:"email"`
	Name        string          `json:"name"`
	Phone       string          `json:"phone"`
	TotalOrders int             `json:"total_orders"`
	TotalSpent  decimal.Decimal `json:"total_spent"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
