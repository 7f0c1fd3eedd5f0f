package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrCouponInvalid        = errors.New("coupon invalid")
	ErrCouponExhausted      = errors.New("coupon usage limit reached")
	ErrInvalidSignature     = errors.New("invalid payment signature")
	ErrAlreadyPaid          = errors.New("order already paid")
	ErrWrongMethod          = errors.New("payment method does not use the gateway")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrNotShippable         = errors.New("order has no carrier order")
	ErrAuthenticationFailed = errors.New("shipping authentication failed")
	ErrGateway              = errors.New("gateway unavailable")
	ErrDuplicate            = errors.New("duplicate checkout")
)

// StockError names the product that could not be reserved.
type StockError struct {
	ProductID ProductID
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

type CouponReason string

const (
	CouponNotFound     CouponReason = "not_found"
	CouponInactive     CouponReason = "inactive"
	CouponExpired      CouponReason = "expired"
	CouponBelowMinimum CouponReason = "below_minimum"
	CouponExhausted    CouponReason = "exhausted"
)

type CouponError struct {
	Code   string
	Reason CouponReason
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Reason)
}

// Is lets callers match both ErrCouponInvalid and, for the exhausted reason,
// ErrCouponExhausted. A missing coupon also matches ErrNotFound.
func (e *CouponError) Is(target error) bool {
	switch target {
	case ErrCouponInvalid:
		return true
	case ErrCouponExhausted:
		return e.Reason == CouponExhausted
	case ErrNotFound:
		return e.Reason == CouponNotFound
	}
	return false
}

type TransitionError struct {
	Axis string
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Axis, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
