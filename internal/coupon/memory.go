package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

type MemoryStore struct {
	mu      sync.Mutex
	coupons map[string]domain.Coupon
}

func NewMemoryStore(coupons ...domain.Coupon) *MemoryStore {
	s := &MemoryStore{coupons: make(map[string]domain.Coupon)}
	for _, c := range coupons {
		s.coupons[c.Code] = c
	}
	return s
}

func (s *MemoryStore) Put(c domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[c.Code] = c
}

func (s *MemoryStore) Get(_ context.Context, code string) (domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[code]
	if !ok {
		return domain.Coupon{}, &domain.CouponError{Code: code, Reason: domain.CouponNotFound}
	}
	return c, nil
}

func (s *MemoryStore) Consume(_ context.Context, code string, now time.Time) (domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[code]
	if !ok {
		return domain.Coupon{}, &domain.CouponError{Code: code, Reason: domain.CouponNotFound}
	}
	if c.Usable(now) != "" || c.Exhausted() {
		return domain.Coupon{}, classify(c, now)
	}
	c.UsedCount++
	s.coupons[code] = c
	return c, nil
}

func (s *MemoryStore) Restore(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[code]
	if !ok {
		return &domain.CouponError{Code: code, Reason: domain.CouponNotFound}
	}
	if c.UsedCount > 0 {
		c.UsedCount--
	}
	s.coupons[code] = c
	return nil
}
