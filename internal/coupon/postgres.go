package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const couponColumns = `code, discount_type, discount_value, minimum_order_amount, maximum_discount_amount,
	usage_limit, used_count, is_active, valid_from, valid_until`

func scanCoupon(row pgx.Row) (domain.Coupon, error) {
	var c domain.Coupon
	var discountType string
	var maxDiscount decimal.NullDecimal
	var limit *int
	err := row.Scan(&c.Code, &discountType, &c.DiscountValue, &c.MinimumOrderAmount, &maxDiscount,
		&limit, &c.UsedCount, &c.IsActive, &c.ValidFrom, &c.ValidUntil)
	if err != nil {
		return domain.Coupon{}, err
	}
	c.DiscountType = domain.DiscountType(discountType)
	if maxDiscount.Valid {
		d := maxDiscount.Decimal
		c.MaximumDiscountAmount = &d
	}
	c.UsageLimit = limit
	return c, nil
}

func (s *PGStore) Get(ctx context.Context, code string) (domain.Coupon, error) {
	c, err := scanCoupon(s.pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Coupon{}, &domain.CouponError{Code: code, Reason: domain.CouponNotFound}
	}
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("get coupon: %w", err)
	}
	return c, nil
}

func (s *PGStore) Consume(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	c, err := scanCoupon(s.pool.QueryRow(ctx,
		`UPDATE coupons
		    SET used_count = used_count + 1, updated_at = now()
		  WHERE code = $1
		    AND is_active
		    AND valid_from <= $2 AND valid_until > $2
		    AND (usage_limit IS NULL OR used_count < usage_limit)
		RETURNING `+couponColumns,
		code, now,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		current, gerr := s.Get(ctx, code)
		if gerr != nil {
			return domain.Coupon{}, gerr
		}
		return domain.Coupon{}, classify(current, now)
	}
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("consume coupon: %w", err)
	}
	return c, nil
}

func (s *PGStore) Restore(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE coupons SET used_count = GREATEST(used_count - 1, 0), updated_at = now() WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("restore coupon: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.CouponError{Code: code, Reason: domain.CouponNotFound}
	}
	return nil
}

// Upsert writes an admin-defined coupon.
func (s *PGStore) Upsert(ctx context.Context, c domain.Coupon) error {
	var maxDiscount decimal.NullDecimal
	if c.MaximumDiscountAmount != nil {
		maxDiscount = decimal.NewNullDecimal(*c.MaximumDiscountAmount)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO coupons (`+couponColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			minimum_order_amount = EXCLUDED.minimum_order_amount,
			maximum_discount_amount = EXCLUDED.maximum_discount_amount,
			usage_limit = EXCLUDED.usage_limit,
			is_active = EXCLUDED.is_active,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			updated_at = now()`,
		c.Code, string(c.DiscountType), c.DiscountValue, c.MinimumOrderAmount, maxDiscount,
		c.UsageLimit, c.UsedCount, c.IsActive, c.ValidFrom, c.ValidUntil,
	)
	if err != nil {
		return fmt.Errorf("upsert coupon: %w", err)
	}
	return nil
}
