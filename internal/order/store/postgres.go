package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

type PGOrders struct {
	pool *pgxpool.Pool
}

func NewPGOrders(pool *pgxpool.Pool) *PGOrders {
	return &PGOrders{pool: pool}
}

const orderColumns = `id, order_number, idempotency_key, attempt_id, items, customer, coupon_code,
	subtotal, discount_amount, total, status, payment_status, payment_method,
	payment_intent, shipment, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var id, attempt, status, paymentStatus, method string
	var idemKey *string
	var items, customer, intent, shipment []byte
	err := row.Scan(&id, &o.OrderNumber, &idemKey, &attempt, &items, &customer, &o.CouponCode,
		&o.Subtotal, &o.DiscountAmount, &o.Total, &status, &paymentStatus, &method,
		&intent, &shipment, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.ID = domain.OrderID(id)
	o.AttemptID = domain.AttemptID(attempt)
	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	o.PaymentMethod = domain.PaymentMethod(method)
	if idemKey != nil {
		o.IdempotencyKey = *idemKey
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	if len(intent) > 0 {
		o.PaymentIntent = &domain.PaymentIntent{}
		if err := json.Unmarshal(intent, o.PaymentIntent); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
	}
	if len(shipment) > 0 {
		o.Shipment = &domain.Shipment{}
		if err := json.Unmarshal(shipment, o.Shipment); err != nil {
			return nil, fmt.Errorf("decode shipment: %w", err)
		}
	}
	return &o, nil
}

// nullableJSON encodes v, mapping a nil pointer to SQL NULL.
func nullableJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (s *PGOrders) Create(ctx context.Context, o *domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return err
	}
	intent, err := nullableJSON(o.PaymentIntent)
	if err != nil {
		return err
	}
	shipment, err := nullableJSON(o.Shipment)
	if err != nil {
		return err
	}
	var idemKey *string
	if o.IdempotencyKey != "" {
		idemKey = &o.IdempotencyKey
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO orders(`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		string(o.ID), o.OrderNumber, idemKey, string(o.AttemptID), items, customer, o.CouponCode,
		o.Subtotal, o.DiscountAmount, o.Total, string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod),
		intent, shipment, o.CreatedAt, o.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", domain.ErrDuplicate, err)
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *PGOrders) getBy(ctx context.Context, column string, value any) (*domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order by %s: %w", column, err)
	}
	return o, nil
}

func (s *PGOrders) Get(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	return s.getBy(ctx, "id", string(id))
}

func (s *PGOrders) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return s.getBy(ctx, "order_number", number)
}

func (s *PGOrders) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return s.getBy(ctx, "idempotency_key", key)
}

func (s *PGOrders) ReleaseIdempotencyKey(ctx context.Context, id domain.OrderID, key string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE orders SET idempotency_key = NULL WHERE id = $1 AND idempotency_key = $2`,
		string(id), key)
	return err
}

func (s *PGOrders) ExistsForAttempt(ctx context.Context, attempt domain.AttemptID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE attempt_id = $1)`, string(attempt)).Scan(&exists)
	return exists, err
}

func (s *PGOrders) List(ctx context.Context, f Filter) ([]*domain.Order, error) {
	var where []string
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.PaymentStatus != "" {
		args = append(args, string(f.PaymentStatus))
		where = append(where, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.limit())
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PGOrders) Update(ctx context.Context, id domain.OrderID, fn UpdateFunc) (*domain.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	if err := fn(o); err != nil {
		return nil, err
	}

	intent, err := nullableJSON(o.PaymentIntent)
	if err != nil {
		return nil, err
	}
	shipment, err := nullableJSON(o.Shipment)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE orders
		    SET status = $2, payment_status = $3, payment_intent = $4, shipment = $5, updated_at = $6
		  WHERE id = $1`,
		string(o.ID), string(o.Status), string(o.PaymentStatus), intent, shipment, o.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

type PGCustomers struct {
	pool *pgxpool.Pool
}

func NewPGCustomers(pool *pgxpool.Pool) *PGCustomers {
	return &PGCustomers{pool: pool}
}

func (s *PGCustomers) RecordOrder(ctx context.Context, c domain.CustomerSnapshot, total decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO customers(email, name, phone, total_orders, total_spent)
		 VALUES ($1, $2, $3, 1, $4)
		 ON CONFLICT (email) DO UPDATE
		    SET name = EXCLUDED.name,
		        phone = CASE WHEN EXCLUDED.phone <> '' THEN EXCLUDED.phone ELSE customers.phone END,
		        total_orders = customers.total_orders + 1,
		        total_spent = customers.total_spent + EXCLUDED.total_spent,
		        updated_at = now()`,
		normalizeEmail(c.Email), c.Name, c.Phone, total,
	)
	if err != nil {
		return fmt.Errorf("record customer order: %w", err)
	}
	return nil
}

func (s *PGCustomers) Get(ctx context.Context, email string) (domain.Customer, error) {
	var c domain.Customer
	err := s.pool.QueryRow(ctx,
		`SELECT email, name, phone, total_orders, total_spent, updated_at FROM customers WHERE email = $1`,
		normalizeEmail(email),
	).Scan(&c.Email, &c.Name, &c.Phone, &c.TotalOrders, &c.TotalSpent, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Customer{}, domain.ErrNotFound
	}
	return c, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
