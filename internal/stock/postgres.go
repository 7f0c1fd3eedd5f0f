package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

type PGLedger struct {
	pool *pgxpool.Pool
}

func NewPGLedger(pool *pgxpool.Pool) *PGLedger {
	return &PGLedger{pool: pool}
}

const productColumns = `id, name, price, stock_quantity, in_stock, featured, category, updated_at`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	var id string
	err := row.Scan(&id, &p.Name, &p.Price, &p.StockQuantity, &p.InStock, &p.Featured, &p.Category, &p.UpdatedAt)
	p.ID = domain.ProductID(id)
	return p, err
}

func (l *PGLedger) Reserve(ctx context.Context, attempt domain.AttemptID, productID domain.ProductID, quantity int) (Reservation, error) {
	if quantity <= 0 {
		return Reservation{}, fmt.Errorf("%w: quantity must be > 0", domain.ErrValidation)
	}
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return Reservation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Check and decrement in one statement; SET expressions see the old row.
	p, err := scanProduct(tx.QueryRow(ctx,
		`UPDATE products
		    SET stock_quantity = stock_quantity - $2,
		        in_stock = (stock_quantity - $2) > 0,
		        updated_at = now()
		  WHERE id = $1 AND stock_quantity >= $2
		RETURNING `+productColumns,
		string(productID), quantity,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		var available int
		qerr := tx.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, string(productID)).Scan(&available)
		if errors.Is(qerr, pgx.ErrNoRows) {
			return Reservation{}, domain.ErrNotFound
		}
		if qerr != nil {
			return Reservation{}, qerr
		}
		return Reservation{}, &domain.StockError{ProductID: productID, Requested: quantity, Available: available}
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve %s: %w", productID, err)
	}

	r := Reservation{
		ID:          uuid.NewString(),
		AttemptID:   attempt,
		ProductID:   productID,
		Quantity:    quantity,
		Status:      ReservationHeld,
		NewQuantity: p.StockQuantity,
		Product:     p,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO stock_reservations(id, attempt_id, product_id, quantity, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		r.ID, string(attempt), string(productID), quantity, string(ReservationHeld),
	).Scan(&r.CreatedAt)
	if err != nil {
		return Reservation{}, fmt.Errorf("journal reservation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Reservation{}, err
	}
	return r, nil
}

func (l *PGLedger) Release(ctx context.Context, reservationID string) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var productID string
	var quantity int
	err = tx.QueryRow(ctx,
		`UPDATE stock_reservations SET status = $2, updated_at = now()
		  WHERE id = $1 AND status = $3
		RETURNING product_id, quantity`,
		reservationID, string(ReservationReleased), string(ReservationHeld),
	).Scan(&productID, &quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM stock_reservations WHERE id = $1)`, reservationID).Scan(&exists); qerr != nil {
			return qerr
		}
		if !exists {
			return domain.ErrNotFound
		}
		return nil
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE products
		    SET stock_quantity = GREATEST(stock_quantity + $2, 0),
		        in_stock = GREATEST(stock_quantity + $2, 0) > 0,
		        updated_at = now()
		  WHERE id = $1`,
		productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("release %s: %w", productID, err)
	}
	return tx.Commit(ctx)
}

func (l *PGLedger) Commit(ctx context.Context, attempt domain.AttemptID) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE stock_reservations SET status = $2, updated_at = now() WHERE attempt_id = $1 AND status = $3`,
		string(attempt), string(ReservationCommitted), string(ReservationHeld),
	)
	return err
}

func (l *PGLedger) Stale(ctx context.Context, cutoff time.Time, limit int) ([]Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, attempt_id, product_id, quantity, status, created_at
		   FROM stock_reservations
		  WHERE status = $1 AND created_at < $2
		  ORDER BY created_at
		  LIMIT $3`,
		string(ReservationHeld), cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		var attempt, productID, status string
		if err := rows.Scan(&r.ID, &attempt, &productID, &r.Quantity, &status, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.AttemptID = domain.AttemptID(attempt)
		r.ProductID = domain.ProductID(productID)
		r.Status = ReservationStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *PGLedger) Product(ctx context.Context, productID domain.ProductID) (domain.Product, error) {
	p, err := scanProduct(l.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, string(productID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, err
}
