// Package stock holds per-product available quantity and the reservation
// journal that ties each decrement to a checkout attempt.
//
// Every reserve is a single conditional decrement against the stored
// quantity. A reservation row is written in the same step with status held;
// the checkout marks it committed once the order exists, compensation or the
// reaper marks it released and returns the units.
package stock

import (
	"context"
	"time"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

type Reservation struct {
	ID          string
	AttemptID   domain.AttemptID
	ProductID   domain.ProductID
	Quantity    int
	Status      ReservationStatus
	NewQuantity int
	// Product as it was at the moment of the decrement; the order snapshots
	// its name and price from here.
	Product   domain.Product
	CreatedAt time.Time
}

type Ledger interface {
	// Reserve decrements stock by quantity only if at least quantity is
	// available. Errors: *domain.StockError, domain.ErrNotFound.
	Reserve(ctx context.Context, attempt domain.AttemptID, productID domain.ProductID, quantity int) (Reservation, error)
	// Release returns a held reservation's units. Releasing an already
	// released or committed reservation is a no-op.
	Release(ctx context.Context, reservationID string) error
	// Commit marks every held reservation of the attempt as committed.
	Commit(ctx context.Context, attempt domain.AttemptID) error
	// Stale lists held reservations created before cutoff.
	Stale(ctx context.Context, cutoff time.Time, limit int) ([]Reservation, error)
	Product(ctx context.Context, productID domain.ProductID) (domain.Product, error)
}
