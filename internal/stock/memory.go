package stock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

// MemoryLedger is a Ledger over process memory. One mutex covers the check
// and the decrement, which gives the same guarantee as the conditional UPDATE
// in PGLedger.
type MemoryLedger struct {
	mu           sync.Mutex
	products     map[domain.ProductID]domain.Product
	reservations map[string]*Reservation
	now          func() time.Time
}

func NewMemoryLedger(products ...domain.Product) *MemoryLedger {
	l := &MemoryLedger{
		products:     make(map[domain.ProductID]domain.Product),
		reservations: make(map[string]*Reservation),
		now:          time.Now,
	}
	for _, p := range products {
		l.Put(p)
	}
	return l
}

// Put inserts or replaces a product, normalising InStock.
func (l *MemoryLedger) Put(p domain.Product) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.StockQuantity < 0 {
		p.StockQuantity = 0
	}
	p.InStock = p.StockQuantity > 0
	l.products[p.ID] = p
}

func (l *MemoryLedger) Reserve(_ context.Context, attempt domain.AttemptID, productID domain.ProductID, quantity int) (Reservation, error) {
	if quantity <= 0 {
		return Reservation{}, fmt.Errorf("%w: quantity must be > 0", domain.ErrValidation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.products[productID]
	if !ok {
		return Reservation{}, domain.ErrNotFound
	}
	if p.StockQuantity < quantity {
		return Reservation{}, &domain.StockError{ProductID: productID, Requested: quantity, Available: p.StockQuantity}
	}
	now := l.now().UTC()
	p.StockQuantity -= quantity
	p.InStock = p.StockQuantity > 0
	p.UpdatedAt = now
	l.products[productID] = p

	r := &Reservation{
		ID:          uuid.NewString(),
		AttemptID:   attempt,
		ProductID:   productID,
		Quantity:    quantity,
		Status:      ReservationHeld,
		NewQuantity: p.StockQuantity,
		Product:     p,
		CreatedAt:   now,
	}
	l.reservations[r.ID] = r
	return *r, nil
}

func (l *MemoryLedger) Release(_ context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status != ReservationHeld {
		return nil
	}
	r.Status = ReservationReleased
	if p, ok := l.products[r.ProductID]; ok {
		p.StockQuantity += r.Quantity
		if p.StockQuantity < 0 {
			p.StockQuantity = 0
		}
		p.InStock = p.StockQuantity > 0
		p.UpdatedAt = l.now().UTC()
		l.products[r.ProductID] = p
	}
	return nil
}

func (l *MemoryLedger) Commit(_ context.Context, attempt domain.AttemptID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.reservations {
		if r.AttemptID == attempt && r.Status == ReservationHeld {
			r.Status = ReservationCommitted
		}
	}
	return nil
}

func (l *MemoryLedger) Stale(_ context.Context, cutoff time.Time, limit int) ([]Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Reservation
	for _, r := range l.reservations {
		if r.Status == ReservationHeld && r.CreatedAt.Before(cutoff) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) Product(_ context.Context, productID domain.ProductID) (domain.Product, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

// Reservations returns a copy of every reservation of an attempt.
func (l *MemoryLedger) Reservations(attempt domain.AttemptID) []Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Reservation
	for _, r := range l.reservations {
		if r.AttemptID == attempt {
			out = append(out, *r)
		}
	}
	return out
}

// SetClock overrides the time source.
func (l *MemoryLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
