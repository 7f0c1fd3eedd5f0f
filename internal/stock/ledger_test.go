package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/internal/testutil"
)

func product(id string, qty int) domain.Product {
	return domain.Product{ID: domain.ProductID(id), Name: "Product " + id, Price: decimal.NewFromInt(250), StockQuantity: qty}
}

// ledgers yields the in-memory ledger and, when TEST_DATABASE_URL is set, the
// Postgres one, both seeded with the given products.
func ledgers(t *testing.T, products ...domain.Product) map[string]Ledger {
	t.Helper()
	out := map[string]Ledger{"memory": NewMemoryLedger(products...)}
	if pool, _ := testutil.TryPool(t); pool != nil {
		for _, p := range products {
			testutil.SeedProduct(t, pool, string(p.ID), p.Name, p.Price.String(), p.StockQuantity)
		}
		out["postgres"] = NewPGLedger(pool)
	}
	return out
}

func TestReserveDecrementsAndTracksInStock(t *testing.T) {
	for name, l := range ledgers(t, product("a", 2)) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r, err := l.Reserve(ctx, "att-1", "a", 2)
			require.NoError(t, err)
			assert.Equal(t, 0, r.NewQuantity)
			assert.Equal(t, ReservationHeld, r.Status)
			assert.True(t, r.Product.Price.Equal(decimal.NewFromInt(250)))

			p, err := l.Product(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, 0, p.StockQuantity)
			assert.False(t, p.InStock)

			require.NoError(t, l.Release(ctx, r.ID))
			p, err = l.Product(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, 2, p.StockQuantity)
			assert.True(t, p.InStock)

			// second release of the same reservation must not add stock again
			require.NoError(t, l.Release(ctx, r.ID))
			p, _ = l.Product(ctx, "a")
			assert.Equal(t, 2, p.StockQuantity)
		})
	}
}

func TestReserveInsufficientAndMissing(t *testing.T) {
	for name, l := range ledgers(t, product("a", 1)) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.Reserve(ctx, "att", "a", 3)
			var se *domain.StockError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, domain.ProductID("a"), se.ProductID)
			assert.Equal(t, 3, se.Requested)
			assert.Equal(t, 1, se.Available)
			assert.ErrorIs(t, err, domain.ErrInsufficientStock)

			_, err = l.Reserve(ctx, "att", "missing", 1)
			assert.ErrorIs(t, err, domain.ErrNotFound)

			_, err = l.Reserve(ctx, "att", "a", 0)
			assert.ErrorIs(t, err, domain.ErrValidation)

			p, err := l.Product(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, 1, p.StockQuantity)
		})
	}
}

func TestConcurrentReservationsOnLastUnit(t *testing.T) {
	for name, l := range ledgers(t, product("last", 1)) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const workers = 32
			var ok, short atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, err := l.Reserve(ctx, domain.AttemptID(fmt.Sprintf("att-%d", i)), "last", 1)
					switch {
					case err == nil:
						ok.Add(1)
					case errors.Is(err, domain.ErrInsufficientStock):
						short.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			assert.Equal(t, int32(1), ok.Load())
			assert.Equal(t, int32(workers-1), short.Load())
			p, err := l.Product(ctx, "last")
			require.NoError(t, err)
			assert.Equal(t, 0, p.StockQuantity)
			assert.False(t, p.InStock)
		})
	}
}

func TestStockNeverNegativeUnderMixedLoad(t *testing.T) {
	l := NewMemoryLedger(product("p", 10))
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := l.Reserve(ctx, domain.AttemptID(fmt.Sprintf("att-%d", i)), "p", 1+i%3)
			if err == nil && i%2 == 0 {
				_ = l.Release(ctx, r.ID)
			}
		}(i)
	}
	wg.Wait()
	p, err := l.Product(ctx, "p")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.StockQuantity, 0)
	assert.Equal(t, p.StockQuantity > 0, p.InStock)
}

func TestCommitAndStale(t *testing.T) {
	l := NewMemoryLedger(product("a", 5), product("b", 5))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return base })
	ctx := context.Background()

	r1, err := l.Reserve(ctx, "committed", "a", 1)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "leaked", "b", 2)
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, "committed"))

	stale, err := l.Stale(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, domain.AttemptID("leaked"), stale[0].AttemptID)

	// committed reservations are final
	require.NoError(t, l.Release(ctx, r1.ID))
	p, _ := l.Product(ctx, "a")
	assert.Equal(t, 4, p.StockQuantity)

	stale, err = l.Stale(ctx, base, 10)
	require.NoError(t, err)
	assert.Empty(t, stale, "cutoff is exclusive")
}
