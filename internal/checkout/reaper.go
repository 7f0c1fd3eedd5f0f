package checkout

import (
	"context"
	"time"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/internal/order/store"
	"github.com/nazeru/storefront-checkout-go/internal/stock"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
)

// Reaper settles reservations a crashed checkout left held. An attempt that
// produced an order is committed; one that did not is released.
type Reaper struct {
	ledger   stock.Ledger
	orders   store.Orders
	metrics  *metrics.CheckoutMetrics
	ttl      time.Duration
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewReaper(ledger stock.Ledger, orders store.Orders, m *metrics.CheckoutMetrics, ttl, interval time.Duration) *Reaper {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{ledger: ledger, orders: orders, metrics: m, ttl: ttl, interval: interval, batch: 100, now: time.Now}
}

type SweepResult struct {
	Released  int
	Committed int
}

func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	stale, err := r.ledger.Stale(ctx, r.now().Add(-r.ttl), r.batch)
	if err != nil {
		return res, err
	}
	settled := map[domain.AttemptID]bool{}
	for _, rv := range stale {
		if settled[rv.AttemptID] {
			continue
		}
		exists, err := r.orders.ExistsForAttempt(ctx, rv.AttemptID)
		if err != nil {
			return res, err
		}
		if exists {
			if err := r.ledger.Commit(ctx, rv.AttemptID); err != nil {
				return res, err
			}
			settled[rv.AttemptID] = true
			res.Committed++
			continue
		}
		if err := r.ledger.Release(ctx, rv.ID); err != nil {
			return res, err
		}
		res.Released++
		logging.Log(logging.Fields{Service: "reaper", AttemptID: string(rv.AttemptID), Step: "release_stale", Status: "released",
			Message: string(rv.ProductID)})
	}
	r.metrics.Reap("released", res.Released)
	r.metrics.Reap("committed", res.Committed)
	return res, nil
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				logging.Log(logging.Fields{Service: "reaper", Step: "sweep", Status: "error", Error: err.Error()})
			}
		}
	}
}
