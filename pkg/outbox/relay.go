package outbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/storefront-checkout-go/pkg/kafka"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
)

// Relay moves unsent outbox rows to Kafka. Delivery is at least once: a crash
// between publish and commit resends the batch.
type Relay struct {
	pool     *pgxpool.Pool
	writer   kafka.MessageWriter
	interval time.Duration
	batch    int
}

func NewRelay(pool *pgxpool.Pool, writer kafka.MessageWriter, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Relay{pool: pool, writer: writer, interval: interval, batch: 100}
}

// Flush relays one batch and returns how many rows were sent. A broker error
// stops the batch: rows already published are still marked sent, and the
// error is returned with their count.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	if r.writer == nil {
		return 0, kafka.ErrDisabled
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := FetchPending(ctx, tx, r.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	var pubErr error
	for _, rec := range records {
		if err := kafka.PublishJSON(ctx, r.writer, rec.Key, rec.Payload); err != nil {
			pubErr = fmt.Errorf("publish event %s: %w", rec.EventID, err)
			break
		}
		if err := MarkSent(ctx, tx, rec.ID); err != nil {
			return 0, err
		}
		sent++
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return sent, pubErr
}

func (r *Relay) Run(ctx context.Context) error {
	if r.writer == nil {
		return kafka.ErrDisabled
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			n, err := r.Flush(ctx)
			if err != nil && ctx.Err() == nil {
				logging.Log(logging.Fields{Service: "outbox-relay", Step: "flush", Status: "error", Error: logging.Err(err), Message: strconv.Itoa(n) + " events sent before error"})
				continue
			}
			if n > 0 {
				logging.Log(logging.Fields{Service: "outbox-relay", Step: "flush", Status: "sent", DurationMS: logging.Since(start), Message: strconv.Itoa(n) + " events"})
			}
		}
	}
}
