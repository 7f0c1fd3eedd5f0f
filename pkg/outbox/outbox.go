// Package outbox stores domain events next to the state change that caused
// them and relays them to Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
)

type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}

// DB is satisfied by *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Insert is a no-op for an event id already present.
func Insert(ctx context.Context, db DB, eventID, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `INSERT INTO outbox(event_id, topic, key, payload) VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`, eventID, topic, key, data)
	return err
}

func MarkSent(ctx context.Context, db DB, id int64) error {
	_, err := db.Exec(ctx, `UPDATE outbox SET sent_at=now() WHERE id=$1`, id)
	return err
}

// FetchPending locks up to limit unsent rows; concurrent relays skip rows
// another relay holds.
func FetchPending(ctx context.Context, db DB, limit int) ([]Record, error) {
	rows, err := db.Query(ctx, `SELECT id, event_id, topic, key, payload, created_at, sent_at
		FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PGPublisher writes events to the outbox table keyed by order id.
type PGPublisher struct {
	pool  *pgxpool.Pool
	topic string
}

func NewPGPublisher(pool *pgxpool.Pool, topic string) *PGPublisher {
	return &PGPublisher{pool: pool, topic: topic}
}

func (p *PGPublisher) Publish(ctx context.Context, evt contracts.Event) error {
	return Insert(ctx, p.pool, evt.EventID, p.topic, evt.OrderID, evt)
}

// MemoryPublisher collects events in memory. Set Err to make Publish fail.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []contracts.Event
	Err    error
}

func (p *MemoryPublisher) Publish(_ context.Context, evt contracts.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *MemoryPublisher) Events() []contracts.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]contracts.Event(nil), p.events...)
}

// Types lists the event types published so far, in order.
func (p *MemoryPublisher) Types() []string {
	var out []string
	for _, e := range p.Events() {
		out = append(out, e.Type)
	}
	return out
}
