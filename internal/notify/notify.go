// Package notify turns checkout events into customer notifications. Each
// event is recorded at most once, keyed by its event id.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
)

const (
	ChannelEmail = "email"
	// ChannelLog is used when the event carries no recipient.
	ChannelLog = "log"
)

type Notification struct {
	EventID   string
	OrderID   string
	Type      string
	Channel   string
	Recipient string
	Payload   map[string]any
}

// FromEvent builds the notification for evt. Events without an id cannot be
// deduplicated and are rejected.
func FromEvent(evt contracts.Event) (Notification, error) {
	if evt.EventID == "" {
		return Notification{}, errors.New("event has no id")
	}
	n := Notification{
		EventID: evt.EventID,
		OrderID: evt.OrderID,
		Type:    evt.Type,
		Channel: ChannelLog,
		Payload: evt.Payload,
	}
	if email, _ := evt.Payload["email"].(string); email != "" {
		n.Channel = ChannelEmail
		n.Recipient = email
	}
	if n.Payload == nil {
		n.Payload = map[string]any{}
	}
	if evt.OrderNumber != "" {
		n.Payload["order_number"] = evt.OrderNumber
	}
	return n, nil
}

// Store persists notifications. Save reports false when the event was
// already recorded.
type Store interface {
	Save(ctx context.Context, n Notification) (bool, error)
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Save claims the event in the inbox and writes the notification in one
// transaction.
func (s *PGStore) Save(ctx context.Context, n Notification) (bool, error) {
	data, err := json.Marshal(n.Payload)
	if err != nil {
		return false, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `INSERT INTO inbox(event_id, received_at)
		VALUES ($1, now()) ON CONFLICT (event_id) DO NOTHING`, n.EventID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `INSERT INTO notifications(event_id, order_id, type, channel, recipient, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`, n.EventID, n.OrderID, n.Type, n.Channel, n.Recipient, data); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// Count returns the number of notifications stored for an order.
func (s *PGStore) Count(ctx context.Context, orderID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE order_id = $1`, orderID).Scan(&n)
	return n, err
}

type MemoryStore struct {
	mu    sync.Mutex
	saved map[string]Notification
	order []string
	// Err, when set, fails every Save.
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{saved: make(map[string]Notification)}
}

func (s *MemoryStore) Save(_ context.Context, n Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if _, ok := s.saved[n.EventID]; ok {
		return false, nil
	}
	s.saved[n.EventID] = n
	s.order = append(s.order, n.EventID)
	return true, nil
}

func (s *MemoryStore) All() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.saved[id])
	}
	return out
}
