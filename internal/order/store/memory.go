package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
)

// MemoryOrders keeps orders in process memory. Callers always receive
// copies.
type MemoryOrders struct {
	mu       sync.Mutex
	byID     map[domain.OrderID]*domain.Order
	byKey    map[string]domain.OrderID
	byNumber map[string]domain.OrderID
	// failCreate, when set, is returned from Create.
	failCreate error
}

func NewMemoryOrders() *MemoryOrders {
	return &MemoryOrders{
		byID:     make(map[domain.OrderID]*domain.Order),
		byKey:    make(map[string]domain.OrderID),
		byNumber: make(map[string]domain.OrderID),
	}
}

// FailCreate makes every subsequent Create return err. Pass nil to reset.
func (m *MemoryOrders) FailCreate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCreate = err
}

func (m *MemoryOrders) Create(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	if _, ok := m.byID[o.ID]; ok {
		return domain.ErrDuplicate
	}
	if o.IdempotencyKey != "" {
		if _, ok := m.byKey[o.IdempotencyKey]; ok {
			return domain.ErrDuplicate
		}
	}
	if _, ok := m.byNumber[o.OrderNumber]; ok {
		return domain.ErrDuplicate
	}
	m.byID[o.ID] = clone(o)
	if o.IdempotencyKey != "" {
		m.byKey[o.IdempotencyKey] = o.ID
	}
	m.byNumber[o.OrderNumber] = o.ID
	return nil
}

func (m *MemoryOrders) Get(_ context.Context, id domain.OrderID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(o), nil
}

func (m *MemoryOrders) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	m.mu.Lock()
	id, ok := m.byNumber[number]
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.Get(ctx, id)
}

func (m *MemoryOrders) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	m.mu.Lock()
	id, ok := m.byKey[key]
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.Get(ctx, id)
}

func (m *MemoryOrders) ReleaseIdempotencyKey(_ context.Context, id domain.OrderID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byKey[key] != id {
		return nil
	}
	delete(m.byKey, key)
	if o, ok := m.byID[id]; ok {
		o.IdempotencyKey = ""
	}
	return nil
}

func (m *MemoryOrders) ExistsForAttempt(_ context.Context, attempt domain.AttemptID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.AttemptID == attempt {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryOrders) List(_ context.Context, f Filter) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Order, 0, len(m.byID))
	for _, o := range m.byID {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
			continue
		}
		out = append(out, clone(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if n := f.limit(); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemoryOrders) Update(_ context.Context, id domain.OrderID, fn UpdateFunc) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := clone(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	// Only the mutable fields survive, as in PGOrders.
	cur.Status = next.Status
	cur.PaymentStatus = next.PaymentStatus
	cur.PaymentIntent = next.PaymentIntent
	cur.Shipment = next.Shipment
	cur.UpdatedAt = next.UpdatedAt
	return clone(cur), nil
}

type MemoryCustomers struct {
	mu        sync.Mutex
	customers map[string]domain.Customer
}

func NewMemoryCustomers() *MemoryCustomers {
	return &MemoryCustomers{customers: make(map[string]domain.Customer)}
}

func (m *MemoryCustomers) RecordOrder(_ context.Context, c domain.CustomerSnapshot, total decimal.Decimal) error {
	email := normalizeEmail(c.Email)
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.customers[email]
	cur.Email = email
	cur.Name = c.Name
	if c.Phone != "" {
		cur.Phone = c.Phone
	}
	cur.TotalOrders++
	cur.TotalSpent = cur.TotalSpent.Add(total)
	cur.UpdatedAt = time.Now().UTC()
	m.customers[email] = cur
	return nil
}

func (m *MemoryCustomers) Get(_ context.Context, email string) (domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[normalizeEmail(email)]
	if !ok {
		return domain.Customer{}, domain.ErrNotFound
	}
	return c, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
