// Package testutil provides shared helpers for Postgres-backed tests.
package testutil

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/storefront-checkout-go/migrations"
)

// Pool connects to TEST_DATABASE_URL, applies the schema and truncates every
// table. The test is skipped when no database is available.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool, reason := TryPool(t)
	if pool == nil {
		t.Skip("Skipping Postgres integration test: " + reason)
	}
	return pool
}

// TryPool is Pool without the skip: it returns nil and the reason when
// TEST_DATABASE_URL is unset or unreachable.
func TryPool(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()

	url := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if url == "" {
		return nil, "TEST_DATABASE_URL not set"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err.Error()
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err.Error()
	}
	if err := migrations.Apply(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}
	_, err = pool.Exec(ctx, `TRUNCATE stock_reservations, products, coupons, customers, orders, outbox, inbox, notifications RESTART IDENTITY CASCADE`)
	if err != nil {
		pool.Close()
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool, ""
}

// SeedProduct inserts a product row with the given stock.
func SeedProduct(t *testing.T, pool *pgxpool.Pool, id, name, price string, stock int) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO products(id, name, price, stock_quantity, in_stock) VALUES ($1, $2, $3::numeric, $4, $4 > 0)`,
		id, name, price, stock,
	)
	if err != nil {
		t.Fatalf("seed product %s: %v", id, err)
	}
}
