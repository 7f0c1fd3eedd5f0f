package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/nazeru/storefront-checkout-go/internal/checkout"
	"github.com/nazeru/storefront-checkout-go/internal/config"
	"github.com/nazeru/storefront-checkout-go/internal/coupon"
	"github.com/nazeru/storefront-checkout-go/internal/httpapi"
	"github.com/nazeru/storefront-checkout-go/internal/order/store"
	"github.com/nazeru/storefront-checkout-go/internal/payment"
	"github.com/nazeru/storefront-checkout-go/internal/shipping"
	"github.com/nazeru/storefront-checkout-go/internal/stock"
	"github.com/nazeru/storefront-checkout-go/migrations"
	"github.com/nazeru/storefront-checkout-go/pkg/kafka"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
	"github.com/nazeru/storefront-checkout-go/pkg/outbox"
)

const service = "storefront-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(startCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(startCtx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	if err := migrations.Apply(startCtx, pool); err != nil {
		log.Fatalf("migrate error: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checkoutMetrics := metrics.NewCheckoutMetrics(reg)

	var tokens shipping.TokenCache = shipping.NewMemoryTokenCache()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		tokens = shipping.NewRedisTokenCache(rdb)
	}

	ledger := stock.NewPGLedger(pool)
	orders := store.NewPGOrders(pool)
	events := outbox.NewPGPublisher(pool, cfg.KafkaTopic)

	svc := checkout.NewService(checkout.Deps{
		Ledger:    ledger,
		Coupons:   coupon.NewEngine(coupon.NewPGStore(pool)),
		Orders:    orders,
		Customers: store.NewPGCustomers(pool),
		Gateway:   payment.NewClient(cfg.Payment, nil),
		Shipper:   shipping.NewClient(cfg.Shipping, tokens, nil),
		Events:    events,
		Metrics:   checkoutMetrics,

		ReplayWindow: cfg.ReplayWindow,
	})

	go checkout.NewReaper(ledger, orders, checkoutMetrics, cfg.ReservationTTL, cfg.ReaperInterval).Run(ctx)

	kc := kafka.NewClient(cfg.KafkaBrokers)
	if kc.Enabled() {
		writer := kc.NewWriter(cfg.KafkaTopic)
		defer writer.Close()
		relay := outbox.NewRelay(pool, writer, cfg.OutboxInterval)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Log(logging.Fields{Service: service, Step: "outbox_relay", Status: "stopped", Error: err.Error()})
			}
		}()
	} else {
		logging.Log(logging.Fields{Service: service, Step: "outbox_relay", Status: "disabled", Message: "KAFKA_BROKERS not set, events stay in outbox"})
	}

	mux := http.NewServeMux()
	httpapi.NewServer(svc, httpapi.Options{
		Metrics: metrics.NewServerMetrics(reg, "api"),
		Timeout: cfg.RequestTimeout,
		Health: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return pool.Ping(ctx)
		},
	}).Routes(mux)
	mux.Handle("GET /metrics", metrics.Handler(reg))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("%s listening on :%s (kafka=%v, redis=%v)", service, cfg.Port, kc.Enabled(), cfg.RedisAddr != "")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server error: %v", err)
	}
}
