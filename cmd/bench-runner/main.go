package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/storefront-checkout-go/internal/apiclient"
	"github.com/nazeru/storefront-checkout-go/internal/httpapi"
	"github.com/nazeru/storefront-checkout-go/internal/payment"
)

type benchResult struct {
	Timestamp          string         `json:"timestamp"`
	BaseURL            string         `json:"base_url"`
	Scenario           string         `json:"scenario"`
	ProductID          string         `json:"product_id"`
	Transactions       int            `json:"transactions"`
	Concurrency        int            `json:"concurrency"`
	SuccessfulRequests int            `json:"successful_requests"`
	ReplayedRequests   int            `json:"replayed_requests"`
	VerifiedPayments   int            `json:"verified_payments"`
	ErrorRequests      int            `json:"error_requests"`
	DurationSeconds    float64        `json:"duration_seconds"`
	AvgLatencyMs       float64        `json:"avg_latency_ms"`
	MinLatencyMs       float64        `json:"min_latency_ms"`
	MaxLatencyMs       float64        `json:"max_latency_ms"`
	P50LatencyMs       float64        `json:"p50_latency_ms"`
	P90LatencyMs       float64        `json:"p90_latency_ms"`
	P95LatencyMs       float64        `json:"p95_latency_ms"`
	P99LatencyMs       float64        `json:"p99_latency_ms"`
	ThroughputRPS      float64        `json:"throughput_rps"`
	StatusCounts       map[string]int `json:"status_counts"`
	ErrorClasses       map[string]int `json:"error_classes"`
	FirstError         string         `json:"first_error"`
	DistinctOrders     int            `json:"distinct_orders"`
}

type metrics struct {
	mu           sync.Mutex
	success      int
	replayed     int
	verified     int
	errors       int
	total        time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration
	latenciesMs  []float64
	statusCounts map[string]int
	errorClasses map[string]int
	firstError   string
	orders       map[string]struct{}
}

func newMetrics() *metrics {
	return &metrics{
		statusCounts: make(map[string]int),
		errorClasses: make(map[string]int),
		orders:       make(map[string]struct{}),
	}
}

func (m *metrics) record(latency time.Duration, out httpapi.CreateOrderResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.errors++
		m.statusCounts[strconv.Itoa(apiclient.StatusOf(err))]++
		m.errorClasses[classifyError(err)]++
		if m.firstError == "" {
			m.firstError = err.Error()
		}
		return
	}
	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
		m.replayed++
	}
	m.statusCounts[strconv.Itoa(status)]++
	m.orders[out.Order.ID] = struct{}{}
	m.success++
	m.total += latency
	if m.minLatency == 0 || latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	m.latenciesMs = append(m.latenciesMs, float64(latency.Milliseconds()))
}

func (m *metrics) recordVerified() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verified++
}

func main() {
	baseURL := flag.String("base-url", getenv("API_BASE_URL", "http://localhost:8080"), "storefront-api base URL")
	scenario := flag.String("scenario", "checkout", "scenario to run: checkout|contention|replay")
	productID := flag.String("product", getenv("PRODUCT_ID", "sku-1"), "product to order")
	method := flag.String("method", "razorpay", "payment method: razorpay|cod")
	coupon := flag.String("coupon", "", "optional coupon code")
	total := flag.Int("total", 1000, "total number of checkouts")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	secret := flag.String("key-secret", os.Getenv("RAZORPAY_KEY_SECRET"), "sign and verify each payment with this secret (razorpay only)")
	output := flag.String("output", "", "optional output path for JSON result")
	flag.Parse()

	if *total <= 0 {
		fmt.Fprintln(os.Stderr, "total must be > 0")
		os.Exit(1)
	}
	if *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "concurrency must be > 0")
		os.Exit(1)
	}
	keyFor, err := keyStrategy(*scenario)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	client := apiclient.New(*baseURL, &http.Client{Timeout: *timeout})
	tasks := make(chan int)
	var wg sync.WaitGroup
	m := newMetrics()

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range tasks {
				req := httpapi.CreateOrderRequest{
					Items: []httpapi.Item{{ProductID: *productID, Quantity: 1}},
					Customer: httpapi.Customer{
						Email:   fmt.Sprintf("bench+%d@example.com", n),
						Name:    "Bench Buyer",
						Pincode: "560001",
					},
					CouponCode:    *coupon,
					PaymentMethod: *method,
				}
				ctx, cancel := context.WithTimeout(context.Background(), *timeout)
				began := time.Now()
				out, err := client.CreateOrder(ctx, req, keyFor(n))
				m.record(time.Since(began), out, err)
				if err == nil && *secret != "" && out.Payment != nil && !out.Replayed {
					if verifyPayment(ctx, client, out, *secret) == nil {
						m.recordVerified()
					}
				}
				cancel()
			}
		}()
	}

	for i := 0; i < *total; i++ {
		tasks <- i
	}
	close(tasks)
	wg.Wait()

	duration := time.Since(start)
	avgLatency, minLatency, maxLatency := 0.0, 0.0, 0.0
	if m.success > 0 {
		avgLatency = float64(m.total.Milliseconds()) / float64(m.success)
		minLatency = float64(m.minLatency.Milliseconds())
		maxLatency = float64(m.maxLatency.Milliseconds())
	}
	p50, p90, p95, p99 := calcPercentiles(m.latenciesMs)

	result := benchResult{
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		BaseURL:            *baseURL,
		Scenario:           *scenario,
		ProductID:          *productID,
		Transactions:       *total,
		Concurrency:        *concurrency,
		SuccessfulRequests: m.success,
		ReplayedRequests:   m.replayed,
		VerifiedPayments:   m.verified,
		ErrorRequests:      m.errors,
		DurationSeconds:    duration.Seconds(),
		AvgLatencyMs:       avgLatency,
		MinLatencyMs:       minLatency,
		MaxLatencyMs:       maxLatency,
		P50LatencyMs:       p50,
		P90LatencyMs:       p90,
		P95LatencyMs:       p95,
		P99LatencyMs:       p99,
		ThroughputRPS:      float64(m.success) / duration.Seconds(),
		StatusCounts:       m.statusCounts,
		ErrorClasses:       m.errorClasses,
		FirstError:         m.firstError,
		DistinctOrders:     len(m.orders),
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}
	if *output != "" {
		if err := writeJSON(*output, result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write output: %v\n", err)
			os.Exit(1)
		}
	}
}

// keyStrategy picks the Idempotency-Key per checkout. replay sends every
// pair of checkouts with one key, so half of them should come back replayed.
func keyStrategy(scenario string) (func(n int) string, error) {
	switch scenario {
	case "checkout", "contention":
		return func(int) string { return uuid.NewString() }, nil
	case "replay":
		run := uuid.NewString()
		return func(n int) string { return fmt.Sprintf("%s-%d", run, n/2) }, nil
	}
	return nil, fmt.Errorf("unknown scenario %q", scenario)
}

// verifyPayment plays the payer: it signs a synthetic payment id the way the
// gateway would and submits it.
func verifyPayment(ctx context.Context, client *apiclient.Client, out httpapi.CreateOrderResponse, secret string) error {
	paymentID := "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
	_, err := client.VerifyPayment(ctx, out.Order.ID, httpapi.VerifyPaymentRequest{
		RazorpayOrderID:   out.Payment.GatewayOrderID,
		RazorpayPaymentID: paymentID,
		RazorpaySignature: payment.Sign(out.Payment.GatewayOrderID, paymentID, secret),
	})
	return err
}

func classifyError(err error) string {
	var ae *apiclient.APIError
	if errors.As(err, &ae) {
		if ae.Body.Code != "" {
			return ae.Body.Code
		}
		if ae.Status >= 500 {
			return "http_5xx"
		}
		return "http_4xx"
	}
	return "transport"
}

func writeJSON(path string, result benchResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func calcPercentiles(values []float64) (float64, float64, float64, float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sort.Float64s(values)
	return percentile(values, 0.50), percentile(values, 0.90), percentile(values, 0.95), percentile(values, 0.99)
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
