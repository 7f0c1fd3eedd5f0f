package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/apiclient"
	"github.com/nazeru/storefront-checkout-go/internal/httpapi"
)

type scenario struct {
	Name        string
	Description string
}

type mode struct {
	Name string
}

type model struct {
	modes        []mode
	scenarios    []scenario
	selectedMode int
	selectedScn  int
	status       string
	metrics      string
	busy         bool
}

func initialModel() model {
	return model{
		modes: []mode{{"razorpay"}, {"cod"}},
		scenarios: []scenario{
			{"checkout", "Place one order"},
			{"coupon", "Place an order with SAVE10"},
			{"replay", "Submit the same checkout twice"},
			{"race", "Race buyers for the last units"},
			{"serviceability", "Quote couriers to a pincode"},
			{"bench", "Run checkout load"},
		},
		status: "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selectedMode > 0 {
				m.selectedMode--
			}
		case "down":
			if m.selectedMode < len(m.modes)-1 {
				m.selectedMode++
			}
		case "left":
			if m.selectedScn > 0 {
				m.selectedScn--
			}
		case "right":
			if m.selectedScn < len(m.scenarios)-1 {
				m.selectedScn++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			return m, runScenarioCmd(m.modes[m.selectedMode].Name, m.scenarios[m.selectedScn].Name)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		m.metrics = msg.metrics
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "storefront checkout CLI")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Payment method:")
	for i, mode := range m.modes {
		marker := " "
		if i == m.selectedMode {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s\n", marker, mode.Name)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios (use left/right):")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selectedScn {
			marker = "*"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.metrics != "" {
		fmt.Fprintf(b, "Metrics: %s\n", m.metrics)
	}
	fmt.Fprintln(b, "\nControls: up/down select method, left/right select scenario, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status  string
	metrics string
}

func orderRequest(method, coupon string, qty int) httpapi.CreateOrderRequest {
	return httpapi.CreateOrderRequest{
		Items: []httpapi.Item{{ProductID: getenv("PRODUCT_ID", "sku-1"), Quantity: qty}},
		Customer: httpapi.Customer{
			Email:   "cli+" + uuid.NewString()[:8] + "@example.com",
			Name:    "CLI Buyer",
			Phone:   "9876543210",
			Pincode: getenv("PINCODE", "560001"),
		},
		CouponCode:    coupon,
		PaymentMethod: method,
	}
}

func runScenarioCmd(method, scn string) tea.Cmd {
	return func() tea.Msg {
		client := apiclient.New(getenv("API_BASE_URL", "http://localhost:8080"), &http.Client{Timeout: 10 * time.Second})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		switch scn {
		case "bench":
			return scenarioResult{status: "Benchmark finished", metrics: runBenchmark(client, method)}
		case "race":
			return runRace(ctx, client, method)
		case "serviceability":
			quotes, err := client.Serviceability(ctx, getenv("PINCODE", "560001"), decimal.RequireFromString("0.5"), method == "cod")
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Serviceability failed: %v", err)}
			}
			if len(quotes) == 0 {
				return scenarioResult{status: "No courier serves this pincode"}
			}
			q := quotes[0]
			return scenarioResult{status: fmt.Sprintf("%d couriers, best %s at %s (%d days)", len(quotes), q.Name, q.Rate.StringFixed(2), q.ETADays)}
		case "replay":
			req := orderRequest(method, "", 1)
			key := uuid.NewString()
			first, err := client.CreateOrder(ctx, req, key)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Checkout failed: %v", err)}
			}
			second, err := client.CreateOrder(ctx, req, key)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Replay failed: %v", err)}
			}
			return scenarioResult{status: fmt.Sprintf("first=%s second=%s replayed=%v", first.Order.OrderNumber, second.Order.OrderNumber, second.Replayed)}
		default:
			coupon := ""
			if scn == "coupon" {
				coupon = "SAVE10"
			}
			out, err := client.CreateOrder(ctx, orderRequest(method, coupon, 1), "")
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Checkout failed: %v", err)}
			}
			status := fmt.Sprintf("Order %s total=%s discount=%s payment=%s", out.Order.OrderNumber, out.Order.Total, out.Order.DiscountAmount, out.Order.PaymentStatus)
			if out.Payment != nil {
				status += fmt.Sprintf(" gateway_order=%s amount=%d", out.Payment.GatewayOrderID, out.Payment.Amount)
			}
			if out.PaymentError != "" {
				status += " payment_error=" + out.PaymentError
			}
			return scenarioResult{status: status}
		}
	}
}

// runRace fires buyers at once. With stock N exactly N of them succeed.
func runRace(ctx context.Context, client *apiclient.Client, method string) scenarioResult {
	const buyers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	counts := map[int]int{}
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.CreateOrder(ctx, orderRequest(method, "", 1), "")
			status := http.StatusCreated
			if err != nil {
				status = apiclient.StatusOf(err)
			}
			mu.Lock()
			counts[status]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return scenarioResult{
		status:  "Race finished",
		metrics: fmt.Sprintf("placed=%d out_of_stock=%d other=%d", counts[http.StatusCreated], counts[http.StatusConflict], buyers-counts[http.StatusCreated]-counts[http.StatusConflict]),
	}
}

func runBenchmark(client *apiclient.Client, method string) string {
	duration := 5 * time.Second
	vus := 5
	var mu sync.Mutex
	var total time.Duration
	var count, conflicts, failures int
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < vus; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				start := time.Now()
				_, err := client.CreateOrder(ctx, orderRequest(method, "", 1), "")
				mu.Lock()
				switch {
				case err == nil:
					count++
					total += time.Since(start)
				case apiclient.StatusOf(err) == http.StatusConflict:
					conflicts++
				case !errors.Is(err, context.DeadlineExceeded):
					failures++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	avg := time.Duration(0)
	if count > 0 {
		avg = total / time.Duration(count)
	}
	return fmt.Sprintf("placed=%d conflicts=%d errors=%d avg=%s throughput=%.2f orders/s",
		count, conflicts, failures, avg, float64(count)/duration.Seconds())
}

func main() {
	runCmd := flag.String("run", "", "run scenario: checkout|coupon|replay|race|serviceability|bench")
	method := flag.String("method", "razorpay", "payment method: razorpay|cod")
	flag.Parse()

	if *runCmd != "" {
		res := runScenarioCmd(*method, *runCmd)().(scenarioResult)
		fmt.Println(res.status)
		if res.metrics != "" {
			fmt.Println(res.metrics)
		}
		return
	}

	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
