// Package httpapi exposes the checkout operations over JSON/HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/checkout"
	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/internal/order/store"
	"github.com/nazeru/storefront-checkout-go/internal/shipping"
	"github.com/nazeru/storefront-checkout-go/pkg/idempotency"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
)

const maxBody = 1 << 20

type Server struct {
	svc     *checkout.Service
	metrics *metrics.ServerMetrics
	timeout time.Duration
	// health reports store reachability for /health.
	health func(ctx context.Context) error
}

type Options struct {
	Metrics *metrics.ServerMetrics
	Timeout time.Duration
	Health  func(ctx context.Context) error
}

func NewServer(svc *checkout.Service, opts Options) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Health == nil {
		opts.Health = func(context.Context) error { return nil }
	}
	return &Server{svc: svc, metrics: opts.Metrics, timeout: opts.Timeout, health: opts.Health}
}

// Routes registers every endpoint on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	handle := func(pattern, name string, h http.HandlerFunc) {
		h = s.withTimeout(h)
		if s.metrics != nil {
			h = s.metrics.Instrument(name, h)
		}
		mux.HandleFunc(pattern, h)
	}
	handle("GET /health", "health", s.handleHealth)
	handle("POST /orders", "create_order", s.handleCreateOrder)
	handle("GET /orders", "list_orders", s.handleListOrders)
	handle("GET /orders/{id}", "get_order", s.handleGetOrder)
	handle("GET /orders/by-number/{number}", "get_order_by_number", s.handleGetOrderByNumber)
	handle("POST /orders/{id}/payment/verify", "verify_payment", s.handleVerifyPayment)
	handle("POST /orders/{id}/payment/fail", "fail_payment", s.handleFailPayment)
	handle("POST /orders/{id}/payment/retry", "retry_payment", s.handleRetryPayment)
	handle("PATCH /orders/{id}/status", "transition_status", s.handleTransitionStatus)
	handle("PATCH /orders/{id}/payment-status", "transition_payment", s.handleTransitionPayment)
	handle("POST /orders/bulk-status", "bulk_status", s.handleBulkStatus)
	handle("PUT /orders/{id}/shipment", "attach_shipment", s.handleAttachShipment)
	handle("POST /orders/{id}/shipping/invoice", "generate_invoice", s.handleGenerateInvoice)
	handle("POST /orders/{id}/shipping/label", "generate_label", s.handleGenerateLabel)
	handle("POST /payments/intents", "create_intent", s.handleCreateIntent)
	handle("GET /shipping/serviceability", "serviceability", s.handleServiceability)
	handle("POST /coupons/validate", "validate_coupon", s.handleValidateCoupon)
}

func (s *Server) withTimeout(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	placed, err := s.svc.CreateOrder(r.Context(), req.input(idempotency.Key(r)))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := CreateOrderResponse{Order: toOrderResponse(placed.Order), Replayed: placed.Replayed}
	if placed.Gateway != nil {
		gw := toGatewayOrderResponse(*placed.Gateway)
		resp.Payment = &gw
	}
	if placed.IntentErr != nil {
		_, body := classify(placed.IntentErr)
		resp.PaymentError = body.Code
	}
	status := http.StatusCreated
	if placed.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.GetOrder(r.Context(), domain.OrderID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleGetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.GetOrderByNumber(r.Context(), r.PathValue("number"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		Status:        domain.OrderStatus(q.Get("status")),
		PaymentStatus: domain.PaymentStatus(q.Get("payment_status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, fmt.Errorf("%w: limit must be a positive integer", domain.ErrValidation))
			return
		}
		f.Limit = n
	}
	orders, err := s.svc.ListOrders(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ListOrdersResponse{Orders: make([]OrderResponse, 0, len(orders))}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := s.svc.VerifyPayment(r.Context(), domain.OrderID(r.PathValue("id")), checkout.VerifyInput{
		GatewayOrderID:   req.RazorpayOrderID,
		GatewayPaymentID: req.RazorpayPaymentID,
		Signature:        req.RazorpaySignature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleFailPayment(w http.ResponseWriter, r *http.Request) {
	var req FailPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := s.svc.FailPayment(r.Context(), domain.OrderID(r.PathValue("id")), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleRetryPayment(w http.ResponseWriter, r *http.Request) {
	gw, err := s.svc.RetryPayment(r.Context(), domain.OrderID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGatewayOrderResponse(gw))
}

func (s *Server) handleTransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Status == "" {
		writeError(w, fmt.Errorf("%w: status is required", domain.ErrValidation))
		return
	}
	o, err := s.svc.TransitionStatus(r.Context(), domain.OrderID(r.PathValue("id")), domain.OrderStatus(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleTransitionPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentStatusRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PaymentStatus == "" {
		writeError(w, fmt.Errorf("%w: payment_status is required", domain.ErrValidation))
		return
	}
	o, err := s.svc.TransitionPaymentStatus(r.Context(), domain.OrderID(r.PathValue("id")), domain.PaymentStatus(req.PaymentStatus))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	var req BulkStatusRequest
	if !decode(w, r, &req) {
		return
	}
	ids := make([]domain.OrderID, 0, len(req.OrderIDs))
	for _, id := range req.OrderIDs {
		ids = append(ids, domain.OrderID(strings.TrimSpace(id)))
	}
	res, err := s.svc.BulkTransition(r.Context(), checkout.BulkInput{
		OrderIDs:      ids,
		Status:        domain.OrderStatus(req.Status),
		PaymentStatus: domain.PaymentStatus(req.PaymentStatus),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAttachShipment(w http.ResponseWriter, r *http.Request) {
	var req ShipmentRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := s.svc.AttachShipment(r.Context(), domain.OrderID(r.PathValue("id")), domain.Shipment{
		CarrierOrderID: strings.TrimSpace(req.CarrierOrderID),
		ShipmentID:     strings.TrimSpace(req.ShipmentID),
		AWBCode:        strings.TrimSpace(req.AWBCode),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleGenerateInvoice(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.GenerateInvoice(r.Context(), domain.OrderID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGenerateLabel(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.GenerateLabel(r.Context(), domain.OrderID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req IntentRequest
	if !decode(w, r, &req) {
		return
	}
	gw, err := s.svc.CreatePaymentIntent(r.Context(), req.Amount, req.Receipt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGatewayOrderResponse(gw))
}

func (s *Server) handleServiceability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	weight, err := decimal.NewFromString(q.Get("weight"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: weight must be a number", domain.ErrValidation))
		return
	}
	declared := decimal.Zero
	if v := q.Get("declared_value"); v != "" {
		if declared, err = decimal.NewFromString(v); err != nil {
			writeError(w, fmt.Errorf("%w: declared_value must be a number", domain.ErrValidation))
			return
		}
	}
	cod, _ := strconv.ParseBool(q.Get("cod"))
	quotes, err := s.svc.CheckServiceability(r.Context(), shipping.Query{
		DeliveryPincode: strings.TrimSpace(q.Get("pincode")),
		Weight:          weight,
		COD:             cod,
		DeclaredValue:   declared,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": quotes})
}

func (s *Server) handleValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req CouponRequest
	if !decode(w, r, &req) {
		return
	}
	q, err := s.svc.ValidateCoupon(r.Context(), req.Code, req.OrderAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CouponResponse{Code: q.Code, Valid: true, DiscountAmount: q.Discount.StringFixed(2)})
}

// decode reads a strict JSON body into v. It writes the 400 itself and
// reports false on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json: " + err.Error(), Code: "invalid_json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
