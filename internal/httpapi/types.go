package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/checkout"
	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/internal/payment"
)

type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Customer struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	Pincode string `json:"pincode"`
}

type CreateOrderRequest struct {
	Items         []Item   `json:"items"`
	Customer      Customer `json:"customer"`
	CouponCode    string   `json:"coupon_code"`
	PaymentMethod string   `json:"payment_method"`
}

func (r CreateOrderRequest) validate() error {
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: items is required", domain.ErrValidation)
	}
	for _, it := range r.Items {
		if strings.TrimSpace(it.ProductID) == "" || it.Quantity <= 0 {
			return fmt.Errorf("%w: each item must have product_id and quantity > 0", domain.ErrValidation)
		}
	}
	if strings.TrimSpace(r.Customer.Email) == "" || strings.TrimSpace(r.Customer.Name) == "" {
		return fmt.Errorf("%w: customer email and name are required", domain.ErrValidation)
	}
	return nil
}

func (r CreateOrderRequest) input(idemKey string) checkout.CreateOrderInput {
	items := make([]checkout.LineItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, checkout.LineItem{ProductID: domain.ProductID(strings.TrimSpace(it.ProductID)), Quantity: it.Quantity})
	}
	return checkout.CreateOrderInput{
		Items: items,
		Customer: domain.CustomerSnapshot{
			Email:   strings.TrimSpace(r.Customer.Email),
			Name:    strings.TrimSpace(r.Customer.Name),
			Phone:   strings.TrimSpace(r.Customer.Phone),
			Address: strings.TrimSpace(r.Customer.Address),
			City:    strings.TrimSpace(r.Customer.City),
			Pincode: strings.TrimSpace(r.Customer.Pincode),
		},
		CouponCode:     r.CouponCode,
		PaymentMethod:  domain.PaymentMethod(strings.ToLower(strings.TrimSpace(r.PaymentMethod))),
		IdempotencyKey: idemKey,
	}
}

type VerifyPaymentRequest struct {
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

type FailPaymentRequest struct {
	Reason string `json:"reason"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type PaymentStatusRequest struct {
	PaymentStatus string `json:"payment_status"`
}

type BulkStatusRequest struct {
	OrderIDs      []string `json:"order_ids"`
	Status        string   `json:"status"`
	PaymentStatus string   `json:"payment_status"`
}

type IntentRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Receipt string          `json:"receipt"`
}

type ShipmentRequest struct {
	CarrierOrderID string `json:"carrier_order_id"`
	ShipmentID     string `json:"shipment_id"`
	AWBCode        string `json:"awb_code"`
}

type CouponRequest struct {
	Code        string          `json:"code"`
	OrderAmount decimal.Decimal `json:"order_amount"`
}

type OrderItemResponse struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type PaymentIntentResponse struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id,omitempty"`
	Status           string `json:"status"`
	Attempts         int    `json:"attempts"`
	FailureReason    string `json:"failure_reason,omitempty"`
}

type OrderResponse struct {
	ID             string                 `json:"id"`
	OrderNumber    string                 `json:"order_number"`
	Items          []OrderItemResponse    `json:"items"`
	Customer       Customer               `json:"customer"`
	CouponCode     string                 `json:"coupon_code,omitempty"`
	Subtotal       string                 `json:"subtotal"`
	DiscountAmount string                 `json:"discount_amount"`
	Total          string                 `json:"total"`
	Status         string                 `json:"status"`
	PaymentStatus  string                 `json:"payment_status"`
	PaymentMethod  string                 `json:"payment_method"`
	PaymentIntent  *PaymentIntentResponse `json:"payment_intent,omitempty"`
	Shipment       *domain.Shipment       `json:"shipment,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// The signature is never echoed back.
func toOrderResponse(o *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			ProductID: string(it.ProductID),
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
			Subtotal:  it.Subtotal().StringFixed(2),
		})
	}
	resp := OrderResponse{
		ID:          string(o.ID),
		OrderNumber: o.OrderNumber,
		Items:       items,
		Customer: Customer{
			Email: o.Customer.Email, Name: o.Customer.Name, Phone: o.Customer.Phone,
			Address: o.Customer.Address, City: o.Customer.City, Pincode: o.Customer.Pincode,
		},
		CouponCode:     o.CouponCode,
		Subtotal:       o.Subtotal.StringFixed(2),
		DiscountAmount: o.DiscountAmount.StringFixed(2),
		Total:          o.Total.StringFixed(2),
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		PaymentMethod:  string(o.PaymentMethod),
		Shipment:       o.Shipment,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if pi := o.PaymentIntent; pi != nil {
		resp.PaymentIntent = &PaymentIntentResponse{
			GatewayOrderID:   pi.GatewayOrderID,
			GatewayPaymentID: pi.GatewayPaymentID,
			Status:           pi.Status,
			Attempts:         pi.Attempts,
			FailureReason:    pi.FailureReason,
		}
	}
	return resp
}

// GatewayOrderResponse is what a client needs to open the payment widget.
type GatewayOrderResponse struct {
	GatewayOrderID string `json:"gateway_order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	KeyID          string `json:"key_id,omitempty"`
}

func toGatewayOrderResponse(gw payment.GatewayOrder) GatewayOrderResponse {
	return GatewayOrderResponse{GatewayOrderID: gw.ID, Amount: gw.Amount, Currency: gw.Currency, Receipt: gw.Receipt, KeyID: gw.KeyID}
}

type CreateOrderResponse struct {
	Order        OrderResponse         `json:"order"`
	Payment      *GatewayOrderResponse `json:"payment,omitempty"`
	PaymentError string                `json:"payment_error,omitempty"`
	Replayed     bool                  `json:"replayed,omitempty"`
}

type ListOrdersResponse struct {
	Orders []OrderResponse `json:"orders"`
}

type CouponResponse struct {
	Code           string `json:"code"`
	Valid          bool   `json:"valid"`
	DiscountAmount string `json:"discount_amount"`
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}
