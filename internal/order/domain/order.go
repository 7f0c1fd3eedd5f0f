package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderID string
type ProductID string
type AttemptID string

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentMethodRazorpay PaymentMethod = "razorpay"
	PaymentMethodCOD      PaymentMethod = "cod"
)

// Gateway-side intent states.
const (
	IntentCreated  = "created"
	IntentCaptured = "captured"
	IntentFailed   = "failed"
)

type OrderItem struct {
	ProductID ProductID       `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal is the line total at the snapshot price.
func (it OrderItem) Subtotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type CustomerSnapshot struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Pincode string `json:"pincode,omitempty"`
}

// PaymentIntent is filled progressively: the gateway order id at creation,
// payment id and signature after verification.
type PaymentIntent struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id,omitempty"`
	Signature        string `json:"signature,omitempty"`
	Status           string `json:"status"`
	Attempts         int    `json:"attempts"`
	FailureReason    string `json:"failure_reason,omitempty"`
}

type Shipment struct {
	CarrierOrderID string `json:"carrier_order_id,omitempty"`
	ShipmentID     string `json:"shipment_id,omitempty"`
	AWBCode        string `json:"awb_code,omitempty"`
	InvoiceURL     string `json:"invoice_url,omitempty"`
	LabelURL       string `json:"label_url,omitempty"`
}

type Order struct {
	ID             OrderID          `json:"id"`
	OrderNumber    string           `json:"order_number"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	AttemptID      AttemptID        `json:"attempt_id"`
	Items          []OrderItem      `json:"items"`
	Customer       CustomerSnapshot `json:"customer"`
	CouponCode     string           `json:"coupon_code,omitempty"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	Total          decimal.Decimal  `json:"total"`
	Status         OrderStatus      `json:"status"`
	PaymentStatus  PaymentStatus    `json:"payment_status"`
	PaymentMethod  PaymentMethod    `json:"payment_method"`
	PaymentIntent  *PaymentIntent   `json:"payment_intent,omitempty"`
	Shipment       *Shipment        `json:"shipment,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewOrder fixes subtotal, discount and total from the item snapshot. They are
// never recomputed afterwards.
func NewOrder(attempt AttemptID, items []OrderItem, customer CustomerSnapshot, discount decimal.Decimal, method PaymentMethod, now time.Time) *Order {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Subtotal())
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	now = now.UTC()
	return &Order{
		ID:             OrderID(uuid.NewString()),
		OrderNumber:    NewOrderNumber(now),
		AttemptID:      attempt,
		Items:          items,
		Customer:       customer,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		Total:          subtotal.Sub(discount),
		Status:         OrderStatusPending,
		PaymentStatus:  PaymentStatusPending,
		PaymentMethod:  method,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewOrderNumber returns ORD-<yyyymmdd>-<8 hex>.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(suffix))
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodRazorpay || m == PaymentMethodCOD
}
