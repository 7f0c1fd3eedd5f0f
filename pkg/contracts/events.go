package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope written to the outbox and carried on Kafka.
type Event struct {
	EventID     string         `json:"event_id"`
	OrderID     string         `json:"order_id"`
	OrderNumber string         `json:"order_number,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
}

const (
	EventOrderCreated         = "order.created"
	EventOrderStatusChanged   = "order.status_changed"
	EventPaymentCaptured      = "payment.captured"
	EventPaymentFailed        = "payment.failed"
	EventPaymentRetryCreated  = "payment.retry_created"
	EventPaymentStatusChanged = "payment.status_changed"
	EventShippingDocument     = "shipping.document_created"
)

func NewEvent(eventType, orderID, orderNumber string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		EventID:     uuid.NewString(),
		OrderID:     orderID,
		OrderNumber: orderNumber,
		CreatedAt:   time.Now().UTC(),
		Type:        eventType,
		Payload:     payload,
	}
}
