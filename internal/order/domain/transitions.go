package domain

import (
	"fmt"
	"time"
)

var fulfillmentTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// failed -> pending is not listed: only a payment retry may reopen a failed
// payment (see ReopenPayment).
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

// CanTransitionStatus reports whether from -> to is a legal fulfillment move.
// Re-applying the current status is accepted as a no-op.
func CanTransitionStatus(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range fulfillmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment reports whether from -> to is a legal payment move.
func CanTransitionPayment(from, to PaymentStatus) bool {
	if from == to {
		return true
	}
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (o *Order) TransitionStatus(to OrderStatus, now time.Time) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	if !CanTransitionStatus(o.Status, to) {
		return &TransitionError{Axis: "status", From: string(o.Status), To: string(to)}
	}
	o.Status = to
	o.UpdatedAt = now.UTC()
	return nil
}

func (o *Order) TransitionPayment(to PaymentStatus, now time.Time) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown payment status %q", ErrValidation, to)
	}
	if !CanTransitionPayment(o.PaymentStatus, to) {
		return &TransitionError{Axis: "payment_status", From: string(o.PaymentStatus), To: string(to)}
	}
	o.PaymentStatus = to
	o.UpdatedAt = now.UTC()
	return nil
}

// CheckReopen reports why the order cannot take another payment attempt.
func (o *Order) CheckReopen() error {
	switch o.PaymentStatus {
	case PaymentStatusPaid:
		return ErrAlreadyPaid
	case PaymentStatusRefunded:
		return &TransitionError{Axis: "payment_status", From: string(o.PaymentStatus), To: string(PaymentStatusPending)}
	}
	if o.PaymentMethod != PaymentMethodRazorpay {
		return ErrWrongMethod
	}
	return nil
}

// ReopenPayment installs a fresh gateway order for another payment attempt.
// Prior payment id and signature stay until a new verification succeeds.
func (o *Order) ReopenPayment(gatewayOrderID string, now time.Time) error {
	if err := o.CheckReopen(); err != nil {
		return err
	}
	if o.PaymentIntent == nil {
		o.PaymentIntent = &PaymentIntent{}
	}
	o.PaymentIntent.GatewayOrderID = gatewayOrderID
	o.PaymentIntent.Status = IntentCreated
	o.PaymentIntent.FailureReason = ""
	o.PaymentIntent.Attempts++
	o.PaymentStatus = PaymentStatusPending
	o.UpdatedAt = now.UTC()
	return nil
}

// ConfirmPayment records a verified gateway payment. Confirming an already
// paid order with the same payment id changes nothing and returns false.
func (o *Order) ConfirmPayment(gatewayPaymentID, signature string, now time.Time) (bool, error) {
	if o.PaymentStatus == PaymentStatusPaid && o.PaymentIntent != nil && o.PaymentIntent.GatewayPaymentID == gatewayPaymentID {
		return false, nil
	}
	if o.PaymentStatus != PaymentStatusPending {
		return false, &TransitionError{Axis: "payment_status", From: string(o.PaymentStatus), To: string(PaymentStatusPaid)}
	}
	if o.PaymentIntent == nil {
		o.PaymentIntent = &PaymentIntent{}
	}
	o.PaymentIntent.GatewayPaymentID = gatewayPaymentID
	o.PaymentIntent.Signature = signature
	o.PaymentIntent.Status = IntentCaptured
	o.PaymentIntent.FailureReason = ""
	o.PaymentStatus = PaymentStatusPaid
	o.UpdatedAt = now.UTC()
	return true, nil
}

// FailPayment records a gateway-reported failure on a pending payment.
func (o *Order) FailPayment(reason string, now time.Time) (bool, error) {
	if o.PaymentStatus == PaymentStatusFailed {
		return false, nil
	}
	if err := o.TransitionPayment(PaymentStatusFailed, now); err != nil {
		return false, err
	}
	if o.PaymentIntent != nil {
		o.PaymentIntent.Status = IntentFailed
		o.PaymentIntent.FailureReason = reason
	}
	return true, nil
}
