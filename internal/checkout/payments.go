package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/internal/payment"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
)

type VerifyInput struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// CreatePaymentIntent creates a standalone gateway order.
func (s *Service) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, receipt string) (payment.GatewayOrder, error) {
	gw, err := s.gateway.CreateIntent(ctx, amount, receipt)
	s.metrics.Operation("create_intent", outcomeOrOK(err))
	return gw, err
}

// VerifyPayment checks the callback signature and marks the order paid. A
// repeat with the same valid arguments returns the paid order unchanged.
func (s *Service) VerifyPayment(ctx context.Context, id domain.OrderID, in VerifyInput) (*domain.Order, error) {
	in.GatewayOrderID = strings.TrimSpace(in.GatewayOrderID)
	in.GatewayPaymentID = strings.TrimSpace(in.GatewayPaymentID)
	in.Signature = strings.TrimSpace(in.Signature)

	current, err := s.orders.Get(ctx, id)
	if err != nil {
		s.metrics.Operation("verify_payment", outcomeOf(err))
		return nil, err
	}
	if current.PaymentMethod != domain.PaymentMethodRazorpay {
		s.metrics.Operation("verify_payment", "wrong_method")
		return nil, domain.ErrWrongMethod
	}
	if current.PaymentIntent == nil || current.PaymentIntent.GatewayOrderID != in.GatewayOrderID ||
		!s.gateway.Verify(in.GatewayOrderID, in.GatewayPaymentID, in.Signature) {
		s.metrics.Operation("verify_payment", "invalid_signature")
		logging.Log(logging.Fields{Service: logService, OrderID: string(id), Step: "verify_payment", Status: "invalid_signature"})
		return nil, domain.ErrInvalidSignature
	}

	changed := false
	updated, err := s.orders.Update(ctx, id, func(o *domain.Order) error {
		// A retry may have replaced the gateway order since the read above.
		if o.PaymentIntent == nil || o.PaymentIntent.GatewayOrderID != in.GatewayOrderID {
			return domain.ErrInvalidSignature
		}
		var err error
		changed, err = o.ConfirmPayment(in.GatewayPaymentID, in.Signature, s.now())
		return err
	})
	if err != nil {
		s.metrics.Operation("verify_payment", outcomeOf(err))
		return nil, err
	}
	if changed {
		s.publish(ctx, contracts.EventPaymentCaptured, updated, map[string]any{
			"gateway_order_id":   in.GatewayOrderID,
			"gateway_payment_id": in.GatewayPaymentID,
			"total":              updated.Total.StringFixed(2),
			"email":              updated.Customer.Email,
		})
	}
	s.metrics.Operation("verify_payment", "ok")
	logging.Log(logging.Fields{Service: logService, OrderID: string(id), Step: "verify_payment", Status: string(updated.PaymentStatus)})
	return updated, nil
}

// FailPayment records a gateway-reported payment failure.
func (s *Service) FailPayment(ctx context.Context, id domain.OrderID, reason string) (*domain.Order, error) {
	changed := false
	updated, err := s.orders.Update(ctx, id, func(o *domain.Order) error {
		var err error
		changed, err = o.FailPayment(strings.TrimSpace(reason), s.now())
		return err
	})
	if err != nil {
		s.metrics.Operation("fail_payment", outcomeOf(err))
		return nil, err
	}
	if changed {
		s.publish(ctx, contracts.EventPaymentFailed, updated, map[string]any{"reason": reason, "email": updated.Customer.Email})
	}
	s.metrics.Operation("fail_payment", "ok")
	return updated, nil
}

// RetryPayment opens a new gateway order for an unpaid gateway order. The
// eligibility check runs before the gateway call, so a paid order never
// produces a new gateway order.
func (s *Service) RetryPayment(ctx context.Context, id domain.OrderID) (payment.GatewayOrder, error) {
	current, err := s.orders.Get(ctx, id)
	if err != nil {
		s.metrics.Operation("retry_payment", outcomeOf(err))
		return payment.GatewayOrder{}, err
	}
	if err := current.CheckReopen(); err != nil {
		s.metrics.Operation("retry_payment", retryOutcome(err))
		return payment.GatewayOrder{}, err
	}

	attempt := 1
	if current.PaymentIntent != nil {
		attempt = current.PaymentIntent.Attempts + 1
	}
	receipt := fmt.Sprintf("%s-retry-%d", current.OrderNumber, attempt)
	gw, err := s.gateway.CreateIntent(ctx, current.Total, receipt)
	if err != nil {
		s.metrics.Operation("retry_payment", "gateway_error")
		return payment.GatewayOrder{}, err
	}

	updated, err := s.orders.Update(ctx, id, func(o *domain.Order) error {
		return o.ReopenPayment(gw.ID, s.now())
	})
	if err != nil {
		s.metrics.Operation("retry_payment", retryOutcome(err))
		return payment.GatewayOrder{}, err
	}
	s.publish(ctx, contracts.EventPaymentRetryCreated, updated, map[string]any{
		"gateway_order_id": gw.ID,
		"attempt":          updated.PaymentIntent.Attempts,
	})
	s.metrics.Operation("retry_payment", "ok")
	logging.Log(logging.Fields{Service: logService, OrderID: string(id), Step: "retry_payment", Status: "created", Message: receipt})
	return gw, nil
}

func retryOutcome(err error) string {
	switch err {
	case domain.ErrAlreadyPaid:
		return "already_paid"
	case domain.ErrWrongMethod:
		return "wrong_method"
	}
	return outcomeOf(err)
}

func outcomeOrOK(err error) string {
	if err == nil {
		return "ok"
	}
	return outcomeOf(err)
}
