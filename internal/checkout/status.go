package checkout

import (
	"context"
	"fmt"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
)

func (s *Service) TransitionStatus(ctx context.Context, id domain.OrderID, to domain.OrderStatus) (*domain.Order, error) {
	var from domain.OrderStatus
	updated, err := s.orders.Update(ctx, id, func(o *domain.Order) error {
		from = o.Status
		return o.TransitionStatus(to, s.now())
	})
	if err != nil {
		s.metrics.Operation("transition_status", outcomeOf(err))
		return nil, err
	}
	if from != to {
		s.publish(ctx, contracts.EventOrderStatusChanged, updated, map[string]any{"from": string(from), "to": string(to)})
	}
	s.metrics.Operation("transition_status", "ok")
	return updated, nil
}

func (s *Service) TransitionPaymentStatus(ctx context.Context, id domain.OrderID, to domain.PaymentStatus) (*domain.Order, error) {
	var from domain.PaymentStatus
	updated, err := s.orders.Update(ctx, id, func(o *domain.Order) error {
		from = o.PaymentStatus
		return o.TransitionPayment(to, s.now())
	})
	if err != nil {
		s.metrics.Operation("transition_payment", outcomeOf(err))
		return nil, err
	}
	if from != to {
		s.publish(ctx, contracts.EventPaymentStatusChanged, updated, map[string]any{"from": string(from), "to": string(to)})
	}
	s.metrics.Operation("transition_payment", "ok")
	return updated, nil
}

type BulkInput struct {
	OrderIDs      []domain.OrderID
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
}

type BulkFailure struct {
	OrderID domain.OrderID `json:"order_id"`
	Error   string         `json:"error"`
}

type BulkResult struct {
	Updated  int           `json:"updated_count"`
	Failures []BulkFailure `json:"failures"`
}

// BulkTransition applies the requested status and/or payment status to each
// id on its own. A failing id is recorded and the rest carry on.
func (s *Service) BulkTransition(ctx context.Context, in BulkInput) (BulkResult, error) {
	if len(in.OrderIDs) == 0 {
		return BulkResult{}, fmt.Errorf("%w: order ids are required", domain.ErrValidation)
	}
	if in.Status == "" && in.PaymentStatus == "" {
		return BulkResult{}, fmt.Errorf("%w: status or payment status is required", domain.ErrValidation)
	}
	if in.Status != "" && !in.Status.Valid() {
		return BulkResult{}, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, in.Status)
	}
	if in.PaymentStatus != "" && !in.PaymentStatus.Valid() {
		return BulkResult{}, fmt.Errorf("%w: unknown payment status %q", domain.ErrValidation, in.PaymentStatus)
	}

	res := BulkResult{Failures: []BulkFailure{}}
	for _, id := range in.OrderIDs {
		if err := s.bulkOne(ctx, id, in); err != nil {
			res.Failures = append(res.Failures, BulkFailure{OrderID: id, Error: err.Error()})
			continue
		}
		res.Updated++
	}
	logging.Log(logging.Fields{Service: logService, Step: "bulk_transition", Status: "done",
		Message: fmt.Sprintf("updated=%d failed=%d", res.Updated, len(res.Failures))})
	return res, nil
}

func (s *Service) bulkOne(ctx context.Context, id domain.OrderID, in BulkInput) error {
	var fromStatus domain.OrderStatus
	var fromPayment domain.PaymentStatus
	updated, err := s.orders.Update(ctx, id, func(o *domain.Order) error {
		fromStatus, fromPayment = o.Status, o.PaymentStatus
		if in.Status != "" {
			if err := o.TransitionStatus(in.Status, s.now()); err != nil {
				return err
			}
		}
		if in.PaymentStatus != "" {
			if err := o.TransitionPayment(in.PaymentStatus, s.now()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.metrics.Operation("bulk_transition", outcomeOf(err))
		return err
	}
	if in.Status != "" && fromStatus != in.Status {
		s.publish(ctx, contracts.EventOrderStatusChanged, updated, map[string]any{"from": string(fromStatus), "to": string(in.Status)})
	}
	if in.PaymentStatus != "" && fromPayment != in.PaymentStatus {
		s.publish(ctx, contracts.EventPaymentStatusChanged, updated, map[string]any{"from": string(fromPayment), "to": string(in.PaymentStatus)})
	}
	s.metrics.Operation("bulk_transition", "ok")
	return nil
}
