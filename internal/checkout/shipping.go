package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/internal/shipping"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
)

func (s *Service) CheckServiceability(ctx context.Context, q shipping.Query) ([]shipping.Quote, error) {
	quotes, err := s.shipper.CheckServiceability(ctx, q)
	s.metrics.Operation("check_serviceability", outcomeOrOK(err))
	return quotes, err
}

// AttachShipment records the carrier identifiers produced by the external
// shipment-creation step. Cancelled orders cannot ship.
func (s *Service) AttachShipment(ctx context.Context, id domain.OrderID, sh domain.Shipment) (*domain.Order, error) {
	if strings.TrimSpace(sh.CarrierOrderID) == "" {
		return nil, fmt.Errorf("%w: carrier order id is required", domain.ErrValidation)
	}
	return s.orders.Update(ctx, id, func(o *domain.Order) error {
		if o.Status == domain.OrderStatusCancelled {
			return fmt.Errorf("%w: order is cancelled", domain.ErrNotShippable)
		}
		next := sh
		if o.Shipment != nil {
			next.InvoiceURL, next.LabelURL = o.Shipment.InvoiceURL, o.Shipment.LabelURL
		}
		o.Shipment = &next
		o.UpdatedAt = s.now().UTC()
		return nil
	})
}

func (s *Service) GenerateInvoice(ctx context.Context, id domain.OrderID) (shipping.Document, error) {
	return s.generate(ctx, id, "invoice", s.shipper.GenerateInvoice, func(sh *domain.Shipment, url string) { sh.InvoiceURL = url })
}

func (s *Service) GenerateLabel(ctx context.Context, id domain.OrderID) (shipping.Document, error) {
	return s.generate(ctx, id, "label", s.shipper.GenerateLabel, func(sh *domain.Shipment, url string) { sh.LabelURL = url })
}

func (s *Service) generate(ctx context.Context, id domain.OrderID, kind string,
	call func(context.Context, *domain.Order) (shipping.Document, error),
	save func(*domain.Shipment, string),
) (shipping.Document, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return shipping.Document{}, err
	}
	doc, err := call(ctx, order)
	s.metrics.Operation("generate_"+kind, outcomeOrOK(err))
	if err != nil {
		return shipping.Document{}, err
	}
	updated, err := s.orders.Update(ctx, id, func(o *domain.Order) error {
		if o.Shipment == nil {
			return domain.ErrNotShippable
		}
		save(o.Shipment, doc.URL)
		o.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return shipping.Document{}, err
	}
	s.publish(ctx, contracts.EventShippingDocument, updated, map[string]any{"kind": kind, "url": doc.URL})
	return doc, nil
}
