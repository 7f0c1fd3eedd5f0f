package httpapi

import (
	"errors"
	"net/http"

	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
)

// writeError maps domain errors to a status and a stable code. Unknown
// errors become a 500 without detail.
func writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		logging.Log(logging.Fields{Service: "httpapi", Step: "respond", Status: "internal_error", Error: err.Error()})
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, ErrorResponse) {
	var se *domain.StockError
	var ce *domain.CouponError
	var te *domain.TransitionError
	switch {
	case errors.As(err, &se):
		return http.StatusConflict, ErrorResponse{Error: se.Error(), Code: "insufficient_stock", Details: map[string]any{
			"product_id": string(se.ProductID),
			"requested":  se.Requested,
			"available":  se.Available,
		}}
	case errors.As(err, &ce):
		details := map[string]any{"coupon_code": ce.Code, "reason": string(ce.Reason)}
		if ce.Reason == domain.CouponNotFound {
			return http.StatusNotFound, ErrorResponse{Error: ce.Error(), Code: "not_found", Details: details}
		}
		return http.StatusUnprocessableEntity, ErrorResponse{Error: ce.Error(), Code: "coupon_invalid", Details: details}
	case errors.As(err, &te):
		return http.StatusConflict, ErrorResponse{Error: te.Error(), Code: "invalid_transition", Details: map[string]any{
			"field": te.Axis,
			"from":  te.From,
			"to":    te.To,
		}}
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "validation_error"}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not found", Code: "not_found"}
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, ErrorResponse{Error: domain.ErrInvalidSignature.Error(), Code: "invalid_signature"}
	case errors.Is(err, domain.ErrAlreadyPaid):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "already_paid"}
	case errors.Is(err, domain.ErrWrongMethod):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "wrong_method"}
	case errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict, ErrorResponse{Error: "duplicate checkout", Code: "duplicate"}
	case errors.Is(err, domain.ErrNotShippable):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "not_shippable"}
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return http.StatusBadGateway, ErrorResponse{Error: domain.ErrAuthenticationFailed.Error(), Code: "shipping_auth_failed"}
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: "gateway_error"}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"}
}
