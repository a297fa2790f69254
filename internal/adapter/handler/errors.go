package handler

import (
	"net/http"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
)

func httpStatus(reason domain.Reason) int {
	switch reason {
	case domain.ReasonValidation:
		return http.StatusBadRequest
	case domain.ReasonNotStarted:
		return http.StatusForbidden
	case domain.ReasonNotFound:
		return http.StatusNotFound
	case domain.ReasonAlreadyPurchased:
		return http.StatusConflict
	case domain.ReasonExpired, domain.ReasonOutOfStock:
		return http.StatusGone
	case domain.ReasonEnqueueFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func message(reason domain.Reason) string {
	switch reason {
	case domain.ReasonValidation:
		return "invalid request"
	case domain.ReasonNotStarted:
		return "flash sale has not started"
	case domain.ReasonNotFound:
		return "flash sale not found"
	case domain.ReasonAlreadyPurchased:
		return "you have already purchased this product"
	case domain.ReasonExpired:
		return "flash sale has ended"
	case domain.ReasonOutOfStock:
		return "sold out"
	case domain.ReasonEnqueueFailed:
		return "order could not be queued, try again"
	default:
		return "internal error"
	}
}
