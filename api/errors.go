package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/templeseva/darshan/internal/domain"
	"github.com/templeseva/darshan/internal/service/settlement"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details []domain.FieldError `json:"details,omitempty"`
}

// writeError maps the domain taxonomy to a status and a stable code. Errors
// outside the taxonomy are logged and answered with a generic message.
func writeError(c *gin.Context, log logrus.FieldLogger, err error) {
	status, detail := classify(err)
	if status >= http.StatusInternalServerError {
		log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"error":  err,
		}).Error("request failed")
	}
	c.AbortWithStatusJSON(status, errorBody{Error: detail})
}

func classify(err error) (int, errorDetail) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorDetail{Code: "validation_error", Message: "request validation failed", Details: verr.Fields}
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, errorDetail{Code: "validation_error", Message: err.Error()}
	case errors.Is(err, domain.ErrPaymentMismatch):
		return http.StatusBadRequest, errorDetail{Code: "payment_mismatch", Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorDetail{Code: "invalid_signature", Message: "payment signature is invalid"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorDetail{Code: "forbidden", Message: "not allowed to access this resource"}
	case errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound, errorDetail{Code: "payment_not_found", Message: "payment not found"}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorDetail{Code: "not_found", Message: "booking not found"}
	case errors.Is(err, domain.ErrSlotUnavailable):
		return http.StatusConflict, errorDetail{Code: "slot_unavailable", Message: err.Error()}
	case errors.Is(err, domain.ErrNotCancellable):
		return http.StatusConflict, errorDetail{Code: "not_cancellable", Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, errorDetail{Code: "invalid_transition", Message: err.Error()}
	case errors.Is(err, settlement.ErrVerificationInProgress):
		return http.StatusConflict, errorDetail{Code: "verification_in_progress", Message: err.Error()}
	case errors.Is(err, settlement.ErrRefundInProgress):
		return http.StatusConflict, errorDetail{Code: "refund_in_progress", Message: err.Error()}
	case errors.Is(err, domain.ErrGateway):
		return http.StatusInternalServerError, errorDetail{Code: "gateway_error", Message: "payment processor is unavailable, try again later"}
	default:
		return http.StatusInternalServerError, errorDetail{Code: "internal_error", Message: "internal server error"}
	}
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: errorDetail{Code: "bad_request", Message: message}})
}
