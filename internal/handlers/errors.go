package handlers

import (
	"net/http"

	"github.com/Evg-Mazay/rsoi-curse/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// statusFor maps an error kind to its HTTP status
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindBadRequest, models.KindInvalidWindow, models.KindWrongOffice:
		return http.StatusBadRequest
	case models.KindUnauthorized:
		return http.StatusUnauthorized
	case models.KindPaymentRejected:
		return http.StatusPaymentRequired
	case models.KindForbidden:
		return http.StatusForbidden
	case models.KindNotFound, models.KindVehicleNotAvailable:
		return http.StatusNotFound
	case models.KindInvalidState, models.KindAlreadyStocked:
		return http.StatusConflict
	case models.KindPaymentGatewayUnavailable, models.KindUpstreamUnavailable, models.KindCompensationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error": kind, "message": detail}. Causes are
// logged, never returned to the caller.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	kind := models.KindOf(err)
	status := statusFor(kind)

	entry := logger.WithError(err).WithFields(logrus.Fields{
		"path": c.Request.URL.Path,
		"kind": kind,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	message := models.DetailOf(err)
	if message == "" {
		message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, models.ErrorResponse{Error: kind, Message: message})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   models.KindBadRequest,
		Message: message,
	})
}
