package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/progress-analytics-server/internal/domain"
	"github.com/progress-analytics-server/internal/middleware"
)

// statusFor maps a service error onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, domain.ErrCodeValidation
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrMixedMetricKinds),
		errors.Is(err, domain.ErrNonFiniteValue):
		return http.StatusBadRequest, domain.ErrCodeInvalidInput
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrCodeNotFound
	case errors.Is(err, domain.ErrAlertResolved):
		return http.StatusConflict, domain.ErrCodeConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, domain.ErrCodeInternalServer
	default:
		return http.StatusInternalServerError, domain.ErrCodeInternalServer
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	requestID := c.GetString(middleware.CorrelationIDKey)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"correlation_id": requestID,
			"route":          c.FullPath(),
			"error":          err,
		}).Error("Request failed")
		message = http.StatusText(status)
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, domain.NewServiceError(code, message, "", requestID))
}

func (s *Server) badRequest(c *gin.Context, message string, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, domain.NewServiceError(
		domain.ErrCodeInvalidInput, message, err.Error(), c.GetString(middleware.CorrelationIDKey),
	))
}
