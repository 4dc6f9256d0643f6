package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/therapy-match-server/internal/domain"
	"github.com/therapy-match-server/internal/middleware"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Code          string    `json:"code"`
	Message       string    `json:"message"`
	Field         string    `json:"field,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// classify maps an error to an HTTP status and error code.
func classify(err error) (int, string) {
	var validation *domain.ValidationError
	var matchErr *domain.MatchError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, domain.ErrCodeInvalidInput
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrCodeNotFound
	case errors.Is(err, domain.ErrNoValidPreAssessment):
		return http.StatusUnprocessableEntity, domain.ErrCodeNoPreAssessment
	case errors.Is(err, domain.ErrNoPreferences):
		return http.StatusUnprocessableEntity, domain.ErrCodeNoPreferences
	case errors.Is(err, domain.ErrInvalidTherapistUser):
		return http.StatusUnprocessableEntity, domain.ErrCodeInvalidTherapist
	case errors.As(err, &matchErr) && matchErr.Code == domain.ErrCodeInvalidInput:
		return http.StatusBadRequest, domain.ErrCodeInvalidInput
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	default:
		return http.StatusInternalServerError, domain.ErrCodeInternal
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	status, code := classify(err)

	resp := errorResponse{
		Code:          code,
		Message:       err.Error(),
		CorrelationID: c.GetString(middleware.CorrelationIDKey),
		Timestamp:     time.Now().UTC(),
	}
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		resp.Field = validation.Field
		resp.Message = validation.Message
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"correlation_id": resp.CorrelationID,
			"path":           c.FullPath(),
		}).WithError(err).Error("Request failed")
		resp.Message = "internal server error"
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}
