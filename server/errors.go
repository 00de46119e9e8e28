package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/teranos/carbonfill/errors"
	"github.com/teranos/carbonfill/logger"
)

// statusFor maps an error to an HTTP status.
// Invalid input is 400, upstream inference failures are 502, and a missing
// credential with fallback disabled is 503.
func statusFor(err error) int {
	switch {
	case errors.IsInvalidRequestError(err):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrCredentialMissing), errors.IsServiceUnavailableError(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, errors.ErrTransport),
		errors.Is(err, errors.ErrTimeout),
		errors.Is(err, errors.ErrResponseShape):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {error, details} and logs server-side failures.
func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		body["error"] = "invalid request"
		body["details"] = validationDetails(verrs)
	}

	log := logger.FromContext(c.Request.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		log.Errorw("Request failed", logger.FieldStatusCode, status, logger.FieldError, err)
	} else {
		log.Debugw("Request rejected", logger.FieldStatusCode, status, logger.FieldError, err)
	}
	c.AbortWithStatusJSON(status, body)
}
