package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore"
)

// StatusFor maps an engine error to an HTTP status and a stable error code.
func StatusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, authcore.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "invalid_input"
	case errors.Is(err, authcore.ErrWrongPassword):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, authcore.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, authcore.ErrRefreshReuse), errors.Is(err, authcore.ErrInvalidRefreshToken):
		return http.StatusUnauthorized, "invalid_refresh_token"
	case errors.Is(err, authcore.ErrEmailNotVerified):
		return http.StatusForbidden, "email_not_verified"
	case errors.Is(err, authcore.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, authcore.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, authcore.ErrFederationDisabled):
		return http.StatusNotFound, "federation_disabled"
	case errors.Is(err, authcore.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, authcore.ErrAlreadyVerified):
		return http.StatusBadRequest, "already_verified"
	case errors.Is(err, authcore.ErrInvalidOrExpiredToken):
		return http.StatusBadRequest, "invalid_or_expired_token"
	case errors.Is(err, authcore.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, authcore.ErrNonceMismatch):
		return http.StatusBadRequest, "nonce_mismatch"
	case errors.Is(err, authcore.ErrInvalidIDToken), errors.Is(err, authcore.ErrUnknownSigningKey):
		return http.StatusUnauthorized, "invalid_id_token"
	case errors.Is(err, authcore.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, authcore.ErrTokenExchangeFailed):
		return http.StatusBadGateway, "provider_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// respondError writes err. Server side failures are logged with the request id
// and answered with a generic body.
func (h *Handler) respondError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	body := errorBody{Error: code}

	var conflict *authcore.ConflictError
	if errors.As(err, &conflict) {
		body.Field = conflict.Field
	}
	var limited *authcore.RateLimitError
	if errors.As(err, &limited) && limited.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, body)
}
