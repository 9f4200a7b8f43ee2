package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantbill/internal/errkind"
	"github.com/smallbiznis/tenantbill/internal/ratelimit"
	"github.com/smallbiznis/tenantbill/pkg/db/pagination"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errkind.Validation("invalid_request")
	ErrInvalidID      = errkind.Validation("invalid_id")
	ErrTenantRequired = errkind.Authentication("tenant_required")
	ErrNotFound       = errkind.NotFound("not_found")
	// ErrPayloadTooLarge is a validation error answered with 413.
	ErrPayloadTooLarge = errkind.Validation("payload_too_large")
)

// ErrorHandlingMiddleware writes the last handler error when nothing else was written.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return http.StatusBadRequest, errorPayload{
			Type:    string(errkind.KindValidation),
			Message: "invalid page token",
			Code:    "invalid_page_token",
		}
	}
	if errors.Is(err, ErrPayloadTooLarge) {
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    string(errkind.KindValidation),
			Message: "request body too large",
			Code:    errkind.Code(err),
		}
	}
	if errors.Is(err, ratelimit.ErrLimited) {
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
			Code:    errkind.Code(err),
		}
	}

	code := errkind.Code(err)
	switch errkind.Of(err) {
	case errkind.KindValidation:
		return http.StatusBadRequest, errorPayload{
			Type:    string(errkind.KindValidation),
			Message: "validation error",
			Code:    code,
		}
	case errkind.KindAuthentication:
		return http.StatusUnauthorized, errorPayload{
			Type:    string(errkind.KindAuthentication),
			Message: "unauthorized",
			Code:    code,
		}
	case errkind.KindNotFound:
		return http.StatusNotFound, errorPayload{
			Type:    string(errkind.KindNotFound),
			Message: "not found",
			Code:    code,
		}
	case errkind.KindConflict:
		return http.StatusConflict, errorPayload{
			Type:    string(errkind.KindConflict),
			Message: "conflict",
			Code:    code,
		}
	case errkind.KindRemoteGateway:
		return http.StatusBadGateway, errorPayload{
			Type:    string(errkind.KindRemoteGateway),
			Message: "payment gateway unavailable",
			Code:    code,
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    string(errkind.KindInternal),
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same type and code the client sees.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
