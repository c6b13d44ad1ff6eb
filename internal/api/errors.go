package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mockinterview/interviewd/internal/connections"
	"github.com/mockinterview/interviewd/internal/protocol"
	"github.com/mockinterview/interviewd/internal/router"
)

// statusFor maps a stable error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case router.ErrorCodeSessionNotFound:
		return http.StatusNotFound
	case router.ErrorCodeSessionCompleted, router.ErrorCodeSessionRebind:
		return http.StatusConflict
	case router.ErrorCodeSessionRequired, router.ErrorCodeInvalidSessionConfig,
		protocol.ErrorCodeInvalidJSON, protocol.ErrorCodeInvalidMessage, protocol.ErrorCodeUnknownType,
		protocol.ErrorCodeInvalidAudio, protocol.ErrorCodeUnsupportedFormat, protocol.ErrorCodeEmptyInput:
		return http.StatusBadRequest
	case "pipeline_timeout":
		return http.StatusGatewayTimeout
	case "quota_exceeded":
		return http.StatusTooManyRequests
	case "upstream_rejected":
		return http.StatusBadGateway
	case "upstream_unavailable", connections.ErrorCodeCapacityExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error", "message"} with the matching status.
func writeError(c *gin.Context, err error, production bool) {
	data := router.ErrorData(err, production)
	body := gin.H{
		"error":   data.Error,
		"message": data.Message,
	}
	if data.Field != "" {
		body["field"] = data.Field
	}
	if data.Details != "" {
		body["details"] = data.Details
	}
	if data.Fallback != nil {
		body["fallback"] = data.Fallback
	}
	c.JSON(statusFor(data.Error), body)
}

func badRequest(code, message, field string) error {
	return &protocol.DecodeError{Code: code, Message: message, Field: field}
}
