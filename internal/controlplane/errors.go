// Package controlplane implements the Operator HTTP surface, the
// Administrator socket, and the media-plane webhook receiver (§6). It is
// the outermost layer that wires internal/sfuroom, internal/minutes,
// internal/transcript, and internal/ratelimit together behind gin and
// gorilla/websocket, grounded on the teacher's internal/v1/session/hub.go
// (ServeWs shape) and cmd/v1/session/main.go (route wiring).
package controlplane

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Code is the error taxonomy defined in §7.
type Code string

const (
	CodeUnauthorized    Code = "unauthorized"
	CodeForbidden       Code = "forbidden"
	CodeNotFound        Code = "not_found"
	CodeAmbiguous       Code = "ambiguous"
	CodeInvalidInput    Code = "invalid_input"
	CodeConflict        Code = "conflict"
	CodeUpstream        Code = "upstream_unavailable"
	CodeTransient       Code = "transient"
)

func statusFor(code Code) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAmbiguous:
		return http.StatusConflict
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeUpstream:
		return http.StatusServiceUnavailable
	case CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the standard {error: string} body, optionally extended
// with extra fields (e.g. candidates for an ambiguous room).
func writeError(c *gin.Context, code Code, message string, extra gin.H) {
	body := gin.H{"error": message}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(statusFor(code), body)
}
