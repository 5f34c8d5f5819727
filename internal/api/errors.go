//
//
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/geotrack/geotrack/internal/location"
	"github.com/geotrack/geotrack/internal/tracking"
)

// Error codes carried in the envelope.
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeUpstreamFailure  = "UPSTREAM_FAILURE"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeNotFound         = "NOT_FOUND"
	CodeServiceDegraded  = "SERVICE_DEGRADED"
	CodeInternal         = "INTERNAL"
)

// APIError represents an API-layer error with HTTP status code.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// ToAPIError converts an error to an API error with HTTP status code and JSON body.
func ToAPIError(err error) (int, []byte) {
	if err == nil {
		return http.StatusOK, nil
	}

	var apiErr *APIError
	var validationErr *location.ValidationError
	var upstreamErr *tracking.UpstreamError

	// Check if it's already an API error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, marshalErrorResponse(apiErr.Code, apiErr.Message, apiErr.Details)
	}

	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, marshalErrorResponse(CodeBadRequest, validationErr.Error(), map[string]interface{}{
			"field":  validationErr.Field,
			"reason": validationErr.Reason,
		})
	}
	if errors.Is(err, location.ErrInvalid) {
		return http.StatusBadRequest, marshalErrorResponse(CodeBadRequest, err.Error(), nil)
	}

	// The message names the failing dependency and its cause.
	if errors.As(err, &upstreamErr) {
		return http.StatusInternalServerError, marshalErrorResponse(CodeUpstreamFailure, upstreamErr.Error(), map[string]interface{}{
			"operation": upstreamErr.Op,
		})
	}
	if errors.Is(err, tracking.ErrUpstream) {
		return http.StatusInternalServerError, marshalErrorResponse(CodeUpstreamFailure, err.Error(), nil)
	}

	// Default to internal server error for unknown errors
	return http.StatusInternalServerError, marshalErrorResponse(CodeInternal, "Internal server error", map[string]interface{}{
		"original": err.Error(),
	})
}

// marshalErrorResponse creates a JSON error response with correlation ID.
func marshalErrorResponse(code, message string, details interface{}) []byte {
	response := ErrorResponse(code, message, details)

	jsonBytes, err := json.Marshal(response)
	if err != nil {
		// Fallback error response if marshaling fails
		fallback := map[string]interface{}{
			"result":        "error",
			"code":          CodeInternal,
			"message":       "Failed to marshal error response",
			"correlationId": generateCorrelationID(),
		}
		jsonBytes, _ := json.Marshal(fallback)
		return jsonBytes
	}

	return jsonBytes
}

// NewAPIError creates a new API error.
func NewAPIError(code string, message string, statusCode int, details interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
