package errors

import (
	"net/http"
)

// NewError creates a new BotError with the given parameters. It is a
// general-purpose constructor that allows full control over the error's
// fields. For most cases, use one of the specialized constructors below.
//
// Example:
//
//	err := NewError(InternalError, "session store corrupted", 500, "req_123", nil, cause)
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *BotError {
	return &BotError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewValidationError creates a validation error with appropriate
// defaults. Use this for input validation failures, such as:
//   - Empty portfolio text after trimming
//   - Malformed webhook payloads or bad signatures
//
// Example:
//
//	err := NewValidationError("req_123", "portfolio text is empty", map[string]interface{}{
//	    "field": "portfolio",
//	})
func NewValidationError(requestID, message string, validationDetails map[string]interface{}) *BotError {
	return &BotError{
		Type:      ValidationError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   validationDetails,
	}
}

// NewUpstreamError creates an upstream error with appropriate defaults.
// Use this when an external collaborator fails, such as:
//   - Completion endpoint errors or timeouts
//   - Platform content-download failures
//
// Example:
//
//	err := NewUpstreamError("req_123", "completion call failed", apiErr)
func NewUpstreamError(requestID string, message string, err error) *BotError {
	return &BotError{
		Type:      UpstreamError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewDeliveryError creates a delivery error with appropriate defaults.
// Use this when an outbound reply or push fails. Delivery errors are
// logged and swallowed by callers; they never abort a batch.
func NewDeliveryError(requestID string, message string, err error) *BotError {
	return &BotError{
		Type:      DeliveryError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewInternalError creates an internal server error with appropriate
// defaults. Use this for unexpected errors that are not covered by
// other error types:
//   - Panics
//   - Unexpected system failures
func NewInternalError(requestID string, err error) *BotError {
	return &BotError{
		Type:      InternalError,
		Message:   "An internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}
