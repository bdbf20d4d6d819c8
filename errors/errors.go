// Package errors provides the error handling system for the Chartline bot.
// It includes structured error types, JSON response formatting for the
// webhook endpoint, request ID tracking, and integrated logging with
// Uber's zap logger.
//
// The package is used throughout the codebase to keep error handling and
// reporting consistent:
//
//	// Simple error response
//	errors.Error(w, "Something went wrong", http.StatusBadRequest)
//
//	// Type-specific error with context
//	errors.ErrorWithType(w, "Invalid signature", errors.ValidationError, http.StatusBadRequest)
//
// For richer scenarios, use the constructors in types.go:
//
//	err := errors.NewUpstreamError(requestID, "completion endpoint unavailable", upstreamErr)
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the default zap logger instance used throughout the
// package. It is initialized to a production configuration but can be
// overridden using SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger allows setting a custom zap logger instance. If nil is
// provided, the function does nothing to prevent accidentally disabling
// logging.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType categorizes the failures the bot can encounter. Each type
// maps to one branch of the propagation policy: validation errors are
// handled locally with a corrective user message, upstream errors abort
// the affected batch, delivery errors are logged and swallowed.
type ErrorType string

const (
	// ValidationError represents invalid or missing user input, such as
	// an empty portfolio text or a malformed webhook payload.
	ValidationError ErrorType = "validation_error"

	// UpstreamError represents failures of external collaborators: the
	// completion endpoint or the platform content-download API.
	UpstreamError ErrorType = "upstream_error"

	// DeliveryError represents a failure to deliver a message to the
	// user. It is always swallowed after logging; a delivery failure
	// must never crash a batch flush.
	DeliveryError ErrorType = "delivery_error"

	// ConfigError represents configuration-related errors.
	ConfigError ErrorType = "config_error"

	// InternalError represents unexpected internal server errors.
	InternalError ErrorType = "internal_error"
)

// BotError is the custom error type used across the service. It
// implements the error interface and serializes to JSON for webhook
// responses while keeping the wrapped cause for logging.
type BotError struct {
	// Type categorizes the error for handling policy
	Type ErrorType `json:"type"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Code is the HTTP status code (not exposed in JSON)
	Code int `json:"-"`

	// RequestID links the error to a specific request
	RequestID string `json:"request_id"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	// err is the underlying error (not exposed in JSON)
	err error
}

// Error implements the error interface.
func (e *BotError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, implementing the unwrap
// interface for error chains.
func (e *BotError) Unwrap() error {
	return e.err
}

// Is implements error matching for errors.Is, allowing type-based
// matching while ignoring other fields.
func (e *BotError) Is(target error) bool {
	t, ok := target.(*BotError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WriteError formats and writes a BotError to an http.ResponseWriter.
func WriteError(w http.ResponseWriter, err *BotError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	json.NewEncoder(w).Encode(err)
}

// Error is a drop-in replacement for http.Error that creates and writes
// a BotError with the InternalError type. It includes the request ID
// from the response headers if available.
func Error(w http.ResponseWriter, message string, code int) {
	requestID := w.Header().Get("X-Request-ID")
	err := &BotError{
		Type:      InternalError,
		Message:   message,
		Code:      code,
		RequestID: requestID,
	}
	WriteError(w, err)
}

// ErrorWithType is like Error but allows specifying the error type.
func ErrorWithType(w http.ResponseWriter, message string, errType ErrorType, code int) {
	requestID := w.Header().Get("X-Request-ID")
	err := &BotError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
	}
	WriteError(w, err)
}
