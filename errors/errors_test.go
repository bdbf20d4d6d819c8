package errors

import (
	stderrors "errors"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBotErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *BotError
		want string
	}{
		{
			name: "without cause",
			err:  &BotError{Type: ValidationError, Message: "empty portfolio"},
			want: "validation_error: empty portfolio",
		},
		{
			name: "with cause",
			err: &BotError{
				Type:    UpstreamError,
				Message: "completion failed",
				err:     fmt.Errorf("connection refused"),
			},
			want: "upstream_error: completion failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestBotErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewUpstreamError("req-1", "completion failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestBotErrorIs(t *testing.T) {
	err := NewUpstreamError("req-1", "completion failed", nil)

	assert.True(t, stderrors.Is(err, &BotError{Type: UpstreamError}))
	assert.False(t, stderrors.Is(err, &BotError{Type: ValidationError}))
	assert.False(t, stderrors.Is(err, fmt.Errorf("plain")))
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *BotError
		wantType ErrorType
		wantCode int
	}{
		{"validation", NewValidationError("req-1", "bad input", nil), ValidationError, http.StatusBadRequest},
		{"upstream", NewUpstreamError("req-1", "endpoint down", nil), UpstreamError, http.StatusBadGateway},
		{"delivery", NewDeliveryError("req-1", "push failed", nil), DeliveryError, http.StatusBadGateway},
		{"internal", NewInternalError("req-1", fmt.Errorf("boom")), InternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, "req-1", tt.err.RequestID)
		})
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, &BotError{
		Type:      ValidationError,
		Message:   "invalid webhook request",
		Code:      http.StatusBadRequest,
		RequestID: "req-42",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body["type"])
	assert.Equal(t, "invalid webhook request", body["message"])
	assert.Equal(t, "req-42", body["request_id"])
	assert.NotContains(t, body, "code")
}

func TestErrorWithType(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-7")

	ErrorWithType(w, "invalid signature", ValidationError, http.StatusBadRequest)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body["type"])
	assert.Equal(t, "req-7", body["request_id"])
}

func TestErrorDefaultsToInternal(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, "something broke", http.StatusInternalServerError)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body["type"])
}
