package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/scheduler"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeNotConfigured, http.StatusUnprocessableEntity},
		{ErrCodeLedgerUnavailable, http.StatusServiceUnavailable},
		{ErrCodeRunInProgress, http.StatusConflict},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{ErrCodeRequestTooLarge, http.StatusRequestEntityTooLarge},
		{"ERR_SOMETHING_NEW", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, GetHTTPStatus(tt.code))
		})
	}
}

func TestErrorCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"invalid request", fmt.Errorf("%w: delivery id is required", reconciliation.ErrInvalidRequest), ErrCodeInvalidInput},
		{"delivery not found", reconciliation.ErrDeliveryNotFound, ErrCodeNotFound},
		{"not configured", fmt.Errorf("store x: %w", reconciliation.ErrNotConfigured), ErrCodeNotConfigured},
		{"ledger error", &reconciliation.LedgerError{Kind: reconciliation.LedgerErrorAuth, StatusCode: 401, Err: errors.New("bad token")}, ErrCodeLedgerUnavailable},
		{"run in progress", scheduler.ErrRunAlreadyInProgress, ErrCodeRunInProgress},
		{"scheduler stopped", scheduler.ErrSchedulerNotRunning, ErrCodeSchedulerStopped},
		{"unknown", errors.New("connection reset"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, ErrorCodeFor(tt.err))
		})
	}
}

func TestNewValidationErrorResponse(t *testing.T) {
	resp := NewValidationErrorResponse("Request validation failed", "req-9", []ValidationDetail{
		{Field: "items[0].delivery_id", Message: "Invalid UUID format"},
	})

	body, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.NotContains(t, decoded, "data")

	errInfo := decoded["error"].(map[string]any)
	assert.Equal(t, ErrCodeValidation, errInfo["code"])
	assert.Equal(t, "req-9", errInfo["request_id"])
	assert.Len(t, errInfo["details"], 1)
}

func TestNewSuccessResponse(t *testing.T) {
	resp := NewSuccessResponse(map[string]int{"deleted": 3})
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
}
