package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := NotFound("ticket not found")
	wrapped := fmt.Errorf("get ticket: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrExpired))
}

func TestFromKeepsAppErrors(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Forbidden("not your order"))

	appErr := From(err)
	assert.Equal(t, CodeForbidden, appErr.Code)
	assert.Equal(t, http.StatusForbidden, appErr.HTTPCode)
}

func TestFromHidesUnknownErrors(t *testing.T) {
	appErr := From(errors.New("pq: connection refused"))

	assert.Equal(t, CodeInternal, appErr.Code)
	assert.Equal(t, "Internal server error", appErr.Message)
	assert.Equal(t, http.StatusInternalServerError, appErr.HTTPCode)
}

func TestGatewayKeepsUpstreamDetailOutOfMessage(t *testing.T) {
	upstream := errors.New("status 422: ORDER_ALREADY_CAPTURED")
	appErr := Gateway(upstream, "ORDER_ALREADY_CAPTURED")

	assert.Equal(t, "Payment provider error", appErr.Message)
	assert.Equal(t, map[string]string{"issue": "ORDER_ALREADY_CAPTURED"}, appErr.Details)
	assert.ErrorIs(t, appErr, upstream)
}
