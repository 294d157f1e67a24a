package gateway

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status   int
		category Category
	}{
		{401, CategoryAuthentication},
		{403, CategoryAuthentication},
		{429, CategoryRateLimit},
		{400, CategoryValidation},
		{422, CategoryValidation},
		{500, CategoryServerError},
		{503, CategoryServerError},
		{599, CategoryServerError},
		{404, CategoryUnknown},
		{302, CategoryUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.category, Classify(tt.status), "status %d", tt.status)
	}
}

func TestRetryableSet(t *testing.T) {
	assert.True(t, CategoryNetwork.Retryable())
	assert.True(t, CategoryRateLimit.Retryable())
	assert.True(t, CategoryServerError.Retryable())

	assert.False(t, CategoryAuthentication.Retryable())
	assert.False(t, CategoryValidation.Retryable())
	assert.False(t, CategoryUnknown.Retryable())
}

func TestCategoryOfWrappedError(t *testing.T) {
	apiErr := &APIError{Category: CategoryRateLimit, HTTPStatus: 429, Message: "slow down"}
	wrapped := fmt.Errorf("finalize: %w", apiErr)
	assert.Equal(t, CategoryRateLimit, CategoryOf(wrapped))
	assert.Equal(t, 429, HTTPStatusOf(wrapped))

	assert.Equal(t, CategoryUnknown, CategoryOf(errors.New("plain")))
	assert.Equal(t, 0, HTTPStatusOf(errors.New("plain")))
}

func TestAPIErrorString(t *testing.T) {
	withStatus := &APIError{Category: CategoryValidation, HTTPStatus: 422, Message: "bad document"}
	assert.Equal(t, "validation: bad document (HTTP 422)", withStatus.Error())

	noStatus := &APIError{Category: CategoryNetwork, Message: "connection refused"}
	assert.Equal(t, "network: connection refused", noStatus.Error())
}
