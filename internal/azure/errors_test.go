package azure

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/stretchr/testify/assert"
)

func graphError(status int) error {
	err := odataerrors.NewODataError()
	err.ResponseStatusCode = status
	return err
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "arm 404",
			err:      &azcore.ResponseError{StatusCode: http.StatusNotFound},
			expected: true,
		},
		{
			name:     "wrapped arm 404",
			err:      fmt.Errorf("failed to get resource group: %w", &azcore.ResponseError{StatusCode: http.StatusNotFound}),
			expected: true,
		},
		{
			name:     "graph 404",
			err:      graphError(http.StatusNotFound),
			expected: true,
		},
		{
			name:     "arm 403",
			err:      &azcore.ResponseError{StatusCode: http.StatusForbidden},
			expected: false,
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			expected: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsNotFound(tt.err))
		})
	}
}

func TestIsConflict(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "role assignment exists",
			err:      &azcore.ResponseError{ErrorCode: "RoleAssignmentExists", StatusCode: http.StatusConflict},
			expected: true,
		},
		{
			name:     "graph 409",
			err:      graphError(http.StatusConflict),
			expected: true,
		},
		{
			name:     "message only",
			err:      errors.New("One or more added object references already exist for the following modified properties: 'owners'."),
			expected: true,
		},
		{
			name:     "arm 404",
			err:      &azcore.ResponseError{StatusCode: http.StatusNotFound},
			expected: false,
		},
		{
			name:     "nil",
			err:      nil,
			expected: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsConflict(tt.err))
		})
	}
}

func TestIsPermissionDenied(t *testing.T) {
	assert.True(t, IsPermissionDenied(&azcore.ResponseError{StatusCode: http.StatusForbidden}))
	assert.True(t, IsPermissionDenied(graphError(http.StatusUnauthorized)))
	assert.False(t, IsPermissionDenied(&azcore.ResponseError{StatusCode: http.StatusConflict}))
	assert.False(t, IsPermissionDenied(errors.New("boom")))
}
