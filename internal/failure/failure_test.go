package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNone},
		{"direct", New(ClassNetwork, "create_hold", "timeout"), ClassNetwork},
		{"wrapped", fmt.Errorf("line 2: %w", New(ClassSchemaMismatch, "confirm_reservation", "bad shape")), ClassSchemaMismatch},
		{"no protocol sentinel", fmt.Errorf("svc 7: %w", ErrNoProtocolConfigured), ClassProtocolUnavailable},
		{"hold expired sentinel", ErrHoldExpired, ClassProviderRejection},
		{"plain error", errors.New("boom"), ClassInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassOf(tt.err))
		})
	}
}

func TestError_IsMatchesClassMarker(t *testing.T) {
	err := fmt.Errorf("outer: %w", &Error{Class: ClassPayment, Op: "debit", Message: "rejected"})
	assert.True(t, errors.Is(err, Payment))
	assert.False(t, errors.Is(err, Network))
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ClassNetwork, "search", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "NETWORK_FAILURE search")
	assert.Nil(t, Wrap(ClassNetwork, "search", nil))
}

func TestWasDelivered(t *testing.T) {
	assert.False(t, WasDelivered(&Error{Class: ClassNetwork}))
	assert.True(t, WasDelivered(&Error{Class: ClassNetwork, Delivered: true}))
	assert.True(t, WasDelivered(errors.New("unknown")))
	assert.False(t, WasDelivered(nil))
}
