package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkgErrors "github.com/wekeepgrowing/appstore-reconciler/pkg/errors"
)

func TestPurchaseError_Codes(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		err    *PurchaseError
		reason string
		code   string
		status int
	}{
		{ErrMissingReceipt(), ReasonMissingReceipt, pkgErrors.ErrInvalidArgument, 400},
		{ErrInvalidReceipt(cause), ReasonInvalidReceipt, pkgErrors.ErrInvalidArgument, 400},
		{ErrReceiptExpired(), ReasonReceiptExpired, pkgErrors.ErrInvalidArgument, 400},
		{ErrUnknownProductPurchase("com.example.x"), ReasonUnknownProduct, pkgErrors.ErrInvalidArgument, 400},
		{ErrUnableToValidate(cause), ReasonUnableToValidate, pkgErrors.ErrUnavailable, 503},
		{ErrPurchaseAlreadyOwned(), ReasonPurchaseAlreadyOwned, pkgErrors.ErrInvalidArgument, 400},
		{ErrMissingIdentity(), ReasonMissingIdentity, pkgErrors.ErrUnauthenticated, 401},
		{ErrPurchaseInternal(cause), ReasonInternalError, pkgErrors.ErrInternal, 500},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.reason, tt.err.Reason)
			assert.Equal(t, tt.code, pkgErrors.CodeOf(tt.err))
			assert.Equal(t, tt.status, pkgErrors.ToHTTPStatus(pkgErrors.CodeOf(tt.err)))
		})
	}
}

func TestPurchaseError_Unwrap(t *testing.T) {
	cause := errors.New("x5c chain does not verify")
	wrapped := fmt.Errorf("verify: %w", ErrInvalidReceipt(cause))

	pe, ok := AsPurchaseError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ReasonInvalidReceipt, pe.Reason)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, pe.Error(), "x5c chain does not verify")

	assert.ErrorIs(t, ErrUnknownProductPurchase("com.example.x"), ErrUnknownProduct)

	_, ok = AsPurchaseError(ErrPaymentNotFound)
	assert.False(t, ok)
}

func TestDecodeError(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := fmt.Errorf("queue q-1: %w", NewDecodeError("v2", "malformed body", cause))

	assert.True(t, IsDecodeError(err))
	assert.ErrorIs(t, err, cause)
	assert.EqualError(t, err, "queue q-1: decode v2 notification: malformed body: unexpected EOF")
	assert.False(t, IsDecodeError(cause))
	assert.Equal(t, "decode v1 notification: missing notification type", NewDecodeError("v1", "missing notification type", nil).Error())
}
