package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterruptedErrorWrapsContextCanceled(t *testing.T) {
	err := &InterruptedError{Cause: context.Canceled}
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIsInterruptedRecognizesCancellationAndDeadline(t *testing.T) {
	assert.True(t, isInterrupted(context.Canceled))
	assert.True(t, isInterrupted(context.DeadlineExceeded))
	assert.False(t, isInterrupted(errors.New("transport error")))
}

func TestNewBulkTransferErrorDedupesByIdentity(t *testing.T) {
	shared := errors.New("boom")
	err := newBulkTransferError([]error{shared, shared, errors.New("other")})
	bulk, ok := err.(*BulkTransferError)
	assert.True(t, ok)
	assert.Equal(t, shared, bulk.Primary)
	assert.Len(t, bulk.Suppressed, 1)
}

func TestNewBulkTransferErrorNilOnEmpty(t *testing.T) {
	assert.Nil(t, newBulkTransferError(nil))
}
