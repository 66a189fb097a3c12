package service

import (
	"context"
	"errors"
	"testing"

	fulfillmentErrors "fulfillment-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
)

func TestFulfillmentService_RejectsEmptyInput(t *testing.T) {
	s := NewFulfillmentService(nil, nil, nil, nil, log.DefaultLogger)
	ctx := context.Background()

	_, err := s.ResolveProvider(ctx, "  ")
	assert.True(t, errors.Is(err, fulfillmentErrors.ErrOrderNotFound))

	_, err = s.Dispatch(ctx, "")
	assert.True(t, errors.Is(err, fulfillmentErrors.ErrOrderNotFound))

	_, err = s.EnqueueRetryable(ctx, nil)
	assert.True(t, errors.Is(err, fulfillmentErrors.ErrRetryJobInvalid))
}
