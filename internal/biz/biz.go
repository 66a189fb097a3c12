package biz

import "github.com/google/wire"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewFulfillmentConfig,
	NewResolverUseCase,
	NewDispatcherUseCase,
	NewStatusUseCase,
	NewRefillExecutor,
	wire.Bind(new(ReplenishmentExecutor), new(*RefillExecutor)),
	NewRetryQueueUseCase,
	NewSchedulerUseCase,
)
