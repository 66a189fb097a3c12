package biz

import (
	"context"
	"errors"
	"time"

	"fulfillment-service/internal/constants"
	fulfillmentErrors "fulfillment-service/internal/errors"
	"fulfillment-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// DispatchOutcome 派单结果
type DispatchOutcome string

const (
	DispatchOutcomeDispatched        DispatchOutcome = "dispatched"
	DispatchOutcomeAlreadyDispatched DispatchOutcome = "already_dispatched"
	DispatchOutcomeNoProvider        DispatchOutcome = "no_provider"
	DispatchOutcomeMissingServiceID  DispatchOutcome = "missing_service_id"
	DispatchOutcomeMalformedResponse DispatchOutcome = "malformed_response"
	DispatchOutcomeTransportError    DispatchOutcome = "transport_error"
	DispatchOutcomeLocked            DispatchOutcome = "locked"
	DispatchOutcomeNotPending        DispatchOutcome = "not_pending"
)

// DispatchResult 派单结果
type DispatchResult struct {
	OrderID         string
	Outcome         DispatchOutcome
	ProviderID      string
	ExternalOrderID string
	Reason          string
}

// Success 派单成功或此前已派单
func (r *DispatchResult) Success() bool {
	return r.Outcome == DispatchOutcomeDispatched || r.Outcome == DispatchOutcomeAlreadyDispatched
}

// DispatcherUseCase 派单
type DispatcherUseCase struct {
	orderRepo    OrderRepo
	providerRepo ProviderRepo
	api          ProviderAPI
	resolver     *ResolverUseCase
	locker       Locker
	conf         *FulfillmentConfig
	orderLog     *orderLogWriter
	log          *log.Helper
	metrics      *metrics.FulfillmentMetrics
}

// NewDispatcherUseCase 创建派单 UseCase
func NewDispatcherUseCase(
	orderRepo OrderRepo,
	providerRepo ProviderRepo,
	api ProviderAPI,
	resolver *ResolverUseCase,
	locker Locker,
	conf *FulfillmentConfig,
	logger log.Logger,
) *DispatcherUseCase {
	return &DispatcherUseCase{
		orderRepo:    orderRepo,
		providerRepo: providerRepo,
		api:          api,
		resolver:     resolver,
		locker:       locker,
		conf:         conf,
		orderLog:     newOrderLogWriter(orderRepo, logger),
		log:          log.NewHelper(logger),
		metrics:      metrics.GetMetrics(),
	}
}

// Dispatch 派单，每次调用最多一次网络请求
// 只有存储错误或订单不存在时返回 error，其余失败体现在 Outcome 中
func (uc *DispatcherUseCase) Dispatch(ctx context.Context, orderID string) (*DispatchResult, error) {
	start := time.Now()
	result, err := uc.dispatch(ctx, orderID)
	uc.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		uc.metrics.DispatchTotal.WithLabelValues(constants.MetricResultError).Inc()
		return nil, err
	}
	uc.metrics.DispatchTotal.WithLabelValues(string(result.Outcome)).Inc()
	return result, nil
}

func (uc *DispatcherUseCase) dispatch(ctx context.Context, orderID string) (*DispatchResult, error) {
	unlock, err := uc.locker.TryLock(ctx, constants.RedisKeyDispatchLock+orderID, uc.conf.DispatchLockExpiry)
	if err != nil {
		if errors.Is(err, fulfillmentErrors.ErrLockNotAcquired) {
			uc.log.Infof("dispatch skipped, order locked: order=%s", orderID)
			return &DispatchResult{OrderID: orderID, Outcome: DispatchOutcomeLocked, Reason: "order is being dispatched elsewhere"}, nil
		}
		return nil, err
	}
	defer unlock()

	order, err := uc.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fulfillmentErrors.ErrOrderNotFound
	}

	if order.Dispatched() {
		return &DispatchResult{
			OrderID:         order.ID,
			Outcome:         DispatchOutcomeAlreadyDispatched,
			ProviderID:      order.ProviderID,
			ExternalOrderID: order.ExternalOrderID,
		}, nil
	}

	// 只派发 pending 订单，cancelled/failed 等状态由外部驱动
	if order.Status != OrderStatusPending {
		uc.orderLog.warning(ctx, order.ID, "dispatch rejected: order status is "+string(order.Status), map[string]interface{}{
			"status": string(order.Status),
		})
		return &DispatchResult{OrderID: order.ID, Outcome: DispatchOutcomeNotPending, ProviderID: order.ProviderID, Reason: "order status is " + string(order.Status)}, nil
	}

	serviceID := order.ProviderServiceID()
	if serviceID == "" {
		uc.orderLog.error(ctx, order.ID, "dispatch rejected: order has no provider-facing service id", map[string]interface{}{
			"service_id": order.ServiceID,
		})
		return &DispatchResult{OrderID: order.ID, Outcome: DispatchOutcomeMissingServiceID, Reason: "missing external_service_id"}, nil
	}

	if order.ProviderID == "" {
		if _, err := uc.resolver.resolve(ctx, order); err != nil {
			if errors.Is(err, fulfillmentErrors.ErrProviderNotFound) {
				uc.orderLog.error(ctx, order.ID, "dispatch failed: no active provider available", nil)
				return &DispatchResult{OrderID: order.ID, Outcome: DispatchOutcomeNoProvider, Reason: "no active provider"}, nil
			}
			return nil, err
		}
	}

	provider, err := uc.providerRepo.GetProvider(ctx, order.ProviderID)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		uc.orderLog.error(ctx, order.ID, "dispatch failed: assigned provider not found", map[string]interface{}{
			"provider_id": order.ProviderID,
		})
		return &DispatchResult{OrderID: order.ID, Outcome: DispatchOutcomeNoProvider, ProviderID: order.ProviderID, Reason: "assigned provider not found"}, nil
	}

	reply := uc.api.AddOrder(ctx, provider, &AddOrderRequest{
		Service:  serviceID,
		Link:     order.TargetURL,
		Quantity: order.Quantity,
	})

	switch reply.Kind {
	case ResultOK:
		return uc.markDispatched(ctx, order, provider, reply)
	case ResultMalformed:
		uc.orderLog.error(ctx, order.ID, "provider response has no order id", map[string]interface{}{
			"provider_id": provider.ID,
			"response":    reply.Reply.RawString(),
		})
		return &DispatchResult{OrderID: order.ID, Outcome: DispatchOutcomeMalformedResponse, ProviderID: provider.ID, Reason: reply.Detail}, nil
	default:
		uc.orderLog.error(ctx, order.ID, "provider request failed: "+reply.Detail, map[string]interface{}{
			"provider_id": provider.ID,
			"error":       reply.Detail,
		})
		return &DispatchResult{OrderID: order.ID, Outcome: DispatchOutcomeTransportError, ProviderID: provider.ID, Reason: reply.Detail}, nil
	}
}

func (uc *DispatcherUseCase) markDispatched(ctx context.Context, order *Order, provider *Provider, reply *AddOrderResult) (*DispatchResult, error) {
	status := OrderStatusProcessing
	metadata := copyMap(order.Metadata)
	metadata[constants.MetaDispatchedAt] = time.Now().UTC().Format(time.RFC3339)

	updated, err := uc.orderRepo.UpdateOrder(ctx, order.ID, &OrderUpdate{
		Status:             &status,
		ExternalOrderID:    &reply.ExternalOrderID,
		ProviderResponse:   reply.Reply.AsResponse(),
		Metadata:           metadata,
		OnlyIfUndispatched: true,
		ExpectedStatus:     OrderStatusPending,
	})
	if err != nil {
		return nil, err
	}
	if !updated {
		return uc.lostRace(ctx, order.ID, provider, reply)
	}

	uc.orderLog.info(ctx, order.ID, "order dispatched to provider "+provider.ID, map[string]interface{}{
		"provider_id":       provider.ID,
		"external_order_id": reply.ExternalOrderID,
	})
	uc.log.Infof("order dispatched: order=%s, provider=%s, external_order_id=%s", order.ID, provider.ID, reply.ExternalOrderID)
	return &DispatchResult{
		OrderID:         order.ID,
		Outcome:         DispatchOutcomeDispatched,
		ProviderID:      provider.ID,
		ExternalOrderID: reply.ExternalOrderID,
	}, nil
}

// lostRace 条件更新未命中：其他进程已派单，或订单在请求期间离开了 pending
func (uc *DispatcherUseCase) lostRace(ctx context.Context, orderID string, provider *Provider, reply *AddOrderResult) (*DispatchResult, error) {
	current, err := uc.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Dispatched() {
		uc.log.Warnf("dispatch update lost race: order=%s, external_order_id=%s", orderID, reply.ExternalOrderID)
		return &DispatchResult{
			OrderID:         orderID,
			Outcome:         DispatchOutcomeAlreadyDispatched,
			ProviderID:      current.ProviderID,
			ExternalOrderID: current.ExternalOrderID,
		}, nil
	}

	status := ""
	if current != nil {
		status = string(current.Status)
	}
	uc.orderLog.error(ctx, orderID, "order left pending while dispatching, provider order "+reply.ExternalOrderID+" not recorded", map[string]interface{}{
		"provider_id":       provider.ID,
		"external_order_id": reply.ExternalOrderID,
		"status":            status,
		"response":          reply.Reply.RawString(),
	})
	uc.log.Errorf("dispatch result discarded, order no longer pending: order=%s, status=%s, external_order_id=%s", orderID, status, reply.ExternalOrderID)
	return &DispatchResult{OrderID: orderID, Outcome: DispatchOutcomeNotPending, ProviderID: provider.ID, Reason: "order status is " + status}, nil
}
