package biz

import (
	"context"
	"strings"
	"time"

	"fulfillment-service/internal/constants"
	"fulfillment-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// MapProviderStatus 将供应商状态映射为本地状态（大小写不敏感）
func MapProviderStatus(providerStatus string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "completed", "done", "finished":
		return OrderStatusCompleted
	case "failed", "error", "cancelled", "canceled":
		return OrderStatusFailed
	case "partial":
		return OrderStatusPartial
	default:
		return OrderStatusProcessing
	}
}

// ReconcileOutcome 状态对账结果
type ReconcileOutcome string

const (
	ReconcileOutcomeTransitioned  ReconcileOutcome = "transitioned"
	ReconcileOutcomeUnchanged     ReconcileOutcome = "unchanged"
	ReconcileOutcomeProviderError ReconcileOutcome = "provider_error"
	ReconcileOutcomeSkipped       ReconcileOutcome = "skipped"
)

// ReconcileResult 状态对账结果
type ReconcileResult struct {
	OrderID        string
	Outcome        ReconcileOutcome
	From           OrderStatus
	To             OrderStatus
	ProviderStatus string
	Detail         string
}

// StatusUseCase 订单状态对账
type StatusUseCase struct {
	orderRepo    OrderRepo
	providerRepo ProviderRepo
	api          ProviderAPI
	orderLog     *orderLogWriter
	log          *log.Helper
	metrics      *metrics.FulfillmentMetrics
}

// NewStatusUseCase 创建状态对账 UseCase
func NewStatusUseCase(orderRepo OrderRepo, providerRepo ProviderRepo, api ProviderAPI, logger log.Logger) *StatusUseCase {
	return &StatusUseCase{
		orderRepo:    orderRepo,
		providerRepo: providerRepo,
		api:          api,
		orderLog:     newOrderLogWriter(orderRepo, logger),
		log:          log.NewHelper(logger),
		metrics:      metrics.GetMetrics(),
	}
}

// Reconcile 查询供应商状态并推进订单，状态未变化时不写库也不写日志
func (uc *StatusUseCase) Reconcile(ctx context.Context, order *Order) (*ReconcileResult, error) {
	result := &ReconcileResult{OrderID: order.ID, From: order.Status, To: order.Status}
	// 只推进 processing，cancelled 等终态由外部驱动
	if order.Status != OrderStatusProcessing || order.ProviderID == "" || !order.Dispatched() {
		result.Outcome = ReconcileOutcomeSkipped
		return result, nil
	}

	provider, err := uc.providerRepo.GetProvider(ctx, order.ProviderID)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		uc.orderLog.error(ctx, order.ID, "status check failed: assigned provider not found", map[string]interface{}{
			"provider_id": order.ProviderID,
		})
		result.Outcome = ReconcileOutcomeProviderError
		result.Detail = "assigned provider not found"
		return result, nil
	}

	reply := uc.api.OrderStatus(ctx, provider, order.ExternalOrderID)
	if reply.Kind != ResultOK {
		uc.orderLog.error(ctx, order.ID, "status check failed: "+reply.Detail, map[string]interface{}{
			"provider_id":       provider.ID,
			"external_order_id": order.ExternalOrderID,
			"kind":              string(reply.Kind),
			"response":          reply.Reply.RawString(),
		})
		result.Outcome = ReconcileOutcomeProviderError
		result.Detail = reply.Detail
		return result, nil
	}

	result.ProviderStatus = reply.Status
	next := MapProviderStatus(reply.Status)
	if next == order.Status {
		result.Outcome = ReconcileOutcomeUnchanged
		return result, nil
	}

	response := copyMap(order.ProviderResponse)
	for k, v := range reply.Reply.AsResponse() {
		response[k] = v
	}
	response["status"] = reply.Status

	update := &OrderUpdate{
		Status:           &next,
		ProviderResponse: response,
		ExpectedStatus:   order.Status,
	}
	if next == OrderStatusCompleted {
		now := time.Now()
		update.CompletedAt = &now
	}
	updated, err := uc.orderRepo.UpdateOrder(ctx, order.ID, update)
	if err != nil {
		return nil, err
	}
	if !updated {
		uc.log.Warnf("status update skipped, order changed concurrently: order=%s", order.ID)
		result.Outcome = ReconcileOutcomeSkipped
		return result, nil
	}

	result.Outcome = ReconcileOutcomeTransitioned
	result.To = next
	uc.metrics.StatusTransitionTotal.WithLabelValues(string(next)).Inc()

	message := "order status changed " + string(order.Status) + " -> " + string(next)
	data := map[string]interface{}{
		"provider_id":     provider.ID,
		"provider_status": reply.Status,
		"from":            string(order.Status),
		"to":              string(next),
	}
	if next == OrderStatusFailed {
		uc.orderLog.write(ctx, order.ID, constants.LogLevelWarning, message, data)
	} else {
		uc.orderLog.write(ctx, order.ID, constants.LogLevelInfo, message, data)
	}
	uc.log.Infof("order status reconciled: order=%s, %s -> %s", order.ID, order.Status, next)
	return result, nil
}
