package biz

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/constants"
	fulfillmentErrors "fulfillment-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// Replenishment 补单记录（重试队列的工作项）
type Replenishment struct {
	ID               string
	OrderID          string
	Status           string
	Quantity         int
	ExternalRefillID string
	Error            string
	Metadata         map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Eligible 只有 pending 状态可以执行
func (r *Replenishment) Eligible() bool {
	return r.Status == constants.ReplenishmentStatusPending
}

// ReplenishmentDetail 状态变更附带信息
type ReplenishmentDetail struct {
	ExternalRefillID string
	Error            string
	Metadata         map[string]interface{} // 与已有 metadata 合并
}

// ReplenishmentRepo 补单存储接口
type ReplenishmentRepo interface {
	// GetReplenishment 不存在时返回 nil, nil
	GetReplenishment(ctx context.Context, id string) (*Replenishment, error)
	UpdateReplenishmentStatus(ctx context.Context, id, status string, detail *ReplenishmentDetail) error
}

// ReplenishmentExecutor 执行补单动作，返回供应商侧 refill id
type ReplenishmentExecutor interface {
	Execute(ctx context.Context, r *Replenishment) (string, error)
}

// RefillExecutor 调用供应商 refill 接口
type RefillExecutor struct {
	orderRepo    OrderRepo
	providerRepo ProviderRepo
	api          ProviderAPI
	log          *log.Helper
}

// NewRefillExecutor 创建补单执行器
func NewRefillExecutor(orderRepo OrderRepo, providerRepo ProviderRepo, api ProviderAPI, logger log.Logger) *RefillExecutor {
	return &RefillExecutor{
		orderRepo:    orderRepo,
		providerRepo: providerRepo,
		api:          api,
		log:          log.NewHelper(logger),
	}
}

// Execute 执行补单
func (e *RefillExecutor) Execute(ctx context.Context, r *Replenishment) (string, error) {
	order, err := e.orderRepo.GetOrder(ctx, r.OrderID)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", fulfillmentErrors.ErrOrderNotFound
	}
	if !order.Dispatched() || order.ProviderID == "" {
		return "", fmt.Errorf("order %s has not been dispatched", order.ID)
	}

	provider, err := e.providerRepo.GetProvider(ctx, order.ProviderID)
	if err != nil {
		return "", err
	}
	if provider == nil {
		return "", fulfillmentErrors.ErrProviderNotFound
	}

	res := e.api.Refill(ctx, provider, order.ExternalOrderID)
	switch res.Kind {
	case ResultOK:
		return res.RefillID, nil
	case ResultMalformed:
		return "", fmt.Errorf("refill response malformed: %s", res.Reply.RawString())
	default:
		return "", fmt.Errorf("refill request failed: %s", res.Detail)
	}
}
