package service

import (
	"context"
	"strings"
	"time"

	"fulfillment-service/internal/biz"
	fulfillmentErrors "fulfillment-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// ReplenishmentRequest 补单重试请求（HTTP 与 MQ 共用）
type ReplenishmentRequest struct {
	ReplenishmentID string `json:"replenishment_id"`
	OrderID         string `json:"order_id"`
	Priority        int    `json:"priority"`
	MaxAttempts     int    `json:"max_attempts"`
	DelaySeconds    int64  `json:"delay_seconds"`
}

// FulfillmentService 派单核心对外服务
type FulfillmentService struct {
	resolver   *biz.ResolverUseCase
	dispatcher *biz.DispatcherUseCase
	retry      *biz.RetryQueueUseCase
	scheduler  *biz.SchedulerUseCase
	log        *log.Helper
}

// NewFulfillmentService 创建 FulfillmentService
func NewFulfillmentService(
	resolver *biz.ResolverUseCase,
	dispatcher *biz.DispatcherUseCase,
	retry *biz.RetryQueueUseCase,
	scheduler *biz.SchedulerUseCase,
	logger log.Logger,
) *FulfillmentService {
	return &FulfillmentService{
		resolver:   resolver,
		dispatcher: dispatcher,
		retry:      retry,
		scheduler:  scheduler,
		log:        log.NewHelper(logger),
	}
}

// ResolveProvider 为订单选择供应商
func (s *FulfillmentService) ResolveProvider(ctx context.Context, orderID string) (string, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", fulfillmentErrors.ErrOrderNotFound
	}
	providerID, err := s.resolver.ResolveProvider(ctx, orderID)
	if err != nil {
		s.log.Errorf("ResolveProvider failed: order=%s, err=%v", orderID, err)
		return "", err
	}
	return providerID, nil
}

// Dispatch 派单
func (s *FulfillmentService) Dispatch(ctx context.Context, orderID string) (*biz.DispatchResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fulfillmentErrors.ErrOrderNotFound
	}
	result, err := s.dispatcher.Dispatch(ctx, orderID)
	if err != nil {
		s.log.Errorf("Dispatch failed: order=%s, err=%v", orderID, err)
		return nil, err
	}
	return result, nil
}

// EnqueueRetryable 补单入重试队列
func (s *FulfillmentService) EnqueueRetryable(ctx context.Context, req *ReplenishmentRequest) (*biz.RetryJob, error) {
	if req == nil {
		return nil, fulfillmentErrors.ErrRetryJobInvalid
	}
	job, err := s.retry.EnqueueRetryable(ctx,
		strings.TrimSpace(req.ReplenishmentID),
		strings.TrimSpace(req.OrderID),
		biz.EnqueueOptions{
			Priority:    req.Priority,
			MaxAttempts: req.MaxAttempts,
			Delay:       time.Duration(req.DelaySeconds) * time.Second,
		},
	)
	if err != nil {
		s.log.Errorf("EnqueueRetryable failed: replenishment=%s, order=%s, err=%v", req.ReplenishmentID, req.OrderID, err)
		return nil, err
	}
	return job, nil
}

// RunRetryQueueCycle 处理一轮重试队列
func (s *FulfillmentService) RunRetryQueueCycle(ctx context.Context) (*biz.CycleResult, error) {
	return s.retry.RunCycle(ctx, 0)
}

// RunPendingOrderSweep 扫描待派单订单
func (s *FulfillmentService) RunPendingOrderSweep(ctx context.Context) (*biz.BatchRun, error) {
	return s.scheduler.RunPendingOrderSweep(ctx, 0)
}

// RunStatusCheckSweep 扫描处理中订单并对账
func (s *FulfillmentService) RunStatusCheckSweep(ctx context.Context) (*biz.BatchRun, error) {
	return s.scheduler.RunStatusCheckSweep(ctx, 0)
}
