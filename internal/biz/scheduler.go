package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/constants"
	fulfillmentErrors "fulfillment-service/internal/errors"
	"fulfillment-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// BatchItemResult 批处理单项结果
type BatchItemResult struct {
	OrderID string
	Outcome string // success/failure/error
	Detail  string
}

// BatchRun 批处理执行摘要
type BatchRun struct {
	ID         string
	Kind       string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Succeeded  int
	Failed     int
	Errored    int
	Items      []*BatchItemResult
}

// BatchRunRepo 批处理摘要存储
type BatchRunRepo interface {
	CreateBatchRun(ctx context.Context, run *BatchRun) error
}

// SchedulerUseCase 批处理：待派单扫描、状态对账扫描
type SchedulerUseCase struct {
	orderRepo  OrderRepo
	batchRepo  BatchRunRepo
	dispatcher *DispatcherUseCase
	status     *StatusUseCase
	locker     Locker
	conf       *FulfillmentConfig
	log        *log.Helper
	metrics    *metrics.FulfillmentMetrics
}

// NewSchedulerUseCase 创建批处理 UseCase
func NewSchedulerUseCase(
	orderRepo OrderRepo,
	batchRepo BatchRunRepo,
	dispatcher *DispatcherUseCase,
	status *StatusUseCase,
	locker Locker,
	conf *FulfillmentConfig,
	logger log.Logger,
) *SchedulerUseCase {
	return &SchedulerUseCase{
		orderRepo:  orderRepo,
		batchRepo:  batchRepo,
		dispatcher: dispatcher,
		status:     status,
		locker:     locker,
		conf:       conf,
		log:        log.NewHelper(logger),
		metrics:    metrics.GetMetrics(),
	}
}

// RunPendingOrderSweep 取最早的 pending 订单逐个派单
func (uc *SchedulerUseCase) RunPendingOrderSweep(ctx context.Context, batchSize int) (*BatchRun, error) {
	if batchSize <= 0 {
		batchSize = uc.conf.PendingBatchSize
	}
	filter := &OrderFilter{Status: OrderStatusPending}
	return uc.sweep(ctx, constants.SweepKindPendingDispatch, filter, batchSize, OrderByCreatedAsc, func(ctx context.Context, order *Order) *BatchItemResult {
		res, err := uc.dispatcher.Dispatch(ctx, order.ID)
		if err != nil {
			return &BatchItemResult{OrderID: order.ID, Outcome: constants.SweepItemError, Detail: err.Error()}
		}
		item := &BatchItemResult{OrderID: order.ID, Outcome: constants.SweepItemSuccess, Detail: string(res.Outcome)}
		if !res.Success() {
			item.Outcome = constants.SweepItemFailure
		}
		return item
	})
}

// RunStatusCheckSweep 对已派单的 processing 订单查询供应商状态
func (uc *SchedulerUseCase) RunStatusCheckSweep(ctx context.Context, batchSize int) (*BatchRun, error) {
	if batchSize <= 0 {
		batchSize = uc.conf.StatusBatchSize
	}
	filter := &OrderFilter{Status: OrderStatusProcessing, RequireProvider: true, RequireExternalOrderID: true}
	// 最久未更新的订单优先对账
	return uc.sweep(ctx, constants.SweepKindStatusCheck, filter, batchSize, OrderByUpdatedAsc, func(ctx context.Context, order *Order) *BatchItemResult {
		res, err := uc.status.Reconcile(ctx, order)
		if err != nil {
			return &BatchItemResult{OrderID: order.ID, Outcome: constants.SweepItemError, Detail: err.Error()}
		}
		item := &BatchItemResult{OrderID: order.ID, Outcome: constants.SweepItemSuccess, Detail: string(res.Outcome)}
		if res.Outcome == ReconcileOutcomeTransitioned {
			item.Detail = string(res.From) + " -> " + string(res.To)
		}
		if res.Outcome == ReconcileOutcomeProviderError {
			item.Outcome = constants.SweepItemFailure
			item.Detail = res.Detail
		}
		return item
	})
}

func (uc *SchedulerUseCase) sweep(
	ctx context.Context,
	kind string,
	filter *OrderFilter,
	batchSize int,
	orderBy OrderOrderBy,
	handle func(ctx context.Context, order *Order) *BatchItemResult,
) (*BatchRun, error) {
	unlock, err := uc.locker.TryLock(ctx, constants.RedisKeySweepLock+kind, uc.conf.SweepLockExpiry)
	if err != nil {
		if errors.Is(err, fulfillmentErrors.ErrLockNotAcquired) {
			uc.metrics.SweepRunTotal.WithLabelValues(kind, constants.MetricResultSkipped).Inc()
			return nil, fulfillmentErrors.ErrSweepInProgress
		}
		uc.metrics.SweepRunTotal.WithLabelValues(kind, constants.MetricResultError).Inc()
		return nil, err
	}
	defer unlock()

	run := &BatchRun{ID: uuid.New().String(), Kind: kind, StartedAt: time.Now()}

	orders, err := uc.orderRepo.FindOrders(ctx, filter, batchSize, orderBy)
	if err != nil {
		uc.metrics.SweepRunTotal.WithLabelValues(kind, constants.MetricResultError).Inc()
		return nil, fmt.Errorf("find orders for %s sweep: %w", kind, err)
	}

	run.Items = make([]*BatchItemResult, len(orders))
	g := new(errgroup.Group)
	g.SetLimit(max(uc.conf.SweepConcurrency, 1))
	for i, order := range orders {
		g.Go(func() error {
			run.Items[i] = uc.runItem(ctx, order, handle)
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range run.Items {
		run.Total++
		switch item.Outcome {
		case constants.SweepItemSuccess:
			run.Succeeded++
		case constants.SweepItemFailure:
			run.Failed++
		default:
			run.Errored++
		}
		uc.metrics.SweepItemTotal.WithLabelValues(kind, item.Outcome).Inc()
	}
	run.FinishedAt = time.Now()

	uc.metrics.SweepRunTotal.WithLabelValues(kind, constants.MetricResultSuccess).Inc()
	uc.metrics.SweepDuration.WithLabelValues(kind).Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())

	if err := uc.batchRepo.CreateBatchRun(ctx, run); err != nil {
		uc.log.Errorf("persist batch run failed: kind=%s, run=%s, err=%v", kind, run.ID, err)
	}
	if run.Total > 0 {
		uc.log.Infof("sweep done: kind=%s, total=%d, succeeded=%d, failed=%d, errored=%d",
			kind, run.Total, run.Succeeded, run.Failed, run.Errored)
	}
	return run, nil
}

// runItem 单个订单的异常不能中断整个批次
func (uc *SchedulerUseCase) runItem(
	ctx context.Context,
	order *Order,
	handle func(ctx context.Context, order *Order) *BatchItemResult,
) (item *BatchItemResult) {
	defer func() {
		if r := recover(); r != nil {
			uc.log.Errorf("sweep item panic: order=%s, panic=%v", order.ID, r)
			item = &BatchItemResult{OrderID: order.ID, Outcome: constants.SweepItemError, Detail: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return handle(ctx, order)
}
