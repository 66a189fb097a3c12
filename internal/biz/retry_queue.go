package biz

import (
	"context"
	"fmt"
	"math"
	"time"

	"fulfillment-service/internal/constants"
	fulfillmentErrors "fulfillment-service/internal/errors"
	"fulfillment-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

const requeueTimeout = 3 * time.Second

// RetryJob 重试任务
type RetryJob struct {
	ID           string
	WorkItemID   string // 如补单 ID
	OrderID      string
	Priority     int // 越大越紧急
	Attempts     int
	MaxAttempts  int
	CreatedAt    time.Time
	ProcessAfter time.Time
	LastError    string
}

// RetryQueueStore 持久化优先级队列
type RetryQueueStore interface {
	// Push 按优先级插入；ProcessAfter 晚于当前时间时延迟可见
	Push(ctx context.Context, job *RetryJob) error
	// PopReady 原子地弹出最高优先级的就绪任务，没有时返回 nil, nil
	PopReady(ctx context.Context, now time.Time) (*RetryJob, error)
	Remove(ctx context.Context, jobID string) (bool, error)
	// Get 不存在时返回 nil, nil
	Get(ctx context.Context, jobID string) (*RetryJob, error)
	Len(ctx context.Context) (int64, error)
}

// EnqueueOptions 入队参数，零值使用默认
type EnqueueOptions struct {
	Priority    int
	MaxAttempts int
	Delay       time.Duration
}

// CycleResult 一次队列处理的统计
type CycleResult struct {
	Popped    int
	Succeeded int
	Retried   int
	Failed    int // 超过最大次数，工作项标记失败
	Discarded int
	Errors    int // 回写存储失败
}

// RetryQueueUseCase 补单重试队列
type RetryQueueUseCase struct {
	store    RetryQueueStore
	repo     ReplenishmentRepo
	executor ReplenishmentExecutor
	conf     *FulfillmentConfig
	orderLog *orderLogWriter
	log      *log.Helper
	metrics  *metrics.FulfillmentMetrics
	now      func() time.Time
}

// NewRetryQueueUseCase 创建重试队列 UseCase
func NewRetryQueueUseCase(
	store RetryQueueStore,
	repo ReplenishmentRepo,
	executor ReplenishmentExecutor,
	orderRepo OrderRepo,
	conf *FulfillmentConfig,
	logger log.Logger,
) *RetryQueueUseCase {
	return &RetryQueueUseCase{
		store:    store,
		repo:     repo,
		executor: executor,
		conf:     conf,
		orderLog: newOrderLogWriter(orderRepo, logger),
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
		now:      time.Now,
	}
}

// EnqueueRetryable 入队
func (uc *RetryQueueUseCase) EnqueueRetryable(ctx context.Context, workItemID, orderID string, opts EnqueueOptions) (*RetryJob, error) {
	if workItemID == "" || orderID == "" {
		return nil, fulfillmentErrors.ErrRetryJobInvalid
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = uc.conf.RetryDefaultMaxAttempts
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}

	now := uc.now()
	job := &RetryJob{
		ID:           uuid.New().String(),
		WorkItemID:   workItemID,
		OrderID:      orderID,
		Priority:     opts.Priority,
		MaxAttempts:  opts.MaxAttempts,
		CreatedAt:    now,
		ProcessAfter: now.Add(opts.Delay),
	}
	if err := uc.store.Push(ctx, job); err != nil {
		return nil, fulfillmentErrors.ErrQueueStoreUnavailable.WithCause(err)
	}
	uc.metrics.RetryEnqueueTotal.Inc()

	uc.orderLog.info(ctx, orderID, "replenishment queued for retry, job "+job.ID, map[string]interface{}{
		"job_id":       job.ID,
		"work_item_id": workItemID,
		"priority":     job.Priority,
		"max_attempts": job.MaxAttempts,
	})
	uc.log.Infof("retry job enqueued: job=%s, work_item=%s, order=%s, priority=%d", job.ID, workItemID, orderID, job.Priority)
	return job, nil
}

// RunCycle 弹出最多 concurrencyLimit 个就绪任务并发执行，不等待新任务
func (uc *RetryQueueUseCase) RunCycle(ctx context.Context, concurrencyLimit int) (*CycleResult, error) {
	if concurrencyLimit <= 0 {
		concurrencyLimit = uc.conf.RetryConcurrency
	}

	jobs := make([]*RetryJob, 0, concurrencyLimit)
	for len(jobs) < concurrencyLimit {
		job, err := uc.store.PopReady(ctx, uc.now())
		if err != nil {
			if len(jobs) == 0 {
				return nil, fulfillmentErrors.ErrQueueStoreUnavailable.WithCause(err)
			}
			uc.log.Errorf("pop retry job failed, processing %d popped jobs: %v", len(jobs), err)
			break
		}
		if job == nil {
			break
		}
		jobs = append(jobs, job)
	}

	var succeeded, retried, failed, discarded, errs atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(concurrencyLimit)
	for _, job := range jobs {
		g.Go(func() error {
			switch uc.process(ctx, job) {
			case constants.MetricResultSuccess:
				succeeded.Inc()
			case constants.MetricResultRetry:
				retried.Inc()
			case constants.MetricResultFailed:
				failed.Inc()
			case constants.MetricResultDiscard:
				discarded.Inc()
			default:
				errs.Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &CycleResult{
		Popped:    len(jobs),
		Succeeded: int(succeeded.Load()),
		Retried:   int(retried.Load()),
		Failed:    int(failed.Load()),
		Discarded: int(discarded.Load()),
		Errors:    int(errs.Load()),
	}
	if result.Popped > 0 {
		uc.log.Infof("retry cycle done: popped=%d, succeeded=%d, retried=%d, failed=%d, discarded=%d, errors=%d",
			result.Popped, result.Succeeded, result.Retried, result.Failed, result.Discarded, result.Errors)
	}
	return result, nil
}

// process 执行单个任务，返回指标结果
func (uc *RetryQueueUseCase) process(ctx context.Context, job *RetryJob) (result string) {
	defer func() {
		if r := recover(); r != nil {
			uc.log.Errorf("retry job panic: job=%s, panic=%v", job.ID, r)
			result = uc.handleFailure(ctx, job, fmt.Errorf("panic: %v", r))
		}
		uc.metrics.RetryJobTotal.WithLabelValues(result).Inc()
	}()

	item, err := uc.repo.GetReplenishment(ctx, job.WorkItemID)
	if err != nil {
		return uc.handleFailure(ctx, job, fmt.Errorf("load work item: %w", err))
	}
	if item == nil || !item.Eligible() {
		uc.log.Debugf("retry job discarded: job=%s, work_item=%s", job.ID, job.WorkItemID)
		return constants.MetricResultDiscard
	}
	// 上次标记失败未写成功而重新入队的任务，不再执行
	if job.Attempts >= job.MaxAttempts {
		return uc.exhaust(ctx, job)
	}

	refillID, err := uc.executor.Execute(ctx, item)
	if err != nil {
		return uc.handleFailure(ctx, job, err)
	}

	if err := uc.repo.UpdateReplenishmentStatus(ctx, item.ID, constants.ReplenishmentStatusProcessing, &ReplenishmentDetail{
		ExternalRefillID: refillID,
		Metadata:         map[string]interface{}{"attempts": job.Attempts + 1},
	}); err != nil {
		uc.log.Errorf("mark replenishment processing failed: work_item=%s, err=%v", item.ID, err)
		return constants.MetricResultError
	}
	uc.orderLog.info(ctx, job.OrderID, "replenishment submitted to provider", map[string]interface{}{
		"job_id":       job.ID,
		"work_item_id": job.WorkItemID,
		"refill_id":    refillID,
		"attempt":      job.Attempts + 1,
	})
	return constants.MetricResultSuccess
}

// handleFailure 未超过最大次数时退避重新入队，否则标记工作项失败
func (uc *RetryQueueUseCase) handleFailure(ctx context.Context, job *RetryJob, cause error) string {
	job.Attempts++
	job.LastError = cause.Error()

	if job.Attempts >= job.MaxAttempts {
		return uc.exhaust(ctx, job)
	}

	delay, err := uc.requeue(ctx, job)
	if err != nil {
		// 队列不可写，任务已出队；直接终结工作项，不能让它停留在 pending
		uc.log.Errorf("re-enqueue retry job failed, marking work item failed: job=%s, err=%v", job.ID, err)
		job.LastError = fmt.Sprintf("%s (re-enqueue failed: %v)", job.LastError, err)
		return uc.exhaust(ctx, job)
	}

	uc.orderLog.error(ctx, job.OrderID, fmt.Sprintf("replenishment attempt %d/%d failed: %s", job.Attempts, job.MaxAttempts, job.LastError), map[string]interface{}{
		"job_id":        job.ID,
		"work_item_id":  job.WorkItemID,
		"attempt":       job.Attempts,
		"error":         job.LastError,
		"process_after": job.ProcessAfter.UTC().Format(time.RFC3339),
		"backoff":       delay.String(),
	})
	return constants.MetricResultRetry
}

// exhaust 标记工作项失败；写库失败时任务带退避重新入队，下次出队直接重试标记
func (uc *RetryQueueUseCase) exhaust(ctx context.Context, job *RetryJob) string {
	summary := fmt.Sprintf("failed after %d attempts: %s", job.Attempts, job.LastError)
	if err := uc.repo.UpdateReplenishmentStatus(ctx, job.WorkItemID, constants.ReplenishmentStatusFailed, &ReplenishmentDetail{
		Error: summary,
		Metadata: map[string]interface{}{
			"attempts":     job.Attempts,
			"max_attempts": job.MaxAttempts,
			"last_error":   job.LastError,
			"failed_at":    uc.now().UTC().Format(time.RFC3339),
		},
	}); err != nil {
		uc.log.Errorf("mark replenishment failed failed: work_item=%s, err=%v", job.WorkItemID, err)
		if _, pushErr := uc.requeue(ctx, job); pushErr != nil {
			uc.log.Errorf("retry job lost: job=%s, work_item=%s, mark_err=%v, push_err=%v", job.ID, job.WorkItemID, err, pushErr)
		}
		return constants.MetricResultError
	}
	uc.orderLog.error(ctx, job.OrderID, "replenishment permanently failed: "+summary, map[string]interface{}{
		"job_id":       job.ID,
		"work_item_id": job.WorkItemID,
		"attempts":     job.Attempts,
		"error":        job.LastError,
	})
	uc.log.Warnf("retry job exhausted: job=%s, work_item=%s, attempts=%d", job.ID, job.WorkItemID, job.Attempts)
	return constants.MetricResultFailed
}

// requeue 按退避重新入队；首次失败后用独立的短超时 context 再试一次
func (uc *RetryQueueUseCase) requeue(ctx context.Context, job *RetryJob) (time.Duration, error) {
	delay := Backoff(uc.conf.RetryBaseDelay, job.Attempts)
	job.ProcessAfter = uc.now().Add(delay)

	err := uc.store.Push(ctx, job)
	if err != nil {
		uc.log.Warnf("re-enqueue retry job failed, retrying once: job=%s, err=%v", job.ID, err)
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
		defer cancel()
		err = uc.store.Push(pushCtx, job)
	}
	if err != nil {
		return 0, err
	}
	uc.metrics.RetryBackoffSecond.Observe(delay.Seconds())
	return delay, nil
}

// Backoff 第 attempts 次失败后的延迟：base * 2^(attempts-1)，溢出时取最大值
func Backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	factor := math.Pow(2, float64(attempts-1))
	d := float64(base) * factor
	if d >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
