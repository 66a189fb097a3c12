package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FulfillmentMetrics 派单服务指标
type FulfillmentMetrics struct {
	// 派单相关指标
	DispatchTotal    *prometheus.CounterVec // 派单总数（按结果）
	DispatchDuration prometheus.Histogram   // 派单耗时

	// 供应商调用
	ProviderCallTotal    *prometheus.CounterVec   // 供应商调用总数（按 action、结果）
	ProviderCallDuration *prometheus.HistogramVec // 供应商调用耗时（按 action）

	// 状态流转
	StatusTransitionTotal *prometheus.CounterVec // 状态变更总数（按目标状态）

	// 重试队列
	RetryJobTotal      *prometheus.CounterVec // 重试任务处理总数（按结果）
	RetryBackoffSecond prometheus.Histogram   // 退避时长分布
	RetryEnqueueTotal  prometheus.Counter     // 入队总数

	// 批处理
	SweepRunTotal  *prometheus.CounterVec   // 批处理执行次数（按类型、结果）
	SweepItemTotal *prometheus.CounterVec   // 批处理单项结果（按类型、结果）
	SweepDuration  *prometheus.HistogramVec // 批处理耗时（按类型）

	// 分布式锁相关指标
	LockAcquireTotal *prometheus.CounterVec // 锁获取总数（按 scope、结果）
}

// NewFulfillmentMetrics 创建派单服务指标
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return &FulfillmentMetrics{
		DispatchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_dispatch_total",
				Help: "Total number of dispatch attempts",
			},
			[]string{"outcome"}, // dispatched/already_dispatched/no_provider/...
		),
		DispatchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fulfillment_dispatch_duration_seconds",
				Help:    "Duration of dispatch operations",
				Buckets: prometheus.DefBuckets,
			},
		),

		ProviderCallTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_provider_call_total",
				Help: "Total number of provider API calls",
			},
			[]string{"action", "result"},
		),
		ProviderCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fulfillment_provider_call_duration_seconds",
				Help:    "Duration of provider API calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"action"},
		),

		StatusTransitionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_status_transition_total",
				Help: "Total number of order status transitions",
			},
			[]string{"to"},
		),

		RetryJobTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_retry_job_total",
				Help: "Total number of retry jobs processed",
			},
			[]string{"result"}, // success/retry/failed/discard
		),
		RetryBackoffSecond: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fulfillment_retry_backoff_seconds",
				Help:    "Backoff delay applied to re-enqueued jobs",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
		),
		RetryEnqueueTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fulfillment_retry_enqueue_total",
				Help: "Total number of retry jobs enqueued",
			},
		),

		SweepRunTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_sweep_run_total",
				Help: "Total number of sweep runs",
			},
			[]string{"kind", "result"},
		),
		SweepItemTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_sweep_item_total",
				Help: "Total number of orders processed by sweeps",
			},
			[]string{"kind", "outcome"},
		),
		SweepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fulfillment_sweep_duration_seconds",
				Help:    "Duration of sweep runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_lock_acquire_total",
				Help: "Total number of lock acquisition attempts",
			},
			[]string{"scope", "result"},
		),
	}
}

// 全局指标实例
var (
	defaultMetrics *FulfillmentMetrics
	initOnce       sync.Once
)

// InitMetrics 初始化全局指标（重复调用只注册一次）
func InitMetrics() {
	initOnce.Do(func() {
		defaultMetrics = NewFulfillmentMetrics()
	})
}

// GetMetrics 获取全局指标实例
func GetMetrics() *FulfillmentMetrics {
	InitMetrics()
	return defaultMetrics
}
