package errors

import (
	"github.com/go-kratos/kratos/v2/errors"
)

// Fulfillment Service 错误原因定义
// 使用 kratos errors：Code 对应 HTTP 语义，Reason 为稳定的机器可读标识，
// 通过 errors.Is 比较 Code + Reason。

// 订单模块
const (
	ReasonOrderNotFound = "ORDER_NOT_FOUND"
)

// 供应商模块
const (
	ReasonProviderNotFound = "PROVIDER_NOT_FOUND"
)

// 重试队列模块
const (
	ReasonQueueStoreUnavailable = "QUEUE_STORE_UNAVAILABLE"
	ReasonRetryJobInvalid       = "RETRY_JOB_INVALID"
)

// 调度模块
const (
	ReasonLockNotAcquired = "LOCK_NOT_ACQUIRED"
	ReasonSweepInProgress = "SWEEP_IN_PROGRESS"
)

// 通用
const (
	ReasonInvalidConfig = "INVALID_CONFIG"
)

var (
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.NotFound(ReasonOrderNotFound, "order not found")
	// ErrProviderNotFound 无可用供应商
	ErrProviderNotFound = errors.NotFound(ReasonProviderNotFound, "no active provider available")
	// ErrQueueStoreUnavailable 重试队列存储不可用
	ErrQueueStoreUnavailable = errors.ServiceUnavailable(ReasonQueueStoreUnavailable, "retry queue store unavailable")
	// ErrRetryJobInvalid 重试任务参数非法
	ErrRetryJobInvalid = errors.BadRequest(ReasonRetryJobInvalid, "retry job is invalid")
	// ErrLockNotAcquired 分布式锁被占用
	ErrLockNotAcquired = errors.Conflict(ReasonLockNotAcquired, "lock not acquired")
	// ErrSweepInProgress 其他实例正在执行同类批处理
	ErrSweepInProgress = errors.Conflict(ReasonSweepInProgress, "sweep already running elsewhere")
	// ErrInvalidConfig 配置非法
	ErrInvalidConfig = errors.InternalServer(ReasonInvalidConfig, "invalid configuration")
)
