package constants

// 订单状态常量
const (
	// OrderStatusPending 待派单
	OrderStatusPending = "pending"
	// OrderStatusProcessing 已派单，供应商处理中
	OrderStatusProcessing = "processing"
	// OrderStatusCompleted 已完成
	OrderStatusCompleted = "completed"
	// OrderStatusFailed 失败
	OrderStatusFailed = "failed"
	// OrderStatusCancelled 已取消（外部驱动，核心不会设置）
	OrderStatusCancelled = "cancelled"
	// OrderStatusPartial 部分完成
	OrderStatusPartial = "partial"
)

// 补单（replenishment）状态常量
const (
	ReplenishmentStatusPending    = "pending"
	ReplenishmentStatusProcessing = "processing"
	ReplenishmentStatusCompleted  = "completed"
	ReplenishmentStatusFailed     = "failed"
)

// 订单日志级别
const (
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// 订单 metadata 中的分类提示与簿记字段
const (
	MetaServiceType       = "service_type"
	MetaPlatform          = "platform"
	MetaSubType           = "sub_type"
	MetaExternalServiceID = "external_service_id"
	MetaDispatchedAt      = "dispatched_at"
)

// 默认平台
const DefaultPlatform = "instagram"

// 供应商 API action
const (
	ProviderActionAdd    = "add"
	ProviderActionStatus = "status"
	ProviderActionRefill = "refill"
)

// 供应商选择原因
const (
	ResolveReasonSpecialized = "specialized_match"
	ResolveReasonPriority    = "priority_default"
	ResolveReasonFallback    = "fallback"
)

// 批处理类型
const (
	SweepKindPendingDispatch = "pending_dispatch"
	SweepKindStatusCheck     = "status_check"
)

// 批处理单项结果
const (
	SweepItemSuccess = "success"
	SweepItemFailure = "failure"
	SweepItemError   = "error"
)

// Redis Key 前缀常量
const (
	// RedisKeyProviderActive 活跃供应商列表缓存
	RedisKeyProviderActive = "provider:active"
	// RedisKeyProvider 单个供应商缓存 key 前缀
	RedisKeyProvider = "provider:id:"
	// RedisKeyDispatchLock 派单锁 key 前缀
	RedisKeyDispatchLock = "dispatch:lock:"
	// RedisKeySweepLock 批处理锁 key 前缀
	RedisKeySweepLock = "sweep:lock:"
	// RedisKeyRetryQueuePrefix 重试队列 key 默认前缀
	RedisKeyRetryQueuePrefix = "fulfillment:retry"
)

// 指标 label 取值
const (
	MetricResultSuccess = "success"
	MetricResultFailed  = "failed"
	MetricResultRetry   = "retry"
	MetricResultDiscard = "discard"
	MetricResultSkipped = "skipped"
	MetricResultError   = "error"
)
