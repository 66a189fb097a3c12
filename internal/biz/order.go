package biz

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fulfillment-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = constants.OrderStatusPending
	OrderStatusProcessing OrderStatus = constants.OrderStatusProcessing
	OrderStatusCompleted  OrderStatus = constants.OrderStatusCompleted
	OrderStatusFailed     OrderStatus = constants.OrderStatusFailed
	OrderStatusCancelled  OrderStatus = constants.OrderStatusCancelled
	OrderStatusPartial    OrderStatus = constants.OrderStatusPartial
)

// Order 订单（由外部存储持有，核心只读写派单相关字段）
type Order struct {
	ID                string
	Status            OrderStatus
	ProviderID        string // 为空表示尚未分配
	ExternalOrderID   string // 供应商返回的订单号，非空即已派单
	ServiceID         string // 内部服务 ID，不能直接发给供应商
	ExternalServiceID string
	TargetUsername    string
	TargetURL         string
	Quantity          int
	Amount            float64
	ProviderResponse  map[string]interface{}
	Metadata          map[string]interface{}
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MetaString 读取 metadata 中的字符串字段（数字会被格式化）
func (o *Order) MetaString(key string) string {
	if o.Metadata == nil {
		return ""
	}
	switch v := o.Metadata[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// ProviderServiceID 返回供应商侧服务 ID：优先字段，其次 metadata.external_service_id
func (o *Order) ProviderServiceID() string {
	if id := strings.TrimSpace(o.ExternalServiceID); id != "" {
		return id
	}
	return o.MetaString(constants.MetaExternalServiceID)
}

// Dispatched 是否已派单
func (o *Order) Dispatched() bool {
	return o.ExternalOrderID != ""
}

// OrderUpdate 订单部分更新，nil 字段不更新
type OrderUpdate struct {
	Status           *OrderStatus
	ProviderID       *string
	ExternalOrderID  *string
	ProviderResponse map[string]interface{}
	Metadata         map[string]interface{}
	CompletedAt      *time.Time

	// 条件更新
	OnlyIfUndispatched bool        // 仅当 external_order_id 为空
	ExpectedStatus     OrderStatus // 非空时要求当前状态一致
}

// OrderOrderBy 排序方式
type OrderOrderBy string

const (
	OrderByCreatedAsc OrderOrderBy = "created_at ASC"
	OrderByUpdatedAsc OrderOrderBy = "updated_at ASC"
)

// OrderFilter 订单查询条件
type OrderFilter struct {
	Status                 OrderStatus
	RequireProvider        bool
	RequireExternalOrderID bool
}

// OrderLog 订单日志（追加写）
type OrderLog struct {
	ID        string
	OrderID   string
	Level     string // info/warning/error
	Message   string
	Data      map[string]interface{}
	CreatedAt time.Time
}

// OrderRepo 订单存储接口
type OrderRepo interface {
	// GetOrder 不存在时返回 nil, nil
	GetOrder(ctx context.Context, id string) (*Order, error)
	// UpdateOrder 返回是否有行被更新（条件不满足时为 false）
	UpdateOrder(ctx context.Context, id string, update *OrderUpdate) (bool, error)
	FindOrders(ctx context.Context, filter *OrderFilter, limit int, orderBy OrderOrderBy) ([]*Order, error)
	AppendOrderLog(ctx context.Context, entry *OrderLog) error
}

// orderLogWriter 写订单日志，写失败只记录进程日志，不影响主流程
type orderLogWriter struct {
	repo OrderRepo
	log  *log.Helper
}

func newOrderLogWriter(repo OrderRepo, logger log.Logger) *orderLogWriter {
	return &orderLogWriter{repo: repo, log: log.NewHelper(logger)}
}

func (w *orderLogWriter) write(ctx context.Context, orderID, level, message string, data map[string]interface{}) {
	entry := &OrderLog{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Level:     level,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now(),
	}
	if err := w.repo.AppendOrderLog(ctx, entry); err != nil {
		w.log.Errorf("append order log failed: order=%s, level=%s, message=%s, err=%v", orderID, level, message, err)
	}
}

func (w *orderLogWriter) info(ctx context.Context, orderID, message string, data map[string]interface{}) {
	w.write(ctx, orderID, constants.LogLevelInfo, message, data)
}

func (w *orderLogWriter) warning(ctx context.Context, orderID, message string, data map[string]interface{}) {
	w.write(ctx, orderID, constants.LogLevelWarning, message, data)
}

func (w *orderLogWriter) error(ctx context.Context, orderID, message string, data map[string]interface{}) {
	w.write(ctx, orderID, constants.LogLevelError, message, data)
}

// copyMap 浅拷贝，避免修改调用方持有的 map
func copyMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
