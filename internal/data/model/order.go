package model

import (
	"time"

	"gorm.io/datatypes"
)

// Order 订单表（由下单流程创建，派单核心只更新派单相关字段）
type Order struct {
	OrderID           string            `gorm:"primaryKey;type:varchar(36)"`
	Status            string            `gorm:"type:varchar(16);not null;index:idx_status_created,priority:1"`
	ProviderID        *string           `gorm:"type:varchar(36);index"`
	ExternalOrderID   *string           `gorm:"type:varchar(64)"`
	ServiceID         string            `gorm:"type:varchar(36)"`
	ExternalServiceID string            `gorm:"type:varchar(64)"`
	TargetUsername    string            `gorm:"type:varchar(128)"`
	TargetURL         string            `gorm:"type:varchar(512)"`
	Quantity          int               `gorm:"default:0"`
	Amount            float64           `gorm:"type:decimal(10,2);default:0.00"`
	ProviderResponse  datatypes.JSONMap `gorm:"type:json"`
	Metadata          datatypes.JSONMap `gorm:"type:json"`
	CompletedAt       *time.Time
	CreatedAt         time.Time `gorm:"autoCreateTime;index:idx_status_created,priority:2"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}

// OrderLog 订单日志表（追加写）
type OrderLog struct {
	OrderLogID string            `gorm:"primaryKey;type:varchar(36)"`
	OrderID    string            `gorm:"type:varchar(36);not null;index:idx_order_created,priority:1"`
	Level      string            `gorm:"type:varchar(16);not null"`
	Message    string            `gorm:"type:varchar(512)"`
	Data       datatypes.JSONMap `gorm:"type:json"`
	CreatedAt  time.Time         `gorm:"autoCreateTime;index:idx_order_created,priority:2"`
}

// TableName 指定表名
func (OrderLog) TableName() string {
	return "order_log"
}
