package model

import (
	"time"

	"gorm.io/datatypes"
)

// BatchRun 批处理执行记录
type BatchRun struct {
	BatchRunID string         `gorm:"primaryKey;type:varchar(36)"`
	Kind       string         `gorm:"type:varchar(32);not null;index:idx_kind_started,priority:1"`
	StartedAt  time.Time      `gorm:"index:idx_kind_started,priority:2"`
	FinishedAt time.Time
	Total      int            `gorm:"default:0"`
	Succeeded  int            `gorm:"default:0"`
	Failed     int            `gorm:"default:0"`
	Errored    int            `gorm:"default:0"`
	Items      datatypes.JSON `gorm:"type:json"` // []BatchItem
	CreatedAt  time.Time      `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (BatchRun) TableName() string {
	return "batch_run"
}

// BatchItem 批处理单项（Items 列的元素）
type BatchItem struct {
	OrderID string `json:"order_id"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}
