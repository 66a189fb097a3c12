package model

import (
	"time"

	"gorm.io/datatypes"
)

// Provider 供应商表（后台维护，派单核心只读）
type Provider struct {
	ProviderID string            `gorm:"primaryKey;type:varchar(36)"`
	Name       string            `gorm:"type:varchar(64);not null"`
	APIKey     string            `gorm:"column:api_key;type:varchar(128)"`
	APIURL     string            `gorm:"column:api_url;type:varchar(255)"`
	Status     string            `gorm:"type:varchar(16);not null;index"` // active/inactive
	Metadata   datatypes.JSONMap `gorm:"type:json"`
	CreatedAt  time.Time         `gorm:"autoCreateTime"`
	UpdatedAt  time.Time         `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Provider) TableName() string {
	return "provider"
}

const (
	ProviderStatusActive   = "active"
	ProviderStatusInactive = "inactive"
)
