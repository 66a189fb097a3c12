package model

import (
	"time"

	"gorm.io/datatypes"
)

// Replenishment 补单表
type Replenishment struct {
	ReplenishmentID  string            `gorm:"primaryKey;type:varchar(36)"`
	OrderID          string            `gorm:"type:varchar(36);not null;index"`
	Status           string            `gorm:"type:varchar(16);not null"`
	Quantity         int               `gorm:"default:0"`
	ExternalRefillID string            `gorm:"type:varchar(64)"`
	Error            string            `gorm:"type:varchar(1024)"`
	Metadata         datatypes.JSONMap `gorm:"type:json"`
	CreatedAt        time.Time         `gorm:"autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Replenishment) TableName() string {
	return "replenishment"
}
