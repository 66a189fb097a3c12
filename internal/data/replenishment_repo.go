package data

import (
	"context"
	"errors"
	"fmt"

	"fulfillment-service/internal/biz"
	"fulfillment-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type replenishmentRepo struct {
	data *Data
	log  *log.Helper
}

// NewReplenishmentRepo 创建补单 repo（返回 biz.ReplenishmentRepo 接口）
func NewReplenishmentRepo(data *Data, logger log.Logger) biz.ReplenishmentRepo {
	return &replenishmentRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetReplenishment 获取补单记录
func (r *replenishmentRepo) GetReplenishment(ctx context.Context, id string) (*biz.Replenishment, error) {
	var m model.Replenishment
	if err := r.data.db.WithContext(ctx).Where("replenishment_id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorf("GetReplenishment failed: id=%s, error=%v", id, err)
		return nil, fmt.Errorf("failed to query replenishment: %w", err)
	}
	return &biz.Replenishment{
		ID:               m.ReplenishmentID,
		OrderID:          m.OrderID,
		Status:           m.Status,
		Quantity:         m.Quantity,
		ExternalRefillID: m.ExternalRefillID,
		Error:            m.Error,
		Metadata:         map[string]interface{}(m.Metadata),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}, nil
}

// UpdateReplenishmentStatus 更新补单状态，metadata 与已有值合并
func (r *replenishmentRepo) UpdateReplenishmentStatus(ctx context.Context, id, status string, detail *biz.ReplenishmentDetail) error {
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.Replenishment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("replenishment_id = ?", id).
			First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("failed to lock replenishment: %w", err)
		}

		updates := map[string]interface{}{"status": status}
		if detail != nil {
			if detail.ExternalRefillID != "" {
				updates["external_refill_id"] = detail.ExternalRefillID
			}
			if detail.Error != "" {
				updates["error"] = truncate(detail.Error, 1024)
			}
			if len(detail.Metadata) > 0 {
				merged := datatypes.JSONMap{}
				for k, v := range m.Metadata {
					merged[k] = v
				}
				for k, v := range detail.Metadata {
					merged[k] = v
				}
				updates["metadata"] = merged
			}
		}
		if err := tx.Model(&model.Replenishment{}).Where("replenishment_id = ?", id).Updates(updates).Error; err != nil {
			r.log.Errorf("UpdateReplenishmentStatus failed: id=%s, status=%s, error=%v", id, status, err)
			return fmt.Errorf("failed to update replenishment: %w", err)
		}
		return nil
	})
}
