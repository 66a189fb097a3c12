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
)

// orderRepo 订单与订单日志数据访问
type orderRepo struct {
	data *Data
	log  *log.Helper
}

// NewOrderRepo 创建订单 repo（返回 biz.OrderRepo 接口）
func NewOrderRepo(data *Data, logger log.Logger) biz.OrderRepo {
	return &orderRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetOrder 获取订单
func (r *orderRepo) GetOrder(ctx context.Context, id string) (*biz.Order, error) {
	var m model.Order
	if err := r.data.db.WithContext(ctx).Where("order_id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorf("GetOrder failed: order=%s, error=%v", id, err)
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	return orderToBiz(&m), nil
}

// UpdateOrder 部分更新订单，支持条件更新
func (r *orderRepo) UpdateOrder(ctx context.Context, id string, u *biz.OrderUpdate) (bool, error) {
	updates := orderUpdateColumns(u)
	if len(updates) == 0 {
		return false, nil
	}

	tx := r.data.db.WithContext(ctx).Model(&model.Order{}).Where("order_id = ?", id)
	if u.OnlyIfUndispatched {
		tx = tx.Where("(external_order_id IS NULL OR external_order_id = '')")
	}
	if u.ExpectedStatus != "" {
		tx = tx.Where("status = ?", string(u.ExpectedStatus))
	}
	res := tx.Updates(updates)
	if res.Error != nil {
		r.log.Errorf("UpdateOrder failed: order=%s, error=%v", id, res.Error)
		return false, fmt.Errorf("failed to update order: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// FindOrders 按条件查询订单
func (r *orderRepo) FindOrders(ctx context.Context, f *biz.OrderFilter, limit int, orderBy biz.OrderOrderBy) ([]*biz.Order, error) {
	tx := r.data.db.WithContext(ctx).Model(&model.Order{})
	if f != nil {
		if f.Status != "" {
			tx = tx.Where("status = ?", string(f.Status))
		}
		if f.RequireProvider {
			tx = tx.Where("provider_id IS NOT NULL AND provider_id <> ''")
		}
		if f.RequireExternalOrderID {
			tx = tx.Where("external_order_id IS NOT NULL AND external_order_id <> ''")
		}
	}
	if orderBy == "" {
		orderBy = biz.OrderByCreatedAsc
	}
	tx = tx.Order(string(orderBy))
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	var ms []model.Order
	if err := tx.Find(&ms).Error; err != nil {
		r.log.Errorf("FindOrders failed: filter=%+v, error=%v", f, err)
		return nil, fmt.Errorf("failed to find orders: %w", err)
	}
	out := make([]*biz.Order, 0, len(ms))
	for i := range ms {
		out = append(out, orderToBiz(&ms[i]))
	}
	return out, nil
}

// AppendOrderLog 写订单日志
func (r *orderRepo) AppendOrderLog(ctx context.Context, entry *biz.OrderLog) error {
	m := &model.OrderLog{
		OrderLogID: entry.ID,
		OrderID:    entry.OrderID,
		Level:      entry.Level,
		Message:    truncate(entry.Message, 512),
		Data:       datatypes.JSONMap(entry.Data),
		CreatedAt:  entry.CreatedAt,
	}
	if err := r.data.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to append order log: %w", err)
	}
	return nil
}

func orderUpdateColumns(u *biz.OrderUpdate) map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Status != nil {
		updates["status"] = string(*u.Status)
	}
	if u.ProviderID != nil {
		updates["provider_id"] = *u.ProviderID
	}
	if u.ExternalOrderID != nil {
		updates["external_order_id"] = *u.ExternalOrderID
	}
	if u.ProviderResponse != nil {
		updates["provider_response"] = datatypes.JSONMap(u.ProviderResponse)
	}
	if u.Metadata != nil {
		updates["metadata"] = datatypes.JSONMap(u.Metadata)
	}
	if u.CompletedAt != nil {
		updates["completed_at"] = *u.CompletedAt
	}
	return updates
}

func orderToBiz(m *model.Order) *biz.Order {
	o := &biz.Order{
		ID:                m.OrderID,
		Status:            biz.OrderStatus(m.Status),
		ServiceID:         m.ServiceID,
		ExternalServiceID: m.ExternalServiceID,
		TargetUsername:    m.TargetUsername,
		TargetURL:         m.TargetURL,
		Quantity:          m.Quantity,
		Amount:            m.Amount,
		ProviderResponse:  map[string]interface{}(m.ProviderResponse),
		Metadata:          map[string]interface{}(m.Metadata),
		CompletedAt:       m.CompletedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.ProviderID != nil {
		o.ProviderID = *m.ProviderID
	}
	if m.ExternalOrderID != nil {
		o.ExternalOrderID = *m.ExternalOrderID
	}
	return o
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
