package data

import (
	"context"
	"encoding/json"
	"fmt"

	"fulfillment-service/internal/biz"
	"fulfillment-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/datatypes"
)

type batchRunRepo struct {
	data *Data
	log  *log.Helper
}

// NewBatchRunRepo 创建批处理记录 repo
func NewBatchRunRepo(data *Data, logger log.Logger) biz.BatchRunRepo {
	return &batchRunRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreateBatchRun 保存批处理摘要
func (r *batchRunRepo) CreateBatchRun(ctx context.Context, run *biz.BatchRun) error {
	m, err := batchRunToModel(run)
	if err != nil {
		return err
	}
	if err := r.data.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create batch run: %w", err)
	}
	return nil
}

func batchRunToModel(run *biz.BatchRun) (*model.BatchRun, error) {
	items := make([]model.BatchItem, 0, len(run.Items))
	for _, it := range run.Items {
		if it == nil {
			continue
		}
		items = append(items, model.BatchItem{OrderID: it.OrderID, Outcome: it.Outcome, Detail: it.Detail})
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch items: %w", err)
	}
	return &model.BatchRun{
		BatchRunID: run.ID,
		Kind:       run.Kind,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Total:      run.Total,
		Succeeded:  run.Succeeded,
		Failed:     run.Failed,
		Errored:    run.Errored,
		Items:      datatypes.JSON(raw),
	}, nil
}
