package biz

import (
	"context"
	"sort"
	"strings"

	"fulfillment-service/internal/constants"
	fulfillmentErrors "fulfillment-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// Resolution 供应商选择结果
type Resolution struct {
	ProviderID string
	Reason     string // specialized_match/priority_default/fallback
}

// ResolverUseCase 供应商选择
type ResolverUseCase struct {
	orderRepo    OrderRepo
	providerRepo ProviderRepo
	conf         *FulfillmentConfig
	orderLog     *orderLogWriter
	log          *log.Helper
}

// NewResolverUseCase 创建供应商选择 UseCase
func NewResolverUseCase(orderRepo OrderRepo, providerRepo ProviderRepo, conf *FulfillmentConfig, logger log.Logger) *ResolverUseCase {
	return &ResolverUseCase{
		orderRepo:    orderRepo,
		providerRepo: providerRepo,
		conf:         conf,
		orderLog:     newOrderLogWriter(orderRepo, logger),
		log:          log.NewHelper(logger),
	}
}

// ResolveProvider 为订单选择供应商并写回 provider_id；已分配时直接返回
func (uc *ResolverUseCase) ResolveProvider(ctx context.Context, orderID string) (string, error) {
	order, err := uc.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", fulfillmentErrors.ErrOrderNotFound
	}
	if order.ProviderID != "" {
		return order.ProviderID, nil
	}
	res, err := uc.resolve(ctx, order)
	if err != nil {
		return "", err
	}
	return res.ProviderID, nil
}

// resolve 选择供应商并持久化，order.ProviderID 同步更新
func (uc *ResolverUseCase) resolve(ctx context.Context, order *Order) (*Resolution, error) {
	providers, err := uc.providerRepo.ListActiveProviders(ctx)
	if err != nil {
		return nil, err
	}

	var active []*Provider
	for _, p := range providers {
		if p != nil && p.Active {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		uc.log.Warnf("no active provider: order=%s", order.ID)
		return nil, fulfillmentErrors.ErrProviderNotFound
	}
	sortProviders(active)

	serviceType := order.MetaString(constants.MetaServiceType)
	platform := order.MetaString(constants.MetaPlatform)
	if platform == "" {
		platform = uc.conf.DefaultPlatform
	}
	subType := order.MetaString(constants.MetaSubType)

	res := selectProvider(active, serviceType, platform, subType)

	if _, err := uc.orderRepo.UpdateOrder(ctx, order.ID, &OrderUpdate{ProviderID: &res.ProviderID}); err != nil {
		return nil, err
	}
	order.ProviderID = res.ProviderID

	data := map[string]interface{}{
		"provider_id":  res.ProviderID,
		"reason":       res.Reason,
		"service_type": serviceType,
		"platform":     platform,
	}
	if subType != "" {
		data["sub_type"] = subType
	}
	if res.Reason == constants.ResolveReasonFallback {
		uc.orderLog.warning(ctx, order.ID, "no capability-matching provider, assigned fallback provider "+res.ProviderID, data)
	} else {
		uc.orderLog.info(ctx, order.ID, "assigned provider "+res.ProviderID+" ("+res.Reason+")", data)
	}
	uc.log.Infof("provider resolved: order=%s, provider=%s, reason=%s", order.ID, res.ProviderID, res.Reason)
	return res, nil
}

// selectProvider 在已排序的活跃供应商中选择；active 不能为空
func selectProvider(active []*Provider, serviceType, platform, subType string) *Resolution {
	var candidates []*Provider
	for _, p := range active {
		if p.Capabilities.SupportsServiceType(serviceType) || p.Capabilities.SupportsPlatform(platform) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return &Resolution{ProviderID: active[0].ID, Reason: constants.ResolveReasonFallback}
	}
	if subType != "" {
		for _, p := range candidates {
			if p.Capabilities.RecommendedForSubType(subType) {
				return &Resolution{ProviderID: p.ID, Reason: constants.ResolveReasonSpecialized}
			}
		}
	}
	return &Resolution{ProviderID: candidates[0].ID, Reason: constants.ResolveReasonPriority}
}

func sortProviders(providers []*Provider) {
	sort.SliceStable(providers, func(i, j int) bool {
		pi, pj := providers[i].Capabilities.Priority, providers[j].Capabilities.Priority
		if pi != pj {
			return pi < pj
		}
		return strings.Compare(providers[i].ID, providers[j].ID) < 0
	})
}
