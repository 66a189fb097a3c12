package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"fulfillment-service/internal/biz"
	"fulfillment-service/internal/constants"
	"fulfillment-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/tidwall/gjson"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// providerRepo 供应商数据访问（Redis 短 TTL 缓存 + MySQL）
type providerRepo struct {
	data *Data
	ttl  time.Duration
	log  *log.Helper
}

// NewProviderRepo 创建供应商 repo（返回 biz.ProviderRepo 接口）
func NewProviderRepo(data *Data, conf *biz.FulfillmentConfig, logger log.Logger) biz.ProviderRepo {
	return &providerRepo{
		data: data,
		ttl:  conf.ProviderCacheTTL,
		log:  log.NewHelper(logger),
	}
}

// cachedProvider 缓存结构
type cachedProvider struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	APIKey         string   `json:"api_key"`
	APIURL         string   `json:"api_url"`
	Active         bool     `json:"active"`
	ServiceTypes   []string `json:"service_types,omitempty"`
	Services       []string `json:"services,omitempty"`
	PrimaryService string   `json:"primary_service,omitempty"`
	Priority       int      `json:"priority"`
	RecommendedFor []string `json:"recommended_for,omitempty"`
}

// ListActiveProviders 获取活跃供应商，按 priority、id 升序
func (r *providerRepo) ListActiveProviders(ctx context.Context) ([]*biz.Provider, error) {
	// 先尝试从 Redis 获取
	if cached, err := r.data.rdb.Get(ctx, constants.RedisKeyProviderActive).Bytes(); err == nil {
		var items []cachedProvider
		if err := json.Unmarshal(cached, &items); err == nil {
			out := make([]*biz.Provider, 0, len(items))
			for i := range items {
				out = append(out, items[i].toBiz())
			}
			return out, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		r.log.Warnf("read provider cache failed: %v", err)
	}

	// 缓存未命中，从数据库查询
	var ms []model.Provider
	if err := r.data.db.WithContext(ctx).Where("status = ?", model.ProviderStatusActive).Find(&ms).Error; err != nil {
		r.log.Errorf("ListActiveProviders failed: error=%v", err)
		return nil, fmt.Errorf("failed to query active providers: %w", err)
	}

	providers := make([]*biz.Provider, 0, len(ms))
	for i := range ms {
		providers = append(providers, providerToBiz(&ms[i]))
	}
	sort.SliceStable(providers, func(i, j int) bool {
		if providers[i].Capabilities.Priority != providers[j].Capabilities.Priority {
			return providers[i].Capabilities.Priority < providers[j].Capabilities.Priority
		}
		return providers[i].ID < providers[j].ID
	})

	items := make([]cachedProvider, 0, len(providers))
	for _, p := range providers {
		items = append(items, toCached(p))
	}
	r.setCache(constants.RedisKeyProviderActive, items)
	return providers, nil
}

// GetProvider 获取供应商（含非活跃）
func (r *providerRepo) GetProvider(ctx context.Context, id string) (*biz.Provider, error) {
	if id == "" {
		return nil, nil
	}
	key := constants.RedisKeyProvider + id
	if cached, err := r.data.rdb.Get(ctx, key).Bytes(); err == nil {
		var item cachedProvider
		if err := json.Unmarshal(cached, &item); err == nil {
			return item.toBiz(), nil
		}
	}

	var m model.Provider
	if err := r.data.db.WithContext(ctx).Where("provider_id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorf("GetProvider failed: provider=%s, error=%v", id, err)
		return nil, fmt.Errorf("failed to query provider: %w", err)
	}
	p := providerToBiz(&m)
	r.setCache(key, toCached(p))
	return p, nil
}

// setCache 异步写缓存，失败不影响主流程
func (r *providerRepo) setCache(key string, value interface{}) {
	if r.ttl <= 0 {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	go func() {
		cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cacheCancel()
		if err := r.data.rdb.Set(cacheCtx, key, payload, r.ttl).Err(); err != nil {
			r.log.Warnf("failed to update provider cache: key=%s, err=%v", key, err)
		}
	}()
}

func providerToBiz(m *model.Provider) *biz.Provider {
	return &biz.Provider{
		ID:           m.ProviderID,
		Name:         m.Name,
		APIKey:       m.APIKey,
		APIURL:       m.APIURL,
		Active:       m.Status == model.ProviderStatusActive,
		Capabilities: decodeCapabilities(m.Metadata),
	}
}

// decodeCapabilities 解析供应商 metadata；字段既可能是数组也可能是逗号分隔字符串
func decodeCapabilities(meta datatypes.JSONMap) biz.ProviderCapabilities {
	if len(meta) == 0 {
		return biz.ProviderCapabilities{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return biz.ProviderCapabilities{}
	}
	doc := gjson.ParseBytes(raw)
	return biz.ProviderCapabilities{
		ServiceTypes:   stringList(doc.Get("service_types")),
		Services:       stringList(doc.Get("services")),
		PrimaryService: strings.TrimSpace(doc.Get("primary_service").String()),
		Priority:       int(doc.Get("priority").Int()),
		RecommendedFor: stringList(doc.Get("recommended_for")),
	}
}

func stringList(v gjson.Result) []string {
	if !v.Exists() {
		return nil
	}
	var out []string
	if v.IsArray() {
		for _, item := range v.Array() {
			if s := strings.TrimSpace(item.String()); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	for _, part := range strings.Split(v.String(), ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toCached(p *biz.Provider) cachedProvider {
	return cachedProvider{
		ID:             p.ID,
		Name:           p.Name,
		APIKey:         p.APIKey,
		APIURL:         p.APIURL,
		Active:         p.Active,
		ServiceTypes:   p.Capabilities.ServiceTypes,
		Services:       p.Capabilities.Services,
		PrimaryService: p.Capabilities.PrimaryService,
		Priority:       p.Capabilities.Priority,
		RecommendedFor: p.Capabilities.RecommendedFor,
	}
}

func (c *cachedProvider) toBiz() *biz.Provider {
	return &biz.Provider{
		ID:     c.ID,
		Name:   c.Name,
		APIKey: c.APIKey,
		APIURL: c.APIURL,
		Active: c.Active,
		Capabilities: biz.ProviderCapabilities{
			ServiceTypes:   c.ServiceTypes,
			Services:       c.Services,
			PrimaryService: c.PrimaryService,
			Priority:       c.Priority,
			RecommendedFor: c.RecommendedFor,
		},
	}
}
