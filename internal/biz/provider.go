package biz

import (
	"context"
	"encoding/json"
	"strings"
)

// ProviderCapabilities 供应商能力描述
type ProviderCapabilities struct {
	ServiceTypes   []string // 支持的服务类型，如 likes/followers
	Services       []string // 平台亲和，如 instagram/tiktok
	PrimaryService string   // 主平台
	Priority       int      // 越小越优先
	RecommendedFor []string // 擅长的子类型
}

// SupportsServiceType 是否支持服务类型
func (c *ProviderCapabilities) SupportsServiceType(serviceType string) bool {
	return serviceType != "" && containsFold(c.ServiceTypes, serviceType)
}

// SupportsPlatform 是否支持平台（services 或 primary_service 任一匹配）
func (c *ProviderCapabilities) SupportsPlatform(platform string) bool {
	if platform == "" {
		return false
	}
	return strings.EqualFold(c.PrimaryService, platform) || containsFold(c.Services, platform)
}

// RecommendedForSubType 是否擅长该子类型
func (c *ProviderCapabilities) RecommendedForSubType(subType string) bool {
	return subType != "" && containsFold(c.RecommendedFor, subType)
}

// Provider 供应商
type Provider struct {
	ID           string
	Name         string
	APIKey       string
	APIURL       string
	Active       bool
	Capabilities ProviderCapabilities
}

// ProviderRepo 供应商存储接口
type ProviderRepo interface {
	// ListActiveProviders 返回所有活跃供应商，按 priority、id 升序
	ListActiveProviders(ctx context.Context) ([]*Provider, error)
	// GetProvider 不存在时返回 nil, nil
	GetProvider(ctx context.Context, id string) (*Provider, error)
}

// ResultKind 供应商调用结果类型
type ResultKind string

const (
	// ResultOK 供应商返回了可识别的结果
	ResultOK ResultKind = "ok"
	// ResultMalformed 响应缺少预期字段
	ResultMalformed ResultKind = "malformed"
	// ResultTransportError 网络错误、超时或非 2xx
	ResultTransportError ResultKind = "transport_error"
)

// ProviderReply 供应商原始响应
type ProviderReply struct {
	Raw     json.RawMessage
	Payload map[string]interface{} // Raw 为 JSON 对象时的解码结果
}

// AsResponse 转换为可落库的 provider_response
func (r *ProviderReply) AsResponse() map[string]interface{} {
	if r == nil {
		return nil
	}
	if r.Payload != nil {
		return copyMap(r.Payload)
	}
	if len(r.Raw) == 0 {
		return nil
	}
	return map[string]interface{}{"raw": string(r.Raw)}
}

// RawString 原始响应文本
func (r *ProviderReply) RawString() string {
	if r == nil {
		return ""
	}
	return string(r.Raw)
}

// AddOrderRequest 派单请求（key/action 由客户端补齐）
type AddOrderRequest struct {
	Service  string
	Link     string
	Quantity int
}

// AddOrderResult 派单结果
type AddOrderResult struct {
	Kind            ResultKind
	ExternalOrderID string
	Reply           *ProviderReply
	Detail          string
}

// StatusResult 订单状态查询结果
type StatusResult struct {
	Kind   ResultKind
	Status string
	Reply  *ProviderReply
	Detail string
}

// RefillResult 补单结果
type RefillResult struct {
	Kind     ResultKind
	RefillID string
	Reply    *ProviderReply
	Detail   string
}

// ProviderAPI 供应商 HTTP API。调用结果通过 Kind 区分，不返回 error
type ProviderAPI interface {
	AddOrder(ctx context.Context, provider *Provider, req *AddOrderRequest) *AddOrderResult
	OrderStatus(ctx context.Context, provider *Provider, externalOrderID string) *StatusResult
	Refill(ctx context.Context, provider *Provider, externalOrderID string) *RefillResult
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}
