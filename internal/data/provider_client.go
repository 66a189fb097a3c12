package data

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"fulfillment-service/internal/biz"
	"fulfillment-service/internal/constants"
	"fulfillment-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/tidwall/gjson"
)

// providerRequest 供应商 API 请求体
type providerRequest struct {
	Key      string `json:"key"`
	Action   string `json:"action"`
	Service  string `json:"service,omitempty"`
	Link     string `json:"link,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Order    string `json:"order,omitempty"`
}

// providerClient 供应商 HTTP API 客户端，按 endpoint 复用 kratos http client
type providerClient struct {
	timeout time.Duration
	log     *log.Helper
	metrics *metrics.FulfillmentMetrics

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewProviderClient 创建供应商 API 客户端（返回 biz.ProviderAPI 接口）
func NewProviderClient(conf *biz.FulfillmentConfig, logger log.Logger) biz.ProviderAPI {
	timeout := conf.ProviderRequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &providerClient{
		timeout: timeout,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
		clients: make(map[string]*http.Client),
	}
}

// AddOrder action=add
func (c *providerClient) AddOrder(ctx context.Context, p *biz.Provider, req *biz.AddOrderRequest) *biz.AddOrderResult {
	body, reply, err := c.call(ctx, p, &providerRequest{
		Key:      p.APIKey,
		Action:   constants.ProviderActionAdd,
		Service:  req.Service,
		Link:     req.Link,
		Quantity: req.Quantity,
	})
	if err != nil {
		return &biz.AddOrderResult{Kind: biz.ResultTransportError, Detail: err.Error()}
	}
	order := body.Get("order")
	if id := strings.TrimSpace(order.String()); order.Exists() && id != "" && id != "0" {
		return &biz.AddOrderResult{Kind: biz.ResultOK, ExternalOrderID: id, Reply: reply}
	}
	return &biz.AddOrderResult{Kind: biz.ResultMalformed, Reply: reply, Detail: malformedDetail(body, "order")}
}

// OrderStatus action=status
func (c *providerClient) OrderStatus(ctx context.Context, p *biz.Provider, externalOrderID string) *biz.StatusResult {
	body, reply, err := c.call(ctx, p, &providerRequest{
		Key:    p.APIKey,
		Action: constants.ProviderActionStatus,
		Order:  externalOrderID,
	})
	if err != nil {
		return &biz.StatusResult{Kind: biz.ResultTransportError, Detail: err.Error()}
	}
	status := body.Get("status")
	if status.Exists() && status.Type == gjson.String && strings.TrimSpace(status.String()) != "" {
		return &biz.StatusResult{Kind: biz.ResultOK, Status: status.String(), Reply: reply}
	}
	return &biz.StatusResult{Kind: biz.ResultMalformed, Reply: reply, Detail: malformedDetail(body, "status")}
}

// Refill action=refill
func (c *providerClient) Refill(ctx context.Context, p *biz.Provider, externalOrderID string) *biz.RefillResult {
	body, reply, err := c.call(ctx, p, &providerRequest{
		Key:    p.APIKey,
		Action: constants.ProviderActionRefill,
		Order:  externalOrderID,
	})
	if err != nil {
		return &biz.RefillResult{Kind: biz.ResultTransportError, Detail: err.Error()}
	}
	refill := body.Get("refill")
	if id := strings.TrimSpace(refill.String()); refill.Exists() && id != "" {
		return &biz.RefillResult{Kind: biz.ResultOK, RefillID: id, Reply: reply}
	}
	return &biz.RefillResult{Kind: biz.ResultMalformed, Reply: reply, Detail: malformedDetail(body, "refill")}
}

// call 发送一次请求。返回的 error 只表示网络错误、超时或非 2xx
func (c *providerClient) call(ctx context.Context, p *biz.Provider, req *providerRequest) (gjson.Result, *biz.ProviderReply, error) {
	start := time.Now()
	result := constants.MetricResultSuccess
	defer func() {
		c.metrics.ProviderCallTotal.WithLabelValues(req.Action, result).Inc()
		c.metrics.ProviderCallDuration.WithLabelValues(req.Action).Observe(time.Since(start).Seconds())
	}()

	endpoint, path, err := splitAPIURL(p.APIURL)
	if err != nil {
		result = constants.MetricResultError
		return gjson.Result{}, nil, err
	}
	client, err := c.client(ctx, endpoint)
	if err != nil {
		result = constants.MetricResultError
		return gjson.Result{}, nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var raw []byte
	if err := client.Invoke(callCtx, nethttp.MethodPost, path, req, &raw); err != nil {
		result = constants.MetricResultError
		c.log.Warnf("provider call failed: provider=%s, action=%s, err=%v", p.ID, req.Action, err)
		return gjson.Result{}, nil, err
	}

	reply := &biz.ProviderReply{Raw: json.RawMessage(raw)}
	body := gjson.ParseBytes(raw)
	if !gjson.ValidBytes(raw) || !body.IsObject() {
		result = constants.MetricResultFailed
		return gjson.Result{}, reply, nil
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err == nil {
		reply.Payload = payload
	}
	return body, reply, nil
}

// client 按 endpoint 缓存 kratos http client
func (c *providerClient) client(ctx context.Context, endpoint string) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cli, ok := c.clients[endpoint]; ok {
		return cli, nil
	}
	cli, err := http.NewClient(ctx,
		http.WithEndpoint(endpoint),
		http.WithTimeout(c.timeout),
		http.WithResponseDecoder(rawResponseDecoder),
	)
	if err != nil {
		return nil, fmt.Errorf("create provider client for %s: %w", endpoint, err)
	}
	c.clients[endpoint] = cli
	return cli, nil
}

// rawResponseDecoder 保留原始响应体，由调用方按字段解析
func rawResponseDecoder(_ context.Context, res *nethttp.Response, out interface{}) error {
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if p, ok := out.(*[]byte); ok {
		*p = data
		return nil
	}
	return json.Unmarshal(data, out)
}

// splitAPIURL 拆分为 scheme://host 与 path
func splitAPIURL(apiURL string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(apiURL))
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("invalid provider api url %q", apiURL)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return scheme + "://" + u.Host, path, nil
}

func malformedDetail(body gjson.Result, field string) string {
	if e := body.Get("error"); e.Exists() {
		return "provider error: " + e.String()
	}
	return "response has no " + field
}
