package server

import (
	nethttp "net/http"

	"fulfillment-service/internal/conf"
	"fulfillment-service/internal/service"

	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer 创建 HTTP 服务器
func NewHTTPServer(c *conf.Bootstrap, svc *service.FulfillmentService) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
	}
	if c.Server != nil && c.Server.Http != nil {
		if c.Server.Http.Network != "" {
			opts = append(opts, http.Network(c.Server.Http.Network))
		}
		if c.Server.Http.Addr != "" {
			opts = append(opts, http.Address(c.Server.Http.Addr))
		}
		if c.Server.Http.Timeout != nil {
			opts = append(opts, http.Timeout(c.Server.Http.Timeout.AsDuration()))
		}
	}
	srv := http.NewServer(opts...)

	srv.Handle("/metrics", promhttp.Handler())
	srv.HandleFunc("/healthz", func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.WriteHeader(nethttp.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	registerFulfillmentRoutes(srv, svc)
	return srv
}

// registerFulfillmentRoutes 内部运维接口：手动选供应商、派单、补单入队
func registerFulfillmentRoutes(srv *http.Server, svc *service.FulfillmentService) {
	r := srv.Route("/internal/v1")

	r.POST("/orders/{order_id}/resolve", func(ctx http.Context) error {
		providerID, err := svc.ResolveProvider(ctx, ctx.Vars().Get("order_id"))
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, map[string]interface{}{"provider_id": providerID})
	})

	r.POST("/orders/{order_id}/dispatch", func(ctx http.Context) error {
		result, err := svc.Dispatch(ctx, ctx.Vars().Get("order_id"))
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, map[string]interface{}{
			"order_id":          result.OrderID,
			"outcome":           result.Outcome,
			"success":           result.Success(),
			"provider_id":       result.ProviderID,
			"external_order_id": result.ExternalOrderID,
			"reason":            result.Reason,
		})
	})

	r.POST("/replenishments/retry", func(ctx http.Context) error {
		var req service.ReplenishmentRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		job, err := svc.EnqueueRetryable(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, map[string]interface{}{
			"job_id":        job.ID,
			"process_after": job.ProcessAfter.UnixMilli(),
		})
	})
}
