//go:build wireinject
// +build wireinject

package main

import (
	"fulfillment-service/internal/biz"
	"fulfillment-service/internal/conf"
	"fulfillment-service/internal/data"
	"fulfillment-service/internal/server"
	"fulfillment-service/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp 初始化定时任务应用
func wireApp(*conf.Bootstrap, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		// Data 层
		data.ProviderSet,

		// Biz 层（NewFulfillmentConfig 需要 *conf.Bootstrap）
		biz.ProviderSet,

		service.ProviderSet,
		server.NewCronServer,
		newApp,
	))
}
