package biz

import (
	"testing"
	"time"

	"fulfillment-service/internal/conf"

	"github.com/stretchr/testify/assert"
)

func TestNewFulfillmentConfig_SweepLockCoversTimeout(t *testing.T) {
	c := NewFulfillmentConfig(nil)
	assert.GreaterOrEqual(t, c.SweepLockExpiry, c.SweepTimeout)

	// 配置过短的锁会被提升到批处理超时
	c = NewFulfillmentConfig(&conf.Bootstrap{Fulfillment: &conf.Fulfillment{
		Scheduler: &conf.Fulfillment_Scheduler{LockExpiry: conf.NewDuration(time.Minute)},
	}})
	assert.Equal(t, c.SweepTimeout, c.SweepLockExpiry)

	c = NewFulfillmentConfig(&conf.Bootstrap{Fulfillment: &conf.Fulfillment{
		Scheduler: &conf.Fulfillment_Scheduler{LockExpiry: conf.NewDuration(time.Hour)},
	}})
	assert.Equal(t, time.Hour, c.SweepLockExpiry)
}
