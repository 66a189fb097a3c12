package biz

import (
	"time"

	"fulfillment-service/internal/conf"
	"fulfillment-service/internal/constants"
)

// FulfillmentConfig 派单核心配置（已填充默认值）
type FulfillmentConfig struct {
	// 供应商
	ProviderRequestTimeout time.Duration
	ProviderCacheTTL       time.Duration
	DefaultPlatform        string

	// 派单
	DispatchLockExpiry time.Duration

	// 重试队列
	RetryKeyPrefix          string
	RetryBaseDelay          time.Duration
	RetryDefaultMaxAttempts int
	RetryConcurrency        int
	RetryCron               string

	// 批处理
	PendingSweepCron string
	PendingBatchSize int
	StatusCheckCron  string
	StatusBatchSize  int
	SweepConcurrency int
	SweepLockExpiry  time.Duration
	// SweepTimeout 单次批处理的最长运行时间，锁过期时间不小于该值
	SweepTimeout time.Duration
	// RetryCycleTimeout 单轮重试队列处理的最长运行时间
	RetryCycleTimeout time.Duration
}

// NewFulfillmentConfig 从配置创建 FulfillmentConfig
func NewFulfillmentConfig(c *conf.Bootstrap) *FulfillmentConfig {
	config := &FulfillmentConfig{
		ProviderRequestTimeout:  30 * time.Second,
		ProviderCacheTTL:        30 * time.Second,
		DefaultPlatform:         constants.DefaultPlatform,
		DispatchLockExpiry:      time.Minute,
		RetryKeyPrefix:          constants.RedisKeyRetryQueuePrefix,
		RetryBaseDelay:          30 * time.Second,
		RetryDefaultMaxAttempts: 3,
		RetryConcurrency:        5,
		RetryCron:               "*/15 * * * * *",
		PendingSweepCron:        "0 */1 * * * *",
		PendingBatchSize:        50,
		StatusCheckCron:         "0 */5 * * * *",
		StatusBatchSize:         100,
		SweepConcurrency:        4,
		SweepLockExpiry:         15 * time.Minute,
		SweepTimeout:            10 * time.Minute,
		RetryCycleTimeout:       5 * time.Minute,
	}
	if c == nil || c.Fulfillment == nil {
		return config
	}

	f := c.Fulfillment
	if p := f.Provider; p != nil {
		if d := p.RequestTimeout.AsDuration(); d > 0 {
			config.ProviderRequestTimeout = d
		}
		if d := p.CacheTtl.AsDuration(); d > 0 {
			config.ProviderCacheTTL = d
		}
		if p.DefaultPlatform != "" {
			config.DefaultPlatform = p.DefaultPlatform
		}
	}
	if d := f.Dispatch; d != nil {
		if v := d.LockExpiry.AsDuration(); v > 0 {
			config.DispatchLockExpiry = v
		}
	}
	if q := f.RetryQueue; q != nil {
		if q.KeyPrefix != "" {
			config.RetryKeyPrefix = q.KeyPrefix
		}
		if d := q.BaseDelay.AsDuration(); d > 0 {
			config.RetryBaseDelay = d
		}
		if q.DefaultMaxAttempts > 0 {
			config.RetryDefaultMaxAttempts = int(q.DefaultMaxAttempts)
		}
		if q.Concurrency > 0 {
			config.RetryConcurrency = int(q.Concurrency)
		}
		if q.Cron != "" {
			config.RetryCron = q.Cron
		}
	}
	if s := f.Scheduler; s != nil {
		if s.PendingSweepCron != "" {
			config.PendingSweepCron = s.PendingSweepCron
		}
		if s.PendingBatchSize > 0 {
			config.PendingBatchSize = int(s.PendingBatchSize)
		}
		if s.StatusCheckCron != "" {
			config.StatusCheckCron = s.StatusCheckCron
		}
		if s.StatusBatchSize > 0 {
			config.StatusBatchSize = int(s.StatusBatchSize)
		}
		if s.Concurrency > 0 {
			config.SweepConcurrency = int(s.Concurrency)
		}
		if d := s.LockExpiry.AsDuration(); d > 0 {
			config.SweepLockExpiry = d
		}
	}
	// 锁先于批处理过期会让另一实例并发扫描同一批订单
	if config.SweepLockExpiry < config.SweepTimeout {
		config.SweepLockExpiry = config.SweepTimeout
	}
	return config
}
