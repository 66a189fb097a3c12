package data

import (
	"context"
	"errors"
	"strings"
	"time"

	"fulfillment-service/internal/biz"
	"fulfillment-service/internal/constants"
	fulfillmentErrors "fulfillment-service/internal/errors"
	"fulfillment-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// redsyncLocker 基于 redsync 的分布式锁
type redsyncLocker struct {
	sync    *redsync.Redsync
	log     *log.Helper
	metrics *metrics.FulfillmentMetrics
}

// NewLocker 创建分布式锁（返回 biz.Locker 接口）
func NewLocker(sync *redsync.Redsync, logger log.Logger) biz.Locker {
	return &redsyncLocker{
		sync:    sync,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// TryLock 只尝试一次，被占用时返回 ErrLockNotAcquired
func (l *redsyncLocker) TryLock(ctx context.Context, key string, expiry time.Duration) (func(), error) {
	if expiry <= 0 {
		expiry = 8 * time.Second
	}
	scope := lockScope(key)
	mutex := l.sync.NewMutex(key, redsync.WithExpiry(expiry), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			l.metrics.LockAcquireTotal.WithLabelValues(scope, constants.MetricResultFailed).Inc()
			return nil, fulfillmentErrors.ErrLockNotAcquired.WithCause(err)
		}
		l.metrics.LockAcquireTotal.WithLabelValues(scope, constants.MetricResultError).Inc()
		l.log.Errorf("acquire lock failed: key=%s, err=%v", key, err)
		return nil, err
	}
	l.metrics.LockAcquireTotal.WithLabelValues(scope, constants.MetricResultSuccess).Inc()

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			l.log.Warnf("release lock failed: key=%s, err=%v", key, err)
		}
	}, nil
}

// lockScope 取 key 的类型前缀作为指标 label，避免 label 基数过大
func lockScope(key string) string {
	switch {
	case strings.HasPrefix(key, constants.RedisKeyDispatchLock):
		return "dispatch"
	case strings.HasPrefix(key, constants.RedisKeySweepLock):
		return "sweep"
	default:
		return "other"
	}
}
