package biz

import (
	"context"
	"time"
)

// Locker 分布式锁
type Locker interface {
	// TryLock 尝试加锁，不等待；已被占用时返回 ErrLockNotAcquired
	TryLock(ctx context.Context, key string, expiry time.Duration) (unlock func(), err error)
}
