package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
)

const (
	maxRetryPriority = 1000
	// 每次 pop 最多把多少个到期的延迟任务转入就绪集合
	promoteBatch = 100
)

// KEYS: delayed, ready, jobs, index, priority, seq
// ARGV: job id, payload, priority, process_after(ms), now(ms)
// ready 的 member 为 16 位序号 + ':' + job id，同分值时按序号先进先出
var pushScript = redis.NewScript(`
local id = ARGV[1]
local old = redis.call('HGET', KEYS[4], id)
if old then
  redis.call('ZREM', KEYS[1], old)
  redis.call('ZREM', KEYS[2], old)
end
local seq = redis.call('INCR', KEYS[6])
local member = string.format('%016d', seq) .. ':' .. id
redis.call('HSET', KEYS[3], id, ARGV[2])
redis.call('HSET', KEYS[4], id, member)
redis.call('HSET', KEYS[5], id, ARGV[3])
if tonumber(ARGV[4]) > tonumber(ARGV[5]) then
  redis.call('ZADD', KEYS[1], ARGV[4], member)
else
  redis.call('ZADD', KEYS[2], -tonumber(ARGV[3]), member)
end
return 1
`)

// ARGV: now(ms), promote limit
var popScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
  local id = string.sub(member, 18)
  local prio = tonumber(redis.call('HGET', KEYS[5], id) or '0')
  redis.call('ZREM', KEYS[1], member)
  redis.call('ZADD', KEYS[2], -prio, member)
end
while true do
  local head = redis.call('ZRANGE', KEYS[2], 0, 0)
  if #head == 0 then
    return false
  end
  local member = head[1]
  local id = string.sub(member, 18)
  redis.call('ZREM', KEYS[2], member)
  local payload = redis.call('HGET', KEYS[3], id)
  redis.call('HDEL', KEYS[3], id)
  redis.call('HDEL', KEYS[4], id)
  redis.call('HDEL', KEYS[5], id)
  if payload then
    return payload
  end
end
`)

// ARGV: job id
var removeScript = redis.NewScript(`
local member = redis.call('HGET', KEYS[4], ARGV[1])
if not member then
  return 0
end
redis.call('ZREM', KEYS[1], member)
redis.call('ZREM', KEYS[2], member)
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
return 1
`)

// retryJobPayload 队列中保存的任务内容
type retryJobPayload struct {
	ID           string `json:"id"`
	WorkItemID   string `json:"work_item_id"`
	OrderID      string `json:"order_id"`
	Priority     int    `json:"priority"`
	Attempts     int    `json:"attempts"`
	MaxAttempts  int    `json:"max_attempts"`
	CreatedAt    int64  `json:"created_at"`    // ms
	ProcessAfter int64  `json:"process_after"` // ms
	LastError    string `json:"last_error,omitempty"`
}

// retryQueueStore Redis 有序集合实现的延迟优先级队列
type retryQueueStore struct {
	data *Data
	keys []string
	log  *log.Helper
}

// NewRetryQueueStore 创建重试队列存储
func NewRetryQueueStore(data *Data, conf *biz.FulfillmentConfig, logger log.Logger) biz.RetryQueueStore {
	return newRetryQueueStore(data, conf.RetryKeyPrefix, logger)
}

func newRetryQueueStore(data *Data, prefix string, logger log.Logger) *retryQueueStore {
	// 同一 hash tag，保证 Cluster 下脚本涉及的 key 在同一 slot
	tag := "{" + prefix + "}"
	return &retryQueueStore{
		data: data,
		keys: []string{
			tag + ":delayed",
			tag + ":ready",
			tag + ":jobs",
			tag + ":index",
			tag + ":priority",
			tag + ":seq",
		},
		log: log.NewHelper(logger),
	}
}

func (s *retryQueueStore) jobsKey() string { return s.keys[2] }

// Push 插入或覆盖任务
func (s *retryQueueStore) Push(ctx context.Context, job *biz.RetryJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("retry job id is required")
	}
	payload, err := json.Marshal(jobToPayload(job))
	if err != nil {
		return fmt.Errorf("failed to encode retry job: %w", err)
	}
	priority := clampPriority(job.Priority)
	now := time.Now().UnixMilli()
	if err := pushScript.Run(ctx, s.data.rdb, s.keys, job.ID, payload, priority, job.ProcessAfter.UnixMilli(), now).Err(); err != nil {
		return fmt.Errorf("failed to push retry job: %w", err)
	}
	return nil
}

// PopReady 原子弹出
func (s *retryQueueStore) PopReady(ctx context.Context, now time.Time) (*biz.RetryJob, error) {
	raw, err := popScript.Run(ctx, s.data.rdb, s.keys, now.UnixMilli(), promoteBatch).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop retry job: %w", err)
	}
	var p retryJobPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		// 无法解析的任务已被移除，记录后继续
		s.log.Errorf("drop undecodable retry job: payload=%s, err=%v", raw, err)
		return nil, nil
	}
	return payloadToJob(&p), nil
}

// Remove 按 ID 删除
func (s *retryQueueStore) Remove(ctx context.Context, jobID string) (bool, error) {
	n, err := removeScript.Run(ctx, s.data.rdb, s.keys, jobID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to remove retry job: %w", err)
	}
	return n == 1, nil
}

// Get 查询任务
func (s *retryQueueStore) Get(ctx context.Context, jobID string) (*biz.RetryJob, error) {
	raw, err := s.data.rdb.HGet(ctx, s.jobsKey(), jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get retry job: %w", err)
	}
	var p retryJobPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode retry job: %w", err)
	}
	return payloadToJob(&p), nil
}

// Len 队列中任务数（含延迟）
func (s *retryQueueStore) Len(ctx context.Context) (int64, error) {
	n, err := s.data.rdb.HLen(ctx, s.jobsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count retry jobs: %w", err)
	}
	return n, nil
}

func clampPriority(p int) int {
	if p > maxRetryPriority {
		return maxRetryPriority
	}
	if p < -maxRetryPriority {
		return -maxRetryPriority
	}
	return p
}

func jobToPayload(job *biz.RetryJob) *retryJobPayload {
	return &retryJobPayload{
		ID:           job.ID,
		WorkItemID:   job.WorkItemID,
		OrderID:      job.OrderID,
		Priority:     job.Priority,
		Attempts:     job.Attempts,
		MaxAttempts:  job.MaxAttempts,
		CreatedAt:    job.CreatedAt.UnixMilli(),
		ProcessAfter: job.ProcessAfter.UnixMilli(),
		LastError:    job.LastError,
	}
}

func payloadToJob(p *retryJobPayload) *biz.RetryJob {
	return &biz.RetryJob{
		ID:           p.ID,
		WorkItemID:   p.WorkItemID,
		OrderID:      p.OrderID,
		Priority:     p.Priority,
		Attempts:     p.Attempts,
		MaxAttempts:  p.MaxAttempts,
		CreatedAt:    time.UnixMilli(p.CreatedAt),
		ProcessAfter: time.UnixMilli(p.ProcessAfter),
		LastError:    p.LastError,
	}
}
