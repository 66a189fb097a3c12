package server

import (
	"context"
	"encoding/json"
	"errors"

	"fulfillment-service/internal/biz"
	"fulfillment-service/internal/conf"
	fulfillmentErrors "fulfillment-service/internal/errors"
	"fulfillment-service/internal/service"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// replenishmentEnqueuer 补单入队
type replenishmentEnqueuer interface {
	EnqueueRetryable(ctx context.Context, req *service.ReplenishmentRequest) (*biz.RetryJob, error)
}

// MQConsumerServer 消费补单请求事件并写入重试队列
type MQConsumerServer struct {
	c        rocketmq.PushConsumer
	enqueuer replenishmentEnqueuer
	conf     *conf.Data
	log      *log.Helper
	enabled  bool
}

// NewMQConsumerServer 创建 RocketMQ 消费者，未开启时返回禁用状态
func NewMQConsumerServer(c *conf.Bootstrap, svc *service.FulfillmentService, logger log.Logger) *MQConsumerServer {
	helper := log.NewHelper(logger)
	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled {
		return &MQConsumerServer{log: helper, enabled: false}
	}

	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(c.Data.Rocketmq.NameServers)),
		consumer.WithGroupName(c.Data.Rocketmq.GroupName),
		consumer.WithRetry(int(c.Data.Rocketmq.RetryTimes)),
		consumer.WithConsumeMessageBatchMaxSize(1), // 逐条确认，整批重投会重复入队
	)
	if err != nil {
		helper.Errorf("init consumer error: %v", err)
		return &MQConsumerServer{log: helper, enabled: false}
	}

	return &MQConsumerServer{
		c:        r,
		enqueuer: svc,
		conf:     c.Data,
		log:      helper,
		enabled:  true,
	}
}

// Start 启动消费者
func (s *MQConsumerServer) Start(ctx context.Context) error {
	if !s.enabled {
		s.log.Infof("MQConsumerServer is disabled, skipping startup")
		return nil
	}
	if s.c == nil {
		s.log.Warnf("MQConsumerServer consumer is nil, skipping startup")
		return nil
	}

	s.log.Infof("Starting MQConsumerServer, topic: %s", s.conf.Rocketmq.Topic)
	if err := s.c.Subscribe(s.conf.Rocketmq.Topic, consumer.MessageSelector{}, s.handler); err != nil {
		// 不返回错误，RocketMQ 不可用时不影响其他服务启动
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.conf.Rocketmq.Topic, err)
		return nil
	}
	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start RocketMQ consumer: %v", err)
		return nil
	}
	return nil
}

// Stop 停止消费者
func (s *MQConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping MQConsumerServer")
	return s.c.Shutdown()
}

// handler 非法消息直接确认；队列存储不可用时整批稍后重投
func (s *MQConsumerServer) handler(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	for _, msg := range msgs {
		var req service.ReplenishmentRequest
		if err := json.Unmarshal(msg.Body, &req); err != nil {
			s.log.Errorf("Unmarshal message failed: %v, body: %s", err, string(msg.Body))
			continue
		}
		if _, err := s.enqueuer.EnqueueRetryable(ctx, &req); err != nil {
			if errors.Is(err, fulfillmentErrors.ErrRetryJobInvalid) {
				s.log.Warnf("Drop invalid replenishment event: msg=%s, body=%s", msg.MsgId, string(msg.Body))
				continue
			}
			s.log.Errorf("Enqueue replenishment failed: msg=%s, err=%v", msg.MsgId, err)
			return consumer.ConsumeRetryLater, nil
		}
	}
	return consumer.ConsumeSuccess, nil
}
