package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/biz"
	fulfillmentErrors "fulfillment-service/internal/errors"
	"fulfillment-service/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

const cronStopTimeout = 5 * time.Second

// fulfillmentJobs 定时任务依赖的服务方法
type fulfillmentJobs interface {
	RunPendingOrderSweep(ctx context.Context) (*biz.BatchRun, error)
	RunStatusCheckSweep(ctx context.Context) (*biz.BatchRun, error)
	RunRetryQueueCycle(ctx context.Context) (*biz.CycleResult, error)
}

// CronServer 定时任务服务（支持秒级调度）
type CronServer struct {
	cron *cron.Cron
	jobs fulfillmentJobs
	conf *biz.FulfillmentConfig
	log  *log.Helper
}

// NewCronServer 创建定时任务服务并注册待派单扫描、状态对账、重试队列三个任务
func NewCronServer(conf *biz.FulfillmentConfig, svc *service.FulfillmentService, logger log.Logger) (*CronServer, error) {
	return newCronServer(conf, svc, logger)
}

func newCronServer(conf *biz.FulfillmentConfig, jobs fulfillmentJobs, logger log.Logger) (*CronServer, error) {
	cl := &cronLogger{log: log.NewHelper(logger)}
	s := &CronServer{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs: jobs,
		conf: conf,
		log:  log.NewHelper(logger),
	}

	entries := []struct {
		name     string
		schedule string
		fn       func()
	}{
		{"pending_sweep", conf.PendingSweepCron, s.runPendingSweep},
		{"status_check", conf.StatusCheckCron, s.runStatusCheck},
		{"retry_queue", conf.RetryCron, s.runRetryQueue},
	}
	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.schedule, e.fn); err != nil {
			return nil, fulfillmentErrors.ErrInvalidConfig.WithCause(fmt.Errorf("cron %s %q: %w", e.name, e.schedule, err))
		}
		s.log.Infof("cron job registered: %s (%s)", e.name, e.schedule)
	}
	return s, nil
}

// Start 启动调度
func (s *CronServer) Start(ctx context.Context) error {
	s.cron.Start()
	s.log.Info("Cron jobs started")
	return nil
}

// Stop 停止调度，等待运行中的任务结束
func (s *CronServer) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("Cron jobs stopped gracefully")
	case <-ctx.Done():
		s.log.Warn("Cron jobs stop interrupted by context")
	case <-time.After(cronStopTimeout):
		s.log.Warn("Cron jobs forced to stop after timeout")
	}
	return nil
}

func (s *CronServer) runPendingSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.conf.SweepTimeout)
	defer cancel()
	s.logSweep("pending_sweep", func() (*biz.BatchRun, error) { return s.jobs.RunPendingOrderSweep(ctx) })
}

func (s *CronServer) runStatusCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), s.conf.SweepTimeout)
	defer cancel()
	s.logSweep("status_check", func() (*biz.BatchRun, error) { return s.jobs.RunStatusCheckSweep(ctx) })
}

func (s *CronServer) runRetryQueue() {
	ctx, cancel := context.WithTimeout(context.Background(), s.conf.RetryCycleTimeout)
	defer cancel()
	res, err := s.jobs.RunRetryQueueCycle(ctx)
	if err != nil {
		s.log.Errorf("[CRON] retry_queue failed: %v", err)
		return
	}
	if res.Popped > 0 {
		s.log.Infof("[CRON] retry_queue finished: popped=%d, succeeded=%d, retried=%d, failed=%d, discarded=%d, errors=%d",
			res.Popped, res.Succeeded, res.Retried, res.Failed, res.Discarded, res.Errors)
	}
}

func (s *CronServer) logSweep(name string, run func() (*biz.BatchRun, error)) {
	result, err := run()
	if err != nil {
		if errors.Is(err, fulfillmentErrors.ErrSweepInProgress) {
			s.log.Infof("[CRON] %s skipped: running on another instance", name)
			return
		}
		s.log.Errorf("[CRON] %s failed: %v", name, err)
		return
	}
	s.log.Infof("[CRON] %s finished: run=%s, total=%d, succeeded=%d, failed=%d, errored=%d, took=%s",
		name, result.ID, result.Total, result.Succeeded, result.Failed, result.Errored,
		result.FinishedAt.Sub(result.StartedAt))
}

// cronLogger 将 cron 内部日志转到 kratos log
type cronLogger struct {
	log *log.Helper
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(append([]interface{}{log.DefaultMessageKey, "cron: " + msg}, keysAndValues...)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(append([]interface{}{log.DefaultMessageKey, "cron: " + msg, "error", err}, keysAndValues...)...)
}
