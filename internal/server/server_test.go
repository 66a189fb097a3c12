package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/biz"
	"fulfillment-service/internal/conf"
	fulfillmentErrors "fulfillment-service/internal/errors"
	"fulfillment-service/internal/service"

	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() log.Logger {
	return log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelError))
}

func testFulfillmentConfig() *biz.FulfillmentConfig {
	return biz.NewFulfillmentConfig(&conf.Bootstrap{})
}

type fakeJobs struct {
	mu       sync.Mutex
	calls    []string
	sweepErr error
}

func (f *fakeJobs) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeJobs) RunPendingOrderSweep(ctx context.Context) (*biz.BatchRun, error) {
	f.record("pending")
	if f.sweepErr != nil {
		return nil, f.sweepErr
	}
	now := time.Now()
	return &biz.BatchRun{ID: "run-1", StartedAt: now, FinishedAt: now}, nil
}

func (f *fakeJobs) RunStatusCheckSweep(ctx context.Context) (*biz.BatchRun, error) {
	f.record("status")
	if f.sweepErr != nil {
		return nil, f.sweepErr
	}
	now := time.Now()
	return &biz.BatchRun{ID: "run-2", StartedAt: now, FinishedAt: now}, nil
}

func (f *fakeJobs) RunRetryQueueCycle(ctx context.Context) (*biz.CycleResult, error) {
	f.record("retry")
	return &biz.CycleResult{Popped: 1, Succeeded: 1}, nil
}

func TestCronServer_RegistersEntries(t *testing.T) {
	s, err := newCronServer(testFulfillmentConfig(), &fakeJobs{}, testLogger())
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 3)

	require.NoError(t, s.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestCronServer_InvalidSchedule(t *testing.T) {
	c := testFulfillmentConfig()
	c.StatusCheckCron = "every five minutes"

	_, err := newCronServer(c, &fakeJobs{}, testLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fulfillmentErrors.ErrInvalidConfig))
}

func TestCronServer_JobsCallService(t *testing.T) {
	jobs := &fakeJobs{}
	s, err := newCronServer(testFulfillmentConfig(), jobs, testLogger())
	require.NoError(t, err)

	s.runPendingSweep()
	s.runStatusCheck()
	s.runRetryQueue()
	assert.Equal(t, []string{"pending", "status", "retry"}, jobs.calls)

	// 其他实例持有锁时只记录跳过
	jobs.sweepErr = fulfillmentErrors.ErrSweepInProgress
	s.runPendingSweep()
	assert.Len(t, jobs.calls, 4)
}

type fakeEnqueuer struct {
	reqs []*service.ReplenishmentRequest
	errs []error
}

func (f *fakeEnqueuer) EnqueueRetryable(ctx context.Context, req *service.ReplenishmentRequest) (*biz.RetryJob, error) {
	f.reqs = append(f.reqs, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &biz.RetryJob{ID: "job-" + req.ReplenishmentID}, nil
}

func message(body string) *primitive.MessageExt {
	return &primitive.MessageExt{Message: primitive.Message{Body: []byte(body)}, MsgId: "m1"}
}

func TestMQConsumerServer_Handler(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := &MQConsumerServer{enqueuer: enq, log: log.NewHelper(testLogger()), enabled: true}

	res, err := s.handler(context.Background(),
		message(`{"replenishment_id":"r1","order_id":"o1","priority":5,"max_attempts":4,"delay_seconds":30}`),
		message(`not json`),
	)
	require.NoError(t, err)
	assert.Equal(t, consumer.ConsumeSuccess, res)
	require.Len(t, enq.reqs, 1)
	assert.Equal(t, &service.ReplenishmentRequest{
		ReplenishmentID: "r1", OrderID: "o1", Priority: 5, MaxAttempts: 4, DelaySeconds: 30,
	}, enq.reqs[0])
}

func TestMQConsumerServer_HandlerErrors(t *testing.T) {
	enq := &fakeEnqueuer{errs: []error{fulfillmentErrors.ErrRetryJobInvalid}}
	s := &MQConsumerServer{enqueuer: enq, log: log.NewHelper(testLogger()), enabled: true}

	res, err := s.handler(context.Background(), message(`{"order_id":"o1"}`))
	require.NoError(t, err)
	assert.Equal(t, consumer.ConsumeSuccess, res, "invalid events are acknowledged")

	enq.errs = []error{fulfillmentErrors.ErrQueueStoreUnavailable}
	res, err = s.handler(context.Background(), message(`{"replenishment_id":"r1","order_id":"o1"}`))
	require.NoError(t, err)
	assert.Equal(t, consumer.ConsumeRetryLater, res)
}

func TestMQConsumerServer_Disabled(t *testing.T) {
	s := NewMQConsumerServer(&conf.Bootstrap{}, nil, testLogger())
	assert.False(t, s.enabled)
	assert.NoError(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}

func TestHTTPServer_HealthAndMetrics(t *testing.T) {
	srv := NewHTTPServer(&conf.Bootstrap{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
