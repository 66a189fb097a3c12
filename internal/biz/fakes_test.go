package biz

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	fulfillmentErrors "fulfillment-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

var errStoreDown = errors.New("store down")

func testLogger() log.Logger {
	return log.NewFilter(log.DefaultLogger, log.FilterLevel(log.LevelError))
}

func testConfig() *FulfillmentConfig {
	c := NewFulfillmentConfig(nil)
	c.RetryBaseDelay = time.Second
	return c
}

// fakeOrderRepo 内存订单存储
type fakeOrderRepo struct {
	mu      sync.Mutex
	orders  map[string]*Order
	logs    []*OrderLog
	updates int
	findErr error
	// orderBys FindOrders 收到的排序
	orderBys []OrderOrderBy
	// panicOn 读取该订单时 panic
	panicOn string
}

func newFakeOrderRepo(orders ...*Order) *fakeOrderRepo {
	r := &fakeOrderRepo{orders: make(map[string]*Order)}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *fakeOrderRepo) GetOrder(_ context.Context, id string) (*Order, error) {
	if id == r.panicOn && id != "" {
		panic("boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	clone := *o
	clone.Metadata = copyMap(o.Metadata)
	clone.ProviderResponse = copyMap(o.ProviderResponse)
	return &clone, nil
}

func (r *fakeOrderRepo) UpdateOrder(_ context.Context, id string, u *OrderUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return false, nil
	}
	if u.OnlyIfUndispatched && o.ExternalOrderID != "" {
		return false, nil
	}
	if u.ExpectedStatus != "" && o.Status != u.ExpectedStatus {
		return false, nil
	}
	if u.Status != nil {
		o.Status = *u.Status
	}
	if u.ProviderID != nil {
		o.ProviderID = *u.ProviderID
	}
	if u.ExternalOrderID != nil {
		o.ExternalOrderID = *u.ExternalOrderID
	}
	if u.ProviderResponse != nil {
		o.ProviderResponse = u.ProviderResponse
	}
	if u.Metadata != nil {
		o.Metadata = u.Metadata
	}
	if u.CompletedAt != nil {
		o.CompletedAt = u.CompletedAt
	}
	r.updates++
	return true, nil
}

func (r *fakeOrderRepo) FindOrders(_ context.Context, f *OrderFilter, limit int, orderBy OrderOrderBy) ([]*Order, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orderBys = append(r.orderBys, orderBy)
	var out []*Order
	for _, o := range r.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.RequireProvider && o.ProviderID == "" {
			continue
		}
		if f.RequireExternalOrderID && o.ExternalOrderID == "" {
			continue
		}
		clone := *o
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if orderBy == OrderByUpdatedAsc {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeOrderRepo) AppendOrderLog(_ context.Context, entry *OrderLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, entry)
	return nil
}

func (r *fakeOrderRepo) order(id string) *Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id]
}

func (r *fakeOrderRepo) logsFor(orderID string) []*OrderLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*OrderLog
	for _, l := range r.logs {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out
}

// fakeProviderRepo 内存供应商存储
type fakeProviderRepo struct {
	providers []*Provider
	listErr   error
}

func (r *fakeProviderRepo) ListActiveProviders(context.Context) ([]*Provider, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*Provider
	for _, p := range r.providers {
		if p.Active {
			out = append(out, p)
		}
	}
	sortProviders(out)
	return out, nil
}

func (r *fakeProviderRepo) GetProvider(_ context.Context, id string) (*Provider, error) {
	for _, p := range r.providers {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

// fakeProviderAPI 可编排的供应商 API
type fakeProviderAPI struct {
	mu          sync.Mutex
	addResult   *AddOrderResult
	status      *StatusResult
	refill      func(externalOrderID string) *RefillResult
	addCalls    int
	statusCalls int
	refillCalls int
	lastAdd     *AddOrderRequest
}

func (a *fakeProviderAPI) AddOrder(_ context.Context, _ *Provider, req *AddOrderRequest) *AddOrderResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addCalls++
	a.lastAdd = req
	if a.addResult == nil {
		return &AddOrderResult{Kind: ResultTransportError, Detail: "not configured"}
	}
	return a.addResult
}

func (a *fakeProviderAPI) OrderStatus(context.Context, *Provider, string) *StatusResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statusCalls++
	if a.status == nil {
		return &StatusResult{Kind: ResultTransportError, Detail: "not configured"}
	}
	return a.status
}

func (a *fakeProviderAPI) Refill(_ context.Context, _ *Provider, externalOrderID string) *RefillResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refillCalls++
	if a.refill == nil {
		return &RefillResult{Kind: ResultTransportError, Detail: "not configured"}
	}
	return a.refill(externalOrderID)
}

// fakeLocker 进程内锁
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, fulfillmentErrors.ErrLockNotAcquired
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// memQueueStore 内存版优先级延迟队列
type memQueueStore struct {
	mu      sync.Mutex
	seq     int
	jobs    map[string]*RetryJob
	order   map[string]int
	popErr  error
	pushErr error

	// pushFailures 接下来 N 次 Push 失败
	pushFailures int
}

func newMemQueueStore() *memQueueStore {
	return &memQueueStore{jobs: make(map[string]*RetryJob), order: make(map[string]int)}
}

func (s *memQueueStore) Push(_ context.Context, job *RetryJob) error {
	if s.pushErr != nil {
		return s.pushErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushFailures > 0 {
		s.pushFailures--
		return errStoreDown
	}
	s.seq++
	clone := *job
	s.jobs[job.ID] = &clone
	s.order[job.ID] = s.seq
	return nil
}

func (s *memQueueStore) PopReady(_ context.Context, now time.Time) (*RetryJob, error) {
	if s.popErr != nil {
		return nil, s.popErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *RetryJob
	for _, j := range s.jobs {
		if j.ProcessAfter.After(now) {
			continue
		}
		if best == nil || j.Priority > best.Priority ||
			(j.Priority == best.Priority && s.order[j.ID] < s.order[best.ID]) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	delete(s.jobs, best.ID)
	delete(s.order, best.ID)
	return best, nil
}

func (s *memQueueStore) Remove(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[jobID]
	delete(s.jobs, jobID)
	delete(s.order, jobID)
	return ok, nil
}

func (s *memQueueStore) Get(_ context.Context, jobID string) (*RetryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	clone := *j
	return &clone, nil
}

func (s *memQueueStore) Len(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.jobs)), nil
}

// fakeReplenishmentRepo 内存补单存储
type fakeReplenishmentRepo struct {
	mu          sync.Mutex
	items       map[string]*Replenishment
	failedMarks map[string]int

	// failMarkFailed 接下来 N 次标记 failed 返回错误
	failMarkFailed int
}

func newFakeReplenishmentRepo(items ...*Replenishment) *fakeReplenishmentRepo {
	r := &fakeReplenishmentRepo{items: make(map[string]*Replenishment), failedMarks: make(map[string]int)}
	for _, it := range items {
		r.items[it.ID] = it
	}
	return r
}

func (r *fakeReplenishmentRepo) GetReplenishment(_ context.Context, id string) (*Replenishment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	clone := *it
	return &clone, nil
}

func (r *fakeReplenishmentRepo) UpdateReplenishmentStatus(_ context.Context, id, status string, d *ReplenishmentDetail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return nil
	}
	if status == "failed" && r.failMarkFailed > 0 {
		r.failMarkFailed--
		return errStoreDown
	}
	it.Status = status
	if d != nil {
		if d.ExternalRefillID != "" {
			it.ExternalRefillID = d.ExternalRefillID
		}
		if d.Error != "" {
			it.Error = d.Error
		}
		if it.Metadata == nil {
			it.Metadata = map[string]interface{}{}
		}
		for k, v := range d.Metadata {
			it.Metadata[k] = v
		}
	}
	if status == "failed" {
		r.failedMarks[id]++
	}
	return nil
}

func (r *fakeReplenishmentRepo) item(id string) *Replenishment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id]
}

// scriptedExecutor 前 failures 次失败，之后成功
type scriptedExecutor struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (e *scriptedExecutor) Execute(context.Context, *Replenishment) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.failures {
		return "", errors.New("provider unavailable")
	}
	return "refill-1", nil
}
