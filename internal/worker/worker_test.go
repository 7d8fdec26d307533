package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/dominion-sim/internal/events"
	"github.com/cuongbtq/dominion-sim/internal/worker/domain"
	"github.com/cuongbtq/dominion-sim/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPollInterval       = 10 * time.Millisecond
	testCircuitBreakerWait = 25 * time.Millisecond
)

// fakeStore keeps work items in creation order and claims them atomically
type fakeStore struct {
	mu           sync.Mutex
	items        []*domain.WorkItem
	pendingCalls int
	pendingErr   error
	claimErr     error
	saveErr      func(item *domain.WorkItem) error
	afterPending func()
}

func (s *fakeStore) add(t *testing.T, id, workType, payload string) {
	t.Helper()
	item, err := domain.NewWorkItem(id, workType, payload)
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
}

func (s *fakeStore) get(id string) *domain.WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ID == id {
			c := *item
			return &c
		}
	}
	return nil
}

func (s *fakeStore) Pending(_ context.Context) (*domain.WorkItem, error) {
	s.mu.Lock()
	s.pendingCalls++
	var found *domain.WorkItem
	err := s.pendingErr
	if err == nil {
		err = domain.ErrNoPendingWorkItem
		for _, item := range s.items {
			if item.Status == domain.StatusPending {
				c := *item
				found, err = &c, nil
				break
			}
		}
	}
	s.mu.Unlock()

	if s.afterPending != nil && found != nil {
		s.afterPending()
	}
	return found, err
}

func (s *fakeStore) Claim(_ context.Context, item *domain.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return s.claimErr
	}
	for i, stored := range s.items {
		if stored.ID != item.ID {
			continue
		}
		if stored.Status != domain.StatusPending {
			return domain.ErrWorkItemAlreadyClaimed
		}
		c := *item
		s.items[i] = &c
		return nil
	}
	return domain.ErrWorkItemNotFound
}

func (s *fakeStore) Save(_ context.Context, item *domain.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		if err := s.saveErr(item); err != nil {
			return err
		}
	}
	for i, stored := range s.items {
		if stored.ID == item.ID {
			c := *item
			s.items[i] = &c
			return nil
		}
	}
	return domain.ErrWorkItemNotFound
}

type fakeBreaker struct {
	mu        sync.Mutex
	blocked   bool
	successes int
	failures  int
}

func (b *fakeBreaker) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.blocked
}

func (b *fakeBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successes++
}

func (b *fakeBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
}

func (b *fakeBreaker) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.successes, b.failures
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, event events.Event, _ events.Severity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]events.Kind, 0, len(p.events))
	for _, e := range p.events {
		kinds = append(kinds, e.Kind())
	}
	return kinds
}

func (p *fakePublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

func newTestWorker(store WorkItemStore, breaker Breaker, publisher events.Publisher, registry *Registry) *Worker {
	return NewWorker(&Config{
		Logger:             logger.NewNop().Logger,
		Store:              store,
		Breaker:            breaker,
		Publisher:          publisher,
		Registry:           registry,
		Environment:        "test",
		PollInterval:       testPollInterval,
		CircuitBreakerWait: testCircuitBreakerWait,
	})
}

func registryWith(workType string, handler Handler) *Registry {
	r := NewRegistry()
	r.Register(workType, handler)
	return r
}

func TestWorker_Tick_NoPendingWork(t *testing.T) {
	store := &fakeStore{}
	breaker := &fakeBreaker{}
	pub := &fakePublisher{}
	w := newTestWorker(store, breaker, pub, NewRegistry())

	wait := w.tick(context.Background())

	assert.Equal(t, testPollInterval, wait)
	assert.Empty(t, pub.kinds())
	successes, failures := breaker.counts()
	assert.Zero(t, successes)
	assert.Zero(t, failures)
}

func TestWorker_Tick_Success(t *testing.T) {
	store := &fakeStore{}
	store.add(t, "item-1", domain.WorkTypeCivicStats, `{"region":"north"}`)
	breaker := &fakeBreaker{}
	pub := &fakePublisher{}

	var gotPayload string
	w := newTestWorker(store, breaker, pub, registryWith(domain.WorkTypeCivicStats, func(_ context.Context, payload string) error {
		gotPayload = payload
		return nil
	}))

	wait := w.tick(context.Background())

	assert.Equal(t, testPollInterval, wait)
	assert.Equal(t, `{"region":"north"}`, gotPayload)

	item := store.get("item-1")
	assert.Equal(t, domain.StatusCompleted, item.Status)
	assert.NotNil(t, item.StartedAt)
	assert.NotNil(t, item.CompletedAt)
	assert.Zero(t, item.RetryCount)

	assert.Equal(t, []events.Kind{events.KindWorkItemCompleted}, pub.kinds())
	completed, ok := pub.last().(events.WorkItemCompleted)
	require.True(t, ok)
	assert.Equal(t, "item-1", completed.ID)
	assert.Equal(t, domain.WorkTypeCivicStats, completed.WorkType)

	successes, failures := breaker.counts()
	assert.Equal(t, 1, successes)
	assert.Zero(t, failures)
}

func TestWorker_Tick_HandlerFailure(t *testing.T) {
	store := &fakeStore{}
	store.add(t, "item-1", domain.WorkTypePersonaAction, "{}")
	breaker := &fakeBreaker{}
	pub := &fakePublisher{}
	w := newTestWorker(store, breaker, pub, registryWith(domain.WorkTypePersonaAction, func(context.Context, string) error {
		return errors.New("persona unavailable")
	}))

	w.tick(context.Background())

	item := store.get("item-1")
	assert.Equal(t, domain.StatusFailed, item.Status)
	assert.Equal(t, "persona unavailable", item.ErrorText())
	assert.Equal(t, 1, item.RetryCount)

	failed, ok := pub.last().(events.WorkItemFailed)
	require.True(t, ok)
	assert.Equal(t, "item-1", failed.ID)
	assert.Equal(t, "persona unavailable", failed.ErrorMessage)
	assert.Equal(t, 1, failed.RetryCount)

	successes, failures := breaker.counts()
	assert.Zero(t, successes)
	assert.Equal(t, 1, failures)
}

func TestWorker_Tick_UnknownWorkType(t *testing.T) {
	store := &fakeStore{}
	store.add(t, "item-1", "Astrology", "{}")
	breaker := &fakeBreaker{}
	w := newTestWorker(store, breaker, &fakePublisher{}, NewRegistry())

	w.tick(context.Background())

	item := store.get("item-1")
	assert.Equal(t, domain.StatusFailed, item.Status)
	assert.Contains(t, item.ErrorText(), "unknown work type")
	_, failures := breaker.counts()
	assert.Equal(t, 1, failures)
}

func TestWorker_Tick_HandlerPanicIsContained(t *testing.T) {
	store := &fakeStore{}
	store.add(t, "item-1", domain.WorkTypeMarketPricing, "{}")
	store.add(t, "item-2", domain.WorkTypeMarketPricing, "{}")
	breaker := &fakeBreaker{}

	calls := 0
	w := newTestWorker(store, breaker, &fakePublisher{}, registryWith(domain.WorkTypeMarketPricing, func(context.Context, string) error {
		calls++
		if calls == 1 {
			panic("price feed exploded")
		}
		return nil
	}))

	require.NotPanics(t, func() { w.tick(context.Background()) })
	w.tick(context.Background())

	first := store.get("item-1")
	assert.Equal(t, domain.StatusFailed, first.Status)
	assert.Contains(t, first.ErrorText(), "price feed exploded")
	assert.Equal(t, domain.StatusCompleted, store.get("item-2").Status)
}

func TestWorker_Tick_HandlerTimeout(t *testing.T) {
	store := &fakeStore{}
	store.add(t, "item-1", domain.WorkTypeCivicStats, "{}")
	w := newTestWorker(store, &fakeBreaker{}, &fakePublisher{}, registryWith(domain.WorkTypeCivicStats, func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	w.handlerTimeout = 20 * time.Millisecond

	w.tick(context.Background())

	item := store.get("item-1")
	assert.Equal(t, domain.StatusFailed, item.Status)
	assert.Contains(t, item.ErrorText(), context.DeadlineExceeded.Error())
}

func TestWorker_Tick_BreakerOpen(t *testing.T) {
	store := &fakeStore{}
	store.add(t, "item-1", domain.WorkTypeCivicStats, "{}")
	breaker := &fakeBreaker{blocked: true}
	pub := &fakePublisher{}

	called := false
	w := newTestWorker(store, breaker, pub, registryWith(domain.WorkTypeCivicStats, func(context.Context, string) error {
		called = true
		return nil
	}))

	wait := w.tick(context.Background())

	assert.Equal(t, testCircuitBreakerWait, wait)
	assert.False(t, called)
	assert.Zero(t, store.pendingCalls)
	assert.Equal(t, domain.StatusPending, store.get("item-1").Status)
	assert.Empty(t, pub.kinds())
}

func TestWorker_Tick_ClaimLost(t *testing.T) {
	store := &fakeStore{claimErr: domain.ErrWorkItemAlreadyClaimed}
	store.add(t, "item-1", domain.WorkTypeCivicStats, "{}")
	breaker := &fakeBreaker{}
	pub := &fakePublisher{}

	called := false
	w := newTestWorker(store, breaker, pub, registryWith(domain.WorkTypeCivicStats, func(context.Context, string) error {
		called = true
		return nil
	}))

	wait := w.tick(context.Background())

	assert.Equal(t, testPollInterval, wait)
	assert.False(t, called)
	assert.Empty(t, pub.kinds())
	successes, failures := breaker.counts()
	assert.Zero(t, successes)
	assert.Zero(t, failures)
}

func TestWorker_Tick_StoreErrorKeepsLoopAlive(t *testing.T) {
	store := &fakeStore{pendingErr: errors.New("connection refused")}
	breaker := &fakeBreaker{}
	w := newTestWorker(store, breaker, &fakePublisher{}, NewRegistry())

	assert.Equal(t, testPollInterval, w.tick(context.Background()))
	_, failures := breaker.counts()
	assert.Zero(t, failures)
}

func TestWorker_Tick_PublishFailureIsSwallowed(t *testing.T) {
	store := &fakeStore{}
	store.add(t, "item-1", domain.WorkTypeCivicStats, "{}")
	breaker := &fakeBreaker{}
	w := newTestWorker(store, breaker, &fakePublisher{err: errors.New("broker down")}, registryWith(domain.WorkTypeCivicStats, func(context.Context, string) error {
		return nil
	}))

	w.tick(context.Background())

	assert.Equal(t, domain.StatusCompleted, store.get("item-1").Status)
	successes, _ := breaker.counts()
	assert.Equal(t, 1, successes)
}

func TestWorker_Tick_CompletionSaveFailureRecordsFailure(t *testing.T) {
	store := &fakeStore{}
	store.add(t, "item-1", domain.WorkTypeCivicStats, "{}")
	store.saveErr = func(item *domain.WorkItem) error {
		if item.Status == domain.StatusCompleted {
			return errors.New("disk full")
		}
		return nil
	}
	breaker := &fakeBreaker{}
	pub := &fakePublisher{}
	w := newTestWorker(store, breaker, pub, registryWith(domain.WorkTypeCivicStats, func(context.Context, string) error {
		return nil
	}))

	w.tick(context.Background())

	item := store.get("item-1")
	assert.Equal(t, domain.StatusFailed, item.Status)
	assert.Contains(t, item.ErrorText(), "disk full")
	assert.Equal(t, []events.Kind{events.KindWorkItemFailed}, pub.kinds())
	successes, failures := breaker.counts()
	assert.Zero(t, successes)
	assert.Equal(t, 1, failures)
}

func TestWorker_Tick_FailureSaveErrorDoesNotPublish(t *testing.T) {
	store := &fakeStore{}
	store.add(t, "item-1", domain.WorkTypeCivicStats, "{}")
	store.saveErr = func(*domain.WorkItem) error { return errors.New("db gone") }
	breaker := &fakeBreaker{}
	pub := &fakePublisher{}
	w := newTestWorker(store, breaker, pub, registryWith(domain.WorkTypeCivicStats, func(context.Context, string) error {
		return errors.New("boom")
	}))

	assert.Equal(t, testPollInterval, w.tick(context.Background()))
	assert.Empty(t, pub.kinds())
	_, failures := breaker.counts()
	assert.Equal(t, 1, failures)
}

func TestWorker_ConcurrentClaimersProcessOnce(t *testing.T) {
	store := &fakeStore{}
	store.add(t, "item-1", domain.WorkTypeCivicStats, "{}")

	// both workers read the same pending row before either claims it
	var rendezvous sync.WaitGroup
	rendezvous.Add(2)
	store.afterPending = func() {
		rendezvous.Done()
		rendezvous.Wait()
	}

	var calls atomic.Int32
	registry := registryWith(domain.WorkTypeCivicStats, func(context.Context, string) error {
		calls.Add(1)
		return nil
	})
	pub := &fakePublisher{}
	first := newTestWorker(store, &fakeBreaker{}, pub, registry)
	second := newTestWorker(store, &fakeBreaker{}, pub, registry)

	var wg sync.WaitGroup
	for _, w := range []*Worker{first, second} {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.tick(context.Background())
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, domain.StatusCompleted, store.get("item-1").Status)
	assert.Equal(t, []events.Kind{events.KindWorkItemCompleted}, pub.kinds())
}

func TestWorker_StartStop(t *testing.T) {
	store := &fakeStore{}
	store.add(t, "item-1", domain.WorkTypeCivicStats, "{}")
	store.add(t, "item-2", domain.WorkTypeCivicStats, "{}")
	pub := &fakePublisher{}
	w := newTestWorker(store, &fakeBreaker{}, pub, registryWith(domain.WorkTypeCivicStats, func(context.Context, string) error {
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	assert.Eventually(t, func() bool {
		return store.get("item-1").Status == domain.StatusCompleted &&
			store.get("item-2").Status == domain.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	w.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	kinds := pub.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, events.KindServiceStarted, kinds[0])
	assert.Equal(t, events.KindServiceStopping, kinds[len(kinds)-1])

	started := pub.events[0].(events.ServiceStarted)
	assert.Equal(t, "test", started.Environment)
}

func TestWorker_StopBeforeStart(t *testing.T) {
	store := &fakeStore{}
	store.add(t, "item-1", domain.WorkTypeCivicStats, "{}")
	pub := &fakePublisher{}
	w := newTestWorker(store, &fakeBreaker{}, pub, registryWith(domain.WorkTypeCivicStats, func(context.Context, string) error {
		return nil
	}))

	w.Stop()

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("start ran after stop")
	}

	assert.Empty(t, pub.kinds())
	assert.Equal(t, domain.StatusPending, store.get("item-1").Status)

	// a second Stop still has nothing to wait for
	assert.NotPanics(t, w.Stop)
}

func TestWorker_StartReturnsOnContextCancel(t *testing.T) {
	pub := &fakePublisher{}
	w := newTestWorker(&fakeStore{}, &fakeBreaker{}, pub, NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	assert.Eventually(t, func() bool { return len(pub.kinds()) > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, events.ServiceStopping{Reason: "cancellation requested"}, pub.last())
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(&Config{Logger: logger.NewNop().Logger})

	assert.Equal(t, DefaultPollInterval, w.pollInterval)
	assert.Equal(t, DefaultCircuitBreakerWait, w.circuitBreakerWait)
	assert.NotNil(t, w.registry)
}
