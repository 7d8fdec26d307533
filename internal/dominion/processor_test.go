package dominion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/dominion-sim/internal/events"
	"github.com/cuongbtq/dominion-sim/internal/worker/domain"
	"github.com/cuongbtq/dominion-sim/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobStore struct {
	mu      sync.Mutex
	jobs    map[string]domain.DominionTurnJob
	saves   int
	saveErr func(job *domain.DominionTurnJob) error
}

func newFakeJobStore(jobs ...*domain.DominionTurnJob) *fakeJobStore {
	s := &fakeJobStore{jobs: make(map[string]domain.DominionTurnJob)}
	for _, j := range jobs {
		s.jobs[j.ID] = *j
	}
	return s
}

func (s *fakeJobStore) GetByID(_ context.Context, id string) (*domain.DominionTurnJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrDominionTurnJobNotFound
	}
	return &job, nil
}

func (s *fakeJobStore) Save(_ context.Context, job *domain.DominionTurnJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		if err := s.saveErr(job); err != nil {
			return err
		}
	}
	s.saves++
	s.jobs[job.ID] = *job
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	failOn map[events.Kind]error
}

func (p *fakePublisher) Publish(_ context.Context, event events.Event, _ events.Severity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failOn[event.Kind()]; ok {
		return err
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

type recordingRunner struct {
	indices []int
	failAt  int
	err     error
}

func (r *recordingRunner) Execute(_ context.Context, _ *domain.DominionTurnJob, index int) error {
	r.indices = append(r.indices, index)
	if r.err != nil && index == r.failAt {
		return r.err
	}
	return nil
}

func newTestJob(t *testing.T, total int) *domain.DominionTurnJob {
	t.Helper()
	job, err := domain.NewDominionTurnJob("job-1", "Aurelia", time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), total)
	require.NoError(t, err)
	return job
}

func newTestProcessor(store JobStore, pub events.Publisher, runner ScenarioRunner) *Processor {
	return NewProcessor(&Config{
		Logger:    logger.NewNop().Logger,
		Store:     store,
		Publisher: pub,
		Runner:    runner,
	})
}

func TestProcessor_Process_Success(t *testing.T) {
	job := newTestJob(t, 3)
	store := newFakeJobStore(job)
	pub := &fakePublisher{}
	runner := &recordingRunner{}
	p := newTestProcessor(store, pub, runner)

	require.NoError(t, p.Process(context.Background(), job))

	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, 3, job.ScenariosProcessed)
	assert.True(t, job.IsComplete())
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
	assert.Nil(t, job.ErrorMessage)

	assert.Equal(t, []int{0, 1, 2}, runner.indices)
	assert.Equal(t, []events.Kind{events.KindDominionTurnStarted, events.KindDominionTurnCompleted}, pub.kinds())
	assert.Equal(t, events.DominionTurnStarted{JobID: "job-1", GovernmentName: "Aurelia"}, pub.events[0])
	assert.Equal(t, events.DominionTurnCompleted{JobID: "job-1", ScenariosProcessed: 3}, pub.events[1])

	// start, one save per scenario, completion
	assert.Equal(t, 5, store.saves)

	reloaded, err := store.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, *job, *reloaded)
}

func TestProcessor_Process_NilJob(t *testing.T) {
	store := newFakeJobStore()
	pub := &fakePublisher{}
	p := newTestProcessor(store, pub, &recordingRunner{})

	err := p.Process(context.Background(), nil)

	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Zero(t, store.saves)
	assert.Empty(t, pub.kinds())
}

func TestProcessor_Process_TerminalJobIsRejected(t *testing.T) {
	job := newTestJob(t, 1)
	store := newFakeJobStore(job)
	p := newTestProcessor(store, &fakePublisher{}, &recordingRunner{})
	require.NoError(t, p.Process(context.Background(), job))
	saves := store.saves

	err := p.Process(context.Background(), job)

	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, saves, store.saves)
}

func TestProcessor_Process_ScenarioFailure(t *testing.T) {
	job := newTestJob(t, 3)
	store := newFakeJobStore(job)
	pub := &fakePublisher{}
	scenarioErr := errors.New("treasury unreachable")
	runner := &recordingRunner{failAt: 1, err: scenarioErr}
	p := newTestProcessor(store, pub, runner)

	err := p.Process(context.Background(), job)

	assert.Same(t, scenarioErr, err)
	assert.Equal(t, []int{0, 1}, runner.indices)
	assert.Equal(t, []events.Kind{events.KindDominionTurnStarted, events.KindDominionTurnFailed}, pub.kinds())
	assert.Equal(t, events.DominionTurnFailed{JobID: "job-1", ErrorMessage: "treasury unreachable"}, pub.events[1])

	persisted, getErr := store.GetByID(context.Background(), "job-1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusFailed, persisted.Status)
	assert.Equal(t, 1, persisted.ScenariosProcessed)
	assert.False(t, persisted.IsComplete())
	assert.Equal(t, "treasury unreachable", persisted.ErrorText())
	assert.NotNil(t, persisted.CompletedAt)
}

func TestProcessor_Process_StartPublishFailure(t *testing.T) {
	job := newTestJob(t, 2)
	store := newFakeJobStore(job)
	publishErr := errors.New("exchange not found")
	pub := &fakePublisher{failOn: map[events.Kind]error{events.KindDominionTurnStarted: publishErr}}
	runner := &recordingRunner{}
	p := newTestProcessor(store, pub, runner)

	err := p.Process(context.Background(), job)

	assert.Same(t, publishErr, err)
	assert.Empty(t, runner.indices)
	assert.Equal(t, []events.Kind{events.KindDominionTurnFailed}, pub.kinds())

	persisted, getErr := store.GetByID(context.Background(), "job-1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusFailed, persisted.Status)
	assert.Contains(t, persisted.ErrorText(), "exchange not found")
	assert.Zero(t, persisted.ScenariosProcessed)
}

func TestProcessor_Process_InitialSaveFailure(t *testing.T) {
	job := newTestJob(t, 2)
	store := newFakeJobStore(job)
	saveErr := errors.New("too many connections")
	store.saveErr = func(j *domain.DominionTurnJob) error {
		if j.Status == domain.StatusProcessing {
			return saveErr
		}
		return nil
	}
	pub := &fakePublisher{}
	runner := &recordingRunner{}
	p := newTestProcessor(store, pub, runner)

	err := p.Process(context.Background(), job)

	assert.Same(t, saveErr, err)
	assert.Empty(t, runner.indices)
	// Started was never sent, Failed still is
	assert.Equal(t, []events.Kind{events.KindDominionTurnFailed}, pub.kinds())

	persisted, getErr := store.GetByID(context.Background(), "job-1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusFailed, persisted.Status)
	assert.Equal(t, "too many connections", persisted.ErrorText())
}

func TestProcessor_Process_PersistenceFailureMidRun(t *testing.T) {
	job := newTestJob(t, 3)
	store := newFakeJobStore(job)
	saveErr := errors.New("connection reset")
	store.saveErr = func(j *domain.DominionTurnJob) error {
		if j.Status == domain.StatusProcessing && j.ScenariosProcessed == 2 {
			return saveErr
		}
		return nil
	}
	pub := &fakePublisher{}
	p := newTestProcessor(store, pub, &recordingRunner{})

	err := p.Process(context.Background(), job)

	assert.ErrorIs(t, err, saveErr)
	persisted, getErr := store.GetByID(context.Background(), "job-1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusFailed, persisted.Status)
	assert.Equal(t, 2, persisted.ScenariosProcessed)
	assert.Equal(t, events.KindDominionTurnFailed, pub.kinds()[len(pub.kinds())-1])
}

func TestProcessor_Process_CompletionSaveFailure(t *testing.T) {
	job := newTestJob(t, 1)
	store := newFakeJobStore(job)
	store.saveErr = func(j *domain.DominionTurnJob) error {
		if j.Status == domain.StatusCompleted {
			return errors.New("deadlock detected")
		}
		return nil
	}
	pub := &fakePublisher{}
	p := newTestProcessor(store, pub, &recordingRunner{})

	err := p.Process(context.Background(), job)

	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, 1, job.ScenariosProcessed)
	assert.Equal(t, []events.Kind{events.KindDominionTurnStarted, events.KindDominionTurnFailed}, pub.kinds())
}

func TestProcessor_Process_CompletionPublishFailureKeepsCompleted(t *testing.T) {
	job := newTestJob(t, 2)
	store := newFakeJobStore(job)
	publishErr := errors.New("broker closed")
	pub := &fakePublisher{failOn: map[events.Kind]error{events.KindDominionTurnCompleted: publishErr}}
	p := newTestProcessor(store, pub, &recordingRunner{})

	err := p.Process(context.Background(), job)

	assert.Same(t, publishErr, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, []events.Kind{events.KindDominionTurnStarted}, pub.kinds())

	persisted, getErr := store.GetByID(context.Background(), "job-1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusCompleted, persisted.Status)
}

func TestProcessor_Process_Cancellation(t *testing.T) {
	job := newTestJob(t, 3)
	store := newFakeJobStore(job)
	pub := &fakePublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := ScenarioRunnerFunc(func(context.Context, *domain.DominionTurnJob, int) error {
		cancel()
		return nil
	})
	p := newTestProcessor(store, pub, runner)

	err := p.Process(ctx, job)

	assert.ErrorIs(t, err, context.Canceled)
	persisted, getErr := store.GetByID(context.Background(), "job-1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusFailed, persisted.Status)
	assert.Equal(t, 1, persisted.ScenariosProcessed)
	assert.Equal(t, events.KindDominionTurnFailed, pub.kinds()[len(pub.kinds())-1])
}

func TestProcessor_HandleWorkItem(t *testing.T) {
	job := newTestJob(t, 2)
	store := newFakeJobStore(job)
	p := newTestProcessor(store, &fakePublisher{}, LoggingScenarioRunner(logger.NewNop().Logger))

	payload, err := domain.DominionTurnPayload{JobID: "job-1"}.Encode()
	require.NoError(t, err)

	require.NoError(t, p.HandleWorkItem(context.Background(), payload))

	persisted, err := store.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, persisted.Status)
	assert.Equal(t, 2, persisted.ScenariosProcessed)
}

func TestProcessor_HandleWorkItem_CompletionPublishFailure(t *testing.T) {
	job := newTestJob(t, 2)
	store := newFakeJobStore(job)
	publishErr := errors.New("broker closed")
	pub := &fakePublisher{failOn: map[events.Kind]error{events.KindDominionTurnCompleted: publishErr}}
	p := newTestProcessor(store, pub, &recordingRunner{})

	payload, err := domain.DominionTurnPayload{JobID: "job-1"}.Encode()
	require.NoError(t, err)

	// the error reaches the worker, which fails the work item
	err = p.HandleWorkItem(context.Background(), payload)
	assert.ErrorIs(t, err, publishErr)

	persisted, getErr := store.GetByID(context.Background(), "job-1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusCompleted, persisted.Status)
	assert.Equal(t, 2, persisted.ScenariosProcessed)
	assert.NotNil(t, persisted.CompletedAt)
}

func TestProcessor_HandleWorkItem_Errors(t *testing.T) {
	p := newTestProcessor(newFakeJobStore(), &fakePublisher{}, &recordingRunner{})

	err := p.HandleWorkItem(context.Background(), "not json")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	err = p.HandleWorkItem(context.Background(), `{"job_id":"missing"}`)
	assert.ErrorIs(t, err, domain.ErrDominionTurnJobNotFound)
}
