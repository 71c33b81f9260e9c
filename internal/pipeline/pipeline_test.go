package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/metrics"
	"github.com/wonny/ifrs9-ecl/internal/testkit"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

type memoryStore struct {
	mu   sync.Mutex
	runs map[string]*contracts.ProcessRun
}

func newMemoryStore() *memoryStore {
	return &memoryStore{runs: map[string]*contracts.ProcessRun{}}
}

func (m *memoryStore) CreateProcess(_ context.Context, run *contracts.ProcessRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	cp.Stages = append([]contracts.ProcessStageStatus(nil), run.Stages...)
	m.runs[run.ProcessID] = &cp
	return nil
}

func (m *memoryStore) UpdateStage(_ context.Context, id string, st contracts.ProcessStageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrProcessNotFound
	}
	run.Stages[st.Seq-1] = st
	return nil
}

func (m *memoryStore) UpdateProcess(_ context.Context, run *contracts.ProcessRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.runs[run.ProcessID]
	stored.Status, stored.RunKey, stored.FinishedAt, stored.Error = run.Status, run.RunKey, run.FinishedAt, run.Error
	return nil
}

func (m *memoryStore) CancelRequested(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id].CancelRequested, nil
}

func (m *memoryStore) RequestCancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrProcessNotFound
	}
	run.CancelRequested = true
	return nil
}

func (m *memoryStore) GetProcess(_ context.Context, id string) (*contracts.ProcessRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrProcessNotFound
	}
	cp := *run
	cp.Stages = append([]contracts.ProcessStageStatus(nil), run.Stages...)
	return &cp, nil
}

type fakeRunner struct {
	stage  contracts.Stage
	err    error
	runKey *int64
	onRun  func()

	mu      sync.Mutex
	seen    []contracts.RunContext
	ctxErrs []error
}

func (f *fakeRunner) Stage() contracts.Stage { return f.stage }

func (f *fakeRunner) Run(ctx context.Context, rc contracts.RunContext) (*contracts.StageResult, error) {
	f.mu.Lock()
	f.seen = append(f.seen, rc)
	f.mu.Unlock()
	if f.onRun != nil {
		f.onRun()
	}
	f.mu.Lock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &contracts.StageResult{Stage: f.stage, RowsAffected: 3, RunKey: f.runKey}, nil
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func fakes() map[contracts.Stage]*fakeRunner {
	out := map[contracts.Stage]*fakeRunner{}
	for _, s := range contracts.AllStages() {
		out[s] = &fakeRunner{stage: s}
	}
	return out
}

func newOrchestrator(store ProcessStore, runners map[contracts.Stage]*fakeRunner, sink contracts.LogSink) *Orchestrator {
	list := make([]contracts.StageRunner, 0, len(runners))
	for _, s := range contracts.AllStages() {
		list = append(list, runners[s])
	}
	return NewOrchestrator(list, store, metrics.New(), logger.Nop(), sink)
}

func TestOrchestrator_RunsEveryStage(t *testing.T) {
	store := newMemoryStore()
	runners := fakes()
	sink := &testkit.Recorder{}
	o := newOrchestrator(store, runners, sink)

	run, err := o.Run(context.Background(), Request{Date: testkit.Date(2024, 6, 30)})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ProcessID)

	stored, err := o.Get(context.Background(), run.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusSuccess, stored.Status)
	require.Len(t, stored.Stages, 11)
	for _, st := range stored.Stages {
		assert.Equal(t, contracts.StatusSuccess, st.Status, st.Stage.String())
		assert.NotNil(t, st.StartedAt)
		assert.NotNil(t, st.FinishedAt)
	}
	for _, r := range runners {
		assert.Equal(t, 1, r.calls())
	}
	assert.Equal(t, 0, sink.Count(contracts.LevelError))
	assert.True(t, sink.Contains("stage completed"))
}

func TestOrchestrator_PropagatesRunKey(t *testing.T) {
	store := newMemoryStore()
	runners := fakes()
	key := int64(42)
	runners[contracts.StageLedger].runKey = &key
	o := newOrchestrator(store, runners, &testkit.Recorder{})

	run, err := o.Run(context.Background(), Request{Date: testkit.Date(2024, 6, 30), FreshRunKey: true})
	require.NoError(t, err)

	ledger := runners[contracts.StageLedger].seen[0]
	assert.Nil(t, ledger.RunKey)
	assert.True(t, ledger.FreshRunKey)

	ecl := runners[contracts.StageECL].seen[0]
	require.NotNil(t, ecl.RunKey)
	assert.Equal(t, int64(42), *ecl.RunKey)

	stored, _ := o.Get(context.Background(), run.ProcessID)
	require.NotNil(t, stored.RunKey)
	assert.Equal(t, int64(42), *stored.RunKey)
}

func TestOrchestrator_FailureHaltsChain(t *testing.T) {
	store := newMemoryStore()
	runners := fakes()
	runners[contracts.StageLGD].err = contracts.ErrNoHistory
	sink := &testkit.Recorder{}
	o := newOrchestrator(store, runners, sink)

	run, err := o.Run(context.Background(), Request{Date: testkit.Date(2024, 6, 30)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrNoHistory))

	stored, _ := o.Get(context.Background(), run.ProcessID)
	assert.Equal(t, contracts.StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "S4_LGD")

	byStage := map[contracts.Stage]contracts.Status{}
	for _, st := range stored.Stages {
		byStage[st.Stage] = st.Status
	}
	assert.Equal(t, contracts.StatusSuccess, byStage[contracts.StageInterpolation])
	assert.Equal(t, contracts.StatusFailed, byStage[contracts.StageLGD])
	assert.Equal(t, contracts.StatusPending, byStage[contracts.StagePIT])
	assert.Equal(t, 0, runners[contracts.StagePIT].calls())
	assert.Equal(t, 1, sink.Count(contracts.LevelError))
}

func TestOrchestrator_CancelBetweenStages(t *testing.T) {
	store := newMemoryStore()
	runners := fakes()
	o := newOrchestrator(store, runners, &testkit.Recorder{})

	run, err := o.Start(context.Background(), Request{Date: testkit.Date(2024, 6, 30)})
	require.NoError(t, err)

	// the flag is raised while S2 runs; S2 still completes
	runners[contracts.StageTransition].onRun = func() {
		require.NoError(t, o.Cancel(context.Background(), run.ProcessID))
	}

	err = o.Execute(context.Background(), run, false)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))

	stored, _ := o.Get(context.Background(), run.ProcessID)
	assert.Equal(t, contracts.StatusCancelled, stored.Status)
	byStage := map[contracts.Stage]contracts.Status{}
	for _, st := range stored.Stages {
		byStage[st.Stage] = st.Status
	}
	assert.Equal(t, contracts.StatusSuccess, byStage[contracts.StageTransition])
	assert.Equal(t, contracts.StatusCancelled, byStage[contracts.StageInterpolation])
	assert.Equal(t, contracts.StatusCancelled, byStage[contracts.StageECL])
	assert.Equal(t, 0, runners[contracts.StageInterpolation].calls())
}

func TestOrchestrator_StageSurvivesContextCancel(t *testing.T) {
	store := newMemoryStore()
	runners := fakes()
	o := newOrchestrator(store, runners, &testkit.Recorder{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run, err := o.Start(ctx, Request{Date: testkit.Date(2024, 6, 30)})
	require.NoError(t, err)

	// the caller goes away while S6 is writing
	runners[contracts.StageCashflow].onRun = cancel

	err = o.Execute(ctx, run, false)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))

	cf := runners[contracts.StageCashflow]
	require.Len(t, cf.ctxErrs, 1)
	assert.NoError(t, cf.ctxErrs[0], "stage context must stay live until the stage returns")

	stored, _ := o.Get(context.Background(), run.ProcessID)
	byStage := map[contracts.Stage]contracts.Status{}
	for _, st := range stored.Stages {
		byStage[st.Stage] = st.Status
	}
	assert.Equal(t, contracts.StatusSuccess, byStage[contracts.StageCashflow])
	assert.Equal(t, contracts.StatusCancelled, byStage[contracts.StageLedger])
	assert.Equal(t, 0, runners[contracts.StageLedger].calls())
}

func TestOrchestrator_ContextCancelledBeforeStart(t *testing.T) {
	store := newMemoryStore()
	runners := fakes()
	o := newOrchestrator(store, runners, &testkit.Recorder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := o.Run(ctx, Request{Date: testkit.Date(2024, 6, 30)})
	require.Error(t, err)
	assert.True(t, IsCancelled(err))

	// bookkeeping survives the cancelled context
	stored, _ := o.Get(context.Background(), run.ProcessID)
	assert.Equal(t, contracts.StatusCancelled, stored.Status)
	assert.Equal(t, 0, runners[contracts.StageSeed].calls())
}

func TestOrchestrator_SubsetAndValidation(t *testing.T) {
	store := newMemoryStore()
	runners := fakes()
	o := newOrchestrator(store, runners, &testkit.Recorder{})

	run, err := o.Run(context.Background(), Request{
		ProcessID: "p-1",
		Date:      testkit.Date(2024, 6, 30),
		Stages:    []contracts.Stage{contracts.StageCashflow, contracts.StageLedger},
	})
	require.NoError(t, err)
	assert.Equal(t, "p-1", run.ProcessID)
	assert.Len(t, run.Stages, 2)
	assert.Equal(t, 0, runners[contracts.StageSeed].calls())
	assert.Equal(t, 1, runners[contracts.StageCashflow].calls())

	_, err = o.Start(context.Background(), Request{Stages: []contracts.Stage{"S9_NOPE"}})
	assert.Error(t, err)
}

func TestOrchestrator_CancelFinishedProcess(t *testing.T) {
	store := newMemoryStore()
	o := newOrchestrator(store, fakes(), &testkit.Recorder{})

	run, err := o.Run(context.Background(), Request{Date: testkit.Date(2024, 6, 30)})
	require.NoError(t, err)

	assert.ErrorIs(t, o.Cancel(context.Background(), run.ProcessID), ErrProcessFinished)
	assert.ErrorIs(t, o.Cancel(context.Background(), "missing"), ErrProcessNotFound)
}
