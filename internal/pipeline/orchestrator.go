package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/metrics"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// ProcessStore persists process runs and their per-stage status
type ProcessStore interface {
	CreateProcess(ctx context.Context, run *contracts.ProcessRun) error
	UpdateStage(ctx context.Context, processID string, st contracts.ProcessStageStatus) error
	UpdateProcess(ctx context.Context, run *contracts.ProcessRun) error
	CancelRequested(ctx context.Context, processID string) (bool, error)
	RequestCancel(ctx context.Context, processID string) error
	GetProcess(ctx context.Context, processID string) (*contracts.ProcessRun, error)
}

var _ ProcessStore = (*Repository)(nil)

// Orchestrator chains stage runners for one reporting date
// ⭐ SSOT: 파이프라인 조율은 여기서만 (취소는 stage 사이에서만 확인)
type Orchestrator struct {
	runners map[contracts.Stage]contracts.StageRunner
	store   ProcessStore
	metrics *metrics.Metrics
	logger  *logger.Logger
	sink    contracts.LogSink
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(runners []contracts.StageRunner, store ProcessStore, m *metrics.Metrics, log *logger.Logger, sink contracts.LogSink) *Orchestrator {
	byStage := make(map[contracts.Stage]contracts.StageRunner, len(runners))
	for _, r := range runners {
		byStage[r.Stage()] = r
	}
	return &Orchestrator{
		runners: byStage,
		store:   store,
		metrics: m,
		logger:  log.WithField("module", "pipeline"),
		sink:    sink,
	}
}

// Request holds the parameters of one process run
type Request struct {
	ProcessID   string // generated when empty
	Date        time.Time
	Stages      []contracts.Stage // empty = every stage
	FreshRunKey bool
	RunKey      *int64
}

// Start validates the request and persists a Pending process with one row per stage
func (o *Orchestrator) Start(ctx context.Context, req Request) (*contracts.ProcessRun, error) {
	stages := req.Stages
	if len(stages) == 0 {
		stages = contracts.AllStages()
	}
	for _, s := range stages {
		if _, ok := o.runners[s]; !ok {
			return nil, fmt.Errorf("no runner registered for stage %s", s)
		}
	}

	id := req.ProcessID
	if id == "" {
		id = uuid.NewString()
	}

	run := &contracts.ProcessRun{
		ProcessID:  id,
		FicMisDate: req.Date,
		RunKey:     req.RunKey,
		Status:     contracts.StatusPending,
		StartedAt:  time.Now(),
		Stages:     make([]contracts.ProcessStageStatus, len(stages)),
	}
	for i, s := range stages {
		run.Stages[i] = contracts.ProcessStageStatus{Seq: i + 1, Stage: s, Status: contracts.StatusPending}
	}

	if err := o.store.CreateProcess(ctx, run); err != nil {
		return nil, fmt.Errorf("create process: %w", err)
	}
	return run, nil
}

// Run starts and executes a process synchronously
func (o *Orchestrator) Run(ctx context.Context, req Request) (*contracts.ProcessRun, error) {
	run, err := o.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return run, o.Execute(ctx, run, req.FreshRunKey)
}

// Execute runs the stages of a started process in order.
// Cancellation (context or cancel flag) is honoured between stages only:
// a started stage runs on a detached context so its delete-and-reinsert completes.
func (o *Orchestrator) Execute(ctx context.Context, run *contracts.ProcessRun, freshRunKey bool) error {
	// bookkeeping and stage work must survive a cancelled run context
	book := context.WithoutCancel(ctx)

	log := o.logger.WithFields(map[string]interface{}{
		"process_id": run.ProcessID,
		"date":       contracts.DateKey(run.FicMisDate),
	})
	log.Infof("Starting process with %d stages", len(run.Stages))

	rc := contracts.RunContext{
		ProcessID:   run.ProcessID,
		Date:        run.FicMisDate,
		RunKey:      run.RunKey,
		FreshRunKey: freshRunKey,
	}
	run.Status = contracts.StatusOngoing
	if err := o.store.UpdateProcess(book, run); err != nil {
		log.WithError(err).Warn("process status not persisted")
	}

	for i := range run.Stages {
		st := &run.Stages[i]

		if o.cancelled(ctx, book, run.ProcessID) {
			for j := i; j < len(run.Stages); j++ {
				run.Stages[j].Status = contracts.StatusCancelled
				o.saveStage(book, run.ProcessID, run.Stages[j])
			}
			run.Status = contracts.StatusCancelled
			run.Error = fmt.Sprintf("cancelled before %s", st.Stage)
			o.finish(book, run)
			log.Warn(run.Error)
			return fmt.Errorf("%w: before %s", contracts.ErrCancelled, st.Stage)
		}

		now := time.Now()
		st.Status = contracts.StatusOngoing
		st.StartedAt = &now
		o.saveStage(book, run.ProcessID, *st)

		span := StartSpan(st.Stage, run.ProcessID, run.FicMisDate, o.logger, o.metrics, o.sink)
		res, err := o.runners[st.Stage].Run(book, rc)
		span.End(res, err)

		done := time.Now()
		st.FinishedAt = &done
		if err != nil {
			st.Status = contracts.StatusFailed
			st.Error = err.Error()
			o.saveStage(book, run.ProcessID, *st)

			run.Status = contracts.StatusFailed
			run.Error = fmt.Sprintf("%s: %v", st.Stage, err)
			o.finish(book, run)
			return fmt.Errorf("%s failed: %w", st.Stage, err)
		}

		st.Status = contracts.StatusSuccess
		o.saveStage(book, run.ProcessID, *st)

		if res != nil && res.RunKey != nil {
			rc.RunKey = res.RunKey
			run.RunKey = res.RunKey
		}
	}

	run.Status = contracts.StatusSuccess
	o.finish(book, run)
	log.Info("Process completed successfully")
	return nil
}

// Cancel flags a running process; the orchestrator stops before its next stage
func (o *Orchestrator) Cancel(ctx context.Context, processID string) error {
	run, err := o.store.GetProcess(ctx, processID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrProcessFinished, processID, run.Status)
	}
	return o.store.RequestCancel(ctx, processID)
}

// Get returns the persisted state of a process
func (o *Orchestrator) Get(ctx context.Context, processID string) (*contracts.ProcessRun, error) {
	return o.store.GetProcess(ctx, processID)
}

func (o *Orchestrator) cancelled(ctx, book context.Context, processID string) bool {
	if ctx.Err() != nil {
		return true
	}
	flag, err := o.store.CancelRequested(book, processID)
	if err != nil {
		o.logger.WithError(err).Warn("cancel flag read failed")
		return false
	}
	return flag
}

func (o *Orchestrator) saveStage(ctx context.Context, processID string, st contracts.ProcessStageStatus) {
	if err := o.store.UpdateStage(ctx, processID, st); err != nil {
		o.logger.WithError(err).WithField("stage", st.Stage.String()).Warn("stage status not persisted")
	}
}

func (o *Orchestrator) finish(ctx context.Context, run *contracts.ProcessRun) {
	now := time.Now()
	run.FinishedAt = &now
	if err := o.store.UpdateProcess(ctx, run); err != nil {
		o.logger.WithError(err).Warn("process status not persisted")
	}
}

// IsCancelled reports whether err stems from a between-stage cancellation
func IsCancelled(err error) bool {
	return errors.Is(err, contracts.ErrCancelled)
}
