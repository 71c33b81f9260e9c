package s6_cashflow

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Store is the persistence surface of S6
type Store interface {
	Loans(ctx context.Context, date time.Time) ([]contracts.StageRecord, error)
	Schedules(ctx context.Context, date time.Time) (map[string][]contracts.ScheduledPayment, error)
	DeleteCashflows(ctx context.Context, date time.Time) (int64, error)
	InsertCashflows(ctx context.Context, flows []contracts.ExpectedCashflow) error
}

var _ Store = (*Repository)(nil)

// Projector generates expected cash flows for every staged loan
// ⭐ SSOT: expected_cashflows (delete-then-insert per date)
type Projector struct {
	store  Store
	opts   batch.Options
	logger *logger.Logger
	sink   contracts.LogSink
}

// NewProjector creates a new Projector
func NewProjector(store Store, opts batch.Options, log *logger.Logger, sink contracts.LogSink) *Projector {
	return &Projector{
		store:  store,
		opts:   opts,
		logger: log.WithField("module", "s6_cashflow"),
		sink:   sink,
	}
}

// Stage implements contracts.StageRunner
func (p *Projector) Stage() contracts.Stage { return contracts.StageCashflow }

// Run projects every loan in parallel and rewrites the date's flows
func (p *Projector) Run(ctx context.Context, rc contracts.RunContext) (*contracts.StageResult, error) {
	loans, err := p.store.Loans(ctx, rc.Date)
	if err != nil {
		return nil, err
	}
	schedules, err := p.store.Schedules(ctx, rc.Date)
	if err != nil {
		return nil, err
	}

	projected, failures, err := batch.ParallelMap(ctx, loans, p.opts.Workers,
		func(_ context.Context, loan contracts.StageRecord) ([]contracts.ExpectedCashflow, error) {
			return Project(loan, schedules[loan.AccountNumber])
		})
	if err != nil {
		return nil, err
	}
	for _, f := range failures {
		msg := fmt.Sprintf("cash flow projection skipped: %v", f.Err)
		p.logger.WithField("account", f.Item.AccountNumber).Warn(msg)
		p.sink.Log(string(contracts.StageCashflow), contracts.LevelWarning, msg)
	}

	if err := p.opts.Do(ctx, func(ctx context.Context) error {
		_, err := p.store.DeleteCashflows(ctx, rc.Date)
		return err
	}); err != nil {
		return nil, err
	}

	flows := batch.Flatten(projected)
	written, err := batch.PersistChunks(ctx, flows, p.opts.ChunkSize, batch.Retrying(p.opts, p.store.InsertCashflows))
	if err != nil {
		return nil, fmt.Errorf("insert expected cashflows: %w", err)
	}

	explicit := 0
	for _, l := range loans {
		if len(schedules[l.AccountNumber]) > 0 {
			explicit++
		}
	}

	msg := fmt.Sprintf("projected %d cash flows for %d loans on %s (%d from explicit schedules, %d failed)",
		written, len(projected), contracts.DateKey(rc.Date), explicit, len(failures))
	p.logger.Info(msg)
	p.sink.Log(string(contracts.StageCashflow), contracts.LevelInfo, msg)

	return &contracts.StageResult{Stage: contracts.StageCashflow, RowsAffected: written, Warnings: len(failures)}, nil
}
