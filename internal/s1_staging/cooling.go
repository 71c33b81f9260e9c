package s1_staging

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// CoolingOutcome is the state-machine transition taken for one account
type CoolingOutcome string

const (
	OutcomeNoHistory CoolingOutcome = "no_history"
	OutcomeNormal    CoolingOutcome = "normal"
	OutcomeEnter     CoolingOutcome = "enter"
	OutcomePersist   CoolingOutcome = "persist"
	OutcomeConfirm   CoolingOutcome = "confirm"
)

// CoolingEngine holds stage improvements back until the cooling period elapses
// ⭐ SSOT: NORMAL → COOLING → (persist | confirm) 상태 머신
type CoolingEngine struct {
	store  Store
	ref    contracts.ReferenceData
	opts   batch.Options
	logger *logger.Logger
	sink   contracts.LogSink
}

// NewCoolingEngine creates a new CoolingEngine
func NewCoolingEngine(store Store, ref contracts.ReferenceData, opts batch.Options, log *logger.Logger, sink contracts.LogSink) *CoolingEngine {
	return &CoolingEngine{
		store:  store,
		ref:    ref,
		opts:   opts,
		logger: log.WithField("module", "s1_cooling"),
		sink:   sink,
	}
}

// Stage implements contracts.StageRunner
func (c *CoolingEngine) Stage() contracts.Stage { return contracts.StageCooling }

type coolingResult struct {
	record  contracts.StageRecord
	outcome CoolingOutcome
}

// Run evaluates every row in parallel, then applies all writes in one bulk pass
func (c *CoolingEngine) Run(ctx context.Context, rc contracts.RunContext) (*contracts.StageResult, error) {
	periods, err := c.ref.CoolingPeriods(ctx)
	if err != nil {
		return nil, fmt.Errorf("cooling periods: %w", err)
	}

	records, err := c.store.LoadStageRecords(ctx, rc.Date)
	if err != nil {
		return nil, err
	}
	prev, err := c.store.PreviousStates(ctx, rc.Date)
	if err != nil {
		return nil, err
	}

	results, failures, err := batch.ParallelMap(ctx, records, c.opts.Workers,
		func(_ context.Context, rec contracts.StageRecord) (coolingResult, error) {
			var p *PrevState
			if state, ok := prev[rec.AccountNumber]; ok {
				p = &state
			}
			out, outcome, err := EvaluateCooling(rec, p, periods, rc.Date)
			if err != nil {
				return coolingResult{}, err
			}
			return coolingResult{record: out, outcome: outcome}, nil
		})
	if err != nil {
		return nil, err
	}

	warnings := 0
	for _, f := range failures {
		warnings++
		msg := fmt.Sprintf("cooling skipped for %s: %v", f.Item.AccountNumber, f.Err)
		c.logger.Warn(msg)
		c.sink.Log(string(contracts.StageCooling), contracts.LevelWarning, msg)
	}

	counts := make(map[CoolingOutcome]int)
	updates := make([]contracts.StageRecord, 0, len(results))
	for _, r := range results {
		counts[r.outcome]++
		updates = append(updates, r.record)
	}

	written, err := batch.PersistChunks(ctx, updates, c.opts.ChunkSize, batch.Retrying(c.opts, c.store.UpdateStaging))
	if err != nil {
		return nil, fmt.Errorf("update cooling: %w", err)
	}

	msg := fmt.Sprintf("cooling evaluated %d rows for %s (enter=%d persist=%d confirm=%d)",
		written, contracts.DateKey(rc.Date), counts[OutcomeEnter], counts[OutcomePersist], counts[OutcomeConfirm])
	c.logger.Info(msg)
	c.sink.Log(string(contracts.StageCooling), contracts.LevelInfo, msg)

	return &contracts.StageResult{Stage: contracts.StageCooling, RowsAffected: written, Warnings: warnings}, nil
}

// EvaluateCooling applies the cooling state machine to one row.
//
// The proposed stage is the held-back target when the row is already cooling,
// so evaluating the same date twice yields the same row.
func EvaluateCooling(rec contracts.StageRecord, prev *PrevState, periods map[contracts.TermUnit]int, date time.Time) (contracts.StageRecord, CoolingOutcome, error) {
	proposed := rec.Stage
	if rec.InCoolingPeriod && rec.TargetStage != nil {
		proposed = *rec.TargetStage
	}

	if prev == nil {
		rec.Stage = proposed
		rec.ClearCooling()
		return rec, OutcomeNoHistory, nil
	}

	duration, ok := periods[rec.AmortTermUnit]
	if !ok {
		return rec, "", fmt.Errorf("%w: cooling period for unit %q", contracts.ErrReferenceMissing, rec.AmortTermUnit)
	}

	rec.PrevStage = contracts.Int(prev.Stage)

	if prev.InCoolingPeriod {
		start := date
		if prev.CoolingStartDate != nil {
			start = *prev.CoolingStartDate
		}
		if prev.CoolingDuration != nil {
			duration = *prev.CoolingDuration
		}

		elapsed := int(date.Sub(start).Hours() / 24)
		if proposed < prev.Stage && elapsed < duration {
			rec.Stage = prev.Stage
			rec.InCoolingPeriod = true
			rec.CoolingStartDate = &start
			rec.CoolingDuration = contracts.Int(duration)
			rec.TargetStage = contracts.Int(proposed)
			return rec, OutcomePersist, nil
		}

		rec.Stage = proposed
		rec.ClearCooling()
		return rec, OutcomeConfirm, nil
	}

	if proposed < prev.Stage {
		start := date
		rec.Stage = prev.Stage
		rec.InCoolingPeriod = true
		rec.CoolingStartDate = &start
		rec.CoolingDuration = contracts.Int(duration)
		rec.TargetStage = contracts.Int(proposed)
		return rec, OutcomeEnter, nil
	}

	rec.Stage = proposed
	rec.ClearCooling()
	return rec, OutcomeNormal, nil
}
