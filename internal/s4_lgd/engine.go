package s4_lgd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Store is the persistence surface of S4
type Store interface {
	History(ctx context.Context, from, to time.Time) ([]HistoryPoint, error)
	ReplaceCalibration(ctx context.Context, date time.Time, rows []contracts.LGDTermStructure) error
	TermStructures(ctx context.Context, date time.Time) ([]contracts.LGDTermStructure, error)
	Exposures(ctx context.Context, date time.Time) ([]Exposure, error)
	UpdateLGD(ctx context.Context, rows []Exposure) error
}

var _ Store = (*Repository)(nil)

// Engine calibrates TTC LGD from history and assigns LGD to stage rows
// ⭐ SSOT: 1) 과거 부도 LGD 보정 → 2) term structure (세그먼트 → basis) → 3) 담보 LGD
type Engine struct {
	store  Store
	ref    contracts.ReferenceData
	config eclconfig.Source
	opts   batch.Options
	logger *logger.Logger
	sink   contracts.LogSink
}

// NewEngine creates a new LGD Engine
func NewEngine(store Store, ref contracts.ReferenceData, config eclconfig.Source, opts batch.Options, log *logger.Logger, sink contracts.LogSink) *Engine {
	return &Engine{
		store:  store,
		ref:    ref,
		config: config,
		opts:   opts,
		logger: log.WithField("module", "s4_lgd"),
		sink:   sink,
	}
}

// Stage implements contracts.StageRunner
func (e *Engine) Stage() contracts.Stage { return contracts.StageLGD }

// Run executes calibration, then term-structure and collateral assignment
func (e *Engine) Run(ctx context.Context, rc contracts.RunContext) (*contracts.StageResult, error) {
	cfg, err := e.config.Load(ctx)
	if err != nil {
		return nil, err
	}

	warnings := 0
	if _, err := e.Calibrate(ctx, rc.Date, cfg); err != nil {
		if !errors.Is(err, contracts.ErrNoHistory) {
			return nil, err
		}
		warnings++
		e.log(contracts.LevelWarning, fmt.Sprintf("lgd calibration skipped: %v", err))
	}

	structures, err := e.ref.PDTermStructures(ctx)
	if err != nil {
		return nil, fmt.Errorf("pd term structures: %w", err)
	}
	tsRows, err := e.store.TermStructures(ctx, rc.Date)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.Exposures(ctx, rc.Date)
	if err != nil {
		return nil, err
	}

	assigned := AssignTermStructure(rows, IndexTermStructures(tsRows), structures)
	fromTS := len(assigned)

	fromCollateral := 0
	if cfg.LGD.CanCalculate {
		for acct, src := range AssignCollateral(rows, cfg.LGD.CollateralCap) {
			assigned[acct] = src
			fromCollateral++
		}
	}

	changed := make([]Exposure, 0, len(assigned))
	for _, r := range rows {
		if _, ok := assigned[r.AccountNumber]; ok {
			changed = append(changed, r)
		}
	}

	written, err := batch.PersistChunks(ctx, changed, e.opts.ChunkSize, batch.Retrying(e.opts, e.store.UpdateLGD))
	if err != nil {
		return nil, fmt.Errorf("update lgd: %w", err)
	}

	missing := 0
	for _, r := range rows {
		if r.LGD == nil {
			missing++
		}
	}
	if missing > 0 {
		warnings++
		e.log(contracts.LevelWarning, fmt.Sprintf("%d rows have no lgd for %s", missing, contracts.DateKey(rc.Date)))
	}

	e.log(contracts.LevelInfo, fmt.Sprintf("lgd assigned for %s: %d term structure, %d collateral",
		contracts.DateKey(rc.Date), fromTS, fromCollateral))

	return &contracts.StageResult{Stage: contracts.StageLGD, RowsAffected: written, Warnings: warnings}, nil
}

// Calibrate computes realised LGD from the historical window and saves it as the
// segment-level TTC term structure of the date
func (e *Engine) Calibrate(ctx context.Context, date time.Time, cfg *eclconfig.Config) (*Calibration, error) {
	bands, err := e.ref.DelinquencyBands(ctx)
	if err != nil {
		return nil, fmt.Errorf("delinquency bands: %w", err)
	}
	grades, err := e.ref.RatingGrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("rating grades: %w", err)
	}

	from := date.AddDate(0, -cfg.History.LookbackMonths, 0)
	points, err := e.store.History(ctx, from, date)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: window %s..%s", contracts.ErrNoHistory, contracts.DateKey(from), contracts.DateKey(date))
	}

	cal := Calibrate(points, NewDefaultRule(bands, grades))
	if cal.Defaults == 0 {
		e.log(contracts.LevelWarning, fmt.Sprintf("no default events in window %s..%s", contracts.DateKey(from), contracts.DateKey(date)))
		if err := e.replaceCalibration(ctx, date, nil); err != nil {
			return nil, err
		}
		return &cal, nil
	}

	segments := make([]int, 0, len(cal.BySegment))
	for seg := range cal.BySegment {
		segments = append(segments, seg)
	}
	sort.Ints(segments)

	rows := make([]contracts.LGDTermStructure, len(segments))
	for i, seg := range segments {
		lgd := cal.BySegment[seg]
		rows[i] = contracts.LGDTermStructure{
			FicMisDate: date,
			SegmentKey: seg,
			LGD:        lgd,
			LGDBase:    contracts.Float(lgd),
		}
	}
	if err := e.replaceCalibration(ctx, date, rows); err != nil {
		return nil, err
	}

	e.log(contracts.LevelInfo, fmt.Sprintf("lgd calibrated for %d segments from %d defaults, overall mean %.6f",
		len(segments), cal.Defaults, cal.Overall))
	return &cal, nil
}

func (e *Engine) replaceCalibration(ctx context.Context, date time.Time, rows []contracts.LGDTermStructure) error {
	return e.opts.Do(ctx, func(ctx context.Context) error {
		return e.store.ReplaceCalibration(ctx, date, rows)
	})
}

func (e *Engine) log(level, msg string) {
	switch level {
	case contracts.LevelWarning:
		e.logger.Warn(msg)
	default:
		e.logger.Info(msg)
	}
	e.sink.Log(string(contracts.StageLGD), level, msg)
}
