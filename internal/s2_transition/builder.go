package s2_transition

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
	"github.com/wonny/ifrs9-ecl/internal/refdata"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Store is the persistence surface of S2
type Store interface {
	Observations(ctx context.Context, from, to time.Time, basis Basis) ([]contracts.Observation, error)
	HistoryDates(ctx context.Context, from, to time.Time) ([]time.Time, error)
	DeleteResults(ctx context.Context, date time.Time) error
	InsertTransitions(ctx context.Context, rows []contracts.TransitionRow) error
	InsertCumulative(ctx context.Context, rows []contracts.CumulativePDRow) error
	InsertAnnual(ctx context.Context, rows []contracts.AnnualPDRow) error
	InsertDetails(ctx context.Context, rows []contracts.PDTermStructureDetail) error
}

var _ Store = (*Repository)(nil)

// Builder builds transition matrices and annual PD per combined group
// ⭐ SSOT: S1 stage rows → S2 annual PD → S3 interpolation 입력
type Builder struct {
	store  Store
	ref    contracts.ReferenceData
	config eclconfig.Source
	opts   batch.Options
	logger *logger.Logger
	sink   contracts.LogSink
}

// NewBuilder creates a new transition matrix Builder
func NewBuilder(store Store, ref contracts.ReferenceData, config eclconfig.Source, opts batch.Options, log *logger.Logger, sink contracts.LogSink) *Builder {
	return &Builder{
		store:  store,
		ref:    ref,
		config: config,
		opts:   opts,
		logger: log.WithField("module", "s2_transition"),
		sink:   sink,
	}
}

// Stage implements contracts.StageRunner
func (b *Builder) Stage() contracts.Stage { return contracts.StageTransition }

type groupJob struct {
	group refdata.Group
	basis Basis
	unit  contracts.TermUnit
	obs   []contracts.Observation
}

// Run rebuilds every S2 table for the date from the historical window
func (b *Builder) Run(ctx context.Context, rc contracts.RunContext) (*contracts.StageResult, error) {
	cfg, err := b.config.Load(ctx)
	if err != nil {
		return nil, err
	}

	from := rc.Date.AddDate(0, -cfg.History.LookbackMonths, 0)
	dates, err := b.store.HistoryDates(ctx, from, rc.Date)
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: window %s..%s", contracts.ErrNoHistory, contracts.DateKey(from), contracts.DateKey(rc.Date))
	}

	jobs, warnings, err := b.plan(ctx, from, rc.Date)
	if err != nil {
		return nil, err
	}

	results, failures, err := batch.ParallelMap(ctx, jobs, b.opts.Workers,
		func(_ context.Context, j groupJob) (GroupResult, error) {
			return BuildGroup(rc.Date, j.group, j.basis, j.unit, j.obs)
		})
	if err != nil {
		return nil, err
	}
	for _, f := range failures {
		warnings++
		b.warn(fmt.Sprintf("group %s skipped: %v", f.Item.group.Key, f.Err))
	}

	var all GroupResult
	for _, r := range results {
		all.Transitions = append(all.Transitions, r.Transitions...)
		all.Cumulative = append(all.Cumulative, r.Cumulative...)
		all.Annual = append(all.Annual, r.Annual...)
		all.Details = append(all.Details, r.Details...)
	}

	written, err := b.persist(ctx, rc.Date, all)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("transition matrix for %s: %d groups, %d dates, %d transitions, %d annual pd rows",
		contracts.DateKey(rc.Date), len(results), len(dates), len(all.Transitions), len(all.Annual))
	b.logger.Info(msg)
	b.sink.Log(string(contracts.StageTransition), contracts.LevelInfo, msg)

	return &contracts.StageResult{Stage: contracts.StageTransition, RowsAffected: written, Warnings: warnings}, nil
}

// plan resolves groups, their basis and their observations
func (b *Builder) plan(ctx context.Context, from, to time.Time) ([]groupJob, int, error) {
	segments, err := b.ref.Segments(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("segments: %w", err)
	}
	combined, err := b.ref.CombinedSegments(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("combined segments: %w", err)
	}
	structures, err := b.ref.PDTermStructures(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("pd term structures: %w", err)
	}
	bands, err := b.ref.DelinquencyBands(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("delinquency bands: %w", err)
	}
	grades, err := b.ref.RatingGrades(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("rating grades: %w", err)
	}

	keys := make([]int, len(segments))
	for i, s := range segments {
		keys[i] = s.Key
	}
	groups := refdata.BuildGroups(keys, combined)

	// observations are loaded once per basis column
	loaded := make(map[contracts.BasisKind]map[int][]contracts.Observation)
	load := func(basis Basis) (map[int][]contracts.Observation, error) {
		if bySeg, ok := loaded[basis.Kind()]; ok {
			return bySeg, nil
		}
		obs, err := b.store.Observations(ctx, from, to, basis)
		if err != nil {
			return nil, err
		}
		bySeg := make(map[int][]contracts.Observation)
		for _, o := range obs {
			bySeg[o.SegmentKey] = append(bySeg[o.SegmentKey], o)
		}
		loaded[basis.Kind()] = bySeg
		return bySeg, nil
	}

	var jobs []groupJob
	warnings := 0
	for _, g := range groups {
		ts, ok := structures[g.Segments[0]]
		if !ok {
			warnings++
			b.warn(fmt.Sprintf("group %s: no pd term structure for segment %d", g.Key, g.Segments[0]))
			continue
		}

		var basis Basis
		if ts.BasisKind == contracts.BasisRating {
			basis, err = NewRatingBasis(grades)
		} else {
			basis, err = NewDelinquencyBasis(bands, ts.FrequencyUnit)
		}
		if err != nil {
			warnings++
			b.warn(fmt.Sprintf("group %s: %v", g.Key, err))
			continue
		}

		bySeg, err := load(basis)
		if err != nil {
			return nil, warnings, err
		}
		var obs []contracts.Observation
		for _, s := range g.Segments {
			obs = append(obs, bySeg[s]...)
		}

		jobs = append(jobs, groupJob{group: g, basis: basis, unit: ts.FrequencyUnit, obs: obs})
	}
	return jobs, warnings, nil
}

func (b *Builder) persist(ctx context.Context, date time.Time, all GroupResult) (int, error) {
	if err := b.opts.Do(ctx, func(ctx context.Context) error {
		return b.store.DeleteResults(ctx, date)
	}); err != nil {
		return 0, err
	}

	total := 0
	n, err := batch.PersistChunks(ctx, all.Transitions, b.opts.ChunkSize, batch.Retrying(b.opts, b.store.InsertTransitions))
	if err != nil {
		return total, fmt.Errorf("insert transitions: %w", err)
	}
	total += n
	if n, err = batch.PersistChunks(ctx, all.Cumulative, b.opts.ChunkSize, batch.Retrying(b.opts, b.store.InsertCumulative)); err != nil {
		return total, fmt.Errorf("insert cumulative pd: %w", err)
	}
	total += n
	if n, err = batch.PersistChunks(ctx, all.Annual, b.opts.ChunkSize, batch.Retrying(b.opts, b.store.InsertAnnual)); err != nil {
		return total, fmt.Errorf("insert annual pd: %w", err)
	}
	total += n
	if n, err = batch.PersistChunks(ctx, all.Details, b.opts.ChunkSize, batch.Retrying(b.opts, b.store.InsertDetails)); err != nil {
		return total, fmt.Errorf("insert pd term structure details: %w", err)
	}
	total += n

	return total, nil
}

func (b *Builder) warn(msg string) {
	b.logger.Warn(msg)
	b.sink.Log(string(contracts.StageTransition), contracts.LevelWarning, msg)
}
