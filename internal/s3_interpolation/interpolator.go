package s3_interpolation

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Store is the persistence surface of S3
type Store interface {
	Details(ctx context.Context, date time.Time) ([]contracts.PDTermStructureDetail, error)
	DeleteInterpolated(ctx context.Context, date time.Time) error
	InsertInterpolated(ctx context.Context, rows []contracts.InterpolatedPDRow) error
}

var _ Store = (*Repository)(nil)

// Interpolator turns annual PDs into bucketed cumulative PD curves
type Interpolator struct {
	store  Store
	ref    contracts.ReferenceData
	config eclconfig.Source
	opts   batch.Options
	logger *logger.Logger
	sink   contracts.LogSink
}

// NewInterpolator creates a new Interpolator
func NewInterpolator(store Store, ref contracts.ReferenceData, config eclconfig.Source, opts batch.Options, log *logger.Logger, sink contracts.LogSink) *Interpolator {
	return &Interpolator{
		store:  store,
		ref:    ref,
		config: config,
		opts:   opts,
		logger: log.WithField("module", "s3_interpolation"),
		sink:   sink,
	}
}

// Stage implements contracts.StageRunner
func (p *Interpolator) Stage() contracts.Stage { return contracts.StageInterpolation }

// Run regenerates every curve of the date (delete-then-insert)
func (p *Interpolator) Run(ctx context.Context, rc contracts.RunContext) (*contracts.StageResult, error) {
	cfg, err := p.config.Load(ctx)
	if err != nil {
		return nil, err
	}
	method := cfg.Interpolation.Method
	bpy, buckets := cfg.BucketsPerYear(), cfg.Buckets()

	structures, err := p.ref.PDTermStructures(ctx)
	if err != nil {
		return nil, fmt.Errorf("pd term structures: %w", err)
	}
	details, err := p.store.Details(ctx, rc.Date)
	if err != nil {
		return nil, err
	}

	curves, failures, err := batch.ParallelMap(ctx, details, p.opts.Workers,
		func(_ context.Context, d contracts.PDTermStructureDetail) ([]contracts.InterpolatedPDRow, error) {
			kind := contracts.BasisDelinquency
			if ts, ok := structures[d.TermStructureID]; ok {
				kind = ts.BasisKind
			}
			return Curve(rc.Date, d, kind, method, bpy, buckets)
		})
	if err != nil {
		return nil, err
	}
	for _, f := range failures {
		msg := fmt.Sprintf("curve %d/%s skipped: %v", f.Item.TermStructureID, f.Item.BasisCode, f.Err)
		p.logger.Warn(msg)
		p.sink.Log(string(contracts.StageInterpolation), contracts.LevelWarning, msg)
	}

	rows := batch.Flatten(curves)
	if err := p.opts.Do(ctx, func(ctx context.Context) error {
		return p.store.DeleteInterpolated(ctx, rc.Date)
	}); err != nil {
		return nil, err
	}
	written, err := batch.PersistChunks(ctx, rows, p.opts.ChunkSize, batch.Retrying(p.opts, p.store.InsertInterpolated))
	if err != nil {
		return nil, fmt.Errorf("insert interpolated pd: %w", err)
	}

	msg := fmt.Sprintf("interpolated %d curves (%s, %d buckets) into %d rows for %s",
		len(curves), method, buckets, written, contracts.DateKey(rc.Date))
	p.logger.Info(msg)
	p.sink.Log(string(contracts.StageInterpolation), contracts.LevelInfo, msg)

	return &contracts.StageResult{Stage: contracts.StageInterpolation, RowsAffected: written, Warnings: len(failures)}, nil
}

// Curve builds the interpolated rows of one (term structure, code)
func Curve(date time.Time, d contracts.PDTermStructureDetail, kind contracts.BasisKind, method string, bucketsPerYear, buckets int) ([]contracts.InterpolatedPDRow, error) {
	points, err := Interpolate(method, d.PD, bucketsPerYear, buckets)
	if err != nil {
		return nil, err
	}

	rows := make([]contracts.InterpolatedPDRow, len(points))
	for i, pt := range points {
		rows[i] = contracts.InterpolatedPDRow{
			FicMisDate:      date,
			TermStructureID: d.TermStructureID,
			BasisKind:       kind,
			BasisCode:       d.BasisCode,
			Bucket:          pt.Bucket,
			PeriodicPD:      pt.PeriodicPD,
			CumulativePD:    pt.Cumulative,
		}
	}
	return rows, nil
}
