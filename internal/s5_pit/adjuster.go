package s5_pit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
	"github.com/wonny/ifrs9-ecl/internal/risk"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Store is the persistence surface of S5
type Store interface {
	InterpolatedRows(ctx context.Context, date time.Time) ([]contracts.InterpolatedPDRow, error)
	UpdatePITPD(ctx context.Context, rows []contracts.InterpolatedPDRow) error
	LGDTermStructures(ctx context.Context, date time.Time) ([]contracts.LGDTermStructure, error)
	UpdatePITLGD(ctx context.Context, rows []contracts.LGDTermStructure) error
}

var _ Store = (*Repository)(nil)

// Calibration supplies sensitivities and macro scenarios
type Calibration interface {
	Sensitivities(ctx context.Context) (map[int]contracts.Sensitivity, error)
	MacroScenarios(ctx context.Context) ([]contracts.MacroPoint, error)
}

// Adjuster converts TTC PD/LGD into scenario-weighted PIT values
// ⭐ SSOT: Vasicek (PD) + Frye-Jacobs (LGD)
type Adjuster struct {
	store       Store
	calibration Calibration
	config      eclconfig.Source
	opts        batch.Options
	logger      *logger.Logger
	sink        contracts.LogSink
}

// NewAdjuster creates a new PIT Adjuster
func NewAdjuster(store Store, calibration Calibration, config eclconfig.Source, opts batch.Options, log *logger.Logger, sink contracts.LogSink) *Adjuster {
	return &Adjuster{
		store:       store,
		calibration: calibration,
		config:      config,
		opts:        opts,
		logger:      log.WithField("module", "s5_pit"),
		sink:        sink,
	}
}

// Stage implements contracts.StageRunner
func (a *Adjuster) Stage() contracts.Stage { return contracts.StagePIT }

// model is the immutable input shared by every row of one run
type model struct {
	date           time.Time
	bucketsPerYear int
	weights        []float64
	defaults       contracts.Sensitivity
	sensitivities  map[int]contracts.Sensitivity
	macro          MacroSeries
	warn           func(key, msg string)
}

func (m *model) sensitivity(termStructureID int) contracts.Sensitivity {
	if s, ok := m.sensitivities[termStructureID]; ok {
		return s
	}
	m.warn(fmt.Sprintf("sens|%d", termStructureID),
		fmt.Sprintf("no pit calibration for term structure %d, using default betas and correlation", termStructureID))
	return m.defaults
}

// factors returns the adjusted factor per scenario for a projection year
func (m *model) factors(s contracts.Sensitivity, year int) []float64 {
	scenarios := contracts.AllScenarios()
	out := make([]float64, len(scenarios))
	for i, sc := range scenarios {
		point, ok := m.macro.Lookup(sc, year)
		if !ok {
			m.warn(fmt.Sprintf("macro|%s|%d", sc, year),
				fmt.Sprintf("no %s macro data at or before %d, factor set to 0", sc, year))
			continue
		}
		out[i] = s.Factor(point)
	}
	return out
}

// AdjustPD applies Vasicek to one interpolated row. TTC is read from the base field.
func (m *model) AdjustPD(row contracts.InterpolatedPDRow) contracts.InterpolatedPDRow {
	ttc := row.TTC()
	s := m.sensitivity(row.TermStructureID)
	year := ProjectionYear(m.date.Year(), row.Bucket, m.bucketsPerYear)

	factors := m.factors(s, year)
	pits := make([]float64, len(factors))
	for i, f := range factors {
		pits[i] = risk.Vasicek(ttc, f, s.AssetCorrelation)
	}

	row.CumulativePDBase = contracts.Float(ttc)
	row.PITPDBase = contracts.Float(pits[0])
	row.PITPDBest = contracts.Float(pits[1])
	row.PITPDWorst = contracts.Float(pits[2])
	row.CumulativePD = risk.Clamp(risk.Weighted(pits, m.weights), 0, 1)
	return row
}

// twelveMonth is the 12m reference point of one LGD row
type twelveMonth struct {
	ttc   float64
	pits  []float64
	found bool
}

// AdjustLGD applies Frye-Jacobs to one LGD row against its 12m PD reference
func (m *model) AdjustLGD(row contracts.LGDTermStructure, ref twelveMonth) contracts.LGDTermStructure {
	ttcLGD := row.TTC()
	s := m.sensitivity(row.SegmentKey)

	pits := make([]float64, len(ref.pits))
	for i, cdr := range ref.pits {
		pits[i] = risk.FryeJacobs(ref.ttc, ttcLGD, cdr, s.AssetCorrelation)
	}

	row.LGDBase = contracts.Float(ttcLGD)
	row.PITLGDBase = contracts.Float(pits[0])
	row.PITLGDBest = contracts.Float(pits[1])
	row.PITLGDWorst = contracts.Float(pits[2])
	row.LGD = risk.Clamp(risk.Weighted(pits, m.weights), 0, 1)
	return row
}

// Run adjusts every interpolated PD row, then every LGD term structure of the date
func (a *Adjuster) Run(ctx context.Context, rc contracts.RunContext) (*contracts.StageResult, error) {
	cfg, err := a.config.Load(ctx)
	if err != nil {
		return nil, err
	}
	sens, err := a.calibration.Sensitivities(ctx)
	if err != nil {
		return nil, fmt.Errorf("sensitivities: %w", err)
	}
	macro, err := a.calibration.MacroScenarios(ctx)
	if err != nil {
		return nil, fmt.Errorf("macro scenarios: %w", err)
	}

	var (
		mu       sync.Mutex
		warned   = make(map[string]bool)
		warnings int
	)
	m := &model{
		date:           rc.Date,
		bucketsPerYear: cfg.BucketsPerYear(),
		weights:        cfg.ScenarioWeightList(),
		defaults:       cfg.Sensitivity,
		sensitivities:  sens,
		macro:          NewMacroSeries(macro),
		warn: func(key, msg string) {
			mu.Lock()
			defer mu.Unlock()
			if warned[key] {
				return
			}
			warned[key] = true
			warnings++
			a.logger.Warn(msg)
			a.sink.Log(string(contracts.StagePIT), contracts.LevelWarning, msg)
		},
	}

	rows, err := a.store.InterpolatedRows(ctx, rc.Date)
	if err != nil {
		return nil, err
	}
	var curve []contracts.InterpolatedPDRow
	for _, r := range rows {
		if r.Bucket > 0 {
			curve = append(curve, r)
		}
	}

	adjusted, _, err := batch.ParallelMap(ctx, curve, a.opts.Workers,
		func(_ context.Context, r contracts.InterpolatedPDRow) (contracts.InterpolatedPDRow, error) {
			return m.AdjustPD(r), nil
		})
	if err != nil {
		return nil, err
	}

	pdWritten, err := batch.PersistChunks(ctx, adjusted, a.opts.ChunkSize, batch.Retrying(a.opts, a.store.UpdatePITPD))
	if err != nil {
		return nil, fmt.Errorf("update pit pd: %w", err)
	}

	lgdRows, err := a.store.LGDTermStructures(ctx, rc.Date)
	if err != nil {
		return nil, err
	}
	refs := TwelveMonthIndex(adjusted, m.bucketsPerYear)

	var lgdAdjusted []contracts.LGDTermStructure
	for _, l := range lgdRows {
		ref := refs.Find(l.SegmentKey, l.BasisCode)
		if !ref.found {
			m.warn(fmt.Sprintf("lgd|%d|%s", l.SegmentKey, l.BasisCode),
				fmt.Sprintf("no 12m pd for lgd segment %d basis %q, frye-jacobs skipped", l.SegmentKey, l.BasisCode))
			continue
		}
		lgdAdjusted = append(lgdAdjusted, m.AdjustLGD(l, ref))
	}

	lgdWritten, err := batch.PersistChunks(ctx, lgdAdjusted, a.opts.ChunkSize, batch.Retrying(a.opts, a.store.UpdatePITLGD))
	if err != nil {
		return nil, fmt.Errorf("update pit lgd: %w", err)
	}

	msg := fmt.Sprintf("pit adjusted %d pd rows and %d lgd rows for %s", pdWritten, lgdWritten, contracts.DateKey(rc.Date))
	a.logger.Info(msg)
	a.sink.Log(string(contracts.StagePIT), contracts.LevelInfo, msg)

	return &contracts.StageResult{Stage: contracts.StagePIT, RowsAffected: pdWritten + lgdWritten, Warnings: warnings}, nil
}

// TwelveMonth holds the 12m PD rows (bucket = buckets per year) by term structure
type TwelveMonth map[int]map[string]contracts.InterpolatedPDRow

// TwelveMonthIndex indexes the adjusted 12m rows
func TwelveMonthIndex(rows []contracts.InterpolatedPDRow, bucketsPerYear int) TwelveMonth {
	idx := make(TwelveMonth)
	for _, r := range rows {
		if r.Bucket != bucketsPerYear {
			continue
		}
		codes, ok := idx[r.TermStructureID]
		if !ok {
			codes = make(map[string]contracts.InterpolatedPDRow)
			idx[r.TermStructureID] = codes
		}
		codes[r.BasisCode] = r
	}
	return idx
}

// Find matches by basis code; an empty code uses the mean over the term structure
func (t TwelveMonth) Find(termStructureID int, code string) twelveMonth {
	codes := t[termStructureID]
	if len(codes) == 0 {
		return twelveMonth{}
	}

	pick := func(r contracts.InterpolatedPDRow) []float64 {
		return []float64{deref(r.PITPDBase), deref(r.PITPDBest), deref(r.PITPDWorst)}
	}

	if code != "" {
		r, ok := codes[code]
		if !ok {
			return twelveMonth{}
		}
		return twelveMonth{ttc: r.TTC(), pits: pick(r), found: true}
	}

	ttcs := make([]float64, 0, len(codes))
	sums := make([]float64, 3)
	for _, r := range codes {
		ttcs = append(ttcs, r.TTC())
		for i, v := range pick(r) {
			sums[i] += v
		}
	}
	n := float64(len(codes))
	return twelveMonth{
		ttc:   risk.Mean(ttcs),
		pits:  []float64{sums[0] / n, sums[1] / n, sums[2] / n},
		found: true,
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
