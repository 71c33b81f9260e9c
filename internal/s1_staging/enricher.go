package s1_staging

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/refdata"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// References is the reference snapshot used to enrich one reporting date
type References struct {
	Products       map[string]contracts.Product
	Segments       map[[2]string]int
	Customers      map[string]contracts.Customer
	Collateral     map[string]float64
	Bands          []contracts.DelinquencyBand
	Ratings        map[string]string
	TermStructures map[int]contracts.PDTermStructure
}

// LoadReferences reads everything the enricher joins against
func LoadReferences(ctx context.Context, ref contracts.ReferenceData, date time.Time) (*References, error) {
	products, err := ref.Products(ctx)
	if err != nil {
		return nil, fmt.Errorf("products: %w", err)
	}
	segments, err := ref.Segments(ctx)
	if err != nil {
		return nil, fmt.Errorf("segments: %w", err)
	}
	customers, err := ref.Customers(ctx)
	if err != nil {
		return nil, fmt.Errorf("customers: %w", err)
	}
	collateral, err := ref.CollateralTotals(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("collateral: %w", err)
	}
	bands, err := ref.DelinquencyBands(ctx)
	if err != nil {
		return nil, fmt.Errorf("delinquency bands: %w", err)
	}
	ratings, err := ref.CustomerRatings(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("customer ratings: %w", err)
	}
	structures, err := ref.PDTermStructures(ctx)
	if err != nil {
		return nil, fmt.Errorf("pd term structures: %w", err)
	}

	return &References{
		Products:       products,
		Segments:       refdata.SegmentIndex(segments),
		Customers:      customers,
		Collateral:     collateral,
		Bands:          bands,
		Ratings:        ratings,
		TermStructures: structures,
	}, nil
}

// warnOnce emits one WARN per (category, key)
type warnOnce struct {
	mu     sync.Mutex
	seen   map[string]bool
	logger *logger.Logger
	sink   contracts.LogSink
	count  int
}

func newWarnOnce(log *logger.Logger, sink contracts.LogSink) *warnOnce {
	return &warnOnce{seen: make(map[string]bool), logger: log, sink: sink}
}

func (w *warnOnce) warn(category, key, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := category + "|" + key
	if w.seen[id] {
		return
	}
	w.seen[id] = true
	w.count++
	w.logger.Warn(msg)
	w.sink.Log(string(contracts.StageEnrich), contracts.LevelWarning, msg)
}

func (w *warnOnce) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Enricher joins stage rows against reference data
// ⭐ SSOT: 제품/세그먼트/담보/연체구간/고객/PD 구조/등급/EIR 보강
type Enricher struct {
	store  Store
	ref    contracts.ReferenceData
	opts   batch.Options
	logger *logger.Logger
	sink   contracts.LogSink
}

// NewEnricher creates a new Enricher
func NewEnricher(store Store, ref contracts.ReferenceData, opts batch.Options, log *logger.Logger, sink contracts.LogSink) *Enricher {
	return &Enricher{
		store:  store,
		ref:    ref,
		opts:   opts,
		logger: log.WithField("module", "s1_enrich"),
		sink:   sink,
	}
}

// Stage implements contracts.StageRunner
func (e *Enricher) Stage() contracts.Stage { return contracts.StageEnrich }

// Run enriches every stage row of the date. Missing references only warn.
func (e *Enricher) Run(ctx context.Context, rc contracts.RunContext) (*contracts.StageResult, error) {
	refs, err := LoadReferences(ctx, e.ref, rc.Date)
	if err != nil {
		return nil, fmt.Errorf("load references: %w", err)
	}

	records, err := e.store.LoadStageRecords(ctx, rc.Date)
	if err != nil {
		return nil, err
	}

	warns := newWarnOnce(e.logger, e.sink)
	enriched, failures, err := batch.ParallelMap(ctx, records, e.opts.Workers,
		func(_ context.Context, rec contracts.StageRecord) (contracts.StageRecord, error) {
			return EnrichRecord(rec, refs, warns), nil
		})
	if err != nil {
		return nil, err
	}
	for _, f := range failures {
		e.logger.WithError(f.Err).Error(fmt.Sprintf("enrich %s failed", f.Item.AccountNumber))
	}

	written, err := batch.PersistChunks(ctx, enriched, e.opts.ChunkSize, batch.Retrying(e.opts, e.store.UpdateEnrichment))
	if err != nil {
		return nil, fmt.Errorf("update enrichment: %w", err)
	}

	msg := fmt.Sprintf("enriched %d stage rows for %s (%d reference warnings)",
		written, contracts.DateKey(rc.Date), warns.Count())
	e.logger.Info(msg)
	e.sink.Log(string(contracts.StageEnrich), contracts.LevelInfo, msg)

	return &contracts.StageResult{Stage: contracts.StageEnrich, RowsAffected: written, Warnings: warns.Count()}, nil
}

// EnrichRecord applies every enrichment step to one row
func EnrichRecord(rec contracts.StageRecord, refs *References, warns *warnOnce) contracts.StageRecord {
	// 1. product → segment/type
	if p, ok := refs.Products[rec.ProductCode]; ok {
		rec.ProductSegment = p.Segment
		rec.ProductType = p.Type
		rec.ProductDesc = p.Desc
	} else {
		warns.warn("product", rec.ProductCode, fmt.Sprintf("product %q not found (account %s)", rec.ProductCode, rec.AccountNumber))
	}

	// 2. segment key (= PD term structure id)
	if rec.ProductSegment != "" {
		if key, ok := refs.Segments[[2]string{rec.ProductSegment, rec.ProductType}]; ok {
			rec.SegmentKey = contracts.Int(key)
			rec.PDTermStructureID = contracts.Int(key)
		} else {
			warns.warn("segment", rec.ProductSegment+"/"+rec.ProductType,
				fmt.Sprintf("segment %s/%s not found", rec.ProductSegment, rec.ProductType))
		}
	}

	// 3. collateral: only when absent or zero
	if rec.CollateralAmount == nil || *rec.CollateralAmount == 0 {
		if total, ok := refs.Collateral[rec.CustomerRef]; ok {
			rec.CollateralAmount = contracts.Float(total)
		}
	}

	// 4. delinquency band
	if rec.DelinquentDays != nil {
		if band, ok := refdata.MatchBand(refs.Bands, *rec.DelinquentDays, rec.AmortTermUnit); ok {
			rec.DelqBandCode = band.Code
		} else {
			warns.warn("delinquency_band", fmt.Sprintf("%d/%s", *rec.DelinquentDays, rec.AmortTermUnit),
				fmt.Sprintf("no delinquency band for %d days (unit %s)", *rec.DelinquentDays, rec.AmortTermUnit))
		}
	}

	// 5. customer
	if c, ok := refs.Customers[rec.CustomerRef]; ok {
		rec.PartnerName = c.PartnerName
		rec.PartnerType = c.PartnerType
	} else {
		warns.warn("customer", rec.CustomerRef, fmt.Sprintf("customer %q not found", rec.CustomerRef))
	}

	// 6. PD term structure header
	if rec.PDTermStructureID != nil {
		if ts, ok := refs.TermStructures[*rec.PDTermStructureID]; ok {
			rec.PDTermStructureName = ts.Name
			rec.PDTermStructureDesc = ts.Description
		} else {
			warns.warn("pd_term_structure", fmt.Sprint(*rec.PDTermStructureID),
				fmt.Sprintf("pd term structure %d not found", *rec.PDTermStructureID))
		}
	}

	// 7. credit rating: only when absent
	if rec.CreditRating == nil {
		if rating, ok := refs.Ratings[rec.CustomerRef]; ok {
			rec.CreditRating = &rating
		}
	}

	// 8. rating movement
	if rec.OrigCreditScore != nil && rec.CurrCreditScore != nil {
		rec.RatingMovement = contracts.Int(*rec.OrigCreditScore - *rec.CurrCreditScore)
	}

	// 9. EIR: only when absent
	if rec.EffectiveInterestRate == nil && rec.InterestRate != nil {
		if eir, err := EffectiveRate(*rec.InterestRate, rec.AmortTermUnit); err == nil {
			rec.EffectiveInterestRate = contracts.Float(eir)
		} else {
			warns.warn("amort_term_unit", string(rec.AmortTermUnit),
				fmt.Sprintf("cannot derive EIR for account %s: %v", rec.AccountNumber, err))
		}
	}

	// 10. exposure starts at the carrying amount
	if rec.EAD == nil {
		rec.EAD = contracts.Float(rec.CarryingAmount)
	}

	return rec
}

// EffectiveRate returns (1 + r/n)^n − 1 with n = periods per year of unit
func EffectiveRate(nominal float64, unit contracts.TermUnit) (float64, error) {
	n, err := unit.PeriodsPerYear()
	if err != nil {
		return 0, err
	}
	return math.Pow(1+nominal/float64(n), float64(n)) - 1, nil
}
