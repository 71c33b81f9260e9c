package s1_staging

import (
	"context"
	"fmt"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Classifier assigns the IFRS9 stage from DPD, default rating and SICR
type Classifier struct {
	store  Store
	ref    contracts.ReferenceData
	config eclconfig.Source
	opts   batch.Options
	logger *logger.Logger
	sink   contracts.LogSink
}

// NewClassifier creates a new Classifier
func NewClassifier(store Store, ref contracts.ReferenceData, config eclconfig.Source, opts batch.Options, log *logger.Logger, sink contracts.LogSink) *Classifier {
	return &Classifier{
		store:  store,
		ref:    ref,
		config: config,
		opts:   opts,
		logger: log.WithField("module", "s1_classify"),
		sink:   sink,
	}
}

// Stage implements contracts.StageRunner
func (c *Classifier) Stage() contracts.Stage { return contracts.StageClassify }

// Run classifies every stage row of the date and records the previous stage
func (c *Classifier) Run(ctx context.Context, rc contracts.RunContext) (*contracts.StageResult, error) {
	cfg, err := c.config.Load(ctx)
	if err != nil {
		return nil, err
	}

	grades, err := c.ref.RatingGrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("rating grades: %w", err)
	}
	defaults := make(map[string]bool)
	for _, g := range grades {
		if g.IsDefault {
			defaults[g.Code] = true
		}
	}

	records, err := c.store.LoadStageRecords(ctx, rc.Date)
	if err != nil {
		return nil, err
	}
	prev, err := c.store.PreviousStates(ctx, rc.Date)
	if err != nil {
		return nil, err
	}

	counts := make(map[int]int)
	for i := range records {
		rec := &records[i]
		rec.Stage = Classify(rec, cfg.Staging, defaults)
		rec.ClearCooling()
		if p, ok := prev[rec.AccountNumber]; ok {
			rec.PrevStage = contracts.Int(p.Stage)
		} else {
			rec.PrevStage = nil
		}
		counts[rec.Stage]++
	}

	written, err := batch.PersistChunks(ctx, records, c.opts.ChunkSize, batch.Retrying(c.opts, c.store.UpdateStaging))
	if err != nil {
		return nil, fmt.Errorf("update staging: %w", err)
	}

	msg := fmt.Sprintf("classified %d rows for %s (stage1=%d stage2=%d stage3=%d)",
		written, contracts.DateKey(rc.Date), counts[1], counts[2], counts[3])
	c.logger.Info(msg)
	c.sink.Log(string(contracts.StageClassify), contracts.LevelInfo, msg)

	return &contracts.StageResult{Stage: contracts.StageClassify, RowsAffected: written}, nil
}

// Classify returns the stage of one row.
// Stage 3 from stage3_dpd or a default rating; stage 2 from stage2_dpd or a score
// drop of at least sicr_notches; stage 1 otherwise.
func Classify(rec *contracts.StageRecord, rules eclconfig.Staging, defaultRatings map[string]bool) int {
	if rec.CreditRating != nil && defaultRatings[*rec.CreditRating] {
		return 3
	}

	dpd := 0
	if rec.DelinquentDays != nil {
		dpd = *rec.DelinquentDays
	}
	if dpd >= rules.Stage3DPD {
		return 3
	}
	if dpd >= rules.Stage2DPD {
		return 2
	}

	if rec.RatingMovement != nil && *rec.RatingMovement >= rules.SICRNotches {
		return 2
	}
	return 1
}
