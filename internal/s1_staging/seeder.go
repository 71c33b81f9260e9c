package s1_staging

import (
	"context"
	"fmt"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Seeder copies active instruments into the stage table
// ⭐ SSOT: loan_instruments → stage_determination (1:1, delete-then-insert)
type Seeder struct {
	store  Store
	opts   batch.Options
	logger *logger.Logger
	sink   contracts.LogSink
}

// NewSeeder creates a new Seeder
func NewSeeder(store Store, opts batch.Options, log *logger.Logger, sink contracts.LogSink) *Seeder {
	return &Seeder{
		store:  store,
		opts:   opts,
		logger: log.WithField("module", "s1_seed"),
		sink:   sink,
	}
}

// Stage implements contracts.StageRunner
func (s *Seeder) Stage() contracts.Stage { return contracts.StageSeed }

// Run replaces the date's stage rows with one fresh row per active instrument
func (s *Seeder) Run(ctx context.Context, rc contracts.RunContext) (*contracts.StageResult, error) {
	instruments, err := s.store.LoadInstruments(ctx, rc.Date)
	if err != nil {
		return nil, fmt.Errorf("load instruments: %w", err)
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("%w: %s", contracts.ErrNoInstruments, contracts.DateKey(rc.Date))
	}

	records := make([]contracts.StageRecord, 0, len(instruments))
	for _, inst := range instruments {
		if !inst.IsActive(rc.Date) {
			continue
		}
		records = append(records, contracts.NewStageRecord(inst))
	}

	var deleted int64
	err = s.opts.Do(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = s.store.DeleteStageRecords(ctx, rc.Date)
		return err
	})
	if err != nil {
		return nil, err
	}

	written, err := batch.PersistChunks(ctx, records, s.opts.ChunkSize, batch.Retrying(s.opts, s.store.InsertStageRecords))
	if err != nil {
		return nil, fmt.Errorf("insert stage records: %w", err)
	}

	msg := fmt.Sprintf("seeded %d stage rows for %s (%d replaced, %d inactive skipped)",
		written, contracts.DateKey(rc.Date), deleted, len(instruments)-len(records))
	s.logger.Info(msg)
	s.sink.Log(string(contracts.StageSeed), contracts.LevelInfo, msg)

	return &contracts.StageResult{Stage: contracts.StageSeed, RowsAffected: written}, nil
}
