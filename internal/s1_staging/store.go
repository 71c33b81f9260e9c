package s1_staging

import (
	"context"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// PrevState is the stage row of an account on the preceding reporting date
type PrevState struct {
	Date             time.Time
	Stage            int
	InCoolingPeriod  bool
	CoolingStartDate *time.Time
	CoolingDuration  *int
	TargetStage      *int
}

// Store is the persistence surface of S1
type Store interface {
	LoadInstruments(ctx context.Context, date time.Time) ([]contracts.Instrument, error)
	LoadStageRecords(ctx context.Context, date time.Time) ([]contracts.StageRecord, error)
	PreviousStates(ctx context.Context, date time.Time) (map[string]PrevState, error)
	DeleteStageRecords(ctx context.Context, date time.Time) (int64, error)
	InsertStageRecords(ctx context.Context, records []contracts.StageRecord) error
	UpdateEnrichment(ctx context.Context, records []contracts.StageRecord) error
	UpdateStaging(ctx context.Context, records []contracts.StageRecord) error
}

var _ Store = (*Repository)(nil)
