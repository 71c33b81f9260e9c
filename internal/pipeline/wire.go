package pipeline

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
	"github.com/wonny/ifrs9-ecl/internal/refdata"
	"github.com/wonny/ifrs9-ecl/internal/s1_staging"
	"github.com/wonny/ifrs9-ecl/internal/s2_transition"
	"github.com/wonny/ifrs9-ecl/internal/s3_interpolation"
	"github.com/wonny/ifrs9-ecl/internal/s4_lgd"
	"github.com/wonny/ifrs9-ecl/internal/s5_pit"
	"github.com/wonny/ifrs9-ecl/internal/s6_cashflow"
	"github.com/wonny/ifrs9-ecl/internal/s7_ledger"
	"github.com/wonny/ifrs9-ecl/internal/s8_ecl"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Deps are the shared collaborators of every stage runner
type Deps struct {
	DB          *pgxpool.Pool
	Config      eclconfig.Source
	Calibration s5_pit.Calibration
	Rates       contracts.CurrencyRates
	Issuer      contracts.RunKeyIssuer
	Options     batch.Options
	Logger      *logger.Logger
	Sink        contracts.LogSink
}

// NewRunners builds one runner per stage, in execution order
func NewRunners(d Deps) []contracts.StageRunner {
	ref := refdata.NewRepository(d.DB)
	staging := s1_staging.NewRepository(d.DB)

	return []contracts.StageRunner{
		s1_staging.NewSeeder(staging, d.Options, d.Logger, d.Sink),
		s1_staging.NewEnricher(staging, ref, d.Options, d.Logger, d.Sink),
		s1_staging.NewClassifier(staging, ref, d.Config, d.Options, d.Logger, d.Sink),
		s1_staging.NewCoolingEngine(staging, ref, d.Options, d.Logger, d.Sink),
		s2_transition.NewBuilder(s2_transition.NewRepository(d.DB), ref, d.Config, d.Options, d.Logger, d.Sink),
		s3_interpolation.NewInterpolator(s3_interpolation.NewRepository(d.DB), ref, d.Config, d.Options, d.Logger, d.Sink),
		s4_lgd.NewEngine(s4_lgd.NewRepository(d.DB), ref, d.Config, d.Options, d.Logger, d.Sink),
		s5_pit.NewAdjuster(s5_pit.NewRepository(d.DB), d.Calibration, d.Config, d.Options, d.Logger, d.Sink),
		s6_cashflow.NewProjector(s6_cashflow.NewRepository(d.DB), d.Options, d.Logger, d.Sink),
		NewLedger(d),
		s8_ecl.NewAggregator(s8_ecl.NewRepository(d.DB), d.Rates, d.Issuer, d.Config, d.Options, d.Logger, d.Sink),
	}
}

// NewLedger builds the S7 calculator (also used for single-step runs)
func NewLedger(d Deps) *s7_ledger.Calculator {
	return s7_ledger.NewCalculator(s7_ledger.NewRepository(d.DB), refdata.NewRepository(d.DB), d.Issuer, d.Config, d.Options, d.Logger, d.Sink)
}
