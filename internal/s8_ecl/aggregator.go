package s8_ecl

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
	"github.com/wonny/ifrs9-ecl/internal/runkey"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Store is the persistence surface of S8
type Store interface {
	LedgerRows(ctx context.Context, date time.Time, runKey int64) ([]contracts.LedgerRow, error)
	Stages(ctx context.Context, date time.Time) (map[string]int, error)
	DeleteReportingLines(ctx context.Context, date time.Time, runKey int64) (int64, error)
	InsertReportingLines(ctx context.Context, lines []contracts.ReportingLine) error
}

var _ Store = (*Repository)(nil)

// Aggregator rolls the ledger up to account-level reporting lines
// ⭐ SSOT: reporting_lines (delete-then-insert per date + run_key)
type Aggregator struct {
	store  Store
	rates  contracts.CurrencyRates
	issuer contracts.RunKeyIssuer
	config eclconfig.Source
	opts   batch.Options
	logger *logger.Logger
	sink   contracts.LogSink
}

// NewAggregator creates a new Aggregator
func NewAggregator(store Store, rates contracts.CurrencyRates, issuer contracts.RunKeyIssuer, config eclconfig.Source, opts batch.Options, log *logger.Logger, sink contracts.LogSink) *Aggregator {
	return &Aggregator{
		store:  store,
		rates:  rates,
		issuer: issuer,
		config: config,
		opts:   opts,
		logger: log.WithField("module", "s8_ecl"),
		sink:   sink,
	}
}

// Stage implements contracts.StageRunner
func (a *Aggregator) Stage() contracts.Stage { return contracts.StageECL }

// Run aggregates the ledger of the run key S7 used (or the latest issued one)
func (a *Aggregator) Run(ctx context.Context, rc contracts.RunContext) (*contracts.StageResult, error) {
	cfg, err := a.config.Load(ctx)
	if err != nil {
		return nil, err
	}
	name, err := cfg.RequireECLMethod()
	if err != nil {
		a.fail(err)
		return nil, err
	}
	method := Method{Name: name, Discounting: cfg.ECL.Discounting}

	// never issue a fresh key here: S8 reads what S7 wrote
	runKey, err := runkey.Resolve(ctx, a.issuer, contracts.RunContext{RunKey: rc.RunKey})
	if err != nil {
		a.fail(err)
		return nil, fmt.Errorf("resolve run key: %w", err)
	}

	rows, err := a.store.LedgerRows(ctx, rc.Date, runKey)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		err := fmt.Errorf("%w: no ledger rows for %s run_key %d",
			contracts.ErrReferenceMissing, contracts.DateKey(rc.Date), runKey)
		a.fail(err)
		return nil, err
	}
	stages, err := a.store.Stages(ctx, rc.Date)
	if err != nil {
		return nil, err
	}
	accounts := groupAccounts(rows, stages)

	lines, failures, err := batch.ParallelMap(ctx, accounts, a.opts.Workers,
		func(_ context.Context, acc Account) (contracts.ReportingLine, error) {
			return Aggregate(acc, method, cfg.BucketsPerYear())
		})
	if err != nil {
		return nil, err
	}
	for _, f := range failures {
		msg := fmt.Sprintf("reporting line skipped: %v", f.Err)
		a.logger.WithField("account", f.Item.AccountNumber).Warn(msg)
		a.sink.Log(string(contracts.StageECL), contracts.LevelWarning, msg)
	}

	errorsLogged := a.convert(ctx, lines, cfg.Currency.Reporting, rc.Date)

	if err := a.opts.Do(ctx, func(ctx context.Context) error {
		_, err := a.store.DeleteReportingLines(ctx, rc.Date, runKey)
		return err
	}); err != nil {
		return nil, err
	}
	written, err := batch.PersistChunks(ctx, lines, a.opts.ChunkSize, batch.Retrying(a.opts, a.store.InsertReportingLines))
	if err != nil {
		return nil, fmt.Errorf("insert reporting lines: %w", err)
	}

	msg := fmt.Sprintf("aggregated %d reporting lines for %s run_key %d (method %s, discounting %t)",
		written, contracts.DateKey(rc.Date), runKey, method.Name, method.Discounting)
	a.logger.WithField("run_key", runKey).Info(msg)
	a.sink.Log(string(contracts.StageECL), contracts.LevelInfo, msg)

	return &contracts.StageResult{
		Stage:        contracts.StageECL,
		RowsAffected: written,
		RunKey:       &runKey,
		Warnings:     len(failures) + errorsLogged,
	}, nil
}

// convert applies reporting-currency conversion in place; returns the number of ERROR entries
func (a *Aggregator) convert(ctx context.Context, lines []contracts.ReportingLine, reporting string, date time.Time) int {
	if reporting == "" {
		a.logger.Info("no reporting currency configured, conversion skipped")
		return 0
	}

	seen := make(map[string]bool)
	var currencies []string
	for _, l := range lines {
		if !seen[l.CurrencyCode] {
			seen[l.CurrencyCode] = true
			currencies = append(currencies, l.CurrencyCode)
		}
	}
	sort.Strings(currencies)

	table, failed := ResolveRates(ctx, a.rates, currencies, reporting, date)

	missing := make(map[string]int)
	for i := range lines {
		if !Convert(&lines[i], reporting, table) {
			missing[lines[i].CurrencyCode]++
		}
	}

	for _, ccy := range currencies {
		n := missing[ccy]
		if n == 0 {
			continue
		}
		msg := fmt.Sprintf("no exchange rate %s/%s on %s, reporting currency left empty for %d accounts: %v",
			ccy, reporting, contracts.DateKey(date), n, failed[ccy])
		a.logger.Error(msg)
		a.sink.Log(string(contracts.StageECL), contracts.LevelError, msg)
	}
	return len(missing)
}

func (a *Aggregator) fail(err error) {
	a.logger.WithError(err).Error("ecl aggregation aborted")
	a.sink.Log(string(contracts.StageECL), contracts.LevelError, err.Error())
}

// groupAccounts splits the ledger per account, bucket-sorted, in account order
func groupAccounts(rows []contracts.LedgerRow, stages map[string]int) []Account {
	byAccount := make(map[string]*Account)
	var order []string
	for _, r := range rows {
		acc, ok := byAccount[r.AccountNumber]
		if !ok {
			stage := stages[r.AccountNumber]
			if stage == 0 {
				stage = 1
			}
			acc = &Account{AccountNumber: r.AccountNumber, CurrencyCode: r.CurrencyCode, Stage: stage}
			byAccount[r.AccountNumber] = acc
			order = append(order, r.AccountNumber)
		}
		acc.Rows = append(acc.Rows, r)
	}
	sort.Strings(order)

	out := make([]Account, len(order))
	for i, account := range order {
		acc := byAccount[account]
		sort.SliceStable(acc.Rows, func(x, y int) bool { return acc.Rows[x].Bucket < acc.Rows[y].Bucket })
		out[i] = *acc
	}
	return out
}
