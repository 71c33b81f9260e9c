package s7_ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
	"github.com/wonny/ifrs9-ecl/internal/runkey"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Store is the persistence surface of S7
type Store interface {
	Cashflows(ctx context.Context, date time.Time) ([]contracts.ExpectedCashflow, error)
	Loans(ctx context.Context, date time.Time) (map[string]contracts.StageRecord, error)
	Curves(ctx context.Context, date time.Time) ([]contracts.InterpolatedPDRow, error)
	LedgerRows(ctx context.Context, date time.Time, runKey int64) ([]contracts.LedgerRow, error)
	DeleteLedger(ctx context.Context, date time.Time, runKey int64) (int64, error)
	InsertLedger(ctx context.Context, rows []contracts.LedgerRow) error
	UpdateLedger(ctx context.Context, rows []contracts.LedgerRow) error
}

var _ Store = (*Repository)(nil)

// Calculator builds the financial_cashflow_cal ledger for (date, run key)
// ⭐ SSOT: insert → discount → propagate → marginal → ead → expected_cf → shortfall → forward_el
type Calculator struct {
	store  Store
	ref    contracts.ReferenceData
	issuer contracts.RunKeyIssuer
	config eclconfig.Source
	opts   batch.Options
	logger *logger.Logger
	sink   contracts.LogSink
}

// NewCalculator creates a new Calculator
func NewCalculator(store Store, ref contracts.ReferenceData, issuer contracts.RunKeyIssuer, config eclconfig.Source, opts batch.Options, log *logger.Logger, sink contracts.LogSink) *Calculator {
	return &Calculator{
		store:  store,
		ref:    ref,
		issuer: issuer,
		config: config,
		opts:   opts,
		logger: log.WithField("module", "s7_ledger"),
		sink:   sink,
	}
}

// Stage implements contracts.StageRunner
func (c *Calculator) Stage() contracts.Stage { return contracts.StageLedger }

// inputs is everything the steps read besides the ledger itself
type inputs struct {
	loans          map[string]contracts.StageRecord
	curves         map[contracts.CurveKey]Curve
	kinds          map[int]contracts.BasisKind
	bucketsPerYear int
	warn           func(key, msg string)
}

func (c *Calculator) loadInputs(ctx context.Context, date time.Time, warn func(key, msg string)) (*inputs, error) {
	cfg, err := c.config.Load(ctx)
	if err != nil {
		return nil, err
	}
	loans, err := c.store.Loans(ctx, date)
	if err != nil {
		return nil, err
	}
	rows, err := c.store.Curves(ctx, date)
	if err != nil {
		return nil, err
	}
	headers, err := c.ref.PDTermStructures(ctx)
	if err != nil {
		return nil, fmt.Errorf("pd term structures: %w", err)
	}

	curves := make(map[contracts.CurveKey]Curve)
	for _, r := range rows {
		key := contracts.CurveKey{TermStructureID: r.TermStructureID, BasisCode: r.BasisCode}
		curves[key] = append(curves[key], r)
	}
	kinds := make(map[int]contracts.BasisKind, len(headers))
	for id, h := range headers {
		kinds[id] = h.BasisKind
	}

	return &inputs{
		loans:          loans,
		curves:         curves,
		kinds:          kinds,
		bucketsPerYear: cfg.BucketsPerYear(),
		warn:           warn,
	}, nil
}

// curveFor selects the rating or delinquency curve of the account's term structure
func (in *inputs) curveFor(loan contracts.StageRecord) Curve {
	if loan.PDTermStructureID == nil {
		in.warn("ts|"+loan.AccountNumber, fmt.Sprintf("account %s has no pd term structure, pd fields left empty", loan.AccountNumber))
		return nil
	}
	id := *loan.PDTermStructureID
	kind, ok := in.kinds[id]
	if !ok {
		kind = contracts.BasisDelinquency
	}
	code := loan.BasisCode(kind)

	curve := in.curves[contracts.CurveKey{TermStructureID: id, BasisCode: code}]
	if len(curve) == 0 {
		in.warn(fmt.Sprintf("curve|%d|%s", id, code),
			fmt.Sprintf("no interpolated pd for term structure %d code %q", id, code))
	}
	return curve
}

// Apply runs one step (other than insert) over one account's bucket-sorted rows
func (in *inputs) Apply(step Step, account string, rows []contracts.LedgerRow) error {
	loan, ok := in.loans[account]
	switch step {
	case StepDiscount:
		if !ok {
			return fmt.Errorf("%w: no stage record for account %s", contracts.ErrReferenceMissing, account)
		}
		return Discount(rows, loan)
	case StepPropagate:
		if !ok {
			return fmt.Errorf("%w: no stage record for account %s", contracts.ErrReferenceMissing, account)
		}
		Propagate(rows, loan, in.curveFor(loan), in.bucketsPerYear)
	case StepMarginal:
		Marginal(rows)
	case StepEAD:
		EAD(rows)
	case StepExpectedCF:
		ExpectedCF(rows)
	case StepShortfall:
		Shortfall(rows)
	case StepForwardEL:
		ForwardEL(rows)
	default:
		return fmt.Errorf("step %s cannot be applied to persisted rows", step)
	}
	return nil
}

// accountRows is one account's slice of the ledger
type accountRows struct {
	account string
	rows    []contracts.LedgerRow
}

func groupLedger(rows []contracts.LedgerRow) []accountRows {
	var out []accountRows
	index := make(map[string]int)
	for _, r := range rows {
		i, ok := index[r.AccountNumber]
		if !ok {
			i = len(out)
			index[r.AccountNumber] = i
			out = append(out, accountRows{account: r.AccountNumber})
		}
		out[i].rows = append(out[i].rows, r)
	}
	for i := range out {
		SortByBucket(out[i].rows)
	}
	return out
}

func (c *Calculator) warner() (func(key, msg string), func() int) {
	var (
		mu     sync.Mutex
		warned = make(map[string]bool)
	)
	warn := func(key, msg string) {
		mu.Lock()
		defer mu.Unlock()
		if warned[key] {
			return
		}
		warned[key] = true
		c.logger.Warn(msg)
		c.sink.Log(string(contracts.StageLedger), contracts.LevelWarning, msg)
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(warned)
	}
	return warn, count
}

func (c *Calculator) logFailures(failures []batch.Failure[accountRows]) {
	for _, f := range failures {
		msg := fmt.Sprintf("ledger rows excluded: %v", f.Err)
		c.logger.WithField("account", f.Item.account).Warn(msg)
		c.sink.Log(string(contracts.StageLedger), contracts.LevelWarning, msg)
	}
}

// Run resolves the run key, rebuilds the ledger from expected cash flows and runs every step
func (c *Calculator) Run(ctx context.Context, rc contracts.RunContext) (*contracts.StageResult, error) {
	runKey, err := runkey.Resolve(ctx, c.issuer, rc)
	if err != nil {
		return nil, fmt.Errorf("resolve run key: %w", err)
	}

	warn, warnings := c.warner()
	in, err := c.loadInputs(ctx, rc.Date, warn)
	if err != nil {
		return nil, err
	}

	flows, err := c.store.Cashflows(ctx, rc.Date)
	if err != nil {
		return nil, err
	}
	accounts := groupFlows(flows, runKey, in.loans)

	computed, failures, err := batch.ParallelMap(ctx, accounts, c.opts.Workers,
		func(_ context.Context, a accountRows) ([]contracts.LedgerRow, error) {
			rows := a.rows
			for _, step := range AllSteps()[1:] {
				if err := in.Apply(step, a.account, rows); err != nil {
					return nil, fmt.Errorf("account %s %s: %w", a.account, step, err)
				}
			}
			return rows, nil
		})
	if err != nil {
		return nil, err
	}
	c.logFailures(failures)

	written, err := c.replace(ctx, rc.Date, runKey, batch.Flatten(computed))
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("ledger built for %s run_key %d: %d rows, %d accounts excluded",
		contracts.DateKey(rc.Date), runKey, written, len(failures))
	c.logger.WithField("run_key", runKey).Info(msg)
	c.sink.Log(string(contracts.StageLedger), contracts.LevelInfo, msg)

	return &contracts.StageResult{
		Stage:        contracts.StageLedger,
		RowsAffected: written,
		RunKey:       &runKey,
		Warnings:     warnings() + len(failures),
	}, nil
}

// RunStep re-runs a single step for (date, run key) from persisted inputs
func (c *Calculator) RunStep(ctx context.Context, rc contracts.RunContext, step Step) (*contracts.StageResult, error) {
	runKey, err := runkey.Resolve(ctx, c.issuer, rc)
	if err != nil {
		return nil, fmt.Errorf("resolve run key: %w", err)
	}

	warn, warnings := c.warner()
	in, err := c.loadInputs(ctx, rc.Date, warn)
	if err != nil {
		return nil, err
	}

	var written int
	var failures []batch.Failure[accountRows]
	if step == StepInsert {
		flows, err := c.store.Cashflows(ctx, rc.Date)
		if err != nil {
			return nil, err
		}
		var rows []contracts.LedgerRow
		for _, a := range groupFlows(flows, runKey, in.loans) {
			rows = append(rows, a.rows...)
		}
		if written, err = c.replace(ctx, rc.Date, runKey, rows); err != nil {
			return nil, err
		}
	} else {
		ledger, err := c.store.LedgerRows(ctx, rc.Date, runKey)
		if err != nil {
			return nil, err
		}
		if len(ledger) == 0 {
			return nil, fmt.Errorf("%w: no ledger rows for %s run_key %d",
				contracts.ErrReferenceMissing, contracts.DateKey(rc.Date), runKey)
		}

		var updated [][]contracts.LedgerRow
		updated, failures, err = batch.ParallelMap(ctx, groupLedger(ledger), c.opts.Workers,
			func(_ context.Context, a accountRows) ([]contracts.LedgerRow, error) {
				if err := in.Apply(step, a.account, a.rows); err != nil {
					return nil, fmt.Errorf("account %s %s: %w", a.account, step, err)
				}
				return a.rows, nil
			})
		if err != nil {
			return nil, err
		}
		c.logFailures(failures)

		written, err = batch.PersistChunks(ctx, batch.Flatten(updated), c.opts.ChunkSize,
			batch.Retrying(c.opts, c.store.UpdateLedger))
		if err != nil {
			return nil, fmt.Errorf("update ledger: %w", err)
		}
	}

	msg := fmt.Sprintf("ledger step %s re-run for %s run_key %d: %d rows", step, contracts.DateKey(rc.Date), runKey, written)
	c.logger.WithField("run_key", runKey).Info(msg)
	c.sink.Log(string(contracts.StageLedger), contracts.LevelInfo, msg)

	return &contracts.StageResult{
		Stage:        contracts.StageLedger,
		RowsAffected: written,
		RunKey:       &runKey,
		Warnings:     warnings() + len(failures),
	}, nil
}

// replace deletes the (date, run key) ledger and inserts rows, retrying on lock contention
func (c *Calculator) replace(ctx context.Context, date time.Time, runKey int64, rows []contracts.LedgerRow) (int, error) {
	err := batch.WithRetry(ctx, c.opts.Retries, c.opts.RetryDelay, func(ctx context.Context) error {
		_, err := c.store.DeleteLedger(ctx, date, runKey)
		return err
	})
	if err != nil {
		return 0, err
	}

	written, err := batch.PersistChunks(ctx, rows, c.opts.ChunkSize, batch.Retrying(c.opts, c.store.InsertLedger))
	if err != nil {
		return written, fmt.Errorf("insert ledger: %w", err)
	}
	return written, nil
}

// groupFlows seeds each account's ledger rows from its flows
func groupFlows(flows []contracts.ExpectedCashflow, runKey int64, loans map[string]contracts.StageRecord) []accountRows {
	var out []accountRows
	index := make(map[string]int)
	byAccount := make(map[string][]contracts.ExpectedCashflow)
	for _, f := range flows {
		if _, ok := index[f.AccountNumber]; !ok {
			index[f.AccountNumber] = len(out)
			out = append(out, accountRows{account: f.AccountNumber})
		}
		byAccount[f.AccountNumber] = append(byAccount[f.AccountNumber], f)
	}
	for i := range out {
		account := out[i].account
		out[i].rows = Insert(byAccount[account], runKey, loans[account].AmortTermUnit)
	}
	return out
}
