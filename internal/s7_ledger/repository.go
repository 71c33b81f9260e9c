package s7_ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Repository handles data persistence for S7
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var keyColumns = []string{
	"fic_mis_date", "run_key", "account_number", "bucket", "cashflow_date",
	"cash_flow_amount", "principal", "interest", "currency_code", "amort_term_unit",
}

var computedColumns = []string{
	"discount_rate", "effective_interest_rate", "discount_factor", "lgd_percent",
	"cumulative_loss_rate", "cumulative_impaired_prob", "cumulative_12m_pd",
	"marginal_impaired_prob", "marginal_12m_pd", "ead",
	"expected_cf_rate", "expected_cf", "expected_cf_12m",
	"cash_shortfall", "cash_shortfall_pv", "cash_shortfall_12m", "cash_shortfall_12m_pv",
	"forward_el", "forward_el_pv", "forward_el_12m", "forward_el_12m_pv",
}

func computedValues(r *contracts.LedgerRow) []any {
	return []any{
		r.DiscountRate, r.EffectiveInterestRate, r.DiscountFactor, r.LGD,
		r.CumulativeLossRate, r.CumulativeImpairedProb, r.Cumulative12mPD,
		r.MarginalImpairedProb, r.Marginal12mPD, r.EAD,
		r.ExpectedCFRate, r.ExpectedCF, r.ExpectedCF12m,
		r.CashShortfall, r.CashShortfallPV, r.CashShortfall12m, r.CashShortfall12mPV,
		r.ForwardEL, r.ForwardELPV, r.ForwardEL12m, r.ForwardEL12mPV,
	}
}

func computedDest(r *contracts.LedgerRow) []any {
	return []any{
		&r.DiscountRate, &r.EffectiveInterestRate, &r.DiscountFactor, &r.LGD,
		&r.CumulativeLossRate, &r.CumulativeImpairedProb, &r.Cumulative12mPD,
		&r.MarginalImpairedProb, &r.Marginal12mPD, &r.EAD,
		&r.ExpectedCFRate, &r.ExpectedCF, &r.ExpectedCF12m,
		&r.CashShortfall, &r.CashShortfallPV, &r.CashShortfall12m, &r.CashShortfall12mPV,
		&r.ForwardEL, &r.ForwardELPV, &r.ForwardEL12m, &r.ForwardEL12mPV,
	}
}

// Cashflows returns the projected flows of the date
func (r *Repository) Cashflows(ctx context.Context, date time.Time) ([]contracts.ExpectedCashflow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT fic_mis_date, account_number, bucket, cashflow_date,
		       principal, interest, management_fee, amount, balance, currency_code
		FROM ecl.expected_cashflows
		WHERE fic_mis_date = $1
		ORDER BY account_number, bucket
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query expected cashflows: %w", err)
	}
	defer rows.Close()

	var result []contracts.ExpectedCashflow
	for rows.Next() {
		var f contracts.ExpectedCashflow
		if err := rows.Scan(&f.FicMisDate, &f.AccountNumber, &f.Bucket, &f.CashflowDate,
			&f.Principal, &f.Interest, &f.ManagementFee, &f.Amount, &f.Balance, &f.CurrencyCode); err != nil {
			return nil, fmt.Errorf("scan expected cashflow: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// Loans returns the stage rows of the date keyed by account
func (r *Repository) Loans(ctx context.Context, date time.Time) (map[string]contracts.StageRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT account_number, amort_term_unit, effective_interest_rate, discount_rate, lgd_percent,
		       pd_term_structure_id, COALESCE(delq_band_code, ''), credit_rating
		FROM ecl.stage_determination
		WHERE fic_mis_date = $1
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}
	defer rows.Close()

	result := make(map[string]contracts.StageRecord)
	for rows.Next() {
		var l contracts.StageRecord
		var unit string
		if err := rows.Scan(&l.AccountNumber, &unit, &l.EffectiveInterestRate, &l.DiscountRate, &l.LGD,
			&l.PDTermStructureID, &l.DelqBandCode, &l.CreditRating); err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		l.FicMisDate = date
		l.AmortTermUnit = contracts.TermUnit(unit)
		result[l.AccountNumber] = l
	}
	return result, rows.Err()
}

// Curves returns the interpolated PD rows of the date (bucket ≥ 1)
func (r *Repository) Curves(ctx context.Context, date time.Time) ([]contracts.InterpolatedPDRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT pd_term_structure_id, basis_kind, basis_code, bucket, periodic_pd, cumulative_pd
		FROM ecl.interpolated_pd
		WHERE fic_mis_date = $1 AND bucket > 0
		ORDER BY pd_term_structure_id, basis_code, bucket
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query interpolated pd: %w", err)
	}
	defer rows.Close()

	var result []contracts.InterpolatedPDRow
	for rows.Next() {
		p := contracts.InterpolatedPDRow{FicMisDate: date}
		var kind string
		if err := rows.Scan(&p.TermStructureID, &kind, &p.BasisCode, &p.Bucket, &p.PeriodicPD, &p.CumulativePD); err != nil {
			return nil, fmt.Errorf("scan interpolated pd: %w", err)
		}
		p.BasisKind = contracts.BasisKind(kind)
		result = append(result, p)
	}
	return result, rows.Err()
}

// LedgerRows returns the persisted ledger of (date, run key)
func (r *Repository) LedgerRows(ctx context.Context, date time.Time, runKey int64) ([]contracts.LedgerRow, error) {
	query := `SELECT ` + strings.Join(keyColumns, ", ") + `, ` + strings.Join(computedColumns, ", ") + `
		FROM ecl.financial_cashflow_cal
		WHERE fic_mis_date = $1 AND run_key = $2
		ORDER BY account_number, bucket`

	rows, err := r.db.Query(ctx, query, date, runKey)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var result []contracts.LedgerRow
	for rows.Next() {
		var l contracts.LedgerRow
		var unit string
		dest := []any{&l.FicMisDate, &l.RunKey, &l.AccountNumber, &l.Bucket, &l.CashflowDate,
			&l.CashFlowAmount, &l.Principal, &l.Interest, &l.CurrencyCode, &unit}
		if err := rows.Scan(append(dest, computedDest(&l)...)...); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		l.AmortTermUnit = contracts.TermUnit(unit)
		result = append(result, l)
	}
	return result, rows.Err()
}

// DeleteLedger removes the ledger of (date, run key)
func (r *Repository) DeleteLedger(ctx context.Context, date time.Time, runKey int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM ecl.financial_cashflow_cal WHERE fic_mis_date = $1 AND run_key = $2`, date, runKey)
	if err != nil {
		return 0, fmt.Errorf("delete ledger: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertLedger bulk inserts one chunk of ledger rows with every computed field
func (r *Repository) InsertLedger(ctx context.Context, rows []contracts.LedgerRow) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	columns := append(append([]string{}, keyColumns...), computedColumns...)
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"ecl", "financial_cashflow_cal"},
		columns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			l := &rows[i]
			values := []any{l.FicMisDate, l.RunKey, l.AccountNumber, l.Bucket, l.CashflowDate,
				l.CashFlowAmount, l.Principal, l.Interest, l.CurrencyCode, string(l.AmortTermUnit)}
			return append(values, computedValues(l)...), nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy ledger: %w", err)
	}

	return tx.Commit(ctx)
}

// UpdateLedger rewrites every computed field of one chunk
func (r *Repository) UpdateLedger(ctx context.Context, rows []contracts.LedgerRow) error {
	sets := make([]string, len(computedColumns))
	for i, c := range computedColumns {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+5)
	}
	query := `UPDATE ecl.financial_cashflow_cal SET ` + strings.Join(sets, ", ") + `
		WHERE fic_mis_date = $1 AND run_key = $2 AND account_number = $3 AND bucket = $4`

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for i := range rows {
		l := &rows[i]
		args := append([]any{l.FicMisDate, l.RunKey, l.AccountNumber, l.Bucket}, computedValues(l)...)
		b.Queue(query, args...)
	}

	br := tx.SendBatch(ctx, b)
	for i := range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("batch update ledger row %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}
