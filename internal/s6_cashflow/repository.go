package s6_cashflow

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Repository handles data persistence for S6
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Loans returns the staged loans of the date with the terms the projector needs
func (r *Repository) Loans(ctx context.Context, date time.Time) ([]contracts.StageRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT fic_mis_date, account_number, currency_code, carrying_amount, interest_rate,
		       amort_term_unit, COALESCE(repayment_type, ''), COALESCE(interest_method, ''), COALESCE(day_count, ''),
		       acct_start_date, maturity_date, next_payment_date, withholding_tax_rate, management_fee_amount, ead
		FROM ecl.stage_determination
		WHERE fic_mis_date = $1
		ORDER BY account_number
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}
	defer rows.Close()

	var result []contracts.StageRecord
	for rows.Next() {
		var l contracts.StageRecord
		var unit string
		if err := rows.Scan(&l.FicMisDate, &l.AccountNumber, &l.CurrencyCode, &l.CarryingAmount, &l.InterestRate,
			&unit, &l.RepaymentType, &l.InterestMethod, &l.DayCount,
			&l.AcctStartDate, &l.MaturityDate, &l.NextPaymentDate, &l.WithholdingTaxRate, &l.ManagementFeeAmount, &l.EAD); err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		l.AmortTermUnit = contracts.TermUnit(unit)
		result = append(result, l)
	}
	return result, rows.Err()
}

// Schedules returns explicit payment schedules of the date by account
func (r *Repository) Schedules(ctx context.Context, date time.Time) (map[string][]contracts.ScheduledPayment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT account_number, payment_date, principal_amount, interest_amount
		FROM ecl.payment_schedules
		WHERE fic_mis_date = $1
		ORDER BY account_number, payment_date
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query payment schedules: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]contracts.ScheduledPayment)
	for rows.Next() {
		var p contracts.ScheduledPayment
		if err := rows.Scan(&p.AccountNumber, &p.PaymentDate, &p.PrincipalAmount, &p.InterestAmount); err != nil {
			return nil, fmt.Errorf("scan payment schedule: %w", err)
		}
		result[p.AccountNumber] = append(result[p.AccountNumber], p)
	}
	return result, rows.Err()
}

// DeleteCashflows removes every projected flow of the date
func (r *Repository) DeleteCashflows(ctx context.Context, date time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM ecl.expected_cashflows WHERE fic_mis_date = $1`, date)
	if err != nil {
		return 0, fmt.Errorf("delete expected cashflows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertCashflows bulk inserts one chunk of flows
func (r *Repository) InsertCashflows(ctx context.Context, flows []contracts.ExpectedCashflow) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"ecl", "expected_cashflows"},
		[]string{"fic_mis_date", "account_number", "bucket", "cashflow_date",
			"principal", "interest", "management_fee", "amount", "balance", "currency_code"},
		pgx.CopyFromSlice(len(flows), func(i int) ([]any, error) {
			f := flows[i]
			return []any{f.FicMisDate, f.AccountNumber, f.Bucket, f.CashflowDate,
				f.Principal, f.Interest, f.ManagementFee, f.Amount, f.Balance, f.CurrencyCode}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy expected cashflows: %w", err)
	}

	return tx.Commit(ctx)
}
