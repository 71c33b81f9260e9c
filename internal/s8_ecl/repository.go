package s8_ecl

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Repository handles data persistence for S8
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// LedgerRows returns the ledger fields the aggregation reads
func (r *Repository) LedgerRows(ctx context.Context, date time.Time, runKey int64) ([]contracts.LedgerRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT fic_mis_date, run_key, account_number, bucket, currency_code,
		       ead, lgd_percent, cumulative_impaired_prob, cumulative_12m_pd,
		       cash_shortfall, cash_shortfall_pv, cash_shortfall_12m, cash_shortfall_12m_pv,
		       forward_el, forward_el_pv, forward_el_12m, forward_el_12m_pv
		FROM ecl.financial_cashflow_cal
		WHERE fic_mis_date = $1 AND run_key = $2
		ORDER BY account_number, bucket
	`, date, runKey)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var result []contracts.LedgerRow
	for rows.Next() {
		var l contracts.LedgerRow
		if err := rows.Scan(&l.FicMisDate, &l.RunKey, &l.AccountNumber, &l.Bucket, &l.CurrencyCode,
			&l.EAD, &l.LGD, &l.CumulativeImpairedProb, &l.Cumulative12mPD,
			&l.CashShortfall, &l.CashShortfallPV, &l.CashShortfall12m, &l.CashShortfall12mPV,
			&l.ForwardEL, &l.ForwardELPV, &l.ForwardEL12m, &l.ForwardEL12mPV); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// Stages returns the IFRS9 stage of every account on the date
func (r *Repository) Stages(ctx context.Context, date time.Time) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT account_number, stage FROM ecl.stage_determination WHERE fic_mis_date = $1`, date)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var account string
		var stage int
		if err := rows.Scan(&account, &stage); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		result[account] = stage
	}
	return result, rows.Err()
}

// DeleteReportingLines removes the lines of (date, run key)
func (r *Repository) DeleteReportingLines(ctx context.Context, date time.Time, runKey int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM ecl.reporting_lines WHERE fic_mis_date = $1 AND run_key = $2`, date, runKey)
	if err != nil {
		return 0, fmt.Errorf("delete reporting lines: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertReportingLines bulk inserts one chunk of lines
func (r *Repository) InsertReportingLines(ctx context.Context, lines []contracts.ReportingLine) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"ecl", "reporting_lines"},
		[]string{"fic_mis_date", "run_key", "account_number", "currency_code", "stage",
			"ead_ncy", "pd_12m", "pd_lifetime", "lgd_percent", "ecl_12m_ncy", "ecl_lifetime_ncy", "final_ecl_ncy",
			"reporting_currency", "exchange_rate", "ead_rcy", "ecl_12m_rcy", "ecl_lifetime_rcy", "final_ecl_rcy"},
		pgx.CopyFromSlice(len(lines), func(i int) ([]any, error) {
			l := lines[i]
			return []any{l.FicMisDate, l.RunKey, l.AccountNumber, l.CurrencyCode, int16(l.Stage),
				l.EAD, l.PD12m, l.PDLifetime, l.LGD, l.ECL12m, l.ECLLifetime, l.FinalECL,
				nullString(l.ReportingCurrency), l.ExchangeRate, l.EADRcy, l.ECL12mRcy, l.ECLLifetimeRcy, l.FinalECLRcy}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy reporting lines: %w", err)
	}

	return tx.Commit(ctx)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
