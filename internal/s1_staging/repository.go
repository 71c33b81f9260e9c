package s1_staging

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Repository handles data persistence for S1
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const instrumentColumns = `
	fic_mis_date, account_number, customer_ref, product_code, currency_code,
	carrying_amount, interest_rate, effective_interest_rate, discount_rate,
	amort_term_unit, repayment_type, COALESCE(interest_method, ''), COALESCE(day_count, ''),
	acct_start_date, maturity_date, next_payment_date, delinquent_days, collateral_amount,
	orig_credit_score, curr_credit_score, credit_rating, withholding_tax_rate, management_fee_amount`

const stageColumns = instrumentColumns + `,
	COALESCE(product_segment, ''), COALESCE(product_type, ''), COALESCE(product_desc, ''),
	segment_key, pd_term_structure_id, COALESCE(pd_term_structure_name, ''), COALESCE(pd_term_structure_desc, ''),
	COALESCE(delq_band_code, ''), rating_movement, COALESCE(partner_name, ''), COALESCE(partner_type, ''),
	ead, lgd_percent, pd_percent,
	stage, prev_stage, in_cooling_period, cooling_start_date, cooling_duration, target_stage`

func instrumentDest(i *contracts.Instrument, unit *string) []any {
	return []any{
		&i.FicMisDate, &i.AccountNumber, &i.CustomerRef, &i.ProductCode, &i.CurrencyCode,
		&i.CarryingAmount, &i.InterestRate, &i.EffectiveInterestRate, &i.DiscountRate,
		unit, &i.RepaymentType, &i.InterestMethod, &i.DayCount,
		&i.AcctStartDate, &i.MaturityDate, &i.NextPaymentDate, &i.DelinquentDays, &i.CollateralAmount,
		&i.OrigCreditScore, &i.CurrCreditScore, &i.CreditRating, &i.WithholdingTaxRate, &i.ManagementFeeAmount,
	}
}

func scanStageRecord(row pgx.Row) (contracts.StageRecord, error) {
	var r contracts.StageRecord
	var unit string
	dest := instrumentDest(&r.Instrument, &unit)
	dest = append(dest,
		&r.ProductSegment, &r.ProductType, &r.ProductDesc,
		&r.SegmentKey, &r.PDTermStructureID, &r.PDTermStructureName, &r.PDTermStructureDesc,
		&r.DelqBandCode, &r.RatingMovement, &r.PartnerName, &r.PartnerType,
		&r.EAD, &r.LGD, &r.PD,
		&r.Stage, &r.PrevStage, &r.InCoolingPeriod, &r.CoolingStartDate, &r.CoolingDuration, &r.TargetStage,
	)
	if err := row.Scan(dest...); err != nil {
		return r, err
	}
	r.AmortTermUnit = contracts.TermUnit(unit)
	return r, nil
}

// LoadInstruments returns the raw loan records of the reporting date
func (r *Repository) LoadInstruments(ctx context.Context, date time.Time) ([]contracts.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM ecl.loan_instruments WHERE fic_mis_date = $1`

	rows, err := r.db.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("query instruments: %w", err)
	}
	defer rows.Close()

	var result []contracts.Instrument
	for rows.Next() {
		var inst contracts.Instrument
		var unit string
		if err := rows.Scan(instrumentDest(&inst, &unit)...); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		inst.AmortTermUnit = contracts.TermUnit(unit)
		result = append(result, inst)
	}
	return result, rows.Err()
}

// LoadStageRecords returns every stage row of the reporting date
func (r *Repository) LoadStageRecords(ctx context.Context, date time.Time) ([]contracts.StageRecord, error) {
	query := `SELECT ` + stageColumns + ` FROM ecl.stage_determination WHERE fic_mis_date = $1 ORDER BY account_number`

	rows, err := r.db.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("query stage records: %w", err)
	}
	defer rows.Close()

	var result []contracts.StageRecord
	for rows.Next() {
		rec, err := scanStageRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage record: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// PreviousStates returns, per account, the stage row of the immediately preceding reporting date
func (r *Repository) PreviousStates(ctx context.Context, date time.Time) (map[string]PrevState, error) {
	query := `
		SELECT DISTINCT ON (account_number)
			account_number, fic_mis_date, stage, in_cooling_period,
			cooling_start_date, cooling_duration, target_stage
		FROM ecl.stage_determination
		WHERE fic_mis_date < $1
		ORDER BY account_number, fic_mis_date DESC
	`

	rows, err := r.db.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("query previous states: %w", err)
	}
	defer rows.Close()

	result := make(map[string]PrevState)
	for rows.Next() {
		var account string
		var p PrevState
		if err := rows.Scan(&account, &p.Date, &p.Stage, &p.InCoolingPeriod,
			&p.CoolingStartDate, &p.CoolingDuration, &p.TargetStage); err != nil {
			return nil, fmt.Errorf("scan previous state: %w", err)
		}
		result[account] = p
	}
	return result, rows.Err()
}

// DeleteStageRecords removes every stage row of the reporting date
func (r *Repository) DeleteStageRecords(ctx context.Context, date time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM ecl.stage_determination WHERE fic_mis_date = $1`, date)
	if err != nil {
		return 0, fmt.Errorf("delete stage records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertStageRecords bulk-inserts one chunk in its own transaction
func (r *Repository) InsertStageRecords(ctx context.Context, records []contracts.StageRecord) error {
	columns := []string{
		"fic_mis_date", "account_number", "customer_ref", "product_code", "currency_code",
		"carrying_amount", "interest_rate", "effective_interest_rate", "discount_rate",
		"amort_term_unit", "repayment_type", "interest_method", "day_count",
		"acct_start_date", "maturity_date", "next_payment_date", "delinquent_days", "collateral_amount",
		"orig_credit_score", "curr_credit_score", "credit_rating", "withholding_tax_rate", "management_fee_amount",
		"stage",
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"ecl", "stage_determination"},
		columns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			rec := records[i]
			return []any{
				rec.FicMisDate, rec.AccountNumber, rec.CustomerRef, rec.ProductCode, rec.CurrencyCode,
				rec.CarryingAmount, rec.InterestRate, rec.EffectiveInterestRate, rec.DiscountRate,
				string(rec.AmortTermUnit), rec.RepaymentType, nullString(rec.InterestMethod), nullString(rec.DayCount),
				rec.AcctStartDate, rec.MaturityDate, rec.NextPaymentDate, rec.DelinquentDays, rec.CollateralAmount,
				rec.OrigCreditScore, rec.CurrCreditScore, rec.CreditRating, rec.WithholdingTaxRate, rec.ManagementFeeAmount,
				int16(rec.Stage),
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy stage records: %w", err)
	}

	return tx.Commit(ctx)
}

// UpdateEnrichment writes enrichment fields for one chunk in its own transaction
func (r *Repository) UpdateEnrichment(ctx context.Context, records []contracts.StageRecord) error {
	query := `
		UPDATE ecl.stage_determination SET
			product_segment = NULLIF($3, ''),
			product_type = NULLIF($4, ''),
			product_desc = NULLIF($5, ''),
			segment_key = $6,
			pd_term_structure_id = $7,
			pd_term_structure_name = NULLIF($8, ''),
			pd_term_structure_desc = NULLIF($9, ''),
			collateral_amount = $10,
			delq_band_code = NULLIF($11, ''),
			partner_name = NULLIF($12, ''),
			partner_type = NULLIF($13, ''),
			credit_rating = $14,
			rating_movement = $15,
			effective_interest_rate = $16,
			ead = $17
		WHERE fic_mis_date = $1 AND account_number = $2
	`

	return r.sendBatch(ctx, len(records), func(batch *pgx.Batch) {
		for _, rec := range records {
			batch.Queue(query,
				rec.FicMisDate, rec.AccountNumber,
				rec.ProductSegment, rec.ProductType, rec.ProductDesc,
				rec.SegmentKey, rec.PDTermStructureID, rec.PDTermStructureName, rec.PDTermStructureDesc,
				rec.CollateralAmount, rec.DelqBandCode, rec.PartnerName, rec.PartnerType,
				rec.CreditRating, rec.RatingMovement, rec.EffectiveInterestRate, rec.EAD,
			)
		}
	})
}

// UpdateStaging writes stage and cooling bookkeeping for one chunk in its own transaction
func (r *Repository) UpdateStaging(ctx context.Context, records []contracts.StageRecord) error {
	query := `
		UPDATE ecl.stage_determination SET
			stage = $3,
			prev_stage = $4,
			in_cooling_period = $5,
			cooling_start_date = $6,
			cooling_duration = $7,
			target_stage = $8
		WHERE fic_mis_date = $1 AND account_number = $2
	`

	return r.sendBatch(ctx, len(records), func(batch *pgx.Batch) {
		for _, rec := range records {
			batch.Queue(query,
				rec.FicMisDate, rec.AccountNumber,
				int16(rec.Stage), rec.PrevStage, rec.InCoolingPeriod,
				rec.CoolingStartDate, rec.CoolingDuration, rec.TargetStage,
			)
		}
	})
}

func (r *Repository) sendBatch(ctx context.Context, n int, queue func(*pgx.Batch)) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	queue(batch)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("batch update row %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
