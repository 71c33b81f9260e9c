package s7_ledger

import (
	"fmt"
	"math"
	"sort"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Step is one ledger transform
type Step string

const (
	StepInsert     Step = "insert"
	StepDiscount   Step = "discount"
	StepPropagate  Step = "propagate"
	StepMarginal   Step = "marginal"
	StepEAD        Step = "ead"
	StepExpectedCF Step = "expected_cf"
	StepShortfall  Step = "shortfall"
	StepForwardEL  Step = "forward_el"
)

// AllSteps returns the steps in dependency order
func AllSteps() []Step {
	return []Step{StepInsert, StepDiscount, StepPropagate, StepMarginal, StepEAD, StepExpectedCF, StepShortfall, StepForwardEL}
}

// ParseStep validates a step name
func ParseStep(s string) (Step, error) {
	for _, step := range AllSteps() {
		if string(step) == s {
			return step, nil
		}
	}
	return "", fmt.Errorf("unknown ledger step %q", s)
}

// Insert seeds ledger rows 1:1 from expected cash flows, sorted by bucket
func Insert(flows []contracts.ExpectedCashflow, runKey int64, unit contracts.TermUnit) []contracts.LedgerRow {
	rows := make([]contracts.LedgerRow, len(flows))
	for i, f := range flows {
		rows[i] = contracts.LedgerRow{
			FicMisDate:     f.FicMisDate,
			RunKey:         runKey,
			AccountNumber:  f.AccountNumber,
			Bucket:         f.Bucket,
			CashflowDate:   f.CashflowDate,
			CashFlowAmount: f.Amount,
			Principal:      f.Principal,
			Interest:       f.Interest,
			CurrencyCode:   f.CurrencyCode,
			AmortTermUnit:  unit,
		}
	}
	SortByBucket(rows)
	return rows
}

// SortByBucket orders one account's rows by ascending bucket
func SortByBucket(rows []contracts.LedgerRow) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Bucket < rows[j].Bucket })
}

// DiscountFactor returns 1/(1+rate)^(bucket/ppy)
func DiscountFactor(rate float64, bucket, periodsPerYear int) float64 {
	return 1 / math.Pow(1+rate, float64(bucket)/float64(periodsPerYear))
}

// Discount sets discount_rate = coalesce(eir, discount_rate) and the bucket discount factor.
// Rows are left unchanged when the loan has neither rate.
func Discount(rows []contracts.LedgerRow, loan contracts.StageRecord) error {
	rate := loan.EffectiveInterestRate
	if rate == nil {
		rate = loan.DiscountRate
	}
	if rate == nil {
		return nil
	}

	for i := range rows {
		ppy, err := rows[i].AmortTermUnit.PeriodsPerYear()
		if err != nil {
			return fmt.Errorf("bucket %d: %w", rows[i].Bucket, err)
		}
		rows[i].DiscountRate = contracts.Float(*rate)
		rows[i].DiscountFactor = contracts.Float(DiscountFactor(*rate, rows[i].Bucket, ppy))
	}
	return nil
}

// Curve is one bucket-ordered interpolated PD curve (bucket ≥ 1)
type Curve []contracts.InterpolatedPDRow

// At returns the row of a bucket; buckets past the horizon use the last bucket
func (c Curve) At(bucket int) (contracts.InterpolatedPDRow, bool) {
	if len(c) == 0 || bucket < 1 {
		return contracts.InterpolatedPDRow{}, false
	}
	if bucket > len(c) {
		return c[len(c)-1], true
	}
	return c[bucket-1], true
}

// Propagate copies EIR and LGD from the stage record and the cumulative PDs from the curve.
// A nil curve leaves the PD fields unchanged.
func Propagate(rows []contracts.LedgerRow, loan contracts.StageRecord, curve Curve, bucketsPerYear int) {
	for i := range rows {
		r := &rows[i]
		if loan.EffectiveInterestRate != nil {
			r.EffectiveInterestRate = contracts.Float(*loan.EffectiveInterestRate)
		}
		if loan.LGD != nil {
			r.LGD = contracts.Float(*loan.LGD)
		}

		if p, ok := curve.At(r.Bucket); ok {
			r.CumulativeImpairedProb = contracts.Float(p.CumulativePD)
		}
		if p, ok := curve.At(min(r.Bucket, bucketsPerYear)); ok {
			r.Cumulative12mPD = contracts.Float(p.CumulativePD)
		}
		if r.CumulativeImpairedProb != nil && r.LGD != nil {
			r.CumulativeLossRate = contracts.Float(*r.CumulativeImpairedProb * *r.LGD)
		}
	}
}

// Marginal sets |cumulative − previous cumulative| for both PD horizons.
// Rows must be sorted by bucket; the first bucket differences against 0.
func Marginal(rows []contracts.LedgerRow) {
	prev, prev12 := 0.0, 0.0
	for i := range rows {
		r := &rows[i]
		if r.CumulativeImpairedProb != nil {
			r.MarginalImpairedProb = contracts.Float(math.Abs(*r.CumulativeImpairedProb - prev))
			prev = *r.CumulativeImpairedProb
		}
		if r.Cumulative12mPD != nil {
			r.Marginal12mPD = contracts.Float(math.Abs(*r.Cumulative12mPD - prev12))
			prev12 = *r.Cumulative12mPD
		}
	}
}

// EAD sets the backward cumulative sum of discounted amounts per bucket.
// Skipped for the whole account when any discount factor is missing.
func EAD(rows []contracts.LedgerRow) {
	for _, r := range rows {
		if r.DiscountFactor == nil {
			return
		}
	}

	remaining := 0.0
	for i := len(rows) - 1; i >= 0; i-- {
		remaining += rows[i].CashFlowAmount * *rows[i].DiscountFactor
		rows[i].EAD = contracts.Float(remaining)
	}
}

// ExpectedCF applies the survival rates to the contractual amount
func ExpectedCF(rows []contracts.LedgerRow) {
	for i := range rows {
		r := &rows[i]
		if r.CumulativeLossRate != nil {
			rate := 1 - *r.CumulativeLossRate
			r.ExpectedCFRate = contracts.Float(rate)
			r.ExpectedCF = contracts.Float(r.CashFlowAmount * rate)
		}
		if r.Cumulative12mPD != nil && r.LGD != nil {
			r.ExpectedCF12m = contracts.Float(r.CashFlowAmount * (1 - *r.Cumulative12mPD**r.LGD))
		}
	}
}

// Shortfall sets contractual − expected, with present-value twins
func Shortfall(rows []contracts.LedgerRow) {
	for i := range rows {
		r := &rows[i]
		if r.ExpectedCF != nil {
			r.CashShortfall = contracts.Float(r.CashFlowAmount - *r.ExpectedCF)
			setPV(&r.CashShortfallPV, *r.CashShortfall, r.DiscountFactor)
		}
		if r.ExpectedCF12m != nil {
			r.CashShortfall12m = contracts.Float(r.CashFlowAmount - *r.ExpectedCF12m)
			setPV(&r.CashShortfall12mPV, *r.CashShortfall12m, r.DiscountFactor)
		}
	}
}

// ForwardEL sets EAD × marginal PD × LGD, with present-value twins
func ForwardEL(rows []contracts.LedgerRow) {
	for i := range rows {
		r := &rows[i]
		if r.EAD == nil || r.LGD == nil {
			continue
		}
		if r.MarginalImpairedProb != nil {
			r.ForwardEL = contracts.Float(*r.EAD * *r.MarginalImpairedProb * *r.LGD)
			setPV(&r.ForwardELPV, *r.ForwardEL, r.DiscountFactor)
		}
		if r.Marginal12mPD != nil {
			r.ForwardEL12m = contracts.Float(*r.EAD * *r.Marginal12mPD * *r.LGD)
			setPV(&r.ForwardEL12mPV, *r.ForwardEL12m, r.DiscountFactor)
		}
	}
}

// setPV leaves dst unchanged without a discount factor
func setPV(dst **float64, v float64, factor *float64) {
	if factor != nil {
		*dst = contracts.Float(v * *factor)
	}
}
