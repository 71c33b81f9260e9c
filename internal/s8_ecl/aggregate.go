package s8_ecl

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
)

// Method selects how ledger rows roll up into ECL
type Method struct {
	Name        string
	Discounting bool
}

// Account is one account's bucket-sorted ledger plus its IFRS9 stage
type Account struct {
	AccountNumber string
	CurrencyCode  string
	Stage         int
	Rows          []contracts.LedgerRow
}

// Aggregate rolls one account's ledger up to a reporting line (natural currency only)
func Aggregate(acc Account, method Method, bucketsPerYear int) (contracts.ReportingLine, error) {
	line := contracts.ReportingLine{
		AccountNumber: acc.AccountNumber,
		CurrencyCode:  acc.CurrencyCode,
		Stage:         acc.Stage,
	}
	if len(acc.Rows) == 0 {
		return line, fmt.Errorf("account %s has no ledger rows", acc.AccountNumber)
	}

	first := acc.Rows[0]
	last := acc.Rows[len(acc.Rows)-1]
	line.FicMisDate = first.FicMisDate
	line.RunKey = first.RunKey
	line.EAD = first.EAD
	line.LGD = first.LGD
	line.PDLifetime = last.CumulativeImpairedProb

	horizon := min(last.Bucket, bucketsPerYear)
	for _, r := range acc.Rows {
		if r.Bucket == horizon {
			line.PD12m = r.Cumulative12mPD
			break
		}
	}

	pick := func(raw, pv func(r *contracts.LedgerRow) *float64) *float64 {
		if method.Discounting {
			return sum(acc.Rows, pv)
		}
		return sum(acc.Rows, raw)
	}

	switch method.Name {
	case eclconfig.MethodCashFlow:
		line.ECL12m = pick(
			func(r *contracts.LedgerRow) *float64 { return r.CashShortfall12m },
			func(r *contracts.LedgerRow) *float64 { return r.CashShortfall12mPV })
		line.ECLLifetime = pick(
			func(r *contracts.LedgerRow) *float64 { return r.CashShortfall },
			func(r *contracts.LedgerRow) *float64 { return r.CashShortfallPV })
	case eclconfig.MethodForwardExposure:
		line.ECL12m = pick(
			func(r *contracts.LedgerRow) *float64 { return r.ForwardEL12m },
			func(r *contracts.LedgerRow) *float64 { return r.ForwardEL12mPV })
		line.ECLLifetime = pick(
			func(r *contracts.LedgerRow) *float64 { return r.ForwardEL },
			func(r *contracts.LedgerRow) *float64 { return r.ForwardELPV })
	case eclconfig.MethodSimpleEAD:
		line.ECL12m = SimpleECL(line.EAD, line.PD12m, line.LGD)
		line.ECLLifetime = SimpleECL(line.EAD, line.PDLifetime, line.LGD)
	default:
		return line, fmt.Errorf("unknown ecl method %q", method.Name)
	}

	line.FinalECL = FinalECL(acc.Stage, line.ECL12m, line.ECLLifetime)
	return line, nil
}

// SimpleECL returns EAD × PD × LGD in decimal arithmetic, nil when any input is missing
func SimpleECL(ead, pd, lgd *float64) *float64 {
	if ead == nil || pd == nil || lgd == nil {
		return nil
	}
	v := decimal.NewFromFloat(*ead).
		Mul(decimal.NewFromFloat(*pd)).
		Mul(decimal.NewFromFloat(*lgd))
	return contracts.Float(v.InexactFloat64())
}

// FinalECL is the 12m ECL for stage 1, lifetime ECL for stages 2 and 3
func FinalECL(stage int, ecl12m, eclLifetime *float64) *float64 {
	if stage <= 1 {
		return ecl12m
	}
	return eclLifetime
}

// sum adds the non-nil field values; nil when every row is nil
func sum(rows []contracts.LedgerRow, field func(r *contracts.LedgerRow) *float64) *float64 {
	var total decimal.Decimal
	found := false
	for i := range rows {
		if v := field(&rows[i]); v != nil {
			total = total.Add(decimal.NewFromFloat(*v))
			found = true
		}
	}
	if !found {
		return nil
	}
	return contracts.Float(total.InexactFloat64())
}
