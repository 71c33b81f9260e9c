package s8_ecl

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// RatePlaces is the stored precision of reporting-currency amounts
const RatePlaces = 4

// RateTable holds one resolved rate per source currency; missing pairs are absent
type RateTable map[string]float64

// ResolveRates fetches a rate for every distinct non-reporting currency.
// Failed pairs are returned separately and left out of the table.
func ResolveRates(ctx context.Context, rates contracts.CurrencyRates, currencies []string, reporting string, date time.Time) (RateTable, map[string]error) {
	table := RateTable{reporting: 1}
	failed := make(map[string]error)
	for _, ccy := range currencies {
		if _, ok := table[ccy]; ok {
			continue
		}
		if _, ok := failed[ccy]; ok {
			continue
		}
		rate, err := rates.Rate(ctx, ccy, reporting, date)
		if err != nil {
			failed[ccy] = err
			continue
		}
		if rate <= 0 {
			failed[ccy] = fmt.Errorf("%w: non-positive rate %v for %s/%s", contracts.ErrReferenceMissing, rate, ccy, reporting)
			continue
		}
		table[ccy] = rate
	}
	return table, failed
}

// Convert fills the reporting-currency fields. It returns false when no rate exists.
func Convert(line *contracts.ReportingLine, reporting string, table RateTable) bool {
	rate, ok := table[line.CurrencyCode]
	if !ok {
		return false
	}

	line.ReportingCurrency = reporting
	line.ExchangeRate = contracts.Float(rate)
	line.EADRcy = convert(line.EAD, rate)
	line.ECL12mRcy = convert(line.ECL12m, rate)
	line.ECLLifetimeRcy = convert(line.ECLLifetime, rate)
	line.FinalECLRcy = convert(line.FinalECL, rate)
	return true
}

func convert(v *float64, rate float64) *float64 {
	if v == nil {
		return nil
	}
	if rate == 1 {
		return contracts.Float(*v)
	}
	out := decimal.NewFromFloat(*v).Mul(decimal.NewFromFloat(rate)).Round(RatePlaces)
	return contracts.Float(out.InexactFloat64())
}
