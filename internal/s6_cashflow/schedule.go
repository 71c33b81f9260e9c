package s6_cashflow

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Day-count conventions
const (
	DayCount360 = "30/360"
	DayCount365 = "30/365"
)

// Interest methods
const (
	InterestSimple    = "SIMPLE"
	InterestAmortized = "AMORTIZED"
)

// Repayment types
const (
	RepaymentBullet    = "BULLET"
	RepaymentAmortized = "AMORTIZED"
	RepaymentAnnuity   = "ANNUITY"
)

// PeriodDays returns the days per period of a term unit and the year basis of a day count
func PeriodDays(unit contracts.TermUnit, dayCount string) (days int, basis int, err error) {
	table := map[contracts.TermUnit][2]int{
		contracts.UnitDay:      {1, 1},
		contracts.UnitWeek:     {7, 7},
		contracts.UnitMonth:    {30, 30},
		contracts.UnitQuarter:  {90, 91},
		contracts.UnitHalfYear: {180, 182},
		contracts.UnitYear:     {360, 365},
	}
	d, ok := table[unit]
	if !ok {
		return 0, 0, fmt.Errorf("unknown term unit %q", string(unit))
	}

	if strings.TrimSpace(dayCount) == DayCount365 {
		return d[1], 365, nil
	}
	return d[0], 360, nil
}

// AnnuityPayment returns the level payment P×r / (1 − (1+r)^−n)
func AnnuityPayment(principal, periodicRate float64, periods int) float64 {
	if periods <= 0 {
		return 0
	}
	if periodicRate == 0 {
		return principal / float64(periods)
	}
	return principal * periodicRate / (1 - math.Pow(1+periodicRate, -float64(periods)))
}

// PaymentDates steps from the next payment date by the period length; the final date is maturity
func PaymentDates(next, maturity time.Time, periodDays int) []time.Time {
	var dates []time.Time
	for d := next; d.Before(maturity); d = d.AddDate(0, 0, periodDays) {
		dates = append(dates, d)
	}
	return append(dates, maturity)
}

// Project builds the bucketed cash-flow schedule of one loan.
// An explicit payment schedule takes priority over synthesis.
func Project(loan contracts.StageRecord, schedule []contracts.ScheduledPayment) ([]contracts.ExpectedCashflow, error) {
	if len(schedule) > 0 {
		return fromSchedule(loan, schedule), nil
	}
	return synthesize(loan)
}

func fromSchedule(loan contracts.StageRecord, schedule []contracts.ScheduledPayment) []contracts.ExpectedCashflow {
	sorted := make([]contracts.ScheduledPayment, len(schedule))
	copy(sorted, schedule)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PaymentDate.Before(sorted[j].PaymentDate) })

	balance := loan.CarryingAmount
	flows := make([]contracts.ExpectedCashflow, len(sorted))
	for i, p := range sorted {
		balance -= p.PrincipalAmount
		flows[i] = contracts.ExpectedCashflow{
			FicMisDate:    loan.FicMisDate,
			AccountNumber: loan.AccountNumber,
			Bucket:        i + 1,
			CashflowDate:  p.PaymentDate,
			Principal:     p.PrincipalAmount,
			Interest:      p.InterestAmount,
			Amount:        p.PrincipalAmount + p.InterestAmount,
			Balance:       math.Max(balance, 0),
			CurrencyCode:  loan.CurrencyCode,
		}
	}
	return flows
}

func synthesize(loan contracts.StageRecord) ([]contracts.ExpectedCashflow, error) {
	if loan.NextPaymentDate == nil || loan.MaturityDate == nil {
		return nil, fmt.Errorf("account %s: next payment and maturity dates are required", loan.AccountNumber)
	}

	periodDays, basis, err := PeriodDays(loan.AmortTermUnit, loan.DayCount)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", loan.AccountNumber, err)
	}
	ppy, _ := loan.AmortTermUnit.PeriodsPerYear()

	repayment := strings.ToUpper(strings.TrimSpace(loan.RepaymentType))
	switch repayment {
	case RepaymentBullet, RepaymentAmortized, RepaymentAnnuity:
	default:
		return nil, fmt.Errorf("account %s: unknown repayment type %q", loan.AccountNumber, loan.RepaymentType)
	}

	rate := 0.0
	if loan.InterestRate != nil {
		rate = *loan.InterestRate
	}
	tax := 0.0
	if loan.WithholdingTaxRate != nil {
		tax = *loan.WithholdingTaxRate
	}

	dates := PaymentDates(*loan.NextPaymentDate, *loan.MaturityDate, periodDays)
	n := len(dates)

	level := loan.CarryingAmount / float64(n)
	annuity := AnnuityPayment(loan.CarryingAmount, rate/float64(ppy), n)

	anniversary := time.Month(0)
	if loan.AcctStartDate != nil && loan.ManagementFeeAmount != nil {
		anniversary = loan.AcctStartDate.Month()
	}
	feeCharged := make(map[int]bool)

	balance := loan.CarryingAmount
	flows := make([]contracts.ExpectedCashflow, n)
	for i, d := range dates {
		days := periodDays
		if i > 0 && i == n-1 {
			days = int(d.Sub(dates[i-1]).Hours() / 24)
		}

		interest := periodInterest(loan.InterestMethod, balance, rate, days, basis, ppy)

		var principal float64
		last := i == n-1
		switch repayment {
		case RepaymentBullet:
			if last {
				principal = balance
			}
		case RepaymentAmortized:
			principal = level
			if last {
				principal = balance
			}
		case RepaymentAnnuity:
			principal = math.Max(annuity-interest, 0)
			if last || principal > balance {
				principal = balance
			}
		}

		interest *= 1 - tax

		fee := 0.0
		if anniversary != 0 && d.Month() == anniversary && !feeCharged[d.Year()] {
			fee = *loan.ManagementFeeAmount
			feeCharged[d.Year()] = true
		}

		balance -= principal
		flows[i] = contracts.ExpectedCashflow{
			FicMisDate:    loan.FicMisDate,
			AccountNumber: loan.AccountNumber,
			Bucket:        i + 1,
			CashflowDate:  d,
			Principal:     principal,
			Interest:      interest,
			ManagementFee: fee,
			Amount:        principal + interest + fee,
			Balance:       math.Max(balance, 0),
			CurrencyCode:  loan.CurrencyCode,
		}
	}
	return flows, nil
}

// periodInterest: SIMPLE = bal×rate×days/basis, AMORTIZED = bal×rate/ppy, anything else falls back to simple
func periodInterest(method string, balance, rate float64, days, basis, ppy int) float64 {
	if strings.ToUpper(strings.TrimSpace(method)) == InterestAmortized && ppy > 0 {
		return balance * rate / float64(ppy)
	}
	return balance * rate * float64(days) / float64(basis)
}
