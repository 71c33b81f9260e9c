package s2_transition

import (
	"math"
	"sort"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/refdata"
	"github.com/wonny/ifrs9-ecl/internal/risk"
)

const (
	// Epsilon keeps count_to / (count_from + ε) finite
	Epsilon = 1e-6
	// MinTransitionProb replaces zero probabilities in the cumulative recursion
	MinTransitionProb = 0.001
)

// Snapshot maps account → basis code for one period
type Snapshot map[string]string

// Periodize groups observations by period (reporting date truncated to unit).
// The latest observation within a period represents the account.
func Periodize(obs []contracts.Observation, unit contracts.TermUnit) ([]time.Time, map[time.Time]Snapshot) {
	type latest struct {
		date time.Time
		code string
	}
	byPeriod := make(map[time.Time]map[string]latest)

	for _, o := range obs {
		p := unit.Truncate(o.FicMisDate)
		accounts, ok := byPeriod[p]
		if !ok {
			accounts = make(map[string]latest)
			byPeriod[p] = accounts
		}
		if cur, seen := accounts[o.AccountNumber]; seen && !o.FicMisDate.After(cur.date) {
			continue
		}
		accounts[o.AccountNumber] = latest{date: o.FicMisDate, code: o.BasisCode}
	}

	periods := make([]time.Time, 0, len(byPeriod))
	snapshots := make(map[time.Time]Snapshot, len(byPeriod))
	for p, accounts := range byPeriod {
		periods = append(periods, p)
		snap := make(Snapshot, len(accounts))
		for acct, l := range accounts {
			snap[acct] = l.code
		}
		snapshots[p] = snap
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })

	return periods, snapshots
}

// TransitionProbability returns count_to / (count_from + ε), 0 when count_from is 0
func TransitionProbability(countFrom, countTo int) float64 {
	if countFrom == 0 {
		return 0.0
	}
	p := risk.Round6(float64(countTo) / (float64(countFrom) + Epsilon))
	return math.Max(0, math.Min(1, p))
}

// Transitions counts adjacent-code migrations between consecutive periods.
// Only accounts present in both periods are counted. The transition date is the later period.
func Transitions(date time.Time, groupKey string, basis Basis, periods []time.Time, snapshots map[time.Time]Snapshot) []contracts.TransitionRow {
	order := basis.Order()
	var rows []contracts.TransitionRow

	for k := 0; k+1 < len(periods); k++ {
		before, after := snapshots[periods[k]], snapshots[periods[k+1]]

		countFrom := make(map[string]int)
		countTo := make(map[string]int)
		for acct, from := range before {
			to, ok := after[acct]
			if !ok {
				continue
			}
			countFrom[from]++
			countTo[from+"\x00"+to]++
		}

		for i := 0; i+1 < len(order); i++ {
			from, to := order[i], order[i+1]
			cf, ct := countFrom[from], countTo[from+"\x00"+to]
			rows = append(rows, contracts.TransitionRow{
				FicMisDate:     date,
				GroupKey:       groupKey,
				BasisKind:      basis.Kind(),
				FromCode:       from,
				ToCode:         to,
				TransitionDate: periods[k+1],
				CountFrom:      cf,
				CountTo:        ct,
				Probability:    TransitionProbability(cf, ct),
			})
		}
	}
	return rows
}

// CumulativePD runs the backward recursion per transition date:
// cum[worst] = 1, cum[i] = max(p(i→i+1), MIN) × cum[i+1]
func CumulativePD(date time.Time, groupKey string, basis Basis, transitions []contracts.TransitionRow) []contracts.CumulativePDRow {
	probs := make(map[time.Time]map[string]float64)
	for _, t := range transitions {
		m, ok := probs[t.TransitionDate]
		if !ok {
			m = make(map[string]float64)
			probs[t.TransitionDate] = m
		}
		m[t.FromCode] = t.Probability
	}

	dates := make([]time.Time, 0, len(probs))
	for d := range probs {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	order := basis.Order()
	var rows []contracts.CumulativePDRow
	for _, d := range dates {
		cum := make([]float64, len(order))
		cum[len(order)-1] = 1.0
		for i := len(order) - 2; i >= 0; i-- {
			p := probs[d][order[i]]
			if p <= 0 {
				p = MinTransitionProb
			}
			cum[i] = risk.Round6(p * cum[i+1])
		}

		for i, code := range order {
			rows = append(rows, contracts.CumulativePDRow{
				FicMisDate:     date,
				GroupKey:       groupKey,
				BasisKind:      basis.Kind(),
				TransitionDate: d,
				BasisCode:      code,
				CumulativePD:   cum[i],
			})
		}
	}
	return rows
}

// AnnualPDFromCumulative returns 1 − (1 − cum)^periodsPerYear
func AnnualPDFromCumulative(cum float64, periodsPerYear int) float64 {
	if periodsPerYear == 1 {
		return cum
	}
	return 1 - math.Pow(1-cum, float64(periodsPerYear))
}

// Annualize averages cumulative PD per code across transition dates and fans the
// result out to the group row and every member segment
func Annualize(date time.Time, group refdata.Group, basis Basis, cumulative []contracts.CumulativePDRow, periodsPerYear int) ([]contracts.AnnualPDRow, []contracts.PDTermStructureDetail) {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, c := range cumulative {
		sums[c.BasisCode] += c.CumulativePD
		counts[c.BasisCode]++
	}

	var annual []contracts.AnnualPDRow
	var details []contracts.PDTermStructureDetail
	for _, code := range basis.Order() {
		n := counts[code]
		if n == 0 {
			continue
		}
		avg := sums[code] / float64(n)
		pd := risk.Round6(AnnualPDFromCumulative(avg, periodsPerYear))
		avg = risk.Round6(avg)

		annual = append(annual, contracts.AnnualPDRow{
			FicMisDate:      date,
			GroupKey:        group.Key,
			BasisKind:       basis.Kind(),
			BasisCode:       code,
			AvgCumulativePD: avg,
			AnnualPD:        pd,
		})

		for _, seg := range group.Segments {
			seg := seg
			annual = append(annual, contracts.AnnualPDRow{
				FicMisDate:      date,
				GroupKey:        group.Key,
				SegmentKey:      &seg,
				BasisKind:       basis.Kind(),
				BasisCode:       code,
				AvgCumulativePD: avg,
				AnnualPD:        pd,
			})
			details = append(details, contracts.PDTermStructureDetail{
				TermStructureID: seg,
				BasisCode:       code,
				FicMisDate:      date,
				PD:              pd,
			})
		}
	}
	return annual, details
}

// GroupResult holds every row produced for one group
type GroupResult struct {
	Transitions []contracts.TransitionRow
	Cumulative  []contracts.CumulativePDRow
	Annual      []contracts.AnnualPDRow
	Details     []contracts.PDTermStructureDetail
}

// BuildGroup runs the whole transition pipeline for one group
func BuildGroup(date time.Time, group refdata.Group, basis Basis, unit contracts.TermUnit, obs []contracts.Observation) (GroupResult, error) {
	ppy, err := unit.PeriodsPerYear()
	if err != nil {
		return GroupResult{}, err
	}

	periods, snapshots := Periodize(obs, unit)
	transitions := Transitions(date, group.Key, basis, periods, snapshots)
	cumulative := CumulativePD(date, group.Key, basis, transitions)
	annual, details := Annualize(date, group, basis, cumulative, ppy)

	return GroupResult{
		Transitions: transitions,
		Cumulative:  cumulative,
		Annual:      annual,
		Details:     details,
	}, nil
}
