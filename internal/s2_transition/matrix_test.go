package s2_transition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
	"github.com/wonny/ifrs9-ecl/internal/refdata"
	"github.com/wonny/ifrs9-ecl/internal/testkit"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

var reportDate = testkit.Date(2024, 5, 31)

// cohort: 100 accounts migrating 0 → 0 → 30 → 60 → 90 DPD over five month-ends
func cohortObservations(segment int) []contracts.Observation {
	path := []string{"0 DPD", "0 DPD", "1-30 DPD", "31-60 DPD", "90+ DPD"}
	var obs []contracts.Observation
	for m, code := range path {
		date := testkit.Date(2024, time.Month(m+2), 1).AddDate(0, 0, -1)
		for i := 0; i < 100; i++ {
			obs = append(obs, contracts.Observation{
				AccountNumber: fmt.Sprintf("A%03d", i),
				SegmentKey:    segment,
				FicMisDate:    date,
				BasisCode:     code,
			})
		}
	}
	return obs
}

func monthlyBasis(t *testing.T) Basis {
	b, err := NewDelinquencyBasis(testkit.MonthlyBands(), contracts.UnitMonth)
	require.NoError(t, err)
	return b
}

func TestBasis_Order(t *testing.T) {
	b := monthlyBasis(t)
	assert.Equal(t, "0 DPD", b.Order()[0])
	assert.Equal(t, "90+ DPD", b.DefaultValue())
	assert.Equal(t, "delq_band_code", b.Column())

	r, err := NewRatingBasis([]contracts.RatingGrade{
		{Code: "D", Rank: 0, IsDefault: true},
		{Code: "BBB", Rank: 3},
		{Code: "AAA", Rank: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB", "D"}, r.Order())
	assert.Equal(t, "D", r.DefaultValue())
	assert.Equal(t, contracts.BasisRating, r.Kind())

	_, err = NewDelinquencyBasis(testkit.MonthlyBands(), contracts.UnitQuarter)
	assert.True(t, errors.Is(err, contracts.ErrReferenceMissing))
}

func TestTransitionProbability(t *testing.T) {
	assert.Equal(t, 0.0, TransitionProbability(0, 0))
	assert.Equal(t, 1.0, TransitionProbability(100, 100))
	assert.Equal(t, 0.25, TransitionProbability(4, 1))
}

func TestPeriodize_LatestObservationWins(t *testing.T) {
	obs := []contracts.Observation{
		{AccountNumber: "A", FicMisDate: testkit.Date(2024, 1, 15), BasisCode: "0 DPD"},
		{AccountNumber: "A", FicMisDate: testkit.Date(2024, 1, 31), BasisCode: "1-30 DPD"},
		{AccountNumber: "A", FicMisDate: testkit.Date(2024, 2, 29), BasisCode: "31-60 DPD"},
	}

	periods, snaps := Periodize(obs, contracts.UnitMonth)
	require.Len(t, periods, 2)
	assert.Equal(t, testkit.Date(2024, 1, 1), periods[0])
	assert.Equal(t, "1-30 DPD", snaps[periods[0]]["A"])
}

func TestTransitions_OnlyAccountsInBothPeriods(t *testing.T) {
	basis := monthlyBasis(t)
	jan, feb := testkit.Date(2024, 1, 1), testkit.Date(2024, 2, 1)
	snaps := map[time.Time]Snapshot{
		jan: {"A": "0 DPD", "B": "0 DPD", "CLOSED": "0 DPD"},
		feb: {"A": "1-30 DPD", "B": "0 DPD", "NEW": "1-30 DPD"},
	}

	rows := Transitions(reportDate, "G", basis, []time.Time{jan, feb}, snaps)
	require.Len(t, rows, 4)

	first := rows[0]
	assert.Equal(t, "0 DPD", first.FromCode)
	assert.Equal(t, "1-30 DPD", first.ToCode)
	assert.Equal(t, 2, first.CountFrom)
	assert.Equal(t, 1, first.CountTo)
	assert.Equal(t, feb, first.TransitionDate)
	assert.InDelta(t, 0.5, first.Probability, 1e-6)

	for _, r := range rows[1:] {
		assert.Equal(t, 0, r.CountFrom)
		assert.Equal(t, 0.0, r.Probability)
	}
}

func TestBuildGroup_CohortScenario(t *testing.T) {
	basis := monthlyBasis(t)
	group := refdata.Group{Key: "RETAIL", Segments: []int{1, 2}}

	res, err := BuildGroup(reportDate, group, basis, contracts.UnitMonth, cohortObservations(1))
	require.NoError(t, err)

	// 4 transition dates × 4 adjacent pairs
	require.Len(t, res.Transitions, 16)
	for _, tr := range res.Transitions {
		assert.GreaterOrEqual(t, tr.Probability, 0.0)
		assert.LessOrEqual(t, tr.Probability, 1.0)
		if tr.CountFrom == 0 {
			assert.Equal(t, 0.0, tr.Probability)
		}
	}

	byDate := make(map[time.Time][]contracts.CumulativePDRow)
	for _, c := range res.Cumulative {
		byDate[c.TransitionDate] = append(byDate[c.TransitionDate], c)
	}
	require.Len(t, byDate, 4)
	for _, rows := range byDate {
		require.Len(t, rows, 5)
		assert.Equal(t, "90+ DPD", rows[4].BasisCode)
		assert.Equal(t, 1.0, rows[4].CumulativePD)
		for i := 1; i < len(rows); i++ {
			assert.LessOrEqual(t, rows[i-1].CumulativePD, rows[i].CumulativePD)
		}
		// 61-89 is never entered: floored probability
		assert.Equal(t, MinTransitionProb, rows[3].CumulativePD)
	}

	var groupRow *contracts.AnnualPDRow
	for i := range res.Annual {
		a := res.Annual[i]
		if a.SegmentKey == nil && a.BasisCode == "61-89 DPD" {
			groupRow = &res.Annual[i]
		}
	}
	require.NotNil(t, groupRow)
	want := 1 - math.Pow(1-groupRow.AvgCumulativePD, 12)
	assert.InDelta(t, want, groupRow.AnnualPD, 1e-6)

	// group row + 2 segments per code, details per segment
	assert.Len(t, res.Annual, 5*3)
	assert.Len(t, res.Details, 5*2)
	for _, d := range res.Details {
		assert.Contains(t, []int{1, 2}, d.TermStructureID)
	}
}

func TestAnnualPDFromCumulative_YearlyRoundTrip(t *testing.T) {
	for _, x := range []float64{0, 0.000123, 0.1, 0.333333333, 0.999999, 1} {
		assert.Equal(t, x, AnnualPDFromCumulative(x, 1))
	}
	assert.InDelta(t, 1-math.Pow(0.99, 4), AnnualPDFromCumulative(0.01, 4), 1e-15)
}

type memoryStore struct {
	mu      sync.Mutex
	obs     []contracts.Observation
	deleted int
	result  GroupResult
}

func (m *memoryStore) Observations(_ context.Context, from, to time.Time, basis Basis) ([]contracts.Observation, error) {
	var out []contracts.Observation
	for _, o := range m.obs {
		if !o.FicMisDate.Before(from) && !o.FicMisDate.After(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memoryStore) HistoryDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	seen := make(map[time.Time]bool)
	var dates []time.Time
	obs, _ := m.Observations(ctx, from, to, nil)
	for _, o := range obs {
		if !seen[o.FicMisDate] {
			seen[o.FicMisDate] = true
			dates = append(dates, o.FicMisDate)
		}
	}
	return dates, nil
}

func (m *memoryStore) DeleteResults(context.Context, time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted++
	m.result = GroupResult{}
	return nil
}

func (m *memoryStore) InsertTransitions(_ context.Context, rows []contracts.TransitionRow) error {
	m.result.Transitions = append(m.result.Transitions, rows...)
	return nil
}

func (m *memoryStore) InsertCumulative(_ context.Context, rows []contracts.CumulativePDRow) error {
	m.result.Cumulative = append(m.result.Cumulative, rows...)
	return nil
}

func (m *memoryStore) InsertAnnual(_ context.Context, rows []contracts.AnnualPDRow) error {
	m.result.Annual = append(m.result.Annual, rows...)
	return nil
}

func (m *memoryStore) InsertDetails(_ context.Context, rows []contracts.PDTermStructureDetail) error {
	m.result.Details = append(m.result.Details, rows...)
	return nil
}

func builderReference() *testkit.Reference {
	return &testkit.Reference{
		SegmentList: []contracts.Segment{
			{Key: 1, ProductSegment: "RETAIL", ProductType: "PERSONAL"},
			{Key: 2, ProductSegment: "RETAIL", ProductType: "AUTO"},
			{Key: 3, ProductSegment: "SME", ProductType: "TERM"},
		},
		CombinedSegment: map[string][]int{"RETAIL": {1, 2}},
		TermStructures: map[int]contracts.PDTermStructure{
			1: {ID: 1, BasisKind: contracts.BasisDelinquency, FrequencyUnit: contracts.UnitMonth},
			2: {ID: 2, BasisKind: contracts.BasisDelinquency, FrequencyUnit: contracts.UnitMonth},
		},
		Bands: testkit.MonthlyBands(),
	}
}

func TestBuilder_Run(t *testing.T) {
	store := &memoryStore{obs: cohortObservations(2)}
	sink := &testkit.Recorder{}
	b := NewBuilder(store, builderReference(), eclconfig.Static{Config: eclconfig.Defaults()},
		batch.Options{Workers: 2, ChunkSize: 7}, logger.Nop(), sink)

	res, err := b.Run(context.Background(), contracts.RunContext{Date: reportDate})
	require.NoError(t, err)

	// segment 3 has no term structure
	assert.Equal(t, 1, res.Warnings)
	assert.True(t, sink.Contains("no pd term structure for segment 3"))

	assert.Equal(t, 1, store.deleted)
	assert.Len(t, store.result.Transitions, 16)
	assert.Len(t, store.result.Details, 10)
	assert.Equal(t, 16+20+15+10, res.RowsAffected)

	// rerun replaces rather than appends
	_, err = b.Run(context.Background(), contracts.RunContext{Date: reportDate})
	require.NoError(t, err)
	assert.Len(t, store.result.Transitions, 16)
}

func TestBuilder_NoHistory(t *testing.T) {
	b := NewBuilder(&memoryStore{}, builderReference(), eclconfig.Static{Config: eclconfig.Defaults()},
		batch.DefaultOptions(), logger.Nop(), &testkit.Recorder{})

	_, err := b.Run(context.Background(), contracts.RunContext{Date: reportDate})
	assert.True(t, errors.Is(err, contracts.ErrNoHistory))
}
