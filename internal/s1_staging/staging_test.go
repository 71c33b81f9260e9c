package s1_staging

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/ifrs9-ecl/internal/batch"
	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/internal/eclconfig"
	"github.com/wonny/ifrs9-ecl/internal/testkit"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// memoryStore keeps stage rows keyed by (date, account)
type memoryStore struct {
	mu          sync.Mutex
	instruments []contracts.Instrument
	rows        map[string]contracts.StageRecord
}

func newMemoryStore(instruments ...contracts.Instrument) *memoryStore {
	return &memoryStore{instruments: instruments, rows: make(map[string]contracts.StageRecord)}
}

func rowKey(date time.Time, account string) string {
	return contracts.DateKey(date) + "|" + account
}

func (m *memoryStore) LoadInstruments(_ context.Context, date time.Time) ([]contracts.Instrument, error) {
	var out []contracts.Instrument
	for _, i := range m.instruments {
		if i.FicMisDate.Equal(date) {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *memoryStore) LoadStageRecords(_ context.Context, date time.Time) ([]contracts.StageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.StageRecord
	for _, r := range m.rows {
		if r.FicMisDate.Equal(date) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountNumber < out[j].AccountNumber })
	return out, nil
}

func (m *memoryStore) PreviousStates(_ context.Context, date time.Time) (map[string]PrevState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]PrevState)
	for _, r := range m.rows {
		if !r.FicMisDate.Before(date) {
			continue
		}
		if p, ok := out[r.AccountNumber]; ok && p.Date.After(r.FicMisDate) {
			continue
		}
		out[r.AccountNumber] = PrevState{
			Date: r.FicMisDate, Stage: r.Stage, InCoolingPeriod: r.InCoolingPeriod,
			CoolingStartDate: r.CoolingStartDate, CoolingDuration: r.CoolingDuration, TargetStage: r.TargetStage,
		}
	}
	return out, nil
}

func (m *memoryStore) DeleteStageRecords(_ context.Context, date time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, r := range m.rows {
		if r.FicMisDate.Equal(date) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) InsertStageRecords(_ context.Context, records []contracts.StageRecord) error {
	return m.put(records)
}

func (m *memoryStore) UpdateEnrichment(_ context.Context, records []contracts.StageRecord) error {
	return m.put(records)
}

func (m *memoryStore) UpdateStaging(_ context.Context, records []contracts.StageRecord) error {
	return m.put(records)
}

func (m *memoryStore) put(records []contracts.StageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.rows[rowKey(r.FicMisDate, r.AccountNumber)] = r
	}
	return nil
}

func (m *memoryStore) get(date time.Time, account string) contracts.StageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[rowKey(date, account)]
}

var (
	june = testkit.Date(2024, 6, 30)
	july = testkit.Date(2024, 7, 31)
)

func loan(date time.Time, account string) contracts.Instrument {
	return contracts.Instrument{
		FicMisDate:     date,
		AccountNumber:  account,
		CustomerRef:    "C1",
		ProductCode:    "PL01",
		CurrencyCode:   "USD",
		CarryingAmount: 10000,
		AmortTermUnit:  contracts.UnitMonth,
		RepaymentType:  "AMORTIZED",
	}
}

func testOpts() batch.Options {
	return batch.Options{Workers: 4, ChunkSize: 2}
}

func TestSeeder_ReplacesRowsForDate(t *testing.T) {
	matured := testkit.Date(2024, 5, 1)
	dead := loan(june, "A3")
	dead.MaturityDate = &matured

	store := newMemoryStore(loan(june, "A1"), loan(june, "A2"), dead)
	store.rows[rowKey(june, "OLD")] = contracts.StageRecord{Instrument: loan(june, "OLD"), Stage: 3}

	sink := &testkit.Recorder{}
	s := NewSeeder(store, testOpts(), logger.Nop(), sink)

	res, err := s.Run(context.Background(), contracts.RunContext{Date: june})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsAffected)

	rows, _ := store.LoadStageRecords(context.Background(), june)
	require.Len(t, rows, 2)
	assert.Equal(t, "A1", rows[0].AccountNumber)
	assert.Equal(t, 1, rows[0].Stage)
	assert.Equal(t, 1, sink.Count(contracts.LevelInfo))
}

func TestSeeder_NoInstruments(t *testing.T) {
	s := NewSeeder(newMemoryStore(), testOpts(), logger.Nop(), &testkit.Recorder{})

	_, err := s.Run(context.Background(), contracts.RunContext{Date: june})
	assert.True(t, errors.Is(err, contracts.ErrNoInstruments))
}

func enrichReference() *testkit.Reference {
	return &testkit.Reference{
		ProductMap: map[string]contracts.Product{
			"PL01": {Code: "PL01", Segment: "RETAIL", Type: "PERSONAL", Desc: "Personal loan"},
		},
		SegmentList: []contracts.Segment{{Key: 7, ProductSegment: "RETAIL", ProductType: "PERSONAL"}},
		CustomerMap: map[string]contracts.Customer{"C1": {Ref: "C1", PartnerName: "Acme", PartnerType: "CORP"}},
		Collateral:  map[string]float64{"C1": 2500},
		Bands:       testkit.MonthlyBands(),
		Ratings:     map[string]string{"C1": "BB"},
		TermStructures: map[int]contracts.PDTermStructure{
			7: {ID: 7, Name: "Retail PL", Description: "Retail personal", BasisKind: contracts.BasisDelinquency, FrequencyUnit: contracts.UnitMonth},
		},
	}
}

func TestEnrichRecord(t *testing.T) {
	refs, err := LoadReferences(context.Background(), enrichReference(), june)
	require.NoError(t, err)

	inst := loan(june, "A1")
	inst.DelinquentDays = contracts.Int(45)
	inst.InterestRate = contracts.Float(0.12)
	inst.OrigCreditScore = contracts.Int(700)
	inst.CurrCreditScore = contracts.Int(690)

	warns := newWarnOnce(logger.Nop(), &testkit.Recorder{})
	rec := EnrichRecord(contracts.NewStageRecord(inst), refs, warns)

	assert.Equal(t, "RETAIL", rec.ProductSegment)
	require.NotNil(t, rec.SegmentKey)
	assert.Equal(t, 7, *rec.SegmentKey)
	assert.Equal(t, 7, *rec.PDTermStructureID)
	assert.Equal(t, "Retail PL", rec.PDTermStructureName)
	assert.Equal(t, 2500.0, *rec.CollateralAmount)
	assert.Equal(t, "31-60 DPD", rec.DelqBandCode)
	assert.Equal(t, "Acme", rec.PartnerName)
	assert.Equal(t, "BB", *rec.CreditRating)
	assert.Equal(t, 10, *rec.RatingMovement)
	assert.InDelta(t, 0.126825, *rec.EffectiveInterestRate, 1e-6)
	assert.Equal(t, 10000.0, *rec.EAD)
	assert.Equal(t, 0, warns.Count())
}

func TestEnrichRecord_KeepsExistingValues(t *testing.T) {
	refs, err := LoadReferences(context.Background(), enrichReference(), june)
	require.NoError(t, err)

	inst := loan(june, "A1")
	inst.CollateralAmount = contracts.Float(900)
	inst.EffectiveInterestRate = contracts.Float(0.05)
	rating := "AA"
	inst.CreditRating = &rating

	rec := EnrichRecord(contracts.NewStageRecord(inst), refs, newWarnOnce(logger.Nop(), &testkit.Recorder{}))

	assert.Equal(t, 900.0, *rec.CollateralAmount)
	assert.Equal(t, 0.05, *rec.EffectiveInterestRate)
	assert.Equal(t, "AA", *rec.CreditRating)
}

func TestEnricher_WarnsOncePerMissingReference(t *testing.T) {
	store := newMemoryStore()
	for _, acct := range []string{"A1", "A2", "A3"} {
		inst := loan(june, acct)
		inst.ProductCode = "UNKNOWN"
		require.NoError(t, store.put([]contracts.StageRecord{contracts.NewStageRecord(inst)}))
	}

	sink := &testkit.Recorder{}
	e := NewEnricher(store, enrichReference(), testOpts(), logger.Nop(), sink)

	res, err := e.Run(context.Background(), contracts.RunContext{Date: june})
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowsAffected)
	assert.Equal(t, 1, res.Warnings)
	assert.Equal(t, 1, sink.Count(contracts.LevelWarning))
	assert.Nil(t, store.get(june, "A1").SegmentKey)
}

func TestEffectiveRate(t *testing.T) {
	eir, err := EffectiveRate(0.12, contracts.UnitYear)
	require.NoError(t, err)
	assert.InDelta(t, 0.12, eir, 1e-12)

	eir, err = EffectiveRate(0.12, contracts.UnitQuarter)
	require.NoError(t, err)
	assert.InDelta(t, 0.125509, eir, 1e-6)

	_, err = EffectiveRate(0.12, contracts.TermUnit("X"))
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	rules := eclconfig.Defaults().Staging
	defaults := map[string]bool{"D": true}
	rating := func(s string) *string { return &s }

	tests := []struct {
		name string
		rec  contracts.StageRecord
		want int
	}{
		{"current", contracts.StageRecord{}, 1},
		{"29 dpd", contracts.StageRecord{Instrument: contracts.Instrument{DelinquentDays: contracts.Int(29)}}, 1},
		{"30 dpd", contracts.StageRecord{Instrument: contracts.Instrument{DelinquentDays: contracts.Int(30)}}, 2},
		{"89 dpd", contracts.StageRecord{Instrument: contracts.Instrument{DelinquentDays: contracts.Int(89)}}, 2},
		{"90 dpd", contracts.StageRecord{Instrument: contracts.Instrument{DelinquentDays: contracts.Int(90)}}, 3},
		{"default rating", contracts.StageRecord{Instrument: contracts.Instrument{CreditRating: rating("D")}}, 3},
		{"score dropped 3", contracts.StageRecord{RatingMovement: contracts.Int(3)}, 2},
		{"score dropped 2", contracts.StageRecord{RatingMovement: contracts.Int(2)}, 1},
		{"score improved", contracts.StageRecord{RatingMovement: contracts.Int(-5)}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(&tt.rec, rules, defaults))
		})
	}
}

func TestClassifier_SetsPreviousStage(t *testing.T) {
	store := newMemoryStore()
	prev := contracts.NewStageRecord(loan(june, "A1"))
	prev.Stage = 2
	cur := contracts.NewStageRecord(loan(july, "A1"))
	cur.DelinquentDays = contracts.Int(95)
	fresh := contracts.NewStageRecord(loan(july, "A2"))
	require.NoError(t, store.put([]contracts.StageRecord{prev, cur, fresh}))

	c := NewClassifier(store, &testkit.Reference{}, eclconfig.Static{Config: eclconfig.Defaults()}, testOpts(), logger.Nop(), &testkit.Recorder{})

	res, err := c.Run(context.Background(), contracts.RunContext{Date: july})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsAffected)

	a1 := store.get(july, "A1")
	assert.Equal(t, 3, a1.Stage)
	require.NotNil(t, a1.PrevStage)
	assert.Equal(t, 2, *a1.PrevStage)
	assert.Nil(t, store.get(july, "A2").PrevStage)
}

func TestEvaluateCooling(t *testing.T) {
	periods := map[contracts.TermUnit]int{contracts.UnitMonth: 90}
	base := contracts.NewStageRecord(loan(july, "A1"))

	t.Run("no history", func(t *testing.T) {
		rec := base
		rec.Stage = 2
		out, outcome, err := EvaluateCooling(rec, nil, periods, july)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoHistory, outcome)
		assert.Equal(t, 2, out.Stage)
	})

	t.Run("deterioration is immediate", func(t *testing.T) {
		rec := base
		rec.Stage = 3
		out, outcome, err := EvaluateCooling(rec, &PrevState{Stage: 1}, periods, july)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNormal, outcome)
		assert.Equal(t, 3, out.Stage)
		assert.False(t, out.InCoolingPeriod)
	})

	t.Run("improvement enters cooling", func(t *testing.T) {
		rec := base
		rec.Stage = 1
		out, outcome, err := EvaluateCooling(rec, &PrevState{Stage: 2}, periods, july)
		require.NoError(t, err)
		assert.Equal(t, OutcomeEnter, outcome)
		assert.Equal(t, 2, out.Stage)
		assert.True(t, out.InCoolingPeriod)
		assert.Equal(t, july, *out.CoolingStartDate)
		assert.Equal(t, 90, *out.CoolingDuration)
		assert.Equal(t, 1, *out.TargetStage)
	})

	t.Run("persists while period runs", func(t *testing.T) {
		start := july.AddDate(0, 0, -30)
		rec := base
		rec.Stage = 1
		prev := &PrevState{Stage: 2, InCoolingPeriod: true, CoolingStartDate: &start, CoolingDuration: contracts.Int(90), TargetStage: contracts.Int(1)}
		out, outcome, err := EvaluateCooling(rec, prev, periods, july)
		require.NoError(t, err)
		assert.Equal(t, OutcomePersist, outcome)
		assert.Equal(t, 2, out.Stage)
		assert.Equal(t, start, *out.CoolingStartDate)
	})

	t.Run("confirms after period", func(t *testing.T) {
		start := july.AddDate(0, 0, -90)
		rec := base
		rec.Stage = 1
		prev := &PrevState{Stage: 2, InCoolingPeriod: true, CoolingStartDate: &start, CoolingDuration: contracts.Int(90), TargetStage: contracts.Int(1)}
		out, outcome, err := EvaluateCooling(rec, prev, periods, july)
		require.NoError(t, err)
		assert.Equal(t, OutcomeConfirm, outcome)
		assert.Equal(t, 1, out.Stage)
		assert.False(t, out.InCoolingPeriod)
		assert.Nil(t, out.TargetStage)
	})

	t.Run("missing cooling period", func(t *testing.T) {
		rec := base
		rec.AmortTermUnit = contracts.UnitQuarter
		_, _, err := EvaluateCooling(rec, &PrevState{Stage: 2}, periods, july)
		assert.True(t, errors.Is(err, contracts.ErrReferenceMissing))
	})
}

func TestEvaluateCooling_IsIdempotent(t *testing.T) {
	periods := map[contracts.TermUnit]int{contracts.UnitMonth: 90}
	rec := contracts.NewStageRecord(loan(july, "A1"))
	rec.Stage = 1
	prev := &PrevState{Stage: 3}

	first, _, err := EvaluateCooling(rec, prev, periods, july)
	require.NoError(t, err)
	second, _, err := EvaluateCooling(first, prev, periods, july)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCoolingEngine_Run(t *testing.T) {
	store := newMemoryStore()

	prev := contracts.NewStageRecord(loan(june, "A1"))
	prev.Stage = 2
	improved := contracts.NewStageRecord(loan(july, "A1"))
	improved.Stage = 1

	quarterly := contracts.NewStageRecord(loan(july, "A2"))
	quarterly.AmortTermUnit = contracts.UnitQuarter
	quarterlyPrev := quarterly
	quarterlyPrev.FicMisDate = june
	quarterlyPrev.Stage = 3
	quarterly.Stage = 1

	require.NoError(t, store.put([]contracts.StageRecord{prev, improved, quarterlyPrev, quarterly}))

	ref := &testkit.Reference{Cooling: map[contracts.TermUnit]int{contracts.UnitMonth: 90}}
	sink := &testkit.Recorder{}
	c := NewCoolingEngine(store, ref, testOpts(), logger.Nop(), sink)

	res, err := c.Run(context.Background(), contracts.RunContext{Date: july})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsAffected)
	assert.Equal(t, 1, res.Warnings)

	a1 := store.get(july, "A1")
	assert.Equal(t, 2, a1.Stage)
	assert.True(t, a1.InCoolingPeriod)

	// untouched: no cooling period configured for Q
	assert.Equal(t, 1, store.get(july, "A2").Stage)
	assert.True(t, sink.Contains("cooling skipped for A2"))

	// second run is a no-op
	_, err = c.Run(context.Background(), contracts.RunContext{Date: july})
	require.NoError(t, err)
	assert.Equal(t, a1, store.get(july, "A1"))
}
