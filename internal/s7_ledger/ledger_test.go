package s7_ledger

import (
	"context"
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

var reportDate = testkit.Date(2024, 6, 30)

func ledger(amounts ...float64) []contracts.LedgerRow {
	rows := make([]contracts.LedgerRow, len(amounts))
	for i, a := range amounts {
		rows[i] = contracts.LedgerRow{
			FicMisDate:     reportDate,
			AccountNumber:  "A",
			Bucket:         i + 1,
			CashFlowAmount: a,
			AmortTermUnit:  contracts.UnitMonth,
		}
	}
	return rows
}

func curve(cums ...float64) Curve {
	c := make(Curve, len(cums))
	for i, v := range cums {
		c[i] = contracts.InterpolatedPDRow{Bucket: i + 1, CumulativePD: v}
	}
	return c
}

func TestParseStep(t *testing.T) {
	step, err := ParseStep("expected_cf")
	require.NoError(t, err)
	assert.Equal(t, StepExpectedCF, step)

	_, err = ParseStep("bogus")
	assert.Error(t, err)
	assert.Equal(t, StepInsert, AllSteps()[0])
}

func TestInsert_SortsByBucket(t *testing.T) {
	flows := []contracts.ExpectedCashflow{
		{AccountNumber: "A", Bucket: 2, Amount: 20},
		{AccountNumber: "A", Bucket: 1, Amount: 10},
	}
	rows := Insert(flows, 7, contracts.UnitQuarter)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Bucket)
	assert.Equal(t, 10.0, rows[0].CashFlowAmount)
	assert.Equal(t, int64(7), rows[1].RunKey)
	assert.Equal(t, contracts.UnitQuarter, rows[1].AmortTermUnit)
}

func TestDiscountFactor(t *testing.T) {
	for bucket := 1; bucket <= 24; bucket++ {
		assert.Equal(t, 1.0, DiscountFactor(0, bucket, 12))
	}
	assert.InDelta(t, 1/1.12, DiscountFactor(0.12, 12, 12), 1e-12)
	assert.InDelta(t, 1/(1.12*1.12), DiscountFactor(0.12, 8, 4), 1e-12)
}

func TestDiscount(t *testing.T) {
	t.Run("eir preferred over discount rate", func(t *testing.T) {
		rows := ledger(100, 100)
		loan := contracts.StageRecord{}
		loan.EffectiveInterestRate = contracts.Float(0.12)
		loan.DiscountRate = contracts.Float(0.05)

		require.NoError(t, Discount(rows, loan))
		assert.Equal(t, 0.12, *rows[0].DiscountRate)
		assert.InDelta(t, DiscountFactor(0.12, 2, 12), *rows[1].DiscountFactor, 1e-12)
	})

	t.Run("no rate leaves rows unchanged", func(t *testing.T) {
		rows := ledger(100)
		require.NoError(t, Discount(rows, contracts.StageRecord{}))
		assert.Nil(t, rows[0].DiscountFactor)
	})

	t.Run("unknown unit", func(t *testing.T) {
		rows := ledger(100)
		rows[0].AmortTermUnit = "X"
		loan := contracts.StageRecord{}
		loan.DiscountRate = contracts.Float(0.05)
		assert.Error(t, Discount(rows, loan))
	})
}

func TestCurve_At(t *testing.T) {
	c := curve(0.1, 0.2)
	p, ok := c.At(5)
	require.True(t, ok)
	assert.Equal(t, 0.2, p.CumulativePD)

	_, ok = Curve(nil).At(1)
	assert.False(t, ok)
}

func TestPropagate(t *testing.T) {
	rows := ledger(100, 100, 100)
	loan := contracts.StageRecord{LGD: contracts.Float(0.5)}
	loan.EffectiveInterestRate = contracts.Float(0.1)

	Propagate(rows, loan, curve(0.1, 0.2, 0.3), 2)

	assert.Equal(t, 0.3, *rows[2].CumulativeImpairedProb)
	// 12m pd capped at bucket min(3, 2)
	assert.Equal(t, 0.2, *rows[2].Cumulative12mPD)
	assert.InDelta(t, 0.15, *rows[2].CumulativeLossRate, 1e-12)
	assert.Equal(t, 0.1, *rows[0].EffectiveInterestRate)
	assert.Equal(t, 0.5, *rows[0].LGD)

	bare := ledger(100)
	Propagate(bare, contracts.StageRecord{}, nil, 12)
	assert.Nil(t, bare[0].CumulativeImpairedProb)
	assert.Nil(t, bare[0].CumulativeLossRate)
}

func TestMarginal(t *testing.T) {
	rows := ledger(100, 100, 100)
	Propagate(rows, contracts.StageRecord{}, curve(0.1, 0.25, 0.3), 12)
	Marginal(rows)

	want := []float64{0.1, 0.15, 0.05}
	for i, r := range rows {
		assert.InDelta(t, want[i], *r.MarginalImpairedProb, 1e-12)
		assert.InDelta(t, want[i], *r.Marginal12mPD, 1e-12)
	}
}

func TestEAD_Decreasing(t *testing.T) {
	rows := ledger(10, 10, 10, 1010)
	loan := contracts.StageRecord{}
	loan.EffectiveInterestRate = contracts.Float(0.12)
	require.NoError(t, Discount(rows, loan))

	EAD(rows)
	for i := 1; i < len(rows); i++ {
		assert.GreaterOrEqual(t, *rows[i-1].EAD, *rows[i].EAD)
	}
	assert.InDelta(t, 1010*DiscountFactor(0.12, 4, 12), *rows[3].EAD, 1e-9)

	zero := ledger(10, 20, 30)
	loan.EffectiveInterestRate = contracts.Float(0)
	require.NoError(t, Discount(zero, loan))
	EAD(zero)
	assert.InDelta(t, 60.0, *zero[0].EAD, 1e-12)
	assert.InDelta(t, 30.0, *zero[2].EAD, 1e-12)

	missing := ledger(10, 20)
	EAD(missing)
	assert.Nil(t, missing[0].EAD)
}

func TestExpectedLoss(t *testing.T) {
	rows := ledger(100)
	r := &rows[0]
	r.DiscountFactor = contracts.Float(0.9)
	r.LGD = contracts.Float(0.5)
	r.CumulativeLossRate = contracts.Float(0.1)
	r.Cumulative12mPD = contracts.Float(0.4)
	r.EAD = contracts.Float(1000)
	r.MarginalImpairedProb = contracts.Float(0.02)
	r.Marginal12mPD = contracts.Float(0.04)

	ExpectedCF(rows)
	Shortfall(rows)
	ForwardEL(rows)

	assert.InDelta(t, 0.9, *r.ExpectedCFRate, 1e-12)
	assert.InDelta(t, 90.0, *r.ExpectedCF, 1e-12)
	assert.InDelta(t, 80.0, *r.ExpectedCF12m, 1e-12)
	assert.InDelta(t, 10.0, *r.CashShortfall, 1e-12)
	assert.InDelta(t, 9.0, *r.CashShortfallPV, 1e-12)
	assert.InDelta(t, 20.0, *r.CashShortfall12m, 1e-12)
	assert.InDelta(t, 18.0, *r.CashShortfall12mPV, 1e-12)
	assert.InDelta(t, 10.0, *r.ForwardEL, 1e-12)
	assert.InDelta(t, 9.0, *r.ForwardELPV, 1e-12)
	assert.InDelta(t, 20.0, *r.ForwardEL12m, 1e-12)
	assert.InDelta(t, 18.0, *r.ForwardEL12mPV, 1e-12)
}

func TestExpectedLoss_PartialInputs(t *testing.T) {
	rows := ledger(100)
	rows[0].CumulativeLossRate = contracts.Float(0.1)

	ExpectedCF(rows)
	Shortfall(rows)
	ForwardEL(rows)

	assert.NotNil(t, rows[0].CashShortfall)
	assert.Nil(t, rows[0].CashShortfallPV)
	assert.Nil(t, rows[0].ExpectedCF12m)
	assert.Nil(t, rows[0].ForwardEL)
}

type memoryStore struct {
	mu     sync.Mutex
	flows  []contracts.ExpectedCashflow
	loans  map[string]contracts.StageRecord
	curves []contracts.InterpolatedPDRow
	ledger map[int64][]contracts.LedgerRow
}

func (m *memoryStore) Cashflows(context.Context, time.Time) ([]contracts.ExpectedCashflow, error) {
	return m.flows, nil
}

func (m *memoryStore) Loans(context.Context, time.Time) (map[string]contracts.StageRecord, error) {
	return m.loans, nil
}

func (m *memoryStore) Curves(context.Context, time.Time) ([]contracts.InterpolatedPDRow, error) {
	return m.curves, nil
}

func (m *memoryStore) LedgerRows(_ context.Context, _ time.Time, runKey int64) ([]contracts.LedgerRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]contracts.LedgerRow(nil), m.ledger[runKey]...), nil
}

func (m *memoryStore) DeleteLedger(_ context.Context, _ time.Time, runKey int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.ledger[runKey]))
	delete(m.ledger, runKey)
	return n, nil
}

func (m *memoryStore) InsertLedger(_ context.Context, rows []contracts.LedgerRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.ledger[r.RunKey] = append(m.ledger[r.RunKey], r)
	}
	return nil
}

func (m *memoryStore) UpdateLedger(_ context.Context, rows []contracts.LedgerRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		stored := m.ledger[r.RunKey]
		for i := range stored {
			if stored[i].AccountNumber == r.AccountNumber && stored[i].Bucket == r.Bucket {
				stored[i] = r
			}
		}
	}
	return nil
}

func flowsFor(account string, n int) []contracts.ExpectedCashflow {
	flows := make([]contracts.ExpectedCashflow, n)
	for i := range flows {
		flows[i] = contracts.ExpectedCashflow{FicMisDate: reportDate, AccountNumber: account, Bucket: i + 1, Amount: 100, CurrencyCode: "USD"}
	}
	return flows
}

func newCalculator(t *testing.T) (*Calculator, *memoryStore, *testkit.Issuer, *testkit.Recorder) {
	t.Helper()

	loanA := contracts.StageRecord{LGD: contracts.Float(0.5), PDTermStructureID: contracts.Int(1), DelqBandCode: "0 DPD"}
	loanA.AccountNumber = "A"
	loanA.AmortTermUnit = contracts.UnitMonth
	loanA.EffectiveInterestRate = contracts.Float(0.12)

	rating := "A"
	loanB := contracts.StageRecord{LGD: contracts.Float(0.4), PDTermStructureID: contracts.Int(2)}
	loanB.AccountNumber = "B"
	loanB.AmortTermUnit = contracts.UnitMonth
	loanB.DiscountRate = contracts.Float(0.05)
	loanB.CreditRating = &rating

	var flows []contracts.ExpectedCashflow
	flows = append(flows, flowsFor("A", 3)...)
	flows = append(flows, flowsFor("B", 3)...)
	flows = append(flows, flowsFor("C", 2)...)

	var curves []contracts.InterpolatedPDRow
	for i, v := range []float64{0.01, 0.02, 0.03} {
		curves = append(curves, contracts.InterpolatedPDRow{TermStructureID: 1, BasisKind: contracts.BasisDelinquency, BasisCode: "0 DPD", Bucket: i + 1, CumulativePD: v})
	}

	store := &memoryStore{
		flows:  flows,
		loans:  map[string]contracts.StageRecord{"A": loanA, "B": loanB},
		curves: curves,
		ledger: make(map[int64][]contracts.LedgerRow),
	}
	ref := &testkit.Reference{TermStructures: map[int]contracts.PDTermStructure{
		1: {ID: 1, BasisKind: contracts.BasisDelinquency},
		2: {ID: 2, BasisKind: contracts.BasisRating},
	}}
	issuer := &testkit.Issuer{}
	sink := &testkit.Recorder{}
	calc := NewCalculator(store, ref, issuer, eclconfig.Static{Config: eclconfig.Defaults()},
		batch.DefaultOptions(), logger.Nop(), sink)
	return calc, store, issuer, sink
}

func TestCalculator_Run(t *testing.T) {
	calc, store, _, sink := newCalculator(t)

	res, err := calc.Run(context.Background(), contracts.RunContext{Date: reportDate})
	require.NoError(t, err)
	require.NotNil(t, res.RunKey)
	assert.Equal(t, int64(1), *res.RunKey)
	assert.Equal(t, 6, res.RowsAffected)
	// missing rating curve for B, no stage record for C
	assert.Equal(t, 2, res.Warnings)
	assert.Equal(t, 2, sink.Count(contracts.LevelWarning))

	rows := store.ledger[1]
	require.Len(t, rows, 6)

	var a, b []contracts.LedgerRow
	for _, r := range rows {
		if r.AccountNumber == "A" {
			a = append(a, r)
		} else {
			b = append(b, r)
		}
	}
	SortByBucket(a)
	SortByBucket(b)

	assert.InDelta(t, 0.01, *a[1].MarginalImpairedProb, 1e-12)
	assert.InDelta(t, 0.01, *a[1].CumulativeLossRate, 1e-12)
	assert.Greater(t, *a[0].EAD, *a[1].EAD)
	require.NotNil(t, a[2].ForwardELPV)
	assert.InDelta(t, *a[2].EAD**a[2].MarginalImpairedProb*0.5**a[2].DiscountFactor, *a[2].ForwardELPV, 1e-9)

	assert.NotNil(t, b[0].EAD)
	assert.Nil(t, b[0].CumulativeImpairedProb)
	assert.Nil(t, b[0].ForwardEL)
	assert.Equal(t, 0.4, *b[0].LGD)
}

func TestCalculator_RunKeys(t *testing.T) {
	calc, store, issuer, _ := newCalculator(t)
	ctx := context.Background()

	_, err := calc.Run(ctx, contracts.RunContext{Date: reportDate})
	require.NoError(t, err)

	// same key without a fresh request replaces in place
	res, err := calc.Run(ctx, contracts.RunContext{Date: reportDate})
	require.NoError(t, err)
	assert.Equal(t, int64(1), *res.RunKey)
	assert.Len(t, store.ledger[1], 6)

	res, err = calc.Run(ctx, contracts.RunContext{Date: reportDate, FreshRunKey: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), *res.RunKey)
	assert.Equal(t, int64(2), issuer.Value)
	assert.Len(t, store.ledger[1], 6)
	assert.Len(t, store.ledger[2], 6)
}

func TestCalculator_RunStep(t *testing.T) {
	calc, store, _, _ := newCalculator(t)
	ctx := context.Background()

	_, err := calc.Run(ctx, contracts.RunContext{Date: reportDate})
	require.NoError(t, err)

	want := *store.ledger[1][0].EAD
	for i := range store.ledger[1] {
		store.ledger[1][i].EAD = nil
	}

	res, err := calc.RunStep(ctx, contracts.RunContext{Date: reportDate}, StepEAD)
	require.NoError(t, err)
	assert.Equal(t, 6, res.RowsAffected)
	require.NotNil(t, store.ledger[1][0].EAD)
	assert.Equal(t, want, *store.ledger[1][0].EAD)

	res, err = calc.RunStep(ctx, contracts.RunContext{Date: reportDate}, StepInsert)
	require.NoError(t, err)
	// insert seeds every flow, including accounts without a stage record
	assert.Equal(t, 8, res.RowsAffected)
	assert.Nil(t, store.ledger[1][0].EAD)

	key := int64(9)
	_, err = calc.RunStep(ctx, contracts.RunContext{Date: reportDate, RunKey: &key}, StepEAD)
	assert.ErrorIs(t, err, contracts.ErrReferenceMissing)
}
