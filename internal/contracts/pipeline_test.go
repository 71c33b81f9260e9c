package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllStages_Order(t *testing.T) {
	stages := AllStages()
	require.Len(t, stages, 11)
	assert.Equal(t, StageSeed, stages[0])
	assert.Equal(t, StageCooling, stages[3])
	assert.Equal(t, StageECL, stages[len(stages)-1])
}

func TestParseStage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Stage
		wantErr bool
	}{
		{"full name", "S4_LGD", StageLGD, false},
		{"unique short name", "S7", StageLedger, false},
		{"ambiguous short name", "S1", "", true},
		{"unknown", "S9", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStage(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusOngoing.IsTerminal())
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestTermUnit_PeriodsPerYear(t *testing.T) {
	tests := []struct {
		unit TermUnit
		want int
	}{
		{UnitDay, 365},
		{UnitWeek, 52},
		{UnitMonth, 12},
		{UnitQuarter, 4},
		{UnitHalfYear, 2},
		{UnitYear, 1},
	}

	for _, tt := range tests {
		got, err := tt.unit.PeriodsPerYear()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "unit %s", tt.unit)
	}

	_, err := TermUnit("X").PeriodsPerYear()
	assert.Error(t, err)
}

func TestTermUnit_Truncate(t *testing.T) {
	d := time.Date(2024, 8, 14, 0, 0, 0, 0, time.UTC) // Wednesday

	assert.Equal(t, time.Date(2024, 8, 12, 0, 0, 0, 0, time.UTC), UnitWeek.Truncate(d))
	assert.Equal(t, time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC), UnitMonth.Truncate(d))
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), UnitQuarter.Truncate(d))
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), UnitHalfYear.Truncate(d))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), UnitYear.Truncate(d))
	assert.Equal(t, d, UnitDay.Truncate(d))
}

func TestInstrument_IsActive(t *testing.T) {
	date := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	matured := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	maturesToday := date

	assert.True(t, (&Instrument{FicMisDate: date}).IsActive(date))
	assert.True(t, (&Instrument{FicMisDate: date, MaturityDate: &maturesToday}).IsActive(date))
	assert.False(t, (&Instrument{FicMisDate: date, MaturityDate: &matured}).IsActive(date))
	assert.False(t, (&Instrument{FicMisDate: matured}).IsActive(date))
}

func TestSensitivity_Factor(t *testing.T) {
	s := Sensitivity{BetaGDP: -0.30, BetaInflation: 0.20, BetaUnemployment: 0.40, BetaDebt: 0.10}
	m := MacroPoint{GDPGrowth: 1, Inflation: 1, Unemployment: 1, GovernmentDebt: 1}
	assert.InDelta(t, 0.40, s.Factor(m), 1e-12)
}
