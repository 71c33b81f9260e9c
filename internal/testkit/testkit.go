// Package testkit holds in-memory collaborators shared by stage tests
package testkit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Recorder is a LogSink that keeps every entry in memory
type Recorder struct {
	mu      sync.Mutex
	Entries []contracts.LogEntry
}

// Log implements contracts.LogSink
func (r *Recorder) Log(source, level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Entries = append(r.Entries, contracts.LogEntry{LoggedAt: time.Now(), Source: source, Level: level, Message: message})
}

// Count returns the number of entries at level
func (r *Recorder) Count(level string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.Entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Contains reports whether any entry message contains substr
func (r *Recorder) Contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.Entries {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// Reference is a static contracts.ReferenceData
type Reference struct {
	ProductMap      map[string]contracts.Product
	SegmentList     []contracts.Segment
	CustomerMap     map[string]contracts.Customer
	Collateral      map[string]float64
	Bands           []contracts.DelinquencyBand
	Grades          []contracts.RatingGrade
	Ratings         map[string]string
	Cooling         map[contracts.TermUnit]int
	TermStructures  map[int]contracts.PDTermStructure
	CombinedSegment map[string][]int
}

var _ contracts.ReferenceData = (*Reference)(nil)

func (r *Reference) Products(context.Context) (map[string]contracts.Product, error) {
	return r.ProductMap, nil
}

func (r *Reference) Segments(context.Context) ([]contracts.Segment, error) {
	return r.SegmentList, nil
}

func (r *Reference) Customers(context.Context) (map[string]contracts.Customer, error) {
	return r.CustomerMap, nil
}

func (r *Reference) CollateralTotals(context.Context, time.Time) (map[string]float64, error) {
	return r.Collateral, nil
}

func (r *Reference) DelinquencyBands(context.Context) ([]contracts.DelinquencyBand, error) {
	return r.Bands, nil
}

func (r *Reference) RatingGrades(context.Context) ([]contracts.RatingGrade, error) {
	return r.Grades, nil
}

func (r *Reference) CustomerRatings(context.Context, time.Time) (map[string]string, error) {
	return r.Ratings, nil
}

func (r *Reference) CoolingPeriods(context.Context) (map[contracts.TermUnit]int, error) {
	return r.Cooling, nil
}

func (r *Reference) PDTermStructures(context.Context) (map[int]contracts.PDTermStructure, error) {
	return r.TermStructures, nil
}

func (r *Reference) CombinedSegments(context.Context) (map[string][]int, error) {
	return r.CombinedSegment, nil
}

// MonthlyBands returns the standard DPD bands for unit M: 0, 1-30, 31-60, 61-89, 90+
func MonthlyBands() []contracts.DelinquencyBand {
	return []contracts.DelinquencyBand{
		{Code: "0 DPD", LowerDays: 0, UpperDays: 0, AmortTermUnit: contracts.UnitMonth},
		{Code: "1-30 DPD", LowerDays: 1, UpperDays: 30, AmortTermUnit: contracts.UnitMonth},
		{Code: "31-60 DPD", LowerDays: 31, UpperDays: 60, AmortTermUnit: contracts.UnitMonth},
		{Code: "61-89 DPD", LowerDays: 61, UpperDays: 89, AmortTermUnit: contracts.UnitMonth},
		{Code: "90+ DPD", LowerDays: 90, UpperDays: 99999, AmortTermUnit: contracts.UnitMonth},
	}
}

// Date returns a UTC date
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Issuer is an in-memory run key counter
type Issuer struct {
	mu    sync.Mutex
	Value int64
}

var _ contracts.RunKeyIssuer = (*Issuer)(nil)

// Next increments the counter
func (i *Issuer) Next(context.Context) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Value++
	return i.Value, nil
}

// Current returns the counter, issuing 1 when empty
func (i *Issuer) Current(ctx context.Context) (int64, error) {
	i.mu.Lock()
	v := i.Value
	i.mu.Unlock()
	if v == 0 {
		return i.Next(ctx)
	}
	return v, nil
}
