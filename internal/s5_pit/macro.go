package s5_pit

import (
	"sort"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// MacroSeries is the per-scenario macro time series sorted by year
type MacroSeries map[contracts.Scenario][]contracts.MacroPoint

// NewMacroSeries groups and sorts macro points
func NewMacroSeries(points []contracts.MacroPoint) MacroSeries {
	s := make(MacroSeries)
	for _, p := range points {
		s[p.Scenario] = append(s[p.Scenario], p)
	}
	for _, pts := range s {
		sort.Slice(pts, func(i, j int) bool { return pts[i].Year < pts[j].Year })
	}
	return s
}

// Lookup returns the exact year or the nearest prior one
func (s MacroSeries) Lookup(scenario contracts.Scenario, year int) (contracts.MacroPoint, bool) {
	pts := s[scenario]
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Year > year })
	if i == 0 {
		return contracts.MacroPoint{}, false
	}
	return pts[i-1], true
}

// ProjectionYear maps a bucket onto its calendar year: date year + (bucket−1)/bpy
func ProjectionYear(reportYear, bucket, bucketsPerYear int) int {
	if bucket < 1 || bucketsPerYear < 1 {
		return reportYear
	}
	return reportYear + (bucket-1)/bucketsPerYear
}
