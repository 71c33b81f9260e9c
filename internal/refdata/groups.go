package refdata

import (
	"sort"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Group is a combined product group and its member segments
type Group struct {
	Key      string
	Segments []int
}

// BuildGroups resolves the combined-segment map over the given segments.
// Segments without a mapping form singleton groups keyed by their own segment key.
// A segment mapped to several groups belongs to the first one by key order.
func BuildGroups(segments []int, combined map[string][]int) []Group {
	wanted := make(map[int]bool, len(segments))
	for _, s := range segments {
		wanted[s] = true
	}

	groupKeys := make([]string, 0, len(combined))
	for k := range combined {
		groupKeys = append(groupKeys, k)
	}
	sort.Strings(groupKeys)

	assigned := make(map[int]bool)
	var groups []Group
	for _, key := range groupKeys {
		var members []int
		for _, s := range combined[key] {
			if wanted[s] && !assigned[s] {
				members = append(members, s)
				assigned[s] = true
			}
		}
		if len(members) > 0 {
			sort.Ints(members)
			groups = append(groups, Group{Key: key, Segments: members})
		}
	}

	rest := make([]int, 0)
	for _, s := range segments {
		if !assigned[s] {
			rest = append(rest, s)
			assigned[s] = true
		}
	}
	sort.Ints(rest)
	for _, s := range rest {
		groups = append(groups, Group{Key: SingletonGroupKey(s), Segments: []int{s}})
	}

	return groups
}

// BandsForUnit returns the bands of one term unit ordered by ascending lower bound (worst last)
func BandsForUnit(bands []contracts.DelinquencyBand, unit contracts.TermUnit) []contracts.DelinquencyBand {
	var out []contracts.DelinquencyBand
	for _, b := range bands {
		if b.AmortTermUnit == unit {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LowerDays < out[j].LowerDays })
	return out
}

// MatchBand returns the first band with lower ≤ days ≤ upper for the term unit
func MatchBand(bands []contracts.DelinquencyBand, days int, unit contracts.TermUnit) (contracts.DelinquencyBand, bool) {
	for _, b := range bands {
		if b.Contains(days, unit) {
			return b, true
		}
	}
	return contracts.DelinquencyBand{}, false
}

// SegmentIndex maps (product segment, product type) → segment key
func SegmentIndex(segments []contracts.Segment) map[[2]string]int {
	idx := make(map[[2]string]int, len(segments))
	for _, s := range segments {
		idx[[2]string{s.ProductSegment, s.ProductType}] = s.Key
	}
	return idx
}

// RatingRanks maps rating code → rank
func RatingRanks(grades []contracts.RatingGrade) map[string]int {
	ranks := make(map[string]int, len(grades))
	for _, g := range grades {
		ranks[g.Code] = g.Rank
	}
	return ranks
}
