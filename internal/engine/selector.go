package engine

import "sort"

// Selector picks the assets to hold from the short and long lookback
// performance of every column. It returns column indices ordered by rank and
// must not return more than topN of them.
type Selector interface {
	Select(short, long PerformanceVector, topN int) []int
}

// SelectorFunc adapts a plain function to the Selector interface.
type SelectorFunc func(short, long PerformanceVector, topN int) []int

// Select calls f.
func (f SelectorFunc) Select(short, long PerformanceVector, topN int) []int {
	return f(short, long, topN)
}

// DualMomentum is the default selector: assets whose long lookback return is
// strictly positive are ranked by short lookback return, best first. Ties
// keep column order. Assets without a short return cannot be ranked and are
// skipped.
type DualMomentum struct{}

var _ Selector = DualMomentum{}

// Select implements Selector.
func (DualMomentum) Select(short, long PerformanceVector, topN int) []int {
	eligible := make([]int, 0, len(long))
	for j := range long {
		if !long.Defined(j) || long[j] <= 0 {
			continue
		}
		if !short.Defined(j) {
			continue
		}
		eligible = append(eligible, j)
	}
	return rank(eligible, short, topN)
}

// RelativeMomentum ranks every asset with a short lookback return, without a
// trend filter.
type RelativeMomentum struct{}

var _ Selector = RelativeMomentum{}

// Select implements Selector.
func (RelativeMomentum) Select(short, _ PerformanceVector, topN int) []int {
	candidates := make([]int, 0, len(short))
	for j := range short {
		if short.Defined(j) {
			candidates = append(candidates, j)
		}
	}
	return rank(candidates, short, topN)
}

func rank(idx []int, by PerformanceVector, topN int) []int {
	sort.SliceStable(idx, func(a, b int) bool { return by[idx[a]] > by[idx[b]] })
	if topN >= 0 && len(idx) > topN {
		idx = idx[:topN]
	}
	return idx
}

// validateSelection checks that sel holds at most topN distinct, in-range
// column indices.
func validateSelection(sel []int, numAssets, topN int) bool {
	if len(sel) > topN {
		return false
	}
	seen := make(map[int]struct{}, len(sel))
	for _, j := range sel {
		if j < 0 || j >= numAssets {
			return false
		}
		if _, dup := seen[j]; dup {
			return false
		}
		seen[j] = struct{}{}
	}
	return true
}
