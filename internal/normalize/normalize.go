// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package normalize implements the min-max normalisation and weighted
// scoring used by the balancer (C6) to pick the cheapest instance to move.
// Destination hosts are scored by standard deviation, not here. Grounded in
// nova/loadbalancer/utils.py:normalize_params and
// nova/scheduler/load_balancer.py:_normalize_params/_weight_instances from
// the original implementation.
package normalize

import "sort"

// Row is one entity (instance or host) carrying a stable Key and a set of
// numeric columns to be normalised/weighted together.
type Row struct {
	Key    string
	Values map[string]float64
}

// Normalise min-max normalises every column across rows. A column with a
// single row, or with zero spread (max == min), maps every value in that
// column to 0 — spec.md §3's invariant ("range is forced to 1 to avoid
// division by zero", which for a constant numerator of 0 yields 0 for
// every row). The Key is carried through untouched.
func Normalise(rows []Row) []Row {
	if len(rows) == 0 {
		return nil
	}
	mins := map[string]float64{}
	maxs := map[string]float64{}
	for i, row := range rows {
		for col, v := range row.Values {
			if i == 0 {
				mins[col] = v
				maxs[col] = v
				continue
			}
			if v < mins[col] {
				mins[col] = v
			}
			if v > maxs[col] {
				maxs[col] = v
			}
		}
	}
	out := make([]Row, len(rows))
	for i, row := range rows {
		normed := make(map[string]float64, len(row.Values))
		for col, v := range row.Values {
			spread := maxs[col] - mins[col]
			if len(rows) == 1 || spread == 0 {
				spread = 1
			}
			normed[col] = (v - mins[col]) / spread
		}
		out[i] = Row{Key: row.Key, Values: normed}
	}
	return out
}

// Weighted is the scalar score for one row after applying a weight vector.
type Weighted struct {
	Key    string
	Weight float64
}

// Weight linearly combines each row's columns with the given per-column
// weights (∑ w_c · v_c) and returns the rows sorted ascending by weight.
// The caller controls direction by the sign of the weight (e.g. a negative
// weight on "memory" makes memory-heavy rows sort first).
func Weight(rows []Row, weights map[string]float64) []Weighted {
	out := make([]Weighted, len(rows))
	for i, row := range rows {
		var w float64
		for col, v := range row.Values {
			w += weights[col] * v
		}
		out[i] = Weighted{Key: row.Key, Weight: w}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight < out[j].Weight })
	return out
}
