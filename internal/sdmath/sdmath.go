// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package sdmath holds the population mean/standard-deviation helpers
// shared by the threshold detector (C5) and the balancer (C6). The
// original Python implementation duplicated this computation in three
// places (nova/loadbalancer/threshold/standart_deviation.py,
// nova/loadbalancer/utils.py and nova/scheduler/load_balancer.py); per
// spec.md §9 ("Shared helpers duplicated in the source") this module
// unifies them so every caller agrees bit-for-bit.
package sdmath

import "math"

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation of values. An empty or
// single-element population, or a population where every value is equal,
// returns 0 — testable property 2 in spec.md §8.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// MeanAndStdDev computes both the mean and the population standard
// deviation of values.
func MeanAndStdDev(values []float64) (mean, sd float64) {
	mean = Mean(values)
	if len(values) == 0 {
		return 0, 0
	}
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
