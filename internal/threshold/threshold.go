// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package threshold is the periodic overload/balanced detector (C5),
// standard-deviation variant, grounded on
// nova/loadbalancer/threshold/standart_deviation.py.
package threshold

import (
	"sort"

	"github.com/cobaltcore-dev/rebalancer/internal/sdmath"
)

// Load is a per-host load sample in both dimensions (spec.md §4.5).
type Load struct {
	Hostname string
	CPU      float64 // sum of per-vCPU cpuFraction, one per instance
	Mem      float64 // sum of per-instance mem / memory_total
}

// Config holds the two SD thresholds, named τ_cpu/τ_mem in spec.md §4.5.
type Config struct {
	CPU float64
	Mem float64
}

// Decision is the detector's per-tick verdict.
type Decision struct {
	Overloaded  bool
	CPUOverload bool
	Victim      string
	CPUMean     float64
	RAMMean     float64
}

// Detect implements the decision procedure in spec.md §4.5. An empty
// cluster or a single-host cluster is always balanced.
func Detect(loads []Load, cfg Config) Decision {
	if len(loads) == 0 {
		return Decision{Overloaded: false}
	}
	cpus := make([]float64, len(loads))
	mems := make([]float64, len(loads))
	for i, l := range loads {
		cpus[i] = l.CPU
		mems[i] = l.Mem
	}
	cpuMean, cpuSD := sdmath.MeanAndStdDev(cpus)
	ramMean, memSD := sdmath.MeanAndStdDev(mems)

	if len(loads) <= 1 {
		return Decision{Overloaded: false, CPUMean: cpuMean, RAMMean: ramMean}
	}

	cpuOverload := cpuSD > cfg.CPU
	if !cpuOverload && memSD <= cfg.Mem {
		return Decision{Overloaded: false, CPUMean: cpuMean, RAMMean: ramMean}
	}

	victim := pickVictim(loads, cpuOverload)
	return Decision{
		Overloaded:  true,
		CPUOverload: cpuOverload,
		Victim:      victim,
		CPUMean:     cpuMean,
		RAMMean:     ramMean,
	}
}

// pickVictim returns the host maximising CPU (if cpuOverload) or Mem,
// tie-broken lexicographically on hostname (spec.md §4.5).
func pickVictim(loads []Load, cpuOverload bool) string {
	sorted := make([]Load, len(loads))
	copy(sorted, loads)
	sort.Slice(sorted, func(i, j int) bool {
		vi, vj := metric(sorted[i], cpuOverload), metric(sorted[j], cpuOverload)
		if vi != vj {
			return vi > vj
		}
		return sorted[i].Hostname < sorted[j].Hostname
	})
	return sorted[0].Hostname
}

func metric(l Load, cpuOverload bool) float64 {
	if cpuOverload {
		return l.CPU
	}
	return l.Mem
}
