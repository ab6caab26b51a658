// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package statistics

import (
	"testing"

	"github.com/cobaltcore-dev/rebalancer/internal/db"
)

func ptr(v int64) *int64 { return &v }

func TestCPUFractionNormalCase(t *testing.T) {
	row := db.InstanceStat{
		CPUTime: 20_000_000, PrevCPUTime: 10_000_000,
		UpdatedAt: ptr(20), PrevUpdatedAt: ptr(10),
		VCPUs: 1,
	}
	fraction, stale := cpuFraction(row)
	if stale {
		t.Fatal("expected non-stale sample")
	}
	// (20e6-10e6)/(10*1e7*1) = 0.1
	if fraction != 0.1 {
		t.Fatalf("expected 0.1, got %v", fraction)
	}
}

func TestCPUFractionStaleWhenPrevZero(t *testing.T) {
	row := db.InstanceStat{
		CPUTime: 20_000_000, PrevCPUTime: 0,
		UpdatedAt: ptr(20), PrevUpdatedAt: ptr(10),
		VCPUs: 1,
	}
	fraction, stale := cpuFraction(row)
	if !stale || fraction != 0 {
		t.Fatalf("expected stale zero sample, got %v/%v", fraction, stale)
	}
}

func TestCPUFractionStaleWhenRegressed(t *testing.T) {
	row := db.InstanceStat{
		CPUTime: 5_000_000, PrevCPUTime: 10_000_000,
		UpdatedAt: ptr(20), PrevUpdatedAt: ptr(10),
		VCPUs: 1,
	}
	fraction, stale := cpuFraction(row)
	if !stale || fraction != 0 {
		t.Fatalf("expected stale zero sample, got %v/%v", fraction, stale)
	}
}

func TestCPUFractionStaleWhenDeltaZero(t *testing.T) {
	row := db.InstanceStat{
		CPUTime: 20_000_000, PrevCPUTime: 10_000_000,
		UpdatedAt: ptr(10), PrevUpdatedAt: ptr(10),
		VCPUs: 1,
	}
	fraction, stale := cpuFraction(row)
	if !stale || fraction != 0 {
		t.Fatalf("expected stale zero sample, got %v/%v", fraction, stale)
	}
}

func TestCPUFractionStaleWhenUpdatedAtMissing(t *testing.T) {
	row := db.InstanceStat{CPUTime: 20_000_000, PrevCPUTime: 10_000_000, VCPUs: 1}
	fraction, stale := cpuFraction(row)
	if !stale || fraction != 0 {
		t.Fatalf("expected stale zero sample, got %v/%v", fraction, stale)
	}
}

func TestCPUFractionClampedToOne(t *testing.T) {
	row := db.InstanceStat{
		CPUTime: 1_000_000_000, PrevCPUTime: 1,
		UpdatedAt: ptr(11), PrevUpdatedAt: ptr(10),
		VCPUs: 1,
	}
	fraction, stale := cpuFraction(row)
	if stale {
		t.Fatal("expected non-stale sample")
	}
	if fraction != 1 {
		t.Fatalf("expected clamped 1, got %v", fraction)
	}
}
