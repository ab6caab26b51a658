// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package sdmath

import "testing"

func TestStdDevEmpty(t *testing.T) {
	if sd := StdDev(nil); sd != 0 {
		t.Fatalf("expected 0, got %f", sd)
	}
}

func TestStdDevSingle(t *testing.T) {
	if sd := StdDev([]float64{42}); sd != 0 {
		t.Fatalf("expected 0, got %f", sd)
	}
}

func TestStdDevEqualValues(t *testing.T) {
	for _, v := range []float64{0, 1, -5, 123.456} {
		values := []float64{v, v, v, v}
		if sd := StdDev(values); sd != 0 {
			t.Fatalf("expected 0 for equal values %f, got %f", v, sd)
		}
	}
}

func TestStdDevKnownValues(t *testing.T) {
	// population SD of {2,4,4,4,5,5,7,9} is 2.0
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	sd := StdDev(values)
	if diff := sd - 2.0; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected 2.0, got %f", sd)
	}
}

func TestMeanEmpty(t *testing.T) {
	if m := Mean(nil); m != 0 {
		t.Fatalf("expected 0, got %f", m)
	}
}
