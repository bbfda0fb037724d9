package smooth

import (
	"math"
	"math/rand"
	"testing"
)

func TestUpdateSecondObservation(t *testing.T) {
	got := Update(0, 10, 0, 6)
	if got != 10 {
		t.Fatalf("Update(0,10,0,6) = %g, want 10", got)
	}
}

func TestUpdateSaturatedWeight(t *testing.T) {
	com := 6.0
	a := Update(100, 0, 10, com)
	b := Update(100, 0, 1000, com)
	if a != b {
		t.Fatalf("saturated updates differ: %g vs %g", a, b)
	}
	want := 100 + (0-100)/(com+1)
	if a != want {
		t.Fatalf("saturated update = %g, want %g", a, want)
	}
}

func TestConstantSeriesNoDrift(t *testing.T) {
	series := []float64{10, 10, 10, 10}
	got := Apply(series, 6)
	for i, v := range got {
		if v != 10 {
			t.Fatalf("estimate drifted at position %d: got %g, want exactly 10", i, v)
		}
	}
}

func TestSmootherSeedsFirstValue(t *testing.T) {
	s := NewSmoother(6)
	if got := s.Push(42.5); got != 42.5 {
		t.Fatalf("first push = %g, want 42.5 unmodified", got)
	}
	if s.Count() != 1 {
		t.Fatalf("count after first push = %d, want 1", s.Count())
	}
}

func TestSmootherPairAverage(t *testing.T) {
	s := NewSmoother(6)
	s.Push(0)
	if got := s.Push(10); got != 10 {
		t.Fatalf("second estimate = %g, want 10", got)
	}
}

func TestSmootherReset(t *testing.T) {
	s := NewSmoother(3)
	s.Push(1)
	s.Push(2)
	s.Reset()
	if s.Count() != 0 {
		t.Fatalf("count after reset = %d, want 0", s.Count())
	}
	if got := s.Push(7); got != 7 {
		t.Fatalf("first push after reset = %g, want 7", got)
	}
}

func TestIncrementalMatchesBatch(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	cases := []struct {
		name string
		com  float64
		n    int
	}{
		{"short_small_com", 2, 5},
		{"short_large_com", 50, 8},
		{"long_default_com", 6, 400},
		{"fractional_com", 3.5, 120},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			series := make([]float64, tc.n)
			for i := range series {
				series[i] = 20*math.Sin(float64(i)/9) + rng.NormFloat64()
			}
			if err := VerifyReplay(series, tc.com, 1e-9); err != nil {
				t.Fatalf("replay check failed: %v", err)
			}
		})
	}
}

func TestBatchMatchesApplyPointwise(t *testing.T) {
	series := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5}
	com := 6.0
	inc := Apply(series, com)
	ref := Batch(series, com)
	if len(inc) != len(ref) {
		t.Fatalf("length mismatch: %d vs %d", len(inc), len(ref))
	}
	for i := range inc {
		if diff := math.Abs(inc[i] - ref[i]); diff > 1e-12*math.Max(1, math.Abs(ref[i])) {
			t.Fatalf("position %d: incremental=%v reference=%v", i, inc[i], ref[i])
		}
	}
}

func TestVerifyReplayEmptySeries(t *testing.T) {
	if err := VerifyReplay(nil, 6, 1e-9); err != nil {
		t.Fatalf("empty series: %v", err)
	}
}
