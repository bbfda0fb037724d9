package window

import (
	"testing"
	"time"

	"machguard/internal/model"
)

func makeSeries(n int) []model.Observation {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Observation, n)
	for i := range out {
		out[i] = model.Observation{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: float64(i)}
	}
	return out
}

func TestSliceLengthInvariant(t *testing.T) {
	series := makeSeries(200)
	cases := []struct {
		name    string
		stop    int
		size    int
		wantLen int
		wantAt0 float64
	}{
		{"full_window", 200, 50, 50, 150},
		{"warmup_shorter_than_window", 150, 500, 150, 0},
		{"stop_equals_size", 50, 50, 50, 0},
		{"stop_zero", 0, 50, 0, 0},
		{"stop_one", 1, 50, 1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Slice(series, tc.stop, tc.size)
			if len(got) != tc.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tc.wantLen)
			}
			if tc.wantLen > 0 && got[0].Value != tc.wantAt0 {
				t.Fatalf("first element value = %g, want %g", got[0].Value, tc.wantAt0)
			}
		})
	}
}

func TestSliceEndsBeforeStop(t *testing.T) {
	series := makeSeries(20)
	got := Slice(series, 10, 4)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[len(got)-1].Value != 9 {
		t.Fatalf("last element value = %g, want 9 (stop index excluded)", got[len(got)-1].Value)
	}
}

func TestSliceRepeatable(t *testing.T) {
	series := makeSeries(100)
	a := Slice(series, 80, 30)
	b := Slice(series, 80, 30)
	if len(a) != len(b) {
		t.Fatalf("repeated call changed length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("repeated call diverged at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestSliceClampsOutOfRange(t *testing.T) {
	series := makeSeries(10)
	if got := Slice(series, 50, 5); len(got) != 5 || got[len(got)-1].Value != 9 {
		t.Fatalf("clamped slice = %v", got)
	}
	if got := Slice(series, -3, 5); got != nil {
		t.Fatalf("negative stop should yield nil, got %v", got)
	}
	if got := Slice(series, 5, 0); got != nil {
		t.Fatalf("zero size should yield nil, got %v", got)
	}
}

func TestBufferEvictsOldest(t *testing.T) {
	b := NewBuffer(3)
	series := makeSeries(5)
	for _, obs := range series {
		b.Append(obs)
	}
	if b.Len() != 3 {
		t.Fatalf("len = %d, want 3", b.Len())
	}
	snap := b.Snapshot()
	for i, want := range []float64{2, 3, 4} {
		if snap[i].Value != want {
			t.Fatalf("snapshot[%d].Value = %g, want %g", i, snap[i].Value, want)
		}
	}
	last, ok := b.Last()
	if !ok || last.Value != 4 {
		t.Fatalf("last = %v ok=%v, want value 4", last, ok)
	}
}

func TestBufferPartialFill(t *testing.T) {
	b := NewBuffer(10)
	series := makeSeries(4)
	for _, obs := range series {
		b.Append(obs)
	}
	if b.Len() != 4 || b.Cap() != 10 {
		t.Fatalf("len=%d cap=%d, want 4 and 10", b.Len(), b.Cap())
	}
	snap := b.Snapshot()
	if len(snap) != 4 || snap[0].Value != 0 || snap[3].Value != 3 {
		t.Fatalf("snapshot = %v", snap)
	}
}

func TestBufferSnapshotIsCopy(t *testing.T) {
	b := NewBuffer(2)
	b.Append(model.Observation{Value: 1})
	snap := b.Snapshot()
	snap[0].Value = 99
	again := b.Snapshot()
	if again[0].Value != 1 {
		t.Fatalf("snapshot aliases buffer storage: %v", again)
	}
}

func TestBufferReset(t *testing.T) {
	b := NewBuffer(2)
	b.Append(model.Observation{Value: 1})
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("len after reset = %d, want 0", b.Len())
	}
	if _, ok := b.Last(); ok {
		t.Fatal("Last should report empty after reset")
	}
}
