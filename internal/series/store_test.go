package series

import (
	"testing"
	"time"

	"machguard/internal/model"
)

var storeBase = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func obsAt(i int) model.Observation {
	return model.Observation{Timestamp: storeBase.Add(time.Duration(i) * time.Minute), Value: float64(i)}
}

func TestAppendKeepsOrder(t *testing.T) {
	s := NewStore(10, 100)
	key := model.SeriesKey{MachineID: "M1", SensorID: "volt"}
	for _, i := range []int{0, 1, 2, 5, 3, 4} {
		s.Append(key, obsAt(i))
	}
	got, ok := s.Series(key)
	if !ok || len(got) != 6 {
		t.Fatalf("series missing or wrong length: ok=%v len=%d", ok, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Fatalf("series out of order at %d: %v before %v", i, got[i].Timestamp, got[i-1].Timestamp)
		}
	}
	if got[3].Value != 3 {
		t.Fatalf("late arrival not inserted in place: %v", got)
	}
}

func TestPerSeriesCapDropsOldest(t *testing.T) {
	s := NewStore(10, 5)
	key := model.SeriesKey{MachineID: "M1", SensorID: "volt"}
	for i := 0; i < 8; i++ {
		s.Append(key, obsAt(i))
	}
	got, _ := s.Series(key)
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	if got[0].Value != 3 || got[4].Value != 7 {
		t.Fatalf("wrong points survived: %v", got)
	}
}

func TestKeyCapEvictsStalest(t *testing.T) {
	s := NewStore(2, 100)
	k1 := model.SeriesKey{MachineID: "M1", SensorID: "volt"}
	k2 := model.SeriesKey{MachineID: "M2", SensorID: "volt"}
	k3 := model.SeriesKey{MachineID: "M3", SensorID: "volt"}
	s.Append(k1, obsAt(0))
	s.Append(k2, obsAt(0))
	s.Append(k3, obsAt(0))
	if _, ok := s.Series(k1); ok {
		t.Fatalf("stalest key not evicted")
	}
	if _, ok := s.Series(k3); !ok {
		t.Fatalf("newest key evicted")
	}
}

func TestSeriesReturnsCopy(t *testing.T) {
	s := NewStore(10, 100)
	key := model.SeriesKey{MachineID: "M1", SensorID: "volt"}
	s.Append(key, obsAt(0))
	got, _ := s.Series(key)
	got[0].Value = 99
	again, _ := s.Series(key)
	if again[0].Value != 0 {
		t.Fatalf("Series aliases internal storage")
	}
}

func TestRejectsEmptyKey(t *testing.T) {
	s := NewStore(10, 100)
	s.Append(model.SeriesKey{}, obsAt(0))
	if keys := s.Keys(); len(keys) != 0 {
		t.Fatalf("empty key stored: %v", keys)
	}
}

func TestKeysStableOrderAndClear(t *testing.T) {
	s := NewStore(10, 100)
	s.Append(model.SeriesKey{MachineID: "M2", SensorID: "volt"}, obsAt(0))
	s.Append(model.SeriesKey{MachineID: "M1", SensorID: "volt"}, obsAt(0))
	s.Append(model.SeriesKey{MachineID: "M1", SensorID: "temp"}, obsAt(0))
	keys := s.Keys()
	if len(keys) != 3 {
		t.Fatalf("len(keys) = %d, want 3", len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1].String() > keys[i].String() {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}
	s.Clear()
	if len(s.Keys()) != 0 {
		t.Fatalf("Clear left keys behind")
	}
}
