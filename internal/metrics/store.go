package metrics

import (
	"sync"
	"time"

	"machguard/internal/model"
)

type Store struct {
	mu        sync.RWMutex
	byKey     map[model.SeriesKey]model.SeriesStats
	updatedAt map[model.SeriesKey]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byKey:     make(map[model.SeriesKey]model.SeriesStats),
		updatedAt: make(map[model.SeriesKey]time.Time),
		limit:     limit,
	}
}

func (s *Store) Record(det model.Detection) {
	key := det.Key()
	if key.MachineID == "" && key.SensorID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byKey[key]
	if !ok {
		st = model.SeriesStats{MachineID: det.MachineID, SensorID: det.SensorID}
	}
	st.Count++
	st.LastValue = det.Value
	st.Smoothed = det.Smoothed
	st.LastLatency = det.Latency
	switch det.Outcome {
	case model.OutcomeAnomaly:
		st.Anomalies++
	case model.OutcomeUndecidable:
		st.Undecided++
	}
	s.byKey[key] = st
	s.updatedAt[key] = time.Now().UTC()
	if len(s.byKey) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(key model.SeriesKey) (model.SeriesStats, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byKey[key]
	if !ok {
		return model.SeriesStats{}, time.Time{}, false
	}
	return st, s.updatedAt[key], true
}

func (s *Store) GetAll() map[string]model.SeriesStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.SeriesStats, len(s.byKey))
	for key, st := range s.byKey {
		out[key.String()] = st
	}
	return out
}

func (s *Store) evictOldest() {
	var oldestKey model.SeriesKey
	var oldest time.Time
	first := true
	for key, ts := range s.updatedAt {
		if first || ts.Before(oldest) {
			oldestKey = key
			oldest = ts
			first = false
		}
	}
	if !first {
		delete(s.byKey, oldestKey)
		delete(s.updatedAt, oldestKey)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey = make(map[model.SeriesKey]model.SeriesStats)
	s.updatedAt = make(map[model.SeriesKey]time.Time)
}
