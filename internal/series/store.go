package series

import (
	"sort"
	"sync"
	"time"

	"machguard/internal/model"
)

type Store struct {
	mu      sync.RWMutex
	byKey   map[model.SeriesKey][]model.Observation
	touched map[model.SeriesKey]time.Time
	maxKeys int
	maxLen  int
}

func NewStore(maxKeys, maxLen int) *Store {
	if maxKeys <= 0 {
		maxKeys = 1024
	}
	if maxLen <= 0 {
		maxLen = 50000
	}
	return &Store{
		byKey:   make(map[model.SeriesKey][]model.Observation),
		touched: make(map[model.SeriesKey]time.Time),
		maxKeys: maxKeys,
		maxLen:  maxLen,
	}
}

func (s *Store) Append(key model.SeriesKey, obs model.Observation) {
	if key.MachineID == "" || key.SensorID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byKey[key]
	if n := len(list); n == 0 || !obs.Timestamp.Before(list[n-1].Timestamp) {
		list = append(list, obs)
	} else {
		i := sort.Search(n, func(i int) bool { return list[i].Timestamp.After(obs.Timestamp) })
		list = append(list, model.Observation{})
		copy(list[i+1:], list[i:])
		list[i] = obs
	}
	if len(list) > s.maxLen {
		list = list[len(list)-s.maxLen:]
	}
	s.byKey[key] = list
	s.touched[key] = time.Now().UTC()
	if len(s.byKey) > s.maxKeys {
		s.evictOldest()
	}
}

func (s *Store) Series(key model.SeriesKey) ([]model.Observation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	out := make([]model.Observation, len(list))
	copy(out, list)
	return out, true
}

func (s *Store) Count(key model.SeriesKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey[key])
}

func (s *Store) Keys() []model.SeriesKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SeriesKey, 0, len(s.byKey))
	for key := range s.byKey {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey = make(map[model.SeriesKey][]model.Observation)
	s.touched = make(map[model.SeriesKey]time.Time)
}

func (s *Store) evictOldest() {
	var oldestKey model.SeriesKey
	var oldest time.Time
	first := true
	for key, ts := range s.touched {
		if first || ts.Before(oldest) {
			oldestKey = key
			oldest = ts
			first = false
		}
	}
	if !first {
		delete(s.byKey, oldestKey)
		delete(s.touched, oldestKey)
	}
}
