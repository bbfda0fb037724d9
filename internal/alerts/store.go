package alerts

import (
	"sync"
	"time"

	"machguard/internal/model"
)

type Store struct {
	mu    sync.RWMutex
	buf   []model.Detection
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(det model.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, det)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = det
}

func (s *Store) List(limit int) []model.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Detection, 0, limit)
	start := len(s.buf) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Detection, 0)
	for _, d := range s.buf {
		if !d.Timestamp.Before(ts) {
			out = append(out, d)
		}
	}
	return out
}

func (s *Store) ByKey(key model.SeriesKey, limit int) []model.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Detection, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].Key() != key {
			continue
		}
		out = append(out, s.buf[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
