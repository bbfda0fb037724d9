package smooth

import (
	"fmt"
	"math"
)

func Update(prev, value float64, seen int, com float64) float64 {
	w := math.Min(com, float64(seen)) + 1
	return prev + (value-prev)/w
}

type Smoother struct {
	com      float64
	estimate float64
	seen     int
	primed   bool
}

func NewSmoother(com float64) *Smoother {
	return &Smoother{com: com}
}

func (s *Smoother) Push(value float64) float64 {
	if !s.primed {
		s.estimate = value
		s.primed = true
		return s.estimate
	}
	s.estimate = Update(s.estimate, value, s.seen, s.com)
	s.seen++
	return s.estimate
}

func (s *Smoother) Estimate() float64 {
	return s.estimate
}

func (s *Smoother) Count() int {
	if !s.primed {
		return 0
	}
	return s.seen + 1
}

func (s *Smoother) Reset() {
	s.estimate = 0
	s.seen = 0
	s.primed = false
}

func Apply(values []float64, com float64) []float64 {
	out := make([]float64, len(values))
	s := NewSmoother(com)
	for i, v := range values {
		out[i] = s.Push(v)
	}
	return out
}

func Batch(values []float64, com float64) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = batchAt(values[:i+1], com)
	}
	return out
}

func batchAt(prefix []float64, com float64) float64 {
	n := len(prefix)
	if n == 0 {
		return 0
	}
	weights := make([]float64, n)
	retain := 1.0
	for j := n - 1; j >= 1; j-- {
		gain := 1 / (math.Min(com, float64(j-1)) + 1)
		weights[j] = gain * retain
		retain *= 1 - gain
	}
	weights[0] = retain

	var sum, wsum float64
	for j, w := range weights {
		sum += w * prefix[j]
		wsum += w
	}
	return sum / wsum
}

func VerifyReplay(values []float64, com, tol float64) error {
	if tol <= 0 {
		tol = 1e-9
	}
	incremental := Apply(values, com)
	reference := Batch(values, com)
	for i := range incremental {
		if !withinTol(incremental[i], reference[i], tol) {
			return fmt.Errorf("smoothing replay diverged at position %d: incremental=%g reference=%g", i, incremental[i], reference[i])
		}
	}
	return nil
}

func withinTol(a, b, tol float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		return diff <= tol
	}
	return diff <= tol*scale
}
