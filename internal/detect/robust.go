package detect

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"machguard/internal/model"
)

const madScale = 1.4826

type RobustDetector struct {
	cfg Config
}

func NewRobustDetector(cfg Config) (*RobustDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("detector config: %w", err)
	}
	return &RobustDetector{cfg: cfg}, nil
}

func (d *RobustDetector) Detect(ctx context.Context, series []model.Observation) ([]Anomaly, error) {
	n := len(series)
	if n < d.cfg.MinPoints {
		return nil, fmt.Errorf("%w: have %d points, need %d", ErrTooShort, n, d.cfg.MinPoints)
	}
	if d.cfg.Period > 0 && n < 2*d.cfg.Period {
		return nil, fmt.Errorf("%w: have %d points, need %d for period %d", ErrTooShort, n, 2*d.cfg.Period, d.cfg.Period)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	values := make([]float64, n)
	for i, obs := range series {
		values[i] = obs.Value
	}
	baseline := d.fit(values)
	resid := make([]float64, n)
	for i := range values {
		resid[i] = values[i] - baseline[i]
	}

	maxOut := int(math.Floor(d.cfg.MaxAnoms * float64(n)))
	if maxOut < 1 {
		maxOut = 1
	}

	active := make([]int, n)
	for i := range active {
		active[i] = i
	}
	removed := make([]int, 0, maxOut)
	scores := make([]float64, 0, maxOut)
	keep := 0

	sub := make([]float64, 0, n)
	for k := 1; k <= maxOut; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sub = sub[:0]
		for _, idx := range active {
			sub = append(sub, resid[idx])
		}
		med := median(sub)
		mad, err := stats.MedianAbsoluteDeviation(sub)
		if err != nil || mad == 0 {
			break
		}
		sigma := mad * madScale

		best, bestScore := -1, math.Inf(-1)
		for j, idx := range active {
			score := d.sideScore(resid[idx], med, sigma)
			if score > bestScore {
				best, bestScore = j, score
			}
		}
		if best < 0 || bestScore <= 0 {
			break
		}
		idx := active[best]
		active = append(active[:best], active[best+1:]...)
		removed = append(removed, idx)
		scores = append(scores, bestScore)
		if bestScore > d.critical(k, n) {
			keep = k
		}
	}

	if keep == 0 {
		return nil, nil
	}
	out := make([]Anomaly, 0, keep)
	for i := 0; i < keep; i++ {
		idx := removed[i]
		a := Anomaly{
			Timestamp: series[idx].Timestamp,
			Value:     series[idx].Value,
			Score:     scores[i],
		}
		if d.cfg.EValue {
			a.Expected = baseline[idx]
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (d *RobustDetector) fit(values []float64) []float64 {
	n := len(values)
	baseline := make([]float64, n)

	deseasoned := values
	if d.cfg.Period > 0 {
		phase := make([]float64, d.cfg.Period)
		bucket := make([]float64, 0, n/d.cfg.Period+1)
		for p := 0; p < d.cfg.Period; p++ {
			bucket = bucket[:0]
			for i := p; i < n; i += d.cfg.Period {
				bucket = append(bucket, values[i])
			}
			phase[p] = median(bucket)
		}
		deseasoned = make([]float64, n)
		for i := range values {
			baseline[i] = phase[i%d.cfg.Period]
			deseasoned[i] = values[i] - baseline[i]
		}
	}

	if d.cfg.Longterm {
		span := n / 4
		trend := movingMedian(deseasoned, span)
		for i := range baseline {
			baseline[i] += trend[i]
		}
		return baseline
	}
	med := median(deseasoned)
	for i := range baseline {
		baseline[i] += med
	}
	return baseline
}

func (d *RobustDetector) sideScore(r, med, sigma float64) float64 {
	switch d.cfg.Direction {
	case DirectionPositive:
		return (r - med) / sigma
	case DirectionNegative:
		return (med - r) / sigma
	default:
		return math.Abs(r-med) / sigma
	}
}

func (d *RobustDetector) critical(k, n int) float64 {
	tails := 2.0
	if d.cfg.Direction != DirectionBoth {
		tails = 1.0
	}
	p := 1 - d.cfg.Alpha/(tails*float64(n-k+1))
	df := float64(n - k - 1)
	if df < 1 {
		df = 1
	}
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile(p)
	return float64(n-k) * t / math.Sqrt((df+t*t)*float64(n-k+1))
}

func median(xs []float64) float64 {
	m, err := stats.Median(xs)
	if err != nil {
		return 0
	}
	return m
}

func movingMedian(xs []float64, span int) []float64 {
	if span < 3 {
		span = 3
	}
	if span%2 == 0 {
		span++
	}
	half := span / 2
	out := make([]float64, len(xs))
	for i := range xs {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > len(xs) {
			hi = len(xs)
		}
		out[i] = median(xs[lo:hi])
	}
	return out
}
