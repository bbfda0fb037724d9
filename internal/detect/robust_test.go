package detect

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"machguard/internal/model"
)

var seriesBase = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func wigglySeries(n int, level float64) []model.Observation {
	out := make([]model.Observation, n)
	for i := range out {
		out[i] = model.Observation{
			Timestamp: seriesBase.Add(time.Duration(i) * time.Minute),
			Value:     level + 0.5*math.Sin(float64(i)),
		}
	}
	return out
}

func testDetector(t *testing.T, cfg Config) *RobustDetector {
	t.Helper()
	d, err := NewRobustDetector(cfg)
	if err != nil {
		t.Fatalf("NewRobustDetector: %v", err)
	}
	return d
}

func hasTimestamp(anoms []Anomaly, ts time.Time) bool {
	for _, a := range anoms {
		if a.Timestamp.Equal(ts) {
			return true
		}
	}
	return false
}

func TestSpikeFlagged(t *testing.T) {
	series := wigglySeries(100, 50)
	series[70].Value += 25
	d := testDetector(t, DefaultConfig())
	anoms, err := d.Detect(context.Background(), series)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !hasTimestamp(anoms, series[70].Timestamp) {
		t.Fatalf("spike at %v not flagged, got %v", series[70].Timestamp, anoms)
	}
}

func TestConstantSeriesNoAnomalies(t *testing.T) {
	series := make([]model.Observation, 50)
	for i := range series {
		series[i] = model.Observation{Timestamp: seriesBase.Add(time.Duration(i) * time.Minute), Value: 10}
	}
	d := testDetector(t, DefaultConfig())
	anoms, err := d.Detect(context.Background(), series)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(anoms) != 0 {
		t.Fatalf("constant series flagged: %v", anoms)
	}
}

func TestDirectionFilter(t *testing.T) {
	mk := func() []model.Observation {
		s := wigglySeries(100, 50)
		s[30].Value += 25
		s[60].Value -= 25
		return s
	}
	cases := []struct {
		name      string
		direction Direction
		wantSpike bool
		wantDip   bool
	}{
		{"positive_only", DirectionPositive, true, false},
		{"negative_only", DirectionNegative, false, true},
		{"both_sides", DirectionBoth, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Direction = tc.direction
			cfg.MaxAnoms = 0.05
			series := mk()
			d := testDetector(t, cfg)
			anoms, err := d.Detect(context.Background(), series)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if got := hasTimestamp(anoms, series[30].Timestamp); got != tc.wantSpike {
				t.Fatalf("spike flagged=%v, want %v (anoms=%v)", got, tc.wantSpike, anoms)
			}
			if got := hasTimestamp(anoms, series[60].Timestamp); got != tc.wantDip {
				t.Fatalf("dip flagged=%v, want %v (anoms=%v)", got, tc.wantDip, anoms)
			}
		})
	}
}

func TestMaxAnomsCapsCount(t *testing.T) {
	series := wigglySeries(100, 50)
	for _, i := range []int{10, 30, 50, 70, 90} {
		series[i].Value += 30
	}
	cfg := DefaultConfig()
	cfg.MaxAnoms = 0.02
	d := testDetector(t, cfg)
	anoms, err := d.Detect(context.Background(), series)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(anoms) > 2 {
		t.Fatalf("flagged %d anomalies, cap is 2", len(anoms))
	}
}

func TestTooShortSeries(t *testing.T) {
	d := testDetector(t, DefaultConfig())
	_, err := d.Detect(context.Background(), wigglySeries(3, 50))
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("want ErrTooShort, got %v", err)
	}
}

func TestPeriodNeedsTwoCycles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Period = 50
	d := testDetector(t, cfg)
	_, err := d.Detect(context.Background(), wigglySeries(60, 50))
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("want ErrTooShort for one cycle, got %v", err)
	}
}

func TestSeasonalBaselineUnmasksPhaseOutlier(t *testing.T) {
	const period = 24
	series := make([]model.Observation, 5*period)
	for i := range series {
		series[i] = model.Observation{
			Timestamp: seriesBase.Add(time.Duration(i) * time.Minute),
			Value:     10*math.Sin(2*math.Pi*float64(i%period)/period) + 0.3*math.Cos(float64(i)),
		}
	}
	spike := 2*period + period/2
	series[spike].Value = 10

	cfg := DefaultConfig()
	cfg.Period = period
	d := testDetector(t, cfg)
	anoms, err := d.Detect(context.Background(), series)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !hasTimestamp(anoms, series[spike].Timestamp) {
		t.Fatalf("phase outlier not flagged, got %v", anoms)
	}
}

func TestExpectedValueReported(t *testing.T) {
	series := wigglySeries(100, 50)
	series[70].Value += 25
	cfg := DefaultConfig()
	cfg.EValue = true
	d := testDetector(t, cfg)
	anoms, err := d.Detect(context.Background(), series)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(anoms) == 0 {
		t.Fatalf("no anomalies flagged")
	}
	for _, a := range anoms {
		if math.Abs(a.Expected-50) > 2 {
			t.Fatalf("expected value %g too far from baseline 50", a.Expected)
		}
	}
}

func TestDetectCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := testDetector(t, DefaultConfig())
	_, err := d.Detect(ctx, wigglySeries(100, 50))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero_alpha", func(c *Config) { c.Alpha = 0 }, false},
		{"alpha_above_one", func(c *Config) { c.Alpha = 1.5 }, false},
		{"zero_max_anoms", func(c *Config) { c.MaxAnoms = 0 }, false},
		{"bad_direction", func(c *Config) { c.Direction = "sideways" }, false},
		{"negative_period", func(c *Config) { c.Period = -1 }, false},
		{"tiny_min_points", func(c *Config) { c.MinPoints = 2 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
