package engine

import (
	"math"
	"testing"
	"time"

	"machguard/internal/alerts"
	"machguard/internal/config"
	"machguard/internal/metrics"
	"machguard/internal/model"
	"machguard/internal/series"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Smoothing.CenterOfMass = 1.0
	cfg.Detection.WindowSize = 64
	cfg.Detection.MinWindow = 12
	cfg.Detection.Timeout = 0
	cfg.Detection.Cooldown = 0
	cfg.Detection.DedupeWindow = 0
	cfg.Detection.MaxClockSkew = 0
	cfg.Detection.MaxFutureSkew = 0
	return cfg
}

func newEngineForTest(cfg *config.Config) *Engine {
	return NewEngine(cfg, nil, metrics.NewStore(100), alerts.NewStore(100), series.NewStore(100, 10000), nil)
}

func steadyReading(base time.Time, i int) model.Reading {
	return model.Reading{
		Timestamp: base.Add(time.Duration(i) * time.Second),
		MachineID: "m-01",
		SensorID:  "volt",
		Value:     50 + 0.5*math.Sin(float64(i)),
	}
}

func TestSteadyTrafficNoAnomaly(t *testing.T) {
	cfg := testConfig()
	eng := newEngineForTest(cfg)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 40; i++ {
		det := eng.ProcessReading(steadyReading(base, i))
		if det == nil {
			t.Fatalf("reading %d dropped", i)
		}
		if i < cfg.Detection.MinWindow-1 {
			if det.Outcome != model.OutcomeUndecidable {
				t.Fatalf("reading %d: expected undecidable, got %s", i, det.Outcome)
			}
			continue
		}
		if det.Outcome != model.OutcomeNormal {
			t.Fatalf("reading %d: expected normal, got %s", i, det.Outcome)
		}
	}
}

func TestSpikeDetected(t *testing.T) {
	cfg := testConfig()
	eng := newEngineForTest(cfg)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 40; i++ {
		eng.ProcessReading(steadyReading(base, i))
	}
	spike := steadyReading(base, 40)
	spike.Value = 80
	det := eng.ProcessReading(spike)
	if det == nil || det.Outcome != model.OutcomeAnomaly {
		t.Fatalf("expected anomaly, got %+v", det)
	}
	if det.Smoothed >= spike.Value {
		t.Fatalf("smoothed %.2f should lag the raw spike", det.Smoothed)
	}
	if got := len(eng.alerts.List(0)); got != 1 {
		t.Fatalf("alerts: %d", got)
	}
	stats, _, ok := eng.metrics.Get(spike.Key())
	if !ok || stats.Anomalies != 1 {
		t.Fatalf("stats: %+v ok=%v", stats, ok)
	}
}

func TestScopeExcludesMachine(t *testing.T) {
	cfg := testConfig()
	cfg.Scope.Enabled = true
	cfg.Scope.ExcludeMachines = []string{"m-02"}
	eng := newEngineForTest(cfg)
	base := time.Now().Add(-time.Hour)

	rd := steadyReading(base, 0)
	rd.MachineID = "m-02"
	if det := eng.ProcessReading(rd); det != nil {
		t.Fatalf("excluded machine processed")
	}
	if det := eng.ProcessReading(steadyReading(base, 1)); det == nil {
		t.Fatalf("in-scope machine dropped")
	}
	if eng.Processed() != 1 {
		t.Fatalf("processed: %d", eng.Processed())
	}
}

func TestScopeSensorAllowList(t *testing.T) {
	cfg := testConfig()
	cfg.Scope.Enabled = true
	cfg.Scope.Sensors = []string{"volt"}
	eng := newEngineForTest(cfg)
	base := time.Now().Add(-time.Hour)

	rd := steadyReading(base, 0)
	rd.SensorID = "rotate"
	if det := eng.ProcessReading(rd); det != nil {
		t.Fatalf("unlisted sensor processed")
	}
	if det := eng.ProcessReading(steadyReading(base, 1)); det == nil {
		t.Fatalf("listed sensor dropped")
	}
}

func TestDedupeDropsRepeat(t *testing.T) {
	cfg := testConfig()
	cfg.Detection.DedupeWindow = time.Minute
	eng := newEngineForTest(cfg)
	base := time.Now().Add(-time.Hour)

	rd := steadyReading(base, 0)
	if det := eng.ProcessReading(rd); det == nil {
		t.Fatalf("first reading dropped")
	}
	if det := eng.ProcessReading(rd); det != nil {
		t.Fatalf("duplicate processed")
	}
	if eng.Processed() != 1 {
		t.Fatalf("processed: %d", eng.Processed())
	}
}

func TestCooldownSuppressesRepeatAlerts(t *testing.T) {
	cfg := testConfig()
	cfg.Detection.Cooldown = time.Hour
	eng := newEngineForTest(cfg)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 40; i++ {
		eng.ProcessReading(steadyReading(base, i))
	}
	spike := steadyReading(base, 40)
	spike.Value = 80
	if det := eng.ProcessReading(spike); det == nil || det.Outcome != model.OutcomeAnomaly {
		t.Fatalf("expected first anomaly")
	}
	spike2 := steadyReading(base, 41)
	spike2.Value = 80
	det := eng.ProcessReading(spike2)
	if det == nil || det.Outcome != model.OutcomeAnomaly {
		t.Fatalf("second excursion should still be decided anomalous")
	}
	if got := len(eng.alerts.List(0)); got != 1 {
		t.Fatalf("cooldown should keep alerts at 1, got %d", got)
	}
}

func TestResetClearsState(t *testing.T) {
	cfg := testConfig()
	eng := newEngineForTest(cfg)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		eng.ProcessReading(steadyReading(base, i))
	}
	if eng.Tracked() != 1 || eng.Processed() != 5 {
		t.Fatalf("tracked=%d processed=%d", eng.Tracked(), eng.Processed())
	}
	eng.Reset()
	if eng.Tracked() != 0 || eng.Processed() != 0 {
		t.Fatalf("reset left tracked=%d processed=%d", eng.Tracked(), eng.Processed())
	}
}

func TestClampTimestamp(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name      string
		ts        time.Time
		maxPast   time.Duration
		maxFuture time.Duration
		want      time.Time
	}{
		{"zero_ts", time.Time{}, 0, 0, now},
		{"old_within", now.Add(-time.Hour), 2 * time.Hour, 0, now.Add(-time.Hour)},
		{"old_beyond", now.Add(-3 * time.Hour), 2 * time.Hour, 0, now},
		{"future_beyond", now.Add(time.Hour), 0, time.Minute, now},
		{"clamps_off", now.Add(-100 * time.Hour), 0, 0, now.Add(-100 * time.Hour)},
	}
	for _, tc := range cases {
		got := clampTimestamp(tc.ts, now, tc.maxPast, tc.maxFuture)
		if !got.Equal(tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}
