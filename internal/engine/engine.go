package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"machguard/internal/alerts"
	"machguard/internal/config"
	"machguard/internal/detect"
	"machguard/internal/metrics"
	"machguard/internal/model"
	"machguard/internal/series"
	"machguard/internal/smooth"
	"machguard/internal/storage"
	"machguard/internal/window"
)

type Engine struct {
	logger    *slog.Logger
	metrics   *metrics.Store
	alerts    *alerts.Store
	series    *series.Store
	store     storage.Store
	cfg       atomic.Value
	scope     atomic.Value
	online    atomic.Value
	states    map[model.SeriesKey]*seriesState
	mu        sync.Mutex
	started   time.Time
	processed atomic.Int64
	cooldown  *Cooldown
	deDupe    *DedupeCache
}

type seriesState struct {
	key      model.SeriesKey
	smoother *smooth.Smoother
	window   *window.Buffer
}

func NewEngine(cfg *config.Config, logger *slog.Logger, metricsStore *metrics.Store, alertsStore *alerts.Store, seriesStore *series.Store, store storage.Store) *Engine {
	e := &Engine{
		logger:   logger,
		metrics:  metricsStore,
		alerts:   alertsStore,
		series:   seriesStore,
		store:    store,
		states:   make(map[model.SeriesKey]*seriesState),
		started:  time.Now().UTC(),
		cooldown: NewCooldown(),
		deDupe:   NewDedupeCache(),
	}
	e.cfg.Store(cfg)
	e.scope.Store(buildScope(cfg))
	e.online.Store(buildOnline(cfg, logger))
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.scope.Store(buildScope(cfg))
	e.online.Store(buildOnline(cfg, e.logger))
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func buildOnline(cfg *config.Config, log *slog.Logger) *detect.Online {
	det, err := detect.NewRobustDetector(cfg.Detection.Detector)
	if err != nil {
		if log != nil {
			log.Warn("invalid detector config, falling back to defaults", "err", err)
		}
		det, _ = detect.NewRobustDetector(detect.DefaultConfig())
	}
	return detect.NewOnline(det, cfg.Detection.MinWindow, cfg.Detection.Timeout, log)
}

func (e *Engine) Start(ctx context.Context, in <-chan model.Reading) {
	go func() {
		for {
			select {
			case rd := <-in:
				e.ProcessReading(rd)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (e *Engine) ProcessReading(rd model.Reading) *model.Detection {
	cfg := e.config()
	now := time.Now().UTC()
	rd.Timestamp = clampTimestamp(rd.Timestamp, now, cfg.Detection.MaxClockSkew, cfg.Detection.MaxFutureSkew)

	if sc := e.scopeSet(); sc != nil && !sc.Allows(rd.MachineID, rd.SensorID) {
		return nil
	}
	if e.isDuplicate(rd, cfg.Detection.DedupeWindow) {
		return nil
	}

	key := rd.Key()
	state := e.getState(key, cfg)
	smoothed := state.smoother.Push(rd.Value)
	state.window.Append(model.Observation{Timestamp: rd.Timestamp, Value: smoothed})
	if e.series != nil {
		e.series.Append(key, rd.Observation())
	}

	decision := e.onlineAdapter().Detect(context.Background(), state.window.Snapshot())
	e.processed.Add(1)

	det := model.Detection{
		ID:        uuid.NewString(),
		Timestamp: rd.Timestamp,
		MachineID: rd.MachineID,
		SensorID:  rd.SensorID,
		Value:     rd.Value,
		Smoothed:  smoothed,
		Outcome:   decision.Outcome,
		Latency:   decision.Latency,
		WindowLen: state.window.Len(),
		Source:    rd.Source,
	}
	if e.metrics != nil {
		e.metrics.Record(det)
	}

	if decision.Outcome == model.OutcomeAnomaly && e.cooldown.Allow(key, cfg.Detection.Cooldown) {
		if e.alerts != nil {
			e.alerts.Add(det)
		}
		if e.logger != nil {
			e.logger.Warn("anomaly detected",
				"machine_id", det.MachineID,
				"sensor_id", det.SensorID,
				"value", det.Value,
				"smoothed", det.Smoothed,
				"window_len", det.WindowLen,
				"latency", det.Latency,
			)
		}
		if e.store != nil {
			_ = e.store.SaveDetection(context.Background(), det)
		}
	}
	return &det
}

func (e *Engine) Reset() {
	e.mu.Lock()
	e.states = make(map[model.SeriesKey]*seriesState)
	e.mu.Unlock()
	e.cooldown = NewCooldown()
	e.deDupe = NewDedupeCache()
	e.processed.Store(0)
}

func (e *Engine) Processed() int64 {
	return e.processed.Load()
}

func (e *Engine) Tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

func (e *Engine) Started() time.Time {
	return e.started
}

func (e *Engine) getState(key model.SeriesKey, cfg *config.Config) *seriesState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[key]; ok {
		if st.window.Cap() != cfg.Detection.WindowSize {
			st.window = resizeBuffer(st.window, cfg.Detection.WindowSize)
		}
		return st
	}
	st := &seriesState{
		key:      key,
		smoother: smooth.NewSmoother(cfg.Smoothing.CenterOfMass),
		window:   window.NewBuffer(cfg.Detection.WindowSize),
	}
	e.states[key] = st
	return st
}

func resizeBuffer(old *window.Buffer, size int) *window.Buffer {
	next := window.NewBuffer(size)
	for _, obs := range old.Snapshot() {
		next.Append(obs)
	}
	return next
}

func (e *Engine) scopeSet() *ScopeSet {
	if v := e.scope.Load(); v != nil {
		if sc, ok := v.(*ScopeSet); ok {
			return sc
		}
	}
	return nil
}

func (e *Engine) onlineAdapter() *detect.Online {
	if v := e.online.Load(); v != nil {
		if o, ok := v.(*detect.Online); ok {
			return o
		}
	}
	return buildOnline(e.config(), e.logger)
}

func (e *Engine) isDuplicate(rd model.Reading, dedupeWindow time.Duration) bool {
	if dedupeWindow <= 0 {
		return false
	}
	return e.deDupe.Seen(hashReading(rd), time.Now().UTC(), dedupeWindow)
}

func hashReading(rd model.Reading) string {
	parts := []string{
		rd.MachineID,
		rd.SensorID,
		strconv.FormatFloat(rd.Value, 'g', -1, 64),
		rd.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

func clampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 {
		if now.Sub(ts) > maxPast {
			return now
		}
	}
	if maxFuture > 0 {
		if ts.Sub(now) > maxFuture {
			return now
		}
	}
	return ts
}
