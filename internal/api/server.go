package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"machguard/internal/alerts"
	"machguard/internal/config"
	"machguard/internal/eval"
	"machguard/internal/metrics"
	"machguard/internal/model"
	"machguard/internal/series"
	"machguard/internal/storage"
)

const reportHistory = 50

type EngineControl interface {
	Reset()
	UpdateConfig(cfg *config.Config)
	Processed() int64
	Tracked() int
	Started() time.Time
}

type EvalRunner interface {
	Run(ctx context.Context, p eval.Params) (model.EvalReport, error)
}

type EvalRunnerFunc func(ctx context.Context, p eval.Params) (model.EvalReport, error)

func (f EvalRunnerFunc) Run(ctx context.Context, p eval.Params) (model.EvalReport, error) {
	return f(ctx, p)
}

type Server struct {
	cfg     *config.Manager
	metrics *metrics.Store
	alerts  *alerts.Store
	series  *series.Store
	engine  EngineControl
	runner  EvalRunner
	store   storage.Store
	logger  *slog.Logger
	version string

	reportsMu sync.Mutex
	reports   []model.EvalReport
}

type statusResponse struct {
	Status     string             `json:"status"`
	Time       string             `json:"time"`
	Version    string             `json:"version"`
	ConfigPath string             `json:"config_path"`
	Uptime     string             `json:"uptime"`
	Engine     engineStatus       `json:"engine"`
	Scope      config.ScopeConfig `json:"scope"`
	Ingest     ingestStatus       `json:"ingest"`
	API        apiStatus          `json:"api"`
	Detection  detectionStatus    `json:"detection"`
}

type engineStatus struct {
	Processed int64 `json:"processed"`
	Series    int   `json:"series"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
	MQTT      bool `json:"mqtt"`
	Replay    bool `json:"replay"`
	Synth     bool `json:"synth"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type detectionStatus struct {
	WindowSize   int     `json:"window_size"`
	MinWindow    int     `json:"min_window"`
	CenterOfMass float64 `json:"center_of_mass"`
	Timeout      string  `json:"timeout"`
}

func Start(ctx context.Context, cfg *config.Manager, metricsStore *metrics.Store, alertsStore *alerts.Store, seriesStore *series.Store, engine EngineControl, runner EvalRunner, store storage.Store, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:     cfg,
		metrics: metricsStore,
		alerts:  alertsStore,
		series:  seriesStore,
		engine:  engine,
		runner:  runner,
		store:   store,
		logger:  logger,
		version: version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/metrics", server.handleMetrics)
	mux.HandleFunc("/metrics/", server.handleMetrics)
	mux.HandleFunc("/alerts", server.handleAlerts)
	mux.HandleFunc("/eval/run", server.handleEvalRun)
	mux.HandleFunc("/eval/reports", server.handleEvalReports)
	mux.HandleFunc("/config/scope", server.handleScope)
	mux.HandleFunc("/admin/clear", server.handleClear)
	mux.HandleFunc("/admin/restart", server.handleRestart)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	var eng engineStatus
	uptime := ""
	if s.engine != nil {
		eng = engineStatus{Processed: s.engine.Processed(), Series: s.engine.Tracked()}
		uptime = time.Since(s.engine.Started()).Round(time.Second).String()
	}
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Uptime:     uptime,
		Engine:     eng,
		Scope:      cfg.Scope,
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			MQTT:      cfg.Ingest.MQTT.Enabled,
			Replay:    cfg.Ingest.Replay.Enabled,
			Synth:     cfg.Ingest.Synth.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Detection: detectionStatus{
			WindowSize:   cfg.Detection.WindowSize,
			MinWindow:    cfg.Detection.MinWindow,
			CenterOfMass: cfg.Smoothing.CenterOfMass,
			Timeout:      cfg.Detection.Timeout.String(),
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/metrics")
	path = strings.Trim(path, "/")
	if path != "" {
		parts := strings.SplitN(path, "/", 2)
		if len(parts) == 2 {
			key := model.SeriesKey{MachineID: parts[0], SensorID: parts[1]}
			stats, updated, ok := s.metrics.Get(key)
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"machine_id": key.MachineID,
				"sensor_id":  key.SensorID,
				"updated_at": updated.Format(time.RFC3339Nano),
				"stats":      stats,
			})
			return
		}
		out := make(map[string]model.SeriesStats)
		for name, stats := range s.metrics.GetAll() {
			if strings.HasPrefix(name, parts[0]+"/") {
				out[name] = stats
			}
		}
		if len(out) == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"metrics": out, "count": len(out)})
		return
	}
	all := s.metrics.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": all,
		"count":   len(all),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	machine := r.URL.Query().Get("machine")
	sensor := r.URL.Query().Get("sensor")
	sinceStr := r.URL.Query().Get("since")

	var list []model.Detection
	switch {
	case machine != "" && sensor != "":
		list = s.alerts.ByKey(model.SeriesKey{MachineID: machine, SensorID: sensor}, limit)
	case sinceStr != "":
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	default:
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleEvalRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.runner == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	cfg := s.cfg.Get()
	params := eval.Params{
		Epochs:       cfg.Eval.Epochs,
		WindowSize:   cfg.Detection.WindowSize,
		CenterOfMass: cfg.Smoothing.CenterOfMass,
		PAnoms:       cfg.Eval.PAnoms,
		Beta:         cfg.Eval.Beta,
		Workers:      cfg.Eval.Workers,
		Seed:         cfg.Eval.Seed,
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		var req struct {
			Epochs       *int     `json:"epochs"`
			WindowSize   *int     `json:"window_size"`
			CenterOfMass *float64 `json:"center_of_mass"`
			PAnoms       *float64 `json:"p_anoms"`
			Beta         *float64 `json:"beta"`
			Workers      *int     `json:"workers"`
			Seed         *int64   `json:"seed"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Epochs != nil {
			params.Epochs = *req.Epochs
		}
		if req.WindowSize != nil {
			params.WindowSize = *req.WindowSize
		}
		if req.CenterOfMass != nil {
			params.CenterOfMass = *req.CenterOfMass
		}
		if req.PAnoms != nil {
			params.PAnoms = *req.PAnoms
		}
		if req.Beta != nil {
			params.Beta = *req.Beta
		}
		if req.Workers != nil {
			params.Workers = *req.Workers
		}
		if req.Seed != nil {
			params.Seed = *req.Seed
		}
	}

	report, err := s.runner.Run(r.Context(), params)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	s.rememberReport(report)
	if s.store != nil {
		if err := s.store.SaveEvalReport(context.Background(), report); err != nil && s.logger != nil {
			s.logger.Warn("eval report not persisted", "report_id", report.ID, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleEvalReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	s.reportsMu.Lock()
	list := make([]model.EvalReport, len(s.reports))
	copy(list, s.reports)
	s.reportsMu.Unlock()
	if limit > 0 && limit < len(list) {
		list = list[len(list)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": list,
		"count":   len(list),
	})
}

func (s *Server) rememberReport(report model.EvalReport) {
	s.reportsMu.Lock()
	defer s.reportsMu.Unlock()
	s.reports = append(s.reports, report)
	if len(s.reports) > reportHistory {
		s.reports = s.reports[len(s.reports)-reportHistory:]
	}
}

func (s *Server) handleScope(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := s.cfg.Get()
		writeJSON(w, http.StatusOK, map[string]any{
			"scope": cfg.Scope,
		})
		return
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var scope config.ScopeConfig
		if err := json.Unmarshal(body, &scope); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		scope.Machines = sanitizeIDList(scope.Machines)
		scope.ExcludeMachines = sanitizeIDList(scope.ExcludeMachines)
		scope.Sensors = sanitizeIDList(scope.Sensors)
		scope.ExcludeSensors = sanitizeIDList(scope.ExcludeSensors)
		current := s.cfg.Get()
		next := *current
		next.Scope = scope
		if err := s.cfg.Update(&next); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if s.engine != nil {
			s.engine.UpdateConfig(&next)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.metrics != nil {
			s.metrics.Clear()
		}
		if s.alerts != nil {
			s.alerts.Clear()
		}
		if s.series != nil {
			s.series.Clear()
		}
	case "alerts":
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "metrics":
		if s.metrics != nil {
			s.metrics.Clear()
		}
	case "series":
		if s.series != nil {
			s.series.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine != nil {
		s.engine.Reset()
	}
	if s.metrics != nil {
		s.metrics.Clear()
	}
	if s.alerts != nil {
		s.alerts.Clear()
	}
	if s.series != nil {
		s.series.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func sanitizeIDList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
