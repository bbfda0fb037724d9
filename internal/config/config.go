package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"machguard/internal/detect"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Smoothing SmoothingConfig `json:"smoothing" yaml:"smoothing"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Scope     ScopeConfig     `json:"scope" yaml:"scope"`
	Eval      EvalConfig      `json:"eval" yaml:"eval"`
	Scoring   ScoringConfig   `json:"scoring" yaml:"scoring"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Series    SeriesConfig    `json:"series" yaml:"series"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	Replay        ReplayConfig    `json:"replay" yaml:"replay"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	MQTT          MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	Synth         SynthConfig     `json:"synth" yaml:"synth"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type ReplayConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Files   []string      `json:"files" yaml:"files"`
	Pace    time.Duration `json:"pace" yaml:"pace"`
	Loop    bool          `json:"loop" yaml:"loop"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	Topic    string `json:"topic" yaml:"topic"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	QoS      byte   `json:"qos" yaml:"qos"`
}

type SynthConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Machines    int           `json:"machines" yaml:"machines"`
	Sensors     []string      `json:"sensors" yaml:"sensors"`
	Interval    time.Duration `json:"interval" yaml:"interval"`
	AnomalyRate float64       `json:"anomaly_rate" yaml:"anomaly_rate"`
	Seed        int64         `json:"seed" yaml:"seed"`
}

type ParserConfig struct {
	Timezone         string `json:"timezone" yaml:"timezone"`
	DefaultMachineID string `json:"default_machine_id" yaml:"default_machine_id"`
}

type SmoothingConfig struct {
	CenterOfMass float64 `json:"center_of_mass" yaml:"center_of_mass"`
}

type DetectionConfig struct {
	Detector      detect.Config `json:"detector" yaml:"detector"`
	WindowSize    int           `json:"window_size" yaml:"window_size"`
	MinWindow     int           `json:"min_window" yaml:"min_window"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	Cooldown      time.Duration `json:"cooldown" yaml:"cooldown"`
	DedupeWindow  time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	MaxClockSkew  time.Duration `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew time.Duration `json:"max_future_skew" yaml:"max_future_skew"`
}

type ScopeConfig struct {
	Enabled         bool     `json:"enabled" yaml:"enabled"`
	Machines        []string `json:"machines" yaml:"machines"`
	ExcludeMachines []string `json:"exclude_machines" yaml:"exclude_machines"`
	Sensors         []string `json:"sensors" yaml:"sensors"`
	ExcludeSensors  []string `json:"exclude_sensors" yaml:"exclude_sensors"`
}

type EvalConfig struct {
	Epochs  int     `json:"epochs" yaml:"epochs"`
	PAnoms  float64 `json:"p_anoms" yaml:"p_anoms"`
	Beta    float64 `json:"beta" yaml:"beta"`
	Workers int     `json:"workers" yaml:"workers"`
	Seed    int64   `json:"seed" yaml:"seed"`
}

type ScoringConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Addr      string `json:"addr" yaml:"addr"`
	ModelPath string `json:"model_path" yaml:"model_path"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type SeriesConfig struct {
	MaxKeys   int `json:"max_keys" yaml:"max_keys"`
	MaxPoints int `json:"max_points" yaml:"max_points"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			Replay:        ReplayConfig{Enabled: false},
			Kafka:         KafkaConfig{Enabled: false},
			MQTT:          MQTTConfig{Enabled: false, ClientID: "machguard", QoS: 1},
			Synth: SynthConfig{
				Enabled:     false,
				Machines:    3,
				Sensors:     []string{"volt", "rotate", "pressure", "vibration"},
				Interval:    time.Second,
				AnomalyRate: 0.005,
			},
			Parser: ParserConfig{Timezone: "UTC", DefaultMachineID: "unknown"},
		},
		Smoothing: SmoothingConfig{CenterOfMass: 6.0},
		Detection: DetectionConfig{
			Detector:     detect.DefaultConfig(),
			WindowSize:   500,
			MinWindow:    12,
			Timeout:      5 * time.Second,
			Cooldown:     10 * time.Minute,
			DedupeWindow: 5 * time.Minute,
		},
		Scope: ScopeConfig{Enabled: false},
		Eval: EvalConfig{
			Epochs:  200,
			PAnoms:  0.2,
			Beta:    2.0,
			Workers: 4,
		},
		Scoring: ScoringConfig{Enabled: false, Addr: ":8090"},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:machguard.db?_pragma=busy_timeout(5000)"},
		Series:  SeriesConfig{MaxKeys: 1024, MaxPoints: 50000},
		Metrics: MetricsConfig{StoreLimit: 5000},
		Alerts:  AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultMachineID == "" {
		cfg.Ingest.Parser.DefaultMachineID = "unknown"
	}
	if cfg.Ingest.Synth.Interval <= 0 {
		cfg.Ingest.Synth.Interval = time.Second
	}
	if cfg.Smoothing.CenterOfMass == 0 {
		cfg.Smoothing.CenterOfMass = 6.0
	}
	if cfg.Detection.Detector.Alpha == 0 {
		cfg.Detection.Detector.Alpha = 0.05
	}
	if cfg.Detection.Detector.MaxAnoms == 0 {
		cfg.Detection.Detector.MaxAnoms = 0.02
	}
	if cfg.Detection.Detector.Direction == "" {
		cfg.Detection.Detector.Direction = detect.DirectionBoth
	}
	if cfg.Detection.Detector.MinPoints == 0 {
		cfg.Detection.Detector.MinPoints = 12
	}
	if cfg.Detection.WindowSize <= 0 {
		cfg.Detection.WindowSize = 500
	}
	if cfg.Detection.MinWindow <= 0 {
		cfg.Detection.MinWindow = 12
	}
	if cfg.Detection.Timeout <= 0 {
		cfg.Detection.Timeout = 5 * time.Second
	}
	if cfg.Eval.Epochs <= 0 {
		cfg.Eval.Epochs = 200
	}
	if cfg.Eval.PAnoms == 0 {
		cfg.Eval.PAnoms = 0.2
	}
	if cfg.Eval.Beta == 0 {
		cfg.Eval.Beta = 2.0
	}
	if cfg.Eval.Workers <= 0 {
		cfg.Eval.Workers = 4
	}
	if cfg.Series.MaxKeys <= 0 {
		cfg.Series.MaxKeys = 1024
	}
	if cfg.Series.MaxPoints <= 0 {
		cfg.Series.MaxPoints = 50000
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 5000
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.Replay.Enabled && len(cfg.Ingest.Replay.Files) == 0 {
		return errors.New("ingest.replay.files required when ingest.replay.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.MQTT.Enabled {
		if cfg.Ingest.MQTT.Broker == "" || cfg.Ingest.MQTT.Topic == "" {
			return errors.New("ingest.mqtt requires broker and topic")
		}
		if cfg.Ingest.MQTT.QoS > 2 {
			return errors.New("ingest.mqtt.qos must be 0, 1, or 2")
		}
	}
	if cfg.Ingest.Synth.Enabled {
		if cfg.Ingest.Synth.Machines < 1 || len(cfg.Ingest.Synth.Sensors) == 0 {
			return errors.New("ingest.synth requires machines >= 1 and at least one sensor")
		}
		if cfg.Ingest.Synth.AnomalyRate < 0 || cfg.Ingest.Synth.AnomalyRate > 1 {
			return errors.New("ingest.synth.anomaly_rate must be in [0, 1]")
		}
	}
	if cfg.Smoothing.CenterOfMass <= 0 {
		return errors.New("smoothing.center_of_mass must be > 0")
	}
	if err := cfg.Detection.Detector.Validate(); err != nil {
		return fmt.Errorf("detection.detector: %w", err)
	}
	if cfg.Detection.WindowSize < 1 {
		return errors.New("detection.window_size must be >= 1")
	}
	if cfg.Detection.MinWindow < 1 {
		return errors.New("detection.min_window must be >= 1")
	}
	if cfg.Detection.WindowSize < cfg.Detection.MinWindow {
		return errors.New("detection.window_size must be >= detection.min_window")
	}
	if cfg.Eval.PAnoms < 0 || cfg.Eval.PAnoms > 1 {
		return errors.New("eval.p_anoms must be in [0, 1]")
	}
	if cfg.Eval.Beta <= 0 {
		return errors.New("eval.beta must be > 0")
	}
	if cfg.Scoring.Enabled {
		if cfg.Scoring.Addr == "" {
			return errors.New("scoring.addr required when scoring.enabled is true")
		}
		if cfg.Scoring.ModelPath == "" {
			return errors.New("scoring.model_path required when scoring.enabled is true")
		}
	}
	if cfg.Storage.Enabled {
		if cfg.Storage.Driver != "sqlite" && cfg.Storage.Driver != "postgres" {
			return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", cfg.Storage.Driver)
		}
		if cfg.Storage.DSN == "" {
			return errors.New("storage.dsn required when storage.enabled is true")
		}
	}
	return nil
}

type Manager struct {
	path string
	cfg  atomic.Value

	mu      sync.Mutex
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.rememberModTime()
	return m, nil
}

func (m *Manager) rememberModTime() {
	info, err := os.Stat(m.path)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.modTime = info.ModTime()
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.rememberModTime()
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	m.cfg.Store(cfg)
	m.rememberModTime()
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	last := m.modTime
	m.mu.Unlock()
	return info.ModTime().After(last), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
