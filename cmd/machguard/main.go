package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"machguard/internal/alerts"
	"machguard/internal/api"
	"machguard/internal/config"
	"machguard/internal/detect"
	"machguard/internal/engine"
	"machguard/internal/eval"
	"machguard/internal/ingest"
	"machguard/internal/logging"
	"machguard/internal/metrics"
	"machguard/internal/model"
	"machguard/internal/scoring"
	"machguard/internal/series"
	"machguard/internal/storage"
)

const version = "0.9.0"

func main() {
	configPath := flag.String("config", "machguard.yaml", "path to the config file; created with defaults when missing")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("machguard " + version)
		return
	}

	path := config.ResolvePath(*configPath)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path, config.DefaultConfig()); err != nil {
			fmt.Fprintln(os.Stderr, "write default config:", err)
			os.Exit(1)
		}
	}
	manager, err := config.NewManager(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	cfg := manager.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("machguard starting", "version", version, "config", path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsStore := metrics.NewStore(cfg.Metrics.StoreLimit)
	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	seriesStore := series.NewStore(cfg.Series.MaxKeys, cfg.Series.MaxPoints)

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	if store != nil {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := store.Init(initCtx)
		cancel()
		if err != nil {
			logger.Error("storage schema init failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	eng := engine.NewEngine(cfg, logging.Component(logger, "engine"), metricsStore, alertsStore, seriesStore, store)
	readings := make(chan model.Reading, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, readings)

	ingestLogger := logging.Component(logger, "ingest")
	ingest.StartREST(ctx, manager, readings, ingestLogger)
	ingest.StartTCPStream(ctx, manager, readings, ingestLogger)
	ingest.StartKafka(ctx, manager, readings, ingestLogger)
	ingest.StartMQTT(ctx, manager, readings, ingestLogger)
	ingest.StartReplay(ctx, manager, readings, ingestLogger)
	ingest.StartSynth(ctx, manager, readings, ingestLogger)

	evalLogger := logging.Component(logger, "eval")
	runner := api.EvalRunnerFunc(func(runCtx context.Context, p eval.Params) (model.EvalReport, error) {
		current := manager.Get()
		reference, err := detect.NewRobustDetector(current.Detection.Detector)
		if err != nil {
			return model.EvalReport{}, err
		}
		online := detect.NewOnline(reference, current.Detection.MinWindow, current.Detection.Timeout, evalLogger)
		return eval.NewRunner(seriesStore, reference, online, evalLogger).Run(runCtx, p)
	})

	api.Start(ctx, manager, metricsStore, alertsStore, seriesStore, eng, runner, store, logging.Component(logger, "api"), version)

	if cfg.Scoring.Enabled {
		var mdl scoring.Model
		if cfg.Scoring.ModelPath != "" {
			loaded, err := scoring.LoadModel(cfg.Scoring.ModelPath)
			if err != nil {
				logger.Error("scoring model load failed", "path", cfg.Scoring.ModelPath, "err", err)
			} else {
				mdl = loaded
			}
		} else {
			logger.Warn("scoring enabled without model_path; service not started")
		}
		scoring.Start(ctx, cfg.Scoring, mdl, logging.Component(logger, "scoring"))
	}

	go manager.Watch(3*time.Second, func(next *config.Config) {
		logger.Info("config reloaded", "path", manager.Path())
		eng.UpdateConfig(next)
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	<-ctx.Done()
	logger.Info("machguard stopping")
}
