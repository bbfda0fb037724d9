package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"machguard/internal/config"
	"machguard/internal/model"
	"machguard/internal/normalize"
)

func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		parser := NewParser()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			emitLine(ctx, string(m.Value), "kafka", cfg, parser, out, logger)
		}
	}()
}

func emitLine(ctx context.Context, line, source string, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger) {
	readings, err := parser.ParseLine(line)
	if err != nil || len(readings) == 0 {
		return
	}
	conf := cfg.Get()
	for _, fields := range readings {
		rd, err := normalize.Normalize(fields, conf)
		if err != nil {
			if logger != nil {
				logger.Warn("normalize error", "source", source, "err", err)
			}
			continue
		}
		rd.Source = source
		SendNonBlocking(ctx, out, rd, logger)
	}
}
