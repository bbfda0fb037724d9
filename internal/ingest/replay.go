package ingest

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"time"

	"machguard/internal/config"
	"machguard/internal/model"
)

func StartReplay(ctx context.Context, cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) {
	current := cfg.Get().Ingest.Replay
	if !current.Enabled {
		if logger != nil {
			logger.Info("replay ingest disabled")
		}
		return
	}
	go func() {
		for {
			for _, path := range current.Files {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Info("replaying telemetry file", "path", path, "pace", current.Pace)
				}
				if err := replayFile(ctx, path, current.Pace, cfg, out, logger); err != nil {
					if logger != nil {
						logger.Warn("replay failed", "path", path, "err", err)
					}
				}
			}
			if !current.Loop || ctx.Err() != nil {
				if logger != nil {
					logger.Info("replay finished")
				}
				return
			}
		}
	}()
}

func replayFile(ctx context.Context, path string, pace time.Duration, cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	parser := NewParser()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		emitLine(ctx, scanner.Text(), "replay", cfg, parser, out, logger)
		if pace > 0 && !BackoffSleep(ctx, pace) {
			return nil
		}
	}
	return scanner.Err()
}
