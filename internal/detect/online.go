package detect

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"machguard/internal/model"
)

type Decision struct {
	Outcome model.Outcome
	Latency time.Duration
	Err     error
}

type Online struct {
	detector  BatchDetector
	minPoints int
	timeout   time.Duration
	logger    *slog.Logger
}

func NewOnline(detector BatchDetector, minPoints int, timeout time.Duration, logger *slog.Logger) *Online {
	if minPoints < 1 {
		minPoints = 1
	}
	return &Online{detector: detector, minPoints: minPoints, timeout: timeout, logger: logger}
}

func (o *Online) Detect(ctx context.Context, win []model.Observation) Decision {
	if len(win) < o.minPoints {
		return Decision{Outcome: model.OutcomeUndecidable}
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	anoms, err := o.detector.Detect(ctx, win)
	latency := time.Since(start)

	if err != nil {
		if errors.Is(err, ErrTooShort) {
			return Decision{Outcome: model.OutcomeUndecidable, Latency: latency, Err: err}
		}
		if o.logger != nil {
			o.logger.Warn("detector failed, counting window as normal", "error", err, "window_len", len(win))
		}
		return Decision{Outcome: model.OutcomeNormal, Latency: latency, Err: err}
	}

	newest := win[len(win)-1].Timestamp
	for _, a := range anoms {
		if a.Timestamp.Equal(newest) {
			return Decision{Outcome: model.OutcomeAnomaly, Latency: latency}
		}
	}
	return Decision{Outcome: model.OutcomeNormal, Latency: latency}
}
