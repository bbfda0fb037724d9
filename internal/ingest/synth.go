package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"machguard/internal/config"
	"machguard/internal/model"
)

type sensorProfile struct {
	base   float64
	jitter float64
	swing  float64
	spike  float64
}

var sensorProfiles = map[string]sensorProfile{
	"volt":      {base: 170, jitter: 9, swing: 4, spike: 45},
	"rotate":    {base: 450, jitter: 35, swing: 15, spike: 160},
	"pressure":  {base: 100, jitter: 8, swing: 3, spike: 40},
	"vibration": {base: 40, jitter: 4, swing: 1.5, spike: 22},
}

var defaultProfile = sensorProfile{base: 50, jitter: 5, swing: 2, spike: 25}

func dailyCycle(now time.Time) float64 {
	h := float64(now.Hour()) + float64(now.Minute())/60
	return math.Sin(2 * math.Pi * (h - 6) / 24)
}

func StartSynth(ctx context.Context, cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) {
	current := cfg.Get().Ingest.Synth
	if !current.Enabled {
		if logger != nil {
			logger.Info("synth ingest disabled")
		}
		return
	}
	machines := current.Machines
	if machines < 1 {
		machines = 1
	}
	sensors := current.Sensors
	if len(sensors) == 0 {
		sensors = []string{"volt"}
	}
	interval := current.Interval
	if interval <= 0 {
		interval = time.Second
	}
	seed := uint64(current.Seed)
	if current.Seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if logger != nil {
		logger.Info("synth ingest enabled", "machines", machines, "sensors", len(sensors), "interval", interval)
	}

	go func() {
		rng := rand.New(rand.NewSource(int64(seed)))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for m := 0; m < machines; m++ {
					machineID := fmt.Sprintf("machine-%03d", m+1)
					for _, sensor := range sensors {
						prof, ok := sensorProfiles[sensor]
						if !ok {
							prof = defaultProfile
						}
						value := prof.base + prof.swing*dailyCycle(now) + rng.NormFloat64()*prof.jitter
						if rng.Float64() < current.AnomalyRate {
							level := prof.base + prof.swing*dailyCycle(now)
							if rng.Float64() < 0.5 {
								value = level + prof.spike
							} else {
								value = level - prof.spike
							}
							if logger != nil {
								logger.Debug("synth anomaly injected", "machine_id", machineID, "sensor_id", sensor, "value", value)
							}
						}
						rd := model.Reading{
							Timestamp: now.UTC(),
							MachineID: machineID,
							SensorID:  sensor,
							Value:     value,
							Source:    "synth",
						}
						SendNonBlocking(ctx, out, rd, logger)
					}
				}
			}
		}
	}()
}
