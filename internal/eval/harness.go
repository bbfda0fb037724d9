package eval

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"machguard/internal/detect"
	"machguard/internal/model"
	"machguard/internal/smooth"
	"machguard/internal/window"
)

const retryCap = 100

const verifyTol = 1e-9

const verifyMaxPoints = 2048

type Params struct {
	Epochs       int     `yaml:"epochs" json:"epochs"`
	WindowSize   int     `yaml:"window_size" json:"window_size"`
	CenterOfMass float64 `yaml:"center_of_mass" json:"center_of_mass"`
	PAnoms       float64 `yaml:"p_anoms" json:"p_anoms"`
	Beta         float64 `yaml:"beta" json:"beta"`
	Workers      int     `yaml:"workers" json:"workers"`
	Seed         int64   `yaml:"seed" json:"seed"`
}

func DefaultParams() Params {
	return Params{
		Epochs:       200,
		WindowSize:   500,
		CenterOfMass: 6.0,
		PAnoms:       0.2,
		Beta:         2.0,
		Workers:      4,
	}
}

func (p Params) Validate() error {
	if p.Epochs < 1 {
		return fmt.Errorf("epochs must be >= 1, got %d", p.Epochs)
	}
	if p.WindowSize < 1 {
		return fmt.Errorf("window_size must be >= 1, got %d", p.WindowSize)
	}
	if p.CenterOfMass <= 0 {
		return fmt.Errorf("center_of_mass must be > 0, got %v", p.CenterOfMass)
	}
	if p.PAnoms < 0 || p.PAnoms > 1 {
		return fmt.Errorf("p_anoms must be in [0, 1], got %v", p.PAnoms)
	}
	if p.Beta <= 0 {
		return fmt.Errorf("beta must be > 0, got %v", p.Beta)
	}
	return nil
}

type SeriesProvider interface {
	Keys() []model.SeriesKey
	Series(key model.SeriesKey) ([]model.Observation, bool)
}

type Runner struct {
	provider  SeriesProvider
	reference detect.BatchDetector
	online    *detect.Online
	logger    *slog.Logger
}

func NewRunner(provider SeriesProvider, reference detect.BatchDetector, online *detect.Online, logger *slog.Logger) *Runner {
	return &Runner{provider: provider, reference: reference, online: online, logger: logger}
}

func (r *Runner) Run(ctx context.Context, p Params) (model.EvalReport, error) {
	if err := p.Validate(); err != nil {
		return model.EvalReport{}, fmt.Errorf("eval params: %w", err)
	}
	workers := p.Workers
	if workers < 1 {
		workers = 4
	}
	seed := p.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	started := time.Now().UTC()
	rs := &runState{
		runner:   r,
		params:   p,
		keys:     r.provider.Keys(),
		cache:    make(map[model.SeriesKey]*cacheEntry),
		verified: true,
	}

	var trials []model.Trial
	if len(rs.keys) == 0 {
		if r.logger != nil {
			r.logger.Warn("evaluation run without any stored series")
		}
	} else {
		trials = rs.collect(ctx, workers, seed)
	}

	rep := Aggregate(trials, p.Beta)
	rep.ID = uuid.NewString()
	rep.StartedAt = started
	rep.Duration = time.Since(started)
	rep.Epochs = len(trials)
	rep.WindowSize = p.WindowSize
	rep.CenterOfMass = p.CenterOfMass
	rep.PAnoms = p.PAnoms
	rep.Verified = rs.verifiedSnapshot()

	if r.logger != nil {
		r.logger.Info("evaluation run finished",
			"report_id", rep.ID,
			"epochs", rep.Epochs,
			"score", rep.Score,
			"mean_latency", rep.MeanLatency,
			"excluded", rep.Excluded,
			"degenerate", rep.Degenerate,
		)
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}

type runState struct {
	runner *Runner
	params Params
	keys   []model.SeriesKey

	mu       sync.Mutex
	cache    map[model.SeriesKey]*cacheEntry
	verified bool
}

type cacheEntry struct {
	once sync.Once
	ls   labeledSeries
}

type labeledSeries struct {
	smoothed   []model.Observation
	flagged    map[int]bool
	flaggedIdx []int
	err        error
}

func (rs *runState) collect(ctx context.Context, workers int, seed int64) []model.Trial {
	jobs := make(chan int)
	results := make(chan model.Trial, rs.params.Epochs)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for epoch := range jobs {
				rng := rand.New(rand.NewSource(seed ^ int64(epoch)))
				results <- rs.runTrial(ctx, rng)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < rs.params.Epochs; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(results)

	trials := make([]model.Trial, 0, rs.params.Epochs)
	for tr := range results {
		trials = append(trials, tr)
	}
	return trials
}

func (rs *runState) runTrial(ctx context.Context, rng *rand.Rand) model.Trial {
	key := rs.keys[rng.Intn(len(rs.keys))]
	tr := model.Trial{MachineID: key.MachineID, SensorID: key.SensorID}

	ls := rs.labeled(ctx, key)
	if ls.err != nil {
		tr.Undecidable = true
		return tr
	}
	n := len(ls.smoothed)
	if n <= rs.params.WindowSize {
		tr.Degenerate = true
		return tr
	}

	var idx int
	if rng.Float64() < rs.params.PAnoms {
		idx = rs.pickAnomalyIdx(rng, ls)
		if idx < 0 {
			tr.Degenerate = true
			return tr
		}
	} else {
		idx = rs.params.WindowSize + rng.Intn(n-rs.params.WindowSize)
	}

	tr.Target = ls.smoothed[idx].Timestamp
	tr.GroundTruth = ls.flagged[idx]

	win := window.Slice(ls.smoothed, idx+1, rs.params.WindowSize)
	dec := rs.runner.online.Detect(ctx, win)
	tr.Latency = dec.Latency
	switch dec.Outcome {
	case model.OutcomeAnomaly:
		tr.Predicted = true
	case model.OutcomeUndecidable:
		tr.Undecidable = true
	}
	return tr
}

func (rs *runState) pickAnomalyIdx(rng *rand.Rand, ls *labeledSeries) int {
	if len(ls.flaggedIdx) == 0 {
		return -1
	}
	for attempt := 0; attempt < retryCap; attempt++ {
		idx := ls.flaggedIdx[rng.Intn(len(ls.flaggedIdx))]
		if idx >= rs.params.WindowSize {
			return idx
		}
	}
	return -1
}

func (rs *runState) labeled(ctx context.Context, key model.SeriesKey) *labeledSeries {
	rs.mu.Lock()
	e, ok := rs.cache[key]
	if !ok {
		e = &cacheEntry{}
		rs.cache[key] = e
	}
	rs.mu.Unlock()
	e.once.Do(func() { e.ls = rs.build(ctx, key) })
	return &e.ls
}

func (rs *runState) build(ctx context.Context, key model.SeriesKey) labeledSeries {
	raw, ok := rs.runner.provider.Series(key)
	if !ok || len(raw) == 0 {
		return labeledSeries{err: fmt.Errorf("no history for %s", key)}
	}
	values := make([]float64, len(raw))
	for i, obs := range raw {
		values[i] = obs.Value
	}

	checked := values
	if len(checked) > verifyMaxPoints {
		checked = checked[:verifyMaxPoints]
	}
	if err := smooth.VerifyReplay(checked, rs.params.CenterOfMass, verifyTol); err != nil {
		rs.markUnverified(key, err)
	}

	smoothedVals := smooth.Apply(values, rs.params.CenterOfMass)
	smoothed := make([]model.Observation, len(raw))
	for i := range raw {
		smoothed[i] = model.Observation{Timestamp: raw[i].Timestamp, Value: smoothedVals[i]}
	}

	anoms, err := rs.runner.reference.Detect(ctx, smoothed)
	if err != nil {
		if rs.runner.logger != nil {
			rs.runner.logger.Warn("reference labeling failed", "series", key.String(), "error", err)
		}
		return labeledSeries{err: fmt.Errorf("reference labeling for %s: %w", key, err)}
	}

	flagged := make(map[int]bool, len(anoms))
	flaggedIdx := make([]int, 0, len(anoms))
	i := 0
	for _, a := range anoms {
		for i < len(smoothed) && !smoothed[i].Timestamp.Equal(a.Timestamp) {
			i++
		}
		if i < len(smoothed) {
			flagged[i] = true
			flaggedIdx = append(flaggedIdx, i)
			i++
		}
	}
	return labeledSeries{smoothed: smoothed, flagged: flagged, flaggedIdx: flaggedIdx}
}

func (rs *runState) markUnverified(key model.SeriesKey, err error) {
	rs.mu.Lock()
	rs.verified = false
	rs.mu.Unlock()
	if rs.runner.logger != nil {
		rs.runner.logger.Warn("smoothing replay check failed", "series", key.String(), "error", err)
	}
}

func (rs *runState) verifiedSnapshot() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.verified
}
