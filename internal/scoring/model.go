package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/montanaflynn/stats"
)

type Model interface {
	Score(rows [][]float64) ([]float64, error)
}

type ZScoreModel struct {
	Means   []float64 `json:"means"`
	Stddevs []float64 `json:"stddevs"`
}

func FitZScore(rows [][]float64) (*ZScoreModel, error) {
	if len(rows) == 0 {
		return nil, errors.New("no training rows")
	}
	width := len(rows[0])
	if width == 0 {
		return nil, errors.New("empty training rows")
	}
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), width)
		}
	}
	m := &ZScoreModel{
		Means:   make([]float64, width),
		Stddevs: make([]float64, width),
	}
	col := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		mean, err := stats.Mean(col)
		if err != nil {
			return nil, fmt.Errorf("fit column %d: %w", j, err)
		}
		sd, err := stats.StandardDeviation(col)
		if err != nil {
			return nil, fmt.Errorf("fit column %d: %w", j, err)
		}
		if sd < 1e-9 {
			sd = 1e-9
		}
		m.Means[j] = mean
		m.Stddevs[j] = sd
	}
	return m, nil
}

func (m *ZScoreModel) validate() error {
	if len(m.Means) == 0 || len(m.Means) != len(m.Stddevs) {
		return errors.New("model baseline is malformed")
	}
	for _, sd := range m.Stddevs {
		if sd <= 0 || math.IsNaN(sd) || math.IsInf(sd, 0) {
			return errors.New("model stddev must be positive and finite")
		}
	}
	return nil
}

func (m *ZScoreModel) Score(rows [][]float64) ([]float64, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	width := len(m.Means)
	out := make([]float64, 0, len(rows))
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(row), width)
		}
		best := 0.0
		for j, v := range row {
			z := math.Abs(v-m.Means[j]) / m.Stddevs[j]
			if z > best {
				best = z
			}
		}
		out = append(out, best)
	}
	return out, nil
}

func LoadModel(path string) (*ZScoreModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var m ZScoreModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *ZScoreModel) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
