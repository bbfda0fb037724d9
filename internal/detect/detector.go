package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"machguard/internal/model"
)

var ErrTooShort = errors.New("series too short for detector")

type Direction string

const (
	DirectionBoth     Direction = "both"
	DirectionPositive Direction = "positive"
	DirectionNegative Direction = "negative"
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionBoth, DirectionPositive, DirectionNegative:
		return true
	}
	return false
}

type Config struct {
	Alpha     float64   `yaml:"alpha" json:"alpha"`
	MaxAnoms  float64   `yaml:"max_anoms" json:"max_anoms"`
	Direction Direction `yaml:"direction" json:"direction"`
	Longterm  bool      `yaml:"longterm" json:"longterm"`
	EValue    bool      `yaml:"e_value" json:"e_value"`
	Period    int       `yaml:"period" json:"period"`
	MinPoints int       `yaml:"min_points" json:"min_points"`
}

func DefaultConfig() Config {
	return Config{
		Alpha:     0.05,
		MaxAnoms:  0.02,
		Direction: DirectionBoth,
		MinPoints: 12,
	}
}

func (c Config) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha must be in (0, 1], got %v", c.Alpha)
	}
	if c.MaxAnoms <= 0 || c.MaxAnoms > 1 {
		return fmt.Errorf("max_anoms must be in (0, 1], got %v", c.MaxAnoms)
	}
	if !c.Direction.Valid() {
		return fmt.Errorf("unknown direction %q", c.Direction)
	}
	if c.Period < 0 {
		return fmt.Errorf("period must be >= 0, got %d", c.Period)
	}
	if c.MinPoints < 4 {
		return fmt.Errorf("min_points must be >= 4, got %d", c.MinPoints)
	}
	return nil
}

type Anomaly struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Expected  float64   `json:"expected,omitempty"`
	Score     float64   `json:"score"`
}

type BatchDetector interface {
	Detect(ctx context.Context, series []model.Observation) ([]Anomaly, error)
}
