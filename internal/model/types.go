package model

import "time"

type SeriesKey struct {
	MachineID string `json:"machine_id"`
	SensorID  string `json:"sensor_id"`
}

func (k SeriesKey) String() string {
	return k.MachineID + "/" + k.SensorID
}

type Observation struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	MachineID string    `json:"machine_id"`
	SensorID  string    `json:"sensor_id"`
	Value     float64   `json:"value"`
	Source    string    `json:"source,omitempty"`
}

func (r Reading) Key() SeriesKey {
	return SeriesKey{MachineID: r.MachineID, SensorID: r.SensorID}
}

func (r Reading) Observation() Observation {
	return Observation{Timestamp: r.Timestamp, Value: r.Value}
}

type Outcome string

const (
	OutcomeNormal      Outcome = "normal"
	OutcomeAnomaly     Outcome = "anomaly"
	OutcomeUndecidable Outcome = "undecidable"
)

type Detection struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	MachineID string        `json:"machine_id"`
	SensorID  string        `json:"sensor_id"`
	Value     float64       `json:"value"`
	Smoothed  float64       `json:"smoothed"`
	Outcome   Outcome       `json:"outcome"`
	Latency   time.Duration `json:"latency"`
	WindowLen int           `json:"window_len"`
	Source    string        `json:"source,omitempty"`
}

func (d Detection) Key() SeriesKey {
	return SeriesKey{MachineID: d.MachineID, SensorID: d.SensorID}
}

type SeriesStats struct {
	MachineID   string        `json:"machine_id"`
	SensorID    string        `json:"sensor_id"`
	Count       int64         `json:"count"`
	LastValue   float64       `json:"last_value"`
	Smoothed    float64       `json:"smoothed"`
	Anomalies   int64         `json:"anomalies"`
	Undecided   int64         `json:"undecided"`
	LastLatency time.Duration `json:"last_latency"`
}

type Trial struct {
	MachineID   string        `json:"machine_id"`
	SensorID    string        `json:"sensor_id"`
	Target      time.Time     `json:"target"`
	GroundTruth bool          `json:"ground_truth"`
	Predicted   bool          `json:"predicted"`
	Undecidable bool          `json:"undecidable"`
	Degenerate  bool          `json:"degenerate"`
	Latency     time.Duration `json:"latency"`
}

type EvalReport struct {
	ID               string        `json:"id"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	Epochs           int           `json:"epochs"`
	WindowSize       int           `json:"window_size"`
	CenterOfMass     float64       `json:"center_of_mass"`
	PAnoms           float64       `json:"p_anoms"`
	Beta             float64       `json:"beta"`
	Score            float64       `json:"score"`
	MeanLatency      time.Duration `json:"mean_latency"`
	TruePositives    int           `json:"true_positives"`
	FalsePositives   int           `json:"false_positives"`
	TrueNegatives    int           `json:"true_negatives"`
	FalseNegatives   int           `json:"false_negatives"`
	Excluded         int           `json:"excluded"`
	DegenerateTrials int           `json:"degenerate_trials"`
	Verified         bool          `json:"verified"`
	Degenerate       bool          `json:"degenerate"`
}
