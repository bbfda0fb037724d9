package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"machguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/machguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			machine_id TEXT NOT NULL,
			sensor_id TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			smoothed DOUBLE PRECISION NOT NULL,
			outcome TEXT NOT NULL,
			latency_ms DOUBLE PRECISION NOT NULL,
			window_len INTEGER NOT NULL,
			source TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_series ON detections(machine_id, sensor_id)`,
		`CREATE TABLE IF NOT EXISTS eval_reports (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			duration_ms DOUBLE PRECISION NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			report_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_eval_reports_started ON eval_reports(started_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveDetection(ctx context.Context, det model.Detection) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO detections (id, ts, machine_id, sensor_id, value, smoothed, outcome, latency_ms, window_len, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		det.ID,
		det.Timestamp.UTC(),
		det.MachineID,
		det.SensorID,
		det.Value,
		det.Smoothed,
		string(det.Outcome),
		latencyMillis(det.Latency),
		det.WindowLen,
		det.Source,
	)
	return err
}

func (s *postgresStore) SaveEvalReport(ctx context.Context, rep model.EvalReport) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO eval_reports (id, started_at, duration_ms, score, report_json)
		VALUES ($1, $2, $3, $4, $5)`,
		rep.ID,
		rep.StartedAt.UTC(),
		latencyMillis(rep.Duration),
		rep.Score,
		encodeJSON(rep),
	)
	return err
}
