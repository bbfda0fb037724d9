package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"machguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:machguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			machine_id TEXT NOT NULL,
			sensor_id TEXT NOT NULL,
			value REAL NOT NULL,
			smoothed REAL NOT NULL,
			outcome TEXT NOT NULL,
			latency_ms REAL NOT NULL,
			window_len INTEGER NOT NULL,
			source TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_series ON detections(machine_id, sensor_id)`,
		`CREATE TABLE IF NOT EXISTS eval_reports (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			duration_ms REAL NOT NULL,
			score REAL NOT NULL,
			report_json TEXT NOT NULL
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

func (s *sqliteStore) SaveDetection(ctx context.Context, det model.Detection) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO detections (id, ts, machine_id, sensor_id, value, smoothed, outcome, latency_ms, window_len, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *sqliteStore) SaveEvalReport(ctx context.Context, rep model.EvalReport) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO eval_reports (id, started_at, duration_ms, score, report_json)
		VALUES (?, ?, ?, ?, ?)`,
		rep.ID,
		rep.StartedAt.UTC(),
		latencyMillis(rep.Duration),
		rep.Score,
		encodeJSON(rep),
	)
	return err
}
