package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"machguard/internal/config"
	"machguard/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveDetection(ctx context.Context, det model.Detection) error
	SaveEvalReport(ctx context.Context, rep model.EvalReport) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func latencyMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
