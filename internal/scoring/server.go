package scoring

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"machguard/internal/config"
)

type Server struct {
	model  Model
	logger *slog.Logger
}

func NewServer(model Model, logger *slog.Logger) *Server {
	return &Server{model: model, logger: logger}
}

func Start(ctx context.Context, cfg config.ScoringConfig, model Model, logger *slog.Logger) *http.Server {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("scoring service disabled")
		}
		return nil
	}
	if model == nil {
		if logger != nil {
			logger.Error("scoring service enabled without a model")
		}
		return nil
	}
	if logger != nil {
		logger.Info("scoring service enabled", "addr", cfg.Addr)
	}
	server := NewServer(model, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/score", server.handleScore)
	mux.HandleFunc("/", server.handleScore)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	httpServer := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("scoring server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request: "+err.Error())
		return
	}
	var req struct {
		Data [][]float64 `json:"data"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	if req.Data == nil {
		writeError(w, http.StatusBadRequest, "request has no data")
		return
	}
	scores, err := s.model.Score(req.Data)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("scoring failed", "rows", len(req.Data), "err", err)
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": scores})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
