package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/law-makers/harvest/internal/engine"
	"github.com/law-makers/harvest/internal/reqctx"
	"github.com/law-makers/harvest/pkg/models"
)

const maxBodyBytes = 4 << 20

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"credentials": s.runner.Pool().AvailableCount(),
	})
}

// startRun runs a batch. With ?async=1 it answers 202 at once and the
// caller polls the progress endpoint.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req models.BatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "request body must be JSON with a urls array")
		return
	}
	// inputs pass through untouched so outcome i always answers urls[i];
	// malformed entries come back as invalid_input outcomes
	if len(req.URLs) == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "urls must not be empty")
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	if s.runner.Pool().Size() == 0 {
		writeError(w, r, http.StatusServiceUnavailable, "no_credentials", engine.ErrNoCredentials.Error())
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))

	parent := r.Context()
	if async {
		parent = s.base
	}
	ctx, cancel := context.WithCancel(parent)
	if err := s.reserve(req.RunID, cancel); err != nil {
		cancel()
		writeError(w, r, http.StatusConflict, "run_in_progress", err.Error())
		return
	}

	if async {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release(req.RunID)
			defer cancel()
			if _, err := s.runner.Run(ctx, req); err != nil {
				s.logger.Error().Err(err).Str("run_id", req.RunID).Msg("Async run failed to start")
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]any{
			"runId":  req.RunID,
			"status": models.StatusInProgress,
		})
		return
	}

	defer s.release(req.RunID)
	defer cancel()
	resp, err := s.runner.Run(ctx, req)
	if err != nil {
		s.logger.Error().Err(reqctx.NewRequestError(r.Context(), err)).Str("run_id", req.RunID).Msg("Run failed to start")
		switch {
		case errors.Is(err, engine.ErrRunInProgress):
			writeError(w, r, http.StatusConflict, "run_in_progress", err.Error())
		case errors.Is(err, engine.ErrNoCredentials):
			writeError(w, r, http.StatusServiceUnavailable, "no_credentials", err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	writeJSON(w, http.StatusOK, s.runner.Progress().Get(runID))
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	if !s.cancelRunning(r.PathValue("runID")) {
		writeError(w, r, http.StatusNotFound, "not_found", "no run with this id is in progress")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) credentials(w http.ResponseWriter, r *http.Request) {
	pool := s.runner.Pool()
	writeJSON(w, http.StatusOK, map[string]any{
		"total":       pool.Size(),
		"available":   pool.AvailableCount(),
		"credentials": pool.Stats(),
	})
}
