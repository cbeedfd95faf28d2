package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"review-pulse/database"
	"review-pulse/embedding"
	"review-pulse/engine"
	"review-pulse/propagation"
)

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Hash      string    `json:"hash,omitempty"`
	Vector    []float32 `json:"vector"`
	Dimension int       `json:"dimension"`
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	vec, err := s.engine.Embed(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, embedding.ErrEncodingUnavailable) {
			respondWithError(w, http.StatusServiceUnavailable, "Representation backend unavailable", err)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Embedding failed", err)
		return
	}

	writeJSON(w, http.StatusOK, embedResponse{
		Hash:      embedding.HashText(req.Text),
		Vector:    vec,
		Dimension: len(vec),
	})
}

type anomalyCheckResponse struct {
	engine.AnomalyResult
	InsufficientHistory bool `json:"insufficient_history"`
}

func (s *Server) handleAnomalyCheck(w http.ResponseWriter, r *http.Request) {
	var req engine.ReviewInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.LocationID == "" {
		respondWithError(w, http.StatusBadRequest, "location_id is required", nil)
		return
	}

	result, err := s.engine.ProcessReview(r.Context(), req)
	if err != nil {
		var ve *database.ValidationError
		if errors.As(err, &ve) {
			respondWithError(w, http.StatusBadRequest, ve.Error(), nil)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Anomaly check failed", err)
		return
	}

	// A location still warming up is a flagged 200, not an error.
	writeJSON(w, http.StatusOK, anomalyCheckResponse{
		AnomalyResult:       *result,
		InsufficientHistory: !result.Breakdown.Evaluable,
	})
}

type statsUpdateRequest struct {
	LocationID string  `json:"location_id"`
	Value      float64 `json:"value"`
}

func (s *Server) handleStatsUpdate(w http.ResponseWriter, r *http.Request) {
	var req statsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.LocationID == "" {
		respondWithError(w, http.StatusBadRequest, "location_id is required", nil)
		return
	}

	rolling := s.engine.RecordObservation(req.LocationID, req.Value)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"location_id": rolling.LocationID,
		"count":       rolling.Count,
		"mean":        rolling.Mean,
		"variance":    rolling.Variance(),
		"updated_at":  rolling.UpdatedAt,
	})
}

func (s *Server) handleCriticality(w http.ResponseWriter, r *http.Request) {
	threshold := getFloatParam(r, "threshold", 0)

	entries, stale, available := s.engine.Criticality(threshold)
	if entries == nil {
		entries = []engine.CriticalityEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available": available,
		"stale":     stale,
		"threshold": threshold,
		"entries":   entries,
	})
}

func (s *Server) handleRunPropagation(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.RunPropagation(r.Context())
	if err != nil {
		if errors.Is(err, propagation.ErrPropagationTimeout) {
			respondWithError(w, http.StatusGatewayTimeout, "Propagation run exceeded its budget; previous result kept", err)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Propagation run failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"computed_at": result.ComputedAt,
		"iterations":  result.Iterations,
		"converged":   result.Converged,
		"locations":   len(result.Criticality),
		"chains":      len(result.Chains),
		"duration_ms": result.Duration.Milliseconds(),
	})
}

func (s *Server) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	if target == "" {
		respondWithError(w, http.StatusBadRequest, "target is required", nil)
		return
	}

	sig, err := s.engine.TradingSignalFor(target)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Signal generation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

func (s *Server) handleGetSignalHistory(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	minLimit, maxLimit := 1, 500
	limit := getIntParam(r, "limit", 50, &minLimit, &maxLimit)

	history, err := s.repo.GetSignalHistory(target, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load signal history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}
