package api

import (
	"errors"
	"net/http"

	"review-pulse/detector"
)

// handleRetrain triggers a synchronous model retrain. The external
// scheduler owns the cadence; this endpoint only does the work.
func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Lifecycle().Retrain(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, detector.ErrRetrainInProgress):
			respondWithError(w, http.StatusConflict, "Retrain already in progress", nil)
		case errors.Is(err, detector.ErrInsufficientTrainingData):
			respondWithError(w, http.StatusPreconditionFailed, "Not enough training data; previous model kept", err)
		default:
			respondWithError(w, http.StatusInternalServerError, "Retrain failed; previous model kept", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":       snap.Version,
		"trained_at":    snap.TrainedAt,
		"training_size": snap.TrainingSize,
		"window_days":   snap.WindowDays,
	})
}

func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Lifecycle().Status())
}
