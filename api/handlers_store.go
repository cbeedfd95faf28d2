package api

import (
	"encoding/json"
	"net/http"

	"review-pulse/database"
)

func (s *Server) handleGetLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := s.repo.GetLocations()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load locations", err)
		return
	}
	writeJSON(w, http.StatusOK, locations)
}

func (s *Server) handleUpsertLocation(w http.ResponseWriter, r *http.Request) {
	var loc database.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if loc.ID == "" {
		respondWithError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	if err := s.repo.UpsertLocation(&loc); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to save location", err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleGetAnomalies(w http.ResponseWriter, r *http.Request) {
	minScore := getFloatParam(r, "min_score", 0.5)
	minHours, maxHours := 1, 720
	hoursBack := getIntParam(r, "hours", 24, &minHours, &maxHours)
	minLimit, maxLimit := 1, 1000
	limit := getIntParam(r, "limit", 100, &minLimit, &maxLimit)

	anomalies, err := s.repo.GetRecentAnomalies(minScore, hoursBack, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load anomalies", err)
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func (s *Server) handleDailyVolume(w http.ResponseWriter, r *http.Request) {
	locationID := r.URL.Query().Get("location_id")
	if locationID == "" {
		respondWithError(w, http.StatusBadRequest, "location_id is required", nil)
		return
	}
	minDays, maxDays := 1, 90
	days := getIntParam(r, "days", 30, &minDays, &maxDays)

	volume, err := s.analytics.DailyReviewVolume(locationID, days)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load review volume", err)
		return
	}
	writeJSON(w, http.StatusOK, volume)
}

func (s *Server) handleRatingWindows(w http.ResponseWriter, r *http.Request) {
	minHours, maxHours := 1, 720
	hoursBack := getIntParam(r, "hours", 24, &minHours, &maxHours)

	windows, err := s.analytics.RatingWindows(hoursBack)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load rating windows", err)
		return
	}
	writeJSON(w, http.StatusOK, windows)
}
