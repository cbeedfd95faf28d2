package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"review-pulse/database"
)

// handleHealth returns liveness plus model, propagation and feed status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	model := s.engine.Lifecycle().Status()
	_, stale, available := s.engine.Criticality(0)

	health := map[string]interface{}{
		"status": "ok",
		"model":  model,
		"propagation": map[string]interface{}{
			"available": available,
			"stale":     stale,
		},
	}
	if s.feedHealth != nil {
		health["feed_healthy"] = s.feedHealth()
	}
	writeJSON(w, http.StatusOK, health)
}

// Configuration Handlers (Webhooks Only)

func (s *Server) handleGetWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := s.repo.GetWebhooks()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load webhooks", err)
		return
	}
	writeJSON(w, http.StatusOK, webhooks)
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var webhook database.SignalWebhook
	if err := json.NewDecoder(r.Body).Decode(&webhook); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if webhook.URL == "" {
		respondWithError(w, http.StatusBadRequest, "url is required", nil)
		return
	}

	webhook.ID = uuid.NewString()

	if err := s.repo.CreateWebhook(&webhook); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to create webhook", err)
		return
	}

	// Refresh webhook manager cache
	if s.webhookMq != nil {
		s.webhookMq.RefreshCache()
	}

	writeJSON(w, http.StatusCreated, webhook)
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", nil)
		return
	}

	var webhook database.SignalWebhook
	if err := json.NewDecoder(r.Body).Decode(&webhook); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	webhook.ID = id // Ensure ID matches path
	if err := s.repo.UpdateWebhook(&webhook); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to update webhook", err)
		return
	}

	// Refresh webhook manager cache
	if s.webhookMq != nil {
		s.webhookMq.RefreshCache()
	}

	writeJSON(w, http.StatusOK, webhook)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", nil)
		return
	}

	if err := s.repo.DeleteWebhook(id); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to delete webhook", err)
		return
	}

	// Refresh webhook manager cache
	if s.webhookMq != nil {
		s.webhookMq.RefreshCache()
	}

	w.WriteHeader(http.StatusNoContent)
}
