package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/trailquest/checkin-service/internal/repository"
	"github.com/trailquest/checkin-service/internal/service"
	"github.com/trailquest/checkin-service/internal/token"
	"github.com/trailquest/checkin-service/internal/util/logger"
)

// TokenHandler issues signed check-in tokens for operators preparing
// QR codes. The scene must exist before a token is minted for it.
type TokenHandler struct {
	issuer *token.Issuer
	scenes service.SceneLoader
}

func NewTokenHandler(issuer *token.Issuer, scenes service.SceneLoader) *TokenHandler {
	return &TokenHandler{issuer: issuer, scenes: scenes}
}

type issueTokenRequest struct {
	SessionID string `json:"session_id"`
}

func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	sceneID, err := uuid.Parse(chi.URLParam(r, "sceneID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid scene ID")
		return
	}

	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session ID")
		return
	}

	if _, err := h.scenes.GetSceneByID(r.Context(), sceneID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "scene not found")
			return
		}
		logger.Errorf("token issue: scene lookup failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "scene lookup failed")
		return
	}

	issued, err := h.issuer.Issue(sceneID, sessionID)
	if err != nil {
		logger.Errorf("token issue failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "token issue failed")
		return
	}

	writeJSON(w, http.StatusCreated, issued)
}
