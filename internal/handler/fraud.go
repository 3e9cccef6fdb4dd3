package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/trailquest/checkin-service/internal/service"
	"github.com/trailquest/checkin-service/internal/util/logger"
)

// FraudHandler exposes batch fraud analysis of a session's scan
// history to operators.
type FraudHandler struct {
	analyzer *service.Analyzer
}

func NewFraudHandler(analyzer *service.Analyzer) *FraudHandler {
	return &FraudHandler{analyzer: analyzer}
}

func (h *FraudHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session ID")
		return
	}

	analysis, err := h.analyzer.Analyze(r.Context(), sessionID)
	if err != nil {
		logger.Errorf("fraud analysis failed for session %s: %v", sessionID, err)
		writeJSONError(w, http.StatusInternalServerError, "fraud analysis failed")
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}
