package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/trailquest/checkin-service/internal/middleware"
	"github.com/trailquest/checkin-service/internal/models"
	"github.com/trailquest/checkin-service/internal/service"
	"github.com/trailquest/checkin-service/internal/telemetry"
)

// ScanHandler accepts QR check-in submissions from player apps.
type ScanHandler struct {
	validator *service.Validator
	shipper   middleware.Publisher
}

func NewScanHandler(validator *service.Validator, shipper middleware.Publisher) *ScanHandler {
	return &ScanHandler{validator: validator, shipper: shipper}
}

type scanRequest struct {
	Token             string               `json:"token"`
	Location          *models.ScanLocation `json:"location,omitempty"`
	DeviceFingerprint string               `json:"device_fingerprint,omitempty"`
}

func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		writeJSONError(w, http.StatusBadRequest, "token is required")
		return
	}

	in := service.ScanInput{
		Token:             req.Token,
		Location:          req.Location,
		DeviceFingerprint: req.DeviceFingerprint,
	}
	if fp, ok := middleware.FromContext(r.Context()); ok {
		// The header-derived key is the fallback when the app sends
		// no fingerprint of its own.
		if in.DeviceFingerprint == "" {
			in.DeviceFingerprint = fp.DeviceKey
		}
		in.IPAddress = fp.IPAddress
	}

	result := h.validator.Validate(r.Context(), in)
	h.audit(r, in, result)

	// Rejected scans still return 200: the outcome is in the body,
	// 4xx is reserved for malformed requests.
	writeJSON(w, http.StatusOK, result)
}

func (h *ScanHandler) audit(r *http.Request, in service.ScanInput, result *models.ValidationResult) {
	if h.shipper == nil {
		return
	}
	ev := telemetry.ScanAuditEvent{
		Timestamp:       time.Now().UTC(),
		SessionID:       result.SessionID,
		SceneID:         result.SceneID,
		Valid:           result.Valid,
		RiskScore:       result.RiskScore,
		FraudIndicators: result.FraudIndicators,
		ErrorKind:       result.Error,
		DistanceMeters:  result.DistanceMeters,
		ProcessingTime:  result.ProcessingTimeMs,
	}
	if fp, ok := middleware.FromContext(r.Context()); ok {
		ev.DeviceKey = fp.DeviceKey
		ev.IPBucket = fp.IPBucket
	}
	h.shipper.Publish(ev)
}
