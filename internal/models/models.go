package models

import (
	"time"

	"github.com/google/uuid"
)

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ScanLocation is a client-reported device location. Accuracy is the
// radius in meters the device reports for its own fix.
type ScanLocation struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

// Scene is a physical checkpoint in an adventure. Scenes are authored
// elsewhere; this service only reads them.
type Scene struct {
	ID               uuid.UUID `json:"id"`
	AdventureID      uuid.UUID `json:"adventure_id"`
	Name             string    `json:"name"`
	Location         GeoPoint  `json:"location"`
	ProximityRadiusM float64   `json:"proximity_radius_m"`
	PointsReward     int       `json:"points_reward"`
	QRCodeRequired   bool      `json:"qr_code_required"`
}

// ScanRecord is one scan attempt for a session. Rows are append-only:
// the validator inserts one per attempt (valid or not) and nothing in
// this service ever updates or deletes them.
type ScanRecord struct {
	ID                uuid.UUID     `json:"id"`
	SessionID         uuid.UUID     `json:"session_id"`
	SceneID           uuid.UUID     `json:"scene_id"`
	ScannedAt         time.Time     `json:"scanned_at"`
	Location          *ScanLocation `json:"scan_location,omitempty"`
	DeviceFingerprint string        `json:"device_fingerprint,omitempty"`
	IPAddress         string        `json:"ip_address,omitempty"`
	IsValid           bool          `json:"is_valid"`
}

// ValidationResult is returned to the scanning client after each
// attempt. It is transient; only the derived ScanRecord is persisted.
type ValidationResult struct {
	Valid            bool     `json:"valid"`
	RiskScore        int      `json:"risk_score"`
	FraudIndicators  []string `json:"fraud_indicators"`
	DistanceMeters   *float64 `json:"distance_meters,omitempty"`
	SceneID          string   `json:"scene_id,omitempty"`
	SessionID        string   `json:"session_id,omitempty"`
	PointsAwarded    int      `json:"points_awarded"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Error            string   `json:"error,omitempty"`
	Message          string   `json:"message,omitempty"`
}

// FraudRiskLevel is the categorical output of the batch analyzer.
type FraudRiskLevel string

const (
	RiskLevelLow      FraudRiskLevel = "low"
	RiskLevelMedium   FraudRiskLevel = "medium"
	RiskLevelHigh     FraudRiskLevel = "high"
	RiskLevelCritical FraudRiskLevel = "critical"
)

// FraudAnalysis summarizes a whole session's scan history. It flags
// sessions for review and never gates individual scans.
type FraudAnalysis struct {
	SessionID        uuid.UUID      `json:"session_id"`
	FraudProbability int            `json:"fraud_probability"`
	RiskLevel        FraudRiskLevel `json:"risk_level"`
	Indicators       []string       `json:"indicators"`
	ScansAnalyzed    int            `json:"scans_analyzed"`
	AnalyzedAt       time.Time      `json:"analyzed_at"`
}
