package telemetry

import "time"

// RequestAuditEvent is emitted for every HTTP request that passes
// through the audit middleware. Device fields are the peppered hashes
// from the fingerprint middleware, never raw identifiers.
type RequestAuditEvent struct {
	Timestamp  time.Time `json:"@timestamp"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	DeviceKey  string    `json:"device_key,omitempty"`
	Platform   string    `json:"platform,omitempty"`
	IPBucket   string    `json:"ip_bucket,omitempty"`
}

// ScanAuditEvent records the outcome of one check-in validation.
type ScanAuditEvent struct {
	Timestamp       time.Time `json:"@timestamp"`
	SessionID       string    `json:"session_id"`
	SceneID         string    `json:"scene_id,omitempty"`
	Valid           bool      `json:"valid"`
	RiskScore       int       `json:"risk_score"`
	FraudIndicators []string  `json:"fraud_indicators,omitempty"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	DistanceMeters  *float64  `json:"distance_meters,omitempty"`
	DeviceKey       string    `json:"device_key,omitempty"`
	IPBucket        string    `json:"ip_bucket,omitempty"`
	ProcessingTime  int64     `json:"processing_time_ms"`
}
