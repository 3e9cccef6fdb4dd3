package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/trailquest/checkin-service/internal/config"
	"github.com/trailquest/checkin-service/internal/models"
	"github.com/trailquest/checkin-service/internal/repository"
	"github.com/trailquest/checkin-service/internal/token"
	"github.com/trailquest/checkin-service/internal/util/logger"
)

// Error kinds returned to the scanning client. Structural kinds are
// terminal; the client never sees internal detail beyond these.
const (
	ErrKindInvalidFormat    = "invalid_format"
	ErrKindInvalidSignature = "invalid_signature"
	ErrKindInvalidToken     = "invalid_token"
	ErrKindExpired          = "expired"
	ErrKindSceneNotFound    = "scene_not_found"
	ErrKindValidationFailed = "validation_failed"
)

// Fraud indicators attached to accumulative checks.
const (
	IndicatorFutureTimestamp  = "future_timestamp"
	IndicatorLocationTooFar   = "location_too_far"
	IndicatorImpossibleSpeed  = "impossible_travel_speed"
	IndicatorRateLimit        = "rate_limit_exceeded"
	IndicatorSuspiciousDevice = "suspicious_device"
)

// maxClockSkew is how far in the future an issued_at may sit before the
// token is treated as a replayed or forged-clock artifact.
const maxClockSkew = 60 * time.Second

// minSpeedCheckGap is the smallest gap between two scans for which an
// implied speed is meaningful; anything shorter is GPS noise.
const minSpeedCheckGap = 10 * time.Second

// maxPlausibleSpeedKmh is the fastest movement between checkpoints a
// player on foot or in city traffic can plausibly reach.
const maxPlausibleSpeedKmh = 50.0

// fingerprintHistoryDepth is how many recent prints the device
// consistency check inspects.
const fingerprintHistoryDepth = 5

// ScanInput is what the scanning client submits for one attempt.
type ScanInput struct {
	Token             string
	Location          *models.ScanLocation
	DeviceFingerprint string
	IPAddress         string
}

// SceneLoader abstracts the read-through scene lookup so the validator
// does not care whether a cache sits in front of the repository.
type SceneLoader interface {
	GetSceneByID(ctx context.Context, sceneID uuid.UUID) (*models.Scene, error)
}

// Validator runs the full check pipeline for one incoming scan.
type Validator struct {
	signer *token.Signer
	scenes SceneLoader
	scans  repository.ScanRepository
	cfg    config.RiskConfig
	now    func() time.Time
}

func NewValidator(signer *token.Signer, scenes SceneLoader, scans repository.ScanRepository, cfg config.RiskConfig) *Validator {
	return &Validator{
		signer: signer,
		scenes: scenes,
		scans:  scans,
		cfg:    cfg,
		now:    time.Now,
	}
}

// WithClock replaces the validator's clock. Test seam.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate decodes and judges one scan attempt. Structural failures
// (format, signature, payload, unknown scene) terminate immediately;
// the plausibility checks accumulate risk and the final decision is a
// threshold on the sum. The attempt is appended to the scan history
// whenever the token identified a real scene, valid or not.
func (v *Validator) Validate(ctx context.Context, in ScanInput) *models.ValidationResult {
	// Wall clock times the request; v.now drives the protocol checks.
	wallStart := time.Now()
	start := v.now()

	payloadSeg, signature, err := token.SplitTransport(in.Token)
	if err != nil {
		return v.structuralReject(wallStart, ErrKindInvalidFormat, "QR code format is not recognized")
	}

	if !v.signer.Verify([]byte(payloadSeg), signature) {
		return v.structuralReject(wallStart, ErrKindInvalidSignature, "QR code failed verification")
	}

	payload, err := token.DecodePayload(payloadSeg)
	if err != nil {
		return v.structuralReject(wallStart, ErrKindInvalidToken, "QR code could not be read")
	}
	sceneID, err := uuid.Parse(payload.SceneID)
	if err != nil {
		return v.structuralReject(wallStart, ErrKindInvalidToken, "QR code could not be read")
	}
	sessionID, err := uuid.Parse(payload.SessionID)
	if err != nil {
		return v.structuralReject(wallStart, ErrKindInvalidToken, "QR code could not be read")
	}

	if start.UnixMilli() > payload.ExpiresAt {
		res := v.structuralReject(wallStart, ErrKindExpired, "This QR code has expired")
		res.RiskScore = v.cfg.Weights.Expired
		res.SceneID = payload.SceneID
		res.SessionID = payload.SessionID
		// The signature verified, so the session identity is trusted:
		// expired-token spam still feeds the failure-rate analyzer,
		// as long as the scene is real (scan rows reference scenes).
		if _, serr := v.scenes.GetSceneByID(ctx, sceneID); serr == nil {
			v.appendRecord(ctx, sessionID, sceneID, start, in, false)
		}
		return res
	}

	riskScore := 0
	indicators := make([]string, 0, 4)

	// A token stamped in the future survives, but suspiciously.
	if payload.Timestamp > start.Add(maxClockSkew).UnixMilli() {
		riskScore += v.cfg.Weights.FutureTimestamp
		indicators = append(indicators, IndicatorFutureTimestamp)
	}

	scene, err := v.scenes.GetSceneByID(ctx, sceneID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			res := v.structuralReject(wallStart, ErrKindSceneNotFound, "This checkpoint no longer exists")
			res.SceneID = payload.SceneID
			res.SessionID = payload.SessionID
			return res
		}
		logger.Errorf("scene load failed: scene=%s err=%v", sceneID, err)
		return v.structuralReject(wallStart, ErrKindValidationFailed, "Scan could not be processed")
	}

	result := &models.ValidationResult{
		SceneID:   payload.SceneID,
		SessionID: payload.SessionID,
	}

	delta, distance, far := v.checkProximity(scene, in.Location)
	result.DistanceMeters = distance
	if far {
		riskScore += delta
		indicators = append(indicators, IndicatorLocationTooFar)
	}

	if hit := v.checkTravelSpeed(ctx, sessionID, in.Location, start); hit {
		riskScore += v.cfg.Weights.ImpossibleSpeed
		indicators = append(indicators, IndicatorImpossibleSpeed)
	}

	if hit := v.checkScanRate(ctx, sessionID, sceneID, start); hit {
		riskScore += v.cfg.Weights.RateLimit
		indicators = append(indicators, IndicatorRateLimit)
	}

	if hit := v.checkDeviceConsistency(ctx, sessionID, in.DeviceFingerprint); hit {
		riskScore += v.cfg.Weights.SuspiciousDevice
		indicators = append(indicators, IndicatorSuspiciousDevice)
	}

	result.RiskScore = riskScore
	result.FraudIndicators = indicators
	result.Valid = riskScore < v.cfg.AcceptThreshold
	if result.Valid {
		result.PointsAwarded = scene.PointsReward
		result.Message = "Check-in accepted"
	} else {
		result.Message = "Scan flagged for review"
	}
	result.ProcessingTimeMs = time.Since(wallStart).Milliseconds()

	v.appendRecord(ctx, sessionID, sceneID, start, in, result.Valid)

	return result
}

func (v *Validator) structuralReject(wallStart time.Time, kind, message string) *models.ValidationResult {
	return &models.ValidationResult{
		Valid:            false,
		RiskScore:        v.cfg.Weights.StructuralFailure,
		FraudIndicators:  []string{kind},
		Error:            kind,
		Message:          message,
		ProcessingTimeMs: time.Since(wallStart).Milliseconds(),
	}
}

func (v *Validator) appendRecord(ctx context.Context, sessionID, sceneID uuid.UUID, at time.Time, in ScanInput, valid bool) {
	rec := &models.ScanRecord{
		SessionID:         sessionID,
		SceneID:           sceneID,
		ScannedAt:         at,
		Location:          in.Location,
		DeviceFingerprint: in.DeviceFingerprint,
		IPAddress:         in.IPAddress,
		IsValid:           valid,
	}
	if err := v.scans.AppendScan(ctx, rec); err != nil {
		logger.Errorf("scan record append failed: session=%s scene=%s err=%v", sessionID, sceneID, err)
	}
}
