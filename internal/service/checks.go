package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/trailquest/checkin-service/internal/models"
	"github.com/trailquest/checkin-service/internal/repository"
	"github.com/trailquest/checkin-service/internal/util"
	"github.com/trailquest/checkin-service/internal/util/logger"
)

// checkProximity compares the reported location against the scene. The
// effective tolerance is the larger of the scene's own radius and the
// configured default, so a generous checkpoint is never penalized by a
// tight global setting. The risk contribution grows with overshoot,
// one point per 10 meters, capped.
func (v *Validator) checkProximity(scene *models.Scene, loc *models.ScanLocation) (delta int, distance *float64, hit bool) {
	if loc == nil || !v.cfg.LocationValidationEnabled() {
		return 0, nil, false
	}

	d := util.HaversineDistance(loc.Lat, loc.Lng, scene.Location.Lat, scene.Location.Lng)
	distance = &d

	tolerance := math.Max(scene.ProximityRadiusM, v.cfg.ProximityToleranceMeters)
	if d <= tolerance {
		return 0, distance, false
	}

	overshoot := int(math.Round((d - tolerance) / 10))
	if overshoot > v.cfg.Weights.LocationTooFarCap {
		overshoot = v.cfg.Weights.LocationTooFarCap
	}
	return overshoot, distance, true
}

// checkTravelSpeed flags movement from the previous located scan that
// no player could have managed. Gaps under ten seconds carry too much
// GPS noise to judge and are skipped. Persistence failures assume safe.
func (v *Validator) checkTravelSpeed(ctx context.Context, sessionID uuid.UUID, loc *models.ScanLocation, now time.Time) bool {
	if loc == nil || !v.cfg.LocationValidationEnabled() {
		return false
	}

	prev, err := v.scans.LastScanWithLocation(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Warnf("travel speed check skipped: session=%s err=%v", sessionID, err)
		}
		return false
	}
	if prev.Location == nil {
		return false
	}

	elapsed := now.Sub(prev.ScannedAt)
	if elapsed < minSpeedCheckGap {
		return false
	}

	d := util.HaversineDistance(prev.Location.Lat, prev.Location.Lng, loc.Lat, loc.Lng)
	speed := util.SpeedKmh(d, elapsed.Seconds())
	return speed > maxPlausibleSpeedKmh
}

// checkScanRate counts prior attempts for this session/scene inside
// the rolling window. The count-then-insert pattern is a soft bound:
// two concurrent duplicates can both pass. That is accepted, not a bug.
func (v *Validator) checkScanRate(ctx context.Context, sessionID, sceneID uuid.UUID, now time.Time) bool {
	since := now.Add(-v.cfg.RateLimitWindow.Std())
	count, err := v.scans.CountScansSince(ctx, sessionID, sceneID, since)
	if err != nil {
		logger.Warnf("rate limit check skipped: session=%s scene=%s err=%v", sessionID, sceneID, err)
		return false
	}
	return count >= v.cfg.MaxScansPerUser
}

// checkDeviceConsistency inspects the session's recent fingerprints.
// A session already spread across more than two devices, scanned now
// from yet another unseen one, is the dominant sharing pattern.
func (v *Validator) checkDeviceConsistency(ctx context.Context, sessionID uuid.UUID, fingerprint string) bool {
	if fingerprint == "" || !v.cfg.DeviceFingerprintingEnabled() {
		return false
	}

	prints, err := v.scans.RecentFingerprints(ctx, sessionID, fingerprintHistoryDepth)
	if err != nil {
		logger.Warnf("device consistency check skipped: session=%s err=%v", sessionID, err)
		return false
	}

	distinct := make(map[string]struct{}, len(prints))
	for _, p := range prints {
		distinct[p] = struct{}{}
	}
	if len(distinct) <= 2 {
		return false
	}
	_, seen := distinct[fingerprint]
	return !seen
}
