package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/trailquest/checkin-service/internal/config"
	"github.com/trailquest/checkin-service/internal/models"
	"github.com/trailquest/checkin-service/internal/repository"
	"github.com/trailquest/checkin-service/internal/util"
)

// Indicators emitted by the batch analyzer.
const (
	IndicatorRapidScanning   = "rapid_scanning"
	IndicatorTeleportation   = "location_teleportation"
	IndicatorDeviceSwitching = "device_switching"
	IndicatorHighFailureRate = "high_failure_rate"
	IndicatorIPSwitching     = "ip_switching"
)

const (
	rapidScanGap       = 5 * time.Second
	rapidScanPairLimit = 2 // more than this many sub-gap pairs trips the detector
	teleportSpeedKmh   = 100.0
	deviceSwitchLimit  = 3 // distinct fingerprints beyond this trips
	failureRateWindow  = 10
	failureRateLimit   = 0.7
	ipSwitchLimit      = 2 // distinct addresses beyond this trips
)

// Analyzer runs the offline fraud pattern pass over a session's full
// scan history. It is read-only and never gates an individual scan.
type Analyzer struct {
	scans repository.ScanRepository
	cfg   config.AnalyzerConfig
	now   func() time.Time
}

func NewAnalyzer(scans repository.ScanRepository, cfg config.AnalyzerConfig) *Analyzer {
	return &Analyzer{scans: scans, cfg: cfg, now: time.Now}
}

// Analyze fetches the session history and scores it.
func (a *Analyzer) Analyze(ctx context.Context, sessionID uuid.UUID) (*models.FraudAnalysis, error) {
	history, err := a.scans.ScanHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	res := a.AnalyzeHistory(history)
	res.SessionID = sessionID
	return res, nil
}

// AnalyzeHistory scores an ordered scan history. Each detector is
// independent and contributes its weight at most once; the sum is
// clamped to 100.
func (a *Analyzer) AnalyzeHistory(history []models.ScanRecord) *models.FraudAnalysis {
	w := a.cfg.Weights
	score := 0
	indicators := make([]string, 0, 5)

	if a.detectRapidScanning(history) {
		score += w.RapidScanning
		indicators = append(indicators, IndicatorRapidScanning)
	}
	if a.detectTeleportation(history) {
		score += w.Teleportation
		indicators = append(indicators, IndicatorTeleportation)
	}
	if a.detectDeviceSwitching(history) {
		score += w.DeviceSwitching
		indicators = append(indicators, IndicatorDeviceSwitching)
	}
	if a.detectHighFailureRate(history) {
		score += w.HighFailureRate
		indicators = append(indicators, IndicatorHighFailureRate)
	}
	if a.detectIPSwitching(history) {
		score += w.IPSwitching
		indicators = append(indicators, IndicatorIPSwitching)
	}

	if score > 100 {
		score = 100
	}

	return &models.FraudAnalysis{
		FraudProbability: score,
		RiskLevel:        riskLevelFor(score),
		Indicators:       indicators,
		ScansAnalyzed:    len(history),
		AnalyzedAt:       a.now().UTC(),
	}
}

func riskLevelFor(score int) models.FraudRiskLevel {
	switch {
	case score >= 80:
		return models.RiskLevelCritical
	case score >= 60:
		return models.RiskLevelHigh
	case score >= 30:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

// detectRapidScanning counts consecutive pairs closer than five
// seconds; a burst of three or more such pairs is machine-like.
func (a *Analyzer) detectRapidScanning(history []models.ScanRecord) bool {
	pairs := 0
	for i := 1; i < len(history); i++ {
		if history[i].ScannedAt.Sub(history[i-1].ScannedAt) < rapidScanGap {
			pairs++
		}
	}
	return pairs > rapidScanPairLimit
}

// detectTeleportation looks for any consecutive located pair whose
// implied speed exceeds what a vehicle in a city could manage.
func (a *Analyzer) detectTeleportation(history []models.ScanRecord) bool {
	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1], history[i]
		if prev.Location == nil || cur.Location == nil {
			continue
		}
		elapsed := cur.ScannedAt.Sub(prev.ScannedAt).Seconds()
		if elapsed <= 0 {
			continue
		}
		d := util.HaversineDistance(prev.Location.Lat, prev.Location.Lng, cur.Location.Lat, cur.Location.Lng)
		if util.SpeedKmh(d, elapsed) > teleportSpeedKmh {
			return true
		}
	}
	return false
}

func (a *Analyzer) detectDeviceSwitching(history []models.ScanRecord) bool {
	distinct := make(map[string]struct{})
	for _, rec := range history {
		if rec.DeviceFingerprint != "" {
			distinct[rec.DeviceFingerprint] = struct{}{}
		}
	}
	return len(distinct) > deviceSwitchLimit
}

// detectHighFailureRate checks the failure ratio across the ten most
// recent attempts.
func (a *Analyzer) detectHighFailureRate(history []models.ScanRecord) bool {
	if len(history) == 0 {
		return false
	}
	recent := history
	if len(recent) > failureRateWindow {
		recent = recent[len(recent)-failureRateWindow:]
	}
	failures := 0
	for _, rec := range recent {
		if !rec.IsValid {
			failures++
		}
	}
	return float64(failures)/float64(len(recent)) > failureRateLimit
}

func (a *Analyzer) detectIPSwitching(history []models.ScanRecord) bool {
	distinct := make(map[string]struct{})
	for _, rec := range history {
		if rec.IPAddress != "" {
			distinct[rec.IPAddress] = struct{}{}
		}
	}
	return len(distinct) > ipSwitchLimit
}
