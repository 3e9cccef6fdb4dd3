package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailquest/checkin-service/internal/config"
	"github.com/trailquest/checkin-service/internal/models"
	"github.com/trailquest/checkin-service/internal/repository"
	"github.com/trailquest/checkin-service/internal/token"
)

const validatorTestSecret = "validator-test-secret-0123456789"

// fakeSceneRepo serves scenes from a map.
type fakeSceneRepo struct {
	scenes map[uuid.UUID]*models.Scene
}

func (f *fakeSceneRepo) GetSceneByID(_ context.Context, sceneID uuid.UUID) (*models.Scene, error) {
	s, ok := f.scenes[sceneID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

// fakeScanRepo is an in-memory append-only scan store.
type fakeScanRepo struct {
	records []models.ScanRecord
}

func (f *fakeScanRepo) AppendScan(_ context.Context, rec *models.ScanRecord) error {
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeScanRepo) LastScanWithLocation(_ context.Context, sessionID uuid.UUID) (*models.ScanRecord, error) {
	for i := len(f.records) - 1; i >= 0; i-- {
		r := f.records[i]
		if r.SessionID == sessionID && r.Location != nil {
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeScanRepo) CountScansSince(_ context.Context, sessionID, sceneID uuid.UUID, since time.Time) (int, error) {
	count := 0
	for _, r := range f.records {
		if r.SessionID == sessionID && r.SceneID == sceneID && !r.ScannedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeScanRepo) RecentFingerprints(_ context.Context, sessionID uuid.UUID, limit int) ([]string, error) {
	prints := make([]string, 0, limit)
	for i := len(f.records) - 1; i >= 0 && len(prints) < limit; i-- {
		r := f.records[i]
		if r.SessionID == sessionID && r.DeviceFingerprint != "" {
			prints = append(prints, r.DeviceFingerprint)
		}
	}
	return prints, nil
}

func (f *fakeScanRepo) ScanHistory(_ context.Context, sessionID uuid.UUID) ([]models.ScanRecord, error) {
	out := make([]models.ScanRecord, 0)
	for _, r := range f.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

type validatorFixture struct {
	validator *Validator
	signer    *token.Signer
	scenes    *fakeSceneRepo
	scans     *fakeScanRepo
	scene     *models.Scene
	sceneID   uuid.UUID
	sessionID uuid.UUID
	now       time.Time
}

func newValidatorFixture(t *testing.T) *validatorFixture {
	t.Helper()

	signer, err := token.NewSigner(validatorTestSecret)
	require.NoError(t, err)

	sceneID := uuid.New()
	scene := &models.Scene{
		ID:               sceneID,
		AdventureID:      uuid.New(),
		Name:             "Fountain Plaza",
		Location:         models.GeoPoint{Lat: 48.8566, Lng: 2.3522},
		ProximityRadiusM: 50,
		PointsReward:     100,
	}

	scenes := &fakeSceneRepo{scenes: map[uuid.UUID]*models.Scene{sceneID: scene}}
	scans := &fakeScanRepo{}

	cfg := config.RiskConfig{}
	full := &config.Config{Risk: cfg}
	full.ApplyDefaults()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	v := NewValidator(signer, scenes, scans, full.Risk).WithClock(func() time.Time { return now })

	return &validatorFixture{
		validator: v,
		signer:    signer,
		scenes:    scenes,
		scans:     scans,
		scene:     scene,
		sceneID:   sceneID,
		sessionID: uuid.New(),
		now:       now,
	}
}

// mintToken signs a payload with the fixture clock as issue time.
func (fx *validatorFixture) mintToken(t *testing.T, mutate func(*token.Payload)) string {
	t.Helper()
	p := token.Payload{
		SceneID:   fx.sceneID.String(),
		SessionID: fx.sessionID.String(),
		Timestamp: fx.now.UnixMilli(),
		ExpiresAt: fx.now.Add(60 * time.Minute).UnixMilli(),
		Nonce:     "dGVzdC1ub25jZS0xMjM0NTY",
	}
	if mutate != nil {
		mutate(&p)
	}
	seg, err := token.EncodePayload(p)
	require.NoError(t, err)
	return token.JoinTransport(seg, fx.signer.Sign([]byte(seg)))
}

func (fx *validatorFixture) atScene() *models.ScanLocation {
	return &models.ScanLocation{Lat: fx.scene.Location.Lat, Lng: fx.scene.Location.Lng}
}

func TestValidateAcceptsFreshToken(t *testing.T) {
	fx := newValidatorFixture(t)
	result := fx.validator.Validate(context.Background(), ScanInput{
		Token:    fx.mintToken(t, nil),
		Location: fx.atScene(),
	})

	assert.True(t, result.Valid)
	assert.Zero(t, result.RiskScore)
	assert.Empty(t, result.FraudIndicators)
	assert.Equal(t, 100, result.PointsAwarded)
	assert.Equal(t, fx.sceneID.String(), result.SceneID)
	assert.Equal(t, fx.sessionID.String(), result.SessionID)
	require.Len(t, fx.scans.records, 1)
	assert.True(t, fx.scans.records[0].IsValid)
}

func TestValidateRejectsMalformedFormat(t *testing.T) {
	fx := newValidatorFixture(t)

	for _, raw := range []string{"", "no-dot-here", "a.b.c", ".sig", "payload."} {
		result := fx.validator.Validate(context.Background(), ScanInput{Token: raw})
		assert.False(t, result.Valid, "token %q", raw)
		assert.Equal(t, ErrKindInvalidFormat, result.Error)
		assert.Equal(t, 100, result.RiskScore)
	}
	assert.Empty(t, fx.scans.records, "structural rejects must not be recorded")
}

func TestValidateRejectsBadSignature(t *testing.T) {
	fx := newValidatorFixture(t)
	tok := fx.mintToken(t, nil)

	// Re-sign with a different key.
	other, err := token.NewSigner("some-other-secret-0123456789")
	require.NoError(t, err)
	seg, _, err := token.SplitTransport(tok)
	require.NoError(t, err)
	forged := token.JoinTransport(seg, other.Sign([]byte(seg)))

	result := fx.validator.Validate(context.Background(), ScanInput{Token: forged})
	assert.False(t, result.Valid)
	assert.Equal(t, ErrKindInvalidSignature, result.Error)
	assert.Equal(t, 100, result.RiskScore)
}

func TestValidateRejectsUnparseableIDs(t *testing.T) {
	fx := newValidatorFixture(t)
	tok := fx.mintToken(t, func(p *token.Payload) { p.SceneID = "not-a-uuid" })

	result := fx.validator.Validate(context.Background(), ScanInput{Token: tok})
	assert.False(t, result.Valid)
	assert.Equal(t, ErrKindInvalidToken, result.Error)
}

func TestValidateExpiryBoundary(t *testing.T) {
	fx := newValidatorFixture(t)

	expired := fx.mintToken(t, func(p *token.Payload) {
		p.Timestamp = fx.now.Add(-61 * time.Minute).UnixMilli()
		p.ExpiresAt = fx.now.Add(-1 * time.Minute).UnixMilli()
	})
	result := fx.validator.Validate(context.Background(), ScanInput{Token: expired})
	assert.False(t, result.Valid)
	assert.Equal(t, ErrKindExpired, result.Error)
	assert.Equal(t, 20, result.RiskScore)

	fresh := fx.mintToken(t, func(p *token.Payload) {
		p.Timestamp = fx.now.Add(-59 * time.Minute).UnixMilli()
		p.ExpiresAt = fx.now.Add(1 * time.Minute).UnixMilli()
	})
	result = fx.validator.Validate(context.Background(), ScanInput{Token: fresh, Location: fx.atScene()})
	assert.True(t, result.Valid)
}

func TestValidateExpiredAttemptIsRecorded(t *testing.T) {
	fx := newValidatorFixture(t)
	expired := fx.mintToken(t, func(p *token.Payload) {
		p.ExpiresAt = fx.now.Add(-1 * time.Minute).UnixMilli()
	})

	result := fx.validator.Validate(context.Background(), ScanInput{Token: expired})
	assert.Equal(t, ErrKindExpired, result.Error)
	assert.Equal(t, fx.sessionID.String(), result.SessionID)

	// The signature verified and the scene is real, so the attempt
	// lands in the history for the failure-rate analyzer.
	require.Len(t, fx.scans.records, 1)
	assert.False(t, fx.scans.records[0].IsValid)
	assert.Equal(t, fx.sessionID, fx.scans.records[0].SessionID)
	assert.Equal(t, fx.sceneID, fx.scans.records[0].SceneID)
}

func TestValidateExpiredUnknownSceneNotRecorded(t *testing.T) {
	fx := newValidatorFixture(t)
	expired := fx.mintToken(t, func(p *token.Payload) {
		p.SceneID = uuid.New().String()
		p.ExpiresAt = fx.now.Add(-1 * time.Minute).UnixMilli()
	})

	result := fx.validator.Validate(context.Background(), ScanInput{Token: expired})
	assert.Equal(t, ErrKindExpired, result.Error)
	assert.Empty(t, fx.scans.records)
}

func TestValidateProcessingTimeUsesWallClock(t *testing.T) {
	fx := newValidatorFixture(t)

	// The fixture clock sits months away from the wall clock; the
	// reported duration must reflect the actual request time.
	result := fx.validator.Validate(context.Background(), ScanInput{
		Token:    fx.mintToken(t, nil),
		Location: fx.atScene(),
	})
	assert.GreaterOrEqual(t, result.ProcessingTimeMs, int64(0))
	assert.Less(t, result.ProcessingTimeMs, int64(60_000))

	rejected := fx.validator.Validate(context.Background(), ScanInput{Token: "garbage"})
	assert.GreaterOrEqual(t, rejected.ProcessingTimeMs, int64(0))
	assert.Less(t, rejected.ProcessingTimeMs, int64(60_000))
}

func TestValidateRejectsUnknownScene(t *testing.T) {
	fx := newValidatorFixture(t)
	tok := fx.mintToken(t, func(p *token.Payload) { p.SceneID = uuid.NewString() })

	result := fx.validator.Validate(context.Background(), ScanInput{Token: tok})
	assert.False(t, result.Valid)
	assert.Equal(t, ErrKindSceneNotFound, result.Error)
	assert.Equal(t, 100, result.RiskScore)
	assert.Empty(t, fx.scans.records)
}

func TestValidateFutureTimestamp(t *testing.T) {
	fx := newValidatorFixture(t)
	tok := fx.mintToken(t, func(p *token.Payload) {
		p.Timestamp = fx.now.Add(5 * time.Minute).UnixMilli()
		p.ExpiresAt = fx.now.Add(65 * time.Minute).UnixMilli()
	})

	result := fx.validator.Validate(context.Background(), ScanInput{Token: tok, Location: fx.atScene()})
	assert.True(t, result.Valid) // 30 < 70
	assert.Equal(t, 30, result.RiskScore)
	assert.Contains(t, result.FraudIndicators, IndicatorFutureTimestamp)
}

func TestValidateProximityContribution(t *testing.T) {
	fx := newValidatorFixture(t)

	// ~0.01 deg latitude north of the scene is ~1112 m away. With a
	// 50 m tolerance the overshoot is ~1062 m, which rounds to 106
	// and is capped at 50.
	far := &models.ScanLocation{Lat: fx.scene.Location.Lat + 0.01, Lng: fx.scene.Location.Lng}
	result := fx.validator.Validate(context.Background(), ScanInput{Token: fx.mintToken(t, nil), Location: far})

	assert.True(t, result.Valid) // 50 < 70
	assert.Equal(t, 50, result.RiskScore)
	assert.Contains(t, result.FraudIndicators, IndicatorLocationTooFar)
	require.NotNil(t, result.DistanceMeters)
	assert.InDelta(t, 1112, *result.DistanceMeters, 5)
}

func TestValidateProximityJustOverTolerance(t *testing.T) {
	fx := newValidatorFixture(t)

	// ~100 m north: overshoot ~50 m, risk round(50/10) = 5.
	near := &models.ScanLocation{Lat: fx.scene.Location.Lat + 0.0009, Lng: fx.scene.Location.Lng}
	result := fx.validator.Validate(context.Background(), ScanInput{Token: fx.mintToken(t, nil), Location: near})

	assert.True(t, result.Valid)
	assert.Contains(t, result.FraudIndicators, IndicatorLocationTooFar)
	assert.Greater(t, result.RiskScore, 0)
	assert.LessOrEqual(t, result.RiskScore, 10)
}

func TestValidateNoLocationSkipsSpatialChecks(t *testing.T) {
	fx := newValidatorFixture(t)
	result := fx.validator.Validate(context.Background(), ScanInput{Token: fx.mintToken(t, nil)})

	assert.True(t, result.Valid)
	assert.Zero(t, result.RiskScore)
	assert.Nil(t, result.DistanceMeters)
}

func TestValidateImpossibleTravelSpeed(t *testing.T) {
	fx := newValidatorFixture(t)

	// Previous scan 60 s ago, ~5 km away: 300 km/h implied.
	fx.scans.records = append(fx.scans.records, models.ScanRecord{
		SessionID: fx.sessionID,
		SceneID:   uuid.New(),
		ScannedAt: fx.now.Add(-60 * time.Second),
		Location:  &models.ScanLocation{Lat: fx.scene.Location.Lat + 0.045, Lng: fx.scene.Location.Lng},
		IsValid:   true,
	})

	result := fx.validator.Validate(context.Background(), ScanInput{Token: fx.mintToken(t, nil), Location: fx.atScene()})
	assert.True(t, result.Valid) // 40 < 70
	assert.Equal(t, 40, result.RiskScore)
	assert.Contains(t, result.FraudIndicators, IndicatorImpossibleSpeed)
}

func TestValidatePlausibleTravelSpeed(t *testing.T) {
	fx := newValidatorFixture(t)

	// ~1.1 km in 2 minutes is ~33 km/h; inside the plausible bound.
	fx.scans.records = append(fx.scans.records, models.ScanRecord{
		SessionID: fx.sessionID,
		SceneID:   uuid.New(),
		ScannedAt: fx.now.Add(-2 * time.Minute),
		Location:  &models.ScanLocation{Lat: fx.scene.Location.Lat + 0.01, Lng: fx.scene.Location.Lng},
		IsValid:   true,
	})

	result := fx.validator.Validate(context.Background(), ScanInput{Token: fx.mintToken(t, nil), Location: fx.atScene()})
	assert.True(t, result.Valid)
	assert.NotContains(t, result.FraudIndicators, IndicatorImpossibleSpeed)
}

func TestValidateSpeedCheckSkipsShortGap(t *testing.T) {
	fx := newValidatorFixture(t)

	// Same 5 km jump but only 5 s earlier: below the minimum gap, so
	// the speed check must not fire.
	fx.scans.records = append(fx.scans.records, models.ScanRecord{
		SessionID: fx.sessionID,
		SceneID:   uuid.New(),
		ScannedAt: fx.now.Add(-5 * time.Second),
		Location:  &models.ScanLocation{Lat: fx.scene.Location.Lat + 0.045, Lng: fx.scene.Location.Lng},
		IsValid:   true,
	})

	result := fx.validator.Validate(context.Background(), ScanInput{Token: fx.mintToken(t, nil), Location: fx.atScene()})
	assert.NotContains(t, result.FraudIndicators, IndicatorImpossibleSpeed)
}

func TestValidateRateLimitOnRepeatScan(t *testing.T) {
	fx := newValidatorFixture(t)

	first := fx.validator.Validate(context.Background(), ScanInput{Token: fx.mintToken(t, nil), Location: fx.atScene()})
	require.True(t, first.Valid)

	second := fx.validator.Validate(context.Background(), ScanInput{Token: fx.mintToken(t, nil), Location: fx.atScene()})
	assert.Equal(t, 50, second.RiskScore)
	assert.Contains(t, second.FraudIndicators, IndicatorRateLimit)
	assert.True(t, second.Valid) // 50 < 70 on its own
}

func TestValidateSuspiciousDevice(t *testing.T) {
	fx := newValidatorFixture(t)

	for i, print := range []string{"dev-a", "dev-b", "dev-c"} {
		fx.scans.records = append(fx.scans.records, models.ScanRecord{
			SessionID:         fx.sessionID,
			SceneID:           uuid.New(),
			ScannedAt:         fx.now.Add(time.Duration(-10+i) * time.Minute),
			DeviceFingerprint: print,
			IsValid:           true,
		})
	}

	result := fx.validator.Validate(context.Background(), ScanInput{
		Token:             fx.mintToken(t, nil),
		Location:          fx.atScene(),
		DeviceFingerprint: "dev-d",
	})
	assert.Equal(t, 25, result.RiskScore)
	assert.Contains(t, result.FraudIndicators, IndicatorSuspiciousDevice)
}

func TestValidateKnownDeviceNotSuspicious(t *testing.T) {
	fx := newValidatorFixture(t)

	for i, print := range []string{"dev-a", "dev-b", "dev-c"} {
		fx.scans.records = append(fx.scans.records, models.ScanRecord{
			SessionID:         fx.sessionID,
			SceneID:           uuid.New(),
			ScannedAt:         fx.now.Add(time.Duration(-10+i) * time.Minute),
			DeviceFingerprint: print,
			IsValid:           true,
		})
	}

	result := fx.validator.Validate(context.Background(), ScanInput{
		Token:             fx.mintToken(t, nil),
		Location:          fx.atScene(),
		DeviceFingerprint: "dev-b",
	})
	assert.NotContains(t, result.FraudIndicators, IndicatorSuspiciousDevice)
}

func TestValidateAccumulationCrossesThreshold(t *testing.T) {
	fx := newValidatorFixture(t)

	// Prior scan for the rate limit (+50), then scan from far away
	// (+50 capped): 100 >= 70 rejects.
	fx.scans.records = append(fx.scans.records, models.ScanRecord{
		SessionID: fx.sessionID,
		SceneID:   fx.sceneID,
		ScannedAt: fx.now.Add(-30 * time.Second),
		IsValid:   true,
	})

	far := &models.ScanLocation{Lat: fx.scene.Location.Lat + 0.02, Lng: fx.scene.Location.Lng}
	result := fx.validator.Validate(context.Background(), ScanInput{Token: fx.mintToken(t, nil), Location: far})

	assert.False(t, result.Valid)
	assert.Equal(t, 100, result.RiskScore)
	assert.Zero(t, result.PointsAwarded)
	assert.ElementsMatch(t, []string{IndicatorLocationTooFar, IndicatorRateLimit}, result.FraudIndicators)

	// The rejected attempt still lands in history.
	rejected := fx.scans.records[len(fx.scans.records)-1]
	assert.False(t, rejected.IsValid)
}

func TestValidateLocationChecksDisabled(t *testing.T) {
	fx := newValidatorFixture(t)
	off := false
	fx.validator.cfg.EnableLocationValidation = &off

	far := &models.ScanLocation{Lat: fx.scene.Location.Lat + 0.02, Lng: fx.scene.Location.Lng}
	result := fx.validator.Validate(context.Background(), ScanInput{Token: fx.mintToken(t, nil), Location: far})

	assert.True(t, result.Valid)
	assert.Zero(t, result.RiskScore)
	assert.Nil(t, result.DistanceMeters)
}

func TestValidateSceneRadiusWidensTolerance(t *testing.T) {
	fx := newValidatorFixture(t)
	fx.scene.ProximityRadiusM = 2000

	// ~1112 m away but within the scene's own radius.
	loc := &models.ScanLocation{Lat: fx.scene.Location.Lat + 0.01, Lng: fx.scene.Location.Lng}
	result := fx.validator.Validate(context.Background(), ScanInput{Token: fx.mintToken(t, nil), Location: loc})

	assert.True(t, result.Valid)
	assert.NotContains(t, result.FraudIndicators, IndicatorLocationTooFar)
}
