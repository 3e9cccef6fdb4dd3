package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 60, cfg.Token.ExpirationMinutes)

	assert.Equal(t, 50.0, cfg.Risk.ProximityToleranceMeters)
	assert.Equal(t, 1, cfg.Risk.MaxScansPerUser)
	assert.Equal(t, 60*time.Second, cfg.Risk.RateLimitWindow.Std())
	assert.Equal(t, 70, cfg.Risk.AcceptThreshold)

	w := cfg.Risk.Weights
	assert.Equal(t, 20, w.Expired)
	assert.Equal(t, 30, w.FutureTimestamp)
	assert.Equal(t, 50, w.LocationTooFarCap)
	assert.Equal(t, 40, w.ImpossibleSpeed)
	assert.Equal(t, 50, w.RateLimit)
	assert.Equal(t, 25, w.SuspiciousDevice)
	assert.Equal(t, 100, w.StructuralFailure)

	aw := cfg.Analyzer.Weights
	assert.Equal(t, 30, aw.RapidScanning)
	assert.Equal(t, 40, aw.Teleportation)
	assert.Equal(t, 25, aw.DeviceSwitching)
	assert.Equal(t, 20, aw.HighFailureRate)
	assert.Equal(t, 15, aw.IPSwitching)

	cb := cfg.Redis.CircuitBreaker
	assert.True(t, cb.BreakerEnabled())
	assert.Equal(t, 0.5, cb.FailureRatio)
	assert.Equal(t, 30*time.Second, cb.RecoveryTime.Std())
	assert.Equal(t, uint64(10), cb.MinRequests)
}

func TestEnableFlagsDefaultTrue(t *testing.T) {
	r := RiskConfig{}
	assert.True(t, r.LocationValidationEnabled())
	assert.True(t, r.DeviceFingerprintingEnabled())

	off := false
	r.EnableLocationValidation = &off
	r.EnableDeviceFingerprinting = &off
	assert.False(t, r.LocationValidationEnabled())
	assert.False(t, r.DeviceFingerprintingEnabled())
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_QR_SECRET", "from-environment-0123456789")

	path := filepath.Join(t.TempDir(), "app-config.yaml")
	doc := `
env: staging
port: 9090
token:
  secret: ${TEST_QR_SECRET}
  expiration_minutes: 15
risk:
  rate_limit_window: 30s
  enable_location_validation: false
http_rate_limit:
  interval: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "from-environment-0123456789", cfg.Token.Secret)
	assert.Equal(t, 15, cfg.Token.ExpirationMinutes)
	assert.Equal(t, 30*time.Second, cfg.Risk.RateLimitWindow.Std())
	assert.Equal(t, time.Minute, cfg.HTTPLimit.Interval.Std())
	assert.False(t, cfg.Risk.LocationValidationEnabled())

	// Unset knobs still get defaults.
	assert.Equal(t, 70, cfg.Risk.AcceptThreshold)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDurationUnmarshalForms(t *testing.T) {
	var d Duration

	require.NoError(t, yaml.Unmarshal([]byte("2m30s"), &d))
	assert.Equal(t, 2*time.Minute+30*time.Second, d.Std())

	require.NoError(t, yaml.Unmarshal([]byte("45"), &d))
	assert.Equal(t, 45*time.Second, d.Std())

	assert.Error(t, yaml.Unmarshal([]byte(`"not-a-duration"`), &d))
}
