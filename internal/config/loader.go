package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from YAML with environment variable
// expansion, then fills defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills every zero-valued knob with its documented
// default so the rest of the code never re-checks.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Encoding == "" {
		c.Logger.Encoding = "console"
	}

	if c.Token.ExpirationMinutes == 0 {
		c.Token.ExpirationMinutes = 60
	}

	cb := &c.Redis.CircuitBreaker
	if cb.FailureRatio == 0 {
		cb.FailureRatio = 0.5
	}
	if cb.RecoveryTime == 0 {
		cb.RecoveryTime = Duration(30 * time.Second)
	}
	if cb.MinRequests == 0 {
		cb.MinRequests = 10
	}

	r := &c.Risk
	if r.ProximityToleranceMeters == 0 {
		r.ProximityToleranceMeters = 50
	}
	if r.MaxScansPerUser == 0 {
		r.MaxScansPerUser = 1
	}
	if r.RateLimitWindow == 0 {
		r.RateLimitWindow = Duration(60 * time.Second)
	}
	if r.AcceptThreshold == 0 {
		r.AcceptThreshold = 70
	}
	w := &r.Weights
	if w.Expired == 0 {
		w.Expired = 20
	}
	if w.FutureTimestamp == 0 {
		w.FutureTimestamp = 30
	}
	if w.LocationTooFarCap == 0 {
		w.LocationTooFarCap = 50
	}
	if w.ImpossibleSpeed == 0 {
		w.ImpossibleSpeed = 40
	}
	if w.RateLimit == 0 {
		w.RateLimit = 50
	}
	if w.SuspiciousDevice == 0 {
		w.SuspiciousDevice = 25
	}
	if w.StructuralFailure == 0 {
		w.StructuralFailure = 100
	}

	aw := &c.Analyzer.Weights
	if aw.RapidScanning == 0 {
		aw.RapidScanning = 30
	}
	if aw.Teleportation == 0 {
		aw.Teleportation = 40
	}
	if aw.DeviceSwitching == 0 {
		aw.DeviceSwitching = 25
	}
	if aw.HighFailureRate == 0 {
		aw.HighFailureRate = 20
	}
	if aw.IPSwitching == 0 {
		aw.IPSwitching = 15
	}
}

// LocationValidationEnabled defaults to true when unset.
func (r *RiskConfig) LocationValidationEnabled() bool {
	return r.EnableLocationValidation == nil || *r.EnableLocationValidation
}

// DeviceFingerprintingEnabled defaults to true when unset.
func (r *RiskConfig) DeviceFingerprintingEnabled() bool {
	return r.EnableDeviceFingerprinting == nil || *r.EnableDeviceFingerprinting
}

// BreakerEnabled defaults to true when unset.
func (c *CircuitBreakerConfig) BreakerEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
