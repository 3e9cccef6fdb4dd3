package config

type Config struct {
	Env         string       `yaml:"env" env:"APP_ENV"`
	Port        int          `yaml:"port" env:"PORT"`
	DatabaseURL string       `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string       `yaml:"redis_url" env:"REDIS_URL"`
	Redis       RedisConfig  `yaml:"redis"`
	Logger      LoggerConfig `yaml:"logger"`

	Token       TokenConfig       `yaml:"token"`
	Risk        RiskConfig        `yaml:"risk"`
	Analyzer    AnalyzerConfig    `yaml:"analyzer"`
	Auth        AuthConfig        `yaml:"auth"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	HTTPLimit   HTTPLimitConfig   `yaml:"http_rate_limit"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// RedisConfig overlays pool and circuit-breaker tuning on top of the
// connection details parsed from RedisURL.
type RedisConfig struct {
	PoolSize       int                  `yaml:"pool_size"`
	MinIdleConns   int                  `yaml:"min_idle_conns"`
	MaxRetries     int                  `yaml:"max_retries"`
	DialTimeout    Duration             `yaml:"dial_timeout"`
	ReadTimeout    Duration             `yaml:"read_timeout"`
	WriteTimeout   Duration             `yaml:"write_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled      *bool    `yaml:"enabled"`
	FailureRatio float64  `yaml:"failure_ratio"`
	RecoveryTime Duration `yaml:"recovery_time"`
	MinRequests  uint64   `yaml:"min_requests"`
}

type LoggerConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// TokenConfig configures the signing primitive and issuer.
// Secret must not be empty or the documented placeholder; startup
// fails on either. SecretRef optionally names an AWS Secrets Manager
// secret that overrides Secret at boot.
type TokenConfig struct {
	Secret            string `yaml:"secret" env:"QR_TOKEN_SECRET"`
	SecretRef         string `yaml:"secret_ref" env:"QR_TOKEN_SECRET_REF"`
	ExpirationMinutes int    `yaml:"expiration_minutes"`
	AppBaseURL        string `yaml:"app_base_url"`
}

// RiskConfig centralizes every weight and threshold the validator
// uses. The numbers are tuned heuristics, not calibrated probabilities;
// keeping them here is what makes them tunable.
type RiskConfig struct {
	ProximityToleranceMeters   float64     `yaml:"proximity_tolerance_meters"`
	MaxScansPerUser            int         `yaml:"max_scans_per_user"`
	RateLimitWindow            Duration    `yaml:"rate_limit_window"`
	EnableLocationValidation   *bool       `yaml:"enable_location_validation"`
	EnableDeviceFingerprinting *bool       `yaml:"enable_device_fingerprinting"`
	AcceptThreshold            int         `yaml:"accept_threshold"`
	Weights                    RiskWeights `yaml:"weights"`
}

type RiskWeights struct {
	Expired           int `yaml:"expired"`
	FutureTimestamp   int `yaml:"future_timestamp"`
	LocationTooFarCap int `yaml:"location_too_far_cap"`
	ImpossibleSpeed   int `yaml:"impossible_speed"`
	RateLimit         int `yaml:"rate_limit"`
	SuspiciousDevice  int `yaml:"suspicious_device"`
	StructuralFailure int `yaml:"structural_failure"`
}

type AnalyzerConfig struct {
	Weights AnalyzerWeights `yaml:"weights"`
}

type AnalyzerWeights struct {
	RapidScanning   int `yaml:"rapid_scanning"`
	Teleportation   int `yaml:"teleportation"`
	DeviceSwitching int `yaml:"device_switching"`
	HighFailureRate int `yaml:"high_failure_rate"`
	IPSwitching     int `yaml:"ip_switching"`
}

type AuthConfig struct {
	OperatorSecret string `yaml:"operator_secret" env:"OPERATOR_JWT_SECRET"`
}

type FingerprintConfig struct {
	TrustedProxyIPHeaders []string `yaml:"trusted_proxy_ip_headers"`
	TrustedProxyCIDRs     []string `yaml:"trusted_proxy_cidrs"`
	EnableIPBucketing     bool     `yaml:"enable_ip_bucketing"`
	ServerPepper          string   `yaml:"server_pepper" env:"FP_PEPPER"`
}

type HTTPLimitConfig struct {
	RatePerInterval int          `yaml:"rate_per_interval"`
	Interval        Duration     `yaml:"interval"`
	Burst           int          `yaml:"burst"`
	RouteLimits     []RouteLimit `yaml:"route_limits"`
}

type RouteLimit struct {
	PathPrefix      string   `yaml:"path_prefix"`
	RatePerInterval int      `yaml:"rate_per_interval"`
	Interval        Duration `yaml:"interval"`
	Burst           int      `yaml:"burst"`
}

type TelemetryConfig struct {
	Kafka KafkaAuditConfig `yaml:"kafka"`
}

type KafkaAuditConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	TopicScans    string   `yaml:"topic_scans"`
	BatchSize     int      `yaml:"batch_size"`
	FlushEvery    Duration `yaml:"flush_every"`
	QueueCapacity int      `yaml:"queue_capacity"`
	DialTimeout   Duration `yaml:"dial_timeout"`
	WriteTimeout  Duration `yaml:"write_timeout"`
	TLS           bool     `yaml:"tls"`
}
