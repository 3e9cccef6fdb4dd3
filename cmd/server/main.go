package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/trailquest/checkin-service/internal/client"
	"github.com/trailquest/checkin-service/internal/config"
	"github.com/trailquest/checkin-service/internal/handler"
	"github.com/trailquest/checkin-service/internal/middleware"
	"github.com/trailquest/checkin-service/internal/repository"
	"github.com/trailquest/checkin-service/internal/service"
	"github.com/trailquest/checkin-service/internal/telemetry"
	"github.com/trailquest/checkin-service/internal/token"
	"github.com/trailquest/checkin-service/internal/util/logger"
)

const sceneCacheTTL = 5 * time.Minute

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// overlayRedisConfig fills pool and breaker tuning from the redis:
// config section onto the URL-derived base.
func overlayRedisConfig(dst *client.RedisConfig, src config.RedisConfig) {
	if src.PoolSize > 0 {
		dst.PoolSize = src.PoolSize
	}
	if src.MinIdleConns > 0 {
		dst.MinIdleConns = src.MinIdleConns
	}
	if src.MaxRetries > 0 {
		dst.MaxRetries = src.MaxRetries
	}
	if src.DialTimeout > 0 {
		dst.DialTimeout = src.DialTimeout.Std()
	}
	if src.ReadTimeout > 0 {
		dst.ReadTimeout = src.ReadTimeout.Std()
	}
	if src.WriteTimeout > 0 {
		dst.WriteTimeout = src.WriteTimeout.Std()
	}
	dst.CircuitBreaker = client.CircuitBreakerConfig{
		Enabled:      src.CircuitBreaker.BreakerEnabled(),
		FailureRatio: src.CircuitBreaker.FailureRatio,
		RecoveryTime: src.CircuitBreaker.RecoveryTime.Std(),
		MinRequests:  src.CircuitBreaker.MinRequests,
	}
}

func main() {
	configPath := "config/app-config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		panic(fmt.Errorf("failed to load config: %w", err))
	}

	logger.InitLogger(&logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
	})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Signing secret. Startup fails hard on a missing or placeholder
	// secret; there is no insecure fallback.
	secret, err := config.ResolveTokenSecret(ctx, cfg.Token)
	if err != nil {
		logger.Fatalf("token secret: %v", err)
	}
	signer, err := token.NewSigner(secret)
	if err != nil {
		logger.Fatalf("token signer: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("postgres open: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatalf("postgres ping: %v", err)
	}
	repo := repository.NewPostgresRepository(db)

	var rdb *client.RedisClient
	if cfg.RedisURL != "" {
		rcfg, err := client.ConfigFromURL(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("redis config: %v", err)
		}
		overlayRedisConfig(&rcfg, cfg.Redis)
		rdb, err = client.NewRedisClient(ctx, rcfg)
		if err != nil {
			logger.Warnf("redis unavailable, continuing without cache: %v", err)
			rdb = nil
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var sceneLoader service.SceneLoader = repo
	if rdb != nil {
		sceneLoader = service.NewCachedSceneLoader(repo, rdb, sceneCacheTTL)
	}

	validator := service.NewValidator(signer, sceneLoader, repo, cfg.Risk)
	analyzer := service.NewAnalyzer(repo, cfg.Analyzer)
	issuer := token.NewIssuer(signer, token.IssuerConfig{
		ExpirationMinutes: cfg.Token.ExpirationMinutes,
		AppBaseURL:        cfg.Token.AppBaseURL,
	})

	shipper, err := telemetry.NewKafkaAuditShipper(cfg.Telemetry.Kafka)
	if err != nil {
		logger.Fatalf("kafka shipper init: %v", err)
	}
	shipper.Start()
	defer shipper.Stop(context.Background())

	fpCfg, err := middleware.BuildFingerprintConfigFromApp(cfg.Fingerprint)
	if err != nil {
		logger.Fatalf("fingerprint config: %v", err)
	}

	operatorAuth, err := middleware.NewOperatorAuth(cfg.Auth.OperatorSecret)
	if err != nil {
		logger.Fatalf("operator auth: %v", err)
	}

	limiter := middleware.NewRateLimiter(middleware.LimiterConfig{
		RatePerInterval:       cfg.HTTPLimit.RatePerInterval,
		Interval:              cfg.HTTPLimit.Interval.Std(),
		Burst:                 cfg.HTTPLimit.Burst,
		RouteLimits:           cfg.HTTPLimit.RouteLimits,
		Redis:                 rdb,
		TrustedProxyIPHeaders: cfg.Fingerprint.TrustedProxyIPHeaders,
		TrustedProxyCIDRs:     cfg.Fingerprint.TrustedProxyCIDRs,
	})

	scanHandler := handler.NewScanHandler(validator, shipper)
	tokenHandler := handler.NewTokenHandler(issuer, sceneLoader)
	fraudHandler := handler.NewFraudHandler(analyzer)
	healthHandler := handler.NewHealthHandler(cfg.Env, db, rdb)

	r := chi.NewRouter()
	r.Use(securityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.DeviceFingerprintMiddleware(fpCfg))
	r.Use(middleware.NewRequestAuditMW(shipper).Handler)
	r.Use(limiter.Handler)

	r.Get("/healthz", healthHandler.ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scan", scanHandler.Scan)

		r.Group(func(r chi.Router) {
			r.Use(operatorAuth.Handler)
			r.Post("/scenes/{sceneID}/token", tokenHandler.Issue)
			r.Get("/sessions/{sessionID}/fraud", fraudHandler.Analyze)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Infof("Starting check-in service on %s (env=%s)", srv.Addr, cfg.Env)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown error: %v", err)
	}
}
