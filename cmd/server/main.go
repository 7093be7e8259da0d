package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/floudsdb/vectorgate/internal/aead"
	"github.com/floudsdb/vectorgate/internal/api"
	"github.com/floudsdb/vectorgate/internal/authtoken"
	"github.com/floudsdb/vectorgate/internal/config"
	"github.com/floudsdb/vectorgate/internal/configstore"
	"github.com/floudsdb/vectorgate/internal/health"
	"github.com/floudsdb/vectorgate/internal/keymanager"
	"github.com/floudsdb/vectorgate/internal/logging"
	"github.com/floudsdb/vectorgate/internal/middleware"
	"github.com/floudsdb/vectorgate/internal/milvusclient"
	"github.com/floudsdb/vectorgate/internal/pool"
	"github.com/floudsdb/vectorgate/internal/provisioning"
	"github.com/floudsdb/vectorgate/internal/ratelimit"
	"github.com/floudsdb/vectorgate/internal/security"
	"github.com/floudsdb/vectorgate/internal/startup"
	"github.com/floudsdb/vectorgate/internal/store"
	"github.com/floudsdb/vectorgate/internal/vectorstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	env := os.Getenv("FLOUDS_ENV")
	if env == "" {
		env = "development"
	}
	logger, err := logging.New(env, cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	startup.MustValidate(cfg, logger)

	ctx := context.Background()

	// ConfigStore -> KeyManager -> ConnectionPool, per the gateway's
	// layered dependency order: KeyManager needs the same Postgres pool
	// ConfigStore reads from, and the vector-DB connection pool is only
	// exercised once both identity layers are up.
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to Postgres", zap.Error(err))
	}
	defer db.Pool.Close()

	var cipher interface {
		Encrypt(string) (string, error)
		Decrypt(string) (string, error)
	}
	if cfg.ConfigEncryptionKey != "" {
		c, err := aead.New(cfg.ConfigEncryptionKey)
		if err != nil {
			logger.Fatal("failed to initialise config encryption", zap.Error(err))
		}
		cipher = c
	}

	configs := configstore.New(db, cipher)
	keys := keymanager.New(db, cipher, cfg.SecretsDir)
	if err := keys.EnsureBootstrapAdmin(ctx); err != nil {
		logger.Fatal("failed to ensure bootstrap admin", zap.Error(err))
	}

	dial := func(ctx context.Context, key pool.Key, secret string) (milvusclient.Client, error) {
		return milvusclient.Dial(ctx, milvusclient.GRPCConfig{
			Address:  key.URI,
			User:     key.User,
			Password: secret,
			Database: key.DB,
		})
	}
	connPool := pool.New(dial, pool.Config{
		MaxEntries: cfg.PoolMaxEntries,
		MaxIdle:    time.Duration(cfg.PoolMaxIdleSec) * time.Second,
		SweepEvery: time.Duration(cfg.PoolSweepSec) * time.Second,
	})
	defer connPool.Close(5 * time.Second)

	adminClient, err := milvusclient.Dial(ctx, milvusclient.GRPCConfig{
		Address:  cfg.MilvusURI,
		User:     cfg.MilvusUser,
		Password: cfg.MilvusPassword,
		Database: cfg.MilvusNetwork,
	})
	if err != nil {
		logger.Fatal("failed to dial Milvus admin connection", zap.Error(err))
	}
	defer adminClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := middleware.NewMetrics(registry)

	var redisClient *redis.Client
	if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
		redisClient = redis.NewClient(opts)
	} else {
		logger.Warn("invalid REDIS_URL, rate limiting falls back to in-process buckets", zap.Error(err))
	}

	limiter := ratelimit.New(ratelimit.Config{
		IPLimit:       cfg.RateLimitIPPerMinute,
		TenantDefault: cfg.RateLimitTenantDefault,
		TenantPremium: cfg.RateLimitTenantPremium,
		RedisClient:   redisClient,
		TierLookup: func(ctx context.Context, tenant string) (string, error) {
			tier, err := configs.GetDecrypted(ctx, "rate_limit_tier", tenant)
			if err != nil || tier == "" {
				return "default", nil
			}
			return tier, nil
		},
	})
	defer limiter.Close()

	cleanupEvery := time.Duration(cfg.PoolSweepSec) * time.Second
	if cleanupEvery <= 0 {
		cleanupEvery = 60 * time.Second
	}
	go func() {
		for range time.Tick(cleanupEvery) {
			limiter.CleanupInactive()
		}
	}()

	offenders := ratelimit.NewOffenderTracker(ratelimit.OffenderConfig{})

	policy := &security.Policy{
		Configs:             configs,
		DefaultCORSOrigins:  cfg.CORSOrigins,
		DefaultTrustedHosts: cfg.TrustedHosts,
	}

	pipeline := &middleware.Pipeline{
		Policy:        policy,
		Authenticator: keys,
		Limiter:       limiter,
		Offenders:     offenders,
		Logger:        logger,
		Recorder:      metrics,
		MaxBodyBytes:  10 << 20,
	}

	issuer := authtoken.New(cfg.JWTSecret, 24*time.Hour)
	checker := health.New(adminClient, connPool, cfg, "1.0.0")

	router := api.NewRouter(&api.Deps{
		Pipeline:     pipeline,
		KeyManager:   keys,
		ConfigStore:  configs,
		VectorStore:  vectorstore.New(),
		Provisioning: provisioning.New(configs),
		Pool:         connPool,
		Config:       cfg,
		Health:       checker,
		Issuer:       issuer,
	})

	srv := &http.Server{
		Addr:         cfg.ServerHost + ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.RequestTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.AdminTimeoutSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
