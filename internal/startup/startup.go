// Package startup validates the loaded configuration before the gateway
// binds a listener, so a misconfigured process fails fast at boot rather
// than accepting traffic it cannot actually serve.
package startup

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/floudsdb/vectorgate/internal/config"
)

// ValidationError collects every configuration problem found, instead of
// stopping at the first one, so an operator can fix them all in one pass.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Issues, "; "))
}

// Validate checks cfg for the settings the gateway cannot run without.
func Validate(cfg *config.Config) error {
	var issues []string

	if cfg.MilvusURI == "" {
		issues = append(issues, "FLOUDS_MILVUS_URI is required")
	}
	if cfg.MilvusUser == "" {
		issues = append(issues, "FLOUDS_MILVUS_USER is required")
	}
	if cfg.DatabaseURL == "" {
		issues = append(issues, "DATABASE_URL is required")
	}
	if cfg.DefaultDimension <= 0 {
		issues = append(issues, "FLOUDS_DEFAULT_DIMENSION must be positive")
	}
	if cfg.ServerPort == "" {
		issues = append(issues, "FLOUDS_SERVER_PORT is required")
	}
	if cfg.SecurityEnabled && cfg.JWTSecret == "" {
		issues = append(issues, "FLOUDS_JWT_SECRET is required when security is enabled")
	}
	if cfg.PoolMaxEntries <= 0 {
		issues = append(issues, "FLOUDS_POOL_MAX_ENTRIES must be positive")
	}
	if cfg.RateLimitIPPerMinute <= 0 {
		issues = append(issues, "FLOUDS_RATE_LIMIT_IP must be positive")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// MustValidate logs and terminates the process via logger.Fatal if cfg is
// invalid. Call it once, at boot, before any listener is bound.
func MustValidate(cfg *config.Config, logger *zap.Logger) {
	if err := Validate(cfg); err != nil {
		logger.Fatal("startup configuration validation failed", zap.Error(err))
	}
	logger.Info("startup configuration validation successful")
}
