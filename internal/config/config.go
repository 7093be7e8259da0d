// Package config loads gateway configuration from environment variables,
// an optional .env file, and an optional TOML overlay file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds every process-level option recognised by the gateway.
type Config struct {
	ServerHost string
	ServerPort string

	DatabaseURL string // Postgres DSN backing ConfigStore + KeyManager
	RedisURL    string

	MilvusURI      string
	MilvusUser     string
	MilvusPassword string
	MilvusNetwork  string

	ClientsDBPath string // legacy/local fallback, unused when DatabaseURL is set
	SecretsDir    string

	ConfigEncryptionKey string // passphrase for at-rest ConfigStore/KeyManager encryption; empty disables it

	LogLevel string
	LogPath  string

	SecurityEnabled bool
	CORSOrigins     []string
	TrustedHosts    []string

	DefaultDimension int
	DefaultMetric    string
	DefaultIndex     string
	DefaultNList     int

	AutoFlushMinBatch int

	RateLimitIPPerMinute   int
	RateLimitTenantDefault int
	RateLimitTenantPremium int

	PoolMaxEntries int
	PoolMaxIdleSec int
	PoolSweepSec   int

	JWTSecret string

	AdminTimeoutSec   int
	RequestTimeoutSec int
}

type fileOverlay struct {
	Server struct {
		Host string `toml:"host"`
		Port string `toml:"port"`
	} `toml:"server"`
	VectorDB struct {
		DefaultDimension int    `toml:"default_dimension"`
		DefaultMetric    string `toml:"default_metric"`
		DefaultIndex     string `toml:"default_index"`
		NList            int    `toml:"nlist"`
	} `toml:"vectordb"`
	Security struct {
		CORSOrigins  []string `toml:"cors_origins"`
		TrustedHosts []string `toml:"trusted_hosts"`
	} `toml:"security"`
}

// Load reads configuration from the environment (after attempting to load
// a local .env file) and, if FLOUDS_CONFIG_FILE is set, merges in a TOML
// overlay. Environment variables always take precedence over the overlay.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerHost: getEnv("FLOUDS_SERVER_HOST", "0.0.0.0"),
		ServerPort: getEnv("FLOUDS_SERVER_PORT", "19680"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		MilvusURI:      getEnv("FLOUDS_MILVUS_URI", "localhost:19530"),
		MilvusUser:     getEnv("FLOUDS_MILVUS_USER", "root"),
		MilvusPassword: getEnv("FLOUDS_MILVUS_PASSWORD", ""),
		MilvusNetwork:  getEnv("FLOUDS_MILVUS_NETWORK", "default"),

		ClientsDBPath: getEnv("FLOUDS_CLIENTS_DB_PATH", "clients.db"),
		SecretsDir:    getEnv("FLOUDS_SECRETS_DIR", "./secrets"),

		ConfigEncryptionKey: getEnv("FLOUDS_CONFIG_ENCRYPTION_KEY", ""),

		LogLevel: getEnv("FLOUDS_LOG_LEVEL", "info"),
		LogPath:  getEnv("FLOUDS_LOG_PATH", ""),

		SecurityEnabled: getEnvBool("FLOUDS_SECURITY_ENABLED", true),
		CORSOrigins:     getEnvList("FLOUDS_CORS_ORIGINS", []string{"*"}),
		TrustedHosts:    getEnvList("FLOUDS_TRUSTED_HOSTS", []string{"*"}),

		DefaultDimension: getEnvInt("FLOUDS_DEFAULT_DIMENSION", 768),
		DefaultMetric:    getEnv("FLOUDS_DEFAULT_METRIC", "COSINE"),
		DefaultIndex:     getEnv("FLOUDS_DEFAULT_INDEX", "IVF_FLAT"),
		DefaultNList:     getEnvInt("FLOUDS_DEFAULT_NLIST", 256),

		AutoFlushMinBatch: getEnvInt("FLOUDS_AUTO_FLUSH_MIN_BATCH", 100),

		RateLimitIPPerMinute:   getEnvInt("FLOUDS_RATE_LIMIT_IP", 100),
		RateLimitTenantDefault: getEnvInt("FLOUDS_RATE_LIMIT_TENANT_DEFAULT", 200),
		RateLimitTenantPremium: getEnvInt("FLOUDS_RATE_LIMIT_TENANT_PREMIUM", 1000),

		PoolMaxEntries: getEnvInt("FLOUDS_POOL_MAX_ENTRIES", 64),
		PoolMaxIdleSec: getEnvInt("FLOUDS_POOL_MAX_IDLE_SECONDS", 300),
		PoolSweepSec:   getEnvInt("FLOUDS_POOL_SWEEP_INTERVAL_SECONDS", 60),

		JWTSecret: getEnv("FLOUDS_JWT_SECRET", ""),

		AdminTimeoutSec:   getEnvInt("FLOUDS_ADMIN_TIMEOUT_SECONDS", 120),
		RequestTimeoutSec: getEnvInt("FLOUDS_REQUEST_TIMEOUT_SECONDS", 30),
	}

	if overlayPath := os.Getenv("FLOUDS_CONFIG_FILE"); overlayPath != "" {
		if err := cfg.mergeOverlay(overlayPath); err != nil {
			return nil, fmt.Errorf("loading config overlay: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) mergeOverlay(path string) error {
	var overlay fileOverlay
	if _, err := toml.DecodeFile(path, &overlay); err != nil {
		return err
	}
	if overlay.Server.Host != "" && os.Getenv("FLOUDS_SERVER_HOST") == "" {
		c.ServerHost = overlay.Server.Host
	}
	if overlay.Server.Port != "" && os.Getenv("FLOUDS_SERVER_PORT") == "" {
		c.ServerPort = overlay.Server.Port
	}
	if overlay.VectorDB.DefaultDimension > 0 && os.Getenv("FLOUDS_DEFAULT_DIMENSION") == "" {
		c.DefaultDimension = overlay.VectorDB.DefaultDimension
	}
	if overlay.VectorDB.DefaultMetric != "" && os.Getenv("FLOUDS_DEFAULT_METRIC") == "" {
		c.DefaultMetric = overlay.VectorDB.DefaultMetric
	}
	if overlay.VectorDB.DefaultIndex != "" && os.Getenv("FLOUDS_DEFAULT_INDEX") == "" {
		c.DefaultIndex = overlay.VectorDB.DefaultIndex
	}
	if overlay.VectorDB.NList > 0 && os.Getenv("FLOUDS_DEFAULT_NLIST") == "" {
		c.DefaultNList = overlay.VectorDB.NList
	}
	if len(overlay.Security.CORSOrigins) > 0 && os.Getenv("FLOUDS_CORS_ORIGINS") == "" {
		c.CORSOrigins = overlay.Security.CORSOrigins
	}
	if len(overlay.Security.TrustedHosts) > 0 && os.Getenv("FLOUDS_TRUSTED_HOSTS") == "" {
		c.TrustedHosts = overlay.Security.TrustedHosts
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
