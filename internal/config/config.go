// Package config centraliza o carregamento de configurações da aplicação.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jjsmithok/security-platform/internal/core/domain"
)

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Storage     StorageConfig
	RateLimiter RateLimiterConfig
	Risk        RiskConfig
	Session     SessionConfig
}

type ServerConfig struct {
	Port         string
	MaxBodyBytes int64
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	Type  string
	Redis RedisConfig
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RateLimiterConfig struct {
	DefaultRule   domain.RateLimitRule
	EndpointRules map[string]domain.RateLimitRule
	KeyPrefix     string
	StoreTimeout  time.Duration
}

type RiskConfig struct {
	BlockThreshold      int
	LevelMedium         int
	LevelHigh           int
	LevelCritical       int
	PayloadLimit        int
	WeightBlockedIP     int
	WeightSignature     int
	WeightOversize      int
	WeightPathTraversal int
	CatalogFile         string
	AuditSink           string
}

type SessionConfig struct {
	Backend        string
	DatabaseDriver string
	DatabaseDSN    string
	DefaultTTL     time.Duration
	StoreTimeout   time.Duration
	SweepInterval  time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	port := getEnv("SERVER_PORT", "8080")
	maxBody, err := getEnvInt("SERVER_MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return Config{}, err
	}

	storage, err := buildStorageConfig()
	if err != nil {
		return Config{}, err
	}
	rateLimiter, err := buildRateLimiterConfig()
	if err != nil {
		return Config{}, err
	}
	risk, err := buildRiskConfig()
	if err != nil {
		return Config{}, err
	}
	session, err := buildSessionConfig()
	if err != nil {
		return Config{}, err
	}

	return Config{
		Server: ServerConfig{Port: port, MaxBodyBytes: int64(maxBody)},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Storage:     storage,
		RateLimiter: rateLimiter,
		Risk:        risk,
		Session:     session,
	}, nil
}

func buildStorageConfig() (StorageConfig, error) {
	storageType := strings.ToLower(getEnv("STORAGE_TYPE", "redis"))
	if err := oneOf("STORAGE_TYPE", storageType, "redis", "memory"); err != nil {
		return StorageConfig{}, err
	}

	port, err := getEnvInt("REDIS_PORT", 6379)
	if err != nil {
		return StorageConfig{}, err
	}
	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return StorageConfig{}, err
	}

	return StorageConfig{
		Type: storageType,
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     port,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       db,
		},
	}, nil
}

func buildRateLimiterConfig() (RateLimiterConfig, error) {
	windowMs, err := getEnvInt("RATE_LIMIT_WINDOW_MS", 60000)
	if err != nil {
		return RateLimiterConfig{}, err
	}
	maxRequests, err := getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100)
	if err != nil {
		return RateLimiterConfig{}, err
	}
	timeoutMs, err := getEnvInt("RATE_LIMIT_STORE_TIMEOUT_MS", 250)
	if err != nil {
		return RateLimiterConfig{}, err
	}

	rule := domain.RateLimitRule{Requests: maxRequests, Window: time.Duration(windowMs) * time.Millisecond}
	if err := rule.Validate(); err != nil {
		return RateLimiterConfig{}, fmt.Errorf("invalid RATE_LIMIT_WINDOW_MS/RATE_LIMIT_MAX_REQUESTS: %w", err)
	}

	endpointRules, err := parseEndpointRules(os.Getenv("RATE_LIMIT_ENDPOINT_RULES"))
	if err != nil {
		return RateLimiterConfig{}, err
	}

	return RateLimiterConfig{
		DefaultRule:   rule,
		EndpointRules: endpointRules,
		KeyPrefix:     getEnv("RATE_LIMIT_KEY_PREFIX", "rl"),
		StoreTimeout:  time.Duration(timeoutMs) * time.Millisecond,
	}, nil
}

// parseEndpointRules reads ENDPOINT:MAX_REQUESTS:WINDOW_MS,... The last two
// fields are split from the right so endpoints may contain colons.
func parseEndpointRules(raw string) (map[string]domain.RateLimitRule, error) {
	rules := make(map[string]domain.RateLimitRule)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return rules, nil
	}

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		windowSep := strings.LastIndex(item, ":")
		if windowSep <= 0 {
			return nil, fmt.Errorf("endpoint rule must follow ENDPOINT:MAX_REQUESTS:WINDOW_MS: %s", item)
		}
		requestsSep := strings.LastIndex(item[:windowSep], ":")
		if requestsSep <= 0 {
			return nil, fmt.Errorf("endpoint rule must follow ENDPOINT:MAX_REQUESTS:WINDOW_MS: %s", item)
		}

		endpoint := strings.TrimSpace(item[:requestsSep])
		requests, err := strconv.Atoi(strings.TrimSpace(item[requestsSep+1 : windowSep]))
		if err != nil {
			return nil, fmt.Errorf("invalid requests for endpoint %s: %w", endpoint, err)
		}
		windowMs, err := strconv.Atoi(strings.TrimSpace(item[windowSep+1:]))
		if err != nil {
			return nil, fmt.Errorf("invalid window ms for endpoint %s: %w", endpoint, err)
		}

		rule := domain.RateLimitRule{Requests: requests, Window: time.Duration(windowMs) * time.Millisecond}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", endpoint, err)
		}
		rules[endpoint] = rule
	}
	return rules, nil
}

type intSetting struct {
	key      string
	fallback int
	dst      *int
}

func buildRiskConfig() (RiskConfig, error) {
	var cfg RiskConfig
	settings := []intSetting{
		{"RISK_BLOCK_THRESHOLD", 70, &cfg.BlockThreshold},
		{"RISK_LEVEL_MEDIUM", 20, &cfg.LevelMedium},
		{"RISK_LEVEL_HIGH", 50, &cfg.LevelHigh},
		{"RISK_LEVEL_CRITICAL", 70, &cfg.LevelCritical},
		{"RISK_PAYLOAD_LIMIT", 10000, &cfg.PayloadLimit},
		{"RISK_WEIGHT_BLOCKED_IP", 50, &cfg.WeightBlockedIP},
		{"RISK_WEIGHT_SIGNATURE", 30, &cfg.WeightSignature},
		{"RISK_WEIGHT_OVERSIZE", 10, &cfg.WeightOversize},
		{"RISK_WEIGHT_PATH_TRAVERSAL", 20, &cfg.WeightPathTraversal},
	}
	for _, s := range settings {
		v, err := getEnvInt(s.key, s.fallback)
		if err != nil {
			return RiskConfig{}, err
		}
		*s.dst = v
	}

	cfg.CatalogFile = os.Getenv("RISK_CATALOG_FILE")
	cfg.AuditSink = strings.ToLower(getEnv("RISK_AUDIT_SINK", "log"))
	if err := oneOf("RISK_AUDIT_SINK", cfg.AuditSink, "log", "sql", "none"); err != nil {
		return RiskConfig{}, err
	}
	return cfg, nil
}

func buildSessionConfig() (SessionConfig, error) {
	backend := strings.ToLower(getEnv("SESSION_BACKEND", "sql"))
	if err := oneOf("SESSION_BACKEND", backend, "sql", "memory"); err != nil {
		return SessionConfig{}, err
	}

	ttl, err := getEnvDuration("SESSION_DEFAULT_TTL", 7*24*time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}
	timeout, err := getEnvDuration("SESSION_STORE_TIMEOUT", 2*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}
	sweep, err := getEnvDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		Backend:        backend,
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "file:guard.db?_busy_timeout=5000"),
		DefaultTTL:     ttl,
		StoreTimeout:   timeout,
		SweepInterval:  sweep,
	}, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %q (allowed: %s)", key, value, strings.Join(allowed, ", "))
}
