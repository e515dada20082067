// Package config implements C20: loading and validating the gateway's
// environment, following config/confiig.go's getEnv/getEnvAsInt/LoadConfig
// shape (godotenv.Load in init, a single Config struct, fallback-aware
// lookups) but replacing its single-string error with a structured
// aggregate listing every violating field, per the invariant that startup
// must report every bad value at once rather than the first one found.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	_ = godotenv.Load()
}

const (
	minJWTSecretLen       = 32
	encryptionKeyLen      = 32
	minTwoFactorSecretLen = 16
	defaultAdminPassword  = "admin"
)

type Config struct {
	Environment           string
	Port                  string
	DatabaseURL           string
	RedisURL              string
	MSClientID            string
	MSClientSecret        string
	JWTSecret             string
	JWTExpiresIn          time.Duration
	EncryptionKey         string
	AdminUsername         string
	AdminPassword         string
	AdminLoginMaxAttempts int
	AdminLoginLockMinutes int
	Admin2FASecret        string
	Admin2FAWindow        int
	APILogRetentionDays   int
	APILogCleanupMinutes  int
	CORSOrigins           []string
}

// ValidationError aggregates every field that failed validation so the
// process can abort with the complete picture instead of one field at a
// time.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid environment: %s", strings.Join(e.Violations, "; "))
}

// Load reads and validates the environment. It never returns a partially
// valid Config: on any violation, Config is the zero value and err is a
// *ValidationError listing every violation found.
func Load() (*Config, error) {
	var violations []string

	cfg := &Config{
		Environment:           getEnv("NODE_ENV", "development"),
		Port:                  getEnv("PORT", "8080"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		MSClientID:            getEnv("MS_CLIENT_ID", ""),
		MSClientSecret:        getEnv("MS_CLIENT_SECRET", ""),
		JWTSecret:             getEnv("JWT_SECRET", ""),
		EncryptionKey:         getEnv("ENCRYPTION_KEY", ""),
		AdminUsername:         getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:         getEnv("ADMIN_PASSWORD", ""),
		AdminLoginMaxAttempts: getEnvAsInt("ADMIN_LOGIN_MAX_ATTEMPTS", 5),
		AdminLoginLockMinutes: getEnvAsInt("ADMIN_LOGIN_LOCK_MINUTES", 15),
		Admin2FASecret:        getEnv("ADMIN_2FA_SECRET", ""),
		Admin2FAWindow:        getEnvAsInt("ADMIN_2FA_WINDOW", 1),
		APILogRetentionDays:   getEnvAsInt("API_LOG_RETENTION_DAYS", 30),
		APILogCleanupMinutes:  getEnvAsInt("API_LOG_CLEANUP_INTERVAL_MINUTES", 60),
	}

	cfg.JWTExpiresIn = getEnvAsDuration("JWT_EXPIRES_IN", 2*time.Hour, &violations)

	if len(cfg.JWTSecret) < minJWTSecretLen {
		violations = append(violations, fmt.Sprintf("JWT_SECRET must be at least %d characters", minJWTSecretLen))
	}
	if len(cfg.EncryptionKey) != encryptionKeyLen {
		violations = append(violations, fmt.Sprintf("ENCRYPTION_KEY must be exactly %d characters", encryptionKeyLen))
	}
	if cfg.DatabaseURL == "" {
		violations = append(violations, "DATABASE_URL is required")
	} else if _, err := url.Parse(cfg.DatabaseURL); err != nil {
		violations = append(violations, fmt.Sprintf("DATABASE_URL is not a parseable url: %v", err))
	}
	if cfg.Admin2FASecret != "" && len(cfg.Admin2FASecret) < minTwoFactorSecretLen {
		violations = append(violations, fmt.Sprintf("ADMIN_2FA_SECRET must be at least %d characters", minTwoFactorSecretLen))
	}
	if cfg.AdminLoginMaxAttempts <= 0 {
		violations = append(violations, "ADMIN_LOGIN_MAX_ATTEMPTS must be positive")
	}
	if cfg.AdminLoginLockMinutes <= 0 {
		violations = append(violations, "ADMIN_LOGIN_LOCK_MINUTES must be positive")
	}
	if cfg.APILogRetentionDays <= 0 {
		violations = append(violations, "API_LOG_RETENTION_DAYS must be positive")
	}
	if cfg.APILogCleanupMinutes <= 0 {
		violations = append(violations, "API_LOG_CLEANUP_INTERVAL_MINUTES must be positive")
	}
	if cfg.Environment == "production" && cfg.AdminPassword == defaultAdminPassword {
		violations = append(violations, "ADMIN_PASSWORD must not be the default value in production")
	}

	if origins := getEnv("CORS_ORIGIN", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration, violations *[]string) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*violations = append(*violations, fmt.Sprintf("%s is not a valid duration: %v", key, err))
		return fallback
	}
	return d
}
