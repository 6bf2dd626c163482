package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment       string
	HTTPPort          string
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	ServiceName       string
	RateLimitRPM      int
	TelemetryEndpoint string
	TelemetryInsecure bool

	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool

	IdentityJWTSecret string
	IdentityIssuer    string

	HMRCClientID      string
	HMRCClientSecret  string
	HMRCAPIBaseURL    string
	HMRCAuthBaseURL   string
	HMRCRedirectURI   string
	HMRCDefaultScopes []string
	HMRCSandboxNINO   string
	VendorVersion     string
	VendorLicenseID   string
	EncryptionKey     string
	StateTTL          time.Duration
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		ServiceName:       getEnv("SERVICE_NAME", "calceum-hmrc-connect"),
		RateLimitRPM:      getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),

		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "X-Client-Info"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),

		IdentityJWTSecret: os.Getenv("IDENTITY_JWT_SECRET"),
		IdentityIssuer:    getEnv("IDENTITY_ISSUER", "https://auth.calceum.com"),

		HMRCClientID:      os.Getenv("HMRC_CLIENT_ID"),
		HMRCClientSecret:  os.Getenv("HMRC_CLIENT_SECRET"),
		HMRCAPIBaseURL:    getEnv("HMRC_API_BASE_URL", "https://test-api.service.hmrc.gov.uk"),
		HMRCAuthBaseURL:   getEnv("HMRC_AUTH_BASE_URL", "https://test-www.tax.service.gov.uk"),
		HMRCDefaultScopes: getList("HMRC_DEFAULT_SCOPES", []string{"read:self-assessment", "write:self-assessment"}),
		HMRCSandboxNINO:   getEnv("HMRC_SANDBOX_NINO", "NE101272A"),
		VendorVersion:     getEnv("HMRC_VENDOR_VERSION", "calceum=1.0.0"),
		VendorLicenseID:   getEnv("HMRC_VENDOR_LICENSE_ID", "calceum-license"),
		EncryptionKey:     os.Getenv("HMRC_ENCRYPTION_KEY"),
		StateTTL:          getDuration("OAUTH_STATE_TTL", 10*time.Minute),
	}

	if cfg.Environment == "development" {
		cfg.HMRCRedirectURI = getEnv("HMRC_REDIRECT_URI_DEV", "http://localhost:4011/self-assessment/callback")
	} else {
		cfg.HMRCRedirectURI = getEnv("HMRC_REDIRECT_URI", "https://app.calceum.com/self-assessment/callback")
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.IdentityJWTSecret == "" {
		return Config{}, fmt.Errorf("IDENTITY_JWT_SECRET is required")
	}
	if cfg.HMRCClientID == "" || cfg.HMRCClientSecret == "" {
		return Config{}, fmt.Errorf("HMRC_CLIENT_ID and HMRC_CLIENT_SECRET are required")
	}
	if cfg.EncryptionKey == "" {
		return Config{}, fmt.Errorf("HMRC_ENCRYPTION_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
