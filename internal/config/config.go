// Copyright 2026 The Auth9 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	GRPC          GRPCConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	JWT           JWTConfig
	IdP           IdPConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
	Actions       ActionsConfig
	Webhooks      WebhookConfig
	Detection     DetectionConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	PublicURL    string // externally reachable base URL (AUTH9_CORE_PUBLIC_URL)
	PortalURL    string // browser-facing portal, used in invitation links
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// GRPCConfig holds gRPC server configuration
type GRPCConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MinIdleConns    int
	ConnMaxLifetime time.Duration
}

// CacheConfig holds the role/permission cache configuration
type CacheConfig struct {
	URL string // redis URL; empty selects the in-process cache
	TTL time.Duration
}

// JWTConfig holds token signing configuration.
// SigningKey selects HS256; PrivateKeyPEM selects RS256 and wins when both
// are set.
type JWTConfig struct {
	Issuer           string
	SigningKey       string
	PrivateKeyPEM    string
	IdentityTokenTTL time.Duration
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
}

// IdPConfig holds the upstream identity provider configuration
type IdPConfig struct {
	URL               string
	Realm             string
	ClientID          string // OIDC client auth9 logs users in through
	ClientSecret      string
	AdminClientID     string
	AdminClientSecret string
	EventWebhookKey   string // HMAC key verifying X-Keycloak-Signature
	Timeout           time.Duration
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	PlatformAdminEmails   []string
	StateSigningKey       string // signs OAuth authorization state
	PasswordResetHMACKey  string
	SettingsEncryptionKey string // 32 bytes for AES-GCM
	InvitationTTL         time.Duration
	Argon2Memory          uint32
	Argon2Iterations      uint32
	Argon2Parallelism     uint8
	Argon2SaltLength      uint32
	Argon2KeyLength       uint32
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ActionsConfig holds action engine configuration
type ActionsConfig struct {
	DefaultTimeout time.Duration
	CacheSize      int
}

// WebhookConfig holds webhook dispatcher configuration
type WebhookConfig struct {
	AttemptTimeout  time.Duration
	MaxAttempts     int
	DisableAfter    int
	AllowPrivateNet bool // test environments only
}

// DetectionConfig holds security detection thresholds
type DetectionConfig struct {
	BruteForceThreshold int
	SprayThreshold      int
	WindowMinutes       int
	DeviceHistorySize   int
	TravelWindow        time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("AUTH9_HOST", "0.0.0.0"),
			Port:         getEnv("AUTH9_PORT", "8080"),
			PublicURL:    getEnv("AUTH9_CORE_PUBLIC_URL", "http://localhost:8080"),
			PortalURL:    getEnv("AUTH9_PORTAL_URL", "http://localhost:3000"),
			ReadTimeout:  parseDuration("AUTH9_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("AUTH9_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("AUTH9_IDLE_TIMEOUT", "60s"),
		},
		GRPC: GRPCConfig{
			Host: getEnv("AUTH9_GRPC_HOST", "0.0.0.0"),
			Port: getEnv("AUTH9_GRPC_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("AUTH9_DB_URL", ""),
			MaxOpenConns:    parseInt("AUTH9_DB_MAX_OPEN_CONNS", 25),
			MinIdleConns:    parseInt("AUTH9_DB_MIN_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("AUTH9_DB_CONN_MAX_LIFETIME", "5m"),
		},
		Cache: CacheConfig{
			URL: getEnv("AUTH9_CACHE_URL", ""),
			TTL: parseDuration("AUTH9_CACHE_TTL", "30s"),
		},
		JWT: JWTConfig{
			Issuer:           getEnv("AUTH9_JWT_ISSUER", "auth9"),
			SigningKey:       getEnv("AUTH9_JWT_SIGNING_KEY", ""),
			PrivateKeyPEM:    getEnv("AUTH9_JWT_PRIVATE_KEY", ""),
			IdentityTokenTTL: parseDuration("AUTH9_IDENTITY_TOKEN_TTL", "15m"),
			AccessTokenTTL:   parseDuration("AUTH9_ACCESS_TOKEN_TTL", "15m"),
			RefreshTokenTTL:  parseDuration("AUTH9_REFRESH_TOKEN_TTL", "168h"),
		},
		IdP: IdPConfig{
			URL:               getEnv("AUTH9_IDP_URL", ""),
			Realm:             getEnv("AUTH9_IDP_REALM", "auth9"),
			ClientID:          getEnv("AUTH9_IDP_CLIENT_ID", "auth9-core"),
			ClientSecret:      getEnv("AUTH9_IDP_CLIENT_SECRET", ""),
			AdminClientID:     getEnv("AUTH9_ADMIN_CLIENT_ID", ""),
			AdminClientSecret: getEnv("AUTH9_ADMIN_CLIENT_SECRET", ""),
			EventWebhookKey:   getEnv("AUTH9_WEBHOOK_SECRET", ""),
			Timeout:           parseDuration("AUTH9_IDP_TIMEOUT", "30s"),
		},
		Security: SecurityConfig{
			PlatformAdminEmails:   parseList("AUTH9_PLATFORM_ADMIN_EMAILS"),
			StateSigningKey:       getEnv("AUTH9_STATE_SIGNING_KEY", ""),
			PasswordResetHMACKey:  getEnv("AUTH9_PASSWORD_RESET_HMAC_KEY", ""),
			SettingsEncryptionKey: getEnv("AUTH9_SETTINGS_ENCRYPTION_KEY", ""),
			InvitationTTL:         parseDuration("AUTH9_INVITATION_TTL", "168h"),
			Argon2Memory:          uint32(parseInt("AUTH9_ARGON2_MEMORY", 65536)),
			Argon2Iterations:      uint32(parseInt("AUTH9_ARGON2_ITERATIONS", 3)),
			Argon2Parallelism:     uint8(parseInt("AUTH9_ARGON2_PARALLELISM", 4)),
			Argon2SaltLength:      uint32(parseInt("AUTH9_ARGON2_SALT_LENGTH", 16)),
			Argon2KeyLength:       uint32(parseInt("AUTH9_ARGON2_KEY_LENGTH", 32)),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "auth9"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("AUTH9_RATELIMIT_RPS", 20)),
			Burst:             parseInt("AUTH9_RATELIMIT_BURST", 40),
		},
		Actions: ActionsConfig{
			DefaultTimeout: parseDuration("AUTH9_ACTION_TIMEOUT", "3s"),
			CacheSize:      parseInt("AUTH9_ACTION_CACHE_SIZE", 100),
		},
		Webhooks: WebhookConfig{
			AttemptTimeout:  parseDuration("AUTH9_WEBHOOK_TIMEOUT", "30s"),
			MaxAttempts:     parseInt("AUTH9_WEBHOOK_MAX_ATTEMPTS", 3),
			DisableAfter:    parseInt("AUTH9_WEBHOOK_DISABLE_AFTER", 10),
			AllowPrivateNet: parseBool("AUTH9_WEBHOOK_ALLOW_PRIVATE", false),
		},
		Detection: DetectionConfig{
			BruteForceThreshold: parseInt("AUTH9_DETECT_BRUTE_FORCE_THRESHOLD", 5),
			SprayThreshold:      parseInt("AUTH9_DETECT_SPRAY_THRESHOLD", 5),
			WindowMinutes:       parseInt("AUTH9_DETECT_WINDOW_MINUTES", 10),
			DeviceHistorySize:   parseInt("AUTH9_DETECT_DEVICE_HISTORY", 100),
			TravelWindow:        parseDuration("AUTH9_DETECT_TRAVEL_WINDOW", "1h"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("AUTH9_DB_URL is required")
	}
	if c.JWT.SigningKey == "" && c.JWT.PrivateKeyPEM == "" {
		return fmt.Errorf("one of AUTH9_JWT_SIGNING_KEY or AUTH9_JWT_PRIVATE_KEY is required")
	}
	if k := c.Security.SettingsEncryptionKey; k != "" && len(k) != 32 {
		return fmt.Errorf("AUTH9_SETTINGS_ENCRYPTION_KEY must be exactly 32 bytes")
	}
	return nil
}

// IsPlatformAdmin reports whether email is in the platform admin list.
func (c *SecurityConfig) IsPlatformAdmin(email string) bool {
	for _, e := range c.PlatformAdminEmails {
		if strings.EqualFold(e, email) {
			return true
		}
	}
	return false
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}

func parseList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
