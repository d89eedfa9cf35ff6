package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Zego     ZegoConfig
	Graph    GraphConfig
	Booking  BookingConfig
	Worker   WorkerConfig
	Crypto   CryptoConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	PublicURL          string // base URL used in booking links
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the bucket invites are archived to.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	InvitesBucket        string
	PresignExpireMinutes int
}

// ZegoConfig holds ZEGOCLOUD app keys for dedicated video rooms.
type ZegoConfig struct {
	AppID           uint32
	ServerSecret    string
	RoomBaseURL     string
	TokenTTLSeconds int64
}

// GraphConfig holds the Microsoft Graph OAuth client used by the Outlook calendar integration.
type GraphConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RedirectURL  string
}

// BookingConfig holds booking-pipeline settings.
type BookingConfig struct {
	DefaultVideoApp      string // app type used when a booking has no location
	CredentialCacheTTL   time.Duration
	IntegrationTimeout   time.Duration
	PaymentProvider      string
	PaymentWebhookSecret string // HMAC key for X-Signature on payment callbacks
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	SweepSchedule  string // cron spec for the stale reference sweep
	SweepBatchSize int
	SweepGrace     time.Duration // how long a cancelled booking waits before its references are retried
	WebhookTimeout time.Duration
}

// CryptoConfig holds the key credentials are sealed with at rest.
type CryptoConfig struct {
	CredentialKey string // 32 bytes, hex encoded
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Enabled reports whether ZEGOCLOUD keys are configured.
func (c ZegoConfig) Enabled() bool {
	return c.AppID != 0 && c.ServerSecret != ""
}

// Enabled reports whether a Graph OAuth client is configured.
func (c GraphConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	zegoAppID, err := strconv.ParseUint(getEnv("ZEGO_APP_ID", "0"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("ZEGO_APP_ID: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			PublicURL:          getEnv("PUBLIC_URL", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "booking"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			InvitesBucket:        getEnv("AWS_S3_INVITES_BUCKET", "booking-invites"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Zego: ZegoConfig{
			AppID:           uint32(zegoAppID),
			ServerSecret:    getEnv("ZEGO_SERVER_SECRET", ""),
			RoomBaseURL:     getEnv("ZEGO_ROOM_BASE_URL", "http://localhost:3000/video"),
			TokenTTLSeconds: int64(getEnvInt("ZEGO_TOKEN_TTL_SEC", 24*3600)),
		},
		Graph: GraphConfig{
			ClientID:     getEnv("GRAPH_CLIENT_ID", ""),
			ClientSecret: getEnv("GRAPH_CLIENT_SECRET", ""),
			TenantID:     getEnv("GRAPH_TENANT_ID", "common"),
			RedirectURL:  getEnv("GRAPH_REDIRECT_URL", ""),
		},
		Booking: BookingConfig{
			DefaultVideoApp:      getEnv("DEFAULT_VIDEO_APP", "zego_video"),
			CredentialCacheTTL:   getEnvDuration("CREDENTIAL_CACHE_TTL", 10*time.Minute),
			IntegrationTimeout:   getEnvDuration("INTEGRATION_TIMEOUT", 20*time.Second),
			PaymentProvider:      getEnv("PAYMENT_PROVIDER", "stripe"),
			PaymentWebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		},
		Worker: WorkerConfig{
			SweepSchedule:  getEnv("SWEEP_SCHEDULE", "@every 5m"),
			SweepBatchSize: getEnvInt("SWEEP_BATCH_SIZE", 50),
			SweepGrace:     getEnvDuration("SWEEP_GRACE", 10*time.Minute),
			WebhookTimeout: getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Crypto: CryptoConfig{
			CredentialKey: getEnv("CREDENTIAL_ENCRYPTION_KEY", ""),
		},
	}
	if cfg.Crypto.CredentialKey == "" {
		return nil, fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY is required")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// SplitTrim splits a comma-separated env value, dropping blanks.
func SplitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
