// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	Oracle      OracleConfig
	Worker      WorkerConfig
	Log         LogConfig
	I18n        I18nConfig
	CORS        CORSConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type DatabaseConfig struct {
	Driver       string // postgres or memory
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	// Shared secret of the external auth provider; tokens are only validated here.
	SecretKey      string
	Issuer         string
	AccessTokenTTL int // in hours, used by escrowctl for operator tokens
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	EventTTL int // seconds a processed webhook event id stays cached
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	EvidenceBucket  string
	PresignTTL      int // minutes
}

type PaymentConfig struct {
	Provider             string // stripe or fake
	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string
	Currency             string
	MinimumGrant         int64
	TierPercents         map[string]string
	DefaultTierPercent   string
}

type OracleConfig struct {
	Provider          string // anthropic, gemini or mock
	AnthropicAPIKey   string
	AnthropicModel    string
	AnthropicBaseURL  string
	GeminiAPIKey      string
	GeminiModel       string
	TimeoutSeconds    int
	ApproveConfidence float64
	RejectConfidence  float64
	MinDescriptionLen int
}

type WorkerConfig struct {
	Enabled   bool
	Schedule  string
	BatchSize int
}

type LogConfig struct {
	Level  string
	Format string
}

type I18nConfig struct {
	DefaultLocale string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Timeout returns the per-call oracle deadline.
func (o OracleConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 90),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "csr_escrow"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "silent"),
		},
		JWT: JWTConfig{
			SecretKey:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			Issuer:         getEnv("JWT_ISSUER", ""),
			AccessTokenTTL: getEnvAsInt("JWT_ACCESS_TTL", 24),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			EventTTL: getEnvAsInt("REDIS_EVENT_TTL", 72*3600),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "eu-north-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			EvidenceBucket:  getEnv("AWS_EVIDENCE_BUCKET", "csr-evidence"),
			PresignTTL:      getEnvAsInt("AWS_PRESIGN_TTL_MINUTES", 15),
		},
		Payment: PaymentConfig{
			Provider:             getEnv("PAYMENT_PROVIDER", "stripe"),
			StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			StripePublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			StripeWebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:             strings.ToLower(getEnv("PAYMENT_CURRENCY", "sek")),
			MinimumGrant:         getEnvAsInt64("MINIMUM_GRANT_AMOUNT", 10000),
			TierPercents: map[string]string{
				"basic":    getEnv("FEE_PERCENT_BASIC", "5"),
				"standard": getEnv("FEE_PERCENT_STANDARD", "7"),
				"enhanced": getEnv("FEE_PERCENT_ENHANCED", "10"),
			},
			DefaultTierPercent: getEnv("FEE_PERCENT_DEFAULT", "7"),
		},
		Oracle: OracleConfig{
			Provider:          getEnv("ORACLE_PROVIDER", "mock"),
			AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicModel:    getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			AnthropicBaseURL:  getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1/messages"),
			GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
			GeminiModel:       getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			TimeoutSeconds:    getEnvAsInt("ORACLE_TIMEOUT_SECONDS", 60),
			ApproveConfidence: getEnvAsFloat("ORACLE_APPROVE_CONFIDENCE", 0.85),
			RejectConfidence:  getEnvAsFloat("ORACLE_REJECT_CONFIDENCE", 0.5),
			MinDescriptionLen: getEnvAsInt("IMPACT_MIN_DESCRIPTION_LENGTH", 100),
		},
		Worker: WorkerConfig{
			Enabled:   getEnvAsBool("PAYOUT_WORKER_ENABLED", true),
			Schedule:  getEnv("PAYOUT_WORKER_SCHEDULE", "@every 5m"),
			BatchSize: getEnvAsInt("PAYOUT_WORKER_BATCH_SIZE", 50),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "sv"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.Environment == "production" {
		if c.JWT.SecretKey == "your-secret-key-change-in-production" {
			return fmt.Errorf("JWT secret key must be changed in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database password is required in production")
		}
		if c.Payment.Provider == "stripe" && (c.Payment.StripeSecretKey == "" || c.Payment.StripeWebhookSecret == "") {
			return fmt.Errorf("stripe secret key and webhook secret are required in production")
		}
		if c.Oracle.Provider == "mock" {
			return fmt.Errorf("mock verification oracle is not allowed in production")
		}
		if c.Payment.Provider == "fake" {
			return fmt.Errorf("fake payment provider is not allowed in production")
		}
	}

	if c.Oracle.TimeoutSeconds <= 0 {
		return fmt.Errorf("oracle timeout must be positive, got %d seconds", c.Oracle.TimeoutSeconds)
	}

	if c.Oracle.RejectConfidence > c.Oracle.ApproveConfidence {
		return fmt.Errorf("oracle reject confidence %.2f exceeds approve confidence %.2f",
			c.Oracle.RejectConfidence, c.Oracle.ApproveConfidence)
	}

	if c.Payment.MinimumGrant <= 0 {
		return fmt.Errorf("minimum grant amount must be positive")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
