package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                      string        `mapstructure:"PORT"`
	Env                       string        `mapstructure:"ENV"`
	DatabaseURL               string        `mapstructure:"DATABASE_URL"`
	DBMaxConns                int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema                  string        `mapstructure:"DB_SCHEMA"`
	MigrationsDir             string        `mapstructure:"MIGRATIONS_DIR"`
	JWTSigningKey             string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer                 string        `mapstructure:"JWT_ISSUER"`
	TokenTTL                  time.Duration `mapstructure:"TOKEN_TTL"`
	BcryptCost                int           `mapstructure:"BCRYPT_COST"`
	CORSOrigins               []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS              float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst            int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout            time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit                 string        `mapstructure:"BODY_LIMIT"`
	PhotoStore                string        `mapstructure:"PHOTO_STORE"`
	UploadDir                 string        `mapstructure:"UPLOAD_DIR"`
	S3Bucket                  string        `mapstructure:"S3_BUCKET"`
	S3Region                  string        `mapstructure:"S3_REGION"`
	S3Endpoint                string        `mapstructure:"S3_ENDPOINT"`
	NotificationRetentionDays int           `mapstructure:"NOTIFICATION_RETENTION_DAYS"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"MIGRATIONS_DIR", "JWT_SIGNING_KEY", "JWT_ISSUER", "TOKEN_TTL", "BCRYPT_COST",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"BODY_LIMIT", "PHOTO_STORE", "UPLOAD_DIR", "S3_BUCKET", "S3_REGION",
	"S3_ENDPOINT", "NOTIFICATION_RETENTION_DAYS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("JWT_ISSUER", "villagecare")
	v.SetDefault("TOKEN_TTL", "12h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "6M")
	v.SetDefault("PHOTO_STORE", "local")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("NOTIFICATION_RETENTION_DAYS", 180)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.JWTSigningKey == "" {
		log.Println("WARNING: JWT_SIGNING_KEY is not set; using an insecure development key.")
		cfg.JWTSigningKey = "villagecare-development-signing-key"
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RetentionWindow is how long read notifications are kept before pruning.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.NotificationRetentionDays) * 24 * time.Hour
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.JWTSigningKey == "" {
			return fmt.Errorf("JWT_SIGNING_KEY is required when ENV=%q", c.Env)
		}
		if len(c.JWTSigningKey) < 32 {
			return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 characters, got %d", len(c.JWTSigningKey))
		}
	}

	switch c.PhotoStore {
	case "memory", "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when PHOTO_STORE is \"s3\"")
		}
	default:
		return fmt.Errorf("PHOTO_STORE must be \"memory\", \"local\", or \"s3\", got %q", c.PhotoStore)
	}

	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	if c.NotificationRetentionDays <= 0 {
		return fmt.Errorf("NOTIFICATION_RETENTION_DAYS must be positive, got %d", c.NotificationRetentionDays)
	}

	return nil
}
