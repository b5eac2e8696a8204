package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Cookies  CookieConfig
	Cleanup  CleanupConfig
	Activity ActivityConfig
	Avatars  AvatarConfig
	CORS     CORSConfig
	Log      LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN renders the lib/pq keyword connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// URL renders the postgres:// form expected by golang-migrate.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// RedisConfig is optional; an empty Host disables Redis coordination.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AuthConfig groups token and lockout settings.
type AuthConfig struct {
	AccessTokenSecret  string
	FingerprintSecret  string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	RefreshReuseGrace  time.Duration
	Issuer             string
	LockThreshold      int
	LockDuration       time.Duration
	StoreTimeout       time.Duration
	BcryptCost         int
	MinPasswordLength  int
	RegistrationActive bool
}

// CookieConfig controls how tokens travel as cookies.
type CookieConfig struct {
	Domain   string
	Path     string
	Secure   bool
	SameSite string
}

// CleanupConfig drives the session/lock sweeper.
type CleanupConfig struct {
	Enabled           bool
	Interval          time.Duration
	BatchSize         int
	InactiveRetention time.Duration
	StaleLockGrace    time.Duration
	LeaseKey          string
}

// ActivityConfig tunes eventually-consistent last_activity writes.
type ActivityConfig struct {
	Debounce   time.Duration
	Workers    int
	BufferSize int
}

// AvatarConfig configures profile picture storage.
type AvatarConfig struct {
	StorageDir       string
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
	File   string
	MaxAge time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Auth = AuthConfig{
		AccessTokenSecret:  v.GetString("JWT_SECRET"),
		FingerprintSecret:  v.GetString("TOKEN_FINGERPRINT_SECRET"),
		AccessTokenTTL:     parseDuration(v.GetString("ACCESS_TOKEN_TTL"), 15*time.Minute),
		RefreshTokenTTL:    parseDuration(v.GetString("REFRESH_TOKEN_TTL"), 7*24*time.Hour),
		RefreshReuseGrace:  parseDuration(v.GetString("REFRESH_REUSE_GRACE"), 30*time.Second),
		Issuer:             v.GetString("JWT_ISSUER"),
		LockThreshold:      v.GetInt("LOCK_THRESHOLD"),
		LockDuration:       parseDuration(v.GetString("LOCK_DURATION"), 2*time.Hour),
		StoreTimeout:       parseDuration(v.GetString("STORE_TIMEOUT"), 3*time.Second),
		BcryptCost:         v.GetInt("BCRYPT_COST"),
		MinPasswordLength:  v.GetInt("MIN_PASSWORD_LENGTH"),
		RegistrationActive: v.GetBool("ENABLE_REGISTRATION"),
	}
	if cfg.Auth.FingerprintSecret == "" {
		cfg.Auth.FingerprintSecret = cfg.Auth.AccessTokenSecret
	}

	cfg.Cookies = CookieConfig{
		Domain:   v.GetString("COOKIE_DOMAIN"),
		Path:     v.GetString("COOKIE_PATH"),
		Secure:   v.GetBool("COOKIE_SECURE"),
		SameSite: v.GetString("COOKIE_SAMESITE"),
	}

	cfg.Cleanup = CleanupConfig{
		Enabled:           v.GetBool("ENABLE_SESSION_CLEANUP"),
		Interval:          parseDuration(v.GetString("SESSION_CLEANUP_INTERVAL"), time.Hour),
		BatchSize:         v.GetInt("SESSION_CLEANUP_BATCH_SIZE"),
		InactiveRetention: parseDuration(v.GetString("INACTIVE_SESSION_RETENTION"), 24*time.Hour),
		StaleLockGrace:    parseDuration(v.GetString("STALE_LOCK_GRACE"), 24*time.Hour),
		LeaseKey:          v.GetString("SESSION_CLEANUP_LEASE_KEY"),
	}

	cfg.Activity = ActivityConfig{
		Debounce:   parseDuration(v.GetString("ACTIVITY_DEBOUNCE"), time.Minute),
		Workers:    v.GetInt("ACTIVITY_WORKERS"),
		BufferSize: v.GetInt("ACTIVITY_BUFFER_SIZE"),
	}

	maxAvatarSize := v.GetInt64("AVATAR_MAX_FILE_SIZE")
	if maxAvatarSize <= 0 {
		maxAvatarSize = 2 * 1024 * 1024
	}
	cfg.Avatars = AvatarConfig{
		StorageDir:       v.GetString("AVATAR_STORAGE_DIR"),
		MaxFileSizeBytes: maxAvatarSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("AVATAR_ALLOWED_MIME_TYPES")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
		File:   v.GetString("LOG_FILE"),
		MaxAge: parseDuration(v.GetString("LOG_MAX_AGE"), 7*24*time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "accounts")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("TOKEN_FINGERPRINT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "account-api")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "168h")
	v.SetDefault("REFRESH_REUSE_GRACE", "30s")
	v.SetDefault("LOCK_THRESHOLD", 5)
	v.SetDefault("LOCK_DURATION", "2h")
	v.SetDefault("STORE_TIMEOUT", "3s")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("MIN_PASSWORD_LENGTH", 8)
	v.SetDefault("ENABLE_REGISTRATION", true)

	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("COOKIE_PATH", "/")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("COOKIE_SAMESITE", "lax")

	v.SetDefault("ENABLE_SESSION_CLEANUP", true)
	v.SetDefault("SESSION_CLEANUP_INTERVAL", "1h")
	v.SetDefault("SESSION_CLEANUP_BATCH_SIZE", 500)
	v.SetDefault("INACTIVE_SESSION_RETENTION", "24h")
	v.SetDefault("STALE_LOCK_GRACE", "24h")
	v.SetDefault("SESSION_CLEANUP_LEASE_KEY", "account-api:session-cleanup")

	v.SetDefault("ACTIVITY_DEBOUNCE", "1m")
	v.SetDefault("ACTIVITY_WORKERS", 2)
	v.SetDefault("ACTIVITY_BUFFER_SIZE", 1024)

	v.SetDefault("AVATAR_STORAGE_DIR", "./avatars")
	v.SetDefault("AVATAR_MAX_FILE_SIZE", 2*1024*1024)
	v.SetDefault("AVATAR_ALLOWED_MIME_TYPES", "image/png,image/jpeg,image/gif,image/webp")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_AGE", "168h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
