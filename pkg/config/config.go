package config

import (
	"errors"
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

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Admission AdmissionConfig
	RateLimit RateLimitConfig
	Sweeper   SweeperConfig
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

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig only carries what is needed to validate access tokens issued elsewhere.
type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AdmissionConfig tunes classroom session admission behaviour.
type AdmissionConfig struct {
	DefaultSessionTTL time.Duration
	CodePrefix        string
	LockTimeout       time.Duration
	StrictSubmit      bool
}

// RateLimitConfig throttles join request submissions per user.
type RateLimitConfig struct {
	Enabled     bool
	JoinLimit   int
	JoinWindow  time.Duration
	RedisPrefix string
}

// SweeperConfig controls the background session expiry sweep.
type SweeperConfig struct {
	Enabled   bool
	Interval  time.Duration
	Retention time.Duration
	Workers   int
	Retries   int
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

// Defaults returns the configuration used when no environment overrides are set.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
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

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	prefix := strings.ToUpper(strings.TrimSpace(v.GetString("SESSION_CODE_PREFIX")))
	if prefix == "" {
		prefix = "CLS"
	}
	cfg.Admission = AdmissionConfig{
		DefaultSessionTTL: parseDuration(v.GetString("SESSION_DEFAULT_TTL"), 4*time.Hour),
		CodePrefix:        prefix,
		LockTimeout:       parseDuration(v.GetString("ADMISSION_LOCK_TIMEOUT"), 5*time.Second),
		StrictSubmit:      v.GetBool("ADMISSION_STRICT_SUBMIT"),
	}

	joinLimit := v.GetInt("JOIN_RATE_LIMIT")
	if joinLimit <= 0 {
		joinLimit = 10
	}
	cfg.RateLimit = RateLimitConfig{
		Enabled:     v.GetBool("ENABLE_JOIN_RATE_LIMIT"),
		JoinLimit:   joinLimit,
		JoinWindow:  parseDuration(v.GetString("JOIN_RATE_WINDOW"), time.Minute),
		RedisPrefix: v.GetString("JOIN_RATE_PREFIX"),
	}

	cfg.Sweeper = SweeperConfig{
		Enabled:   v.GetBool("ENABLE_SESSION_SWEEPER"),
		Interval:  parseDuration(v.GetString("SESSION_SWEEP_INTERVAL"), 5*time.Minute),
		Retention: parseDuration(v.GetString("SESSION_RETENTION"), 7*24*time.Hour),
		Workers:   v.GetInt("SWEEPER_WORKERS"),
		Retries:   v.GetInt("SWEEPER_RETRIES"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "school_admission")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SESSION_DEFAULT_TTL", "4h")
	v.SetDefault("SESSION_CODE_PREFIX", "CLS")
	v.SetDefault("ADMISSION_LOCK_TIMEOUT", "5s")
	v.SetDefault("ADMISSION_STRICT_SUBMIT", true)

	v.SetDefault("ENABLE_JOIN_RATE_LIMIT", true)
	v.SetDefault("JOIN_RATE_LIMIT", 10)
	v.SetDefault("JOIN_RATE_WINDOW", "1m")
	v.SetDefault("JOIN_RATE_PREFIX", "ratelimit:join")

	v.SetDefault("ENABLE_SESSION_SWEEPER", true)
	v.SetDefault("SESSION_SWEEP_INTERVAL", "5m")
	v.SetDefault("SESSION_RETENTION", "168h")
	v.SetDefault("SWEEPER_WORKERS", 1)
	v.SetDefault("SWEEPER_RETRIES", 3)
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
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
