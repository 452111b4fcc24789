// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hitoshi/authgate/internal/token"
)

// Environment は実行環境。
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string
	AutoMigrate bool

	// Token
	JWTSecret          string
	JWTExpirationHours int

	// Rate Limit
	RateLimitRPS   int
	RateLimitBurst int

	// Password hashing
	HashMaxConcurrent int

	// Server
	ServerHost string
	ServerPort string

	// Runtime
	Env      Environment
	LogLevel slog.Level

	// CORS
	AllowedOrigins []string
}

// Addr はHTTPサーバーの待ち受けアドレスを返す。
func (c *Config) Addr() string {
	return c.ServerHost + ":" + c.ServerPort
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// LoadDotEnv はpathの.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または数値設定が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	var invalid []error
	positive := func(key string, defaultVal int) int {
		v, err := getEnvPositiveInt(key, defaultVal)
		if err != nil {
			invalid = append(invalid, err)
		}
		return v
	}

	cfg.JWTExpirationHours = positive("JWT_EXPIRATION_HOURS", 24)
	if cfg.JWTExpirationHours > token.MaxLifetimeHours {
		invalid = append(invalid, fmt.Errorf("JWT_EXPIRATION_HOURS must be at most %d: %d", token.MaxLifetimeHours, cfg.JWTExpirationHours))
	}
	cfg.RateLimitRPS = positive("RATE_LIMIT_RPS", 10)
	cfg.RateLimitBurst = positive("RATE_LIMIT_BURST", 20)
	cfg.HashMaxConcurrent = positive("HASH_MAX_CONCURRENT", runtime.NumCPU())

	autoMigrate, err := getEnvBool("AUTO_MIGRATE", true)
	if err != nil {
		invalid = append(invalid, err)
	}
	cfg.AutoMigrate = autoMigrate

	cfg.Env = Environment(strings.ToLower(getEnvString("ENV", string(EnvDevelopment))))
	if cfg.Env != EnvDevelopment && cfg.Env != EnvProduction {
		invalid = append(invalid, fmt.Errorf("ENV must be development or production: %q", cfg.Env))
	}

	cfg.LogLevel = slog.LevelDebug
	if cfg.IsProduction() {
		cfg.LogLevel = slog.LevelInfo
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			invalid = append(invalid, fmt.Errorf("LOG_LEVEL is invalid: %w", err))
		}
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(invalid...))
	}

	cfg.ServerHost = getEnvString("SERVER_HOST", "0.0.0.0")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AllowedOrigins = splitList(getEnvString("ALLOWED_ORIGINS", "http://localhost:3000"))

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvPositiveInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s must be an integer: %q", key, v)
	}
	if i <= 0 {
		return defaultVal, fmt.Errorf("%s must be positive: %d", key, i)
	}
	return i, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s must be a boolean: %q", key, v)
	}
	return b, nil
}

// splitList はカンマ区切りの文字列を空要素を除いて分割する。
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
