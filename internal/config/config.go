package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Account
	AdminSignupEnabled bool
	PhoneDefaultRegion string
	BcryptCost         int

	// Push
	PushBufferSize   int
	PushPingInterval time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitLogin   int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// ClientConfig はwatchコマンド（管理APIクライアント）の設定を保持する。
type ClientConfig struct {
	APIURL    string
	Email     string
	Password  string
	TokenFile string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.AdminSignupEnabled = getEnvBool("ADMIN_SIGNUP_ENABLED", false)
	cfg.PhoneDefaultRegion = strings.ToUpper(getEnvString("PHONE_DEFAULT_REGION", "IN"))
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 12)
	cfg.PushBufferSize = getEnvInt("PUSH_BUFFER_SIZE", 64)
	cfg.PushPingInterval = getEnvDuration("PUSH_PING_INTERVAL", 30*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// LoadClient は環境変数からClientConfigを読み込む。
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		APIURL:    strings.TrimRight(getEnvString("ADMIN_API_URL", "http://localhost:8080"), "/"),
		Email:     os.Getenv("ADMIN_EMAIL"),
		Password:  os.Getenv("ADMIN_PASSWORD"),
		TokenFile: getEnvString("ADMIN_TOKEN_FILE", defaultTokenFile()),
	}

	var missing []string
	if cfg.Email == "" {
		missing = append(missing, "ADMIN_EMAIL")
	}
	if cfg.Password == "" {
		missing = append(missing, "ADMIN_PASSWORD")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	return cfg, nil
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".mandapadmin-session.json"
	}
	return dir + string(os.PathSeparator) + "mandapadmin" + string(os.PathSeparator) + "session.json"
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
