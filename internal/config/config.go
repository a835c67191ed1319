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

	// Auth (GoTrue互換の認証プロバイダー)
	AuthBaseURL string
	AuthAPIKey  string
	AuthTimeout time.Duration

	// Generation (回答生成サービス)
	// GenerationEndpoint が空の場合は組み込みのプレースホルダー生成器を使用する
	GenerationEndpoint string
	GenerationAPIKey   string
	GenerationTimeout  time.Duration
	GenerationRPS      float64

	// Client context (クライアントコンテキストの寿命)
	ContextIdleTimeout     time.Duration
	ContextCleanupInterval time.Duration

	// Rate Limit (リクエスト/分)
	RateLimitGeneral int
	RateLimitAsk     int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.AuthBaseURL = os.Getenv("AUTH_BASE_URL")
	if cfg.AuthBaseURL == "" {
		missing = append(missing, "AUTH_BASE_URL")
	}

	cfg.AuthAPIKey = os.Getenv("AUTH_API_KEY")
	if cfg.AuthAPIKey == "" {
		missing = append(missing, "AUTH_API_KEY")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AuthTimeout = getEnvDuration("AUTH_TIMEOUT", 10*time.Second)
	cfg.GenerationEndpoint = getEnvString("GENERATION_ENDPOINT", "")
	cfg.GenerationAPIKey = getEnvString("GENERATION_API_KEY", "")
	cfg.GenerationTimeout = getEnvDuration("GENERATION_TIMEOUT", 30*time.Second)
	cfg.GenerationRPS = getEnvFloat("GENERATION_RPS", 2)
	cfg.ContextIdleTimeout = getEnvDuration("CONTEXT_IDLE_TIMEOUT", 24*time.Hour)
	cfg.ContextCleanupInterval = getEnvDuration("CONTEXT_CLEANUP_INTERVAL", 10*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAsk = getEnvInt("RATE_LIMIT_ASK", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
