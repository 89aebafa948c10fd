package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Settings暗号化キーの元になるシークレット
	SettingsEncryptionKey string

	// Workspace
	WorkspaceSlug string

	// OAuth（settingsテーブルに保存がない場合のフォールバック）
	TwitterClientID     string
	TwitterClientSecret string
	ThreadsClientID     string
	ThreadsClientSecret string

	// Platform API
	TwitterAPIBaseURL      string
	ThreadsAPIBaseURL      string
	ThreadsPollInterval    time.Duration
	ThreadsPollMaxAttempts int

	// Token
	TokenRefreshThreshold time.Duration

	// Outbound HTTP
	PublisherHTTPTimeout time.Duration
	PublisherRateLimit   float64
	PublisherRateBurst   int

	// Media
	MediaStorageDir    string
	MediaStorageMarker string

	// Schedule
	ScheduleInterval      time.Duration
	ScheduleMaxConcurrent int
	ScheduleBatchSize     int
	SchedulePendingLease  time.Duration

	// Server
	ServerPort string
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

	cfg.SettingsEncryptionKey = os.Getenv("SETTINGS_ENCRYPTION_KEY")
	if cfg.SettingsEncryptionKey == "" {
		missing = append(missing, "SETTINGS_ENCRYPTION_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.WorkspaceSlug = getEnvString("WORKSPACE_SLUG", "default")
	cfg.TwitterClientID = getEnvString("TWITTER_CLIENT_ID", "")
	cfg.TwitterClientSecret = getEnvString("TWITTER_CLIENT_SECRET", "")
	cfg.ThreadsClientID = getEnvString("THREADS_CLIENT_ID", "")
	cfg.ThreadsClientSecret = getEnvString("THREADS_CLIENT_SECRET", "")
	cfg.TwitterAPIBaseURL = getEnvString("TWITTER_API_BASE_URL", "https://api.twitter.com")
	cfg.ThreadsAPIBaseURL = getEnvString("THREADS_API_BASE_URL", "https://graph.threads.net/v1.0")
	cfg.ThreadsPollInterval = getEnvDuration("THREADS_POLL_INTERVAL", 2*time.Second)
	cfg.ThreadsPollMaxAttempts = getEnvInt("THREADS_POLL_MAX_ATTEMPTS", 10)
	cfg.TokenRefreshThreshold = time.Duration(getEnvInt("TOKEN_REFRESH_THRESHOLD_MINUTES", 5)) * time.Minute
	cfg.PublisherHTTPTimeout = getEnvDuration("PUBLISHER_HTTP_TIMEOUT", 30*time.Second)
	cfg.PublisherRateLimit = getEnvFloat("PUBLISHER_RATE_LIMIT", 5)
	cfg.PublisherRateBurst = getEnvInt("PUBLISHER_RATE_BURST", 5)
	cfg.MediaStorageDir = getEnvString("MEDIA_STORAGE_DIR", "./storage")
	cfg.MediaStorageMarker = getEnvString("MEDIA_STORAGE_MARKER", "/storage/")
	cfg.ScheduleInterval = getEnvDuration("SCHEDULE_INTERVAL", time.Minute)
	cfg.ScheduleMaxConcurrent = getEnvInt("SCHEDULE_MAX_CONCURRENT", 4)
	cfg.ScheduleBatchSize = getEnvInt("SCHEDULE_BATCH_SIZE", 20)
	cfg.SchedulePendingLease = getEnvDuration("SCHEDULE_PENDING_LEASE", 15*time.Minute)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

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
