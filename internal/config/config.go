package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストアのバックエンド
const (
	BackendSheets   = "sheets"
	BackendPostgres = "postgres"
)

// Config は起動時に一度だけ読み込まれるアプリケーション設定です。
type Config struct {
	Port string

	StoreBackend  string
	SheetsAPIURL  string
	SheetsAPIKey  string
	SheetsTimeout time.Duration
	DatabaseURL   string

	LocalCachePath  string
	RecordCacheTTL  time.Duration
	RankingCacheTTL time.Duration
	HistoryWorkers  int

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	Location           *time.Location
}

// Load は .env (本番環境以外) と環境変数から設定を読み込みます。
func Load() (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil {
			log.Printf("warning: Error loading .env file (this is fine in production): %v", err)
		}
	}
	return FromEnv()
}

// FromEnv は環境変数だけから設定を組み立てます。
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", BackendSheets)),
		SheetsAPIURL:   getEnv("SHEETS_API_URL", ""),
		SheetsAPIKey:   getEnv("SHEETS_API_KEY", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		LocalCachePath: getEnv("LOCAL_CACHE_PATH", "data/users.json"),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}

	var err error
	if cfg.SheetsTimeout, err = getDuration("SHEETS_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RecordCacheTTL, err = getDuration("RECORD_CACHE_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RankingCacheTTL, err = getDuration("RANKING_CACHE_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.HistoryWorkers, err = getInt("HISTORY_WORKERS", 4); err != nil {
		return nil, err
	}

	cfg.CORSAllowedOrigins = splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"))

	tz := getEnv("TIMEZONE", "UTC")
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("TIMEZONE '%s' の読み込みに失敗しました: %w", tz, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendSheets:
		if c.SheetsAPIURL == "" {
			return fmt.Errorf("STORE_BACKEND=sheets には SHEETS_API_URL が必要です")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE_BACKEND=postgres には DATABASE_URL が必要です")
		}
	default:
		return fmt.Errorf("不明な STORE_BACKEND です: %s", c.StoreBackend)
	}
	if c.HistoryWorkers <= 0 {
		return fmt.Errorf("HISTORY_WORKERS は1以上である必要があります: %d", c.HistoryWorkers)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s の値 '%s' を期間として解釈できません: %w", key, value, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s の値 '%s' を整数として解釈できません: %w", key, value, err)
	}
	return n, nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
