// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // distrolessイメージにはタイムゾーンDBがない

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/hitoshi/outlierscout/internal/model"
)

// スクレイピングプロバイダ
const (
	ProviderScrapingBee = "scrapingbee"
	ProviderZenRows     = "zenrows"
)

// MinRetentionDays はスナップショット履歴の最短保持日数。ベースライン算出期間を下回らない。
const MinRetentionDays = 14

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Scraping
	ScrapingAPIKey   string
	ScrapingProvider string

	// Notion（任意。未設定の場合はレポート作成をスキップする）
	NotionToken      string
	NotionDatabaseID string

	// Telegram（任意。未設定の場合は通知をスキップする）
	TelegramBotToken string
	TelegramChatID   string

	// Server
	ServerPort        string
	BaseURL           string
	CORSAllowedOrigin string

	// Outbound HTTP
	HTTPTimeout        time.Duration
	ScrapeMaxBodyBytes int64

	// Rate Limit（req/min、クライアントIPごと）
	RateLimitScrape int

	// Worker
	TargetsFile           string
	ScrapeSchedule        string
	ScrapeTimezone        string
	SnapshotRetentionDays int

	// Logging
	LogLevel string
}

// NotionEnabled はNotionレポートの認証情報が揃っているかを返す。
func (c *Config) NotionEnabled() bool {
	return c.NotionToken != "" && c.NotionDatabaseID != ""
}

// TelegramEnabled はTelegram通知の認証情報が揃っているかを返す。
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// DatabaseSource は認証情報を除いたデータベースの接続先（scheme://host/dbname）を返す。
// APIレスポンスやログにデータの出所として出力する。
func (c *Config) DatabaseSource() string {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil || u.Host == "" {
		return "postgres"
	}
	return u.Scheme + "://" + u.Host + u.Path
}

// LoadDotEnv は.envファイルを環境変数に読み込む。既存の環境変数は上書きしない。
// ファイルが存在しない場合は何もしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数の欠落や不正値がある場合は、すべてを列挙した *model.ConfigError を返す。
func Load() (*Config, error) {
	cfg := &Config{}
	cfgErr := &model.ConfigError{}

	// Required fields
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		cfgErr.Missing = append(cfgErr.Missing, "DATABASE_URL")
	}

	cfg.ScrapingAPIKey = os.Getenv("SCRAPING_API_KEY")
	if cfg.ScrapingAPIKey == "" {
		cfgErr.Missing = append(cfgErr.Missing, "SCRAPING_API_KEY")
	}

	// Validated optional fields
	cfg.ScrapingProvider = strings.ToLower(getEnvString("SCRAPING_PROVIDER", ProviderScrapingBee))
	if cfg.ScrapingProvider != ProviderScrapingBee && cfg.ScrapingProvider != ProviderZenRows {
		cfgErr.Invalid = append(cfgErr.Invalid,
			fmt.Sprintf("SCRAPING_PROVIDER: unsupported provider %q", cfg.ScrapingProvider))
	}

	cfg.ScrapeSchedule = getEnvString("SCRAPE_SCHEDULE", "0 9 * * *")
	if _, err := cron.ParseStandard(cfg.ScrapeSchedule); err != nil {
		cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("SCRAPE_SCHEDULE: %v", err))
	}

	cfg.ScrapeTimezone = getEnvString("SCRAPE_TIMEZONE", "America/Sao_Paulo")
	if _, err := time.LoadLocation(cfg.ScrapeTimezone); err != nil {
		cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("SCRAPE_TIMEZONE: %v", err))
	}

	if len(cfgErr.Missing) > 0 || len(cfgErr.Invalid) > 0 {
		return nil, cfgErr
	}

	// Optional fields with defaults
	cfg.NotionToken = os.Getenv("NOTION_TOKEN")
	cfg.NotionDatabaseID = os.Getenv("NOTION_DATABASE_ID")
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 60*time.Second)
	cfg.ScrapeMaxBodyBytes = int64(getEnvInt("SCRAPE_MAX_BODY_BYTES", 10*1024*1024))
	cfg.RateLimitScrape = getEnvInt("RATE_LIMIT_SCRAPE", 10)
	cfg.TargetsFile = getEnvString("TARGETS_FILE", "targets.yaml")
	cfg.SnapshotRetentionDays = getEnvInt("SNAPSHOT_RETENTION_DAYS", 90)
	if cfg.SnapshotRetentionDays < MinRetentionDays {
		cfg.SnapshotRetentionDays = MinRetentionDays
	}
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

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
