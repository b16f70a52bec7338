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
	DatabaseURL string

	// Server
	ServerPort string
	BaseURL    string

	// 送信メール（SMTP）
	MailHost   string
	MailPort   int
	MailUser   string
	MailPass   string
	MailSecure bool
	MailFrom   string

	// 受信メール（IMAP、コマンド取り込み用ボットアカウント）
	BotHost   string
	BotPort   int
	BotEmail  string
	BotPass   string
	BotSecure bool

	// 通知文面に記載する連絡先アドレス
	ContactEmail string

	// Delivery
	DeliveryMaxConcurrent int
	DeliveryTaskTimeout   time.Duration

	// Probe（URL到達性確認）
	ProbeTimeout time.Duration
	ProbeMaxSize int64

	// Intake
	IntakeMaxConcurrent int

	// Import（read-laterプロバイダ）
	ImportAPIURL      string
	ImportConsumerKey string
	ImportLookback    time.Duration

	// Enrichment（タイトル補完）
	EnrichBatchSize int
	EnrichTimeout   time.Duration

	// Billing
	BillingAPIURL string
	BillingAPIKey string

	// Rate Limit（req/min/subscriber）
	RateLimitGeneral int
	RateLimitLinkReg int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// SMTP/IMAPのデフォルトは開発用のMaildev構成（localhost:1025、TLSなし）。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
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
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	cfg.MailHost = getEnvString("MAIL_HOST", "localhost")
	cfg.MailPort = getEnvInt("MAIL_PORT", 1025)
	cfg.MailUser = getEnvString("MAIL_USER", "")
	cfg.MailPass = getEnvString("MAIL_PASS", "")
	cfg.MailSecure = getEnvBool("MAIL_SECURE", false)
	cfg.MailFrom = getEnvString("MAIL_FROM", "ClearList <read@clearlist.app>")

	cfg.BotHost = getEnvString("BOT_HOST", "localhost")
	cfg.BotPort = getEnvInt("BOT_PORT", 143)
	cfg.BotEmail = getEnvString("BOT_EMAIL", "")
	cfg.BotPass = getEnvString("BOT_PASS", "")
	cfg.BotSecure = getEnvBool("BOT_SECURE", false)

	cfg.ContactEmail = getEnvString("CONTACT_EMAIL", "me@clearlist.app")

	cfg.DeliveryMaxConcurrent = getEnvInt("DELIVERY_MAX_CONCURRENT", 10)
	cfg.DeliveryTaskTimeout = getEnvDuration("DELIVERY_TASK_TIMEOUT", 30*time.Second)

	cfg.ProbeTimeout = getEnvDuration("PROBE_TIMEOUT", 10*time.Second)
	cfg.ProbeMaxSize = getEnvInt64("PROBE_MAX_SIZE", 1048576)

	cfg.IntakeMaxConcurrent = getEnvInt("INTAKE_MAX_CONCURRENT", 4)

	cfg.ImportAPIURL = getEnvString("IMPORT_API_URL", "")
	cfg.ImportConsumerKey = getEnvString("IMPORT_CONSUMER_KEY", "")
	cfg.ImportLookback = getEnvDuration("IMPORT_LOOKBACK", time.Hour)

	cfg.EnrichBatchSize = getEnvInt("ENRICH_BATCH_SIZE", 50)
	cfg.EnrichTimeout = getEnvDuration("ENRICH_TIMEOUT", 10*time.Second)

	cfg.BillingAPIURL = getEnvString("BILLING_API_URL", "")
	cfg.BillingAPIKey = getEnvString("BILLING_API_KEY", "")

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLinkReg = getEnvInt("RATE_LIMIT_LINK_REG", 10)

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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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
