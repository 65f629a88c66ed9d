package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Telegram
	BotToken string
	GroupID  int64

	// Payments
	ReceivingWallet   string
	ToleranceLamports int64

	// Helius
	HeliusAPIKey  string
	HeliusBaseURL string

	// Webhook
	WebhookURL    string
	WebhookPort   int
	WebhookSecret string

	// Database
	DBPath string

	// Lifecycle
	SweepInterval  time.Duration
	ReminderWindow time.Duration
	IntentTTL      time.Duration
	InviteTTL      time.Duration
}

func Load() *Config {
	return &Config{
		// Telegram
		BotToken: getEnv("BOT_TOKEN", ""),
		GroupID:  getEnvInt64("GROUP_ID", 0),

		// Payments
		ReceivingWallet:   getEnv("RECEIVING_WALLET", ""),
		ToleranceLamports: getEnvInt64("TOLERANCE_LAMPORTS", 50_000_000),

		// Helius
		HeliusAPIKey:  getEnv("HELIUS_API_KEY", ""),
		HeliusBaseURL: strings.TrimSuffix(getEnv("HELIUS_BASE_URL", "https://api.helius.xyz"), "/"),

		// Webhook
		WebhookURL:    getEnv("WEBHOOK_URL", ""),
		WebhookPort:   getEnvInt("WEBHOOK_PORT", 8080),
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		// Database
		DBPath: getEnv("DB_PATH", "./paywall.db"),

		// Lifecycle
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
		ReminderWindow: getEnvDuration("REMINDER_WINDOW", 24*time.Hour),
		IntentTTL:      getEnvDuration("INTENT_TTL", 24*time.Hour),
		InviteTTL:      getEnvDuration("INVITE_TTL", time.Hour),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
