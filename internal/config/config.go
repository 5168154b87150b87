package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Server configuration
	Port     string
	Mode     string
	LogLevel string

	// Database configuration
	DatabaseURL string
	SQLitePath  string
	AutoMigrate bool

	// Redis configuration
	RedisURL string

	// PayPal configuration
	PayPalClientID     string
	PayPalClientSecret string
	PayPalBaseURL      string
	PayPalReturnURL    string
	PayPalCancelURL    string
	PayPalTimeout      time.Duration

	// Pricing
	Currency    string
	TierPrices  map[string]decimal.Decimal
	RobloxPrice map[string]decimal.Decimal

	// Key issuance webhook
	KeyWebhookURL      string
	KeyWebhookTierURLs map[string]string
	KeyWebhookSecret   string
	KeyWebhookTimeout  time.Duration

	// Roblox configuration
	RobloxUsersURL     string
	RobloxInventoryURL string
	RobloxGamePasses   map[string]string

	// Brevo email configuration
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string

	// SMTP fallback
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	// Discord
	DiscordWebhookURL string

	// Auth
	AdminPassword string
	SessionSecret string
	SessionTTL    time.Duration
	AdminTTL      time.Duration

	// Verification code configuration
	CodeExpireMinutes int
	RateLimitSeconds  int
	ServiceName       string

	// Per-IP limit on public write endpoints
	PublicRatePerMinute int
	PublicRateBurst     int
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:        getEnv("PORT", "8080"),
		Mode:        getEnv("GIN_MODE", "debug"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "keyshop.db"),
		AutoMigrate: getEnvBool("AUTO_MIGRATE", true),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		PayPalClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
		PayPalClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
		PayPalBaseURL:      getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
		PayPalReturnURL:    getEnv("PAYPAL_RETURN_URL", "http://localhost:3000/checkout/success"),
		PayPalCancelURL:    getEnv("PAYPAL_CANCEL_URL", "http://localhost:3000/checkout/cancel"),
		PayPalTimeout:      getEnvDuration("PAYPAL_TIMEOUT", 15*time.Second),

		Currency: getEnv("CURRENCY", "EUR"),
		TierPrices: map[string]decimal.Decimal{
			"weekly":   getEnvDecimal("PRICE_WEEKLY", "4.99"),
			"monthly":  getEnvDecimal("PRICE_MONTHLY", "14.99"),
			"lifetime": getEnvDecimal("PRICE_LIFETIME", "49.99"),
		},
		RobloxPrice: map[string]decimal.Decimal{
			"weekly":   getEnvDecimal("ROBLOX_PRICE_WEEKLY", "400"),
			"monthly":  getEnvDecimal("ROBLOX_PRICE_MONTHLY", "1200"),
			"lifetime": getEnvDecimal("ROBLOX_PRICE_LIFETIME", "4000"),
		},

		KeyWebhookURL: getEnv("KEY_WEBHOOK_URL", ""),
		KeyWebhookTierURLs: map[string]string{
			"weekly":   getEnv("KEY_WEBHOOK_URL_WEEKLY", ""),
			"monthly":  getEnv("KEY_WEBHOOK_URL_MONTHLY", ""),
			"lifetime": getEnv("KEY_WEBHOOK_URL_LIFETIME", ""),
		},
		KeyWebhookSecret:  getEnv("KEY_WEBHOOK_SECRET", ""),
		KeyWebhookTimeout: getEnvDuration("KEY_WEBHOOK_TIMEOUT", 30*time.Second),

		RobloxUsersURL:     getEnv("ROBLOX_USERS_URL", "https://users.roblox.com"),
		RobloxInventoryURL: getEnv("ROBLOX_INVENTORY_URL", "https://inventory.roblox.com"),
		RobloxGamePasses: map[string]string{
			"weekly":   getEnv("ROBLOX_GAMEPASS_WEEKLY", ""),
			"monthly":  getEnv("ROBLOX_GAMEPASS_MONTHLY", ""),
			"lifetime": getEnv("ROBLOX_GAMEPASS_LIFETIME", ""),
		},

		BrevoAPIKey:    getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail: getEnv("BREVO_FROM_EMAIL", ""),
		BrevoFromName:  getEnv("BREVO_FROM_NAME", "Keyshop"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),

		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		SessionSecret: getEnv("SESSION_SECRET", ""),
		SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
		AdminTTL:      getEnvDuration("ADMIN_SESSION_TTL", 8*time.Hour),

		CodeExpireMinutes: getEnvInt("CODE_EXPIRE_MINUTES", 10),
		RateLimitSeconds:  getEnvInt("RATE_LIMIT_SECONDS", 60),
		ServiceName:       getEnv("SERVICE_NAME", "Keyshop"),

		PublicRatePerMinute: getEnvInt("PUBLIC_RATE_LIMIT_PER_MINUTE", 30),
		PublicRateBurst:     getEnvInt("PUBLIC_RATE_LIMIT_BURST", 10),
	}

	return nil
}

// KeyWebhookEndpoint returns the tier specific webhook, falling back to the default one.
func (c *Config) KeyWebhookEndpoint(tier string) string {
	if url := c.KeyWebhookTierURLs[tier]; url != "" {
		return url
	}
	return c.KeyWebhookURL
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key, defaultValue string) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(defaultValue)
}
