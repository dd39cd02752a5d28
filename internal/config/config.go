package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Storage backends selectable with STORAGE_BACKEND
const (
	BackendAzure  = "azure"
	BackendValkey = "valkey"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config holds the application configuration
type Config struct {
	TelegramToken  string
	AllowedUserIDs []int64

	// Bot mode configuration
	WebhookMode bool   // If true, use webhook mode; if false, use polling mode
	WebhookURL  string // URL for webhook (required if WebhookMode is true)
	Port        string

	StorageBackend string

	// Azure Table Storage configuration
	AzureAccount   string
	AzureKey       string
	AzureTableName string
	AzureEndpoint  string // optional, e.g. Azurite

	// Valkey configuration
	ValkeyAddr      string
	ValkeyPassword  string
	ValkeyNamespace string

	// Badger configuration
	BadgerPath string

	// ClickHouse journal configuration, enabled when ClickHouseHost is set
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	LogLevel  string
	LogFormat string
}

// JournalEnabled reports whether readings are mirrored into ClickHouse
func (c *Config) JournalEnabled() bool {
	return c.ClickHouseHost != ""
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}

	// Telegram Bot Token (required)
	config.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if config.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	// Allowed User IDs (required)
	allowedIDsStr := os.Getenv("TELEGRAM_ALLOWED_USERS")
	if allowedIDsStr == "" {
		return nil, fmt.Errorf("TELEGRAM_ALLOWED_USERS is required (comma-separated list of Telegram user IDs)")
	}
	ids, err := ParseUserIDs(allowedIDsStr)
	if err != nil {
		return nil, err
	}
	config.AllowedUserIDs = ids

	// Bot mode configuration
	config.WebhookMode = os.Getenv("WEBHOOK_MODE") == "true"
	if config.WebhookMode {
		config.WebhookURL = os.Getenv("WEBHOOK_URL")
		if config.WebhookURL == "" {
			return nil, fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
		}
	}
	config.Port = getEnv("PORT", "8080")

	config.StorageBackend = strings.ToLower(getEnv("STORAGE_BACKEND", BackendAzure))
	switch config.StorageBackend {
	case BackendAzure:
		config.AzureAccount = os.Getenv("AZURE_STORAGE_ACCOUNT")
		if config.AzureAccount == "" {
			return nil, fmt.Errorf("AZURE_STORAGE_ACCOUNT is required for the azure backend")
		}
		config.AzureKey = os.Getenv("AZURE_STORAGE_KEY")
		if config.AzureKey == "" {
			return nil, fmt.Errorf("AZURE_STORAGE_KEY is required for the azure backend")
		}
		config.AzureTableName = os.Getenv("AZURE_TABLE_NAME")
		if config.AzureTableName == "" {
			return nil, fmt.Errorf("AZURE_TABLE_NAME is required for the azure backend")
		}
		config.AzureEndpoint = os.Getenv("AZURE_TABLE_ENDPOINT")
	case BackendValkey:
		config.ValkeyAddr = os.Getenv("VALKEY_ADDR")
		if config.ValkeyAddr == "" {
			return nil, fmt.Errorf("VALKEY_ADDR is required for the valkey backend")
		}
		config.ValkeyPassword = os.Getenv("VALKEY_PASSWORD")
		config.ValkeyNamespace = getEnv("VALKEY_NAMESPACE", "consumo")
	case BackendBadger:
		config.BadgerPath = getEnv("BADGER_PATH", "./data/badger")
	case BackendMemory:
		// Nothing to configure, data is lost on restart
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q (expected azure, valkey, badger or memory)", config.StorageBackend)
	}

	// ClickHouse journal (optional)
	config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
	if config.JournalEnabled() {
		portStr := os.Getenv("CLICKHOUSE_PORT")
		if portStr == "" {
			config.ClickHousePort = 9000 // Default ClickHouse native port
		} else {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, fmt.Errorf("invalid CLICKHOUSE_PORT: %w", err)
			}
			config.ClickHousePort = port
		}
		config.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
		config.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
		config.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
		config.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	}

	config.LogLevel = getEnv("LOG_LEVEL", "info")
	config.LogFormat = getEnv("LOG_FORMAT", "json")

	return config, nil
}

// ParseUserIDs parses a comma-separated list of Telegram user ids
func ParseUserIDs(s string) ([]int64, error) {
	var ids []int64
	for _, idStr := range strings.Split(s, ",") {
		idStr = strings.TrimSpace(idStr)
		if idStr == "" {
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID in TELEGRAM_ALLOWED_USERS: %s", idStr)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("TELEGRAM_ALLOWED_USERS does not contain any user ID")
	}
	return ids, nil
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
