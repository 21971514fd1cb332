// Package config loads the engine configuration from the environment,
// optionally seeded from a .env file. Credentials only ever come from
// the environment; everything else has a workable default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"trader-engine/internal/exchange"
)

// TelegramConfig holds the notification bot credentials and the
// user-to-chat mapping.
type TelegramConfig struct {
	Token string
	Chats map[int64]string
}

// Enabled reports whether Telegram delivery is configured at all.
func (t TelegramConfig) Enabled() bool { return t.Token != "" && len(t.Chats) > 0 }

// MLConfig points the engine at the model collaborator subprocess.
type MLConfig struct {
	Script      string
	Interpreter string
	ModelDir    string
}

// Config is the full runtime configuration of the engine.
type Config struct {
	Exchange exchange.Config

	DatabasePath string
	MetricsAddr  string
	Timeframe    string
	Users        []int64
	Debug        bool

	Telegram TelegramConfig
	ML       MLConfig
}

// Load reads the configuration, seeding the environment from envFile
// when it exists. A missing envFile is not an error; a present but
// unreadable one is.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load env file %s: %w", envFile, err)
			}
		}
	}

	venue := strings.ToLower(getEnv("EXCHANGE", "binance"))
	cfg := &Config{
		Exchange: exchange.Config{
			Venue:   venue,
			Testnet: getEnvBool("TESTNET", false),
		},
		DatabasePath: getEnv("DB_PATH", "trader.db"),
		MetricsAddr:  getEnv("METRICS_ADDR", ":9090"),
		Timeframe:    getEnv("TIMEFRAME", "1m"),
		Debug:        getEnvBool("DEBUG", false),
		ML: MLConfig{
			Script:      getEnv("ML_SCRIPT", "scripts/model_runner.py"),
			Interpreter: getEnv("ML_INTERPRETER", "python3"),
			ModelDir:    getEnv("ML_MODEL_DIR", "models"),
		},
	}

	switch venue {
	case "bybit":
		cfg.Exchange.APIKey = os.Getenv("BYBIT_API_KEY")
		cfg.Exchange.APISecret = os.Getenv("BYBIT_API_SECRET")
	default:
		cfg.Exchange.APIKey = os.Getenv("BINANCE_API_KEY")
		cfg.Exchange.APISecret = os.Getenv("BINANCE_API_SECRET")
	}

	users, err := parseUsers(getEnv("USERS", "1"))
	if err != nil {
		return nil, err
	}
	cfg.Users = users

	chats, err := parseChats(os.Getenv("TELEGRAM_CHATS"))
	if err != nil {
		return nil, err
	}
	cfg.Telegram = TelegramConfig{
		Token: os.Getenv("TELEGRAM_BOT_TOKEN"),
		Chats: chats,
	}

	return cfg, nil
}

// Validate rejects configurations that cannot run a live session.
// Backtest and optimizer runs call it with requireKeys false since
// they only read public market data.
func (c *Config) Validate(requireKeys bool) error {
	if c.Exchange.Venue != "binance" && c.Exchange.Venue != "bybit" {
		return fmt.Errorf("unsupported exchange %q", c.Exchange.Venue)
	}
	if requireKeys && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("missing API credentials for %s", c.Exchange.Venue)
	}
	if len(c.Users) == 0 {
		return fmt.Errorf("no users configured")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is empty")
	}
	return nil
}

func parseUsers(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	users := make([]int64, 0, len(parts))
	seen := make(map[int64]bool)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", part, err)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		users = append(users, id)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("no user ids in %q", raw)
	}
	return users, nil
}

// parseChats reads "userID:chatID" pairs separated by commas.
func parseChats(raw string) (map[int64]string, error) {
	chats := make(map[int64]string)
	if raw == "" {
		return chats, nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		userPart, chatPart, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid telegram chat mapping %q, want userID:chatID", part)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(userPart), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id in chat mapping %q: %w", part, err)
		}
		chats[id] = strings.TrimSpace(chatPart)
	}
	return chats, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
