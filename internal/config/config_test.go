package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEngineEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"EXCHANGE", "TESTNET", "DB_PATH", "METRICS_ADDR", "TIMEFRAME", "USERS", "DEBUG",
		"BINANCE_API_KEY", "BINANCE_API_SECRET", "BYBIT_API_KEY", "BYBIT_API_SECRET",
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHATS",
		"ML_SCRIPT", "ML_INTERPRETER", "ML_MODEL_DIR",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEngineEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "binance", cfg.Exchange.Venue)
	assert.False(t, cfg.Exchange.Testnet)
	assert.Equal(t, "trader.db", cfg.DatabasePath)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "1m", cfg.Timeframe)
	assert.Equal(t, []int64{1}, cfg.Users)
	assert.Equal(t, "python3", cfg.ML.Interpreter)
}

func TestLoad_VenueSelectsCredentials(t *testing.T) {
	clearEngineEnv(t)
	t.Setenv("EXCHANGE", "bybit")
	t.Setenv("BYBIT_API_KEY", "key-b")
	t.Setenv("BYBIT_API_SECRET", "secret-b")
	t.Setenv("BINANCE_API_KEY", "key-a")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "bybit", cfg.Exchange.Venue)
	assert.Equal(t, "key-b", cfg.Exchange.APIKey)
	assert.Equal(t, "secret-b", cfg.Exchange.APISecret)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEngineEnv(t)

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "EXCHANGE=binance\nBINANCE_API_KEY=file-key\nBINANCE_API_SECRET=file-secret\nUSERS=7,9,7\nTESTNET=true\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.Exchange.APIKey)
	assert.True(t, cfg.Exchange.Testnet)
	assert.Equal(t, []int64{7, 9}, cfg.Users, "duplicate user ids collapse")
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	clearEngineEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	require.NoError(t, err)
}

func TestLoad_TelegramChats(t *testing.T) {
	clearEngineEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHATS", "1:100, 2:200")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Telegram.Enabled())
	assert.Equal(t, map[int64]string{1: "100", 2: "200"}, cfg.Telegram.Chats)

	t.Setenv("TELEGRAM_CHATS", "broken")
	_, err = Load("")
	require.Error(t, err)
}

func TestTelegramDisabledWithoutMapping(t *testing.T) {
	clearEngineEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Telegram.Enabled())
}

func TestLoad_BadUsers(t *testing.T) {
	clearEngineEnv(t)
	t.Setenv("USERS", "1,abc")
	_, err := Load("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEngineEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	require.NoError(t, cfg.Validate(false))
	require.Error(t, cfg.Validate(true), "live runs need credentials")

	cfg.Exchange.APIKey = "k"
	cfg.Exchange.APISecret = "s"
	require.NoError(t, cfg.Validate(true))

	cfg.Exchange.Venue = "kraken"
	require.Error(t, cfg.Validate(false))

	cfg.Exchange.Venue = "binance"
	cfg.Users = nil
	require.Error(t, cfg.Validate(false))
}
