package exchange

import (
	"strings"

	traderrors "trader-engine/internal/errors"
	"trader-engine/internal/logger"
)

// Config selects and authenticates a venue.
type Config struct {
	Venue     string
	APIKey    string
	APISecret string
	Testnet   bool
}

// New builds the venue adapter named by cfg.Venue.
func New(cfg Config, log *logger.Logger) (Exchange, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, traderrors.New(traderrors.CategoryCredentials, "exchange", "factory",
			"api key and secret are required")
	}
	switch strings.ToLower(cfg.Venue) {
	case "", "binance":
		return NewBinance(cfg.APIKey, cfg.APISecret, cfg.Testnet, log), nil
	case "bybit":
		return NewBybit(cfg.APIKey, cfg.APISecret, cfg.Testnet, log), nil
	}
	return nil, traderrors.New(traderrors.CategoryConfig, "exchange", "factory",
		"unsupported venue "+cfg.Venue)
}
