// Package market supplies candle history to the simulator and keeps
// the rolling windows live evaluation runs on.
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trader-engine/internal/exchange"
	"trader-engine/internal/logger"
	"trader-engine/pkg/types"
)

// History is a cache-through loader of exchange klines. Entries expire
// after one bar of their timeframe, so repeated optimizer sweeps over
// the same symbol hit the venue once per bar at most.
type History struct {
	ex  exchange.Exchange
	log *logger.Logger

	mu    sync.RWMutex
	cache map[string]historyEntry
}

type historyEntry struct {
	candles  []types.Candle
	loadedAt time.Time
	ttl      time.Duration
}

func NewHistory(ex exchange.Exchange, log *logger.Logger) *History {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &History{
		ex:    ex,
		log:   log,
		cache: make(map[string]historyEntry),
	}
}

// LoadHistory returns up to limit candles for the symbol, newest last.
func (h *History) LoadHistory(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	key := fmt.Sprintf("%s|%s|%d", symbol, timeframe, limit)

	h.mu.RLock()
	entry, ok := h.cache[key]
	h.mu.RUnlock()
	if ok && time.Since(entry.loadedAt) < entry.ttl {
		return cloneCandles(entry.candles), nil
	}

	candles, err := h.ex.GetKlines(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	ttl, err := types.ParseTimeframe(timeframe)
	if err != nil {
		ttl = time.Minute
	}

	h.mu.Lock()
	h.cache[key] = historyEntry{candles: cloneCandles(candles), loadedAt: time.Now(), ttl: ttl}
	h.mu.Unlock()
	h.log.Debug("loaded %d candles for %s %s", len(candles), symbol, timeframe)
	return candles, nil
}

// Invalidate drops every cached entry for the symbol.
func (h *History) Invalidate(symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key := range h.cache {
		if len(key) >= len(symbol) && key[:len(symbol)] == symbol {
			delete(h.cache, key)
		}
	}
}

func cloneCandles(candles []types.Candle) []types.Candle {
	out := make([]types.Candle, len(candles))
	copy(out, candles)
	return out
}
