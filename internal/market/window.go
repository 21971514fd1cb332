package market

import (
	"sync"

	"trader-engine/pkg/types"
)

// Window is a bounded, append-only view of the most recent candles of
// one symbol. Appending past capacity evicts the oldest bar. Safe for
// one writer and many readers.
type Window struct {
	mu       sync.RWMutex
	capacity int
	candles  []types.Candle
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 500
	}
	return &Window{capacity: capacity}
}

// Append adds a candle, replacing the newest bar when the open time
// matches (stream replays after a redial send the same bar twice).
func (w *Window) Append(c types.Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := len(w.candles); n > 0 && w.candles[n-1].OpenTime.Equal(c.OpenTime) {
		w.candles[n-1] = c
		return
	}
	w.candles = append(w.candles, c)
	if len(w.candles) > w.capacity {
		w.candles = w.candles[len(w.candles)-w.capacity:]
	}
}

// Snapshot returns a copy of the current window, oldest first.
func (w *Window) Snapshot() []types.Candle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return cloneCandles(w.candles)
}

// Len reports the number of buffered candles.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.candles)
}

// Seed replaces the window contents with preloaded history.
func (w *Window) Seed(candles []types.Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(candles) > w.capacity {
		candles = candles[len(candles)-w.capacity:]
	}
	w.candles = cloneCandles(candles)
}
