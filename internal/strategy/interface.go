package strategy

import (
	"fmt"
	"sort"
	"sync"

	"trader-engine/pkg/types"
)

// Signal is a trading decision produced by a strategy.
type Signal int

const (
	SignalHold Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "BUY"
	case SignalSell:
		return "SELL"
	case SignalHold:
		return "HOLD"
	default:
		return "UNKNOWN"
	}
}

// Kind identifies a strategy implementation. The stored per-user settings
// reference a Kind; the registry resolves it to the implementation.
type Kind string

const (
	KindRsiEma         Kind = "rsi_ema"
	KindWindowBreakout Kind = "window_breakout"
	KindFibGrid        Kind = "fib_grid"
	KindMLModel        Kind = "ml_model"
)

// Params is a strategy-kind-specific parameter set. A Params value is
// read-only during a single evaluation; implementations receiving a Params
// of the wrong kind return HOLD rather than failing.
type Params interface {
	Kind() Kind
}

// Strategy evaluates a candle history into a trading signal.
//
// Evaluate must be a pure function of its inputs so that backtest and live
// evaluation of the same strategy are interchangeable. Histories shorter
// than MinBars produce HOLD, never an error. Numeric ties in threshold
// comparisons resolve to HOLD.
type Strategy interface {
	Kind() Kind
	Evaluate(history []types.Candle, params Params) Signal
	MinBars(params Params) int
}

// Registry resolves a stored strategy kind to its implementation.
type Registry struct {
	mu         sync.RWMutex
	strategies map[Kind]Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[Kind]Strategy)}
}

// Register adds a strategy, replacing any previous one for the same kind.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Kind()] = s
}

// Get returns the strategy for the given kind.
func (r *Registry) Get(kind Kind) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}
	return s, nil
}

// Kinds returns the registered kinds in stable order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.strategies))
	for k := range r.strategies {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
