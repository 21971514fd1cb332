package trading

import (
	"context"
	"time"

	"trader-engine/internal/exchange"
	"trader-engine/internal/logger"
	"trader-engine/internal/store"
)

const fallbackInterval = 15 * time.Second

// FallbackMonitor is the venue-independent safety net behind the OCO
// legs: every tick it compares live prices against the stored exit
// levels of open positions and force-closes any breach. It is the only
// protection for positions whose protective legs failed to arm, and a
// second line for everything else.
type FallbackMonitor struct {
	ex       exchange.Exchange
	st       *store.Store
	orch     *Orchestrator
	users    []int64
	interval time.Duration
	log      *logger.Logger
}

func NewFallbackMonitor(ex exchange.Exchange, st *store.Store, orch *Orchestrator, users []int64, log *logger.Logger) *FallbackMonitor {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &FallbackMonitor{
		ex:       ex,
		st:       st,
		orch:     orch,
		users:    users,
		interval: fallbackInterval,
		log:      log,
	}
}

// SetInterval overrides the sweep cadence.
func (m *FallbackMonitor) SetInterval(d time.Duration) { m.interval = d }

// Run sweeps until ctx is done.
func (m *FallbackMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep checks every open position once. Take profit is evaluated
// before stop loss, so a price that somehow satisfies both exits as a
// win.
func (m *FallbackMonitor) Sweep(ctx context.Context) {
	for _, userID := range m.users {
		open, err := m.st.ListOpenTrades(ctx, userID)
		if err != nil {
			m.log.Error("fallback list open trades: %v", err)
			continue
		}
		for _, rec := range open {
			m.checkPosition(ctx, rec)
		}
	}
}

func (m *FallbackMonitor) checkPosition(ctx context.Context, rec store.TradeRecord) {
	price, err := m.ex.GetPrice(ctx, rec.Symbol)
	if err != nil {
		m.log.Warn("fallback price %s: %v", rec.Symbol, err)
		return
	}

	var reason string
	switch {
	case rec.TakeProfitPrice > 0 && price >= rec.TakeProfitPrice:
		reason = "TAKE_PROFIT_FALLBACK"
	case rec.StopLossPrice > 0 && price <= rec.StopLossPrice:
		reason = "STOP_LOSS_FALLBACK"
	default:
		return
	}

	m.log.Warn("fallback closing %s for user %d at %.8f (%s)", rec.Symbol, rec.UserID, price, reason)
	if err := m.orch.CloseOpenTrade(ctx, rec, reason); err != nil {
		m.log.Error("fallback close %s: %v", rec.Symbol, err)
	}
}
