package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trader-engine/internal/exchange"
	"trader-engine/internal/logger"
	"trader-engine/internal/market"
	"trader-engine/internal/monitoring"
	"trader-engine/internal/risk"
	"trader-engine/internal/store"
	"trader-engine/internal/strategy"
	"trader-engine/pkg/types"
)

// State is the lifecycle of one user's trading session.
type State string

const (
	StateStopped        State = "STOPPED"
	StateRunning        State = "RUNNING"
	StateCooldown       State = "COOLDOWN"
	StatePausedDrawdown State = "PAUSED_DRAWDOWN"
)

const windowCapacity = 500

// Controller drives one user's live session: it holds the rolling
// candle windows, gates signal evaluation on the session state, and
// hands executable signals to the orchestrator off the stream
// delivery goroutine.
type Controller struct {
	userID   int64
	ex       exchange.Exchange
	st       *store.Store
	orch     *Orchestrator
	registry *strategy.Registry
	notifier Notifier
	log      *logger.Logger

	now       func() time.Time
	timeframe string

	mu             sync.Mutex
	state          State
	cooldownUntil  time.Time
	profile        risk.Profile
	pairs          map[string]store.Pair
	strat          strategy.Strategy
	params         strategy.Params
	windows        map[string]*market.Window
	inFlight       map[string]bool
	initialBalance float64
	realizedPnl    float64
	peakEquity     float64
}

func NewController(userID int64, ex exchange.Exchange, st *store.Store, orch *Orchestrator, registry *strategy.Registry, notifier Notifier, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	if notifier == nil {
		notifier = NewLogNotifier(log)
	}
	return &Controller{
		userID:    userID,
		ex:        ex,
		st:        st,
		orch:      orch,
		registry:  registry,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
		timeframe: "1m",
		state:     StateStopped,
		pairs:     make(map[string]store.Pair),
		windows:   make(map[string]*market.Window),
		inFlight:  make(map[string]bool),
	}
}

// SetTimeframe sets the candle timeframe used for window seeding.
// Call before Start; it must match the subscribed kline stream.
func (c *Controller) SetTimeframe(tf string) { c.timeframe = tf }

// Start loads the user's settings, seeds the candle windows from
// history and moves the session to RUNNING.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.ReloadSettings(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	profile := c.profile
	pairs := make([]store.Pair, 0, len(c.pairs))
	for _, p := range c.pairs {
		pairs = append(pairs, p)
	}
	c.mu.Unlock()

	balance, err := c.ex.GetBalance(ctx, profile.BalanceAsset)
	if err != nil {
		return err
	}

	for _, pair := range pairs {
		history, err := c.ex.GetKlines(ctx, pair.Symbol, c.timeframe, windowCapacity)
		if err != nil {
			c.log.Warn("seed window %s: %v", pair.Symbol, err)
			continue
		}
		c.windowFor(pair.Symbol).Seed(history)
	}

	c.mu.Lock()
	c.initialBalance = balance.Free
	c.peakEquity = balance.Free
	c.realizedPnl = 0
	c.state = StateRunning
	c.mu.Unlock()

	c.log.Status("user %d session started: %d pairs, strategy %s, balance %.2f %s",
		c.userID, len(pairs), c.strat.Kind(), balance.Free, profile.BalanceAsset)
	return nil
}

// Stop halts signal processing. With closePositions set, every open
// position is unwound first.
func (c *Controller) Stop(ctx context.Context, closePositions bool) error {
	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()

	if closePositions {
		closed, err := c.orch.CloseAll(ctx, c.userID, "MANUAL_STOP")
		if err != nil {
			return err
		}
		c.log.Status("user %d stopped, %d positions closed", c.userID, closed)
		return nil
	}
	c.log.Status("user %d stopped, positions left open", c.userID)
	return nil
}

// Resume clears a drawdown pause and rebases the equity peak so the
// same drawdown does not trip again immediately.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePausedDrawdown {
		return
	}
	c.state = StateRunning
	c.peakEquity = c.initialBalance + c.realizedPnl
}

// State returns the current session state, resolving expired cooldowns.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolveCooldownLocked()
	return c.state
}

// ReloadSettings re-reads the strategy, risk profile and pairs. Called
// at start and whenever stored settings change.
func (c *Controller) ReloadSettings(ctx context.Context) error {
	settings, err := c.st.GetStrategySettings(ctx, c.userID)
	if err != nil {
		return err
	}
	strat, err := c.registry.Get(settings.Kind)
	if err != nil {
		return err
	}
	params, err := strategy.DecodeParams(settings.Kind, []byte(settings.ParamsJSON))
	if err != nil {
		return err
	}
	profile, err := c.st.GetRiskProfile(ctx, c.userID)
	if err != nil {
		return err
	}
	pairs, err := c.st.ListActivePairs(ctx, c.userID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.strat = strat
	c.params = params
	c.profile = profile
	c.pairs = make(map[string]store.Pair, len(pairs))
	for _, p := range pairs {
		c.pairs[p.Symbol] = p
	}
	return nil
}

// Run consumes the candle stream until it closes or ctx is done.
func (c *Controller) Run(ctx context.Context, candles <-chan types.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candles:
			if !ok {
				return
			}
			c.OnCandle(ctx, candle)
		}
	}
}

// OnCandle folds one closed candle into the symbol window and, when
// the session allows it, evaluates the strategy. Order placement runs
// on its own goroutine so a slow venue never stalls the stream.
func (c *Controller) OnCandle(ctx context.Context, candle types.Candle) {
	c.mu.Lock()
	pair, tracked := c.pairs[candle.Symbol]
	c.mu.Unlock()
	if !tracked {
		return
	}

	c.windowFor(candle.Symbol).Append(candle)
	monitoring.UpdatePrice(candle.Symbol, candle.Close)

	c.evaluateSymbol(ctx, pair)
}

// EvaluateAll re-runs the strategy over every tracked pair using the
// current windows. The re-entry ticker uses this to catch signals
// between candles, after cooldowns expire.
func (c *Controller) EvaluateAll(ctx context.Context) {
	c.mu.Lock()
	pairs := make([]store.Pair, 0, len(c.pairs))
	for _, p := range c.pairs {
		pairs = append(pairs, p)
	}
	c.mu.Unlock()
	for _, pair := range pairs {
		c.evaluateSymbol(ctx, pair)
	}
}

func (c *Controller) evaluateSymbol(ctx context.Context, pair store.Pair) {
	c.mu.Lock()
	c.resolveCooldownLocked()
	if c.state != StateRunning || c.strat == nil {
		c.mu.Unlock()
		return
	}
	strat, params, profile := c.strat, c.params, c.profile
	c.mu.Unlock()

	history := c.windowFor(pair.Symbol).Snapshot()
	if len(history) < strat.MinBars(params) {
		return
	}
	signal := strat.Evaluate(history, params)
	monitoring.RecordSignal(string(strat.Kind()), signal.String())
	if signal == strategy.SignalHold {
		return
	}

	if !c.claimSymbol(pair.Symbol) {
		return
	}
	go func() {
		defer c.releaseSymbol(pair.Symbol)
		switch signal {
		case strategy.SignalBuy:
			if err := c.orch.OpenPosition(ctx, profile, pair); err != nil {
				c.log.Warn("entry %s: %v", pair.Symbol, err)
			}
		case strategy.SignalSell:
			if _, err := c.orch.ClosePosition(ctx, c.userID, pair.Symbol, "SELL_SIGNAL"); err != nil {
				c.log.Warn("exit %s: %v", pair.Symbol, err)
			}
		}
	}()
}

// HandleClose is wired to the orchestrator's close callback: it books
// realized PnL, trips the drawdown pause when the equity curve falls
// too far off its peak, and otherwise starts the cooldown.
func (c *Controller) HandleClose(symbol string, pnl float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.realizedPnl += pnl
	equity := c.initialBalance + c.realizedPnl
	if equity > c.peakEquity {
		c.peakEquity = equity
	}

	if c.state == StateStopped {
		return
	}

	if c.peakEquity > 0 {
		drawdownPct := (c.peakEquity - equity) / c.peakEquity * 100
		if c.profile.MaxDrawdownPct > 0 && drawdownPct >= c.profile.MaxDrawdownPct {
			c.state = StatePausedDrawdown
			c.notifier.Notify(c.userID, fmt.Sprintf(
				"Trading paused: drawdown %.2f%% breached the %.2f%% limit", drawdownPct, c.profile.MaxDrawdownPct))
			c.log.Warn("user %d paused on drawdown %.2f%%", c.userID, drawdownPct)
			return
		}
	}

	// One cooldown timer per user, armed on close. Entries also hold
	// the per-symbol open-record slot, so a symbol can never re-enter
	// before its position is settled regardless of this timer.
	if c.profile.CooldownSeconds > 0 {
		c.state = StateCooldown
		c.cooldownUntil = c.now().Add(time.Duration(c.profile.CooldownSeconds) * time.Second)
	}
}

func (c *Controller) resolveCooldownLocked() {
	if c.state == StateCooldown && c.now().After(c.cooldownUntil) {
		c.state = StateRunning
	}
}

func (c *Controller) claimSymbol(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[symbol] {
		return false
	}
	c.inFlight[symbol] = true
	return true
}

func (c *Controller) releaseSymbol(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, symbol)
}

func (c *Controller) windowFor(symbol string) *market.Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[symbol]
	if !ok {
		w = market.NewWindow(windowCapacity)
		c.windows[symbol] = w
	}
	return w
}
