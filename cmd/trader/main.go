package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"trader-engine/internal/backtest"
	"trader-engine/internal/config"
	"trader-engine/internal/exchange"
	"trader-engine/internal/logger"
	"trader-engine/internal/market"
	"trader-engine/internal/ml"
	"trader-engine/internal/monitoring"
	"trader-engine/internal/notifications"
	"trader-engine/internal/optimizer"
	"trader-engine/internal/store"
	"trader-engine/internal/strategy"
	"trader-engine/internal/trading"
	"trader-engine/pkg/reporting"
)

const (
	AppName    = "Trader Engine"
	AppVersion = "1.0.0"
)

func main() {
	envFile := flag.String("env", ".env", "Environment file with credentials and settings")
	debug := flag.Bool("debug", false, "Enable debug logging")
	metricsAddr := flag.String("metrics", "", "Override the metrics listen address")
	closeOnStop := flag.Bool("close-on-stop", false, "Close all open positions on shutdown")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		return
	}
	printHeader()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(true); err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}

	logg, err := logger.NewLoggerWithDebug("live", cfg.Debug)
	if err != nil {
		log.Fatalf("❌ Logger error: %v", err)
	}
	defer logg.Close()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("❌ Store error: %v", err)
	}
	defer st.Close()

	ex, err := exchange.New(cfg.Exchange, logg)
	if err != nil {
		log.Fatalf("❌ Exchange error: %v", err)
	}

	reporting.PrintStartupInfo(os.Stdout, ex.Name(), cfg.Users, cfg.Timeframe, cfg.Exchange.Testnet)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if syncer, ok := ex.(exchange.ClockSyncer); ok {
		if err := syncer.SyncTime(ctx); err != nil {
			log.Fatalf("❌ Clock sync failed: %v", err)
		}
		go keepClockSynced(ctx, syncer, logg)
	}

	history := market.NewHistory(ex, logg)

	predictor := ml.NewSubprocessPredictor(cfg.ML.Script, logg)
	if cfg.ML.Interpreter != "" {
		predictor.SetInterpreter(cfg.ML.Interpreter)
	}

	registry := strategy.NewRegistry()
	registry.Register(strategy.NewRsiEma())
	registry.Register(strategy.NewWindowBreakout())
	registry.Register(strategy.NewFibGrid())
	registry.Register(strategy.NewMLModel(predictor))

	var notifier trading.Notifier = trading.NewLogNotifier(logg)
	if cfg.Telegram.Enabled() {
		notifier = notifications.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.Chats, logg)
		logg.Info("telegram notifications enabled for %d users", len(cfg.Telegram.Chats))
	}
	orch := trading.NewOrchestrator(ex, st, history, notifier, logg)

	controllers := make(map[int64]*trading.Controller, len(cfg.Users))
	ordered := make([]*trading.Controller, 0, len(cfg.Users))
	for _, userID := range cfg.Users {
		c := trading.NewController(userID, ex, st, orch, registry, notifier, logg)
		c.SetTimeframe(cfg.Timeframe)
		if err := c.Start(ctx); err != nil {
			log.Fatalf("❌ User %d startup failed: %v", userID, err)
		}
		controllers[userID] = c
		ordered = append(ordered, c)
	}
	orch.SetOnClose(func(userID int64, symbol string, pnl float64) {
		if c, ok := controllers[userID]; ok {
			c.HandleClose(symbol, pnl)
		}
	})

	symbols, err := activeSymbols(ctx, st, cfg.Users)
	if err != nil {
		log.Fatalf("❌ Pair lookup failed: %v", err)
	}
	if len(symbols) == 0 {
		log.Fatalf("❌ No active pairs configured, nothing to trade")
	}

	health := monitoring.NewHealthChecker()
	go serveMonitoring(cfg.MetricsAddr, health, logg)

	candles, err := ex.SubscribeKlines(ctx, symbols, cfg.Timeframe)
	if err != nil {
		log.Fatalf("❌ Kline stream failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case candle, ok := <-candles:
				if !ok {
					health.StreamDown()
					return
				}
				health.CandleSeen()
				for _, c := range ordered {
					c.OnCandle(ctx, candle)
				}
			}
		}
	}()

	if events, eventsErr := ex.SubscribeAccountEvents(ctx); eventsErr != nil {
		logg.Warning("account event stream unavailable, relying on fallback monitor: %v", eventsErr)
	} else {
		reconciler := trading.NewReconciler(st, orch, cfg.Users, logg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			reconciler.Run(ctx, events)
		}()
	}

	fallback := trading.NewFallbackMonitor(ex, st, orch, cfg.Users, logg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		fallback.Run(ctx)
	}()

	scanner := trading.NewReentryScanner(ordered, logg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner.Run(ctx)
	}()

	engine := backtest.NewEngine(history, logg)
	tuner := optimizer.NewNightlyTuner(engine, st, logg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		tuner.Start(ctx, func(batchCtx context.Context) {
			runNightlyBatch(batchCtx, st, registry, tuner, cfg.Users, logg)
		})
	}()

	logg.Status("engine running: %d users, %d symbols, venue %s", len(cfg.Users), len(symbols), ex.Name())
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, c := range ordered {
		if err := c.Stop(shutdownCtx, *closeOnStop); err != nil {
			logg.Error("stop failed: %v", err)
		}
	}
	wg.Wait()
	logg.Status("engine stopped")
}

func printHeader() {
	fmt.Printf("🎯 %s v%s\n", strings.ToUpper(AppName), AppVersion)
	fmt.Printf("%s\n\n", strings.Repeat("=", 50))
}

// activeSymbols collects the union of every user's active pairs for
// the shared kline subscription.
// keepClockSynced refreshes the venue clock offset on the same cadence
// as the listen-key keep-alive, so signed timestamps never drift past
// the recv window.
func keepClockSynced(ctx context.Context, syncer exchange.ClockSyncer, logg *logger.Logger) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := syncer.SyncTime(ctx); err != nil {
				logg.Warn("clock re-sync: %v", err)
			}
		}
	}
}

func activeSymbols(ctx context.Context, st *store.Store, users []int64) ([]string, error) {
	set := make(map[string]bool)
	for _, userID := range users {
		pairs, err := st.ListActivePairs(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			set[p.Symbol] = true
		}
	}
	symbols := make([]string, 0, len(set))
	for sym := range set {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// runNightlyBatch re-tunes every user's pair exits against recent data.
func runNightlyBatch(ctx context.Context, st *store.Store, registry *strategy.Registry, tuner *optimizer.NightlyTuner, users []int64, logg *logger.Logger) {
	for _, userID := range users {
		settings, err := st.GetStrategySettings(ctx, userID)
		if err != nil {
			logg.Error("nightly tune user %d: %v", userID, err)
			continue
		}
		strat, err := registry.Get(settings.Kind)
		if err != nil {
			logg.Error("nightly tune user %d: %v", userID, err)
			continue
		}
		params, err := strategy.DecodeParams(settings.Kind, []byte(settings.ParamsJSON))
		if err != nil {
			logg.Error("nightly tune user %d: %v", userID, err)
			continue
		}
		cfg, err := st.GetBacktestConfig(ctx, userID)
		if err != nil {
			logg.Error("nightly tune user %d: %v", userID, err)
			continue
		}
		pairs, err := st.ListActivePairs(ctx, userID)
		if err != nil {
			logg.Error("nightly tune user %d: %v", userID, err)
			continue
		}
		tuner.RunOnce(ctx, userID, cfg, store.PairConfigs(pairs), strat, params)
	}
}

func serveMonitoring(addr string, health *monitoring.HealthChecker, logg *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())
	mux.Handle("/health", health)

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logg.Info("monitoring endpoints on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error("monitoring server: %v", err)
	}
}
