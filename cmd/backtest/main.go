package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"trader-engine/internal/backtest"
	"trader-engine/internal/config"
	"trader-engine/internal/exchange"
	"trader-engine/internal/logger"
	"trader-engine/internal/market"
	"trader-engine/internal/ml"
	"trader-engine/internal/store"
	"trader-engine/internal/strategy"
	"trader-engine/pkg/reporting"
)

const (
	AppName    = "Trader Backtest"
	AppVersion = "1.0.0"
)

func main() {
	envFile := flag.String("env", ".env", "Environment file")
	userID := flag.Int64("user", 1, "User whose settings and pairs to simulate")
	symbols := flag.String("symbols", "", "Override pairs, e.g. BTCUSDT:2:1,ETHUSDT:3:1.5 (symbol:tp%:sl%)")
	stratKind := flag.String("strategy", "", "Override the stored strategy kind")
	timeframe := flag.String("timeframe", "", "Override the candle timeframe")
	days := flag.Int("days", 0, "Override the lookback window in days")
	candleLimit := flag.Int("limit", 0, "Override the candle limit per symbol")
	commission := flag.Float64("commission", -1, "Override the commission percent")
	slippage := flag.Float64("slippage", -1, "Override the slippage percent")
	output := flag.String("output", "", "Write the trade log to this .xlsx file")
	showTrades := flag.Bool("trades", false, "Print every simulated trade")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		return
	}
	printHeader()

	appCfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}
	if err := appCfg.Validate(false); err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}

	logg, err := logger.NewLogger("backtest")
	if err != nil {
		log.Fatalf("❌ Logger error: %v", err)
	}
	defer logg.Close()

	st, err := store.Open(appCfg.DatabasePath)
	if err != nil {
		log.Fatalf("❌ Store error: %v", err)
	}
	defer st.Close()

	ex, err := exchange.New(appCfg.Exchange, logg)
	if err != nil {
		log.Fatalf("❌ Exchange error: %v", err)
	}

	ctx := context.Background()

	cfg, err := st.GetBacktestConfig(ctx, *userID)
	if err != nil {
		log.Fatalf("❌ Backtest config: %v", err)
	}
	applyOverrides(&cfg, *timeframe, *days, *candleLimit, *commission, *slippage)

	profile, err := st.GetRiskProfile(ctx, *userID)
	if err != nil {
		log.Fatalf("❌ Risk profile: %v", err)
	}

	pairs, err := resolvePairs(ctx, st, *userID, *symbols)
	if err != nil {
		log.Fatalf("❌ Pair selection: %v", err)
	}
	if len(pairs) == 0 {
		log.Fatalf("❌ No pairs to simulate, configure some or pass -symbols")
	}

	registry := strategy.NewRegistry()
	registry.Register(strategy.NewRsiEma())
	registry.Register(strategy.NewWindowBreakout())
	registry.Register(strategy.NewFibGrid())
	predictor := ml.NewSubprocessPredictor(appCfg.ML.Script, logg)
	if appCfg.ML.Interpreter != "" {
		predictor.SetInterpreter(appCfg.ML.Interpreter)
	}
	registry.Register(strategy.NewMLModel(predictor))

	strat, params, err := resolveStrategy(ctx, st, registry, *userID, *stratKind)
	if err != nil {
		log.Fatalf("❌ Strategy: %v", err)
	}

	engine := backtest.NewEngine(market.NewHistory(ex, logg), logg)

	started := time.Now()
	result, err := engine.Run(ctx, cfg, pairs, strat, params, profile.TakeProfitPct)
	if err != nil {
		log.Fatalf("❌ Backtest failed: %v", err)
	}
	fmt.Printf("⏱️  Completed in %s (%d pairs, strategy %s)\n\n", time.Since(started).Round(time.Millisecond), len(pairs), strat.Kind())

	reporting.PrintBacktestSummary(os.Stdout, result, cfg)
	if *showTrades {
		reporting.PrintTrades(os.Stdout, result.SortedByPnl())
	}

	if *output != "" {
		if err := reporting.WriteTradesXLSX(result, cfg, *output); err != nil {
			log.Fatalf("❌ Excel export failed: %v", err)
		}
		fmt.Printf("📄 Trade log written to %s\n", *output)
	}
}

func printHeader() {
	fmt.Printf("🎯 %s v%s\n", strings.ToUpper(AppName), AppVersion)
	fmt.Printf("%s\n\n", strings.Repeat("=", 50))
}

func applyOverrides(cfg *backtest.Config, timeframe string, days, limit int, commission, slippage float64) {
	if timeframe != "" {
		cfg.Timeframe = timeframe
	}
	if days > 0 {
		cfg.EndDate = time.Now().UTC()
		cfg.StartDate = cfg.EndDate.AddDate(0, 0, -days)
	}
	if limit > 0 {
		cfg.CandleLimit = limit
	}
	if commission >= 0 {
		cfg.CommissionPct = commission
	}
	if slippage >= 0 {
		cfg.SlippagePct = slippage
	}
}

// resolvePairs takes the -symbols override when present, otherwise the
// user's stored active pairs.
func resolvePairs(ctx context.Context, st *store.Store, userID int64, override string) ([]backtest.PairConfig, error) {
	if override == "" {
		pairs, err := st.ListActivePairs(ctx, userID)
		if err != nil {
			return nil, err
		}
		return store.PairConfigs(pairs), nil
	}
	return parsePairSpecs(override)
}

// parsePairSpecs parses SYMBOL[:tp[:sl]] comma-separated pair specs.
func parsePairSpecs(raw string) ([]backtest.PairConfig, error) {
	var pairs []backtest.PairConfig
	for _, spec := range strings.Split(raw, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		parts := strings.Split(spec, ":")
		pair := backtest.PairConfig{Symbol: strings.ToUpper(parts[0])}
		if len(parts) > 1 {
			if _, err := fmt.Sscanf(parts[1], "%f", &pair.TakeProfitPct); err != nil {
				return nil, fmt.Errorf("invalid take profit in %q", spec)
			}
		}
		if len(parts) > 2 {
			if _, err := fmt.Sscanf(parts[2], "%f", &pair.StopLossPct); err != nil {
				return nil, fmt.Errorf("invalid stop loss in %q", spec)
			}
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// resolveStrategy prefers the -strategy override, falling back to the
// user's stored settings. Overrides run with default parameters.
func resolveStrategy(ctx context.Context, st *store.Store, registry *strategy.Registry, userID int64, override string) (strategy.Strategy, strategy.Params, error) {
	if override != "" {
		strat, err := registry.Get(strategy.Kind(override))
		if err != nil {
			return nil, nil, err
		}
		params, err := strategy.DefaultParams(strategy.Kind(override))
		if err != nil {
			return nil, nil, err
		}
		return strat, params, nil
	}

	settings, err := st.GetStrategySettings(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	strat, err := registry.Get(settings.Kind)
	if err != nil {
		return nil, nil, err
	}
	params, err := strategy.DecodeParams(settings.Kind, []byte(settings.ParamsJSON))
	if err != nil {
		return nil, nil, err
	}
	return strat, params, nil
}
