package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trader-engine/internal/backtest"
	"trader-engine/internal/config"
	"trader-engine/internal/exchange"
	"trader-engine/internal/logger"
	"trader-engine/internal/market"
	"trader-engine/internal/ml"
	"trader-engine/internal/optimizer"
	"trader-engine/internal/store"
	"trader-engine/internal/strategy"
	"trader-engine/pkg/reporting"
)

const (
	AppName    = "Trader Optimize"
	AppVersion = "1.0.0"
)

func main() {
	envFile := flag.String("env", ".env", "Environment file")
	userID := flag.Int64("user", 1, "User whose settings and pairs to optimize")
	method := flag.String("method", "grid", "Search method: grid or genetic")
	seed := flag.Int64("seed", 0, "Seed for the genetic search (0 uses entropy)")
	save := flag.Bool("save", false, "Persist the winning config as the user's backtest config")
	tuneExits := flag.Bool("tune-exits", false, "Also sweep per-pair TP/SL exits and persist improvements")
	trainData := flag.String("train-data", "", "Retrain the ML model over this dataset before optimizing")
	modelOut := flag.String("model-out", "", "Model artifact path for -train-data (defaults under ML_MODEL_DIR)")
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

	logg, err := logger.NewLogger("optimize")
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

	if *trainData != "" {
		out := *modelOut
		if out == "" {
			out = filepath.Join(appCfg.ML.ModelDir, "model.pkl")
		}
		trainer := ml.NewTrainer(appCfg.ML.Script, logg)
		if appCfg.ML.Interpreter != "" {
			trainer.SetInterpreter(appCfg.ML.Interpreter)
		}
		metrics, err := trainer.Train(ctx, *trainData, out)
		if err != nil {
			log.Fatalf("❌ Training failed: %v", err)
		}
		fmt.Printf("🧠 Model retrained: accuracy %.3f, auc %.3f → %s\n\n", metrics.Accuracy, metrics.AUC, out)
	}

	settings, err := st.GetStrategySettings(ctx, *userID)
	if err != nil {
		log.Fatalf("❌ Strategy settings: %v", err)
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
	strat, err := registry.Get(settings.Kind)
	if err != nil {
		log.Fatalf("❌ Strategy: %v", err)
	}
	params, err := strategy.DecodeParams(settings.Kind, []byte(settings.ParamsJSON))
	if err != nil {
		log.Fatalf("❌ Strategy params: %v", err)
	}

	profile, err := st.GetRiskProfile(ctx, *userID)
	if err != nil {
		log.Fatalf("❌ Risk profile: %v", err)
	}
	storedPairs, err := st.ListActivePairs(ctx, *userID)
	if err != nil {
		log.Fatalf("❌ Pairs: %v", err)
	}
	if len(storedPairs) == 0 {
		log.Fatalf("❌ No active pairs configured for user %d", *userID)
	}
	pairs := store.PairConfigs(storedPairs)

	base, err := st.GetBacktestConfig(ctx, *userID)
	if err != nil {
		log.Fatalf("❌ Backtest config: %v", err)
	}

	engine := backtest.NewEngine(market.NewHistory(ex, logg), logg)
	evaluator := optimizer.EvaluatorFunc(func(evalCtx context.Context, cfg backtest.Config) (float64, error) {
		result, err := engine.Run(evalCtx, cfg, pairs, strat, params, profile.TakeProfitPct)
		if err != nil {
			return 0, err
		}
		return result.TotalPnl(), nil
	})

	ranges := optimizer.DefaultRanges()
	started := time.Now()

	var best *optimizer.Candidate
	switch strings.ToLower(*method) {
	case "grid":
		best, err = optimizer.NewGridSearch(evaluator, ranges, logg).Run(ctx, base)
	case "genetic":
		ga := optimizer.NewGenetic(evaluator, ranges, logg)
		if *seed != 0 {
			ga = optimizer.NewGeneticSeeded(evaluator, ranges, logg, *seed)
		}
		best, err = ga.Run(ctx, base)
	default:
		log.Fatalf("❌ Unknown method %q, use grid or genetic", *method)
	}
	if err != nil {
		log.Fatalf("❌ Optimization failed: %v", err)
	}

	fmt.Printf("⏱️  %s search over %d pairs finished in %s\n\n",
		*method, len(pairs), time.Since(started).Round(time.Millisecond))
	reporting.PrintOptimizerWinner(os.Stdout, *best, ranges.Size())

	if *save {
		if err := st.SaveBacktestConfig(ctx, *userID, best.Config); err != nil {
			log.Fatalf("❌ Persist failed: %v", err)
		}
		fmt.Printf("💾 Winning config saved for user %d\n", *userID)
	}

	if *tuneExits {
		fmt.Println("🔧 Sweeping per-pair exits...")
		tuner := optimizer.NewNightlyTuner(engine, st, logg)
		tuner.RunOnce(ctx, *userID, best.Config, pairs, strat, params)
		fmt.Println("🔧 Exit sweep complete, see the optimize log for details")
	}
}

func printHeader() {
	fmt.Printf("🎯 %s v%s\n", strings.ToUpper(AppName), AppVersion)
	fmt.Printf("%s\n\n", strings.Repeat("=", 50))
}
