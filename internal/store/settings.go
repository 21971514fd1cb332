package store

import (
	"context"
	"time"

	"trader-engine/internal/backtest"
	"trader-engine/internal/risk"
	"trader-engine/internal/strategy"
)

// StrategySettings is a user's active strategy selection with its
// serialized parameters. Version increments on every save so stale
// readers can detect a change.
type StrategySettings struct {
	UserID     int64
	Kind       strategy.Kind
	ParamsJSON string
	Version    int64
	UpdatedAt  time.Time
}

// SaveStrategySettings upserts the user's strategy and bumps the version.
func (s *Store) SaveStrategySettings(ctx context.Context, userID int64, kind strategy.Kind, paramsJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_settings (user_id, kind, params_json, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			kind = excluded.kind,
			params_json = excluded.params_json,
			version = strategy_settings.version + 1,
			updated_at = excluded.updated_at`,
		userID, string(kind), paramsJSON, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return wrapStoreErr("save_strategy_settings", err)
	}
	return nil
}

// GetStrategySettings returns the user's settings, or defaults for the
// rsi+ema strategy when the user has never saved any.
func (s *Store) GetStrategySettings(ctx context.Context, userID int64) (StrategySettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT kind, params_json, version, updated_at
		FROM strategy_settings WHERE user_id = ?`, userID)

	var out StrategySettings
	var kind, updatedAt string
	err := row.Scan(&kind, &out.ParamsJSON, &out.Version, &updatedAt)
	if noRows(err) {
		defaults, _ := strategy.DefaultParams(strategy.KindRsiEma)
		raw, _ := strategy.EncodeParams(defaults)
		return StrategySettings{UserID: userID, Kind: strategy.KindRsiEma, ParamsJSON: string(raw), Version: 0}, nil
	}
	if err != nil {
		return StrategySettings{}, wrapStoreErr("get_strategy_settings", err)
	}
	out.UserID = userID
	out.Kind = strategy.Kind(kind)
	out.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return out, nil
}

// SaveRiskProfile upserts the user's risk profile.
func (s *Store) SaveRiskProfile(ctx context.Context, p risk.Profile) error {
	notifications := 0
	if p.NotificationsOn {
		notifications = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_profiles (user_id, risk_pct, max_drawdown_pct, max_open_positions,
			cooldown_seconds, slippage_pct, leverage, order_type_pref,
			take_profit_pct, stop_loss_pct, notifications_on, balance_asset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			risk_pct = excluded.risk_pct,
			max_drawdown_pct = excluded.max_drawdown_pct,
			max_open_positions = excluded.max_open_positions,
			cooldown_seconds = excluded.cooldown_seconds,
			slippage_pct = excluded.slippage_pct,
			leverage = excluded.leverage,
			order_type_pref = excluded.order_type_pref,
			take_profit_pct = excluded.take_profit_pct,
			stop_loss_pct = excluded.stop_loss_pct,
			notifications_on = excluded.notifications_on,
			balance_asset = excluded.balance_asset`,
		p.UserID, p.RiskPct, p.MaxDrawdownPct, p.MaxOpenPositions,
		p.CooldownSeconds, p.SlippagePct, p.Leverage, p.OrderTypePref,
		p.TakeProfitPct, p.StopLossPct, notifications, p.BalanceAsset)
	if err != nil {
		return wrapStoreErr("save_risk_profile", err)
	}
	return nil
}

// GetRiskProfile returns the user's profile, or conservative defaults
// when none was ever saved.
func (s *Store) GetRiskProfile(ctx context.Context, userID int64) (risk.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT risk_pct, max_drawdown_pct, max_open_positions, cooldown_seconds,
			slippage_pct, leverage, order_type_pref, take_profit_pct,
			stop_loss_pct, notifications_on, balance_asset
		FROM risk_profiles WHERE user_id = ?`, userID)

	p := risk.Profile{UserID: userID}
	var notifications int
	err := row.Scan(&p.RiskPct, &p.MaxDrawdownPct, &p.MaxOpenPositions, &p.CooldownSeconds,
		&p.SlippagePct, &p.Leverage, &p.OrderTypePref, &p.TakeProfitPct,
		&p.StopLossPct, &notifications, &p.BalanceAsset)
	if noRows(err) {
		return risk.DefaultProfile(userID), nil
	}
	if err != nil {
		return risk.Profile{}, wrapStoreErr("get_risk_profile", err)
	}
	p.NotificationsOn = notifications != 0
	return p, nil
}

// SaveBacktestConfig upserts the user's simulation settings.
func (s *Store) SaveBacktestConfig(ctx context.Context, userID int64, cfg backtest.Config) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_configs (user_id, start_date, end_date, timeframe,
			candle_limit, commission_pct, slippage_pct, leverage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			timeframe = excluded.timeframe,
			candle_limit = excluded.candle_limit,
			commission_pct = excluded.commission_pct,
			slippage_pct = excluded.slippage_pct,
			leverage = excluded.leverage`,
		userID, cfg.StartDate.UTC().Format(time.RFC3339), cfg.EndDate.UTC().Format(time.RFC3339),
		cfg.Timeframe, cfg.CandleLimit, cfg.CommissionPct, cfg.SlippagePct, cfg.Leverage)
	if err != nil {
		return wrapStoreErr("save_backtest_config", err)
	}
	return nil
}

// GetBacktestConfig returns the user's simulation settings, or the
// package defaults when none were saved.
func (s *Store) GetBacktestConfig(ctx context.Context, userID int64) (backtest.Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT start_date, end_date, timeframe, candle_limit,
			commission_pct, slippage_pct, leverage
		FROM backtest_configs WHERE user_id = ?`, userID)

	var cfg backtest.Config
	var start, end string
	err := row.Scan(&start, &end, &cfg.Timeframe, &cfg.CandleLimit,
		&cfg.CommissionPct, &cfg.SlippagePct, &cfg.Leverage)
	if noRows(err) {
		return backtest.DefaultConfig(), nil
	}
	if err != nil {
		return backtest.Config{}, wrapStoreErr("get_backtest_config", err)
	}
	cfg.StartDate, _ = time.Parse(time.RFC3339, start)
	cfg.EndDate, _ = time.Parse(time.RFC3339, end)
	return cfg, nil
}
