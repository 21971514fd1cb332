package store

import (
	"context"

	"trader-engine/internal/backtest"
)

// Pair is one tradeable symbol with its protective exit percentages.
type Pair struct {
	UserID        int64
	Symbol        string
	TakeProfitPct float64
	StopLossPct   float64
	Active        bool
}

// UpsertPair creates or replaces a pair row.
func (s *Store) UpsertPair(ctx context.Context, p Pair) error {
	active := 0
	if p.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pairs (user_id, symbol, take_profit_pct, stop_loss_pct, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, symbol) DO UPDATE SET
			take_profit_pct = excluded.take_profit_pct,
			stop_loss_pct = excluded.stop_loss_pct,
			active = excluded.active`,
		p.UserID, p.Symbol, p.TakeProfitPct, p.StopLossPct, active)
	if err != nil {
		return wrapStoreErr("upsert_pair", err)
	}
	return nil
}

// ListActivePairs returns the user's active pairs ordered by symbol.
func (s *Store) ListActivePairs(ctx context.Context, userID int64) ([]Pair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, take_profit_pct, stop_loss_pct
		FROM pairs WHERE user_id = ? AND active = 1
		ORDER BY symbol`, userID)
	if err != nil {
		return nil, wrapStoreErr("list_active_pairs", err)
	}
	defer rows.Close()

	var out []Pair
	for rows.Next() {
		p := Pair{UserID: userID, Active: true}
		if err := rows.Scan(&p.Symbol, &p.TakeProfitPct, &p.StopLossPct); err != nil {
			return nil, wrapStoreErr("list_active_pairs", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("list_active_pairs", err)
	}
	return out, nil
}

// GetPair looks up one pair regardless of its active flag.
func (s *Store) GetPair(ctx context.Context, userID int64, symbol string) (Pair, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT take_profit_pct, stop_loss_pct, active
		FROM pairs WHERE user_id = ? AND symbol = ?`, userID, symbol)

	p := Pair{UserID: userID, Symbol: symbol}
	var active int
	err := row.Scan(&p.TakeProfitPct, &p.StopLossPct, &active)
	if noRows(err) {
		return Pair{}, false, nil
	}
	if err != nil {
		return Pair{}, false, wrapStoreErr("get_pair", err)
	}
	p.Active = active != 0
	return p, true, nil
}

// UpdatePairExits rewrites a pair's protective percentages. It feeds
// the nightly exit tuner.
func (s *Store) UpdatePairExits(ctx context.Context, userID int64, symbol string, takeProfitPct, stopLossPct float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pairs SET take_profit_pct = ?, stop_loss_pct = ?
		WHERE user_id = ? AND symbol = ?`,
		takeProfitPct, stopLossPct, userID, symbol)
	if err != nil {
		return wrapStoreErr("update_pair_exits", err)
	}
	return nil
}

// PairConfigs converts stored pairs to the simulator's input form.
func PairConfigs(pairs []Pair) []backtest.PairConfig {
	out := make([]backtest.PairConfig, len(pairs))
	for i, p := range pairs {
		out[i] = backtest.PairConfig{
			Symbol:        p.Symbol,
			TakeProfitPct: p.TakeProfitPct,
			StopLossPct:   p.StopLossPct,
		}
	}
	return out
}
