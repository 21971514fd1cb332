package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	traderrors "trader-engine/internal/errors"
	"trader-engine/pkg/types"
)

// ErrPositionOpen reports that the user already holds an open position
// on the symbol. Callers race on the reservation insert, so this is an
// expected outcome rather than a storage fault.
var ErrPositionOpen = errors.New("position already open for symbol")

// TradeRecord is one row of the trade ledger. Exit fields stay empty
// until the position closes.
type TradeRecord struct {
	ID              string
	UserID          int64
	Symbol          string
	Side            types.OrderSide
	Quantity        float64
	EntryPrice      float64
	TakeProfitPrice float64
	StopLossPrice   float64
	EntryOrderRef   string
	TpOrderRef      string
	SlOrderRef      string
	ExitOrderRef    string
	ExitPrice       float64
	Pnl             float64
	Closed          bool
	OpenedAt        time.Time
	ClosedAt        time.Time
}

// ReserveOpenTrade inserts an open trade row, atomically claiming the
// one-open-position-per-symbol slot. Returns ErrPositionOpen (wrapped)
// when the slot is taken.
func (s *Store) ReserveOpenTrade(ctx context.Context, rec TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_records (id, user_id, symbol, side, quantity, entry_price,
			take_profit_price, stop_loss_price, entry_order_ref, closed, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		rec.ID, rec.UserID, rec.Symbol, string(rec.Side), rec.Quantity, rec.EntryPrice,
		rec.TakeProfitPrice, rec.StopLossPrice, rec.EntryOrderRef,
		rec.OpenedAt.UTC().Format(time.RFC3339Nano))
	if isUniqueViolation(err) {
		return traderrors.Wrap(traderrors.CategoryStore, "store", "reserve_open_trade", ErrPositionOpen)
	}
	if err != nil {
		return wrapStoreErr("reserve_open_trade", err)
	}
	return nil
}

// ReleaseReservation deletes a reservation whose entry order never
// went through, freeing the symbol slot again.
func (s *Store) ReleaseReservation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM trade_records WHERE id = ? AND closed = 0`, id)
	if err != nil {
		return wrapStoreErr("release_reservation", err)
	}
	return nil
}

// FinalizeEntry overwrites the reservation's estimates with the actual
// fill quantity, price and protective levels.
func (s *Store) FinalizeEntry(ctx context.Context, id string, quantity, entryPrice, takeProfit, stopLoss float64, entryOrderRef string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE trade_records
		SET quantity = ?, entry_price = ?, take_profit_price = ?, stop_loss_price = ?, entry_order_ref = ?
		WHERE id = ? AND closed = 0`,
		quantity, entryPrice, takeProfit, stopLoss, entryOrderRef, id)
	if err != nil {
		return wrapStoreErr("finalize_entry", err)
	}
	return nil
}

// SetProtectiveRefs records the venue's order references for both OCO
// legs once they are armed. The reconciler matches exit fills against
// these references.
func (s *Store) SetProtectiveRefs(ctx context.Context, id, tpOrderRef, slOrderRef string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE trade_records
		SET tp_order_ref = ?, sl_order_ref = ?
		WHERE id = ? AND closed = 0`,
		tpOrderRef, slOrderRef, id)
	if err != nil {
		return wrapStoreErr("set_protective_refs", err)
	}
	return nil
}

// CloseTrade marks the open position on (userID, symbol) as closed.
// Replayed fill events hit the already-closed row and are ignored, so
// the close is idempotent per exit order reference.
func (s *Store) CloseTrade(ctx context.Context, userID int64, symbol, exitOrderRef string, exitPrice, pnl float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trade_records
		SET closed = 1, exit_order_ref = ?, exit_price = ?, pnl = ?, closed_at = ?
		WHERE user_id = ? AND symbol = ? AND closed = 0`,
		exitOrderRef, exitPrice, pnl, time.Now().UTC().Format(time.RFC3339Nano),
		userID, symbol)
	if err != nil {
		return wrapStoreErr("close_trade", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapStoreErr("close_trade", err)
	}
	if affected > 0 {
		return nil
	}

	// No open row. A duplicate of an already-processed close is fine;
	// anything else means there was never a position to close.
	var count int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trade_records
		WHERE user_id = ? AND symbol = ? AND closed = 1 AND exit_order_ref = ?`,
		userID, symbol, exitOrderRef).Scan(&count)
	if err != nil {
		return wrapStoreErr("close_trade", err)
	}
	if count > 0 {
		return nil
	}
	return traderrors.New(traderrors.CategoryStore, "store", "close_trade",
		"no open position to close for "+symbol)
}

// GetOpenTrade returns the user's open position on symbol, if any.
func (s *Store) GetOpenTrade(ctx context.Context, userID int64, symbol string) (TradeRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, side, quantity, entry_price, take_profit_price, stop_loss_price,
			entry_order_ref, tp_order_ref, sl_order_ref, opened_at
		FROM trade_records
		WHERE user_id = ? AND symbol = ? AND closed = 0`, userID, symbol)
	rec, err := scanOpenTrade(row, userID, symbol)
	if noRows(err) {
		return TradeRecord{}, false, nil
	}
	if err != nil {
		return TradeRecord{}, false, wrapStoreErr("get_open_trade", err)
	}
	return rec, true, nil
}

// ListOpenTrades returns every open position of the user, ordered by
// symbol.
func (s *Store) ListOpenTrades(ctx context.Context, userID int64) ([]TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, quantity, entry_price, take_profit_price,
			stop_loss_price, entry_order_ref, tp_order_ref, sl_order_ref, opened_at
		FROM trade_records
		WHERE user_id = ? AND closed = 0
		ORDER BY symbol`, userID)
	if err != nil {
		return nil, wrapStoreErr("list_open_trades", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec := TradeRecord{UserID: userID}
		var side, openedAt string
		if err := rows.Scan(&rec.ID, &rec.Symbol, &side, &rec.Quantity, &rec.EntryPrice,
			&rec.TakeProfitPrice, &rec.StopLossPrice, &rec.EntryOrderRef,
			&rec.TpOrderRef, &rec.SlOrderRef, &openedAt); err != nil {
			return nil, wrapStoreErr("list_open_trades", err)
		}
		rec.Side = types.OrderSide(side)
		rec.OpenedAt, _ = time.Parse(time.RFC3339Nano, openedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("list_open_trades", err)
	}
	return out, nil
}

// ListClosedTrades returns the user's closed trades newest first,
// capped at limit (0 means no cap).
func (s *Store) ListClosedTrades(ctx context.Context, userID int64, limit int) ([]TradeRecord, error) {
	query := `
		SELECT id, symbol, side, quantity, entry_price, take_profit_price,
			stop_loss_price, entry_order_ref, exit_order_ref, exit_price, pnl,
			opened_at, closed_at
		FROM trade_records
		WHERE user_id = ? AND closed = 1
		ORDER BY closed_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr("list_closed_trades", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec := TradeRecord{UserID: userID, Closed: true}
		var side, openedAt, closedAt string
		if err := rows.Scan(&rec.ID, &rec.Symbol, &side, &rec.Quantity, &rec.EntryPrice,
			&rec.TakeProfitPrice, &rec.StopLossPrice, &rec.EntryOrderRef,
			&rec.ExitOrderRef, &rec.ExitPrice, &rec.Pnl, &openedAt, &closedAt); err != nil {
			return nil, wrapStoreErr("list_closed_trades", err)
		}
		rec.Side = types.OrderSide(side)
		rec.OpenedAt, _ = time.Parse(time.RFC3339Nano, openedAt)
		rec.ClosedAt, _ = time.Parse(time.RFC3339Nano, closedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("list_closed_trades", err)
	}
	return out, nil
}

func scanOpenTrade(row *sql.Row, userID int64, symbol string) (TradeRecord, error) {
	rec := TradeRecord{UserID: userID, Symbol: symbol}
	var side, openedAt string
	err := row.Scan(&rec.ID, &side, &rec.Quantity, &rec.EntryPrice,
		&rec.TakeProfitPrice, &rec.StopLossPrice, &rec.EntryOrderRef,
		&rec.TpOrderRef, &rec.SlOrderRef, &openedAt)
	if err != nil {
		return TradeRecord{}, err
	}
	rec.Side = types.OrderSide(side)
	rec.OpenedAt, _ = time.Parse(time.RFC3339Nano, openedAt)
	return rec, nil
}
