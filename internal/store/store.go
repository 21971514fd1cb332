// Package store persists per-user trading state in SQLite: strategy
// settings, risk profiles, simulation configs, tradeable pairs and the
// trade ledger. A single file database keeps the deployment story to
// one binary plus one file.
package store

import (
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	traderrors "trader-engine/internal/errors"
)

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS strategy_settings (
	user_id     INTEGER NOT NULL,
	kind        TEXT    NOT NULL,
	params_json TEXT    NOT NULL,
	version     INTEGER NOT NULL DEFAULT 1,
	updated_at  TEXT    NOT NULL,
	PRIMARY KEY (user_id)
);

CREATE TABLE IF NOT EXISTS risk_profiles (
	user_id            INTEGER PRIMARY KEY,
	risk_pct           REAL    NOT NULL,
	max_drawdown_pct   REAL    NOT NULL,
	max_open_positions INTEGER NOT NULL,
	cooldown_seconds   INTEGER NOT NULL,
	slippage_pct       REAL    NOT NULL,
	leverage           INTEGER NOT NULL,
	order_type_pref    TEXT    NOT NULL,
	take_profit_pct    REAL    NOT NULL,
	stop_loss_pct      REAL    NOT NULL,
	notifications_on   INTEGER NOT NULL,
	balance_asset      TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_configs (
	user_id        INTEGER PRIMARY KEY,
	start_date     TEXT    NOT NULL,
	end_date       TEXT    NOT NULL,
	timeframe      TEXT    NOT NULL,
	candle_limit   INTEGER NOT NULL,
	commission_pct REAL    NOT NULL,
	slippage_pct   REAL    NOT NULL,
	leverage       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pairs (
	user_id         INTEGER NOT NULL,
	symbol          TEXT    NOT NULL,
	take_profit_pct REAL    NOT NULL,
	stop_loss_pct   REAL    NOT NULL,
	active          INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (user_id, symbol)
);

CREATE TABLE IF NOT EXISTS trade_records (
	id                TEXT    PRIMARY KEY,
	user_id           INTEGER NOT NULL,
	symbol            TEXT    NOT NULL,
	side              TEXT    NOT NULL,
	quantity          REAL    NOT NULL,
	entry_price       REAL    NOT NULL,
	take_profit_price REAL    NOT NULL,
	stop_loss_price   REAL    NOT NULL,
	entry_order_ref   TEXT    NOT NULL,
	tp_order_ref      TEXT    NOT NULL DEFAULT '',
	sl_order_ref      TEXT    NOT NULL DEFAULT '',
	exit_order_ref    TEXT,
	exit_price        REAL,
	pnl               REAL,
	closed            INTEGER NOT NULL DEFAULT 0,
	opened_at         TEXT    NOT NULL,
	closed_at         TEXT
);

-- One live position per user and symbol. Concurrent entry attempts
-- race on this index, so the insert doubles as the reservation.
CREATE UNIQUE INDEX IF NOT EXISTS idx_one_open_position
	ON trade_records(user_id, symbol) WHERE closed = 0;

CREATE INDEX IF NOT EXISTS idx_trades_by_user
	ON trade_records(user_id, opened_at);
`

// Open creates or opens the database at path and applies the schema.
// Use ":memory:" for throwaway stores.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, traderrors.Wrap(traderrors.CategoryStore, "store", "open", err)
	}
	// modernc's driver is not safe for concurrent writers on one file
	// and in-memory databases vanish per connection, so serialize on a
	// single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, traderrors.Wrap(traderrors.CategoryStore, "store", "migrate", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func wrapStoreErr(op string, err error) error {
	return traderrors.Wrap(traderrors.CategoryStore, "store", op, err)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func noRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
