package recorder

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"ReversionBot/internal/model"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists decisions, orders, trades and equity snapshots to SQLite.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log zerolog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so dashboards can read while the bot writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			decision_time INTEGER NOT NULL,
			snapshot_time INTEGER,
			signal        TEXT,
			reason        TEXT,
			blocks        TEXT,
			rsi           REAL,
			trend         TEXT,
			htf_trend     TEXT,
			atr_ratio     REAL,
			vol_regime    TEXT,
			edge          REAL,
			strike        REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(decision_time)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id            TEXT PRIMARY KEY,
			seq           INTEGER,
			side          TEXT,
			mode          TEXT,
			limit_price   REAL,
			size          REAL,
			status        TEXT,
			fill_price    REAL,
			reason        TEXT,
			snapshot_time INTEGER,
			created_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_ts ON orders(created_at)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id            TEXT PRIMARY KEY,
			order_id      TEXT,
			signal        TEXT,
			mode          TEXT,
			entry_time    INTEGER,
			entry_price   REAL,
			exit_time     INTEGER NOT NULL,
			exit_price    REAL,
			strike        REAL,
			settle_price  REAL,
			size          REAL,
			fees          REAL,
			pnl           REAL,
			won           INTEGER,
			regime_tags   TEXT,
			balance_after REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(exit_time)`,

		`CREATE TABLE IF NOT EXISTS equity (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp        INTEGER NOT NULL,
			balance          REAL,
			peak_balance     REAL,
			current_drawdown REAL,
			breaker_tripped  INTEGER,
			trade_count      INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_ts ON equity(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordDecision(sig *model.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	blocks := make([]string, len(sig.Blocks))
	for i, b := range sig.Blocks {
		blocks[i] = string(b)
	}
	_, err := r.db.Exec(`INSERT INTO decisions
		(decision_time, snapshot_time, signal, reason, blocks, rsi, trend, htf_trend,
		 atr_ratio, vol_regime, edge, strike)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		sig.DecisionTime.Unix(), unixOrZero(sig.SnapshotTime), string(sig.Type), string(sig.Reason),
		strings.Join(blocks, ","), sig.RSI, string(sig.Trend), string(sig.HTFTrend),
		sig.ATRRatio, string(sig.VolRegime), sig.Edge, sig.Strike,
	)
	return err
}

// RecordOrder upserts by order ID so a PENDING row is replaced by its final status.
func (r *SQLiteRecorder) RecordOrder(o *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT OR REPLACE INTO orders
		(id, seq, side, mode, limit_price, size, status, fill_price, reason, snapshot_time, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.Seq, string(o.Side), string(o.Mode), o.LimitPrice, o.Size,
		string(o.Status), o.FillPrice, o.Reason, unixOrZero(o.SnapshotTime), o.CreatedAt.Unix(),
	)
	return err
}

func (r *SQLiteRecorder) RecordTrade(t *model.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT OR REPLACE INTO trades
		(id, order_id, signal, mode, entry_time, entry_price, exit_time, exit_price,
		 strike, settle_price, size, fees, pnl, won, regime_tags, balance_after)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrderID, string(t.SignalType), string(t.Mode), t.EntryTime.Unix(), t.EntryPrice,
		t.ExitTime.Unix(), t.ExitPrice, t.Strike, t.SettlePrice, t.Size, t.Fees, t.PnL,
		boolInt(t.Won), strings.Join(t.RegimeTags, ","), t.BalanceAfter,
	)
	return err
}

func (r *SQLiteRecorder) RecordEquity(state *model.EquityState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO equity
		(timestamp, balance, peak_balance, current_drawdown, breaker_tripped, trade_count)
		VALUES (?,?,?,?,?,?)`,
		state.UpdatedAt.Unix(), state.Balance, state.PeakBalance, state.CurrentDrawdown,
		boolInt(state.BreakerTripped), state.TradeCount,
	)
	return err
}

// CountRows returns the number of rows in one of the recorder's tables.
func (r *SQLiteRecorder) CountRows(table string) (int, error) {
	switch table {
	case "decisions", "orders", "trades", "equity":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n)
	return n, err
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
