// Package journal is the append-only SQLite record of every signal,
// order, trade, risk event, equity snapshot, and system event the core
// produces, keyed by a session id so multiple runs share one database
// file without their rows interleaving ambiguously.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/logging"
)

var log = logging.For("journal")

// Writer is an append-only SQLite sink for the core's event log.
type Writer struct {
	db        *sql.DB
	sessionID string
}

// Open opens (creating if absent) the SQLite database at path and ensures
// its schema exists.
func Open(path, sessionID string) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	w := &Writer{db: db, sessionID: sessionID}
	if err := w.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	log.WithField("path", path).Info("journal initialized")
	return w, nil
}

// Close releases the underlying database handle.
func (w *Writer) Close() error {
	err := w.db.Close()
	log.Info("journal closed")
	return err
}

func (w *Writer) initTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp_ms INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			confidence REAL NOT NULL,
			strategy_name TEXT NOT NULL,
			entry_price REAL,
			stop_loss REAL,
			take_profit REAL,
			approved BOOLEAN NOT NULL,
			rejection_reason TEXT DEFAULT '',
			session_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_session ON signals(session_id)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp_ms INTEGER NOT NULL,
			client_order_id TEXT NOT NULL,
			exchange_order_id TEXT DEFAULT '',
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL,
			avg_fill_price REAL,
			filled_qty REAL NOT NULL,
			status TEXT NOT NULL,
			strategy_name TEXT DEFAULT '',
			fee REAL NOT NULL,
			session_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_client_id ON orders(client_order_id)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp_ms INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			quantity REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			pnl_pct REAL NOT NULL,
			strategy_name TEXT DEFAULT '',
			hold_duration_ms INTEGER NOT NULL,
			session_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp_ms INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			reason TEXT NOT NULL,
			equity_at_event REAL NOT NULL,
			drawdown_pct REAL NOT NULL,
			session_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp_ms INTEGER NOT NULL,
			total_equity REAL NOT NULL,
			available_balance REAL NOT NULL,
			unrealized_pnl REAL NOT NULL,
			open_position_count INTEGER NOT NULL,
			peak_equity REAL NOT NULL,
			drawdown_pct REAL NOT NULL,
			session_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS system_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp_ms INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata_json TEXT DEFAULT '{}',
			session_id TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := w.db.Exec(stmt); err != nil {
			return fmt.Errorf("journal: schema init: %w", err)
		}
	}
	return nil
}

func decPtr(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return f
}

// LogSignal records one strategy signal and its risk verdict.
func (w *Writer) LogSignal(timestampMs int64, symbol, direction string, confidence float64, strategyName string, entryPrice, stopLoss, takeProfit *decimal.Decimal, approved bool, rejectionReason string) error {
	_, err := w.db.Exec(
		`INSERT INTO signals (timestamp_ms, symbol, direction, confidence, strategy_name, entry_price, stop_loss, take_profit, approved, rejection_reason, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timestampMs, symbol, direction, confidence, strategyName,
		decPtr(entryPrice), decPtr(stopLoss), decPtr(takeProfit), approved, rejectionReason, w.sessionID,
	)
	return err
}

// LogOrder records one order submission/update.
func (w *Writer) LogOrder(timestampMs int64, clientOrderID, exchangeOrderID, symbol, side, orderType string, quantity decimal.Decimal, price, avgFillPrice *decimal.Decimal, filledQty decimal.Decimal, status, strategyName string, fee decimal.Decimal) error {
	qty, _ := quantity.Float64()
	filled, _ := filledQty.Float64()
	feeF, _ := fee.Float64()
	_, err := w.db.Exec(
		`INSERT INTO orders (timestamp_ms, client_order_id, exchange_order_id, symbol, side, order_type, quantity, price, avg_fill_price, filled_qty, status, strategy_name, fee, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timestampMs, clientOrderID, exchangeOrderID, symbol, side, orderType,
		qty, decPtr(price), decPtr(avgFillPrice), filled, status, strategyName, feeF, w.sessionID,
	)
	return err
}

// LogTrade records one closed trade.
func (w *Writer) LogTrade(timestampMs int64, symbol, side string, entryPrice, exitPrice, quantity, realizedPnL, pnlPct decimal.Decimal, strategyName string, holdDurationMs int64) error {
	entry, _ := entryPrice.Float64()
	exit, _ := exitPrice.Float64()
	qty, _ := quantity.Float64()
	pnl, _ := realizedPnL.Float64()
	pct, _ := pnlPct.Float64()
	_, err := w.db.Exec(
		`INSERT INTO trades (timestamp_ms, symbol, side, entry_price, exit_price, quantity, realized_pnl, pnl_pct, strategy_name, hold_duration_ms, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timestampMs, symbol, side, entry, exit, qty, pnl, pct, strategyName, holdDurationMs, w.sessionID,
	)
	return err
}

// LogRiskEvent records a drawdown halt, circuit-breaker trip, or similar
// risk-state transition.
func (w *Writer) LogRiskEvent(timestampMs int64, eventType, reason string, equityAtEvent, drawdownPct decimal.Decimal) error {
	equity, _ := equityAtEvent.Float64()
	dd, _ := drawdownPct.Float64()
	_, err := w.db.Exec(
		`INSERT INTO risk_events (timestamp_ms, event_type, reason, equity_at_event, drawdown_pct, session_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		timestampMs, eventType, reason, equity, dd, w.sessionID,
	)
	return err
}

// LogEquitySnapshot records a point-in-time equity mark.
func (w *Writer) LogEquitySnapshot(timestampMs int64, totalEquity, availableBalance, unrealizedPnL decimal.Decimal, openPositionCount int, peakEquity, drawdownPct decimal.Decimal) error {
	total, _ := totalEquity.Float64()
	avail, _ := availableBalance.Float64()
	upnl, _ := unrealizedPnL.Float64()
	peak, _ := peakEquity.Float64()
	dd, _ := drawdownPct.Float64()
	_, err := w.db.Exec(
		`INSERT INTO equity_snapshots (timestamp_ms, total_equity, available_balance, unrealized_pnl, open_position_count, peak_equity, drawdown_pct, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		timestampMs, total, avail, upnl, openPositionCount, peak, dd, w.sessionID,
	)
	return err
}

// LogSystemEvent records a free-form lifecycle event (startup, shutdown,
// pause/resume, config reload) with a JSON-encoded metadata blob.
func (w *Writer) LogSystemEvent(timestampMs int64, eventType, message string, metadata map[string]interface{}) error {
	blob, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("journal: marshal system event metadata: %w", err)
	}
	_, err = w.db.Exec(
		`INSERT INTO system_events (timestamp_ms, event_type, message, metadata_json, session_id)
		 VALUES (?, ?, ?, ?, ?)`,
		timestampMs, eventType, message, string(blob), w.sessionID,
	)
	return err
}
