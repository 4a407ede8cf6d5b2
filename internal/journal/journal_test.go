package journal

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

func newMockWriter(t *testing.T) (*Writer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	for i := 0; i < 9; i++ {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(1, 1))
	}
	w := &Writer{db: db, sessionID: "test-session"}
	if err := w.initTables(); err != nil {
		t.Fatalf("initTables: %v", err)
	}
	return w, mock
}

func TestLogSignal_ExecutesInsert(t *testing.T) {
	w, mock := newMockWriter(t)
	defer w.db.Close()

	mock.ExpectExec("INSERT INTO signals").WillReturnResult(sqlmock.NewResult(1, 1))
	entry := decimal.NewFromInt(100)
	stop := decimal.NewFromInt(95)
	if err := w.LogSignal(1000, "BTCUSDT", "long", 0.8, "ema_crossover", &entry, &stop, nil, true, ""); err != nil {
		t.Fatalf("LogSignal: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLogOrder_HandlesNilPricePointers(t *testing.T) {
	w, mock := newMockWriter(t)
	defer w.db.Close()

	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	err := w.LogOrder(1000, "cid-1", "ex-1", "BTCUSDT", "buy", "market",
		decimal.NewFromFloat(0.5), nil, nil, decimal.Zero, "new", "ema_crossover", decimal.Zero)
	if err != nil {
		t.Fatalf("LogOrder: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLogTrade_ExecutesInsert(t *testing.T) {
	w, mock := newMockWriter(t)
	defer w.db.Close()

	mock.ExpectExec("INSERT INTO trades").WillReturnResult(sqlmock.NewResult(1, 1))
	err := w.LogTrade(1000, "BTCUSDT", "long",
		decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(1),
		decimal.NewFromInt(10), decimal.NewFromFloat(0.10), "ema_crossover", 60000)
	if err != nil {
		t.Fatalf("LogTrade: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLogRiskEvent_ExecutesInsert(t *testing.T) {
	w, mock := newMockWriter(t)
	defer w.db.Close()

	mock.ExpectExec("INSERT INTO risk_events").WillReturnResult(sqlmock.NewResult(1, 1))
	err := w.LogRiskEvent(1000, "drawdown_halt", "max_drawdown_breached", decimal.NewFromInt(85000), decimal.NewFromFloat(0.15))
	if err != nil {
		t.Fatalf("LogRiskEvent: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLogSystemEvent_MarshalsMetadata(t *testing.T) {
	w, mock := newMockWriter(t)
	defer w.db.Close()

	mock.ExpectExec("INSERT INTO system_events").WillReturnResult(sqlmock.NewResult(1, 1))
	err := w.LogSystemEvent(1000, "startup", "core started", map[string]interface{}{"version": "1.0"})
	if err != nil {
		t.Fatalf("LogSystemEvent: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
