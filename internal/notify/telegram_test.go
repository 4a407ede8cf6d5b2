package notify

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFormatter_FormatTradeClosed_MarksWinVsLoss(t *testing.T) {
	f := Formatter{}
	win := f.FormatTradeClosed("BTCUSDT", "long", decimal.NewFromInt(50), decimal.NewFromFloat(0.02),
		decimal.NewFromInt(50000), decimal.NewFromInt(51000), "ema_crossover")
	if !contains(win, "WIN") {
		t.Fatalf("expected WIN label for positive pnl, got %q", win)
	}

	loss := f.FormatTradeClosed("BTCUSDT", "long", decimal.NewFromInt(-50), decimal.NewFromFloat(-0.02),
		decimal.NewFromInt(50000), decimal.NewFromInt(49000), "ema_crossover")
	if !contains(loss, "LOSS") {
		t.Fatalf("expected LOSS label for negative pnl, got %q", loss)
	}
}

func TestTelegramSink_QueuesWhenDisabled_NoOp(t *testing.T) {
	sink := NewTelegramSink("token", "chat")
	sink.SetEnabled(false)
	sink.Receive(Alert{Title: "x", Message: "y"})
	if sink.SentCount() != 0 {
		t.Fatal("expected disabled sink to drop the alert")
	}
}

func TestTelegramSink_ReceiveQueuesFormattedAlert(t *testing.T) {
	sink := NewTelegramSink("token", "chat")
	sink.Receive(Alert{Severity: SeverityCritical, Title: "Drawdown", Message: "breached", Source: "risk"})
	pending := sink.PendingMessages()
	if len(pending) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(pending))
	}
	if !contains(pending[0], "Drawdown") {
		t.Fatalf("expected formatted message to include the title, got %q", pending[0])
	}
}

func TestTelegramSink_ClearSentEmptiesQueue(t *testing.T) {
	sink := NewTelegramSink("token", "chat")
	sink.Receive(Alert{Title: "x"})
	sink.ClearSent()
	if sink.SentCount() != 0 {
		t.Fatal("expected ClearSent to empty the queue")
	}
}

func TestTelegramSink_SendNow_FalseWithoutCredentials(t *testing.T) {
	sink := NewTelegramSink("", "")
	if sink.SendNow(nil, "hello") { //nolint:staticcheck // nil ctx never reached: credential check short-circuits first
		t.Fatal("expected SendNow to fail fast with no bot token/chat id configured")
	}
}

func TestCommandHandler_DispatchesRegisteredCommand(t *testing.T) {
	h := NewCommandHandler()
	h.Register(CommandStatus, func() string { return "running" })

	if got := h.Handle("/status"); got != "running" {
		t.Fatalf("expected dispatched handler response, got %q", got)
	}
}

func TestCommandHandler_KnownButUnregisteredCommand(t *testing.T) {
	h := NewCommandHandler()
	got := h.Handle("/pause")
	if got != "Command /pause not implemented" {
		t.Fatalf("expected not-implemented message, got %q", got)
	}
}

func TestCommandHandler_UnknownCommandReturnsEmpty(t *testing.T) {
	h := NewCommandHandler()
	if got := h.Handle("/bogus"); got != "" {
		t.Fatalf("expected empty string for unrecognized command, got %q", got)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
