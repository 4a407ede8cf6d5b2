package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// LogSink writes every alert through the component logger. It is always
// safe to register; FireAlert routes alerts with an empty or unknown rule
// name to the log channel.
type LogSink struct{}

// Receive logs alert at a level matching its severity.
func (LogSink) Receive(alert Alert) {
	entry := log.WithField("source", alert.Source).WithField("title", alert.Title)
	if len(alert.Metadata) > 0 {
		entry = entry.WithField("metadata", alert.Metadata)
	}
	switch alert.Severity {
	case SeverityCritical, SeverityError:
		entry.Error(alert.Message)
	case SeverityWarning:
		entry.Warn(alert.Message)
	default:
		entry.Info(alert.Message)
	}
}

// Formatter renders alerts and trade/status events as Telegram Markdown.
type Formatter struct{}

func (Formatter) FormatAlert(alert Alert) string {
	return fmt.Sprintf("%s *%s*\n%s\nSource: `%s`", severityEmoji(alert.Severity), alert.Title, alert.Message, alert.Source)
}

func (Formatter) FormatTradeOpened(symbol, side string, size, entry, stopLoss, takeProfit decimal.Decimal, strategy string) string {
	arrow := "🟢 LONG"
	if strings.EqualFold(side, "short") {
		arrow = "🔴 SHORT"
	}
	return fmt.Sprintf("%s *%s*\nEntry: `%s`\nSize: `%s`\nSL: `%s` | TP: `%s`\nStrategy: `%s`",
		arrow, symbol, entry, size, stopLoss, takeProfit, strategy)
}

func (Formatter) FormatTradeClosed(symbol, side string, pnl, pnlPct, entry, exitPrice decimal.Decimal, strategy string) string {
	result, sign := "❌ LOSS", ""
	if pnl.IsPositive() {
		result, sign = "✅ WIN", "+"
	}
	return fmt.Sprintf("%s *%s* (%s)\nPnL: `%s%s USDT (%s%s%%)`\nEntry: `%s` → Exit: `%s`\nStrategy: `%s`",
		result, symbol, side, sign, pnl.StringFixed(4), sign, pnlPct.Mul(decimal.NewFromInt(100)).StringFixed(2),
		entry, exitPrice, strategy)
}

func (Formatter) FormatStatus(botState string, equity, dailyPnL decimal.Decimal, openPositions int, activeStrategies []string) string {
	sign := ""
	if dailyPnL.IsPositive() || dailyPnL.IsZero() {
		sign = "+"
	}
	return fmt.Sprintf("📊 *Bot Status*\nState: `%s`\nEquity: `%s USDT`\nOpen positions: `%d`\nDaily PnL: `%s%s USDT`\nStrategies: `%s`",
		botState, equity.StringFixed(2), openPositions, sign, dailyPnL.StringFixed(2), strings.Join(activeStrategies, ", "))
}

func (Formatter) FormatRiskAlert(reason string, currentDrawdown, maxDrawdown decimal.Decimal) string {
	return fmt.Sprintf("🚨 *RISK ALERT*\nReason: `%s`\nCurrent DD: `%s%%`\nMax DD Limit: `%s%%`",
		reason, currentDrawdown.Mul(decimal.NewFromInt(100)).StringFixed(2), maxDrawdown.Mul(decimal.NewFromInt(100)).StringFixed(2))
}

func severityEmoji(sev Severity) string {
	switch sev {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityError:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "📌"
	}
}

// message is a rendered outbound Telegram message held in the sink's
// in-memory queue.
type message struct {
	chatID string
	text   string
}

// TelegramSink renders alerts and trade/status events as Markdown and
// queues them in memory (Receive, SendTradeOpened/Closed, SendStatus).
// Queued messages stay there until ClearSent drops them; nothing in this
// type posts them. Only SendNow calls the Bot API's sendMessage endpoint.
type TelegramSink struct {
	botToken string
	chatID   string
	client   *http.Client
	fmt      Formatter

	mu      sync.Mutex
	enabled bool
	sent    []message
}

// NewTelegramSink builds a sink posting to chatID using botToken.
func NewTelegramSink(botToken, chatID string) *TelegramSink {
	return &TelegramSink{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
		enabled:  true,
	}
}

// SetEnabled toggles whether Receive/queued sends take effect.
func (t *TelegramSink) SetEnabled(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = v
}

// Enabled reports the sink's current enabled state.
func (t *TelegramSink) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SentCount returns how many messages have been queued since the last
// ClearSent.
func (t *TelegramSink) SentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// Receive implements Sink by queuing the formatted alert text.
func (t *TelegramSink) Receive(alert Alert) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.queueLocked(t.fmt.FormatAlert(alert))
}

// SendTradeOpened queues a trade-opened notification.
func (t *TelegramSink) SendTradeOpened(symbol, side string, size, entry, stopLoss, takeProfit decimal.Decimal, strategy string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.queueLocked(t.fmt.FormatTradeOpened(symbol, side, size, entry, stopLoss, takeProfit, strategy))
}

// SendTradeClosed queues a trade-closed notification.
func (t *TelegramSink) SendTradeClosed(symbol, side string, pnl, pnlPct, entry, exitPrice decimal.Decimal, strategy string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.queueLocked(t.fmt.FormatTradeClosed(symbol, side, pnl, pnlPct, entry, exitPrice, strategy))
}

// SendStatus queues a status snapshot notification.
func (t *TelegramSink) SendStatus(botState string, equity, dailyPnL decimal.Decimal, positions int, strategies []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.queueLocked(t.fmt.FormatStatus(botState, equity, dailyPnL, positions, strategies))
}

func (t *TelegramSink) queueLocked(text string) {
	t.sent = append(t.sent, message{chatID: t.chatID, text: text})
}

// PendingMessages returns every message queued since the last ClearSent.
func (t *TelegramSink) PendingMessages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	for i, m := range t.sent {
		out[i] = m.text
	}
	return out
}

// ClearSent empties the queued-message history.
func (t *TelegramSink) ClearSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// SendNow posts text to the Telegram Bot API immediately, bypassing the
// queue. Returns false (never an error) on any failure, since delivery
// here is best-effort and failures are logged rather than propagated.
func (t *TelegramSink) SendNow(ctx context.Context, text string) bool {
	t.mu.Lock()
	enabled, token, chatID := t.enabled, t.botToken, t.chatID
	t.mu.Unlock()
	if !enabled || token == "" || chatID == "" {
		return false
	}

	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	})
	if err != nil {
		log.WithError(err).Error("telegram payload marshal failed")
		return false
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.WithError(err).Error("telegram request build failed")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client.Do(req)
	if err != nil {
		log.WithError(err).Error("telegram send failed")
		return false
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		log.WithField("status", res.StatusCode).Error("telegram send rejected")
		return false
	}
	log.WithField("chat_id", chatID).Debug("telegram message sent")
	return true
}

// Command is an admin command Telegram (or the admin API) can dispatch.
type Command string

const (
	CommandStatus    Command = "/status"
	CommandPositions Command = "/positions"
	CommandPnL       Command = "/pnl"
	CommandPause     Command = "/pause"
	CommandResume    Command = "/resume"
	CommandRisk      Command = "/risk"
	CommandHelp      Command = "/help"
)

// CommandHandler dispatches incoming command text to registered handlers.
type CommandHandler struct {
	mu       sync.Mutex
	handlers map[Command]func() string
}

// NewCommandHandler builds an empty CommandHandler.
func NewCommandHandler() *CommandHandler {
	return &CommandHandler{handlers: make(map[Command]func() string)}
}

// Register binds cmd to handler, replacing any existing binding.
func (h *CommandHandler) Register(cmd Command, handler func() string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[cmd] = handler
}

// Handle dispatches the first whitespace-delimited token of text as a
// command, returning its handler's response, "Command <cmd> not implemented" for
// an unregistered known-shaped command, or "" for unrecognized input.
func (h *CommandHandler) Handle(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return ""
	}
	cmd := Command(strings.ToLower(fields[0]))
	if !isKnownCommand(cmd) {
		return ""
	}
	h.mu.Lock()
	handler, ok := h.handlers[cmd]
	h.mu.Unlock()
	if !ok {
		return fmt.Sprintf("Command %s not implemented", cmd)
	}
	return handler()
}

// RegisteredCommands returns every command with a bound handler.
func (h *CommandHandler) RegisteredCommands() []Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Command, 0, len(h.handlers))
	for c := range h.handlers {
		out = append(out, c)
	}
	return out
}

func isKnownCommand(cmd Command) bool {
	switch cmd {
	case CommandStatus, CommandPositions, CommandPnL, CommandPause, CommandResume, CommandRisk, CommandHelp:
		return true
	default:
		return false
	}
}
