// Package notify fans operational alerts out to pluggable sinks (log,
// Telegram, and others added the same way), gated by per-rule cooldowns
// so a flapping condition doesn't spam a channel.
package notify

import (
	"sync"

	"github.com/ashfall-systems/perpcore/internal/clock"
	"github.com/ashfall-systems/perpcore/internal/logging"
)

var log = logging.For("notify")

// Severity is an alert's urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Channel is a delivery destination an AlertRule can route to.
type Channel string

const (
	ChannelLog      Channel = "log"
	ChannelTelegram Channel = "telegram"
	ChannelDiscord  Channel = "discord"
	ChannelWebhook  Channel = "webhook"
)

// Alert is one fired notification.
type Alert struct {
	Severity    Severity
	Title       string
	Message     string
	Source      string
	TimestampMs int64
	Metadata    map[string]interface{}
}

// Rule binds a named condition to its severity, delivery channels, and a
// cooldown preventing the same rule from firing more often than once per
// CooldownMs.
type Rule struct {
	Name       string
	Severity   Severity
	Channels   []Channel
	CooldownMs int64
	Enabled    bool
}

// Sink receives dispatched alerts. Implementations must not block the
// caller for long and must not panic; Manager recovers a sink failure per
// alert rather than letting one bad sink break delivery to the rest.
type Sink interface {
	Receive(alert Alert)
}

const maxHistory = 1000

// Manager is the alert rule registry, delivery dispatcher, and bounded
// history ring buffer.
type Manager struct {
	clock clock.Clock

	mu         sync.Mutex
	rules      map[string]Rule
	history    []Alert
	lastFired  map[string]int64
	sinks      map[Channel][]Sink
}

// NewManager builds an empty Manager using clk for cooldown timing.
func NewManager(clk clock.Clock) *Manager {
	return &Manager{
		clock:     clk,
		rules:     make(map[string]Rule),
		lastFired: make(map[string]int64),
		sinks:     make(map[Channel][]Sink),
	}
}

// AddRule registers or replaces a named rule.
func (m *Manager) AddRule(rule Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.Name] = rule
}

// RemoveRule deregisters a rule by name.
func (m *Manager) RemoveRule(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, name)
}

// GetRule returns the named rule and whether it exists.
func (m *Manager) GetRule(name string) (Rule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[name]
	return r, ok
}

// RuleNames returns every registered rule's name.
func (m *Manager) RuleNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.rules))
	for n := range m.rules {
		names = append(names, n)
	}
	return names
}

// RegisterSink attaches sink to channel; a channel may have multiple sinks.
func (m *Manager) RegisterSink(channel Channel, sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks[channel] = append(m.sinks[channel], sink)
}

// FireAlert appends alert to history and dispatches it to ruleName's
// channels (or ChannelLog if ruleName is empty/unknown), subject to the
// rule's enabled flag and cooldown. Returns whether the alert was
// dispatched (false if suppressed by the rule being disabled or still
// cooling down).
func (m *Manager) FireAlert(alert Alert, ruleName string) bool {
	m.mu.Lock()
	var channels []Channel
	if rule, ok := m.rules[ruleName]; ok && ruleName != "" {
		if !rule.Enabled {
			m.mu.Unlock()
			return false
		}
		if !m.checkCooldownLocked(ruleName, rule.CooldownMs) {
			m.mu.Unlock()
			return false
		}
		m.lastFired[ruleName] = m.clock.NowMs()
		channels = rule.Channels
	} else {
		channels = []Channel{ChannelLog}
	}

	m.history = append(m.history, alert)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	sinksByChannel := make(map[Channel][]Sink, len(channels))
	for _, ch := range channels {
		sinksByChannel[ch] = append([]Sink(nil), m.sinks[ch]...)
	}
	m.mu.Unlock()

	for ch, sinks := range sinksByChannel {
		for _, sink := range sinks {
			dispatch(sink, alert, ch)
		}
	}
	return true
}

func dispatch(sink Sink, alert Alert, channel Channel) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("channel", channel).WithField("panic", r).Error("alert sink panicked")
		}
	}()
	sink.Receive(alert)
}

func (m *Manager) checkCooldownLocked(ruleName string, cooldownMs int64) bool {
	last := m.lastFired[ruleName]
	return m.clock.NowMs()-last >= cooldownMs
}

// History returns every alert fired, oldest first, capped at the last
// maxHistory entries.
func (m *Manager) History() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.history...)
}

// RecentAlerts returns the last count alerts, oldest first.
func (m *Manager) RecentAlerts(count int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if count > len(m.history) {
		count = len(m.history)
	}
	return append([]Alert(nil), m.history[len(m.history)-count:]...)
}

// AlertsBySeverity filters history to one severity.
func (m *Manager) AlertsBySeverity(sev Severity) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for _, a := range m.history {
		if a.Severity == sev {
			out = append(out, a)
		}
	}
	return out
}

// ClearHistory empties the history buffer and resets cooldown tracking.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	m.lastFired = make(map[string]int64)
}
