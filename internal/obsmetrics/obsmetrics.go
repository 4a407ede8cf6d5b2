// Package obsmetrics is the core's Prometheus instrumentation: equity and
// drawdown gauges, per-position marks, order/signal/risk counters, and
// exchange/websocket health, all registered on a private registry so the
// core never pollutes the default global one.
package obsmetrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the private prometheus registry for perpcore metrics.
	Registry = prometheus.NewRegistry()

	mu sync.RWMutex

	// ============================================
	// Account metrics
	// ============================================

	EquityTotal = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "account", Name: "equity_total",
		Help: "Total account equity in quote currency",
	})

	AvailableBalance = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "account", Name: "available_balance",
		Help: "Available (non-margined) balance in quote currency",
	})

	UnrealizedPnLTotal = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "account", Name: "unrealized_pnl_total",
		Help: "Sum of unrealized P&L across open positions",
	})

	DrawdownCurrentPct = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "account", Name: "drawdown_current_pct",
		Help: "Current drawdown from peak equity, as a fraction",
	})

	PeakEquity = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "account", Name: "peak_equity",
		Help: "High-water-mark equity since session start",
	})

	// ============================================
	// Risk state metrics
	// ============================================

	RiskState = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "risk", Name: "state",
		Help: "Current risk manager state: 0=normal, 1=soft_stop, 2=hard_stop",
	})

	CircuitBreakerTripped = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "risk", Name: "circuit_breaker_tripped",
		Help: "Whether the consecutive-loss circuit breaker is currently tripped (1) or not (0)",
	})

	RiskEventsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpcore", Subsystem: "risk", Name: "events_total",
		Help: "Count of risk-state transitions by type",
	}, []string{"event_type"})

	SymbolsOnCooldown = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "risk", Name: "symbols_on_cooldown",
		Help: "Number of symbols currently cooling down after a losing trade",
	})

	// ============================================
	// Position metrics
	// ============================================

	PositionsOpenCount = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "position", Name: "open_count",
		Help: "Number of open positions",
	})

	PositionUnrealizedPnL = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "position", Name: "unrealized_pnl",
		Help: "Unrealized P&L per position in quote currency",
	}, []string{"symbol", "side"})

	PositionNotional = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "position", Name: "notional",
		Help: "Notional exposure per position in quote currency",
	}, []string{"symbol", "side"})

	PositionHoldDurationSeconds = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "position", Name: "hold_duration_seconds",
		Help: "Time the current position has been held",
	}, []string{"symbol", "side"})

	// ============================================
	// Signal / strategy metrics
	// ============================================

	SignalsGeneratedTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpcore", Subsystem: "strategy", Name: "signals_generated_total",
		Help: "Signals generated per strategy",
	}, []string{"strategy", "direction"})

	SignalsApprovedTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpcore", Subsystem: "strategy", Name: "signals_approved_total",
		Help: "Signals approved by the risk gate per strategy",
	}, []string{"strategy"})

	SignalsRejectedTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpcore", Subsystem: "strategy", Name: "signals_rejected_total",
		Help: "Signals rejected by the risk gate per strategy and reason",
	}, []string{"strategy", "reason"})

	StrategyEnabled = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "strategy", Name: "enabled",
		Help: "Whether a strategy is currently enabled (1) or deweighted/disabled (0)",
	}, []string{"strategy"})

	// ============================================
	// Order / trade metrics
	// ============================================

	OrdersSubmittedTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpcore", Subsystem: "order", Name: "submitted_total",
		Help: "Orders submitted per symbol and side",
	}, []string{"symbol", "side"})

	OrdersRejectedTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpcore", Subsystem: "order", Name: "rejected_total",
		Help: "Orders rejected by the exchange, by error type",
	}, []string{"error_type"})

	TradesTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpcore", Subsystem: "trade", Name: "total",
		Help: "Closed trades by outcome",
	}, []string{"result"}) // result: win, loss

	TradeRealizedPnL = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "perpcore", Subsystem: "trade", Name: "realized_pnl",
		Help:    "Realized P&L per closed trade in quote currency",
		Buckets: []float64{-500, -200, -100, -50, -20, -5, 0, 5, 20, 50, 100, 200, 500},
	}, []string{"symbol"})

	// ============================================
	// Execution-quality metrics
	// ============================================

	FeeImpactTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "perpcore", Subsystem: "execution", Name: "fee_impact_usdt_total",
		Help: "Cumulative exchange fees paid in quote currency",
	})

	SlippageBps = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "perpcore", Subsystem: "execution", Name: "slippage_bps",
		Help:    "Fill price deviation from the signal's reference price, in basis points",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250},
	})

	SlippageCostTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "perpcore", Subsystem: "execution", Name: "slippage_cost_usdt_total",
		Help: "Cumulative cost of fill-price slippage in quote currency",
	})

	MissedFillsTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "perpcore", Subsystem: "execution", Name: "missed_fills_total",
		Help: "Orders submitted that came back with zero filled quantity",
	})

	// ============================================
	// Funding-rate-arb metrics
	// ============================================

	FundingRateArbDegraded = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "funding", Name: "arb_degraded",
		Help: "Whether funding_rate_arb is temporarily disabled due to fetch failures",
	})

	FundingRateFailuresTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpcore", Subsystem: "funding", Name: "fetch_failures_total",
		Help: "Funding rate fetch failures per symbol",
	}, []string{"symbol"})

	// ============================================
	// Transport / system metrics
	// ============================================

	ExchangeRequestDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "perpcore", Subsystem: "exchange", Name: "request_duration_seconds",
		Help:    "REST request duration to the venue",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"venue", "operation"})

	ExchangeErrorsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpcore", Subsystem: "exchange", Name: "errors_total",
		Help: "REST errors to the venue, by classified error type",
	}, []string{"venue", "error_type"})

	WebsocketConnected = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "websocket", Name: "connected",
		Help: "Whether the kline websocket feed is currently connected (1) or not (0)",
	})

	WebsocketReconnectsTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "perpcore", Subsystem: "websocket", Name: "reconnects_total",
		Help: "Websocket reconnect attempts since startup",
	})

	CycleDurationSeconds = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "perpcore", Subsystem: "scheduler", Name: "cycle_duration_seconds",
		Help:    "Duration of one orchestrator evaluation cycle",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	})

	TradingPaused = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "system", Name: "trading_paused",
		Help: "Whether trading is currently paused via the admin API (1) or running (0)",
	})

	UptimeSeconds = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "perpcore", Subsystem: "system", Name: "uptime_seconds",
		Help: "Process uptime in seconds",
	})
)

// UpdateAccountMetrics sets the account-level equity/balance/drawdown gauges.
func UpdateAccountMetrics(equity, available, unrealizedPnL, peakEquity, drawdownPct float64) {
	mu.Lock()
	defer mu.Unlock()
	EquityTotal.Set(equity)
	AvailableBalance.Set(available)
	UnrealizedPnLTotal.Set(unrealizedPnL)
	PeakEquity.Set(peakEquity)
	DrawdownCurrentPct.Set(drawdownPct)
}

// RiskStateValue maps a risk.State label to its gauge encoding.
func RiskStateValue(normal, softStop, hardStop bool) float64 {
	switch {
	case hardStop:
		return 2
	case softStop:
		return 1
	default:
		return 0
	}
}

// UpdatePositionMetrics sets the per-position gauges for one symbol/side.
func UpdatePositionMetrics(symbol, side string, unrealizedPnL, notional, holdDurationSeconds float64) {
	mu.Lock()
	defer mu.Unlock()
	PositionUnrealizedPnL.WithLabelValues(symbol, side).Set(unrealizedPnL)
	PositionNotional.WithLabelValues(symbol, side).Set(notional)
	PositionHoldDurationSeconds.WithLabelValues(symbol, side).Set(holdDurationSeconds)
}

// ClearPositionMetrics removes a closed position's gauge series.
func ClearPositionMetrics(symbol, side string) {
	mu.Lock()
	defer mu.Unlock()
	PositionUnrealizedPnL.DeleteLabelValues(symbol, side)
	PositionNotional.DeleteLabelValues(symbol, side)
	PositionHoldDurationSeconds.DeleteLabelValues(symbol, side)
}

// RecordTrade records a closed trade's outcome and realized P&L.
func RecordTrade(symbol string, isWin bool, realizedPnL float64) {
	result := "loss"
	if isWin {
		result = "win"
	}
	TradesTotal.WithLabelValues(result).Inc()
	TradeRealizedPnL.WithLabelValues(symbol).Observe(realizedPnL)
}

// RecordExecutionQuality updates fee, slippage, and missed-fill metrics for
// one order's fill report against its signal's reference price.
func RecordExecutionQuality(feeUSDT float64, filledQty float64, slippageBps float64, slippageCostUSDT float64, hadReferencePrice bool) {
	if feeUSDT > 0 {
		FeeImpactTotal.Add(feeUSDT)
	}
	if hadReferencePrice {
		SlippageBps.Observe(slippageBps)
		SlippageCostTotal.Add(slippageCostUSDT)
	}
	if filledQty <= 0 {
		MissedFillsTotal.Inc()
	}
}

// RecordExchangeRequest observes a venue REST call's duration and, if it
// failed, its classified error type.
func RecordExchangeRequest(venue, operation string, durationSeconds float64, errType string) {
	ExchangeRequestDuration.WithLabelValues(venue, operation).Observe(durationSeconds)
	if errType != "" {
		ExchangeErrorsTotal.WithLabelValues(venue, errType).Inc()
	}
}

// SetTradingPaused records the admin-API pause/resume state.
func SetTradingPaused(paused bool) {
	val := 0.0
	if paused {
		val = 1.0
	}
	TradingPaused.Set(val)
}

// Init registers the standard Go/process collectors alongside the custom
// series above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
