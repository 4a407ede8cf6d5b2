package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/candlebuffer"
	"github.com/ashfall-systems/perpcore/internal/clock"
	"github.com/ashfall-systems/perpcore/internal/config"
	"github.com/ashfall-systems/perpcore/internal/exchange"
	"github.com/ashfall-systems/perpcore/internal/funding"
	"github.com/ashfall-systems/perpcore/internal/journal"
	"github.com/ashfall-systems/perpcore/internal/logging"
	"github.com/ashfall-systems/perpcore/internal/mtf"
	"github.com/ashfall-systems/perpcore/internal/notify"
	"github.com/ashfall-systems/perpcore/internal/obsmetrics"
	"github.com/ashfall-systems/perpcore/internal/ordermanager"
	"github.com/ashfall-systems/perpcore/internal/positionmanager"
	"github.com/ashfall-systems/perpcore/internal/reconcile"
	"github.com/ashfall-systems/perpcore/internal/risk"
	"github.com/ashfall-systems/perpcore/internal/strategy"
	"github.com/ashfall-systems/perpcore/internal/types"
)

var log = logging.For("orchestrator")

const candleBufferCapacity = 500

// orderSignalMeta remembers the signal that produced an in-flight order, so
// the order-fill handler can attribute the fill to a strategy and — for a
// closing order — hand the original signal back to the reconciler to
// finalize.
type orderSignalMeta struct {
	strategyName string
	direction    types.SignalDirection
	entryPrice   decimal.Decimal
	symbol       string
}

// Orchestrator owns every long-lived component of the trading core and
// drives the scheduled jobs (equity snapshots, exit-guard sweeps, pending
// trading-stop retries) plus the per-symbol poll-and-analyze cycle that
// turns a fresh candle into a risk-checked order.
//
// It is the Go counterpart of original_source/core/orchestrator.py's
// TradingOrchestrator, restructured around a synchronous poll cycle driven
// by the scheduler/wsfeed instead of asyncio event subscriptions — there is
// no separate event bus here; OnKline/OnOrderResult/OnPositionUpdate/
// OnBalanceUpdate are called directly by whatever feed (wsfeed or a polling
// job) observes the venue.
type Orchestrator struct {
	clock     clock.Clock
	rest      exchange.RestAPI
	settings  config.AppSettings
	sessionID string
	symbols   []string

	Journal    *journal.Writer
	Risk       *risk.Manager
	Positions  *positionmanager.Manager
	Orders     *ordermanager.Manager
	Selector   *strategy.Selector
	Candles    *candlebuffer.Buffer
	Funding    *funding.Feeder
	Confirm    *mtf.Confirmer
	Notifier   *notify.Manager
	Telegram   *notify.TelegramSink
	Commands   *notify.CommandHandler
	Reconciler *reconcile.Reconciler
	Scheduler  *Scheduler

	mu           sync.Mutex
	orderSignals map[string]orderSignalMeta

	tradingPaused atomic.Bool

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// Deps carries the already-constructed shared components New wires
// together; Symbols is the trading universe (the Go equivalent of the
// original's get_ccxt_symbols() call).
type Deps struct {
	Settings config.AppSettings
	Rest     exchange.RestAPI
	Clock    clock.Clock
	Symbols  []string
}

// New builds an Orchestrator and every component it owns: the journal, risk
// manager, position/order managers, the seven concrete strategies behind a
// regime-aware selector, the candle buffer, the funding-rate feeder, the
// optional multi-timeframe confirmer, the alert manager (with an optional
// Telegram sink), and the reconciler that ties them together for exits.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	sessionID := fmt.Sprintf("session-%d", deps.Clock.NowMs())

	j, err := journal.Open(deps.Settings.JournalPath, sessionID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open journal: %w", err)
	}

	riskMgr := risk.NewManager(deps.Settings.Risk, deps.Clock)
	positions := positionmanager.New(deps.Rest)
	orders := ordermanager.New(deps.Rest, deps.Clock)

	feeder := funding.NewFeeder(deps.Rest, nil, "funding_rate_arb")
	strategies := []strategy.Strategy{
		strategy.NewEMACrossover(deps.Symbols),
		strategy.NewMeanReversion(deps.Symbols),
		strategy.NewMomentum(deps.Symbols),
		strategy.NewTrendFollowing(deps.Symbols),
		strategy.NewBreakout(deps.Symbols),
		strategy.NewGridTrading(deps.Symbols),
		strategy.NewFundingRateArb(deps.Symbols, feeder),
	}
	selector := strategy.NewSelector(strategies)
	feeder.SetStrategies(funding.SelectorStrategies{Selector: selector}, "funding_rate_arb")

	var confirmer *mtf.Confirmer
	if deps.Settings.Trading.EnableMTFConfirm {
		confirmer = mtf.New(deps.Rest, deps.Settings.Trading.MTFConfirmTF, deps.Settings.Trading.MTFConfirmMinBars,
			deps.Settings.Trading.MTFConfirmADXMin, riskMgr)
	}

	notifier := notify.NewManager(deps.Clock)
	notifier.RegisterSink(notify.ChannelLog, notify.LogSink{})
	commands := notify.NewCommandHandler()

	var telegram *notify.TelegramSink

	rec := reconcile.New(positions, orders, riskMgr, deps.Clock, deps.Settings.RiskGuards, deps.Settings.TradingStop)
	rec.Journal = j
	rec.Notifier = notifier
	rec.Selector = selector

	o := &Orchestrator{
		clock: deps.Clock, rest: deps.Rest, settings: deps.Settings, sessionID: sessionID, symbols: deps.Symbols,
		Journal: j, Risk: riskMgr, Positions: positions, Orders: orders, Selector: selector,
		Candles: candlebuffer.New(candleBufferCapacity), Funding: feeder, Confirm: confirmer,
		Notifier: notifier, Telegram: telegram, Commands: commands, Reconciler: rec,
		Scheduler: NewScheduler(deps.Clock), orderSignals: make(map[string]orderSignalMeta),
		shutdownCh: make(chan struct{}),
	}
	o.registerCommands()
	return o, nil
}

// EnableTelegram creates a Telegram sink, registers it on the alert
// manager's telegram channel and keeps it on o.Telegram for trade
// notifications, mirroring the original's conditional telegram_sink wiring.
// The reconciler is not given the sink.
func (o *Orchestrator) EnableTelegram(botToken, chatID string) {
	o.Telegram = notify.NewTelegramSink(botToken, chatID)
	o.Telegram.SetEnabled(true)
	o.Notifier.RegisterSink(notify.ChannelTelegram, o.Telegram)
}

func (o *Orchestrator) registerCommands() {
	o.Commands.Register(notify.CommandPause, func() string {
		o.PauseTrading()
		return "trading paused"
	})
	o.Commands.Register(notify.CommandResume, func() string {
		o.ResumeTrading()
		return "trading resumed"
	})
	o.Commands.Register(notify.CommandStatus, func() string {
		return o.statusMessage()
	})
}

// StatusSnapshot is a point-in-time view of the orchestrator's running state,
// used by both the Telegram /status command and the admin API.
type StatusSnapshot struct {
	State             string
	Equity            decimal.Decimal
	OpenPositionCount int
	ActiveStrategies  []string
	TradingPaused     bool
	RiskState         risk.State
	RiskBlockReason   string
	DrawdownPct       decimal.Decimal
}

// Status returns a StatusSnapshot of the orchestrator's current state.
func (o *Orchestrator) Status() StatusSnapshot {
	equity := decimal.Zero
	if bal, err := o.rest.GetBalance(context.Background()); err == nil {
		equity = bal.TotalEquity
	}
	active := make([]string, 0)
	for name, s := range o.Selector.Strategies() {
		if s.Enabled() {
			active = append(active, name)
		}
	}
	state := "running"
	if o.tradingPaused.Load() {
		state = "paused"
	}
	return StatusSnapshot{
		State: state, Equity: equity, OpenPositionCount: o.Positions.OpenPositionCount(),
		ActiveStrategies: active, TradingPaused: o.tradingPaused.Load(),
		RiskState: o.Risk.RiskState(), RiskBlockReason: o.Risk.BlockReason(), DrawdownPct: o.Risk.DrawdownPct(),
	}
}

func (o *Orchestrator) statusMessage() string {
	snap := o.Status()
	return notify.Formatter{}.FormatStatus(snap.State, snap.Equity, decimal.Zero, snap.OpenPositionCount, snap.ActiveStrategies)
}

// PauseTrading halts new signal evaluation without touching open positions
// or the reconciler's exit guards, which keep running regardless.
func (o *Orchestrator) PauseTrading() {
	o.tradingPaused.Store(true)
	obsmetrics.SetTradingPaused(true)
}

// ResumeTrading clears the pause flag and, following the original's
// drawdown-halt-resume coupling, also clears any risk-manager halt.
func (o *Orchestrator) ResumeTrading() {
	o.tradingPaused.Store(false)
	obsmetrics.SetTradingPaused(false)
	o.Risk.ResumeTrading()
}

// IsTradingPaused reports the current pause state.
func (o *Orchestrator) IsTradingPaused() bool { return o.tradingPaused.Load() }

// Start performs the original's startup sequence: log session start, sync
// balance and seed the risk manager's equity baseline, sync positions and
// restore strategy state from them, seed candle history for every symbol,
// reconcile any positions that were already open at boot, schedule the
// periodic jobs, and start the scheduler.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.Journal.LogSystemEvent(o.clock.NowMs(), "system_start", "orchestrator starting", map[string]interface{}{
		"session_id": o.sessionID, "symbols": o.symbols,
	})

	bal, err := o.rest.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: initial balance fetch: %w", err)
	}
	o.Risk.Initialize(bal.TotalEquity)

	if _, err := o.Positions.SyncPositions(ctx, ""); err != nil {
		log.WithError(err).Warn("initial position sync failed")
	}
	o.Reconciler.RestoreStrategyStatesFromPositions()

	for _, symbol := range o.symbols {
		candles, err := o.rest.GetKlines(ctx, symbol, o.settings.Trading.DefaultTimeframe, 200)
		if err != nil {
			log.WithField("symbol", symbol).WithError(err).Warn("candle history seed failed")
			continue
		}
		o.Candles.Seed(symbol, candles)
	}

	if err := o.Reconciler.ReconcileRecoveredPositions(ctx, o.analyzeSymbol); err != nil {
		log.WithError(err).Warn("startup position reconciliation failed")
	}

	o.Scheduler.AddJob("equity_snapshot", 60*time.Second, false, o.periodicEquitySnapshot)
	o.Scheduler.AddJob("trading_stop_retry", 2*time.Second, false, func() error {
		o.Reconciler.ProcessPendingTradingStops(ctx, o.rest)
		return nil
	})
	o.Scheduler.AddJob("exit_guard_sweep", 5*time.Second, false, func() error {
		return o.sweepExitGuards(ctx)
	})

	// Poll every symbol on its own job at the trading timeframe's cadence;
	// a connected wsfeed can additionally drive PollAndAnalyze directly off
	// closed-kline pushes for lower latency, but these jobs are the
	// baseline that keeps analysis running even without one.
	pollInterval := timeframeToDuration(o.settings.Trading.DefaultTimeframe)
	for _, symbol := range o.symbols {
		sym := symbol
		o.Scheduler.AddJob("poll_"+sym, pollInterval, true, func() error {
			return o.PollAndAnalyze(ctx, sym)
		})
	}

	o.Scheduler.Start()

	return nil
}

// Stop mirrors the original's shutdown sequence: stop the scheduler, log
// system_stop, and close the journal.
func (o *Orchestrator) Stop() error {
	o.Scheduler.Stop()
	o.Journal.LogSystemEvent(o.clock.NowMs(), "system_stop", "orchestrator stopping", map[string]interface{}{
		"session_id": o.sessionID,
	})
	return o.Journal.Close()
}

// Run starts the orchestrator and blocks until ctx is cancelled or
// RequestShutdown is called, then stops cleanly. This replaces the
// original's asyncio.Event-based _shutdown_event.wait() with a channel,
// per the teacher's stopMonitorCh/WaitGroup shutdown idiom.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-o.shutdownCh:
	}
	return o.Stop()
}

// RequestShutdown signals Run to stop. Safe to call multiple times.
func (o *Orchestrator) RequestShutdown() {
	o.shutdownOnce.Do(func() { close(o.shutdownCh) })
}

// sweepExitGuards enforces the account-level exit guards (max hold, PnL
// threshold, trailing stop) over every currently-open position, the polling
// equivalent of the original's guard checks that ran inline with each kline.
func (o *Orchestrator) sweepExitGuards(ctx context.Context) error {
	equity := o.Positions.TotalUnrealizedPnL() // placeholder equity source replaced below
	bal, err := o.rest.GetBalance(ctx)
	if err == nil {
		equity = bal.TotalEquity
	}
	for _, pos := range o.Positions.GetAllPositions() {
		o.Reconciler.EnforcePositionExitGuards(ctx, pos, equity)
	}
	return nil
}

// analyzeSymbol is the per-symbol recovery hook passed to
// ReconcileRecoveredPositions: it reseeds the candle buffer with the last
// 200 candles for a symbol discovered already open at boot.
func (o *Orchestrator) analyzeSymbol(ctx context.Context, symbol string) error {
	candles, err := o.rest.GetKlines(ctx, symbol, o.settings.Trading.DefaultTimeframe, 200)
	if err != nil {
		return err
	}
	o.Candles.Seed(symbol, candles)
	return nil
}

// PollAndAnalyze is the Go counterpart of the original's _on_kline: it
// refreshes symbol's most recent candles, updates the buffer, and — once
// enough history has accumulated and trading is not paused — generates a
// signal, optionally confirms it on a higher timeframe, evaluates it against
// risk, and submits the resulting order.
func (o *Orchestrator) PollAndAnalyze(ctx context.Context, symbol string) error {
	if o.tradingPaused.Load() {
		return nil
	}

	candles, err := o.rest.GetKlines(ctx, symbol, o.settings.Trading.DefaultTimeframe, 2)
	if err != nil {
		return fmt.Errorf("orchestrator: fetch klines for %s: %w", symbol, err)
	}
	for _, c := range candles {
		o.Candles.Update(symbol, c)
	}

	minRequired := 60
	if !o.Candles.HasEnough(symbol, minRequired) {
		return nil
	}

	signal := o.Selector.GetBestSignal(symbol, o.Candles)
	if signal == nil {
		return nil
	}

	if o.Confirm != nil && signal.Direction.IsEntry() {
		result, err := o.Confirm.Confirm(ctx, *signal)
		if err != nil {
			log.WithField("symbol", symbol).WithError(err).Warn("mtf confirmation failed; skipping signal")
			return nil
		}
		if !result.Passed {
			log.WithField("symbol", symbol).WithField("reason", result.Reason).Info("signal rejected by mtf confirmation")
			return nil
		}
	}

	equity := decimal.Zero
	if bal, err := o.rest.GetBalance(ctx); err == nil {
		equity = bal.TotalEquity
	}
	positions := o.Positions.GetAllPositions()

	decision := o.Risk.Evaluate(*signal, equity, positions, risk.SizingFixedFractional, risk.SizingParams{})

	o.Journal.LogSignal(o.clock.NowMs(), signal.Symbol, string(signal.Direction), signal.Confidence, signal.StrategyName,
		signal.EntryPrice, signal.StopLoss, signal.TakeProfit, decision.Approved, rejectionReason(decision))

	if !decision.Approved {
		return nil
	}

	side, reduceOnly := signalToOrderParams(signal.Direction)
	req := types.OrderRequest{
		Symbol: signal.Symbol, Side: side, OrderType: types.OrderTypeMarket,
		Quantity: decision.Quantity, ReduceOnly: reduceOnly,
	}

	var previousPosition types.Position
	if signal.Direction.IsClose() {
		previousPosition, _ = o.Positions.GetPosition(signal.Symbol)
	}

	inFlight, err := o.Orders.SubmitOrder(ctx, req, signal.StrategyName)
	if err != nil {
		return fmt.Errorf("orchestrator: submit order for %s: %w", symbol, err)
	}

	entryPrice := decimal.Zero
	if signal.EntryPrice != nil {
		entryPrice = *signal.EntryPrice
	}
	o.mu.Lock()
	o.orderSignals[inFlight.ClientOrderID] = orderSignalMeta{
		strategyName: signal.StrategyName, direction: signal.Direction, entryPrice: entryPrice, symbol: signal.Symbol,
	}
	o.mu.Unlock()

	o.Reconciler.SyncStrategyState(*signal)

	if signal.Direction.IsEntry() && (signal.StopLoss != nil || signal.TakeProfit != nil) {
		o.Reconciler.QueuePositionTradingStop(signal.Symbol, signal.StopLoss, signal.TakeProfit)
	}

	if signal.Direction.IsClose() {
		o.Reconciler.FinalizeCloseAfterSubmit(ctx, *signal, decision.Quantity, previousPosition)
	}

	o.Funding.Refresh(ctx, symbol)
	return nil
}

// timeframeToDuration parses a candle timeframe string ("1m", "15m", "4h",
// "1d") into its equivalent time.Duration, defaulting to 15 minutes for an
// unrecognized value rather than failing startup over a typo'd setting.
func timeframeToDuration(tf string) time.Duration {
	if len(tf) < 2 {
		return 15 * time.Minute
	}
	unit := tf[len(tf)-1]
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 15 * time.Minute
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	default:
		return 15 * time.Minute
	}
}

func rejectionReason(d types.RiskDecision) string {
	if d.Approved {
		return ""
	}
	return d.Reason
}

func signalToOrderParams(direction types.SignalDirection) (types.OrderSide, bool) {
	switch direction {
	case types.DirectionLong:
		return types.SideBuy, false
	case types.DirectionShort:
		return types.SideSell, false
	case types.DirectionCloseLong:
		return types.SideSell, true
	case types.DirectionCloseShort:
		return types.SideBuy, true
	default:
		return types.SideBuy, false
	}
}

// OnOrderResult ingests a venue order update (from wsfeed or a polling
// fallback): it updates the order manager's shadow state, journals the
// order row, and — for a newly filled opening order — fires a "position
// opened" alert. Closing fills are finalized by FinalizeCloseAfterSubmit at
// submit time rather than here, so this never double-books a closed trade.
func (o *Orchestrator) OnOrderResult(result types.OrderResult) {
	o.Orders.UpdateFromExchange(result)

	o.mu.Lock()
	meta, known := o.orderSignals[result.ClientOrderID]
	o.mu.Unlock()

	strategyName := ""
	if known {
		strategyName = meta.strategyName
	}

	o.Journal.LogOrder(o.clock.NowMs(), result.ClientOrderID, result.OrderID, result.Symbol, string(result.Side),
		string(result.OrderType), result.Quantity, result.Price, result.AvgFillPrice, result.FilledQty,
		string(result.Status), strategyName, result.Fee)

	if result.Status != types.OrderStatusFilled || !known || o.Telegram == nil {
		return
	}
	if !meta.direction.IsEntry() {
		return
	}
	avgFill := decimal.Zero
	if result.AvgFillPrice != nil {
		avgFill = *result.AvgFillPrice
	}
	o.Telegram.SendTradeOpened(result.Symbol, string(meta.direction), result.FilledQty, avgFill,
		decimal.Zero, decimal.Zero, strategyName)
}

// OnPositionUpdate ingests a venue position push, updating the position
// manager's cache directly (mirrors the original's _on_position_update).
func (o *Orchestrator) OnPositionUpdate(position types.Position) {
	o.Positions.UpdatePosition(position)
}

// OnBalanceUpdate ingests a venue balance push: it feeds the new equity
// mark into the drawdown monitor and, whenever UpdateEquity reports this
// mark at or past a hard limit, journals a risk event, pauses trading, and
// fires a critical alert.
func (o *Orchestrator) OnBalanceUpdate(balance types.AccountBalance) {
	allowed := o.Risk.UpdateEquity(balance.TotalEquity)
	if allowed {
		return
	}

	drawdownPct := o.Risk.DrawdownPct()
	o.Journal.LogRiskEvent(o.clock.NowMs(), "drawdown_halt", "max drawdown exceeded", balance.TotalEquity, drawdownPct)

	o.PauseTrading()
	log.WithField("drawdown_pct", drawdownPct.String()).Warn("trading_paused: drawdown_halt")

	if o.Notifier != nil {
		o.Notifier.FireAlert(notify.Alert{
			Severity: notify.SeverityCritical, Title: "Risk Halt",
			Message: notify.Formatter{}.FormatRiskAlert("Max drawdown exceeded - trading halted", drawdownPct, o.settings.Risk.MaxDrawdownPct),
			Source: "risk_manager",
		}, "")
	}
}

// periodicEquitySnapshot journals a point-in-time equity/drawdown snapshot,
// scheduled every 60 seconds (the original's _periodic_equity_snapshot).
func (o *Orchestrator) periodicEquitySnapshot() error {
	bal, err := o.rest.GetBalance(context.Background())
	if err != nil {
		return err
	}
	return o.Journal.LogEquitySnapshot(o.clock.NowMs(), bal.TotalEquity, bal.TotalAvailableBalance,
		bal.TotalUnrealizedPnL, o.Positions.OpenPositionCount(), o.Risk.PeakEquity(), o.Risk.DrawdownPct())
}
