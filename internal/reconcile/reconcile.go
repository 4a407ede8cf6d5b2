// Package reconcile keeps the order and position managers' local view
// aligned with the venue's confirmed state. It detects positions the venue
// closed out from under the core (liquidation, manual intervention) and
// dedupes the resulting synthetic close event, enforces the account-level
// exit guards (max hold time, PnL threshold, trailing stop), drives the
// TP/SL trading-stop retry state machine, and finalizes the bookkeeping
// (risk manager, strategy selector, journal, alerts, metrics) for every
// trade the core closes.
package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ashfall-systems/perpcore/internal/clock"
	"github.com/ashfall-systems/perpcore/internal/config"
	"github.com/ashfall-systems/perpcore/internal/exchange"
	"github.com/ashfall-systems/perpcore/internal/journal"
	"github.com/ashfall-systems/perpcore/internal/logging"
	"github.com/ashfall-systems/perpcore/internal/notify"
	"github.com/ashfall-systems/perpcore/internal/obsmetrics"
	"github.com/ashfall-systems/perpcore/internal/ordermanager"
	"github.com/ashfall-systems/perpcore/internal/positionmanager"
	"github.com/ashfall-systems/perpcore/internal/risk"
	"github.com/ashfall-systems/perpcore/internal/strategy"
	"github.com/ashfall-systems/perpcore/internal/types"
)

var log = logging.For("reconcile")

// pendingStop is one symbol's in-flight venue-side TP/SL confirmation.
type pendingStop struct {
	stopLoss      *decimal.Decimal
	takeProfit    *decimal.Decimal
	attempts      int
	firstQueuedMs int64
	nextRetryMs   int64
	lastError     string
	alertedFailed bool
}

// Reconciler owns position/order venue-truth sync, the account-level exit
// guards, the TP/SL retry state machine, and per-trade bookkeeping.
// Journal, Notifier, and Selector are optional: a nil value just skips that
// side effect.
type Reconciler struct {
	positions *positionmanager.Manager
	orders    *ordermanager.Manager
	riskMgr   *risk.Manager
	clock     clock.Clock
	guards    config.RiskGuardSettings
	tstop     config.TradingStopSettings

	Journal  *journal.Writer
	Notifier *notify.Manager
	Selector *strategy.Selector

	mu                   sync.Mutex
	firstSeenMs          map[string]int64
	peakPnL              map[string]decimal.Decimal
	missingCounts        map[string]int
	recentExternalCloses map[string]int64
	lastSnapshot         map[string]types.Position
	pendingStops         map[string]*pendingStop
	stopStatus           map[string]string
}

// New builds a Reconciler over positions/orders/riskMgr, using c for every
// time-dependent decision so tests can drive retries and dedup windows
// deterministically.
func New(positions *positionmanager.Manager, orders *ordermanager.Manager, riskMgr *risk.Manager, c clock.Clock, guards config.RiskGuardSettings, tstop config.TradingStopSettings) *Reconciler {
	return &Reconciler{
		positions: positions, orders: orders, riskMgr: riskMgr, clock: c, guards: guards, tstop: tstop,
		firstSeenMs: make(map[string]int64), peakPnL: make(map[string]decimal.Decimal),
		missingCounts: make(map[string]int), recentExternalCloses: make(map[string]int64),
		lastSnapshot: make(map[string]types.Position), pendingStops: make(map[string]*pendingStop),
		stopStatus: make(map[string]string),
	}
}

// SyncAndReconcile resyncs the position cache for symbol (every symbol if
// symbol is "") and reconciles the result against the previous snapshot,
// detecting externally-closed positions. allowExchangeFallback should only
// be set on a full sync: a partial sync has no basis for declaring a
// symbol the caller didn't ask about externally closed.
func (r *Reconciler) SyncAndReconcile(ctx context.Context, symbol string, allowExchangeFallback bool) error {
	if _, err := r.positions.SyncPositions(ctx, symbol); err != nil {
		return fmt.Errorf("reconcile: sync positions: %w", err)
	}
	var observed map[string]bool
	if symbol != "" {
		observed = map[string]bool{symbol: true}
	}
	r.onPositionsRefreshed(observed, allowExchangeFallback)
	return nil
}

func (r *Reconciler) onPositionsRefreshed(observedSymbols map[string]bool, allowExchangeFallback bool) {
	r.pruneRecentExternalCloses()

	current := make(map[string]types.Position)
	for _, p := range r.positions.GetAllPositions() {
		if p.Size.GreaterThan(decimal.Zero) {
			current[p.Symbol] = p
		}
	}

	r.mu.Lock()
	previouslyOpen := r.lastSnapshot
	nextSnapshot := make(map[string]types.Position, len(current))
	for k, v := range current {
		nextSnapshot[k] = v
	}

	var closedSymbols []string
	for sym := range previouslyOpen {
		if _, stillOpen := current[sym]; !stillOpen {
			closedSymbols = append(closedSymbols, sym)
		}
	}

	for _, sym := range closedSymbols {
		prevPos := previouslyOpen[sym]
		if observedSymbols != nil && !observedSymbols[sym] {
			nextSnapshot[sym] = prevPos
			continue
		}
		if !allowExchangeFallback {
			r.clearSymbolStateLocked(sym)
			continue
		}

		misses := r.missingCounts[sym] + 1
		r.missingCounts[sym] = misses
		confirmations := r.guards.CloseMissingConfirmations
		if confirmations < 1 {
			confirmations = 1
		}
		if misses < confirmations {
			nextSnapshot[sym] = prevPos
			continue
		}

		dedupKey := r.externalCloseKeyLocked(prevPos)
		nowMs := r.clock.NowMs()
		lastSent := r.recentExternalCloses[dedupKey]
		ttlMs := int64(r.guards.CloseDedupTTLSec) * 1000
		if nowMs-lastSent < ttlMs {
			r.clearSymbolStateLocked(sym)
			continue
		}
		r.recentExternalCloses[dedupKey] = nowMs
		r.mu.Unlock()

		log.WithField("symbol", sym).Info("close_event_source: exchange_fallback")
		signal := BuildExchangeCloseSignal(prevPos)
		r.AccountClosedTrade(signal, prevPos.Size, prevPos.Size, prevPos.EntryPrice, prevPos.MarkPrice, prevPos.UnrealizedPnL)

		r.mu.Lock()
		r.clearSymbolStateLocked(sym)
	}

	nowMs := r.clock.NowMs()
	for sym, pos := range current {
		delete(r.missingCounts, sym)
		if _, ok := r.firstSeenMs[sym]; !ok {
			r.firstSeenMs[sym] = nowMs
		}
		peak := pos.UnrealizedPnL
		if prior, ok := r.peakPnL[sym]; ok && prior.GreaterThan(peak) {
			peak = prior
		}
		r.peakPnL[sym] = peak
	}
	r.lastSnapshot = nextSnapshot
	r.mu.Unlock()
}

func (r *Reconciler) clearSymbolStateLocked(symbol string) {
	delete(r.firstSeenMs, symbol)
	delete(r.peakPnL, symbol)
	delete(r.pendingStops, symbol)
	delete(r.stopStatus, symbol)
	delete(r.missingCounts, symbol)
}

// BuildExchangeCloseSignal synthesizes a close signal for a position the
// venue reports gone, attributed to strategy "exchange_close" so the
// journal and metrics can tell it apart from a core-initiated exit.
func BuildExchangeCloseSignal(position types.Position) types.Signal {
	direction := types.DirectionCloseLong
	if position.Side == types.PositionShort {
		direction = types.DirectionCloseShort
	}
	entry := position.MarkPrice
	if entry.IsZero() {
		entry = position.EntryPrice
	}
	return types.Signal{
		Symbol: position.Symbol, Direction: direction, Confidence: 1.0,
		StrategyName: "exchange_close", EntryPrice: &entry,
	}
}

func (r *Reconciler) externalCloseKeyLocked(position types.Position) string {
	ttlBucket := r.guards.CloseDedupTTLSec
	if ttlBucket < 1 {
		ttlBucket = 1
	}
	bucket := r.clock.NowMs() / (int64(ttlBucket) * 1000)
	return fmt.Sprintf("%s|%s|%s|%s|%d", position.Symbol, position.Side, position.EntryPrice.StringFixed(4), position.Size.StringFixed(6), bucket)
}

func (r *Reconciler) pruneRecentExternalCloses() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.recentExternalCloses) == 0 {
		return
	}
	ttlMs := int64(r.guards.CloseDedupTTLSec)
	if ttlMs < 1 {
		ttlMs = 1
	}
	ttlMs *= 1000
	nowMs := r.clock.NowMs()
	for key, ts := range r.recentExternalCloses {
		if nowMs-ts > ttlMs {
			delete(r.recentExternalCloses, key)
		}
	}
}

// positionExitReason evaluates the three account-level exit guards against
// position at the given equity mark, in priority order: max hold time,
// PnL threshold (percent-of-equity or fixed-USDT, mutually exclusive), then
// trailing stop. Returns "" if none has fired.
func (r *Reconciler) positionExitReason(position types.Position, equity decimal.Decimal) string {
	nowMs := r.clock.NowMs()

	r.mu.Lock()
	if _, ok := r.firstSeenMs[position.Symbol]; !ok {
		r.firstSeenMs[position.Symbol] = nowMs
	}
	firstSeen := r.firstSeenMs[position.Symbol]
	peak := position.UnrealizedPnL
	if prior, ok := r.peakPnL[position.Symbol]; ok && prior.GreaterThan(peak) {
		peak = prior
	}
	r.peakPnL[position.Symbol] = peak
	r.mu.Unlock()

	if r.guards.EnableMaxHoldExit && r.guards.MaxHoldMinutes > 0 {
		heldMs := nowMs - firstSeen
		maxMs := int64(r.guards.MaxHoldMinutes) * 60_000
		if heldMs >= maxMs {
			return fmt.Sprintf("max_hold_exceeded: %dm >= %dm", heldMs/60_000, r.guards.MaxHoldMinutes)
		}
	}

	pnl := position.UnrealizedPnL
	switch {
	case r.guards.EnablePnLPctExit && equity.GreaterThan(decimal.Zero):
		stopLossUSDT := equity.Mul(r.guards.StopLossPct)
		takeProfitUSDT := equity.Mul(r.guards.TakeProfitPct)
		if stopLossUSDT.GreaterThan(decimal.Zero) && pnl.LessThanOrEqual(stopLossUSDT.Neg()) {
			return fmt.Sprintf("stop_loss_pct_hit: %s <= -%s (%s%% equity)", pnl.StringFixed(2), stopLossUSDT.StringFixed(2), r.guards.StopLossPct.Mul(decimal.NewFromInt(100)).StringFixed(2))
		}
		if takeProfitUSDT.GreaterThan(decimal.Zero) && pnl.GreaterThanOrEqual(takeProfitUSDT) {
			return fmt.Sprintf("take_profit_pct_hit: %s >= %s (%s%% equity)", pnl.StringFixed(2), takeProfitUSDT.StringFixed(2), r.guards.TakeProfitPct.Mul(decimal.NewFromInt(100)).StringFixed(2))
		}
	case r.guards.EnablePnLUSDTExit:
		if r.guards.StopLossUSDT.GreaterThan(decimal.Zero) && pnl.LessThanOrEqual(r.guards.StopLossUSDT.Neg()) {
			return fmt.Sprintf("stop_loss_usdt_hit: %s <= -%s", pnl.StringFixed(2), r.guards.StopLossUSDT.StringFixed(2))
		}
		if r.guards.TakeProfitUSDT.GreaterThan(decimal.Zero) && pnl.GreaterThanOrEqual(r.guards.TakeProfitUSDT) {
			return fmt.Sprintf("take_profit_usdt_hit: %s >= %s", pnl.StringFixed(2), r.guards.TakeProfitUSDT.StringFixed(2))
		}
	}

	if r.guards.EnableTrailingStopExit && r.guards.TrailingStopPct.GreaterThan(decimal.Zero) && peak.GreaterThan(decimal.Zero) {
		minPeakUSDT := decimal.Zero
		if equity.GreaterThan(decimal.Zero) {
			minPeakUSDT = equity.Mul(r.guards.TrailingStopMinPeakPct)
		}
		if peak.GreaterThanOrEqual(minPeakUSDT) {
			retrace := peak.Sub(pnl)
			threshold := peak.Mul(r.guards.TrailingStopPct)
			if retrace.GreaterThanOrEqual(threshold) {
				return fmt.Sprintf("trailing_stop_hit: retrace %s >= %s (peak %s, pct %s%%)",
					retrace.StringFixed(2), threshold.StringFixed(2), peak.StringFixed(2), r.guards.TrailingStopPct.Mul(decimal.NewFromInt(100)).StringFixed(2))
			}
		}
	}

	return ""
}

// EnforcePositionExitGuards checks position against the account-level exit
// guards at equity and, if one has fired, submits a reduce-only market
// close and finalizes the trade. Returns true if a guard forced a close.
func (r *Reconciler) EnforcePositionExitGuards(ctx context.Context, position types.Position, equity decimal.Decimal) bool {
	reason := r.positionExitReason(position, equity)
	if reason == "" {
		return false
	}

	closeDirection := types.DirectionCloseLong
	closeSide := types.SideSell
	if position.Side == types.PositionShort {
		closeDirection = types.DirectionCloseShort
		closeSide = types.SideBuy
	}
	entry := position.MarkPrice
	if entry.IsZero() {
		entry = position.EntryPrice
	}
	signal := types.Signal{
		Symbol: position.Symbol, Direction: closeDirection, Confidence: 1.0,
		StrategyName: "risk_exit_guard", EntryPrice: &entry,
	}
	req := types.OrderRequest{
		Symbol: position.Symbol, Side: closeSide, OrderType: types.OrderTypeMarket,
		Quantity: position.Size, PositionIdx: position.PositionIdx, ReduceOnly: true,
	}

	if _, err := r.orders.SubmitOrder(ctx, req, signal.StrategyName); err != nil {
		log.WithField("symbol", position.Symbol).WithField("reason", reason).WithError(err).Error("forced close failed")
		r.fireAlert(notify.SeverityError, "Forced Close Failed", fmt.Sprintf("symbol=%s reason=%s error=%v", position.Symbol, reason, err), "reconcile")
		return false
	}

	log.WithField("symbol", position.Symbol).WithField("reason", reason).Info("forced close submitted")
	r.fireAlert(notify.SeverityWarning, "Forced Close", fmt.Sprintf("symbol=%s reason=%s pnl=%s", position.Symbol, reason, position.UnrealizedPnL.StringFixed(4)), "reconcile")
	r.FinalizeCloseAfterSubmit(ctx, signal, position.Size, position)
	return true
}

func (r *Reconciler) fireAlert(sev notify.Severity, title, message, source string) {
	if r.Notifier == nil {
		return
	}
	r.Notifier.FireAlert(notify.Alert{Severity: sev, Title: title, Message: message, Source: source}, "")
}

// FinalizeCloseAfterSubmit polls the venue up to three times for the
// position size to reflect the just-submitted close, then books the trade
// for however much actually closed. A close submit that never shows up as
// a size decrease is logged and left unbooked rather than guessed at.
func (r *Reconciler) FinalizeCloseAfterSubmit(ctx context.Context, signal types.Signal, expectedCloseQty decimal.Decimal, previousPosition types.Position) {
	prevSize := previousPosition.Size
	var updated types.Position
	var stillOpen bool
	for attempt := 0; attempt < 3; attempt++ {
		if err := r.SyncAndReconcile(ctx, signal.Symbol, false); err != nil {
			log.WithField("symbol", signal.Symbol).WithError(err).Warn("resync during close finalize failed")
		}
		updated, stillOpen = r.positions.GetPosition(signal.Symbol)
		newSize := decimal.Zero
		if stillOpen {
			newSize = updated.Size
		}
		if newSize.LessThan(prevSize) {
			break
		}
		r.clock.Sleep(400_000_000) // 400ms, matching the venue's typical position-refresh lag
	}

	newSize := decimal.Zero
	if stillOpen {
		newSize = updated.Size
	}
	if newSize.GreaterThanOrEqual(prevSize) {
		log.WithField("symbol", signal.Symbol).WithField("prev_size", prevSize.String()).WithField("new_size", newSize.String()).Warn("close submitted without observed position change")
		return
	}

	closedQty := prevSize.Sub(newSize)
	if expectedCloseQty.LessThan(closedQty) {
		closedQty = expectedCloseQty
	}
	markPrice := previousPosition.MarkPrice
	if stillOpen {
		markPrice = updated.MarkPrice
	}
	r.AccountClosedTrade(signal, closedQty, prevSize, previousPosition.EntryPrice, markPrice, previousPosition.UnrealizedPnL)

	log.WithField("symbol", signal.Symbol).Info("close_event_source: size_delta")
	r.mu.Lock()
	delete(r.missingCounts, signal.Symbol)
	r.mu.Unlock()
}

// AccountClosedTrade books a closed (or partially closed) position's
// realized P&L into the risk manager's streak tracking, the strategy
// selector's performance tracking, the journal, an alert, and metrics.
// closeQty is clamped to positionSize; a non-positive clamped quantity is a
// no-op.
func (r *Reconciler) AccountClosedTrade(signal types.Signal, closeQty, positionSize, entryPrice, markPrice, unrealizedPnL decimal.Decimal) {
	if positionSize.LessThanOrEqual(decimal.Zero) {
		return
	}
	closedQty := closeQty
	if closedQty.GreaterThan(positionSize) {
		closedQty = positionSize
	}
	if closedQty.LessThanOrEqual(decimal.Zero) {
		return
	}

	fraction := closedQty.Div(positionSize)
	realizedPnL := unrealizedPnL.Mul(fraction)
	exitPrice := markPrice
	if signal.EntryPrice != nil {
		exitPrice = *signal.EntryPrice
	}
	notional := entryPrice.Mul(closedQty)
	pnlPct := decimal.Zero
	if notional.GreaterThan(decimal.Zero) {
		pnlPct = realizedPnL.Div(notional)
	}
	isWin := realizedPnL.GreaterThan(decimal.Zero)

	side := "long"
	if signal.Direction == types.DirectionCloseShort {
		side = "short"
	}

	if r.riskMgr != nil {
		r.riskMgr.RecordTradeResult(isWin, signal.Symbol)
	}
	if r.Selector != nil {
		r.Selector.RecordTrade(signal.StrategyName, isWin)
	}

	realizedF, _ := realizedPnL.Float64()
	obsmetrics.RecordTrade(signal.Symbol, isWin, realizedF)

	if r.Journal != nil {
		if err := r.Journal.LogTrade(r.clock.NowMs(), signal.Symbol, side, entryPrice, exitPrice, closedQty, realizedPnL, pnlPct, signal.StrategyName, 0); err != nil {
			log.WithField("symbol", signal.Symbol).WithError(err).Error("journal log_trade failed")
		}
	}

	sev := notify.SeverityInfo
	if !isWin {
		sev = notify.SeverityWarning
	}
	r.fireAlert(sev, "Trade Closed", fmt.Sprintf("symbol=%s side=%s pnl=%s pnl_pct=%s%% strategy=%s",
		signal.Symbol, side, realizedPnL.StringFixed(4), pnlPct.Mul(decimal.NewFromInt(100)).StringFixed(2), signal.StrategyName), "reconcile")

	log.WithFields(map[string]interface{}{
		"symbol": signal.Symbol, "side": side, "realized_pnl": realizedPnL.String(), "strategy": signal.StrategyName,
	}).Info("trade closed")
}

// RecordExecutionQuality updates fee/slippage/missed-fill metrics for an
// order's fill against the signal's reference entry price.
func RecordExecutionQuality(signal types.Signal, filledQty decimal.Decimal, avgFillPrice *decimal.Decimal, fee decimal.Decimal) {
	feeF, _ := fee.Float64()
	hadRef := false
	slippageBps, slippageCost := 0.0, 0.0
	if avgFillPrice != nil && signal.EntryPrice != nil && signal.EntryPrice.GreaterThan(decimal.Zero) {
		hadRef = true
		diff := avgFillPrice.Sub(*signal.EntryPrice).Abs()
		slippageBps, _ = diff.Div(*signal.EntryPrice).Mul(decimal.NewFromInt(10000)).Float64()
		cost := diff.Mul(filledQty)
		slippageCost, _ = cost.Float64()
	}
	filledF, _ := filledQty.Float64()
	obsmetrics.RecordExecutionQuality(feeF, filledF, slippageBps, slippageCost, hadRef)
}

// HandleReduceOnlyZeroPosition handles the race where a reduce-only order
// is rejected as invalid (venue code 110017-class) because the position the
// core's cache still shows had already closed on the venue. It resyncs and,
// if the position is in fact gone, syncs strategy state to idle; if the
// venue still reports it open, this is a genuine rejection worth alerting.
func (r *Reconciler) HandleReduceOnlyZeroPosition(ctx context.Context, signal types.Signal) error {
	if err := r.SyncAndReconcile(ctx, signal.Symbol, false); err != nil {
		return err
	}
	current, ok := r.positions.GetPosition(signal.Symbol)
	if !ok || current.Size.LessThanOrEqual(decimal.Zero) {
		r.SyncStrategyState(signal)
		log.WithField("symbol", signal.Symbol).Warn("reduce_only_no_position_after_resync")
		r.fireAlert(notify.SeverityInfo, "Close Sync", fmt.Sprintf("symbol=%s position already gone on venue, state synced", signal.Symbol), "reconcile")
		return nil
	}

	log.WithField("symbol", signal.Symbol).WithField("size", current.Size.String()).WithField("position_idx", current.PositionIdx).Error("reduce_only_failed_position_exists")
	r.fireAlert(notify.SeverityError, "Order Failed", fmt.Sprintf("symbol=%s reduce-only rejected, position still open (size=%s, positionIdx=%d)", signal.Symbol, current.Size.String(), current.PositionIdx), "reconcile")
	return nil
}

// IsReduceOnlyRejection reports whether err is the venue's reject for a
// reduce-only order against a position it no longer considers open.
func IsReduceOnlyRejection(err error) bool {
	exErr, ok := exchange.AsExchangeError(err)
	return ok && exErr.Type == exchange.ErrInvalidOrder
}

// SyncStrategyState updates the signal's strategy's per-symbol state
// following a confirmed entry or close, a no-op if no selector is attached
// or the named strategy isn't registered.
func (r *Reconciler) SyncStrategyState(signal types.Signal) {
	if r.Selector == nil {
		return
	}
	s, ok := r.Selector.Strategies()[signal.StrategyName]
	if !ok {
		return
	}
	switch signal.Direction {
	case types.DirectionLong:
		s.SetState(signal.Symbol, strategy.StateLong)
	case types.DirectionShort:
		s.SetState(signal.Symbol, strategy.StateShort)
	case types.DirectionCloseLong, types.DirectionCloseShort:
		s.SetState(signal.Symbol, strategy.StateIdle)
	}
}

// RestoreStrategyStatesFromPositions seeds every registered strategy's
// per-symbol state from the position manager's cache, used once at startup
// before the core has processed any signals of its own.
func (r *Reconciler) RestoreStrategyStatesFromPositions() {
	if r.Selector == nil {
		return
	}
	for _, s := range r.Selector.Strategies() {
		for _, symbol := range s.Symbols() {
			position, ok := r.positions.GetPosition(symbol)
			if !ok || position.Size.LessThanOrEqual(decimal.Zero) {
				s.SetState(symbol, strategy.StateIdle)
				continue
			}
			switch position.Side {
			case types.PositionLong:
				s.SetState(symbol, strategy.StateLong)
			case types.PositionShort:
				s.SetState(symbol, strategy.StateShort)
			default:
				s.SetState(symbol, strategy.StateIdle)
			}
		}
	}
}

// ReconcileRecoveredPositions runs analyze for every position already open
// on the venue at startup, letting the caller rebuild per-symbol state (the
// orchestrator reseeds candles) for positions it didn't itself just open.
func (r *Reconciler) ReconcileRecoveredPositions(ctx context.Context, analyze func(ctx context.Context, symbol string) error) error {
	recovered := r.positions.GetAllPositions()
	if len(recovered) == 0 {
		return nil
	}
	log.WithField("count", len(recovered)).Info("reconcile_recovered_positions_start")
	for _, p := range recovered {
		if err := analyze(ctx, p.Symbol); err != nil {
			log.WithField("symbol", p.Symbol).WithError(err).Warn("reconcile recovered position analyze failed")
		}
	}
	log.Info("reconcile_recovered_positions_done")
	return nil
}

// QueuePositionTradingStop queues symbol's desired venue-side stop-loss and
// take-profit for confirmation. A nil stopLoss and nil takeProfit is a
// no-op, matching the original's decision not to queue an empty request.
func (r *Reconciler) QueuePositionTradingStop(symbol string, stopLoss, takeProfit *decimal.Decimal) {
	if stopLoss == nil && takeProfit == nil {
		return
	}
	nowMs := r.clock.NowMs()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingStops[symbol] = &pendingStop{
		stopLoss: stopLoss, takeProfit: takeProfit,
		firstQueuedMs: nowMs, nextRetryMs: nowMs,
	}
	r.stopStatus[symbol] = "pending"
}

// EnsurePositionTradingStop advances symbol's trading-stop retry state
// machine by one step: if the venue already reflects the desired stop it
// confirms and clears the pending entry; otherwise it retries the
// SetTradingStop call (subject to its retry interval) until retryMaxAttempts
// or confirmTimeoutSec is reached, after which it alerts once and backs off
// to retrying no more than once per timeout window. Returns true once the
// stop is confirmed (or there was nothing pending).
func (r *Reconciler) EnsurePositionTradingStop(ctx context.Context, rest exchange.RestAPI, symbol string) bool {
	r.mu.Lock()
	desired, ok := r.pendingStops[symbol]
	if !ok {
		r.mu.Unlock()
		return true
	}
	nowMs := r.clock.NowMs()
	if nowMs < desired.nextRetryMs {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	if err := r.SyncAndReconcile(ctx, symbol, false); err != nil {
		log.WithField("symbol", symbol).WithError(err).Warn("trading stop resync failed")
	}
	position, hasPosition := r.positions.GetPosition(symbol)

	if hasPosition && position.Size.GreaterThan(decimal.Zero) && positionHasExpectedStops(position, desired.stopLoss, desired.takeProfit) {
		r.mu.Lock()
		delete(r.pendingStops, symbol)
		r.stopStatus[symbol] = "confirmed"
		r.mu.Unlock()
		return true
	}

	errText := ""
	if hasPosition && position.Size.GreaterThan(decimal.Zero) {
		if err := rest.SetTradingStop(ctx, symbol, desired.stopLoss, desired.takeProfit, position.PositionIdx); err != nil {
			errText = err.Error()
			log.WithField("symbol", symbol).WithField("position_idx", position.PositionIdx).WithError(err).Warn("set_position_trading_stop_failed")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	desired.attempts++
	desired.lastError = errText

	timeoutMs := int64(r.tstop.ConfirmTimeoutSec) * 1000
	timedOut := nowMs-desired.firstQueuedMs >= timeoutMs
	failed := desired.attempts >= r.tstop.RetryMaxAttempts || timedOut
	if failed {
		r.stopStatus[symbol] = "failed"
		desired.nextRetryMs = nowMs + timeoutMs
		if !desired.alertedFailed {
			log.WithField("symbol", symbol).WithField("error", errText).Warn("set_position_trading_stop_unconfirmed")
			r.fireAlert(notify.SeverityWarning, "TP/SL Unconfirmed", fmt.Sprintf("symbol=%s sl=%s tp=%s error=%s", symbol, decStr(desired.stopLoss), decStr(desired.takeProfit), errText), "reconcile")
			desired.alertedFailed = true
		}
		return false
	}

	r.stopStatus[symbol] = "pending"
	retryIntervalMs := int64(r.tstop.RetryIntervalSec * 1000)
	if retryIntervalMs < 200 {
		retryIntervalMs = 200
	}
	desired.nextRetryMs = nowMs + retryIntervalMs
	return false
}

// ProcessPendingTradingStops advances every symbol with an outstanding
// trading-stop confirmation by one retry-machine step.
func (r *Reconciler) ProcessPendingTradingStops(ctx context.Context, rest exchange.RestAPI) {
	r.mu.Lock()
	symbols := make([]string, 0, len(r.pendingStops))
	for sym := range r.pendingStops {
		symbols = append(symbols, sym)
	}
	r.mu.Unlock()
	for _, sym := range symbols {
		r.EnsurePositionTradingStop(ctx, rest, sym)
	}
}

// TradingStopStatus returns symbol's last-known trading-stop confirmation
// status ("pending", "confirmed", "failed"), or "" if nothing was ever
// queued for it.
func (r *Reconciler) TradingStopStatus(symbol string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopStatus[symbol]
}

func positionHasExpectedStops(position types.Position, stopLoss, takeProfit *decimal.Decimal) bool {
	return priceMatches(position.StopLoss, stopLoss) && priceMatches(position.TakeProfit, takeProfit)
}

// priceMatches reports whether actual is within 0.1% (floor 0.0001) of
// expected. A nil expected value always matches: the caller didn't ask for
// that side of the stop to be set.
func priceMatches(actual, expected *decimal.Decimal) bool {
	if expected == nil {
		return true
	}
	if actual == nil {
		return false
	}
	tolerance := decimal.NewFromFloat(0.0001)
	pctTolerance := expected.Abs().Mul(decimal.NewFromFloat(0.001))
	if pctTolerance.GreaterThan(tolerance) {
		tolerance = pctTolerance
	}
	return actual.Sub(*expected).Abs().LessThanOrEqual(tolerance)
}

func decStr(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}
