package strategy

import (
	"github.com/ashfall-systems/perpcore/internal/candlebuffer"
	"github.com/ashfall-systems/perpcore/internal/indicators"
	"github.com/ashfall-systems/perpcore/internal/types"
)

// FundingHistoryProvider supplies a symbol's funding-rate sample history,
// oldest first, as a plain fraction series (0.0001 == 1bp).
type FundingHistoryProvider interface {
	History(symbol string) []float64
}

// FundingRateArb harvests funding-rate mean reversion: it enters against an
// extreme, z-scored funding rate to collect the opposing funding payment,
// and exits once the z-score decays back toward zero.
type FundingRateArb struct {
	base
	funding              FundingHistoryProvider
	threshold, extreme   float64
	zscoreWindow         int
	zscoreEntry, zscoreExit float64
	minConfidence        float64
}

// NewFundingRateArb builds a FundingRateArb strategy reading history from
// the given provider (normally the funding feeder).
func NewFundingRateArb(symbols []string, funding FundingHistoryProvider) *FundingRateArb {
	return &FundingRateArb{
		base: newBase("funding_rate_arb", symbols), funding: funding,
		threshold: 0.0003, extreme: 0.001, zscoreWindow: 30,
		zscoreEntry: 2.0, zscoreExit: 0.5, minConfidence: 0.5,
	}
}

func (s *FundingRateArb) MinCandlesRequired() int { return s.zscoreWindow + 5 }

func (s *FundingRateArb) GenerateSignal(symbol string, buf *candlebuffer.Buffer) *types.Signal {
	funding := s.funding.History(symbol)
	if len(funding) < s.MinCandlesRequired() {
		return nil
	}
	closes := buf.Closes(symbol)
	if len(closes) == 0 {
		return nil
	}

	currFunding := lastOf(funding)
	price := lastOf(closes)
	currZ := lastOf(indicators.ZScore(funding, s.zscoreWindow))
	state := s.GetState(symbol)

	if state == StateLong && abs(currZ) < s.zscoreExit {
		return closeSignal(symbol, s.name, types.DirectionCloseLong, 0.7)
	}
	if state == StateShort && abs(currZ) < s.zscoreExit {
		return closeSignal(symbol, s.name, types.DirectionCloseShort, 0.7)
	}

	if abs(currZ) < s.zscoreEntry {
		return nil
	}

	confidence := s.confidence(currFunding, currZ)
	if confidence < s.minConfidence {
		return nil
	}

	if currFunding > s.threshold {
		meta := map[string]float64{"funding_rate": currFunding, "zscore": currZ, "annualized_yield": currFunding * 3 * 365}
		return entrySignalNoTP(symbol, s.name, types.DirectionShort, confidence, price, meta)
	}
	if currFunding < -s.threshold {
		meta := map[string]float64{"funding_rate": currFunding, "zscore": currZ, "annualized_yield": abs(currFunding) * 3 * 365}
		return entrySignalNoTP(symbol, s.name, types.DirectionLong, confidence, price, meta)
	}
	return nil
}

func (s *FundingRateArb) confidence(funding, zscore float64) float64 {
	zscoreConf := clampMax(abs(zscore)/4.0, 1.0)
	fundingConf := clampMax(abs(funding)/s.extreme, 1.0)
	return 0.5*zscoreConf + 0.5*fundingConf
}
