// Package config loads typed settings from environment variables (with a
// .env file bootstrap), matching the teacher's env-driven configuration
// idiom and original_source/config/settings.py's field set and defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// RiskSettings mirrors original_source/config/settings.py::RiskSettings.
type RiskSettings struct {
	MaxRiskPerTrade                 decimal.Decimal
	MaxPortfolioRisk                decimal.Decimal
	MaxDrawdownPct                  decimal.Decimal
	MaxDailyLossPct                 decimal.Decimal
	MaxLeverage                     decimal.Decimal
	MaxConcurrentPositions          int
	EnableCircuitBreaker            bool
	CircuitBreakerConsecutiveLosses int
	CircuitBreakerCooldownHours     int
	EnableDailyLossLimit            bool
	EnableSymbolCooldown            bool
	SymbolCooldownMinutes           int
	SoftStopThresholdPct            decimal.Decimal
	SoftStopMinConfidence           float64
	PortfolioHeatLimitPct           decimal.Decimal
	MaxSpreadBps                    decimal.Decimal
	MinLiquidityScore               float64
	FundingArbMaxAllocation         decimal.Decimal
	EnableDirectionalExposureLimit  bool
	MaxDirectionalExposurePct       decimal.Decimal
	EnableSideBalancer              bool
	MaxSideStreak                   int
	SideImbalancePct                decimal.Decimal
}

// DefaultRiskSettings returns the teacher-sourced defaults.
func DefaultRiskSettings() RiskSettings {
	return RiskSettings{
		MaxRiskPerTrade:                 dec("0.02"),
		MaxPortfolioRisk:                dec("0.10"),
		MaxDrawdownPct:                  dec("0.15"),
		MaxDailyLossPct:                 dec("0.05"),
		MaxLeverage:                     dec("3.0"),
		MaxConcurrentPositions:          10,
		EnableCircuitBreaker:            true,
		CircuitBreakerConsecutiveLosses: 3,
		CircuitBreakerCooldownHours:     4,
		EnableDailyLossLimit:            true,
		EnableSymbolCooldown:            true,
		SymbolCooldownMinutes:           180,
		SoftStopThresholdPct:            dec("0.80"),
		SoftStopMinConfidence:           0.75,
		PortfolioHeatLimitPct:           dec("0.08"),
		MaxSpreadBps:                    dec("15"),
		MinLiquidityScore:               0.30,
		FundingArbMaxAllocation:         dec("0.30"),
		EnableDirectionalExposureLimit:  true,
		MaxDirectionalExposurePct:       dec("0.60"),
		EnableSideBalancer:              true,
		MaxSideStreak:                  4,
		SideImbalancePct:               dec("0.30"),
	}
}

// TradingSettings mirrors original_source/config/settings.py::TradingSettings.
type TradingSettings struct {
	DefaultTimeframe  string
	PositionMode      string
	DefaultLeverage   int
	UsePostOnly       bool
	EnableMTFConfirm  bool
	MTFConfirmTF      string
	MTFConfirmADXMin  float64
	MTFConfirmMinBars int
}

// DefaultTradingSettings returns the teacher-sourced defaults.
func DefaultTradingSettings() TradingSettings {
	return TradingSettings{
		DefaultTimeframe: "15m", PositionMode: "one_way", DefaultLeverage: 1,
		UsePostOnly: true, EnableMTFConfirm: true, MTFConfirmTF: "1h",
		MTFConfirmADXMin: 20.0, MTFConfirmMinBars: 80,
	}
}

// RiskGuardSettings mirrors original_source/config/settings.py::RiskGuardsSettings
// (the exit-guard portion consumed by internal/reconcile).
type RiskGuardSettings struct {
	EnableMaxHoldExit         bool
	MaxHoldMinutes            int
	EnablePnLPctExit          bool
	TakeProfitPct             decimal.Decimal
	StopLossPct               decimal.Decimal
	EnablePnLUSDTExit         bool
	TakeProfitUSDT            decimal.Decimal
	StopLossUSDT              decimal.Decimal
	EnableTrailingStopExit    bool
	TrailingStopPct           decimal.Decimal
	TrailingStopMinPeakPct    decimal.Decimal
	CloseMissingConfirmations int
	CloseDedupTTLSec          int
	EnableExchangeCloseFallback bool
}

// DefaultRiskGuardSettings returns the teacher-sourced defaults.
func DefaultRiskGuardSettings() RiskGuardSettings {
	return RiskGuardSettings{
		EnableMaxHoldExit: true, MaxHoldMinutes: 90,
		EnablePnLPctExit: true, TakeProfitPct: dec("0.006"), StopLossPct: dec("0.004"),
		EnablePnLUSDTExit: false, TakeProfitUSDT: dec("0"), StopLossUSDT: dec("0"),
		EnableTrailingStopExit: true, TrailingStopPct: dec("0.35"), TrailingStopMinPeakPct: dec("0.01"),
		CloseMissingConfirmations: 2, CloseDedupTTLSec: 300, EnableExchangeCloseFallback: true,
	}
}

// TradingStopSettings mirrors original_source/config/settings.py::TradingStopSettings,
// governing the TP/SL trading-stop retry state machine.
type TradingStopSettings struct {
	RetryMaxAttempts  int
	RetryIntervalSec  float64
	ConfirmTimeoutSec int
}

// DefaultTradingStopSettings returns the teacher-sourced defaults.
func DefaultTradingStopSettings() TradingStopSettings {
	return TradingStopSettings{RetryMaxAttempts: 3, RetryIntervalSec: 1.0, ConfirmTimeoutSec: 30}
}

// AppSettings is the root configuration object, assembled from environment
// variables on top of the defaults above.
type AppSettings struct {
	Risk            RiskSettings
	RiskGuards      RiskGuardSettings
	TradingStop     TradingStopSettings
	Trading         TradingSettings
	LogLevel        string
	LogFormat       string
	DataDir         string
	Environment     string
	ExchangeName    string
	APIKey          string
	APISecret       string
	Testnet         bool
	JournalPath     string
	AdminAddr       string
	JWTSecret       string
	TOTPSecret      string
	AdminSecretHash string
}

// Load reads a .env file if present (silently ignoring its absence, as the
// teacher's bootstrap does) then overlays environment variables onto the
// defaults.
func Load() (AppSettings, error) {
	_ = godotenv.Load()

	s := AppSettings{
		Risk: DefaultRiskSettings(), RiskGuards: DefaultRiskGuardSettings(),
		TradingStop: DefaultTradingStopSettings(), Trading: DefaultTradingSettings(),
		LogLevel: "info", LogFormat: "json", DataDir: "./data", Environment: "development",
		ExchangeName: "bybit", Testnet: true, JournalPath: "./data/perpcore.db",
		AdminAddr: ":8090",
	}

	s.ExchangeName = envStr("PERPCORE_EXCHANGE", s.ExchangeName)
	s.APIKey = envStr("PERPCORE_API_KEY", s.APIKey)
	s.APISecret = envStr("PERPCORE_API_SECRET", s.APISecret)
	s.Testnet = envBool("PERPCORE_TESTNET", s.Testnet)
	s.LogLevel = envStr("LOG_LEVEL", s.LogLevel)
	s.LogFormat = envStr("LOG_FORMAT", s.LogFormat)
	s.DataDir = envStr("DATA_DIR", s.DataDir)
	s.Environment = envStr("ENVIRONMENT", s.Environment)
	s.JournalPath = envStr("JOURNAL_PATH", s.JournalPath)
	s.AdminAddr = envStr("ADMIN_ADDR", s.AdminAddr)
	s.JWTSecret = envStr("ADMIN_JWT_SECRET", s.JWTSecret)
	s.TOTPSecret = envStr("ADMIN_TOTP_SECRET", s.TOTPSecret)
	s.AdminSecretHash = envStr("ADMIN_SECRET_HASH", s.AdminSecretHash)

	s.Risk.MaxRiskPerTrade = envDec("RISK_MAX_RISK_PER_TRADE", s.Risk.MaxRiskPerTrade)
	s.Risk.MaxDrawdownPct = envDec("RISK_MAX_DRAWDOWN_PCT", s.Risk.MaxDrawdownPct)
	s.Risk.MaxLeverage = envDec("RISK_MAX_LEVERAGE", s.Risk.MaxLeverage)
	s.Risk.MaxConcurrentPositions = envInt("RISK_MAX_CONCURRENT_POSITIONS", s.Risk.MaxConcurrentPositions)
	s.Risk.CircuitBreakerConsecutiveLosses = envInt("RISK_CIRCUIT_BREAKER_CONSECUTIVE_LOSSES", s.Risk.CircuitBreakerConsecutiveLosses)
	s.Risk.CircuitBreakerCooldownHours = envInt("RISK_CIRCUIT_BREAKER_COOLDOWN_HOURS", s.Risk.CircuitBreakerCooldownHours)

	s.Trading.DefaultTimeframe = envStr("TRADING_DEFAULT_TIMEFRAME", s.Trading.DefaultTimeframe)
	s.Trading.MTFConfirmTF = envStr("TRADING_MTF_CONFIRM_TF", s.Trading.MTFConfirmTF)
	s.Trading.MTFConfirmMinBars = envInt("TRADING_MTF_CONFIRM_MIN_BARS", s.Trading.MTFConfirmMinBars)

	if s.ExchangeName == "" {
		return s, fmt.Errorf("config: PERPCORE_EXCHANGE must be set")
	}
	return s, nil
}

func envStr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func envDec(key string, fallback decimal.Decimal) decimal.Decimal {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return d
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
