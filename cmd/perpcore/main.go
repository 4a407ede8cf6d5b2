// Command perpcore runs the live-trading core: it loads configuration, wires
// the exchange adapter, builds the orchestrator and admin API, and runs
// until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashfall-systems/perpcore/internal/adminapi"
	"github.com/ashfall-systems/perpcore/internal/clock"
	"github.com/ashfall-systems/perpcore/internal/config"
	"github.com/ashfall-systems/perpcore/internal/exchange"
	"github.com/ashfall-systems/perpcore/internal/exchange/binance"
	"github.com/ashfall-systems/perpcore/internal/exchange/bybit"
	"github.com/ashfall-systems/perpcore/internal/exchange/hyperliquid"
	"github.com/ashfall-systems/perpcore/internal/logging"
	"github.com/ashfall-systems/perpcore/internal/orchestrator"
	"github.com/ashfall-systems/perpcore/internal/orchestrator/wsfeed"
	"github.com/ashfall-systems/perpcore/internal/types"
)

var log = logging.For("main")

func main() {
	if err := run(); err != nil {
		log.WithError(err).Fatal("perpcore exited with error")
	}
}

func run() error {
	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rest, err := buildExchange(settings)
	if err != nil {
		return fmt.Errorf("build exchange client: %w", err)
	}

	symbols := loadSymbols()
	c := clock.Real{}

	orch, err := orchestrator.New(orchestrator.Deps{
		Settings: settings, Rest: rest, Clock: c, Symbols: symbols,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	if botToken, chatID := os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID"); botToken != "" && chatID != "" {
		orch.EnableTelegram(botToken, chatID)
		log.Info("telegram notifications enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("shutdown signal received")
		orch.RequestShutdown()
	}()

	if wsURL := os.Getenv("PERPCORE_WS_URL"); wsURL != "" {
		if err := startWsFeed(ctx, wsURL, orch, symbols, settings, c); err != nil {
			log.WithError(err).Warn("wsfeed connect failed; relying on scheduler polling only")
		}
	} else {
		log.Info("PERPCORE_WS_URL not set; relying on scheduler polling only")
	}

	adminSrv := startAdminAPI(settings, orch, c)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = adminSrv.Shutdown(shutdownCtx)
	}()

	log.WithField("exchange", settings.ExchangeName).WithField("symbols", symbols).Info("starting perpcore")
	return orch.Run(ctx)
}

func buildExchange(settings config.AppSettings) (exchange.RestAPI, error) {
	switch strings.ToLower(settings.ExchangeName) {
	case "binance":
		return binance.New(settings.APIKey, settings.APISecret, settings.Testnet), nil
	case "bybit":
		return bybit.New(settings.APIKey, settings.APISecret, settings.Testnet), nil
	case "hyperliquid":
		return hyperliquid.New(settings.APIKey, settings.APISecret, settings.Testnet)
	default:
		return nil, fmt.Errorf("unknown exchange %q (want binance, bybit, or hyperliquid)", settings.ExchangeName)
	}
}

// loadSymbols reads PERPCORE_SYMBOLS as a comma-separated list, defaulting
// to a small liquid-majors universe.
func loadSymbols() []string {
	raw := os.Getenv("PERPCORE_SYMBOLS")
	if raw == "" {
		return []string{"BTCUSDT", "ETHUSDT"}
	}
	parts := strings.Split(raw, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			symbols = append(symbols, p)
		}
	}
	return symbols
}

// startWsFeed connects a push feed that drives order/position/balance
// updates directly into the orchestrator and, on a closed kline, triggers
// the same poll-and-analyze path the scheduler's fallback poll jobs use —
// giving the orchestrator low-latency reactions to fills and risk events
// without replacing the scheduler as the availability baseline.
func startWsFeed(ctx context.Context, url string, orch *orchestrator.Orchestrator, symbols []string, settings config.AppSettings, c clock.Clock) error {
	feed := wsfeed.New(url, wsfeed.Handlers{
		OnKline: func(candle types.Candle) {
			if !candle.IsClosed {
				return
			}
			if err := orch.PollAndAnalyze(ctx, candle.Symbol); err != nil {
				log.WithField("symbol", candle.Symbol).WithError(err).Warn("wsfeed-triggered analysis failed")
			}
		},
		OnOrder:    orch.OnOrderResult,
		OnPosition: orch.OnPositionUpdate,
		OnBalance:  orch.OnBalanceUpdate,
	}, c)

	if err := feed.Connect(ctx); err != nil {
		return err
	}
	if err := feed.SubscribeKlines(symbols, settings.Trading.DefaultTimeframe); err != nil {
		return err
	}
	if err := feed.SubscribeOrders(); err != nil {
		return err
	}
	if err := feed.SubscribePositions(); err != nil {
		return err
	}
	if err := feed.SubscribeBalance(); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = feed.Close()
	}()
	log.WithField("url", url).Info("wsfeed connected")
	return nil
}

func startAdminAPI(settings config.AppSettings, orch *orchestrator.Orchestrator, c clock.Clock) *http.Server {
	srv := adminapi.New(orch, orch.Notifier, settings.JWTSecret, settings.TOTPSecret, settings.AdminSecretHash, c)
	httpSrv := &http.Server{Addr: settings.AdminAddr, Handler: srv.Engine()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("admin api server stopped")
		}
	}()
	log.WithField("addr", settings.AdminAddr).Info("admin api listening")
	return httpSrv
}
