package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dca_trader/internal/alert"
	"dca_trader/internal/config"
	"dca_trader/internal/core"
	"dca_trader/internal/exchange"
	"dca_trader/internal/marketdata"
	"dca_trader/internal/risk"
	"dca_trader/internal/strategy"
	"dca_trader/internal/trading"
	"dca_trader/internal/trading/order"
	"dca_trader/internal/trading/orchestrator"
	"dca_trader/internal/trading/position"
	"dca_trader/pkg/logging"
	"dca_trader/pkg/telemetry"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

var configFile = flag.String("config", "config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Optional .env for local credentials
	_ = godotenv.Load()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting DCA trader",
		"exchange", cfg.App.Exchange,
		"dry_run", cfg.App.DryRun,
		"symbols", cfg.Trading.Symbols,
		"config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Trader exited with error", "error", err)
	}
	logger.Info("Trader shut down cleanly")
}

func run(ctx context.Context, cfg *config.Config, logger core.ILogger) error {
	notifier := alert.NewManager(logger)
	if cfg.Alerts.TelegramBotToken != "" {
		notifier.AddChannel(alert.NewTelegramChannel(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID))
	}
	if cfg.Alerts.SlackWebhookURL != "" {
		notifier.AddChannel(alert.NewSlackChannel(cfg.Alerts.SlackWebhookURL))
	}
	defer notifier.Stop()

	exch, err := exchange.NewExchange(cfg, logger)
	if err != nil {
		return err
	}

	var metricsServer *telemetry.Server
	if cfg.Telemetry.EnableMetrics {
		metricsServer = telemetry.NewServer(cfg.Telemetry.MetricsPort, logger)
		metricsServer.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Stop(shutdownCtx)
		}()
	}

	feed, err := buildFeed(cfg, exch, logger)
	if err != nil {
		return err
	}
	defer feed.Stop()

	signalSource, err := strategy.Create(cfg.Trading.Strategy, cfg.Trading.StrategyParams)
	if err != nil {
		return fmt.Errorf("failed to create signal source: %w", err)
	}

	breaker := risk.NewDailyLossBreaker(risk.BreakerConfig{
		MaxDailyLoss:   decimal.NewFromFloat(cfg.Risk.MaxDailyLoss),
		MaxDailyTrades: cfg.Risk.MaxDailyTrades,
	}, logger)

	executor := order.NewExecutor(exch, order.Config{
		DryRun:           cfg.App.DryRun,
		OrderWaitTimeout: time.Duration(cfg.Timing.OrderWaitTimeout) * time.Second,
		PollInterval:     time.Duration(cfg.Timing.OrderPollIntervalMillis) * time.Millisecond,
	}, logger)

	orch := orchestrator.NewOrchestrator(
		time.Duration(cfg.Timing.LaunchDelayMillis)*time.Millisecond,
		notifier, logger)

	ledgers := make(map[string]*position.Ledger, len(cfg.Trading.Symbols))
	for _, symbol := range cfg.Trading.Symbols {
		ledger := position.NewLedger(symbol, logger)
		ledgers[symbol] = ledger

		eng := trading.NewEngine(trading.EngineConfig{
			Symbol:          symbol,
			Interval:        cfg.Trading.Interval,
			RequiredCandles: cfg.Trading.RequiredCandles,
			BufferSize:      cfg.Trading.BufferSize,
			EntryLadder:     entryLadder(cfg.Trading.EntryLadder),
			ExitLadder:      exitLadder(cfg.Trading.ExitLadder),
			MinQuoteBalance: decimal.NewFromFloat(cfg.Risk.MinQuoteBalance),
		}, exch, feed, signalSource, executor, ledger, breaker, notifier, logger)

		if err := orch.AddEngine(eng); err != nil {
			return err
		}
	}

	reconciler := risk.NewReconciler(exch, ledgers, risk.ReconcilerConfig{
		Interval: time.Duration(cfg.Timing.ReconcileInterval) * time.Second,
		DryRun:   cfg.App.DryRun,
	}, notifier, logger)

	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer orch.Stop()

	if err := reconciler.Start(ctx); err != nil {
		return err
	}
	defer reconciler.Stop()

	notifier.Info("Trader started",
		fmt.Sprintf("Trading %d symbols on %s", len(cfg.Trading.Symbols), cfg.App.Exchange),
		map[string]string{"dry_run": fmt.Sprintf("%t", cfg.App.DryRun)})

	statusTicker := time.NewTicker(time.Duration(cfg.Timing.StatusPrintInterval) * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received")
			return nil
		case <-statusTicker.C:
			printStatus(orch, logger)
		}
	}
}

func buildFeed(cfg *config.Config, exch core.IExchange, logger core.ILogger) (core.IMarketFeed, error) {
	switch cfg.Feed.Mode {
	case "websocket":
		return marketdata.NewWebSocketFeed("", cfg.Trading.Interval, cfg.Feed.ReconnectMaxAttempts, logger), nil
	case "poll":
		return marketdata.NewPollingFeed(exch, cfg.Trading.Interval,
			time.Duration(cfg.Feed.PollIntervalSeconds)*time.Second, logger), nil
	default:
		return nil, fmt.Errorf("unsupported feed mode: %s", cfg.Feed.Mode)
	}
}

func entryLadder(tiers []config.EntryTierConfig) []core.EntryTier {
	out := make([]core.EntryTier, len(tiers))
	for i, t := range tiers {
		out[i] = core.EntryTier{
			ID:         i,
			TriggerPct: decimal.NewFromFloat(t.TriggerPct),
			Notional:   decimal.NewFromFloat(t.Notional),
		}
	}
	return out
}

func exitLadder(tiers []config.ExitTierConfig) []core.ExitTier {
	out := make([]core.ExitTier, len(tiers))
	for i, t := range tiers {
		out[i] = core.ExitTier{
			ID:         i,
			TriggerPct: decimal.NewFromFloat(t.TriggerPct),
			Fraction:   decimal.NewFromFloat(t.Fraction),
		}
	}
	return out
}

func printStatus(orch *orchestrator.Orchestrator, logger core.ILogger) {
	st := orch.Status()
	logger.Info("Portfolio status",
		"symbols", st.Symbols,
		"running", st.RunningCount,
		"positions", st.PositionCount,
		"invested", st.TotalInvested,
		"value", st.TotalValue,
		"return_pct", st.TotalReturnPct.StringFixed(2),
		"realized_pnl", st.RealizedPnL)
}
