package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"mt5-trade-bot-go/internal/config"
	"mt5-trade-bot-go/internal/connection"
	"mt5-trade-bot-go/internal/database"
	"mt5-trade-bot-go/internal/health"
	"mt5-trade-bot-go/internal/logger"
	"mt5-trade-bot-go/internal/monitor"
	"mt5-trade-bot-go/internal/orchestrator"
	"mt5-trade-bot-go/internal/telegram"
	"mt5-trade-bot-go/internal/terminal"
)

// shutdownTimeout bounds how long strategy loops may take to drain.
const shutdownTimeout = 10 * time.Second

func main() {
	// Terminal credentials and the Telegram allow list can come from a
	// local .env file in development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format, logger.FileSink{
		Path:       cfg.Logger.File,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
		Compress:   cfg.Logger.Compress,
	})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log = log.With(zap.String("instance", uuid.NewString()))
	log.Info("Starting trading bot", zap.String("region", cfg.Region))

	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection established")
	store := database.NewStore(db, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := terminal.NewBridgeClient(&cfg.Terminal, log)
	manager := connection.NewManager(bridge, connection.Credentials{
		Account:  cfg.Terminal.Account,
		Password: cfg.Terminal.Password,
		Server:   cfg.Terminal.Server,
	}, &cfg.Connection, log)

	if !manager.Connect(ctx) {
		log.Fatal("Initial MT5 connection failed")
	}
	log.Info("Connected to MT5 terminal")

	sampler := health.NewSystemSampler(&cfg.Health)
	prober := health.NewTCPProber(cfg.Health.ProbeHost, cfg.Health.ProbeTimeout)
	gate := health.NewGate(manager, sampler, prober, &cfg.Health, log)

	orch := orchestrator.NewOrchestrator(bridge, gate, store, log)
	if err := orch.Restore(ctx); err != nil {
		log.Error("Failed to restore stored strategies", zap.Error(err))
	}

	var alerter monitor.Alerter
	if cfg.Telegram.Token != "" {
		bot := telegram.NewBot(telegram.Deps{
			API:        telegram.NewClient(&cfg.Telegram, log),
			Controller: orch,
			Connection: manager,
			Health:     gate,
			Account:    bridge,
			Authorizer: telegram.NewAuthorizer(cfg.Telegram.AuthorizedUsers),
			Region:     cfg.Region,
			ChatID:     cfg.Telegram.ChatID,
			Logger:     log,
		})
		alerter = bot
		go func() {
			if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("Telegram bot stopped", zap.Error(err))
			}
		}()
	} else {
		log.Warn("Telegram token not configured, control surface disabled")
	}

	go monitor.NewMonitor(&cfg.Monitor, &cfg.Health, sampler, alerter, log).Run(ctx)
	go manager.Run(ctx)

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	<-sigchan
	log.Info("Shutdown signal received, gracefully shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	orch.StopAll(shutdownCtx)
	manager.Close(shutdownCtx)

	log.Info("Shutdown complete")
}
