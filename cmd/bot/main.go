package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xaenox/rewritebot/internal/bot"
	"github.com/xaenox/rewritebot/internal/dedup"
	"github.com/xaenox/rewritebot/internal/delivery"
	"github.com/xaenox/rewritebot/internal/settings"
	"github.com/xaenox/rewritebot/internal/storage"
	"github.com/xaenox/rewritebot/pkg/config"
)

func main() {
	// A local .env complements the real environment during development.
	_ = godotenv.Load()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("secrets.cfg")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "secrets.cfg"))
	}
	if !cfg.HasToken() {
		logger.Fatal("No bot token configured, set BOT_TOKEN or secrets.cfg [secrets] token")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	// Rule configuration: example defaults overlaid by local overrides,
	// reloaded when either file changes on disk.
	rulecfg := settings.NewStore(cfg.Files.Example, cfg.Files.Config, logger)
	if err := rulecfg.Load(); err != nil {
		logger.Warn("Starting with previous rule configuration", zap.Error(err))
	}
	if err := rulecfg.Watch(ctx); err != nil {
		logger.Warn("Config watcher unavailable, relying on change polling", zap.Error(err))
	}

	gate := dedup.NewGate(dedup.DefaultWindow, logger)
	go gate.Run(ctx)

	retrier := delivery.NewRetrier(cfg.Delivery.RetryInterval(), cfg.Delivery.MaxAttempts, logger)

	// Initialize bot
	b, err := bot.New(cfg, rulecfg, store, gate, retrier, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	// Start the bot
	if err := b.Run(ctx); err != nil {
		if errors.Is(err, bot.ErrRestartRequested) {
			// Exit cleanly so the supervisor restarts us.
			logger.Info("Exiting for restart")
			return
		}
		logger.Fatal("Bot error", zap.Error(err))
	}
}

func openStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Database.Backend {
	case config.BackendMemory:
		logger.Info("Using in-memory storage, reminders will not survive restarts")
		return storage.NewMemoryStore(), nil
	case config.BackendPostgres:
		logger.Info("Using PostgreSQL storage",
			zap.String("host", cfg.Database.Host),
			zap.String("dbname", cfg.Database.DBName))
		return storage.NewPostgresStore(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
	default:
		logger.Info("Using SQLite storage", zap.String("path", cfg.Database.Path))
		return storage.NewSQLiteStore(cfg.Database.Path, logger)
	}
}
