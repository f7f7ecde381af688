package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"kassir/internal/api"
	"kassir/internal/config"
	"kassir/internal/connectivity"
	"kassir/internal/database"
	"kassir/internal/engine"
	"kassir/internal/events"
	"kassir/internal/logging"
	"kassir/internal/metrics"
	"kassir/internal/models"
	"kassir/internal/notify"
	"kassir/internal/remote"
	"kassir/internal/repository"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, loadErr := loadConfigAndLogger()
	if loadErr != nil {
		return loadErr
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	redisClient, sessions := initSessionStore(ctx, cfg, &logger)

	remoteClient := remote.NewClient(cfg.Remote, cfg.RemoteTimeout(), &logger)

	notifier, err := notify.NewTelegramNotifier(cfg.Telegram, &logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Оповещения Telegram недоступны")
	}

	eventBus := events.NewEventBus()

	salesSyncer := engine.NewSaleSyncer(db, remoteClient, eventBus, &logger)
	invoiceSyncer := engine.NewInvoiceSyncer(
		db, remoteClient, repository.NewSessionProvider(sessions),
		eventBus, notifier, cfg.Sync.MaxInvoiceRetries, &logger,
	)
	catalogSyncer := engine.NewCatalogSyncer(db, remoteClient, eventBus, &logger)

	monitor := connectivity.NewMonitor(&logger)
	go monitor.StartProbe(ctx, remoteClient.Ping, cfg.Sync.ProbeIntervalDuration())

	orchestrator := engine.NewOrchestrator(salesSyncer, invoiceSyncer, catalogSyncer, monitor, eventBus, &logger)
	unsubscribe := orchestrator.AttachMonitor(ctx)
	defer unsubscribe()

	// Общая очередь для операций вне продаж и счетов
	retryPolicy := engine.RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  cfg.Sync.RetryInitialDelayDuration(),
		MaxDelay:      cfg.Sync.RetryMaxDelayDuration(),
		BackoffFactor: cfg.Sync.RetryBackoff,
	}
	queueWorker := engine.NewQueueWorker(db, redisClient, retryPolicy, &logger)
	go queueWorker.Start(ctx)

	go startPruneLoop(ctx, db, cfg.Sync.PruneAfterDays, &logger)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, db, orchestrator, invoiceSyncer, catalogSyncer, sessions, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().Msg("Движок синхронизации запущен")
	<-ctx.Done()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Ошибка создания директории для базы данных")
		return err
	}
	if cfg.Backup.Enabled && cfg.Backup.StoragePath != "" {
		if err := os.MkdirAll(cfg.Backup.StoragePath, 0o755); err != nil {
			logger.Error().Err(err).Msg("Ошибка создания директории для бэкапов")
			return err
		}
	}
	return nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка инициализации базы данных")
		return nil, err
	}
	return db, nil
}

func initSessionStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, repository.SessionRepository) {
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if errPing := repository.Ping(ctx, redisClient); errPing != nil {
			logger.Warn().Err(errPing).Msg("Redis unavailable")
		}
	}

	ttl := time.Duration(models.DefaultSessionTTL) * time.Second
	primary := repository.NewRedisSessionRepository(redisClient, ttl)
	fallback := repository.NewMemorySessionRepository(ttl)
	return redisClient, repository.NewFailoverSessionRepository(primary, fallback, logger)
}

// startPruneLoop раз в сутки удаляет отправленные продажи старше порога.
// Неотправленные продажи не удаляются никогда.
func startPruneLoop(ctx context.Context, db *database.DB, afterDays int, logger *zerolog.Logger) {
	if afterDays <= 0 {
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -afterDays)
			pruned, err := db.PruneSyncedSales(ctx, cutoff)
			if err != nil {
				logger.Error().Err(err).Msg("Очистка отправленных продаж не удалась")
				continue
			}
			if pruned > 0 {
				logger.Info().Int64("pruned", pruned).Msg("Старые отправленные продажи удалены")
			}
		}
	}
}
