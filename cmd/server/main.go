package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imagebot/backend/internal/application/checkout"
	"github.com/imagebot/backend/internal/domain/asset"
	"github.com/imagebot/backend/internal/domain/shared"
	"github.com/imagebot/backend/internal/infrastructure/cache"
	"github.com/imagebot/backend/internal/infrastructure/config"
	"github.com/imagebot/backend/internal/infrastructure/imaging"
	"github.com/imagebot/backend/internal/infrastructure/logger"
	"github.com/imagebot/backend/internal/infrastructure/migration"
	paymentinfra "github.com/imagebot/backend/internal/infrastructure/payment"
	"github.com/imagebot/backend/internal/infrastructure/persistence"
	"github.com/imagebot/backend/internal/infrastructure/scheduler"
	"github.com/imagebot/backend/internal/infrastructure/session"
	"github.com/imagebot/backend/internal/infrastructure/telegram"
	"github.com/imagebot/backend/internal/infrastructure/telemetry"
	"github.com/imagebot/backend/internal/interfaces/bot"
	"github.com/imagebot/backend/internal/interfaces/http/handler"
	"github.com/imagebot/backend/internal/interfaces/http/router"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

type closer interface {
	Close() error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting image bot",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		_ = logger.Sync(log)
		os.Exit(1)
	}
	log.Info("Server exited")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// Telemetry
	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		_ = providers.Shutdown(context.Background())
	}()

	metrics, err := telemetry.NewCheckoutMetrics(providers.Meter("imagebot/checkout"), log)
	if err != nil {
		return err
	}

	// Database
	db, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)
	userRepo := persistence.NewGormUserRepository(db.DB)

	// Redis backs the asset store and webhook deduplication when enabled
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
		log.Info("Redis connected")
	}

	store, err := newAssetStore(cfg, redisClient, log)
	if err != nil {
		return err
	}
	defer closeQuietly(store, "asset store", log)

	var processed shared.IdempotencyStore
	if redisClient != nil {
		processed = cache.NewRedisIdempotencyStore(redisClient, "imagebot:notification:")
	} else {
		processed = cache.NewInMemoryIdempotencyStore(nil)
	}
	defer closeQuietly(processed, "idempotency store", log)

	// External services
	tg, err := telegram.NewClient(telegram.Config{
		Token:  cfg.Telegram.Token,
		APIURL: cfg.Telegram.APIURL,
	}, log)
	if err != nil {
		return err
	}
	gateway, err := paymentinfra.NewYooKassaAdapter(&paymentinfra.YooKassaConfig{
		ShopID:    cfg.YooKassa.ShopID,
		SecretKey: cfg.YooKassa.SecretKey,
		BaseURL:   cfg.YooKassa.APIURL,
		Timeout:   cfg.YooKassa.Timeout,
	})
	if err != nil {
		return err
	}
	remover := imaging.NewOpenRouterRemover(imaging.OpenRouterConfig{
		BaseURL: cfg.Imaging.APIURL,
		Token:   cfg.Imaging.APIToken,
		Model:   cfg.Imaging.Model,
		Timeout: cfg.Imaging.Timeout,
	}, log)
	pipelineCfg := imaging.DefaultPipelineConfig()
	pipelineCfg.MaxAttempts = cfg.Imaging.MaxAttempts
	pipeline := imaging.NewPipeline(pipelineCfg, remover, log)

	// Checkout
	invoiceClient := checkout.NewInvoiceClient(checkout.InvoiceClientConfig{
		Price:       cfg.Checkout.Price,
		Currency:    cfg.Checkout.Currency,
		Description: cfg.Checkout.Description,
		ReturnURL:   cfg.YooKassa.ReturnURL,
		MaxAttempts: cfg.Checkout.MaxAttempts,
		RetryDelay:  cfg.Checkout.RetryDelay,
	}, checkout.InvoiceClientDeps{
		Gateway:  gateway,
		Invoices: invoiceRepo,
		Users:    userRepo,
		Metrics:  metrics,
		Logger:   log,
	})

	watcherCfg := scheduler.DefaultWatcherConfig()
	watcherCfg.PollInterval = cfg.Checkout.PollInterval
	watcher := scheduler.NewInvoiceWatcher(watcherCfg, invoiceClient, nil, log)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := watcher.Stop(stopCtx); err != nil {
			log.Error("Error stopping invoice watcher", zap.Error(err))
		}
	}()

	delivery := checkout.NewDeliveryCoordinator(checkout.DeliveryDeps{
		Store:     store,
		Transport: tg,
		Invoices:  invoiceRepo,
		Metrics:   metrics,
		Price:     cfg.Checkout.Price,
		Logger:    log,
	})
	svc := checkout.NewService(checkout.Config{
		Price:          cfg.Checkout.Price,
		InvoiceTTL:     cfg.Checkout.InvoiceTTL,
		ReservationTTL: cfg.Checkout.ReservationTTL,
	}, checkout.Deps{
		Store:     store,
		Invoicer:  invoiceClient,
		Watcher:   watcher,
		Delivery:  delivery,
		Transport: tg,
		Invoices:  invoiceRepo,
		Metrics:   metrics,
		Logger:    log,
	})

	report, err := svc.Recover(ctx)
	if err != nil {
		log.Error("Invoice recovery failed", zap.Error(err))
	} else {
		log.Info("Invoice recovery finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("rewatched", report.Rewatched),
			zap.Int("delivered", report.Delivered),
			zap.Int("expired", report.Expired),
			zap.Int("superseded", report.Superseded),
			zap.Int("undelivered", report.Undelivered),
		)
	}

	// Bot updates
	updates := bot.NewRouter(bot.Config{
		SupportUsername: cfg.Checkout.SupportUsername,
		AdminIDs:        cfg.Checkout.AdminIDs,
	}, bot.Deps{
		Checkout:  svc,
		Images:    pipeline,
		Transport: tg,
		Users:     userRepo,
		Logger:    log,
	})

	dispatcherCfg := scheduler.DefaultDispatcherConfig()
	dispatcherCfg.Workers = cfg.Telegram.Workers
	dispatcherCfg.QueueSize = cfg.Telegram.QueueSize
	dispatcher := scheduler.NewDispatcher(dispatcherCfg, updates, log)
	if err := dispatcher.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := dispatcher.Stop(stopCtx); err != nil {
			log.Error("Error stopping dispatcher", zap.Error(err))
		}
	}()

	pollerCfg := telegram.DefaultPollerConfig()
	if cfg.Telegram.PollTimeout > 0 {
		pollerCfg.Timeout = cfg.Telegram.PollTimeout
	}
	poller := telegram.NewPoller(pollerCfg, tg, dispatcher, nil, log)

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine, err := router.Setup(router.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: cfg.Telemetry.Enabled,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	}, router.Deps{
		Health:        handler.NewHealthHandler(db),
		Notifications: handler.NewPaymentNotificationHandler(svc, processed, log),
		Logger:        log,
	})
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return poller.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openDatabase(cfg *config.Config, log *zap.Logger) (*persistence.Database, error) {
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		return nil, err
	}

	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:    cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL: cfg.Telemetry.DBLogFullSQL,
		DBSystem:   cfg.Database.Driver,
	}, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.Database.Driver == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("Database connected", zap.String("driver", "sqlite"))
		return db, nil
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	migrator, err := migration.New(sqlDB, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	err = migrator.Up()
	_ = migrator.Close()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("Database connected", zap.String("driver", cfg.Database.Driver))
	return db, nil
}

func newAssetStore(cfg *config.Config, client *redis.Client, log *zap.Logger) (asset.Store, error) {
	storeCfg := session.Config{
		Retention:       cfg.Session.Retention,
		CleanupInterval: cfg.Session.CleanupInterval,
	}
	if cfg.Session.Store == "redis" {
		if client == nil {
			return nil, errors.New("session store redis requires redis to be enabled")
		}
		return session.NewRedisStore(client, storeCfg, nil, log), nil
	}
	return session.NewMemoryStore(storeCfg, nil, log), nil
}

func closeQuietly(c closer, name string, log *zap.Logger) {
	if err := c.Close(); err != nil {
		log.Error("Error closing "+name, zap.Error(err))
	}
}
