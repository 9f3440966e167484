package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"orderly-service/config"
	"orderly-service/internal/api"
	"orderly-service/internal/broker"
	"orderly-service/internal/lock"
	"orderly-service/internal/mailer"
	"orderly-service/internal/redisclient"
	"orderly-service/internal/service"
	"orderly-service/internal/store"
	"orderly-service/internal/util"
	"orderly-service/internal/worker"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogFile); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting orderly service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("orderly-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	ctx := context.Background()

	local, err := store.OpenBolt(cfg.Store.LocalDBPath, store.AllCollections)
	if err != nil {
		logger.Fatal("Failed to open local store", zap.String("path", cfg.Store.LocalDBPath), zap.Error(err))
	}
	if n, err := store.LoadSeed(ctx, local, cfg.Store.SeedFile); err != nil {
		logger.Warn("Failed to load seed data", zap.String("file", cfg.Store.SeedFile), zap.Error(err))
	} else if n > 0 {
		logger.Info("Seeded local store", zap.Int("records", n))
	}

	// remote stays a nil interface when not configured
	var remote store.Backend
	if cfg.RemoteConfigured() {
		pg, err := store.NewPostgres(cfg.Store.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to remote store", zap.Error(err))
		}
		if cfg.Store.EnsureTables {
			if err := pg.EnsureCollections(ctx, store.AllCollections); err != nil {
				logger.Fatal("Failed to prepare remote collections", zap.Error(err))
			}
		}
		remote = pg
		logger.Info("Remote store connected")
	} else {
		logger.Info("Remote store not configured, using local store only")
	}

	accessor := store.NewAccessor(local, remote, logger)
	defer accessor.Close()

	var locker lock.Locker = lock.NewLocal()
	var redisClient *redisclient.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Business.LockTTL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		locker = redisClient
		logger.Info("Redis connected, using distributed locks")
	}

	var m mailer.Mailer = mailer.NewLogMailer(logger)
	if cfg.MailConfigured() {
		m = mailer.NewSMTPMailer(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.User, cfg.Mail.Pass, cfg.Mail.From)
	}

	primary, mirrored := accessor.Primary(), accessor.Mirrored()
	notifications := service.NewNotificationService(mirrored, primary, m, cfg.Server.FrontendURL)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var (
		queue              service.NotificationQueue
		notificationWorker *worker.NotificationWorker
		poolQueue          *service.PoolQueue
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
		defer producer.Close()
		queue = broker.NewEventPublisher(producer)

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
		notificationWorker = worker.NewNotificationWorker(consumer, notifications)
		go func() {
			if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
		logger.Info("Kafka notification queue initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		poolQueue, err = service.NewPoolQueue(cfg.Business.NotifyWorkers, notifications)
		if err != nil {
			logger.Fatal("Failed to start notification pool", zap.Error(err))
		}
		queue = poolQueue
	}
	notifier := service.NewDispatcher(queue)

	orders := service.NewOrderService(primary, locker, notifier)
	svc := api.Services{
		Catalog:       service.NewCatalogService(primary),
		Identity:      service.NewIdentityService(primary, mirrored, locker, notifier),
		Orders:        orders,
		Notifications: notifications,
		Invoices:      service.NewInvoiceProjector(orders, primary),
	}

	ready := func(ctx context.Context) error {
		if err := accessor.Ping(ctx); err != nil {
			return err
		}
		if redisClient != nil {
			return redisClient.Ping(ctx)
		}
		return nil
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(svc, api.NewAuthenticator(cfg.Auth.JWTSecret), ready)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if notificationWorker != nil {
		_ = notificationWorker.Stop()
	}
	if poolQueue != nil {
		_ = poolQueue.Close(5 * time.Second)
	}

	logger.Info("Server exited")
}
