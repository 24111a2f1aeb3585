// Package main запускает HTTP-сервер маркетплейса и фоновые процессы.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kayicom/marketplace/internal/config"
	"github.com/kayicom/marketplace/internal/feed"
	"github.com/kayicom/marketplace/internal/gateway"
	"github.com/kayicom/marketplace/internal/handler"
	"github.com/kayicom/marketplace/internal/lock"
	"github.com/kayicom/marketplace/internal/metrics"
	"github.com/kayicom/marketplace/internal/middleware"
	"github.com/kayicom/marketplace/internal/notify"
	"github.com/kayicom/marketplace/internal/repository"
	"github.com/kayicom/marketplace/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is empty, using in-memory storage")
		repo = repository.NewMemoryRepository()
	}

	var notifier notify.Dispatcher = notify.NewLogDispatcher(logger)
	if cfg.MailAPIAddress != "" && cfg.MailAPIKey != "" {
		notifier = notify.NewMailDispatcher(cfg.MailAPIAddress, cfg.MailAPIKey, cfg.MailFrom, logger)
	}

	var locker service.Locker = lock.NewLocalLocker()
	if cfg.RedisAddress != "" {
		client, err := lock.Connect(ctx, cfg.RedisAddress)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client)
	}

	var gw service.Gateway
	if cfg.GatewayAddress != "" {
		gw = gateway.NewClient(cfg.GatewayAddress, cfg.GatewayAPIKey, logger)
	}

	m := metrics.New()

	svc := service.NewService(service.Deps{
		Repo:        repo,
		Gateway:     gw,
		Notifier:    notifier,
		Locker:      locker,
		Effects:     m,
		Logger:      logger,
		Incentives:  cfg.Incentives(),
		CallbackURL: cfg.CallbackURL,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.AdminToken, m)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Напоминания и уведомления об истечении подписок
	g.Go(func() error {
		svc.StartSubscriptionSweep(ctx, cfg.SweepInterval)
		return nil
	})

	// Опрос статусов неоплаченных счетов
	g.Go(func() error {
		svc.StartInvoiceSync(ctx, cfg.InvoiceSyncInterval)
		return nil
	})

	// Подтверждения оплаты из Kafka
	if cfg.KafkaBrokers != "" {
		consumer := feed.NewConsumer(feed.NewReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup), svc, logger)
		g.Go(func() error {
			return consumer.Run(ctx)
		})
	}

	g.Go(func() error {
		sugar.Infow("starting marketplace server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
