// Package provisioner собирает и запускает основной сервис движка подписок.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/robfig/cron/v3"
	"github.com/streadway/amqp"

	"github.com/swagavpn/provisioner/internal/cache"
	"github.com/swagavpn/provisioner/internal/config"
	"github.com/swagavpn/provisioner/internal/lib/sl"
	"github.com/swagavpn/provisioner/internal/migrations"
	"github.com/swagavpn/provisioner/internal/models"
	"github.com/swagavpn/provisioner/internal/notifier"
	"github.com/swagavpn/provisioner/internal/rabbitmq"
	accessservice "github.com/swagavpn/provisioner/internal/services/access"
	paymentservice "github.com/swagavpn/provisioner/internal/services/payment"
	reconcilerservice "github.com/swagavpn/provisioner/internal/services/reconciler"
	schedulerservice "github.com/swagavpn/provisioner/internal/services/scheduler"
	"github.com/swagavpn/provisioner/internal/storage/repository"
	"github.com/swagavpn/provisioner/internal/xui"
	"github.com/swagavpn/provisioner/internal/yookassa"
)

type App struct {
	server     *http.Server
	cron       *cron.Cron
	scheduler  *schedulerservice.Service
	logger     *slog.Logger
	db         *repository.Storage
	amqpConn   *amqp.Connection
	amqpCh     *amqp.Channel
	sweepEvery time.Duration
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}
	if err = repository.CheckDatabaseReady(db); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	amqpConn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}
	amqpCh, err := rabbitmq.SetupChannel(amqpConn, rabbitmq.GetNotificationQueues())
	if err != nil {
		_ = amqpConn.Close()
		return nil, err
	}

	catalog := models.NewCatalog(cfg.TrialDays, cfg.PriceM1, cfg.PriceM3, cfg.PriceM12)
	panel := xui.NewPanel(cfg.Panel.RequestTimeout)
	provider := yookassa.NewClient(cfg.ShopID, cfg.SecretKey)
	events := notifier.New(amqpCh, logger)

	reconciler := reconcilerservice.New(db, panel, logger)
	payments := paymentservice.New(db, provider, reconciler, events, cacheRedis,
		catalog, cfg.ReturnURL, logger)
	scheduler := schedulerservice.New(db, reconciler, events, logger)
	access := accessservice.New(db, cacheRedis, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, payments, access, cfg.WebhookSecret)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:     srv,
		cron:       cron.New(),
		scheduler:  scheduler,
		logger:     logger,
		db:         db,
		amqpConn:   amqpConn,
		amqpCh:     amqpCh,
		sweepEvery: cfg.SweepInterval,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", a.sweepEvery)
	_, err := a.cron.AddFunc(spec, func() {
		if err := a.scheduler.RunSweep(ctx); err != nil {
			a.logger.Error("sweep run failed", sl.Err(err))
		}
	})
	if err != nil {
		return err
	}
	a.cron.Start()
	a.logger.Info("lifecycle sweep scheduled", slog.String("interval", a.sweepEvery.String()))

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down gracefully")
		<-a.cron.Stop().Done()
		err := a.server.Shutdown(timeoutCtx)
		if closeErr := a.amqpCh.Close(); closeErr != nil {
			a.logger.Error("failed to close amqp channel", sl.Err(closeErr))
		}
		if closeErr := a.amqpConn.Close(); closeErr != nil {
			a.logger.Error("failed to close amqp connection", sl.Err(closeErr))
		}
		if closeErr := a.db.DB.Close(); closeErr != nil {
			a.logger.Error("failed to close database", sl.Err(closeErr))
		}
		return err
	}
}
