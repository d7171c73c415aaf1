package server

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MetaAgent/internal/domain/repository"
	mid "MetaAgent/internal/middleware"
	"MetaAgent/internal/usecase"
	pkgcache "MetaAgent/pkg/cache"
	pkgch "MetaAgent/pkg/clickhouse"
	"MetaAgent/pkg/config"
	xhttp "MetaAgent/pkg/http"
	pkgkafka "MetaAgent/pkg/kafka"
	applogger "MetaAgent/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	coordinator *usecase.Coordinator
	sweeper     *mid.MarketSweeper
	consumer    *pkgkafka.Consumer
	handlers    []pkgkafka.MessageHandler
	publisher   repository.DecisionPublisher
	chClient    *pkgch.Client
	redis       *pkgcache.RedisCache
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	coordinator *usecase.Coordinator,
	sweeper *mid.MarketSweeper,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	publisher repository.DecisionPublisher,
	chClient *pkgch.Client,
	redis *pkgcache.RedisCache,
) *App {
	return &App{
		cfg:         cfg,
		coordinator: coordinator,
		sweeper:     sweeper,
		consumer:    consumer,
		handlers:    handlers,
		publisher:   publisher,
		chClient:    chClient,
		redis:       redis,
	}
}

// SetHTTPHandler allows DI to inject an HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// init app logger (console info by default)
	l, _ := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithRequestMetrics(l, 500*time.Millisecond),
	)

	// Pending-correlation expiry worker
	go a.coordinator.Run(ctx)
	l.Info("coordinator expiry worker started")

	// Market price sweeper
	if a.sweeper != nil {
		go a.sweeper.Run(ctx)
		l.Info("market sweeper started", applogger.Strings("symbols", a.cfg.PriceFeed.Symbols))
	}

	// Kafka intake
	if a.consumer != nil {
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
			l.Info("kafka handler registered", applogger.String("topic", h.Topic()))
		}
		go func() {
			if err := a.consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	cancel()
	return a.shutdown(context.Background())
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	l, err := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})
	if err != nil {
		log.Printf("failed to create logger: %v", err)
		return err
	}
	l.Info("shutting down...")

	// Shutdown HTTP server first so the control plane stops mutating state
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	// Stop consumer before closing the publisher it feeds
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			l.Warn("publisher close error", applogger.Error(err))
		}
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			l.Warn("redis close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}
