package di

import (
	"context"
	"fmt"
	"time"

	"MetaAgent/internal/domain/models"
	"MetaAgent/internal/domain/repository"
	"MetaAgent/internal/handler/api"
	mid "MetaAgent/internal/middleware"
	internalrepo "MetaAgent/internal/repository"
	"MetaAgent/internal/service/pricefeed"
	"MetaAgent/internal/services/risk"
	"MetaAgent/internal/usecase"
	pkgcache "MetaAgent/pkg/cache"
	pkgch "MetaAgent/pkg/clickhouse"
	"MetaAgent/pkg/config"
	pkgkafka "MetaAgent/pkg/kafka"
	applogger "MetaAgent/pkg/logger"
	"MetaAgent/pkg/metrics"
	"MetaAgent/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger() (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{Level: "info", Format: "json", Output: "stdout"})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisCache creates the Redis client.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	cache, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache, nil
}

// ProvideClickHouseClient creates a ClickHouse client and ensures the
// history schema. Returns nil when the history store is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := append(
		[]string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database},
		internalrepo.SchemaStatements(
			cfg.ClickHouse.Database+"."+cfg.ClickHouse.DecisionsTable,
			cfg.ClickHouse.Database+"."+cfg.ClickHouse.ViolationsTable,
		)...,
	)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideDecisionPublisher creates the Kafka decision publisher.
func ProvideDecisionPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.DecisionPublisher {
	return internalrepo.NewKafkaDecisionPublisher(producer, cfg.Kafka.MetaTopic, cfg.Kafka.ViolationsTopic)
}

// ProvideDecisionStore creates the ClickHouse history store, nil when disabled.
func ProvideDecisionStore(chClient *pkgch.Client, cfg *config.Config) repository.DecisionStore {
	if chClient == nil {
		return nil
	}
	return internalrepo.NewClickHouseDecisionStore(
		chClient.DB(),
		cfg.ClickHouse.Database+"."+cfg.ClickHouse.DecisionsTable,
		cfg.ClickHouse.Database+"."+cfg.ClickHouse.ViolationsTable,
	)
}

// ProvideDeadLetter creates the Redis dead-letter queue.
func ProvideDeadLetter(cache *pkgcache.RedisCache, cfg *config.Config) repository.DeadLetter {
	return internalrepo.NewRedisDeadLetter(cache, cfg.Redis.DeadLetterKey, cfg.Redis.DeadLetterMax)
}

// ProvidePriceCache creates the last-price cache. Prices are read on every
// coordinated decision, so a memory layer sits in front of Redis.
func ProvidePriceCache(cache *pkgcache.RedisCache, cfg *config.Config) repository.PriceCache {
	layered := pkgcache.NewLayeredCache(cache)
	return internalrepo.NewLastPriceCache(layered, cfg.Redis.PriceTTL)
}

// ProvideSnapshotter creates the Redis risk-summary snapshotter.
func ProvideSnapshotter(cache *pkgcache.RedisCache, cfg *config.Config) repository.Snapshotter {
	return internalrepo.NewRedisSnapshotter(cache, cfg.Redis.SnapshotTTL)
}

// ProvideRiskEngine creates the risk engine. Sweep violations go out on
// the violations topic like order-check denials do.
func ProvideRiskEngine(cfg *config.Config, m repository.Metrics, publisher repository.DecisionPublisher) (*risk.Engine, error) {
	sink := func(v models.RiskViolation) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = publisher.PublishViolation(ctx, &v)
	}
	engine, err := risk.NewEngine(cfg.Risk.Limits, cfg.Risk.Buckets,
		risk.WithMetrics(m),
		risk.WithViolationSink(sink),
	)
	if err != nil {
		return nil, fmt.Errorf("risk engine: %w", err)
	}
	return engine, nil
}

// ProvideOverrides creates the operator override state.
func ProvideOverrides(cfg *config.Config) *usecase.Overrides {
	return usecase.NewOverrides(models.VotingStrategy(cfg.Coordinator.VotingStrategy))
}

// ProvideCoordinator creates the decision coordinator.
func ProvideCoordinator(
	cfg *config.Config,
	log *applogger.Logger,
	engine *risk.Engine,
	overrides *usecase.Overrides,
	publisher repository.DecisionPublisher,
	store repository.DecisionStore,
	deadletter repository.DeadLetter,
	prices repository.PriceCache,
	m repository.Metrics,
) *usecase.Coordinator {
	return usecase.NewCoordinator(
		usecase.CoordinatorConfig{
			MinAgents:     cfg.Coordinator.MinAgents,
			PendingTTL:    cfg.Coordinator.PendingTTL,
			ExpirySweep:   cfg.Coordinator.ExpirySweep,
			ExpiryPolicy:  cfg.Coordinator.ExpiryPolicy,
			FallbackPrice: cfg.Coordinator.FallbackPrice,
		},
		log, engine, overrides, publisher, store, deadletter, prices, m,
	)
}

// ProvideKafkaHandlers builds the consumer handler set.
func ProvideKafkaHandlers(
	cfg *config.Config,
	log *applogger.Logger,
	coordinator *usecase.Coordinator,
	engine *risk.Engine,
	prices repository.PriceCache,
	m repository.Metrics,
) []pkgkafka.MessageHandler {
	return []pkgkafka.MessageHandler{
		usecase.NewKafkaDecisionsHandler(cfg.Kafka.DecisionsTopic, coordinator),
		usecase.NewKafkaFillsHandler(cfg.Kafka.FillsTopic, log, engine, prices, m),
	}
}

// ProvidePriceStream creates the WebSocket price stream, nil when disabled.
func ProvidePriceStream(cfg *config.Config) repository.PriceStream {
	if !cfg.PriceFeed.Enabled {
		return nil
	}
	return pricefeed.New(
		cfg.PriceFeed.WebSocketURL,
		cfg.PriceFeed.Symbols,
		cfg.PriceFeed.ReconnectDelay,
		cfg.PriceFeed.PingInterval,
	)
}

// ProvideMarketSweeper creates the price sweeper, nil without a stream.
func ProvideMarketSweeper(
	cfg *config.Config,
	stream repository.PriceStream,
	engine *risk.Engine,
	prices repository.PriceCache,
	snapshot repository.Snapshotter,
	m repository.Metrics,
	log *applogger.Logger,
) *mid.MarketSweeper {
	if stream == nil {
		return nil
	}
	return mid.NewMarketSweeper(stream, engine, prices, snapshot, m, log,
		mid.WithSweepInterval(cfg.PriceFeed.SweepInterval),
		mid.WithSnapshotInterval(cfg.PriceFeed.SnapshotInterval),
	)
}

// ProvideControlHandler creates the control-plane HTTP handler.
func ProvideControlHandler(
	log *applogger.Logger,
	coordinator *usecase.Coordinator,
	overrides *usecase.Overrides,
	engine *risk.Engine,
) *api.ControlEchoHandler {
	return api.NewControlEchoHandler(log, coordinator, overrides, engine)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	coordinator *usecase.Coordinator,
	sweeper *mid.MarketSweeper,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	publisher repository.DecisionPublisher,
	chClient *pkgch.Client,
	cache *pkgcache.RedisCache,
	control *api.ControlEchoHandler,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	app := server.New(cfg, coordinator, sweeper, consumer, handlers, publisher, chClient, cache)
	app.SetHTTPHandler(control)
	return app
}
