//go:build wireinject
// +build wireinject

package di

import (
	"MetaAgent/pkg/config"
	"MetaAgent/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideDecisionPublisher,
		ProvideDecisionStore,
		ProvideDeadLetter,
		ProvidePriceCache,
		ProvideSnapshotter,
		ProvidePriceStream,

		// Domain services and use cases
		ProvideRiskEngine,
		ProvideOverrides,
		ProvideCoordinator,
		ProvideKafkaHandlers,
		ProvideMarketSweeper,

		// HTTP control plane
		ProvideControlHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
