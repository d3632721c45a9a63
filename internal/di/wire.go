//go:build wireinject
// +build wireinject

package di

import (
	"FareCast/pkg/config"
	"FareCast/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideRedisCache,
		ProvideLogger,
		ProvideMetrics,

		// Repositories
		ProvideCatalog,
		ProvideConverter,
		ProvideSeriesStore,
		ProvideModelRegistry,
		ProvideResultCache,

		// Forecasting
		ProvideExtractor,
		ProvideTrainer,
		ProvideDecoder,
		ProvidePredictionTracker,

		// Use cases
		ProvideNormalizer,
		ProvideIngestor,
		ProvideForecastServer,
		ProvideRetrainer,
		ProvideStalenessEvaluator,
		ProvideScheduler,
		ProvideObservations,
		ProvideRouteStatus,

		// Transports
		ProvideKafkaConsumer,
		ProvideKafkaIngestHandler,
		ProvideFeedCollector,
		ProvideRetrainQueue,
		ProvideFaresHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
