package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"FareCast/internal/domain/models"
	"FareCast/internal/domain/repository"
	"FareCast/internal/domain/service"
	"FareCast/internal/handler/api"
	mid "FareCast/internal/middleware"
	internalrepo "FareCast/internal/repository"
	"FareCast/internal/service/feed"
	endpointmetrics "FareCast/internal/service/metrics"
	"FareCast/internal/service/ratelimit"
	"FareCast/internal/services/features"
	"FareCast/internal/services/forecasting"
	"FareCast/internal/services/fx"
	"FareCast/internal/usecase"
	"FareCast/pkg/cache"
	pkgch "FareCast/pkg/clickhouse"
	"FareCast/pkg/config"
	xhttp "FareCast/pkg/http"
	pkgkafka "FareCast/pkg/kafka"
	applogger "FareCast/pkg/logger"
	"FareCast/pkg/metrics"
	"FareCast/pkg/queue"
	"FareCast/pkg/server"
)

const (
	observationsTable = "fare_observations"
	modelsTable       = "model_versions"
)

// ProvideClickHouseClient creates a ClickHouse client and its schema.
// It returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddress(cfg.ClickHouse.Host, cfg.ClickHouse.Port, cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db := cfg.ClickHouse.Database
	stmts := []string{"CREATE DATABASE IF NOT EXISTS " + db}
	stmts = append(stmts, internalrepo.ObservationSchema(db+"."+observationsTable, cfg.Pipeline.Series.Retention)...)
	stmts = append(stmts, internalrepo.ModelSchema(db+"."+modelsTable)...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the application logger. Warnings and errors are
// aggregated onto the logs topic when a producer is available.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logging.Collector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collector.Interval,
			CountThreshold: cfg.Logging.Collector.Threshold,
			Topic:          cfg.Logging.Collector.Topic,
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates the Prometheus recorder and endpoint metrics.
func ProvideMetrics() repository.Metrics {
	endpointmetrics.Register(prometheus.DefaultRegisterer)
	return metrics.New()
}

// ProvideCatalog builds the route and source catalog from config.
func ProvideCatalog(cfg *config.Config) (*internalrepo.ConfigCatalog, error) {
	catalog, err := internalrepo.NewConfigCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("route catalog: %w", err)
	}
	return catalog, nil
}

// ProvideConverter creates the currency converter with optional remote rates.
func ProvideConverter(cfg *config.Config, l *applogger.Logger) (*fx.Converter, error) {
	opts := []fx.Option{fx.WithLogger(l)}
	if cfg.Currency.RatesURL != "" {
		client := xhttp.NewClient(xhttp.WithTimeout(10*time.Second), xhttp.WithUserAgent("farecast/1.0"))
		opts = append(opts, fx.WithRemoteRates(client, cfg.Currency.RatesURL))
	}
	conv, err := fx.NewConverter(cfg.Currency.Base, cfg.Currency.Rates, opts...)
	if err != nil {
		return nil, fmt.Errorf("fx converter: %w", err)
	}
	return conv, nil
}

// ProvideSeriesStore creates the in-memory series store, durable in
// ClickHouse when a client is available.
func ProvideSeriesStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) *internalrepo.SeriesStore {
	opts := []internalrepo.SeriesOption{internalrepo.WithSeriesLogger(l)}
	if ch != nil {
		table := cfg.ClickHouse.Database + "." + observationsTable
		opts = append(opts, internalrepo.WithObservationLog(internalrepo.NewCHObservationLog(ch, table, l)))
	}
	return internalrepo.NewSeriesStore(opts...)
}

// ProvideModelRegistry creates the model registry. Versions persist to
// ClickHouse and changes go out on the models topic when configured.
func ProvideModelRegistry(
	cfg *config.Config,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	m repository.Metrics,
	l *applogger.Logger,
) *internalrepo.ModelRegistry {
	opts := []internalrepo.RegistryOption{
		internalrepo.WithRegistryMetrics(m),
		internalrepo.WithRegistryLogger(l),
	}
	if ch != nil {
		opts = append(opts, internalrepo.WithModelStore(internalrepo.NewCHModelStore(ch, cfg.ClickHouse.Database+"."+modelsTable, l)))
	}
	if producer != nil && cfg.Kafka.ModelsTopic != "" {
		opts = append(opts, internalrepo.WithEventPublisher(internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.ModelsTopic)))
	}
	return internalrepo.NewModelRegistry(cfg.Pipeline.Registry.KeepVersions, opts...)
}

// ProvideExtractor creates the shared calendar feature extractor.
func ProvideExtractor() *features.Extractor {
	return features.NewExtractor(nil)
}

// ProvideTrainer creates the regression trainer from config.
func ProvideTrainer(cfg *config.Config, ext *features.Extractor, l *applogger.Logger) service.Trainer {
	tc := cfg.Pipeline.Trainer
	return forecasting.NewTrainer(forecasting.Options{
		MinObservations:   tc.MinObservations,
		MinSpan:           tc.MinSpan,
		Lookback:          tc.Lookback,
		HoldoutFraction:   tc.HoldoutFraction,
		MinHoldout:        tc.MinHoldout,
		WeeklyOrders:      tc.WeeklyOrders,
		HolidayWindowDays: tc.HolidayWindowDays,
		SigmaFloor:        tc.SigmaFloor,
		IntervalZ:         tc.IntervalZ,
		HorizonScaleDays:  tc.HorizonScaleDays,
	}, forecasting.WithExtractor(ext), forecasting.WithLogger(l))
}

func ProvideDecoder(ext *features.Extractor) service.ModelDecoder {
	return forecasting.NewDecoder(ext)
}

func ProvidePredictionTracker(cfg *config.Config) *usecase.PredictionTracker {
	return usecase.NewPredictionTracker(cfg.Pipeline.Staleness.ErrorWindow)
}

func ProvideNormalizer(catalog *internalrepo.ConfigCatalog, conv *fx.Converter) (*usecase.Normalizer, error) {
	return usecase.NewNormalizer(catalog, catalog, conv)
}

func ProvideIngestor(
	n *usecase.Normalizer,
	store *internalrepo.SeriesStore,
	tracker *usecase.PredictionTracker,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Ingestor {
	return usecase.NewIngestor(n, store, tracker, m, l)
}

// ProvideRedisCache connects to Redis, or returns nil when it is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 30*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideResultCache returns a layered Redis cache when Redis is enabled and
// a process-local one otherwise. It also serves as the retrain lock.
func ProvideResultCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc != nil {
		return cache.NewLayeredCache(rc, 10000, cfg.Pipeline.Forecast.CacheTTL/2)
	}
	return cache.NewMemoryCache(cache.WithMemoryMaxSize(10000), cache.WithMemoryCleanup(time.Minute))
}

func ProvideForecastServer(
	cfg *config.Config,
	catalog *internalrepo.ConfigCatalog,
	registry *internalrepo.ModelRegistry,
	store *internalrepo.SeriesStore,
	decoder service.ModelDecoder,
	m repository.Metrics,
	tracker *usecase.PredictionTracker,
	results cache.Service,
	l *applogger.Logger,
) *usecase.ForecastServer {
	fc := cfg.Pipeline.Forecast
	return usecase.NewForecastServer(catalog, registry, store, decoder, m,
		usecase.ForecastOptions{
			HardCeiling:     fc.HardCeiling,
			DegradedBand:    fc.DegradedBand,
			MaxHorizonDates: fc.MaxHorizonDates,
			CacheTTL:        fc.CacheTTL,
			ModelCacheTTL:   fc.ModelCacheTTL,
		},
		usecase.WithResultCache(results),
		usecase.WithForecastTracker(tracker),
		usecase.WithForecastLogger(l),
	)
}

// ProvideRetrainer creates the retrainer. Activations drop cached forecasts
// for the route.
func ProvideRetrainer(
	cfg *config.Config,
	store *internalrepo.SeriesStore,
	registry *internalrepo.ModelRegistry,
	trainer service.Trainer,
	m repository.Metrics,
	tracker *usecase.PredictionTracker,
	locker cache.Service,
	forecasts *usecase.ForecastServer,
	l *applogger.Logger,
) *usecase.Retrainer {
	return usecase.NewRetrainer(store, registry, trainer, m,
		usecase.RetrainOptions{
			Timeout:             cfg.Pipeline.Trainer.Timeout,
			RegressionTolerance: cfg.Pipeline.Trainer.RegressionTolerance,
			LockTTL:             cfg.Pipeline.Scheduler.LockTTL,
		},
		usecase.WithLocker(locker),
		usecase.WithRetrainTracker(tracker),
		usecase.WithRetrainLogger(l),
		usecase.OnActivation(forecasts.Invalidate),
	)
}

// ProvideStalenessEvaluator maps the configured reason order onto the
// evaluator. Unknown names were rejected by config validation.
func ProvideStalenessEvaluator(
	cfg *config.Config,
	registry *internalrepo.ModelRegistry,
	store *internalrepo.SeriesStore,
	tracker *usecase.PredictionTracker,
) *usecase.StalenessEvaluator {
	sc := cfg.Pipeline.Staleness
	priority := make([]models.StalenessReason, 0, len(sc.Priority))
	for _, name := range sc.Priority {
		if r, ok := models.ParseStalenessReason(name); ok {
			priority = append(priority, r)
		}
	}
	return usecase.NewStalenessEvaluator(registry, store, tracker, usecase.StalenessOptions{
		MaxAge:          sc.MaxAge,
		VolumeThreshold: sc.VolumeThreshold,
		ErrorThreshold:  sc.ErrorThreshold,
		ErrorMinSamples: sc.ErrorMinSamples,
		Priority:        priority,
	})
}

// ProvideScheduler creates the periodic retrain scheduler, or nil when it is
// disabled.
func ProvideScheduler(
	cfg *config.Config,
	catalog *internalrepo.ConfigCatalog,
	evaluator *usecase.StalenessEvaluator,
	retrainer *usecase.Retrainer,
	store *internalrepo.SeriesStore,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Scheduler {
	if !cfg.Pipeline.Scheduler.Enabled {
		return nil
	}
	return usecase.NewScheduler(catalog, evaluator, retrainer, store, m, l, usecase.SchedulerOptions{
		Interval:  cfg.Pipeline.Scheduler.Interval,
		Workers:   cfg.Pipeline.Scheduler.Workers,
		Retention: cfg.Pipeline.Series.Retention,
	})
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML, or nil
// when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	cc := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cc.GroupID),
		pkgkafka.WithConsumerWorkers(cc.Workers, cc.BufferSize),
		pkgkafka.WithConsumerRetry(cc.RetryMax, cc.BackoffMin, cc.BackoffMax),
		pkgkafka.WithConsumerDLQ(cc.DLQTopic),
		pkgkafka.WithConsumerFetch(cc.MinBytes, cc.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaIngestHandler handles raw fare batches from the ingest topic.
func ProvideKafkaIngestHandler(cfg *config.Config, ingestor *usecase.Ingestor, m repository.Metrics) *usecase.KafkaIngestHandler {
	return usecase.NewKafkaIngestHandler(cfg.Kafka.IngestTopic, ingestor, m)
}

// ProvideFeedCollector creates the streaming fare feed collector, or nil when
// the feed is disabled.
func ProvideFeedCollector(
	cfg *config.Config,
	catalog *internalrepo.ConfigCatalog,
	ingestor *usecase.Ingestor,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.FeedCollector {
	if !cfg.Feed.Enabled {
		return nil
	}
	stream := feed.New(feed.Config{
		Token:          cfg.Feed.Token,
		URL:            cfg.Feed.URL,
		Routes:         catalog.RouteIDs(),
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		PingInterval:   cfg.Feed.PingInterval,
		BufferSize:     cfg.Feed.BufferSize,
	}, l)
	// Build middleware pipeline between the feed and the ingestor
	pipe := mid.NewIngestPipeline(ingestor, m,
		mid.WithMaxRPS(cfg.Feed.MaxRPS),
		mid.WithBufferSize(cfg.Feed.BufferSize),
		mid.WithPipelineLogger(l),
	)
	return usecase.NewFeedCollector(stream, pipe, m, l)
}

// ProvideRetrainQueue creates the Redis job queue for async retrains, or nil
// without Redis.
func ProvideRetrainQueue(cfg *config.Config, rc *cache.RedisCache, retrainer *usecase.Retrainer, l *applogger.Logger) *queue.RedisQueue {
	if rc == nil {
		return nil
	}
	q := queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:    cfg.Redis.Queue.Workers,
		RetryLimit: cfg.Redis.Queue.RetryLimit,
		RetryDelay: cfg.Redis.Queue.RetryDelay,
	}, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":jobs"))
	q.RegisterJob(usecase.NewRetrainJob(retrainer, l))
	return q
}

func ProvideObservations(catalog *internalrepo.ConfigCatalog, store *internalrepo.SeriesStore) *usecase.ObservationsUseCase {
	return usecase.NewObservationsUseCase(catalog, store)
}

func ProvideRouteStatus(
	catalog *internalrepo.ConfigCatalog,
	registry *internalrepo.ModelRegistry,
	store *internalrepo.SeriesStore,
	evaluator *usecase.StalenessEvaluator,
	forecasts *usecase.ForecastServer,
) *usecase.RouteStatusUseCase {
	return usecase.NewRouteStatusUseCase(catalog, registry, store, evaluator, forecasts)
}

// ProvideFaresHandler assembles the HTTP API handler.
func ProvideFaresHandler(
	cfg *config.Config,
	l *applogger.Logger,
	catalog *internalrepo.ConfigCatalog,
	registry *internalrepo.ModelRegistry,
	ingestor *usecase.Ingestor,
	forecasts *usecase.ForecastServer,
	retrainer *usecase.Retrainer,
	observations *usecase.ObservationsUseCase,
	status *usecase.RouteStatusUseCase,
	q *queue.RedisQueue,
) *api.FaresEchoHandler {
	opts := []api.FaresOption{api.WithAdminRateLimit(ratelimit.New(), cfg.Server.AdminRPS)}
	if q != nil {
		opts = append(opts, api.WithRetrainQueue(q))
	}
	return api.NewFaresEchoHandler(l, api.FaresDeps{
		Catalog:      catalog,
		Registry:     registry,
		Ingester:     ingestor,
		Forecasts:    forecasts,
		Retrainer:    retrainer,
		Observations: observations,
		Status:       status,
	}, opts...)
}

// ProvideHTTPServer creates the Echo server with health and metrics routes.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, h *api.FaresEchoHandler) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, prometheus.DefaultRegisterer, prometheus.DefaultGatherer))
	}
	return xhttp.NewServer(l, []xhttp.Handler{h}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	store *internalrepo.SeriesStore,
	registry *internalrepo.ModelRegistry,
	conv *fx.Converter,
	scheduler *usecase.Scheduler,
	collector *usecase.FeedCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaIngestHandler,
	q *queue.RedisQueue,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
	results cache.Service,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	return server.New(cfg, l, server.Components{
		HTTP:       httpServer,
		Series:     store,
		Registry:   registry,
		FX:         conv,
		Scheduler:  scheduler,
		Collector:  collector,
		Consumer:   consumer,
		Handler:    kh,
		Queue:      q,
		Producer:   producer,
		ClickHouse: chClient,
		Cache:      results,
	})
}
