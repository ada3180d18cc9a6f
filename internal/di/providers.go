package di

import (
	"context"
	"fmt"
	"time"

	"MarketPull/internal/domain/repository"
	"MarketPull/internal/engine"
	"MarketPull/internal/handler/api"
	internalrepo "MarketPull/internal/repository"
	"MarketPull/internal/service/providers"
	"MarketPull/internal/service/stream"
	svctransport "MarketPull/internal/service/transport"
	"MarketPull/internal/usecase"
	pkgcache "MarketPull/pkg/cache"
	pkgch "MarketPull/pkg/clickhouse"
	"MarketPull/pkg/config"
	xhttp "MarketPull/pkg/http"
	pkgkafka "MarketPull/pkg/kafka"
	applogger "MarketPull/pkg/logger"
	"MarketPull/pkg/metrics"
	"MarketPull/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client when the backend is
// clickhouse, otherwise nil.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Backend.Type != "clickhouse" {
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

	// Initialize schema
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	table := cfg.ClickHouse.Database + "." + cfg.ClickHouse.Table
	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database,
		"CREATE TABLE IF NOT EXISTS " + table +
			" (ts DateTime64(3), symbol String, price Float64, volume Float64, change_24h Float64, source String)" +
			" ENGINE=MergeTree ORDER BY (symbol, ts)",
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer when the backend is kafka,
// otherwise nil.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Backend.Type != "kafka" {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
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

// ProvideQuoteStorage creates the ClickHouse storage repository, or nil when
// no ClickHouse client is configured.
func ProvideQuoteStorage(chClient *pkgch.Client, cfg *config.Config) repository.Storage {
	if chClient == nil {
		return nil
	}
	return internalrepo.NewClickHouseStorage(chClient.DB(), cfg.ClickHouse.Database+"."+cfg.ClickHouse.Table)
}

// ProvideQuotePublisher creates the Kafka publisher repository, or nil when
// no producer is configured.
func ProvideQuotePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

// ProvideQuoteProcessor creates the quote processor use case.
func ProvideQuoteProcessor(
	pub repository.Publisher,
	store repository.Storage,
	rec *metrics.Recorder,
	cfg *config.Config,
) *usecase.QuoteProcessor {
	return usecase.NewQuoteProcessor(pub, store, rec, cfg.Backend.Type)
}

// ProvideTransport wraps the shared HTTP client as the engine transport.
func ProvideTransport() engine.Transport {
	return svctransport.New(xhttp.NewClient())
}

// ProvideWarmCache creates the Redis warm tier when enabled, otherwise nil.
func ProvideWarmCache(cfg *config.Config) (pkgcache.Service, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis warm cache: %w", err)
	}
	return pkgcache.NewLayeredCache(rc), nil
}

// ProvideEngine builds the acquisition engine and registers every configured
// category.
func ProvideEngine(
	cfg *config.Config,
	transport engine.Transport,
	proc *usecase.QuoteProcessor,
	rec *metrics.Recorder,
	warm pkgcache.Service,
	log *applogger.Logger,
) (*engine.Engine, error) {
	relays := make([]engine.Relay, 0, len(cfg.Engine.Relays))
	for _, r := range cfg.Engine.Relays {
		relays = append(relays, engine.Relay{
			Name:         r.Name,
			Endpoint:     r.Endpoint,
			EscapeTarget: r.EscapeTarget,
			UnwrapField:  r.UnwrapField,
		})
	}

	eng, err := engine.New(engine.Config{
		Transport: transport,
		Relays:    relays,
		Retry: engine.RetryPolicy{
			MaxRetries:     cfg.Engine.Retry.MaxRetries,
			BaseDelay:      cfg.Engine.Retry.BaseDelay,
			RateLimitDelay: cfg.Engine.Retry.RateLimitDelay,
			MaxDelay:       cfg.Engine.Retry.MaxDelay,
			JitterRatio:    cfg.Engine.Retry.JitterRatio,
		},
		BreakerThreshold: cfg.Engine.Breaker.Threshold,
		BreakerCooldown:  cfg.Engine.Breaker.Cooldown,
		DefaultTTL:       cfg.Engine.Cache.DefaultTTL,
		SweepInterval:    cfg.Engine.Cache.SweepInterval,
		PrimaryOnly:      cfg.Engine.PrimaryOnly,
		Sink:             usecase.NewEngineSink(proc),
		Metrics:          rec,
		Logger:           log,
	}, engine.WithCache(engine.NewResponseCache(warm)))
	if err != nil {
		return nil, err
	}

	for i := range cfg.Providers {
		cat, err := buildCategory(&cfg.Providers[i])
		if err != nil {
			eng.Close()
			return nil, err
		}
		if err := eng.RegisterCategory(cat); err != nil {
			eng.Close()
			return nil, err
		}
	}
	return eng, nil
}

func buildCategory(cc *config.CategoryConfig) (*engine.Category, error) {
	primary, err := buildProvider(cc.Name, &cc.Primary)
	if err != nil {
		return nil, err
	}
	fallbacks := make([]*engine.ProviderDescriptor, 0, len(cc.Fallbacks))
	for i := range cc.Fallbacks {
		p, err := buildProvider(cc.Name, &cc.Fallbacks[i])
		if err != nil {
			return nil, err
		}
		fallbacks = append(fallbacks, p)
	}

	mode := engine.Failover
	if cc.Mode == "round_robin" {
		mode = engine.RoundRobin
	}
	return &engine.Category{
		Name:      cc.Name,
		Primary:   primary,
		Fallbacks: fallbacks,
		Mode:      mode,
		TTL:       cc.TTL,
		Publish:   cc.Publish,
	}, nil
}

func buildProvider(category string, pc *config.ProviderConfig) (*engine.ProviderDescriptor, error) {
	norm, err := providers.ByName(pc.Normalizer)
	if err != nil {
		return nil, fmt.Errorf("category %s provider %s: %w", category, pc.Name, err)
	}
	return engine.NewProvider(engine.ProviderDescriptor{
		Name:           pc.Name,
		BaseEndpoint:   pc.BaseEndpoint,
		AuthKey:        pc.AuthKey,
		AuthHeaderName: pc.AuthHeaderName,
		AuthQueryParam: pc.AuthQueryParam,
		RequiresProxy:  pc.RequiresProxy,
		RequestMethod:  pc.RequestMethod,
		Timeout:        pc.Timeout,
		RateLimit: engine.RateLimit{
			Capacity:       pc.RateLimit.Capacity,
			RefillInterval: pc.RateLimit.RefillInterval,
		},
		Category:  category,
		Normalize: norm,
	}), nil
}

// ProvideQuoteStream creates the realtime websocket stream when enabled,
// otherwise nil.
func ProvideQuoteStream(cfg *config.Config, log *applogger.Logger) repository.QuoteStream {
	if !cfg.Stream.Enabled {
		return nil
	}
	return stream.New(
		cfg.Stream.APIKey,
		cfg.Stream.WebSocketURL,
		cfg.Stream.Symbols,
		cfg.Stream.ReconnectDelay,
		log,
	)
}

// ProvideQuoteCollector creates the collector use case, or nil when neither
// polling nor streaming is configured.
func ProvideQuoteCollector(
	eng *engine.Engine,
	proc *usecase.QuoteProcessor,
	qs repository.QuoteStream,
	cfg *config.Config,
	log *applogger.Logger,
) *usecase.QuoteCollector {
	if !cfg.Poll.Enabled && qs == nil {
		return nil
	}
	poll := usecase.PollConfig{}
	if cfg.Poll.Enabled {
		poll = usecase.PollConfig{
			Interval: cfg.Poll.Interval,
			Category: cfg.Poll.Category,
			Endpoint: cfg.Poll.Endpoint,
			Symbols:  cfg.Poll.Symbols,
		}
	}
	return usecase.NewQuoteCollector(eng, proc, qs, poll, log)
}

// ProvideHTTPHandler creates the Echo handler for the data API.
func ProvideHTTPHandler(log *applogger.Logger, eng *engine.Engine, store repository.Storage) xhttp.Handler {
	return api.NewDataEchoHandler(log, eng, store)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	eng *engine.Engine,
	collector *usecase.QuoteCollector,
	proc *usecase.QuoteProcessor,
	chClient *pkgch.Client,
	handler xhttp.Handler,
) *server.App {
	app := server.New(cfg, log, eng, collector, proc, chClient)
	app.SetHTTPHandler(handler)
	return app
}
