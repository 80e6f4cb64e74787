package di

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/handler/api"
	"SignalGate/internal/middleware"
	"SignalGate/internal/repository"
	"SignalGate/internal/service/execution"
	"SignalGate/internal/service/marketdata"
	"SignalGate/internal/service/normalize"
	"SignalGate/internal/service/ratelimit"
	"SignalGate/internal/service/strategy"
	"SignalGate/internal/usecase"
	"SignalGate/pkg/cache"
	"SignalGate/pkg/config"
	xhttp "SignalGate/pkg/http"
	pkgkafka "SignalGate/pkg/kafka"
	applogger "SignalGate/pkg/logger"
	"SignalGate/pkg/metrics"
	"SignalGate/pkg/postgres"
	"SignalGate/pkg/postgres/migrations"
	"SignalGate/pkg/queue"
	"SignalGate/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder on the default registry.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideRedisCache connects to Redis. It returns nil when no address is
// configured.
func ProvideRedisCache(cfg *config.Config, log *applogger.Logger) (*cache.RedisCache, func(), error) {
	if cfg.Redis.Addr == "" {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 5*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	log.Info("redis connected", applogger.String("addr", cfg.Redis.Addr))
	return rc, func() {
		if err := rc.Close(); err != nil {
			log.Warn("redis close error", applogger.Error(err))
		}
	}, nil
}

// ProvideKV selects the key/value backend for state, idempotency, audit and
// setups: Redis when connected, otherwise an in-process cache.
func ProvideKV(rc *cache.RedisCache, log *applogger.Logger) (cache.Service, func()) {
	if rc != nil {
		return rc, func() {}
	}
	log.Warn("redis not configured, using in-process store; state is lost on restart")
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(time.Minute))
	return mc, func() { _ = mc.Close() }
}

// ProvidePostgresPool opens the Postgres pool and applies migrations when
// asked to. It returns nil when no DSN is configured.
func ProvidePostgresPool(cfg *config.Config, log *applogger.Logger) (*pgxpool.Pool, func(), error) {
	if cfg.Postgres.DSN == "" {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Postgres.ConnectTimeout+5*time.Second)
	defer cancel()

	if cfg.Postgres.MigrateOnStart {
		if err := migrations.Apply(ctx, cfg.Postgres.DSN, migrations.Up, log); err != nil {
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
	}
	pool, err := postgres.Connect(ctx, postgres.Config{
		DSN:            cfg.Postgres.DSN,
		MaxConns:       cfg.Postgres.MaxConns,
		ConnectTimeout: cfg.Postgres.ConnectTimeout,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	return pool, pool.Close, nil
}

func ProvideJobQueue(cfg *config.Config, pool *pgxpool.Pool) domrepo.JobQueue {
	if pool == nil {
		return repository.NewMemoryJobQueue(cfg.Jobs.StaleLockAfter)
	}
	return repository.NewPgJobQueue(pool, cfg.Jobs.StaleLockAfter)
}

func ProvideEventStore(cfg *config.Config, pool *pgxpool.Pool) domrepo.EventStore {
	if pool == nil {
		return repository.NewMemoryEventStore(cfg.Pipeline.EventsCap)
	}
	return repository.NewPgEventStore(pool)
}

func ProvideIdempotencyStore(kv cache.Service) domrepo.IdempotencyStore {
	return repository.NewCacheIdempotencyStore(kv)
}

func ProvideStateStore(kv cache.Service) domrepo.StateStore {
	return repository.NewCacheStateStore(kv)
}

func ProvideStateIndex(cfg *config.Config, kv cache.Service) domrepo.StateIndex {
	return repository.NewCacheStateIndex(kv, cfg.Pipeline.IndexTTL)
}

func ProvideAuditLog(cfg *config.Config, kv cache.Service) domrepo.AuditLog {
	return repository.NewCacheAuditLog(kv, cfg.Pipeline.AuditCap, cfg.Pipeline.AuditTTL)
}

func ProvideSetupStore(cfg *config.Config, kv cache.Service) domrepo.SetupStore {
	return repository.NewCacheSetupStore(kv, cfg.Pipeline.SetupCap, cfg.Pipeline.SetupTTL)
}

// ProvideKafkaProducer creates a Kafka producer and, when a log topic is set,
// ships aggregated error logs through it. It returns nil without brokers.
func ProvideKafkaProducer(cfg *config.Config, log *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithTimeouts(cfg.Kafka.WriteTimeout, 10*time.Second),
		pkgkafka.WithAutoCreateTopics(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	if cfg.Kafka.LogTopic != "" {
		log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogTopic,
			Publisher:      producer,
		})
	}
	return producer, func() {
		log.RemoveCollector()
		if err := producer.Close(); err != nil {
			log.Warn("kafka producer close error", applogger.Error(err))
		}
	}, nil
}

func ProvideDecisionPublisher(cfg *config.Config, producer *pkgkafka.Producer) domrepo.DecisionPublisher {
	if producer == nil || cfg.Kafka.DecisionTopic == "" {
		return repository.NopDecisionPublisher{}
	}
	return repository.NewKafkaDecisionPublisher(producer, cfg.Kafka.DecisionTopic)
}

// ProvideMarketData builds the HTTP market data provider behind a response
// cache. It returns nil when no base URL is configured.
func ProvideMarketData(cfg *config.Config, rc *cache.RedisCache, log *applogger.Logger) (domrepo.MarketData, func()) {
	if cfg.MarketData.BaseURL == "" {
		return nil, func() {}
	}
	var responses cache.Service
	if rc != nil {
		responses = cache.NewLayeredCache(rc,
			cache.WithLayeredMemorySize(2000),
			cache.WithLayeredMemoryTTL(cfg.MarketData.QuoteTTL),
		)
	} else {
		responses = cache.NewMemoryCache(
			cache.WithMemoryMaxSize(2000),
			cache.WithMemoryCleanup(time.Minute),
		)
	}
	return marketdata.NewHTTPProvider(cfg.MarketData, responses, log), func() { _ = responses.Close() }
}

func ProvideRegistry(cfg *config.Config) (*strategy.Registry, error) {
	reg, err := strategy.NewRegistry(cfg.Strategies)
	if err != nil {
		return nil, fmt.Errorf("strategy registry: %w", err)
	}
	return reg, nil
}

func ProvideRouter(cfg *config.Config) *execution.Router {
	return execution.NewRouter(execution.Config{
		LiveEnabled: cfg.Execution.LiveEnabled,
		NotesCap:    cfg.Pipeline.NotesCap,
	})
}

func ProvideOrchestrator(
	cfg *config.Config,
	idem domrepo.IdempotencyStore,
	states domrepo.StateStore,
	index domrepo.StateIndex,
	audit domrepo.AuditLog,
	setups domrepo.SetupStore,
	publisher domrepo.DecisionPublisher,
	market domrepo.MarketData,
	router *execution.Router,
	locker *middleware.KeyedLocker,
	m domrepo.Metrics,
	log *applogger.Logger,
) *usecase.Orchestrator {
	return usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Idempotency: idem,
		States:      states,
		Index:       index,
		Audit:       audit,
		Setups:      setups,
		Publisher:   publisher,
		MarketData:  market,
		Router:      router,
		Locker:      locker,
		Metrics:     m,
		Log:         log,
	}, usecase.OrchestratorConfig{
		IdempotencyTTL: cfg.Webhook.IdempotencyTTL,
		StateTTL:       cfg.Pipeline.StateTTL,
		NotesCap:       cfg.Pipeline.NotesCap,
		SetupHistory:   cfg.Pipeline.SetupCap,
		MarketTimeout:  cfg.MarketData.Timeout,
	})
}

func ProvideIngestor(
	cfg *config.Config,
	reg *strategy.Registry,
	norm *normalize.Normalizer,
	events domrepo.EventStore,
	audit domrepo.AuditLog,
	jobs domrepo.JobQueue,
	orch *usecase.Orchestrator,
	m domrepo.Metrics,
	log *applogger.Logger,
) *usecase.Ingestor {
	return usecase.NewIngestor(reg, norm, events, audit, jobs, orch, m, log, usecase.IngestorConfig{
		Secret:         cfg.Webhook.Secret,
		ApprovalWindow: cfg.Jobs.ApprovalWindow,
	})
}

// ProvideJobRunner creates the durable job runner with every job type registered.
func ProvideJobRunner(
	cfg *config.Config,
	log *applogger.Logger,
	jobs domrepo.JobQueue,
	m domrepo.Metrics,
	processor *usecase.JobProcessor,
) *queue.Runner {
	return queue.NewRunner(log, queue.Config{
		Workers:      cfg.Jobs.Workers,
		BatchSize:    cfg.Jobs.BatchSize,
		PollInterval: cfg.Jobs.PollInterval,
		WorkerID:     cfg.Jobs.WorkerID,
	}, jobs, m, processor)
}

func ProvideOpsLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.OpsRateLimit, cfg.Server.OpsBurst)
}

func ProvideWebhookHandler(cfg *config.Config, log *applogger.Logger, ing *usecase.Ingestor) *api.WebhookEchoHandler {
	return api.NewWebhookEchoHandler(log, ing, cfg.Webhook.MaxBodyBytes)
}

func ProvideOpsHandler(
	log *applogger.Logger,
	audit domrepo.AuditLog,
	setups domrepo.SetupStore,
	states domrepo.StateStore,
	index domrepo.StateIndex,
	jobs domrepo.JobQueue,
	reg *strategy.Registry,
	limiter *ratelimit.Limiter,
) *api.OpsEchoHandler {
	return api.NewOpsEchoHandler(log, api.OpsDeps{
		Audit:    audit,
		Setups:   setups,
		States:   states,
		Index:    index,
		Jobs:     jobs,
		Registry: reg,
		Limiter:  limiter,
	})
}

// ProvideHTTPServer builds the Echo server. The transport body limit sits
// above the webhook limit so oversized alerts still reach the handler and
// get acknowledged.
func ProvideHTTPServer(
	cfg *config.Config,
	log *applogger.Logger,
	webhook *api.WebhookEchoHandler,
	ops *api.OpsEchoHandler,
) *xhttp.Server {
	bodyLimit := fmt.Sprintf("%dK", 2*cfg.Webhook.MaxBodyBytes/1024+1)
	return xhttp.NewServer(log, []xhttp.Handler{webhook, ops},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithBodyLimit(bodyLimit),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithCORS(len(cfg.Server.AllowedOrigins) > 0, cfg.Server.AllowedOrigins...),
		xhttp.WithMetrics(cfg.Metrics.Enabled, cfg.Metrics.Path),
	)
}

// ProvideAlertConsumer creates the Kafka alert consumer. It returns nil when
// no alert topic is configured.
func ProvideAlertConsumer(cfg *config.Config, ing *usecase.Ingestor, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	topic := cfg.Kafka.Alerts.Topic
	if topic == "" || len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(usecase.NewKafkaAlertHandler(topic, ing, log), log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerTopic(topic),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Alerts.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Alerts.Workers),
		pkgkafka.WithConsumerRetry(3),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	httpServer *xhttp.Server,
	runner *queue.Runner,
	consumer *pkgkafka.Consumer,
) *server.App {
	return server.New(cfg, log, httpServer, runner, consumer)
}
