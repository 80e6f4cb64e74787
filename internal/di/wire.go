//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/middleware"
	"SignalGate/internal/service/normalize"
	"SignalGate/internal/usecase"
	"SignalGate/pkg/config"
	"SignalGate/pkg/metrics"
	"SignalGate/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// The cleanup releases infrastructure clients in reverse order.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure clients
		ProvideLogger,
		ProvideMetrics,
		wire.Bind(new(domrepo.Metrics), new(*metrics.Recorder)),
		ProvideRedisCache,
		ProvideKV,
		ProvidePostgresPool,
		ProvideKafkaProducer,
		ProvideMarketData,

		// Repositories
		ProvideJobQueue,
		ProvideEventStore,
		ProvideIdempotencyStore,
		ProvideStateStore,
		ProvideStateIndex,
		ProvideAuditLog,
		ProvideSetupStore,
		ProvideDecisionPublisher,

		// Use cases
		ProvideRegistry,
		normalize.New,
		ProvideRouter,
		middleware.NewKeyedLocker,
		ProvideOrchestrator,
		ProvideIngestor,
		usecase.NewJobProcessor,
		ProvideJobRunner,

		// Transport
		ProvideOpsLimiter,
		ProvideWebhookHandler,
		ProvideOpsHandler,
		ProvideHTTPServer,
		ProvideAlertConsumer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
