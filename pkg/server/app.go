package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"SignalGate/pkg/config"
	xhttp "SignalGate/pkg/http"
	pkgkafka "SignalGate/pkg/kafka"
	applogger "SignalGate/pkg/logger"
	"SignalGate/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	httpServer *xhttp.Server
	runner     *queue.Runner
	consumer   *pkgkafka.Consumer // nil when no alert topic is configured
}

// New creates a new App instance with all dependencies. Infrastructure
// clients are released by the cleanup returned from the DI injector.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	httpServer *xhttp.Server,
	runner *queue.Runner,
	consumer *pkgkafka.Consumer,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		httpServer: httpServer,
		runner:     runner,
		consumer:   consumer,
	}
}

// Runner exposes the job runner for one-shot draining from the CLI.
func (a *App) Runner() *queue.Runner { return a.runner }

// Logger returns the application logger.
func (a *App) Logger() *applogger.Logger { return a.log }

// Run starts the HTTP server, job workers and the optional alert consumer,
// then blocks until ctx is cancelled or an interrupt arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.runner.Start(); err != nil {
		return err
	}

	var wg conc.WaitGroup
	if a.consumer != nil {
		wg.Go(func() {
			if err := a.consumer.Run(ctx); err != nil {
				a.log.Error("kafka alert consumer stopped", applogger.Error(err))
			}
		})
		a.log.Info("kafka alert consumer started", applogger.String("topic", a.cfg.Kafka.Alerts.Topic))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		stop()
		wg.Wait()
		a.shutdown()
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	wg.Wait()
	a.shutdown()
	return nil
}

// shutdown gracefully stops all services.
func (a *App) shutdown() {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	if err := a.runner.Stop(ctx); err != nil {
		a.log.Warn("job runner stop error", applogger.Error(err))
	}
	a.log.Info("shutdown complete")
}
