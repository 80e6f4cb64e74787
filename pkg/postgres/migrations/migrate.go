// Package migrations applies the embedded SQL migrations with golang-migrate.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	dbmigrations "SignalGate/db/migrations"
	applogger "SignalGate/pkg/logger"
)

var (
	migrationsCounter   metric.Int64Counter
	migrationsCounterMu sync.Once
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Apply runs the embedded migrations against dsn in the given direction.
// Down rolls back a single step.
func Apply(ctx context.Context, dsn string, dir Direction, l *applogger.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			l.Warn("migrations connection close", applogger.Error(cerr))
		}
	}()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}
	src, err := iofs.New(dbmigrations.Files, ".")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			l.Warn("migrations close", applogger.Any("source_err", sourceErr), applogger.Any("db_err", dbErr))
		}
	}()

	l.Info("running database migrations", applogger.String("direction", string(dir)))

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		err = m.Steps(-1)
	default:
		return fmt.Errorf("unknown migration direction %q", dir)
	}
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			record(ctx, dir, "noop")
			l.Info("database migrations up-to-date")
			return nil
		}
		record(ctx, dir, "failed")
		return fmt.Errorf("apply migrations: %w", err)
	}

	record(ctx, dir, "applied")
	l.Info("database migrations applied", applogger.String("direction", string(dir)))
	return nil
}

func record(ctx context.Context, dir Direction, result string) {
	migrationsCounterMu.Do(func() {
		meter := otel.Meter("signalgate.migrations")
		counter, err := meter.Int64Counter("signalgate_db_migrations_total",
			metric.WithDescription("Migration runs executed via golang-migrate"),
			metric.WithUnit("{run}"))
		if err == nil {
			migrationsCounter = counter
		}
	})
	if migrationsCounter == nil {
		return
	}
	migrationsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", string(dir)),
		attribute.String("result", result),
	))
}
