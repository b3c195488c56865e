package main

import (
	"context"
	"fmt"
	"time"

	"github.com/falaja/tutor-bot/config"
	"github.com/falaja/tutor-bot/internal/domain/student"
	"github.com/falaja/tutor-bot/internal/infrastructure/persistence/postgres"
	"github.com/falaja/tutor-bot/pkg/circuitbreaker"
	"github.com/falaja/tutor-bot/pkg/logger"
)

// durableStore is the Postgres side of the session store as wired at boot.
type durableStore struct {
	conn *postgres.Connection
	repo student.Repository
	log  *logger.Logger

	// deferred is set when the database did not answer at boot and
	// migrations still have to run.
	deferred bool
}

// openDurable wires the student repository. A malformed URL or a failed
// migration stops the boot. An unreachable database does not: the repository
// is kept behind its breaker, turns run from the session cache, and the
// postgres health check keeps /ready failing until the database answers.
func openDurable(ctx context.Context, dc config.DatabaseConfig, log *logger.Logger, onBreaker func(string, circuitbreaker.State, circuitbreaker.State)) (*durableStore, error) {
	conn, err := postgres.OpenConnection(ctx, dc.URL, postgres.PoolConfig{
		MaxConns:        int32(dc.MaxConns),
		MinConns:        int32(dc.MinConns),
		MaxConnLifetime: dc.ConnMaxLifetime,
		MaxConnIdleTime: dc.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}

	d := &durableStore{
		conn: conn,
		repo: postgres.NewStudentRepository(conn, postgres.WithBreaker(circuitbreaker.DatabaseBreaker(onBreaker))),
		log:  log,
	}

	if err := conn.Ping(ctx); err != nil {
		log.Warn("database unreachable at boot, serving from the session cache", logger.Err(err))
		d.deferred = dc.AutoMigrate
		return d, nil
	}
	if dc.AutoMigrate {
		if err := d.migrate(ctx); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *durableStore) migrate(ctx context.Context) error {
	migrator := postgres.NewMigrator(d.conn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if status, err := migrator.Status(ctx); err == nil {
		d.log.Info("migrations completed", logger.Int("total", len(status)))
	}
	return nil
}

// migrateWhenReachable retries deferred migrations every interval until one
// run succeeds or ctx ends.
func (d *durableStore) migrateWhenReachable(ctx context.Context, every time.Duration) {
	if !d.deferred {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := d.conn.Ping(ctx); err != nil {
			continue
		}
		if err := d.migrate(ctx); err != nil {
			d.log.Error("deferred migrations failed", logger.Err(err))
			continue
		}
		d.deferred = false
		d.log.Info("database reachable again, durable store active")
		return
	}
}

func (d *durableStore) Close() {
	d.log.Info("closing database connection")
	d.conn.Close()
}
