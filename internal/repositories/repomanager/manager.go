// Package repomanager opens the engine's databases, runs their migrations
// and hands out the repositories built on them.
package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/voyagehub/assetsync/internal/dbx"
	"github.com/voyagehub/assetsync/internal/logging"
	"github.com/voyagehub/assetsync/internal/migrations"
	"github.com/voyagehub/assetsync/internal/repositories/ledger"
	"github.com/voyagehub/assetsync/internal/repositories/overrides"
	"github.com/voyagehub/assetsync/internal/repositories/records"
)

// Manager owns the Postgres and ledger connections. Postgres is optional:
// without it there are no persisted overrides and no record exports.
type Manager struct {
	pg       *sql.DB
	ledgerDB *sql.DB

	overrides overrides.Repository
	records   records.Repository
	ledger    ledger.Repository
}

// OpenPostgres connects with pgx, checks the connection and applies the
// migrations.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := dbx.Migrate(ctx, db, "postgres", migrations.Postgres()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return db, nil
}

// New opens the ledger at ledgerPath and, when dsn is set, Postgres. A
// Postgres failure is logged and leaves the manager without its
// repositories; a ledger failure is returned.
func New(ctx context.Context, dsn, ledgerPath string, log logging.Logger) (*Manager, error) {
	log = log.With("module", "repomanager")

	ledgerDB, err := ledger.Open(ctx, ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("ledger init error: %w", err)
	}
	m := &Manager{
		ledgerDB: ledgerDB,
		ledger:   ledger.NewSQLiteRepository(ledgerDB),
	}

	if dsn == "" {
		log.Warn(ctx, "no database configured, overrides and exports disabled")
		return m, nil
	}
	pg, err := OpenPostgres(ctx, dsn)
	if err != nil {
		log.Warn(ctx, "database unavailable, overrides and exports disabled", "error", err)
		return m, nil
	}
	m.pg = pg
	m.overrides = overrides.NewPostgresRepository(pg)
	m.records = records.NewPostgresRepository(pg)
	return m, nil
}

// Overrides is nil when Postgres is not available.
func (m *Manager) Overrides() overrides.Repository {
	return m.overrides
}

// Records is nil when Postgres is not available.
func (m *Manager) Records() records.Repository {
	return m.records
}

func (m *Manager) Ledger() ledger.Repository {
	return m.ledger
}

func (m *Manager) Close() error {
	var errs []error
	if m.pg != nil {
		errs = append(errs, m.pg.Close())
	}
	errs = append(errs, m.ledgerDB.Close())
	return errors.Join(errs...)
}
