package db

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type DBManager struct {
	DB     *sqlx.DB
	Driver string
}

// NewDBConnection opens the database and applies pending migrations.
func NewDBConnection(driver, dsn string) (*DBManager, error) {
	dbx, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite allows one writer; serialising on a single connection avoids
		// "database is locked" and keeps in-memory databases alive.
		dbx.SetMaxOpenConns(1)
	}

	if err := dbx.Ping(); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("db: ping %s: %w", driver, err)
	}

	manager := &DBManager{
		DB:     dbx,
		Driver: driver,
	}

	if err := manager.Migrate(); err != nil {
		dbx.Close()
		return nil, err
	}

	return manager, nil
}

// NewMemoryConnection returns a migrated, private in-memory SQLite database.
// Each distinct name gets its own database.
func NewMemoryConnection(name string) (*DBManager, error) {
	return NewDBConnection(DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
}

func (m *DBManager) Migrate() error {
	var (
		driver database.Driver
		dir    string
		err    error
	)

	switch m.Driver {
	case DriverSQLite:
		dir = "migrations/sqlite"
		driver, err = sqlite3.WithInstance(m.DB.DB, &sqlite3.Config{})
	case DriverPostgres:
		dir = "migrations/postgres"
		driver, err = migratepgx.WithInstance(m.DB.DB, &migratepgx.Config{})
	default:
		return fmt.Errorf("db: unsupported driver %q", m.Driver)
	}
	if err != nil {
		return fmt.Errorf("db: migration driver: %w", err)
	}

	source, err := iofs.New(migrationFiles, dir)
	if err != nil {
		return fmt.Errorf("db: migration source: %w", err)
	}

	mig, err := migrate.NewWithInstance("iofs", source, m.Driver, driver)
	if err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}

	// mig.Close would close the shared *sql.DB, so only the source is released.
	defer source.Close()

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("db: migrate up: %w", err)
	}
	return nil
}

func (m *DBManager) Ping(ctx context.Context) error {
	return m.DB.PingContext(ctx)
}

func (m *DBManager) Close() error {
	return m.DB.Close()
}
