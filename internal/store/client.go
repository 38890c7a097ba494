// Package store is the relational persistence layer for the §3 data model:
// raw database/sql over the pgx driver, with schema managed by one embedded
// golang-migrate migration. Grounded on the teacher's pkg/database/client.go
// connection-pool-plus-embedded-migration idiom; the Ent ORM layer the
// teacher wraps around it is not carried forward (see DESIGN.md) — every
// repository here issues hand-written SQL directly against *sql.DB.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps the pooled *sql.DB and exposes one repository per entity.
type Client struct {
	db *sql.DB

	Bots           *BotRepo
	Consumers      *ConsumerRepo
	Interests      *InterestRepo
	Subscriptions  *SubscriptionRepo
	ChannelStates  *ChannelStateRepo
	Authorizations *AuthorizationRepo
	RuntimeStats   *RuntimeStatsRepo
	EventTraces    *EventTraceRepo
}

// DB returns the underlying pool, for health checks.
func (c *Client) DB() *sql.DB { return c.db }

// Close releases the connection pool.
func (c *Client) Close() error { return c.db.Close() }

// NewClient opens a pooled connection to cfg.DatabaseURL, applies the
// embedded migration, and returns a ready-to-use Client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewClientFromDB(db), nil
}

// NewClientFromDB wraps an already-open *sql.DB (used by tests with an
// in-process or externally-managed connection).
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{
		db:             db,
		Bots:           &BotRepo{db: db},
		Consumers:      &ConsumerRepo{db: db},
		Interests:      &InterestRepo{db: db},
		Subscriptions:  &SubscriptionRepo{db: db},
		ChannelStates:  &ChannelStateRepo{db: db},
		Authorizations: &AuthorizationRepo{db: db},
		RuntimeStats:   &RuntimeStatsRepo{db: db},
		EventTraces:    &EventTraceRepo{db: db},
	}
}

// runMigrations applies every pending embedded migration, idempotently.
func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "twitch_service", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	// Don't call m.Close(): it closes the underlying *sql.DB through the
	// postgres driver, which we still need for the repositories below.
	return sourceDriver.Close()
}
