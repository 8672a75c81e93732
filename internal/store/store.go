// Package store implements the order repositories on top of sqlx. The same
// queries run against Postgres (through the pgx pool) and SQLite; placeholders
// are written as ? and rebound per driver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/postgres"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Store struct {
	db   *sqlx.DB
	pool *pgxpool.Pool
}

// Open connects to the configured driver and ensures the schema exists.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var s Store
	switch driver {
	case DriverPostgres:
		pool, err := postgres.Connect(ctx, dsn, 8)
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		s.pool = pool
		s.db = sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
	case DriverSQLite:
		db, err := sqlx.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// one connection serializes writers and keeps :memory: databases alive
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		s.db = db
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}

	if err := ensureSchema(ctx, s.db, driver); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &s, nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// DB exposes the handle for seeding and tests.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Repos() orders.Repositories { return reposFor(s.db) }

func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, r orders.Repositories) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, reposFor(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func reposFor(q sqlx.ExtContext) orders.Repositories {
	return orders.Repositories{
		Products: &productRepo{q: q},
		Orders:   &orderRepo{q: q},
		Carts:    &cartRepo{q: q},
		Reviews:  &reviewRepo{q: q},
		Users:    &userRepo{q: q},
	}
}

var errNoRows = sql.ErrNoRows

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, orders.ErrNotFound)
	}
	return err
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
