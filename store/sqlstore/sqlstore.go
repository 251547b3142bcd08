/*
Package sqlstore provides a SQL-backed implementation of cards.TxStore.

PURPOSE:
  Persists holders, cards, transactions and operations in SQLite or
  PostgreSQL. Queries are built with goqu for the active dialect and run
  through sqlx, so the same code path serves every driver.

DRIVERS:
  sqlite3:  mattn/go-sqlite3 (foreign keys on, WAL journal)
  postgres: lib/pq
  pgx:      jackc/pgx/v5 through database/sql (stdlib)

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on transactions and operations
  - Rows disappear only through ON DELETE CASCADE from card_holders
  - The only UPDATE in the package is the single-row balance adjustment

KEY TABLES:
  card_holders: Identity records
  cards:        Unique card_number, cached balance
  transactions: Immutable ledger, ordered by seq
  operations:   Immutable lifecycle audit trail, ordered by seq

CONCURRENCY:
  WithTx and single-statement writes share one in-process mutex. SQLite
  runs on a single connection so ":memory:" databases stay shared.
  Across processes the database decides: lock and serialization failures
  surface as cards.ErrConflict, a lost card number race as
  cards.ErrDuplicateCardNumber.

USAGE:
  st, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, "./data/cards.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  ledger := cards.NewLedger(st)

SEE ALSO:
  - cards/store.go: Interface definitions
  - cards/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	_ "github.com/jackc/pgx/v5/stdlib"                  // "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // "postgres" driver
	_ "github.com/mattn/go-sqlite3" // "sqlite3" driver

	"github.com/warp/card-ledger/cards"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

const (
	defaultMaxOpenConnections = 10
	defaultMaxIdleConnections = 5
	defaultMaxConnLifetime    = time.Hour
)

// Store implements cards.TxStore over a SQL database.
type Store struct {
	conn
	db *sqlx.DB
	mu sync.Mutex
}

// Open connects to the database, applies the schema and returns the store.
// Use ":memory:" as the SQLite DSN for an in-memory database.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(defaultMaxOpenConnections)
		db.SetMaxIdleConns(defaultMaxIdleConnections)
		db.SetConnMaxLifetime(defaultMaxConnLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an open connection and migrates the schema.
func New(ctx context.Context, db *sqlx.DB) (*Store, error) {
	dialect, err := dialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}

	s := &Store{
		conn: conn{q: db, dialect: goqu.Dialect(dialect)},
		db:   db,
	}
	if err := s.migrate(ctx, dialect); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func dialectFor(driver string) (string, error) {
	switch driver {
	case DriverSQLite:
		return "sqlite3", nil
	case DriverPostgres, DriverPgx:
		return "postgres", nil
	}
	return "", fmt.Errorf("unsupported driver %q", driver)
}

func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_journal_mode=WAL"
}

// =============================================================================
// WRITES (serialized)
// =============================================================================

func (s *Store) InsertHolder(ctx context.Context, h cards.Holder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.InsertHolder(ctx, h)
}

func (s *Store) DeleteHolder(ctx context.Context, id cards.HolderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.DeleteHolder(ctx, id)
}

func (s *Store) InsertCard(ctx context.Context, c cards.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.InsertCard(ctx, c)
}

func (s *Store) AdjustBalance(ctx context.Context, id cards.CardID, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.AdjustBalance(ctx, id, delta)
}

func (s *Store) AppendTransaction(ctx context.Context, tx cards.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.AppendTransaction(ctx, tx)
}

func (s *Store) AppendOperation(ctx context.Context, op cards.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.AppendOperation(ctx, op)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(cards.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(&conn{q: tx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

var _ cards.TxStore = (*Store)(nil)
