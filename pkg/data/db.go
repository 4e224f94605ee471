package data

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DataFileName string = "data.db"

	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

var (
	//go:embed sql/*
	f embed.FS

	errDBNotInitialized = errors.New("database not initialized")
)

// Store reads users and operator data from a SQL database.
type Store struct {
	db     *sql.DB
	driver string
}

// IsPostgres reports whether dsn addresses a postgres server rather than a sqlite file.
func IsPostgres(dsn string) bool {
	d := strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://")
}

// Open connects to the database at dsn. Postgres URLs use lib/pq,
// anything else is treated as a sqlite file path.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("dsn not specified")
	}

	driver := driverSQLite
	if IsPostgres(dsn) {
		driver = driverPostgres
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == driverSQLite {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}

	return &Store{db: db, driver: driver}, nil
}

// NewStore wraps an existing connection. driver is "sqlite" or "postgres".
func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// Driver returns the name of the SQL driver in use.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// Init creates the schema when it does not exist yet.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errDBNotInitialized
	}

	slog.Debug("creating db schema...", "driver", s.driver)
	b, err := f.ReadFile("sql/ddl.sql")
	if err != nil {
		return fmt.Errorf("failed to read the schema creation file: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}
	slog.Debug("db schema created")

	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errDBNotInitialized
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(q string) string {
	if s.driver != driverPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
