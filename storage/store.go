// Package storage writes normalized records to a relational table.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/aluiziolira/go-books-etl/models"
)

// Dialect captures the SQL differences between supported databases.
type Dialect struct {
	Driver   string
	idColumn string
	ordinal  bool
}

var (
	// Postgres is used with the pgx driver.
	Postgres = Dialect{Driver: "pgx", idColumn: "id SERIAL PRIMARY KEY", ordinal: true}
	// SQLite is used with the modernc driver for local runs and tests.
	SQLite = Dialect{Driver: "sqlite", idColumn: "id INTEGER PRIMARY KEY AUTOINCREMENT"}
)

// DialectFor resolves a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case Postgres.Driver:
		return Postgres, nil
	case SQLite.Driver:
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (d Dialect) placeholder(n int) string {
	if d.ordinal {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Store appends records to a single destination table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// Open connects to dsn with the driver of dialect and verifies the connection.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", dialect.Driver, err)
	}
	return db, nil
}

// NewStore returns a store writing to table through db.
func NewStore(db *sql.DB, dialect Dialect, table string) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		table:   pgx.Identifier{table}.Sanitize(),
	}
}

func (s *Store) createTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s,
	title TEXT NOT NULL,
	author TEXT,
	price TEXT,
	rating TEXT
)`, s.table, s.dialect.idColumn)
}

func (s *Store) insertSQL() string {
	placeholders := make([]string, 4)
	for i := range placeholders {
		placeholders[i] = s.dialect.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (title, author, price, rating) VALUES (%s)",
		s.table, strings.Join(placeholders, ", "))
}

// EnsureTable creates the destination table when it does not exist. An
// existing table is left as is.
func (s *Store) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.createTableSQL()); err != nil {
		return &PersistError{Op: "create table", Err: err}
	}
	return nil
}

// Persist creates the table if needed and appends one row per record, all in
// one transaction. Rows are never updated; persisting the same records twice
// stores them twice.
func (s *Store) Persist(ctx context.Context, records []models.Record) (int, error) {
	if len(records) == 0 {
		return 0, &models.EmptyInputError{Stage: "persist"}
	}

	written := 0
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.createTableSQL()); err != nil {
			return &PersistError{Op: "create table", Err: err}
		}

		stmt, err := tx.PrepareContext(ctx, s.insertSQL())
		if err != nil {
			return &PersistError{Op: "prepare insert", Err: err}
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.Title, r.Author, r.Price, r.Rating); err != nil {
				return &PersistError{Op: "insert", Err: fmt.Errorf("record %q: %w", r.Title, err)}
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Debug("records persisted", slog.String("table", s.table), slog.Int("rows", written))
	return written, nil
}

// Count returns the number of rows in the destination table.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.table).Scan(&n); err != nil {
		return 0, &PersistError{Op: "count", Err: err}
	}
	return n, nil
}

// withTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise; either way its connection goes back
// to the pool.
func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistError{Op: "begin", Err: err}
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", slog.Any("error", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return &PersistError{Op: "commit", Err: err}
	}
	return nil
}
