package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL engine behind a DB.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect maps a configured driver name onto a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", name)
}

// Config describes how to reach the tenant database.
type Config struct {
	Driver       string
	DSN          string
	QueryTimeout time.Duration
	MaxOpenConns int
}

// DB is a database/sql handle together with the dialect-specific behaviour
// the repositories need.
type DB struct {
	*sql.DB
	Dialect      Dialect
	QueryTimeout time.Duration

	schema *schemaState
}

// schemaState holds the column sets seen by the last schema evolution, per
// table. Tables never inspected are assumed to have every column.
type schemaState struct {
	mu     sync.RWMutex
	tables map[string]map[string]bool
}

func (db *DB) recordColumns(table string, names map[string]bool) {
	if db.schema == nil {
		return
	}
	cols := make(map[string]bool, len(names))
	for name := range names {
		cols[name] = true
	}
	db.schema.mu.Lock()
	db.schema.tables[table] = cols
	db.schema.mu.Unlock()
}

// HasColumn reports whether table carried column name after the last schema
// evolution.
func (db *DB) HasColumn(table, name string) bool {
	if db.schema == nil {
		return true
	}
	db.schema.mu.RLock()
	defer db.schema.mu.RUnlock()
	cols, ok := db.schema.tables[table]
	return !ok || cols[name]
}

const defaultQueryTimeout = 5 * time.Second

// Open connects to the configured database and pings it.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := openSQL(dialect, cfg.DSN)
	if err != nil {
		return nil, err
	}

	switch dialect {
	case SQLite:
		// one writer at a time; transactions never share the connection
		db.SetMaxOpenConns(1)
	case Postgres:
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, mapError(pingCtx, "ping database", err)
	}

	return &DB{
		DB:           db,
		Dialect:      dialect,
		QueryTimeout: timeout,
		schema:       &schemaState{tables: map[string]map[string]bool{}},
	}, nil
}

func openSQL(dialect Dialect, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	switch dialect {
	case Postgres:
		config, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DSN: %w", err)
		}
		return stdlib.OpenDB(*config), nil
	case SQLite:
		return sql.Open("sqlite", sqliteDSN(dsn))
	}
	return nil, fmt.Errorf("unsupported dialect %q", dialect)
}

// sqliteDSN enables foreign keys, a busy timeout and immediate transactions
// unless the DSN already sets pragmas of its own.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
}

// rebind rewrites ? placeholders into the dialect's native form.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
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

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn bundles what every repository method needs: where to send queries,
// how to write them and how long each round-trip may take.
type conn struct {
	db      *DB
	q       querier
	inTx    bool
	timeout time.Duration
}

func newConn(db *DB) conn {
	return conn{db: db, q: db.DB, timeout: db.QueryTimeout}
}

func (c conn) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c conn) rebind(query string) string {
	return c.db.Dialect.rebind(query)
}

func (c conn) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	res, err := c.q.ExecContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, mapError(ctx, op, err)
	}
	return res, nil
}

// withTx runs fn inside a transaction on c, committing only if fn succeeds.
// Nested calls reuse the outer transaction.
func (c conn) withTx(ctx context.Context, fn func(tc conn) error) error {
	if c.inTx {
		return fn(c)
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(ctx, "begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	tc := conn{db: c.db, q: tx, inTx: true, timeout: c.timeout}
	if err := fn(tc); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(ctx, "commit transaction", err)
	}
	return nil
}
