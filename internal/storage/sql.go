package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know about.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Options configures the connection pool
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore implements Store interface on top of database/sql.
// The same queries run against PostgreSQL and SQLite; placeholders are
// written as ? and rebound per driver.
type SQLStore struct {
	db *sqlx.DB
	tx *sqlx.Tx
}

// Open opens a store for the given driver and runs migrations
func Open(driverName, dsn string, opts Options) (*SQLStore, error) {
	switch driverName {
	case DriverPostgres:
		return NewPostgresStore(dsn, opts)
	case DriverSQLite, "sqlite3":
		return NewSQLiteStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(dsn string, opts Options) (*SQLStore, error) {
	db, err := sqlx.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewSQLiteStore creates a store backed by an SQLite file
func NewSQLiteStore(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLStore{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BeginTx starts a new transaction
func (s *SQLStore) BeginTx(ctx context.Context) (Store, error) {
	if s.tx != nil {
		return nil, errors.New("nested transactions are not supported")
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &SQLStore{db: s.db, tx: tx}, nil
}

// Commit commits the transaction
func (s *SQLStore) Commit() error {
	if s.tx == nil {
		return nil
	}
	return wrapErr(s.tx.Commit())
}

// Rollback rolls back the transaction
func (s *SQLStore) Rollback() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// getDB returns tx if in transaction, otherwise db
func (s *SQLStore) getDB() queryer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *SQLStore) driverName() string {
	return s.db.DriverName()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	q := s.getDB()
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	return res, wrapErr(err)
}

func (s *SQLStore) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	q := s.getDB()
	return wrapErr(q.GetContext(ctx, dest, q.Rebind(query), args...))
}

func (s *SQLStore) selectIn(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return fmt.Errorf("expand query: %w", err)
	}
	q := s.getDB()
	return wrapErr(q.SelectContext(ctx, dest, q.Rebind(query), args...))
}

// execAffected runs a conditional statement and reports ErrConflict when
// it matched nothing.
func (s *SQLStore) execAffected(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// whereClause accumulates AND-ed filter conditions
type whereClause struct {
	conds []string
	args  []interface{}
}

func (w *whereClause) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func orderAndLimit(oldestFirst bool, limit int) string {
	clause := " ORDER BY created_at DESC, id DESC"
	if oldestFirst {
		clause = " ORDER BY created_at ASC, id ASC"
	}
	if limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", limit)
	}
	return clause
}

// wrapErr maps driver errors onto the package sentinels
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	if isTransientErr(err) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "unique constraint")
}

func isTransientErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected, connection exceptions
		switch {
		case pqErr.Code == "40001", pqErr.Code == "40P01", strings.HasPrefix(string(pqErr.Code), "08"):
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
