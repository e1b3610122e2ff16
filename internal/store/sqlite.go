// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the shared pool with WAL and busy timeout, then migrates or creates the schema

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/metric"
	_ "modernc.org/sqlite"
)

const (
	// DriverModernc is the pure-Go driver and the default.
	DriverModernc = "sqlite"
	// DriverMattn is the cgo driver.
	DriverMattn = "sqlite3"

	defaultBusyTimeout = 5 * time.Second
)

// sqlNow renders the current UTC time with millisecond precision.
// The format sorts lexically and is understood by julianday().
const sqlNow = `strftime('%Y-%m-%d %H:%M:%f', 'now')`

// Options configures how the store opens its database.
type Options struct {
	// Path is the database file. Parent directories are created if needed.
	Path string
	// Driver is DriverModernc (default) or DriverMattn.
	Driver string
	// BusyTimeout bounds how long a writer waits on another writer.
	BusyTimeout time.Duration

	// LegacyDir and LegacyLoader drive the one-time import that runs
	// when the database file is created. Both must be set for it to run.
	LegacyDir    string
	LegacyLoader LegacyLoader

	Logger *slog.Logger
	// Meter records tool ledger metrics. The global meter is used if nil.
	Meter metric.Meter
	// Now overrides the clock used for day-scoped session ids.
	Now func() time.Time
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *ledgerMetrics
	now     func() time.Time

	// LastImport is the result of the legacy import run at creation, if any.
	LastImport *ImportReport
}

// Open opens the SQLite store described by opts.
// An existing database is migrated to CurrentSchemaVersion; a new one is
// created at that version directly and seeded from the legacy loader.
func Open(ctx context.Context, opts Options) (*SQLiteStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if opts.Path == "" {
		return nil, &StorageUnavailableError{Path: opts.Path, Err: errors.New("database path is empty")}
	}

	_, statErr := os.Stat(opts.Path)
	existed := statErr == nil

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, &StorageUnavailableError{Path: opts.Path, Err: fmt.Errorf("creating database directory: %w", err)}
	}

	driver := opts.Driver
	if driver == "" {
		driver = DriverModernc
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	dsn, err := buildDSN(driver, opts.Path, busy)
	if err != nil {
		return nil, &StorageUnavailableError{Path: opts.Path, Err: err}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &StorageUnavailableError{Path: opts.Path, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StorageUnavailableError{Path: opts.Path, Err: err}
	}

	m, err := newLedgerMetrics(opts.Meter)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger metrics: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &SQLiteStore{
		db:      db,
		logger:  logger,
		metrics: m,
		now:     now,
	}

	fresh, err := s.isEmpty(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("inspecting database: %w", err)
	}

	if fresh {
		if err := s.createSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
		if !existed && opts.LegacyLoader != nil && opts.LegacyDir != "" {
			report := s.importLegacy(ctx, opts.LegacyLoader, opts.LegacyDir)
			s.LastImport = &report
		}
	} else {
		if err := s.runMigrations(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	logger.Info("SQLite store initialized", "path", opts.Path, "driver", driver, "fresh", fresh)
	return s, nil
}

// buildDSN encodes the per-connection pragmas in the form each driver
// understands, so every pooled connection gets them.
func buildDSN(driver, path string, busy time.Duration) (string, error) {
	ms := busy.Milliseconds()
	switch driver {
	case DriverModernc:
		return fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_txlock=immediate",
			path, ms), nil
	case DriverMattn:
		return fmt.Sprintf(
			"file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d&_txlock=immediate",
			path, ms), nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// inTx runs fn inside a transaction, committing on success.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// parseTimestamp reads the timestamp formats the schema can hold:
// SQLite datetime text with or without fractional seconds, and RFC3339.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// formatTimestamp renders t the way sqlNow does.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000")
}

// nullInt32 converts a nullable column value to a pointer.
func nullInt32(n sql.NullInt32) *int32 {
	if !n.Valid {
		return nil
	}
	v := n.Int32
	return &v
}

func nullStringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

// ptrArg turns an optional value into a bind argument (nil for NULL).
func ptrArg[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
