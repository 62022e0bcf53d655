package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/RichardoC/sam-ai/internal/logging"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

const defaultTimeout = 3 * time.Second

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its base FS, dialect and logger in package globals.
var migrateMu sync.Mutex

type Database struct {
	db       *sql.DB
	logger   *zap.Logger
	timeout  time.Duration
	maxTurns int
	now      func() time.Time
}

type Option func(*Database)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Database) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTimeout bounds every storage call. Non-positive values keep the default.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Database) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMaxTurnsPerSession keeps only the newest n turns of a session on every
// append. Zero disables the cap.
func WithMaxTurnsPerSession(n int) Option {
	return func(d *Database) {
		if n > 0 {
			d.maxTurns = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Database) {
		if now != nil {
			d.now = now
		}
	}
}

// DSNForFile builds a go-sqlite3 DSN for a database file. Transactions take
// the write lock at BEGIN so that concurrent appends serialize instead of
// failing on lock upgrade.
func DSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty database path", ErrInvalidArgument)
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path), nil
}

// New opens (creating if needed) the database at dbPath and applies pending migrations.
func New(ctx context.Context, dbPath string, opts ...Option) (*Database, error) {
	d := &Database{
		logger:  zap.NewNop(),
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	dsn, err := DSNForFile(dbPath)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	d.db = sqlDB

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrate(ctx, sqlDB, d.logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	d.logger.Debug("database ready", zap.String("dbPath", dbPath))
	return d, nil
}

func migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(logging.NewGooseLogger(logger))

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	return nil
}

// SchemaVersion reports the latest applied migration.
func (d *Database) SchemaVersion(ctx context.Context) (int64, error) {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.GetDBVersionContext(ctx, d.db)
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
