package gormstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cardledger/cards/pkg/cards"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"

	defaultSQLiteFile = "pokemon_store.db"
	sqlitePragmas     = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
)

// Open resolves the driver from databaseURL and connects.
// Plain paths and sqlite:// URLs open a sqlite file, postgres:// and mysql:// open a server connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	driver, dsn, err := ResolveDriver(databaseURL)
	if err != nil {
		return nil, err
	}
	config := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var db *gorm.DB
	switch driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), config)
	case DriverMySQL:
		db, err = gorm.Open(mysql.Open(dsn), config)
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(dsn), config)
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return New(db), nil
}

// Initialize opens the store, ensures the schema and seeds the first account when the store is empty.
func Initialize(ctx context.Context, databaseURL string, seed cards.AccountInput) (*Store, error) {
	store, err := Open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if _, err := cards.EnsureSeedAccount(ctx, store, seed); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates missing tables and indexes.
func (store *Store) Migrate(ctx context.Context) error {
	if err := store.db.WithContext(ctx).AutoMigrate(&Account{}, &Card{}, &Trade{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (store *Store) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports whether the database is reachable.
func (store *Store) Ping(ctx context.Context) error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ResolveDriver maps a database URL to a driver name and the DSN that driver expects.
func ResolveDriver(databaseURL string) (string, string, error) {
	trimmed := strings.TrimSpace(databaseURL)
	switch {
	case trimmed == "":
		return "", "", fmt.Errorf("database url is required")
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return DriverPostgres, trimmed, nil
	case strings.HasPrefix(trimmed, "mysql://"):
		dsn := strings.TrimPrefix(trimmed, "mysql://")
		if !strings.Contains(dsn, "parseTime=") {
			dsn = appendQuery(dsn, "parseTime=true")
		}
		return DriverMySQL, dsn, nil
	case strings.HasPrefix(trimmed, "sqlite://"):
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Host + parsed.Path
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		if err != nil {
			return "", "", err
		}
		return DriverSQLite, sqliteDSN(sqlitePath), nil
	case strings.Contains(trimmed, "://"):
		return "", "", fmt.Errorf("unsupported database scheme in %q", trimmed)
	}
	sqlitePath, err := normalizeSQLitePath(trimmed)
	if err != nil {
		return "", "", err
	}
	return DriverSQLite, sqliteDSN(sqlitePath), nil
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	relative := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(relative), 0o755); err != nil {
		return "", err
	}
	return relative, nil
}

func sqliteDSN(path string) string {
	return appendQuery(path, sqlitePragmas)
}

func appendQuery(dsn string, query string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + query
	}
	return dsn + "?" + query
}
