// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver), schema migrations and optional query tracing.
package repo

import (
	"net/url"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// Connection settings. SQLite serializes writers, so the pool stays small and
// busy_timeout absorbs short lock waits instead of failing with SQLITE_BUSY.
const (
	maxOpenConns  = 10
	busyTimeoutMS = 5000
	slowQuery     = 200 * time.Millisecond
)

// pragmas run on every new pool connection; foreign_keys and busy_timeout
// are per-connection settings in SQLite.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// OpenSQLite opens (or creates) the SQLite database at path. Slow queries and
// driver errors are reported through log.
func OpenSQLite(path string, log zerolog.Logger) (*gorm.DB, error) {
	// Fail early if the parent directory is missing; SQLite's own error for
	// this case is an unhelpful "out of memory (14)".
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{
		Logger: logger.New(gormWriter{log: log.With().Str("component", "gorm").Logger()}, logger.Config{
			SlowThreshold:             slowQuery,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxOpenConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

// gormWriter adapts zerolog to GORM's printf-style logger.
type gormWriter struct{ log zerolog.Logger }

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warn().Msgf(format, args...)
}

// AutoMigrate creates or updates every table owned or read by the service.
// The users and notifications tables belong to sibling services in the
// reference deployment; migrating them here keeps standalone setups working.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Chat{},
		&domain.Message{},
		&domain.Attachment{},
		&domain.Notification{},
		&domain.Idempotency{},
	)
}

// InstrumentTracing registers the GORM OpenTelemetry plugin so every query
// becomes a child span of the calling request or background job.
func InstrumentTracing(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin())
}
