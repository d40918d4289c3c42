package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"eauharvest/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DefaultURL keeps the ledger next to the harvested metadata
const DefaultURL = "sqlite://metadata/state.db"

// Options configures the ledger database connection
type Options struct {
	URL             string
	LogLevel        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Init opens the database connection and runs auto-migration
func Init(opts Options) (*gorm.DB, error) {
	databaseURL := opts.URL
	if databaseURL == "" {
		databaseURL = DefaultURL
	}

	var dialector gorm.Dialector
	sqliteBackend := false

	if strings.HasPrefix(databaseURL, "sqlite://") {
		dbPath := strings.TrimPrefix(databaseURL, "sqlite://")
		if dbPath == "" {
			return nil, fmt.Errorf("empty sqlite path in database URL")
		}

		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}

		// WAL keeps readers unblocked while the single writer commits
		dialector = sqlite.Open(dbPath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
		sqliteBackend = true
	} else if strings.HasPrefix(databaseURL, "postgresql://") || strings.HasPrefix(databaseURL, "postgres://") {
		dialector = postgres.Open(databaseURL)
	} else {
		return nil, fmt.Errorf("unsupported database URL format: %s", databaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(opts.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	maxOpenConns := opts.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = 25
		if sqliteBackend {
			maxOpenConns = 4
		}
	}
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = 2
	}
	connMaxLifetime := opts.ConnMaxLifetime
	if connMaxLifetime <= 0 {
		connMaxLifetime = 5 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	log.Debug().
		Int("max_open", maxOpenConns).
		Int("max_idle", maxIdleConns).
		Dur("max_lifetime", connMaxLifetime).
		Msg("Database connection pool configured")

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}

	log.Info().Str("url", redact(databaseURL)).Msg("Database initialized")
	return db, nil
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Task{},
		&models.Operation{},
		&models.Download{},
		&models.ScheduledJob{},
	)
}

// Close closes the database connection
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// redact hides the password of a postgres URL before logging it
func redact(databaseURL string) string {
	at := strings.LastIndex(databaseURL, "@")
	scheme := strings.Index(databaseURL, "://")
	if at < 0 || scheme < 0 {
		return databaseURL
	}
	creds := databaseURL[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return databaseURL[:scheme+3] + creds[:colon] + ":***" + databaseURL[at:]
	}
	return databaseURL
}
