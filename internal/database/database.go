package database

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database. SQLite is used for single-node
// deployments and tests, PostgreSQL for shared deployments.
func Open(driver, dsn string) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(driver) {
	case "", "sqlite":
		db, err = gorm.Open(sqlite.Open(sqliteDSN(dsn)), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Connect opens a SQLite database at path.
func Connect(path string) (*gorm.DB, error) {
	return Open("sqlite", path)
}

// sqliteDSN enables a busy timeout and WAL for file databases.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000&_journal_mode=WAL"
}
