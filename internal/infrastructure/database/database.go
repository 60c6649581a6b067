package database

import (
	"strings"

	"ogcr-registry/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens a GORM DB from DSN. Postgres URLs go through the pgx driver;
// "sqlite://<path>" and ":memory:" use the embedded sqlite driver.
// PreferSimpleProtocol disables prepared statement caching to avoid 42P05
// ("prepared statement already exists") when using connection poolers (e.g. PgBouncer).
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn), TranslateError: true}
	if path, ok := sqlitePath(dsn); ok {
		db, err := gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; a single connection avoids SQLITE_BUSY under load.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		return db, nil
	}
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), cfg)
}

func sqlitePath(dsn string) (string, bool) {
	switch {
	case dsn == ":memory:":
		return ":memory:", true
	case strings.HasPrefix(dsn, "sqlite://"):
		return strings.TrimPrefix(dsn, "sqlite://"), true
	case strings.HasPrefix(dsn, "file:"):
		return dsn, true
	}
	return "", false
}

// Models lists every registry table, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&domain.Methodology{},
		&domain.ActorCredential{},
		&domain.Project{},
		&domain.MonitoringReport{},
		&domain.IssuanceBatch{},
		&domain.SerialCounter{},
		&domain.CarbonRemovalUnit{},
		&domain.CreditTransaction{},
		&domain.RetirementCertificate{},
		&domain.DocumentVersion{},
	}
}

// AutoMigrate creates or updates the registry schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// Ping checks the underlying connection.
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
