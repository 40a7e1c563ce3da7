package sql

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// Migration modes.
const (
	MigrationModeMigrate = "migrate"
	MigrationModeGorm    = "gorm"
)

// MigrationsTable records the applied schema version.
const MigrationsTable = "etl_schema_migrations"

//go:embed migrations
var migrationFS embed.FS

// Migrate brings the schema up to date. "migrate" applies the versioned SQL
// files for the connection's dialect; "gorm" runs AutoMigrate over the schema
// models.
func Migrate(db *gorm.DB, mode string) error {
	switch mode {
	case MigrationModeGorm:
		logger.Infof("Running gorm AutoMigrate.")
		if err := db.AutoMigrate(allEntities()...); err != nil {
			return fmt.Errorf("auto migration failed: %w", err)
		}
		return nil
	case "", MigrationModeMigrate:
		return migrateUp(db)
	default:
		return exception.Newf(exception.ConfigError, "sql", "unknown migration mode %q", mode)
	}
}

func migrateUp(db *gorm.DB) error {
	dialect := db.Dialector.Name()
	path := "migrations/" + dialect
	logger.Infof("Executing migration 'up' (Path: %s, Table: %s)", path, MigrationsTable)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	src, err := iofs.New(migrationFS, path)
	if err != nil {
		return exception.Newf(exception.ConfigError, "sql", "no migrations for dialect %q", dialect)
	}
	defer src.Close()

	var driver database.Driver
	switch dialect {
	case "postgres":
		driver, err = postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: MigrationsTable})
	case "mysql":
		driver, err = mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: MigrationsTable})
	case "sqlite":
		driver, err = sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: MigrationsTable})
	default:
		return exception.Newf(exception.ConfigError, "sql", "unsupported database type for migration: %s", dialect)
	}
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m.Close would close the shared pool.
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration failed (DB: %s, Path: %s): %w", dialect, path, err)
	}
	v, dirty, _ := m.Version()
	logger.Infof("Migration 'up' completed successfully (version %d, dirty %v).", v, dirty)
	return nil
}
