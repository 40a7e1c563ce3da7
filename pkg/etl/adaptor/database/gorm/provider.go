// Package gorm opens the relational store behind the SQL repository. Dialects
// register a factory that turns the database configuration into a gorm.Dialector.
package gorm

import (
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// DialectorFactory generates a gorm.Dialector from the database configuration.
type DialectorFactory func(cfg config.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory of dbType.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// Dialects lists the registered database types.
func Dialects() []string {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	out := make([]string, 0, len(dialectorRegistry))
	for k := range dialectorRegistry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open connects to the configured database and applies the pool settings.
func Open(cfg config.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	factory, err := GetDialectorFactory(cfg.Type)
	if err != nil {
		return nil, exception.New(exception.ConfigError, "database", "unsupported database type", err)
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, exception.New(exception.ConfigError, "database", fmt.Sprintf("invalid %s configuration", cfg.Type), err)
	}
	return OpenDialector(dialector, cfg, logLevel)
}

// OpenDialector opens an already built dialector. Tests use it with sqlmock.
func OpenDialector(dialector gorm.Dialector, cfg config.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(logLevel),
		// Writes are batched by the repository inside explicit transactions.
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	logger.Infof("Established DB connection (%s).", db.Dialector.Name())
	return db, nil
}

// Close closes the pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
