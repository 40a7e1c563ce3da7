package gorm

import (
	"errors"
	"fmt"
	"strconv"

	mysqldriver "github.com/go-sql-driver/mysql"
	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
)

// Database types.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
)

func init() {
	RegisterDialector(TypeSQLite, func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		dsn, err := SQLiteDSN(cfg)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(dsn), nil
	})
	RegisterDialector(TypePostgres, func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(PostgresDSN(cfg)), nil
	})
	RegisterDialector(TypeMySQL, func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(MySQLDSN(cfg)), nil
	})
}

// SQLiteDSN returns the database file. ":memory:" becomes a shared-cache
// in-memory database so every pooled connection sees the same data.
func SQLiteDSN(cfg config.DatabaseConfig) (string, error) {
	path := cfg.Path
	if path == "" {
		path = cfg.Database
	}
	if path == "" {
		return "", errors.New("SQLite database path cannot be empty")
	}
	if path == ":memory:" {
		return "file::memory:?cache=shared&_foreign_keys=1", nil
	}
	return "file:" + path + "?_busy_timeout=5000&_foreign_keys=1", nil
}

// PostgresDSN builds a key/value DSN for gorm.io/driver/postgres.
func PostgresDSN(c config.DatabaseConfig) string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.Database, sslmode)
}

// MySQLDSN builds the DSN with go-sql-driver/mysql's formatter. parseTime is
// always on so DATETIME columns scan into time.Time, and multiStatements lets
// migration files carry several statements.
func MySQLDSN(c config.DatabaseConfig) string {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	mc := mysqldriver.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = c.Host + ":" + strconv.Itoa(port)
	mc.DBName = c.Database
	mc.ParseTime = true
	mc.MultiStatements = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// IsDuplicateKey reports whether err is a unique or primary key violation.
// mysql and postgres errors arrive translated to gorm.ErrDuplicatedKey; the
// sqlite dialector does not translate, so its driver error is inspected.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}
