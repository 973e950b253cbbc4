package db

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/smallbiznis/billingcore/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

var ErrUnsupportedDriver = errors.New("db_unsupported_driver")

// Driver normalizes DATABASE_TYPE. Only postgres runs the versioned SQL
// migrations; the other drivers are migrated from the gorm models.
func Driver(cfg config.Config) (string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
	case "postgres", "postgresql", "pg":
		return DriverPostgres, nil
	case "mysql", "mariadb":
		return DriverMySQL, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.DBType)
	}
}

// DSN builds the connection string for cfg. Sessions are pinned to UTC.
func DSN(cfg config.Config) (string, error) {
	driver, err := Driver(cfg)
	if err != nil {
		return "", err
	}
	switch driver {
	case DriverMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName), nil
	case DriverSQLite:
		path := cfg.DBName
		if path == "" {
			path = "billingcore.db"
		}
		// Workers and the API share one file in standalone mode.
		return path + "?_busy_timeout=5000&_journal_mode=WAL", nil
	default:
		dsn := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(cfg.DBUser, cfg.DBPassword),
			Host:   cfg.DBHost + ":" + cfg.DBPort,
			Path:   "/" + cfg.DBName,
		}
		query := url.Values{}
		query.Set("sslmode", orDefault(cfg.DBSSLMode, "disable"))
		query.Set("TimeZone", "UTC")
		query.Set("application_name", orDefault(cfg.AppName, "billingcore"))
		dsn.RawQuery = query.Encode()
		return dsn.String(), nil
	}
}

func Dialect(cfg config.Config) (gorm.Dialector, error) {
	driver, err := Driver(cfg)
	if err != nil {
		return nil, err
	}
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch driver {
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return postgres.Open(dsn), nil
	}
}

func orDefault(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
