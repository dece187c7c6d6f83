package db

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/skilder-ai/identity/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeSQLite   = "sqlite"
)

// Dialect returns the gorm dialector for cfg.DBType.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch NormalizeType(cfg.DBType) {
	case TypePostgres:
		return postgres.Open(dsn), nil
	case TypeMySQL:
		return mysql.Open(dsn), nil
	default:
		return sqlite.Open(dsn), nil
	}
}

// DSN renders the connection string. Timestamps are always read as UTC.
func DSN(cfg config.Config) (string, error) {
	switch NormalizeType(cfg.DBType) {
	case TypePostgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(cfg.DBUser, cfg.DBPassword),
			Host:   cfg.DBHost + ":" + cfg.DBPort,
			Path:   "/" + cfg.DBName,
		}
		q := url.Values{}
		q.Set("sslmode", orDefault(cfg.DBSSLMode, "disable"))
		q.Set("TimeZone", "UTC")
		u.RawQuery = q.Encode()
		return u.String(), nil
	case TypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName), nil
	case TypeSQLite:
		name := orDefault(cfg.DBName, "identity")
		if name == ":memory:" || strings.HasSuffix(name, ".db") {
			return name, nil
		}
		return name + ".db", nil
	default:
		return "", fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
}

// NormalizeType maps driver aliases onto the supported type names.
func NormalizeType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "postgresql", "pg":
		return TypePostgres
	case "mysql", "mariadb":
		return TypeMySQL
	case "sqlite", "sqlite3":
		return TypeSQLite
	default:
		return raw
	}
}

func orDefault(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
