package db

import (
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/zulandar/yardcap/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN. An empty database selects no schema, which is
// what CREATE DATABASE needs.
func DSN(user, host string, port int, database string) string {
	c := gomysql.NewConfig()
	c.User = user
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", host, port)
	c.DBName = database
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN()
}

// Open connects to the store described by cfg.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "mysql":
		return Connect(cfg.User, cfg.Host, cfg.Port, cfg.Name)
	case "sqlite", "":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("db: unknown driver %q", cfg.Driver)
	}
}

// Connect opens a GORM connection to a MySQL database.
func Connect(user, host string, port int, database string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(DSN(user, host, port, database)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", host, port, database, err)
	}
	return db, nil
}

// ConnectAdmin opens a GORM connection to the MySQL server without selecting
// a specific database, used for CREATE DATABASE operations.
func ConnectAdmin(user, host string, port int) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(DSN(user, host, port, "")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", host, port, err)
	}
	return db, nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}

// OpenSQLite opens a SQLite database file (or ":memory:"). SQLite allows a
// single writer, so the pool is capped at one connection.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db: sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
