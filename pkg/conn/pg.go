// Package conn holds database connection plumbing shared by the
// persistence layer.
package conn

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradepulse/pkg/exception"
)

const (
	defaultMaxOpenConns = 8
	defaultMaxIdleConns = 4
	defaultConnLifetime = 30 * time.Minute
)

// Config tunes the PostgreSQL connection pool.
type Config struct {
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.ConnLifetime <= 0 {
		c.ConnLifetime = defaultConnLifetime
	}
	return c
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	db *gorm.DB
}

// Open connects to PostgreSQL with the given DSN. Query logging is off,
// errors still surface through the call sites.
func Open(dsn string, cfg Config) (*Client, error) {
	if dsn == "" {
		return nil, exception.ErrInvalidArgument
	}
	cfg = cfg.withDefaults()

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnLifetime)

	return &Client{db: db}, nil
}

// DB returns the underlying gorm handle.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Close drains the connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
