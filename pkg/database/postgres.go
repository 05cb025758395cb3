package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"kolinsights/pkg/logging"
)

// PostgresConn represents a PostgreSQL database connection
type PostgresConn = *sql.DB

const readOnlyOption = "-c default_transaction_read_only=on"

type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	// ReadOnly opens every session with default_transaction_read_only so a
	// stray write fails at the server.
	ReadOnly bool
	// Extensions must be installed or Connect fails.
	Extensions []string
}

func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		ReadOnly:        true,
		Extensions:      []string{"vector"},
	}
}

// Connect opens the pool, pings it and verifies the required extensions.
func Connect(ctx context.Context, cfg Config, logger logging.Logger) (PostgresConn, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	dsn := cfg.URL
	if cfg.ReadOnly {
		var err error
		if dsn, err = withReadOnly(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for _, ext := range cfg.Extensions {
		if err := RequireExtension(pingCtx, db, ext); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if logger != nil {
		logger.WithFields(logging.Fields{
			"max_open_conns": cfg.MaxOpenConns,
			"read_only":      cfg.ReadOnly,
			"extensions":     cfg.Extensions,
		}).Info("Database connected")
	}
	return db, nil
}

// RequireExtension fails unless the named extension is installed in the
// connected database.
func RequireExtension(ctx context.Context, db *sql.DB, name string) error {
	var version string
	err := db.QueryRowContext(ctx, `SELECT extversion FROM pg_extension WHERE extname = $1`, name).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("postgres extension %q is not installed", name)
	}
	if err != nil {
		return fmt.Errorf("check extension %q: %w", name, err)
	}
	return nil
}

// withReadOnly adds the read-only session option to a URL or key=value DSN.
func withReadOnly(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse database URL: %w", err)
		}
		q := u.Query()
		if opts := q.Get("options"); opts != "" {
			q.Set("options", opts+" "+readOnlyOption)
		} else {
			q.Set("options", readOnlyOption)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return strings.TrimSpace(dsn) + " options='" + readOnlyOption + "'", nil
}
