// Package database opens the Postgres pool that holds export metadata.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"personnelexport/internal/config"
	"personnelexport/internal/database/migration"
)

// sqlOpen is swapped in tests to hand back a sqlmock connection.
var sqlOpen = sql.Open

// BuildPostgresDSN renders c as a postgres:// URL. application_name and
// connect_timeout are always set so every pool is identifiable server-side
// and cannot hang on an unreachable host.
func BuildPostgresDSN(c config.DatabaseConfig) (string, error) {
	required := []struct{ field, value string }{
		{"host", c.Host}, {"port", c.Port}, {"user", c.User}, {"name", c.Name},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.field)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("invalid database config: missing %s", strings.Join(missing, ", "))
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   c.Host + ":" + c.Port,
		Path:   c.Name,
		User:   url.User(c.User),
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}

	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ApplicationName != "" {
		q.Set("application_name", c.ApplicationName)
	}
	q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout().Seconds())))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Open returns a traced pgx pool configured from c and verified with a ping.
func Open(ctx context.Context, c config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	dsn, err := BuildPostgresDSN(c)
	if err != nil {
		return nil, err
	}

	driverName, err := otelsql.Register("pgx",
		otelsql.WithAttributes(
			semconv.DBSystemPostgreSQL,
			semconv.DBNameKey.String(c.Name),
		),
		otelsql.WithSQLCommenter(true),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sqlOpen(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}

	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetimeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetimeSec) * time.Second)
	}

	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		logger.Error("db_connect_failed", "db_host", c.Host, "db_name", c.Name, "error", err.Error())
		return nil, fmt.Errorf("db ping: %w", err)
	}

	logger.Info("db_connected",
		"db_host", c.Host,
		"db_name", c.Name,
		"application_name", c.ApplicationName,
		"max_open_conns", c.MaxOpenConns,
		"max_idle_conns", c.MaxIdleConns,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return db, nil
}

// Setup opens the pool and makes sure the exports schema exists.
// The pool is closed again if migrating fails.
func Setup(ctx context.Context, c config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	db, err := Open(ctx, c, logger)
	if err != nil {
		return nil, err
	}
	if err := migration.EnsureMigrated(ctx, db, logger, c.Host); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
