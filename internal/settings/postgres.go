// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package settings

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	log "github.com/sirupsen/logrus"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresStoreConfig configures the PostgreSQL settings backend.
type PostgresStoreConfig struct {
	DSN string
	// Schema is optional; empty uses the search path.
	Schema string
}

func (cfg PostgresStoreConfig) table() string {
	if cfg.Schema == "" {
		return "secure_settings"
	}
	return cfg.Schema + ".secure_settings"
}

func postgresQueries(table string) queries {
	return queries{
		create: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	user_id    INTEGER NOT NULL,
	name       TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	updated_at BIGINT  NOT NULL,
	PRIMARY KEY (user_id, name)
)`, table),
		get: fmt.Sprintf(`SELECT value FROM %s WHERE user_id = $1 AND name = $2`, table),
		put: fmt.Sprintf(`INSERT INTO %s (user_id, name, value, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, table),
		del:   fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1 AND name = $2`, table),
		users: fmt.Sprintf(`SELECT user_id FROM %s WHERE name = $1 ORDER BY user_id`, table),
	}
}

// NewPostgresStore connects to PostgreSQL and creates the settings table if needed.
func NewPostgresStore(ctx context.Context, cfg PostgresStoreConfig) (*SQLStore, error) {
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.Schema = strings.TrimSpace(cfg.Schema)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}
	if cfg.Schema != "" && !identifierPattern.MatchString(cfg.Schema) {
		return nil, fmt.Errorf("invalid postgres schema %q", cfg.Schema)
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres settings store: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach postgres settings store: %w", err)
	}

	s, err := newPostgresStoreWithDB(ctx, db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infof("Settings stored in postgres table %s", cfg.table())
	return s, nil
}

func newPostgresStoreWithDB(ctx context.Context, db *sql.DB, cfg PostgresStoreConfig) (*SQLStore, error) {
	if cfg.Schema != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", cfg.Schema)); err != nil {
			return nil, fmt.Errorf("failed to create settings schema: %w", err)
		}
	}
	return newSQLStore(ctx, db, "postgres:"+cfg.table(), postgresQueries(cfg.table()))
}
