// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"
)

const createSettingsTable = `CREATE TABLE IF NOT EXISTS secure_settings (
	user_id    INTEGER NOT NULL,
	name       TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, name)
)`

const (
	selectSetting = `SELECT value FROM secure_settings WHERE user_id = ? AND name = ?`
	upsertSetting = `INSERT INTO secure_settings (user_id, name, value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(user_id, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	deleteSetting = `DELETE FROM secure_settings WHERE user_id = ? AND name = ?`
	selectUsers   = `SELECT user_id FROM secure_settings WHERE name = ? ORDER BY user_id`
)

var sqliteQueries = queries{
	create: createSettingsTable,
	get:    selectSetting,
	put:    upsertSetting,
	del:    deleteSetting,
	users:  selectUsers,
}

// queries holds the dialect-specific statements of a SQLStore.
type queries struct {
	create string
	get    string
	put    string
	del    string
	users  string
}

// SQLStore persists settings in a SQL database (SQLite or PostgreSQL).
type SQLStore struct {
	db       *sql.DB
	name     string
	q        queries
	notifier *notifier
	// writes are serialized so change detection sees a consistent previous value
	writeMu sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s, err := newSQLiteStoreWithDB(ctx, db, dbPath)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infof("Settings database ready at %s", dbPath)
	return s, nil
}

func newSQLiteStoreWithDB(ctx context.Context, db *sql.DB, dbPath string) (*SQLStore, error) {
	return newSQLStore(ctx, db, dbPath, sqliteQueries)
}

func newSQLStore(ctx context.Context, db *sql.DB, name string, q queries) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, q.create); err != nil {
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}
	return &SQLStore{
		db:       db,
		name:     name,
		q:        q,
		notifier: newNotifier(),
	}, nil
}

// Lookup implements Store.
func (s *SQLStore) Lookup(ctx context.Context, key string, user int) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.q.get, user, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("settings: lookup %s for user %d: %w", key, user, err)
	}
	return value, true, nil
}

// PutString implements Store.
func (s *SQLStore) PutString(ctx context.Context, key, value string, user int) error {
	s.writeMu.Lock()
	old, existed, err := s.Lookup(ctx, key, user)
	if err != nil {
		s.writeMu.Unlock()
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q.put, user, key, value, time.Now().Unix())
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("settings: put %s for user %d: %w", key, user, err)
	}
	if !existed || old != value {
		s.notifier.notify(key, user)
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, key string, user int) error {
	s.writeMu.Lock()
	res, err := s.db.ExecContext(ctx, s.q.del, user, key)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("settings: delete %s for user %d: %w", key, user, err)
	}
	if n, errRows := res.RowsAffected(); errRows == nil && n > 0 {
		s.notifier.notify(key, user)
	}
	return nil
}

// Users implements Store.
func (s *SQLStore) Users(ctx context.Context, key string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, s.q.users, key)
	if err != nil {
		return nil, fmt.Errorf("settings: list users of %s: %w", key, err)
	}
	defer rows.Close()
	var users []int
	for rows.Next() {
		var user int
		if err := rows.Scan(&user); err != nil {
			return nil, fmt.Errorf("settings: list users of %s: %w", key, err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Watch implements Store.
func (s *SQLStore) Watch(key string, fn Observer) func() {
	return s.notifier.watch(key, fn)
}

// DB exposes the underlying handle so other tables can share the database file.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close flushes observers and closes the database.
func (s *SQLStore) Close() error {
	s.notifier.close()
	return s.db.Close()
}
