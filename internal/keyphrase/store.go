// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keyphrase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Model is an enrolled keyphrase sound model.
type Model struct {
	KeyphraseID      int       `json:"keyphrase_id"`
	User             int       `json:"user"`
	Locale           string    `json:"locale"`
	Text             string    `json:"text"`
	ModelID          string    `json:"model_id"`
	VendorID         string    `json:"vendor_id,omitempty"`
	RecognitionModes int       `json:"recognition_modes"`
	Data             []byte    `json:"data,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

const createModelsTable = `CREATE TABLE IF NOT EXISTS keyphrase_models (
	keyphrase_id      INTEGER NOT NULL,
	user_id           INTEGER NOT NULL,
	locale            TEXT    NOT NULL,
	text              TEXT    NOT NULL,
	model_id          TEXT    NOT NULL,
	vendor_id         TEXT    NOT NULL DEFAULT '',
	recognition_modes INTEGER NOT NULL DEFAULT 0,
	data              BLOB,
	updated_at        INTEGER NOT NULL,
	PRIMARY KEY (keyphrase_id, user_id, locale)
)`

const (
	selectModel = `SELECT text, model_id, vendor_id, recognition_modes, data, updated_at FROM keyphrase_models
WHERE keyphrase_id = ? AND user_id = ? AND locale = ?`
	upsertModel = `INSERT INTO keyphrase_models (keyphrase_id, user_id, locale, text, model_id, vendor_id, recognition_modes, data, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(keyphrase_id, user_id, locale) DO UPDATE SET text = excluded.text, model_id = excluded.model_id,
vendor_id = excluded.vendor_id, recognition_modes = excluded.recognition_modes, data = excluded.data, updated_at = excluded.updated_at`
	deleteModel = `DELETE FROM keyphrase_models WHERE keyphrase_id = ? AND user_id = ? AND locale = ?`
)

// ModelStore persists enrolled keyphrase models in SQLite.
type ModelStore struct {
	db *sql.DB
}

// NewModelStore creates the models table in db if needed.
func NewModelStore(ctx context.Context, db *sql.DB) (*ModelStore, error) {
	if _, err := db.ExecContext(ctx, createModelsTable); err != nil {
		return nil, fmt.Errorf("failed to create keyphrase_models table: %w", err)
	}
	return &ModelStore{db: db}, nil
}

// Get returns the model enrolled for (keyphraseID, user, locale) or nil.
func (s *ModelStore) Get(ctx context.Context, keyphraseID, user int, locale string) (*Model, error) {
	m := &Model{KeyphraseID: keyphraseID, User: user, Locale: locale}
	var updated int64
	err := s.db.QueryRowContext(ctx, selectModel, keyphraseID, user, locale).
		Scan(&m.Text, &m.ModelID, &m.VendorID, &m.RecognitionModes, &m.Data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keyphrase: get model %d: %w", keyphraseID, err)
	}
	m.UpdatedAt = time.Unix(updated, 0)
	return m, nil
}

// Upsert stores m, replacing any model with the same key.
func (s *ModelStore) Upsert(ctx context.Context, m *Model) error {
	if m == nil || m.ModelID == "" {
		return fmt.Errorf("keyphrase: model id is required")
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, upsertModel, m.KeyphraseID, m.User, m.Locale, m.Text,
		m.ModelID, m.VendorID, m.RecognitionModes, m.Data, m.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("keyphrase: upsert model %d: %w", m.KeyphraseID, err)
	}
	log.WithFields(log.Fields{"keyphrase": m.KeyphraseID, "user": m.User, "locale": m.Locale}).Debug("Keyphrase model stored")
	return nil
}

// Delete removes the model and reports whether one existed.
func (s *ModelStore) Delete(ctx context.Context, keyphraseID, user int, locale string) (bool, error) {
	res, err := s.db.ExecContext(ctx, deleteModel, keyphraseID, user, locale)
	if err != nil {
		return false, fmt.Errorf("keyphrase: delete model %d: %w", keyphraseID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
