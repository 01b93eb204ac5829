package store

import (
	"context"
	"database/sql"
	"errors"

	"robolink/platformmap"
)

// GetSetting returns the raw value stored under key, or sql.ErrNoRows.
func (db *DB) GetSetting(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := db.QueryRowContext(ctx, db.Q(`SELECT value FROM settings WHERE key=?`), key).Scan(&value)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// SetSetting inserts or replaces the value stored under key.
func (db *DB) SetSetting(ctx context.Context, key string, value []byte) error {
	_, err := db.ExecContext(ctx, db.Q(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now','localtime'))
		ON CONFLICT (key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`), key, value)
	return err
}

// DeleteSetting removes key. Deleting a missing key is not an error.
func (db *DB) DeleteSetting(ctx context.Context, key string) error {
	_, err := db.ExecContext(ctx, db.Q(`DELETE FROM settings WHERE key=?`), key)
	return err
}

// MapRepository persists the platform map document in the settings table.
type MapRepository struct {
	db  *DB
	key string
}

// MapRepository returns the settings-backed map document repository.
func (db *DB) MapRepository() *MapRepository {
	return &MapRepository{db: db, key: platformmap.StorageKey}
}

func (r *MapRepository) LoadRaw(ctx context.Context) ([]byte, error) {
	raw, err := r.db.GetSetting(ctx, r.key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, platformmap.ErrNotFound
	}
	return raw, err
}

func (r *MapRepository) SaveRaw(ctx context.Context, raw []byte) error {
	return r.db.SetSetting(ctx, r.key, raw)
}
