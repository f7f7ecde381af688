package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetSyncMeta возвращает значение ключа sync_meta или пустую строку.
func (db *DB) GetSyncMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get sync meta %s: %w", key, err)
	}
	return value, nil
}

// SetSyncMeta записывает значение ключа sync_meta.
func (db *DB) SetSyncMeta(ctx context.Context, key, value string) error {
	_, err := db.db.ExecContext(ctx,
		`INSERT INTO sync_meta (key, value) VALUES (?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set sync meta %s: %w", key, err)
	}
	return nil
}

// GetLastSyncTime читает отметку времени из sync_meta.
func (db *DB) GetLastSyncTime(ctx context.Context, key string) (time.Time, error) {
	raw, err := db.GetSyncMeta(ctx, key)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse sync time %s: %w", key, err)
	}
	return t, nil
}

func setSyncMetaTx(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO sync_meta (key, value) VALUES (?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set sync meta %s: %w", key, err)
	}
	return nil
}
