package database

import (
	"context"
	"fmt"
	"time"

	"kassir/internal/models"
)

// Общая очередь отложенных операций (не продажи и не счета).
// Успешно выполненная задача удаляется из таблицы.

func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	query := `INSERT INTO sync_queue (action_kind, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	result, err := db.db.ExecContext(ctx, query,
		task.ActionKind,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now

	return nil
}

func (db *DB) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	query := `SELECT id, action_kind, payload, status, retry_count, last_error, created_at, next_retry_at
              FROM sync_queue
              WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.db.QueryContext(ctx, query, models.TaskPending, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		var t models.SyncTask
		err := rows.Scan(&t.ID, &t.ActionKind, &t.Payload, &t.Status, &t.RetryCount, &t.LastError, &t.CreatedAt, &t.NextRetryAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkSyncTaskSyncing переводит задачу в syncing на время обработки.
func (db *DB) MarkSyncTaskSyncing(ctx context.Context, id int64) error {
	result, err := db.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ? WHERE id = ? AND status = ?`,
		models.TaskSyncing, id, models.TaskPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark sync task syncing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteSyncTask удаляет успешно выполненную задачу.
func (db *DB) CompleteSyncTask(ctx context.Context, id int64) error {
	_, err := db.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to complete sync task: %w", err)
	}
	return nil
}

// RequeueSyncTask возвращает задачу в pending с отложенным повтором.
func (db *DB) RequeueSyncTask(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	_, err := db.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`,
		models.TaskPending, errMsg, nextRetryAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to requeue sync task: %w", err)
	}
	return nil
}

// FailSyncTask переводит задачу в терминальный failed.
func (db *DB) FailSyncTask(ctx context.Context, id int64, errMsg string) error {
	_, err := db.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, last_error = ?, retry_count = retry_count + 1 WHERE id = ?`,
		models.TaskFailed, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark sync task failed: %w", err)
	}
	return nil
}

func (db *DB) GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error) {
	query := `SELECT id, action_kind, payload, status, retry_count, last_error, created_at, next_retry_at
              FROM sync_queue WHERE status = ? ORDER BY created_at DESC`
	rows, err := db.db.QueryContext(ctx, query, models.TaskFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		var t models.SyncTask
		err := rows.Scan(&t.ID, &t.ActionKind, &t.Payload, &t.Status, &t.RetryCount, &t.LastError, &t.CreatedAt, &t.NextRetryAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
