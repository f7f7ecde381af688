package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kassir/internal/models"

	"github.com/google/uuid"
)

// EnqueueInvoiceCreate создаёт черновик счёта и задачу очереди одной
// транзакцией: черновик без задачи (или наоборот) существовать не может.
func (db *DB) EnqueueInvoiceCreate(ctx context.Context, saleID string, buyer models.BuyerInfo) (*models.InvoiceDraft, error) {
	draft := &models.InvoiceDraft{
		ID:        models.LocalIDPrefix + uuid.NewString(),
		SaleID:    saleID,
		Buyer:     buyer,
		Status:    models.DraftPending,
		CreatedAt: time.Now(),
	}

	buyerJSON, err := json.Marshal(buyer)
	if err != nil {
		return nil, fmt.Errorf("encode buyer: %w", err)
	}
	payload, err := json.Marshal(models.InvoiceCreatePayload{
		DraftID: draft.ID,
		SaleID:  saleID,
		Buyer:   buyer,
	})
	if err != nil {
		return nil, fmt.Errorf("encode invoice payload: %w", err)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enqueue invoice: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO invoice_drafts (id, sale_id, buyer, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		draft.ID, draft.SaleID, string(buyerJSON), draft.Status, draft.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert invoice draft: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO invoice_sync_queue (sale_id, action, payload, status, retry_count, created_at)
         VALUES (?, ?, ?, ?, 0, ?)`,
		saleID, models.ActionInvoiceCreate, string(payload), models.StatusPending, draft.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert invoice queue item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enqueue invoice: %w", err)
	}
	return draft, nil
}

// EnqueueInvoiceCancel ставит в очередь отмену уже выставленного счёта.
func (db *DB) EnqueueInvoiceCancel(ctx context.Context, saleID, invoiceID, reason string) (*models.InvoiceSyncItem, error) {
	payload, err := json.Marshal(models.InvoiceCancelPayload{
		InvoiceID: invoiceID,
		Reason:    reason,
	})
	if err != nil {
		return nil, fmt.Errorf("encode cancel payload: %w", err)
	}

	now := time.Now()
	result, err := db.db.ExecContext(ctx,
		`INSERT INTO invoice_sync_queue (sale_id, action, payload, status, retry_count, created_at)
         VALUES (?, ?, ?, ?, 0, ?)`,
		saleID, models.ActionInvoiceCancel, string(payload), models.StatusPending, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert cancel queue item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &models.InvoiceSyncItem{
		ID:        id,
		SaleID:    saleID,
		Action:    models.ActionInvoiceCancel,
		Payload:   string(payload),
		Status:    models.StatusPending,
		CreatedAt: now,
	}, nil
}

// GetEligibleInvoiceItems возвращает кандидатов на обработку:
// pending с retry_count ниже предела, старые первыми.
func (db *DB) GetEligibleInvoiceItems(ctx context.Context, maxRetries int) ([]models.InvoiceSyncItem, error) {
	query := `SELECT id, sale_id, action, payload, status, retry_count, last_error, created_at, processed_at
              FROM invoice_sync_queue
              WHERE status = ? AND retry_count < ?
              ORDER BY created_at ASC, id ASC`
	return db.queryInvoiceItems(ctx, query, models.StatusPending, maxRetries)
}

// GetFailedInvoiceItems возвращает задачи в терминальном состоянии
// для экрана ручного повтора.
func (db *DB) GetFailedInvoiceItems(ctx context.Context) ([]models.InvoiceSyncItem, error) {
	query := `SELECT id, sale_id, action, payload, status, retry_count, last_error, created_at, processed_at
              FROM invoice_sync_queue WHERE status = ? ORDER BY created_at DESC`
	return db.queryInvoiceItems(ctx, query, models.StatusFailed)
}

// GetInvoiceItem возвращает задачу очереди по идентификатору.
func (db *DB) GetInvoiceItem(ctx context.Context, id int64) (*models.InvoiceSyncItem, error) {
	query := `SELECT id, sale_id, action, payload, status, retry_count, last_error, created_at, processed_at
              FROM invoice_sync_queue WHERE id = ?`
	items, err := db.queryInvoiceItems(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return &items[0], nil
}

// MarkInvoiceProcessing переводит pending → processing.
func (db *DB) MarkInvoiceProcessing(ctx context.Context, id int64) error {
	result, err := db.db.ExecContext(ctx,
		`UPDATE invoice_sync_queue SET status = ? WHERE id = ? AND status = ?`,
		models.StatusProcessing, id, models.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark invoice processing: %w", err)
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

// CompleteInvoiceItem завершает задачу и помечает черновик synced.
// Обе записи обновляются одной транзакцией.
func (db *DB) CompleteInvoiceItem(ctx context.Context, id int64, draftID string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete invoice: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE invoice_sync_queue SET status = ?, last_error = NULL, processed_at = ? WHERE id = ?`,
		models.StatusCompleted, now, id,
	); err != nil {
		return fmt.Errorf("complete invoice item: %w", err)
	}

	if draftID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE invoice_drafts SET status = ? WHERE id = ?`,
			models.DraftSynced, draftID,
		); err != nil {
			return fmt.Errorf("mark draft synced: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete invoice: %w", err)
	}
	return nil
}

// FailInvoiceItem фиксирует неудачную попытку. Под пределом — возврат в
// pending с увеличенным retry_count; на пределе — терминальный failed,
// и статус черновика меняется в той же транзакции.
func (db *DB) FailInvoiceItem(ctx context.Context, id int64, draftID, errMsg string, maxRetries int) (terminal bool, err error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin fail invoice: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var retryCount int
	if err := tx.QueryRowContext(ctx,
		`SELECT retry_count FROM invoice_sync_queue WHERE id = ?`, id,
	).Scan(&retryCount); err != nil {
		if err == sql.ErrNoRows {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("read retry count: %w", err)
	}

	retryCount++
	terminal = retryCount >= maxRetries

	if terminal {
		now := time.Now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE invoice_sync_queue SET status = ?, retry_count = ?, last_error = ?, processed_at = ? WHERE id = ?`,
			models.StatusFailed, retryCount, errMsg, now, id,
		); err != nil {
			return false, fmt.Errorf("mark invoice failed: %w", err)
		}
		if draftID != "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE invoice_drafts SET status = ? WHERE id = ?`,
				models.DraftFailed, draftID,
			); err != nil {
				return false, fmt.Errorf("mark draft failed: %w", err)
			}
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE invoice_sync_queue SET status = ?, retry_count = ?, last_error = ? WHERE id = ?`,
			models.StatusPending, retryCount, errMsg, id,
		); err != nil {
			return false, fmt.Errorf("requeue invoice item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit fail invoice: %w", err)
	}
	return terminal, nil
}

// RetryInvoiceItem — ручной повтор: failed → pending, счётчик и ошибка
// сбрасываются, черновик возвращается в pending.
func (db *DB) RetryInvoiceItem(ctx context.Context, id int64, draftID string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin retry invoice: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE invoice_sync_queue SET status = ?, retry_count = 0, last_error = NULL, processed_at = NULL
         WHERE id = ? AND status = ?`,
		models.StatusPending, id, models.StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("retry invoice item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	if draftID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE invoice_drafts SET status = ? WHERE id = ?`,
			models.DraftPending, draftID,
		); err != nil {
			return fmt.Errorf("reset draft status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit retry invoice: %w", err)
	}
	return nil
}

// GetInvoiceDraft возвращает черновик по идентификатору.
func (db *DB) GetInvoiceDraft(ctx context.Context, id string) (*models.InvoiceDraft, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT id, sale_id, buyer, status, created_at FROM invoice_drafts WHERE id = ?`, id)
	return scanDraft(row)
}

// GetInvoiceDraftBySale возвращает черновик, привязанный к продаже.
func (db *DB) GetInvoiceDraftBySale(ctx context.Context, saleID string) (*models.InvoiceDraft, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT id, sale_id, buyer, status, created_at FROM invoice_drafts WHERE sale_id = ? ORDER BY created_at DESC LIMIT 1`, saleID)
	return scanDraft(row)
}

// CountPendingInvoiceItems возвращает размер очереди счетов.
func (db *DB) CountPendingInvoiceItems(ctx context.Context) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoice_sync_queue WHERE status IN (?, ?)`,
		models.StatusPending, models.StatusProcessing,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending invoice items: %w", err)
	}
	return count, nil
}

func scanDraft(row *sql.Row) (*models.InvoiceDraft, error) {
	var draft models.InvoiceDraft
	var buyerJSON string
	err := row.Scan(&draft.ID, &draft.SaleID, &buyerJSON, &draft.Status, &draft.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan invoice draft: %w", err)
	}
	if err := json.Unmarshal([]byte(buyerJSON), &draft.Buyer); err != nil {
		return nil, fmt.Errorf("failed to decode buyer: %w", err)
	}
	return &draft, nil
}

func (db *DB) queryInvoiceItems(ctx context.Context, query string, args ...interface{}) ([]models.InvoiceSyncItem, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice queue: %w", err)
	}
	defer rows.Close()

	var items []models.InvoiceSyncItem
	for rows.Next() {
		var item models.InvoiceSyncItem
		if err := rows.Scan(
			&item.ID,
			&item.SaleID,
			&item.Action,
			&item.Payload,
			&item.Status,
			&item.RetryCount,
			&item.LastError,
			&item.CreatedAt,
			&item.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invoice queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
