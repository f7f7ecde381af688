package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kassir/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreatePendingSale сохраняет продажу локально. Работает без сети:
// продажа, платежи и строки пишутся одной транзакцией.
// Локальный идентификатор присваивается здесь, если его ещё нет.
func (db *DB) CreatePendingSale(ctx context.Context, sale *models.PendingSale) error {
	if sale.ID == "" {
		sale.ID = models.LocalIDPrefix + uuid.NewString()
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now()
	}
	sale.ComputeTotals()

	customerJSON, err := marshalNullable(sale.Customer)
	if err != nil {
		return fmt.Errorf("encode customer: %w", err)
	}
	paymentsJSON, err := json.Marshal(sale.Payments)
	if err != nil {
		return fmt.Errorf("encode payments: %w", err)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create sale: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO pending_sales (id, customer, payments, subtotal, vat_total, discount_total, total, note, synced, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`
	if _, err := tx.ExecContext(ctx, query,
		sale.ID,
		customerJSON,
		string(paymentsJSON),
		sale.Subtotal.String(),
		sale.VatTotal.String(),
		sale.DiscountTotal.String(),
		sale.Total.String(),
		sale.Note,
		sale.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert pending sale: %w", err)
	}

	lineQuery := `INSERT INTO sale_lines (sale_id, product_id, product_name, quantity, unit_price, vat_rate, discount)
                  VALUES (?, ?, ?, ?, ?, ?, ?)`
	for _, line := range sale.Lines {
		if _, err := tx.ExecContext(ctx, lineQuery,
			sale.ID,
			line.ProductID,
			line.ProductName,
			line.Quantity.String(),
			line.UnitPrice.String(),
			line.VatRate.String(),
			line.Discount.String(),
		); err != nil {
			return fmt.Errorf("insert sale line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create sale: %w", err)
	}

	sale.Synced = false
	return nil
}

// GetUnsyncedSales возвращает неотправленные продажи, старые первыми.
// Порядок важен: нумерация счетов на стороне учёта должна следовать
// порядку оформления.
func (db *DB) GetUnsyncedSales(ctx context.Context) ([]models.PendingSale, error) {
	return db.querySales(ctx, `WHERE synced = 0 ORDER BY created_at ASC, id ASC`)
}

// GetPendingSale возвращает продажу со строками чека.
func (db *DB) GetPendingSale(ctx context.Context, id string) (*models.PendingSale, error) {
	sales, err := db.querySales(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, ErrNotFound
	}
	return &sales[0], nil
}

// GetRecentSales возвращает последние продажи для экранов кассы.
func (db *DB) GetRecentSales(ctx context.Context, limit int) ([]models.PendingSale, error) {
	return db.querySales(ctx, `ORDER BY created_at DESC LIMIT ?`, limit)
}

// MarkSaleSynced помечает продажу отправленной. Флаг монотонный:
// обратно в synced=false запись не возвращается.
func (db *DB) MarkSaleSynced(ctx context.Context, id, remoteID, invoiceNumber string) error {
	query := `UPDATE pending_sales SET synced = 1, remote_id = ?, invoice_number = ?, synced_at = ?
              WHERE id = ? AND synced = 0`
	result, err := db.db.ExecContext(ctx, query, remoteID, invoiceNumber, time.Now(), id)
	if err != nil {
		return fmt.Errorf("mark sale synced: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark sale synced rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUnsyncedSales возвращает размер очереди продаж.
func (db *DB) CountUnsyncedSales(ctx context.Context) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_sales WHERE synced = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unsynced sales: %w", err)
	}
	return count, nil
}

// PruneSyncedSales удаляет давно отправленные продажи. Неотправленные
// не удаляются никогда.
func (db *DB) PruneSyncedSales(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.db.ExecContext(ctx,
		`DELETE FROM pending_sales WHERE synced = 1 AND synced_at IS NOT NULL AND synced_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune synced sales: %w", err)
	}
	return result.RowsAffected()
}

func (db *DB) querySales(ctx context.Context, clause string, args ...interface{}) ([]models.PendingSale, error) {
	query := `SELECT id, customer, payments, subtotal, vat_total, discount_total, total, note, synced, remote_id, invoice_number, created_at, synced_at
              FROM pending_sales ` + clause
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var sales []models.PendingSale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		lines, err := db.saleLines(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Lines = lines
	}
	return sales, nil
}

func (db *DB) saleLines(ctx context.Context, saleID string) ([]models.SaleLine, error) {
	query := `SELECT product_id, product_name, quantity, unit_price, vat_rate, discount
              FROM sale_lines WHERE sale_id = ? ORDER BY id`
	rows, err := db.db.QueryContext(ctx, query, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale lines: %w", err)
	}
	defer rows.Close()

	var lines []models.SaleLine
	for rows.Next() {
		var line models.SaleLine
		var quantity, unitPrice, vatRate, discount string
		if err := rows.Scan(&line.ProductID, &line.ProductName, &quantity, &unitPrice, &vatRate, &discount); err != nil {
			return nil, fmt.Errorf("failed to scan sale line: %w", err)
		}
		if line.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("failed to parse line quantity: %w", err)
		}
		if line.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("failed to parse line unit price: %w", err)
		}
		if line.VatRate, err = decimal.NewFromString(vatRate); err != nil {
			return nil, fmt.Errorf("failed to parse line vat rate: %w", err)
		}
		if line.Discount, err = decimal.NewFromString(discount); err != nil {
			return nil, fmt.Errorf("failed to parse line discount: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanSale(rows *sql.Rows) (models.PendingSale, error) {
	var sale models.PendingSale
	var customer sql.NullString
	var payments, subtotal, vatTotal, discountTotal, total string
	err := rows.Scan(
		&sale.ID,
		&customer,
		&payments,
		&subtotal,
		&vatTotal,
		&discountTotal,
		&total,
		&sale.Note,
		&sale.Synced,
		&sale.RemoteID,
		&sale.InvoiceNumber,
		&sale.CreatedAt,
		&sale.SyncedAt,
	)
	if err != nil {
		return sale, fmt.Errorf("failed to scan sale: %w", err)
	}

	if customer.Valid && strings.TrimSpace(customer.String) != "" {
		var info models.CustomerInfo
		if err := json.Unmarshal([]byte(customer.String), &info); err != nil {
			return sale, fmt.Errorf("failed to decode customer: %w", err)
		}
		sale.Customer = &info
	}
	if err := json.Unmarshal([]byte(payments), &sale.Payments); err != nil {
		return sale, fmt.Errorf("failed to decode payments: %w", err)
	}

	if sale.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return sale, fmt.Errorf("failed to parse subtotal: %w", err)
	}
	if sale.VatTotal, err = decimal.NewFromString(vatTotal); err != nil {
		return sale, fmt.Errorf("failed to parse vat total: %w", err)
	}
	if sale.DiscountTotal, err = decimal.NewFromString(discountTotal); err != nil {
		return sale, fmt.Errorf("failed to parse discount total: %w", err)
	}
	if sale.Total, err = decimal.NewFromString(total); err != nil {
		return sale, fmt.Errorf("failed to parse total: %w", err)
	}
	return sale, nil
}

func marshalNullable(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if c, ok := v.(*models.CustomerInfo); ok && c == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
