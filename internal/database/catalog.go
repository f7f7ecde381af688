package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kassir/internal/models"

	"github.com/shopspring/decimal"
)

// Ключи sync_meta с отметками последней успешной синхронизации.
const (
	MetaProductsSyncedAt   = "products_synced_at"
	MetaCategoriesSyncedAt = "categories_synced_at"
)

// ReplaceProducts заменяет кэш товаров полным набором из удалённой системы.
// Upsert пришедших, удаление исчезнувших и отметка времени — одна транзакция:
// при ошибке кэш остаётся прежним.
func (db *DB) ReplaceProducts(ctx context.Context, products []models.Product, syncedAt time.Time) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace products: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM products`); err != nil {
		return fmt.Errorf("clear products: %w", err)
	}

	query := `INSERT INTO products (id, name, sku, barcode, category_id, price, vat_rate, quantity, image_url, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, p := range products {
		updatedAt := p.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = syncedAt
		}
		if _, err := tx.ExecContext(ctx, query,
			p.ID,
			p.Name,
			p.SKU,
			p.Barcode,
			p.CategoryID,
			p.Price.String(),
			p.VatRate.String(),
			p.Quantity,
			p.ImageURL,
			updatedAt,
		); err != nil {
			return fmt.Errorf("insert product %s: %w", p.ID, err)
		}
	}

	if err := setSyncMetaTx(ctx, tx, MetaProductsSyncedAt, syncedAt.Format(time.RFC3339Nano)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace products: %w", err)
	}
	return nil
}

// ReplaceCategories заменяет кэш категорий. Семантика как у ReplaceProducts.
func (db *DB) ReplaceCategories(ctx context.Context, categories []models.Category, syncedAt time.Time) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace categories: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM categories`); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}

	query := `INSERT INTO categories (id, name, sort_order) VALUES (?, ?, ?)`
	for _, c := range categories {
		if _, err := tx.ExecContext(ctx, query, c.ID, c.Name, c.SortOrder); err != nil {
			return fmt.Errorf("insert category %s: %w", c.ID, err)
		}
	}

	if err := setSyncMetaTx(ctx, tx, MetaCategoriesSyncedAt, syncedAt.Format(time.RFC3339Nano)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace categories: %w", err)
	}
	return nil
}

func (db *DB) GetProducts(ctx context.Context) ([]models.Product, error) {
	query := `SELECT id, name, sku, barcode, category_id, price, vat_rate, quantity, image_url, updated_at
              FROM products ORDER BY name, id`
	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (db *DB) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	query := `SELECT id, name, sku, barcode, category_id, price, vat_rate, quantity, image_url, updated_at
              FROM products WHERE id = ?`
	row := db.db.QueryRowContext(ctx, query, id)

	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *DB) GetProductsByCategory(ctx context.Context, categoryID string) ([]models.Product, error) {
	query := `SELECT id, name, sku, barcode, category_id, price, vat_rate, quantity, image_url, updated_at
              FROM products WHERE category_id = ? ORDER BY name, id`
	rows, err := db.db.QueryContext(ctx, query, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get products by category: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (db *DB) GetCategories(ctx context.Context) ([]models.Category, error) {
	query := `SELECT id, name, sort_order FROM categories ORDER BY sort_order, id`
	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (models.Product, error) {
	var p models.Product
	var price, vatRate string
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.SKU,
		&p.Barcode,
		&p.CategoryID,
		&price,
		&vatRate,
		&p.Quantity,
		&p.ImageURL,
		&p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}

	if p.Price, err = decimal.NewFromString(price); err != nil {
		return p, fmt.Errorf("failed to parse product price %q: %w", price, err)
	}
	if p.VatRate, err = decimal.NewFromString(vatRate); err != nil {
		return p, fmt.Errorf("failed to parse product vat rate %q: %w", vatRate, err)
	}
	return p, nil
}
