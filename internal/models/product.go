package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product — кэшированная копия товара из удалённой системы.
// Обновляется только синхронизацией каталога, локально не редактируется.
type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	SKU        string          `json:"sku"`
	Barcode    string          `json:"barcode"`
	CategoryID string          `json:"category_id"`
	Price      decimal.Decimal `json:"price"`
	VatRate    decimal.Decimal `json:"vat_rate"`
	Quantity   int64           `json:"quantity"`
	ImageURL   string          `json:"image_url"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Category — кэшированная категория товаров.
type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SortOrder int64  `json:"sort_order"`
}
