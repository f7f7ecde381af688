package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PendingSale — продажа, оформленная офлайн и ожидающая отправки.
// Запись с synced=false не удаляется ни при каких условиях.
type PendingSale struct {
	ID            string           `json:"id"`
	Lines         []SaleLine       `json:"lines"`
	Customer      *CustomerInfo    `json:"customer,omitempty"`
	Payments      []Payment        `json:"payments"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	VatTotal      decimal.Decimal  `json:"vat_total"`
	DiscountTotal decimal.Decimal  `json:"discount_total"`
	Total         decimal.Decimal  `json:"total"`
	Note          string           `json:"note"`
	Synced        bool             `json:"synced"`
	RemoteID      string           `json:"remote_id,omitempty"`
	InvoiceNumber string           `json:"invoice_number,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	SyncedAt      *time.Time       `json:"synced_at,omitempty"`
}

// SaleLine — строка чека.
type SaleLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VatRate     decimal.Decimal `json:"vat_rate"`
	Discount    decimal.Decimal `json:"discount"`
}

// Payment — часть оплаты (наличные, карта и т.д.).
type Payment struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// CustomerInfo — снимок данных покупателя на момент продажи.
type CustomerInfo struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	TaxID string `json:"tax_id,omitempty"`
}

// LineTotal returns the line amount after discount, VAT included.
func (l SaleLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(l.Quantity).Sub(l.Discount)
}

// LineVat returns the VAT portion of the line total.
// Prices are VAT-inclusive: vat = total * rate / (100 + rate).
func (l SaleLine) LineVat() decimal.Decimal {
	total := l.LineTotal()
	divisor := l.VatRate.Add(decimal.NewFromInt(100))
	if divisor.IsZero() {
		return decimal.Zero
	}
	return total.Mul(l.VatRate).DivRound(divisor, 2)
}

// ComputeTotals пересчитывает итоги по строкам чека.
func (s *PendingSale) ComputeTotals() {
	subtotal := decimal.Zero
	vat := decimal.Zero
	discount := decimal.Zero
	for _, line := range s.Lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(line.Quantity))
		vat = vat.Add(line.LineVat())
		discount = discount.Add(line.Discount)
	}
	s.Subtotal = subtotal
	s.VatTotal = vat
	s.DiscountTotal = discount
	s.Total = subtotal.Sub(discount)
}

// OfflineReference returns the locally formatted receipt number shown
// while the sale has not been confirmed remotely. The format is distinct
// from remote invoice numbers so the two are never confused in the UI.
func (s *PendingSale) OfflineReference() string {
	short := strings.TrimPrefix(s.ID, LocalIDPrefix)
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("OFF-%s", strings.ToUpper(short))
}

// IsLocalID reports whether an identifier was minted on this device.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}
