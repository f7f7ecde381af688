package models

import "time"

// InvoiceDraft — локальный черновик электронного счёта, привязанный к продаже.
// Статус черновика — проекция результата соответствующей задачи очереди.
type InvoiceDraft struct {
	ID        string     `json:"id"`
	SaleID    string     `json:"sale_id"`
	Buyer     BuyerInfo  `json:"buyer"`
	Status    string     `json:"status"` // pending, synced, failed
	CreatedAt time.Time  `json:"created_at"`
}

// BuyerInfo — реквизиты покупателя для выставления счёта.
type BuyerInfo struct {
	Name    string `json:"name"`
	TaxID   string `json:"tax_id"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// InvoiceSyncItem — задача очереди синхронизации счетов.
type InvoiceSyncItem struct {
	ID          int64      `json:"id"`
	SaleID      string     `json:"sale_id"`
	Action      string     `json:"action"` // create, cancel
	Payload     string     `json:"payload"`
	Status      string     `json:"status"` // pending, processing, completed, failed
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// InvoiceCreatePayload is stored in InvoiceSyncItem.Payload for create actions.
type InvoiceCreatePayload struct {
	DraftID string    `json:"draft_id"`
	SaleID  string    `json:"sale_id"`
	Buyer   BuyerInfo `json:"buyer"`
}

// InvoiceCancelPayload is stored in InvoiceSyncItem.Payload for cancel actions.
type InvoiceCancelPayload struct {
	InvoiceID string `json:"invoice_id"`
	Reason    string `json:"reason"`
}
