package domain

import (
	"context"

	"kassir/internal/models"
	"kassir/internal/remote"
)

// RemoteGateway — операции удалённой системы учёта, доступные движку.
type RemoteGateway interface {
	SubmitSale(ctx context.Context, sale *models.PendingSale) (*remote.SaleResult, error)
	CreateInvoice(ctx context.Context, saleID string, buyer models.BuyerInfo) (*remote.InvoiceResult, error)
	CancelInvoice(ctx context.Context, invoiceID, reason string) error
	FetchProducts(ctx context.Context) ([]models.Product, error)
	FetchCategories(ctx context.Context) ([]models.Category, error)
}

// SessionProvider выдаёт текущую аутентифицированную сессию.
// nil без ошибки означает, что сессии нет.
type SessionProvider interface {
	Session(ctx context.Context) (*models.Session, error)
}

// EventPublisher — публикация внутренних событий для слоёв UI.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notifier оповещает операторов о задачах, исчерпавших попытки.
type Notifier interface {
	AlertDeadLetter(ctx context.Context, queue string, itemID string, lastError string) error
}
