package engine

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"kassir/internal/database"
	"kassir/internal/events"
	"kassir/internal/models"
	"kassir/internal/remote"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *database.DB {
	logger := zerolog.New(os.Stdout)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	return db
}

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// stubGateway лепится под каждый тест функциями-полями.
type stubGateway struct {
	mu    sync.Mutex
	calls []string

	submitSale      func(ctx context.Context, sale *models.PendingSale) (*remote.SaleResult, error)
	createInvoice   func(ctx context.Context, saleID string, buyer models.BuyerInfo) (*remote.InvoiceResult, error)
	cancelInvoice   func(ctx context.Context, invoiceID, reason string) error
	fetchProducts   func(ctx context.Context) ([]models.Product, error)
	fetchCategories func(ctx context.Context) ([]models.Category, error)
}

func (g *stubGateway) record(call string) {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	g.mu.Unlock()
}

func (g *stubGateway) callLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *stubGateway) SubmitSale(ctx context.Context, sale *models.PendingSale) (*remote.SaleResult, error) {
	g.record("submit_sale")
	if g.submitSale != nil {
		return g.submitSale(ctx, sale)
	}
	return &remote.SaleResult{RemoteID: "srv-" + sale.ID, InvoiceNumber: "INV-1"}, nil
}

func (g *stubGateway) CreateInvoice(ctx context.Context, saleID string, buyer models.BuyerInfo) (*remote.InvoiceResult, error) {
	g.record("create_invoice")
	if g.createInvoice != nil {
		return g.createInvoice(ctx, saleID, buyer)
	}
	return &remote.InvoiceResult{InvoiceID: "inv-1", InvoiceNumber: "EINV-1"}, nil
}

func (g *stubGateway) CancelInvoice(ctx context.Context, invoiceID, reason string) error {
	g.record("cancel_invoice")
	if g.cancelInvoice != nil {
		return g.cancelInvoice(ctx, invoiceID, reason)
	}
	return nil
}

func (g *stubGateway) FetchProducts(ctx context.Context) ([]models.Product, error) {
	g.record("fetch_products")
	if g.fetchProducts != nil {
		return g.fetchProducts(ctx)
	}
	return nil, nil
}

func (g *stubGateway) FetchCategories(ctx context.Context) ([]models.Category, error) {
	g.record("fetch_categories")
	if g.fetchCategories != nil {
		return g.fetchCategories(ctx)
	}
	return nil, nil
}

// stubSessions возвращает заранее заданную сессию.
type stubSessions struct {
	session *models.Session
	err     error
}

func (s *stubSessions) Session(ctx context.Context) (*models.Session, error) {
	return s.session, s.err
}

func validSession() *models.Session {
	return &models.Session{Token: "tok", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
}

func timePast() time.Time {
	return time.Now().Add(-time.Minute)
}

// stubNotifier записывает оповещения о dead letter.
type stubNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (n *stubNotifier) AlertDeadLetter(ctx context.Context, queue string, itemID string, lastError string) error {
	n.mu.Lock()
	n.alerts = append(n.alerts, queue+":"+itemID)
	n.mu.Unlock()
	return nil
}

func (n *stubNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func decodePayload(ev *events.Event, out interface{}) error {
	return json.Unmarshal(ev.Payload, out)
}
