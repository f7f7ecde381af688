package engine

import (
	"context"
	"errors"
	"testing"

	"kassir/internal/database"
	"kassir/internal/events"
	"kassir/internal/models"
	"kassir/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInvoiceSyncer(db *database.DB, gateway *stubGateway, sessions *stubSessions, notifier *stubNotifier, bus *events.EventBus) *InvoiceSyncer {
	if bus == nil {
		bus = events.NewEventBus()
	}
	return NewInvoiceSyncer(db, gateway, sessions, bus, notifier, models.MaxInvoiceRetries, testLogger())
}

func TestRequestInvoiceValidation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	syncer := newInvoiceSyncer(db, &stubGateway{}, &stubSessions{}, nil, nil)

	_, err := syncer.RequestInvoice(context.Background(), "s1", models.BuyerInfo{Name: "No Tax ID"})
	assert.Error(t, err)

	_, err = syncer.RequestInvoice(context.Background(), "s1", models.BuyerInfo{TaxID: "123"})
	assert.Error(t, err)
}

func TestInvoiceDrainSuccess(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	bus := events.NewEventBus()

	var synced []events.InvoiceEventPayload
	bus.Subscribe(events.EventInvoiceSynced, func(ev *events.Event) error {
		var p events.InvoiceEventPayload
		require.NoError(t, decodePayload(ev, &p))
		synced = append(synced, p)
		return nil
	})

	syncer := newInvoiceSyncer(db, &stubGateway{}, &stubSessions{session: validSession()}, nil, bus)

	draft, err := syncer.RequestInvoice(ctx, "local-sale-1", models.BuyerInfo{Name: "ACME", TaxID: "770"})
	require.NoError(t, err)

	result, err := syncer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, result.Failed)

	gotDraft, err := db.GetInvoiceDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftSynced, gotDraft.Status)

	require.Len(t, synced, 1)
	assert.Equal(t, draft.ID, synced[0].DraftID)
}

func TestInvoiceDrainWithoutSession(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	gateway := &stubGateway{}
	syncer := newInvoiceSyncer(db, gateway, &stubSessions{session: nil}, nil, nil)

	_, err := syncer.RequestInvoice(ctx, "local-sale-1", models.BuyerInfo{Name: "ACME", TaxID: "770"})
	require.NoError(t, err)
	_, err = syncer.RequestCancellation(ctx, "local-sale-2", "remote-inv-1", "void")
	require.NoError(t, err)

	// Без сессии дренаж прерывается целиком
	result, err := syncer.Drain(ctx)
	assert.ErrorIs(t, err, database.ErrNoSession)
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 2, result.Remaining)

	// Удалённых вызовов не было, счётчики попыток не тронуты
	assert.Empty(t, gateway.callLog())
	items, err := db.GetEligibleInvoiceItems(ctx, models.MaxInvoiceRetries)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, models.StatusPending, item.Status)
		assert.Equal(t, 0, item.RetryCount)
	}
}

func TestInvoiceDrainDeadLetterAfterMaxRetries(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	bus := events.NewEventBus()
	notifier := &stubNotifier{}

	var failedEvents []events.InvoiceEventPayload
	bus.Subscribe(events.EventInvoiceFailed, func(ev *events.Event) error {
		var p events.InvoiceEventPayload
		require.NoError(t, decodePayload(ev, &p))
		failedEvents = append(failedEvents, p)
		return nil
	})

	gateway := &stubGateway{}
	gateway.createInvoice = func(ctx context.Context, saleID string, buyer models.BuyerInfo) (*remote.InvoiceResult, error) {
		return nil, errors.New("tax service rejected")
	}

	syncer := newInvoiceSyncer(db, gateway, &stubSessions{session: validSession()}, notifier, bus)

	draft, err := syncer.RequestInvoice(ctx, "local-sale-1", models.BuyerInfo{Name: "ACME", TaxID: "770"})
	require.NoError(t, err)

	// Каждый дренаж даёт задаче ровно одну попытку
	for i := 0; i < models.MaxInvoiceRetries; i++ {
		result, err := syncer.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)
	}

	failed, err := db.GetFailedInvoiceItems(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, models.MaxInvoiceRetries, failed[0].RetryCount)

	gotDraft, err := db.GetInvoiceDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftFailed, gotDraft.Status)

	// Терминальный переход: одно событие, одно оповещение оператора
	require.Len(t, failedEvents, 1)
	assert.Equal(t, "tax service rejected", failedEvents[0].LastError)
	assert.Equal(t, 1, notifier.count())

	// Очередь пуста для автоматики: ровно maxRetries вызовов
	result, err := syncer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Failed)
	assert.Len(t, gateway.callLog(), models.MaxInvoiceRetries)
}

func TestInvoiceManualRetryAfterDeadLetter(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	fail := true
	gateway := &stubGateway{}
	gateway.createInvoice = func(ctx context.Context, saleID string, buyer models.BuyerInfo) (*remote.InvoiceResult, error) {
		if fail {
			return nil, errors.New("temporary outage")
		}
		return &remote.InvoiceResult{InvoiceID: "inv-1"}, nil
	}

	syncer := newInvoiceSyncer(db, gateway, &stubSessions{session: validSession()}, &stubNotifier{}, nil)

	draft, err := syncer.RequestInvoice(ctx, "local-sale-1", models.BuyerInfo{Name: "ACME", TaxID: "770"})
	require.NoError(t, err)

	for i := 0; i < models.MaxInvoiceRetries; i++ {
		_, err := syncer.Drain(ctx)
		require.NoError(t, err)
	}

	failed, err := db.GetFailedInvoiceItems(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	// Ручной повтор задачи не в failed-статусе отклоняется
	err = syncer.Retry(ctx, failed[0].ID)
	require.NoError(t, err)
	err = syncer.Retry(ctx, failed[0].ID)
	assert.Error(t, err)

	fail = false
	result, err := syncer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	gotDraft, err := db.GetInvoiceDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftSynced, gotDraft.Status)
}

func TestInvoiceDrainCancelAction(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	var cancelled []string
	gateway := &stubGateway{}
	gateway.cancelInvoice = func(ctx context.Context, invoiceID, reason string) error {
		cancelled = append(cancelled, invoiceID+"/"+reason)
		return nil
	}

	syncer := newInvoiceSyncer(db, gateway, &stubSessions{session: validSession()}, nil, nil)

	item, err := syncer.RequestCancellation(ctx, "local-sale-1", "remote-inv-7", "duplicate")
	require.NoError(t, err)

	result, err := syncer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "remote-inv-7/duplicate", cancelled[0])

	got, err := db.GetInvoiceItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestInvoiceDrainExpiredSession(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	expired := &models.Session{Token: "tok", ExpiresAt: timePast()}
	syncer := newInvoiceSyncer(db, &stubGateway{}, &stubSessions{session: expired}, nil, nil)

	_, err := syncer.RequestCancellation(ctx, "s1", "inv-1", "")
	require.NoError(t, err)

	_, err = syncer.Drain(ctx)
	assert.ErrorIs(t, err, database.ErrNoSession)
}
