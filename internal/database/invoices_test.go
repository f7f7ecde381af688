package database

import (
	"context"
	"encoding/json"
	"testing"

	"kassir/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueInvoiceCreate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	buyer := models.BuyerInfo{Name: "ACME LLC", TaxID: "7701234567", Email: "acme@example.com"}

	draft, err := db.EnqueueInvoiceCreate(ctx, "local-sale-1", buyer)
	require.NoError(t, err)
	assert.Equal(t, models.DraftPending, draft.Status)
	assert.Equal(t, "local-sale-1", draft.SaleID)

	// Черновик и задача созданы парой
	items, err := db.GetEligibleInvoiceItems(ctx, models.MaxInvoiceRetries)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ActionInvoiceCreate, items[0].Action)
	assert.Equal(t, 0, items[0].RetryCount)

	var payload models.InvoiceCreatePayload
	require.NoError(t, json.Unmarshal([]byte(items[0].Payload), &payload))
	assert.Equal(t, draft.ID, payload.DraftID)
	assert.Equal(t, "ACME LLC", payload.Buyer.Name)

	got, err := db.GetInvoiceDraftBySale(ctx, "local-sale-1")
	require.NoError(t, err)
	assert.Equal(t, draft.ID, got.ID)
	assert.Equal(t, "7701234567", got.Buyer.TaxID)
}

func TestEnqueueInvoiceCancel(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	item, err := db.EnqueueInvoiceCancel(ctx, "local-sale-2", "remote-inv-9", "customer request")
	require.NoError(t, err)
	assert.Equal(t, models.ActionInvoiceCancel, item.Action)

	var payload models.InvoiceCancelPayload
	require.NoError(t, json.Unmarshal([]byte(item.Payload), &payload))
	assert.Equal(t, "remote-inv-9", payload.InvoiceID)
	assert.Equal(t, "customer request", payload.Reason)
}

func TestMarkInvoiceProcessingGuard(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	item, err := db.EnqueueInvoiceCancel(ctx, "s1", "inv-1", "")
	require.NoError(t, err)

	require.NoError(t, db.MarkInvoiceProcessing(ctx, item.ID))

	// Второй захват той же задачи не проходит
	err = db.MarkInvoiceProcessing(ctx, item.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteInvoiceItem(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	draft, err := db.EnqueueInvoiceCreate(ctx, "s1", models.BuyerInfo{Name: "B", TaxID: "1"})
	require.NoError(t, err)

	items, err := db.GetEligibleInvoiceItems(ctx, models.MaxInvoiceRetries)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, db.MarkInvoiceProcessing(ctx, items[0].ID))
	require.NoError(t, db.CompleteInvoiceItem(ctx, items[0].ID, draft.ID))

	// Задача завершена, черновик спроецирован в synced
	got, err := db.GetInvoiceItem(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.NotNil(t, got.ProcessedAt)

	gotDraft, err := db.GetInvoiceDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftSynced, gotDraft.Status)

	// Завершённая задача больше не кандидат
	items, err = db.GetEligibleInvoiceItems(ctx, models.MaxInvoiceRetries)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFailInvoiceItemRetryLifecycle(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	draft, err := db.EnqueueInvoiceCreate(ctx, "s1", models.BuyerInfo{Name: "B", TaxID: "1"})
	require.NoError(t, err)

	items, err := db.GetEligibleInvoiceItems(ctx, models.MaxInvoiceRetries)
	require.NoError(t, err)
	itemID := items[0].ID

	// Первые две неудачи возвращают задачу в pending
	for attempt := 1; attempt < models.MaxInvoiceRetries; attempt++ {
		require.NoError(t, db.MarkInvoiceProcessing(ctx, itemID))
		terminal, err := db.FailInvoiceItem(ctx, itemID, draft.ID, "timeout", models.MaxInvoiceRetries)
		require.NoError(t, err)
		assert.False(t, terminal)

		got, err := db.GetInvoiceItem(ctx, itemID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Equal(t, attempt, got.RetryCount)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "timeout", *got.LastError)
	}

	// Третья неудача терминальна: задача и черновик в failed
	require.NoError(t, db.MarkInvoiceProcessing(ctx, itemID))
	terminal, err := db.FailInvoiceItem(ctx, itemID, draft.ID, "rejected", models.MaxInvoiceRetries)
	require.NoError(t, err)
	assert.True(t, terminal)

	got, err := db.GetInvoiceItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.MaxInvoiceRetries, got.RetryCount)

	gotDraft, err := db.GetInvoiceDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftFailed, gotDraft.Status)

	// Терминальная задача не кандидат на автоматический повтор
	eligible, err := db.GetEligibleInvoiceItems(ctx, models.MaxInvoiceRetries)
	require.NoError(t, err)
	assert.Empty(t, eligible)

	failed, err := db.GetFailedInvoiceItems(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, itemID, failed[0].ID)
}

func TestRetryInvoiceItem(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	draft, err := db.EnqueueInvoiceCreate(ctx, "s1", models.BuyerInfo{Name: "B", TaxID: "1"})
	require.NoError(t, err)

	items, err := db.GetEligibleInvoiceItems(ctx, models.MaxInvoiceRetries)
	require.NoError(t, err)
	itemID := items[0].ID

	// Доводим до терминального failed
	for i := 0; i < models.MaxInvoiceRetries; i++ {
		require.NoError(t, db.MarkInvoiceProcessing(ctx, itemID))
		_, err := db.FailInvoiceItem(ctx, itemID, draft.ID, "boom", models.MaxInvoiceRetries)
		require.NoError(t, err)
	}

	require.NoError(t, db.RetryInvoiceItem(ctx, itemID, draft.ID))

	got, err := db.GetInvoiceItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Nil(t, got.LastError)

	gotDraft, err := db.GetInvoiceDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftPending, gotDraft.Status)

	// Повтор нефейловой задачи отклоняется
	err = db.RetryInvoiceItem(ctx, itemID, draft.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountPendingInvoiceItems(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	_, err := db.EnqueueInvoiceCancel(ctx, "s1", "inv-1", "")
	require.NoError(t, err)
	item2, err := db.EnqueueInvoiceCancel(ctx, "s2", "inv-2", "")
	require.NoError(t, err)

	count, err := db.CountPendingInvoiceItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// processing тоже считается незавершённой работой
	require.NoError(t, db.MarkInvoiceProcessing(ctx, item2.ID))
	count, err = db.CountPendingInvoiceItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, db.CompleteInvoiceItem(ctx, item2.ID, ""))
	count, err = db.CountPendingInvoiceItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
