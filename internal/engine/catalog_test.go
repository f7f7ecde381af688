package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"kassir/internal/events"
	"kassir/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogSync(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	bus := events.NewEventBus()

	var payloads []events.CatalogEventPayload
	bus.Subscribe(events.EventCatalogInvalidated, func(ev *events.Event) error {
		var p events.CatalogEventPayload
		require.NoError(t, decodePayload(ev, &p))
		payloads = append(payloads, p)
		return nil
	})

	gateway := &stubGateway{}
	gateway.fetchProducts = func(ctx context.Context) ([]models.Product, error) {
		return []models.Product{
			{ID: "p1", Name: "Coffee", Price: decimal.RequireFromString("3.50"), VatRate: decimal.NewFromInt(20)},
		}, nil
	}
	gateway.fetchCategories = func(ctx context.Context) ([]models.Category, error) {
		return []models.Category{{ID: "c1", Name: "Drinks"}}, nil
	}

	syncer := NewCatalogSyncer(db, gateway, bus, testLogger())
	require.NoError(t, syncer.Sync(ctx))

	products, err := db.GetProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)

	categories, err := db.GetCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 1)

	require.Len(t, payloads, 1)
	assert.Equal(t, 1, payloads[0].Products)

	productsAt, categoriesAt, err := syncer.LastSyncTimes(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), productsAt, time.Minute)
	assert.WithinDuration(t, time.Now(), categoriesAt, time.Minute)
}

func TestCatalogSyncKeepsCacheOnFetchError(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	// Первая синхронизация наполняет кэш
	gateway := &stubGateway{}
	gateway.fetchProducts = func(ctx context.Context) ([]models.Product, error) {
		return []models.Product{{ID: "p1", Name: "Coffee", Price: decimal.NewFromInt(3), VatRate: decimal.NewFromInt(20)}}, nil
	}
	gateway.fetchCategories = func(ctx context.Context) ([]models.Category, error) {
		return []models.Category{{ID: "c1", Name: "Drinks"}}, nil
	}
	syncer := NewCatalogSyncer(db, gateway, events.NewEventBus(), testLogger())
	require.NoError(t, syncer.Sync(ctx))

	// Вторая падает на категориях: товары не должны быть перезаписаны,
	// обе коллекции забираются до записи
	gateway.fetchProducts = func(ctx context.Context) ([]models.Product, error) {
		return nil, nil
	}
	gateway.fetchCategories = func(ctx context.Context) ([]models.Category, error) {
		return nil, errors.New("backend unavailable")
	}

	err := syncer.Sync(ctx)
	require.Error(t, err)

	products, err := db.GetProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 1, "cache must survive a failed refresh")

	categories, err := db.GetCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, categories, 1)
}
