package engine

import (
	"context"
	"fmt"
	"time"

	"kassir/internal/database"
	"kassir/internal/domain"
	"kassir/internal/events"

	"github.com/rs/zerolog"
)

// CatalogSyncer обновляет локальный кэш товаров и категорий из
// удалённой системы. Операция идемпотентна и безопасна для повторного
// запуска: неудачная синхронизация не трогает прежний кэш.
type CatalogSyncer struct {
	db     *database.DB
	remote domain.RemoteGateway
	bus    domain.EventPublisher
	logger zerolog.Logger
}

func NewCatalogSyncer(db *database.DB, gateway domain.RemoteGateway, bus domain.EventPublisher, logger *zerolog.Logger) *CatalogSyncer {
	return &CatalogSyncer{
		db:     db,
		remote: gateway,
		bus:    bus,
		logger: logger.With().Str("component", "catalog-syncer").Logger(),
	}
}

// Sync скачивает полный набор справочных данных и заменяет кэш.
// Обе коллекции забираются до записи: если хотя бы один запрос упал,
// локальный кэш остаётся прежним целиком.
func (s *CatalogSyncer) Sync(ctx context.Context) error {
	products, err := s.remote.FetchProducts(ctx)
	if err != nil {
		return fmt.Errorf("fetch products: %w", err)
	}

	categories, err := s.remote.FetchCategories(ctx)
	if err != nil {
		return fmt.Errorf("fetch categories: %w", err)
	}

	syncedAt := time.Now()

	if err := s.db.ReplaceProducts(ctx, products, syncedAt); err != nil {
		return fmt.Errorf("replace products: %w", err)
	}
	if err := s.db.ReplaceCategories(ctx, categories, syncedAt); err != nil {
		return fmt.Errorf("replace categories: %w", err)
	}

	s.logger.Info().
		Int("products", len(products)).
		Int("categories", len(categories)).
		Msg("Кэш каталога обновлён")

	_ = s.bus.PublishJSON(events.EventCatalogInvalidated, events.CatalogEventPayload{
		Products:   len(products),
		Categories: len(categories),
		SyncedAt:   syncedAt,
	})
	return nil
}

// LastSyncTimes возвращает отметки последней успешной синхронизации.
func (s *CatalogSyncer) LastSyncTimes(ctx context.Context) (products, categories time.Time, err error) {
	products, err = s.db.GetLastSyncTime(ctx, database.MetaProductsSyncedAt)
	if err != nil {
		return
	}
	categories, err = s.db.GetLastSyncTime(ctx, database.MetaCategoriesSyncedAt)
	return
}
