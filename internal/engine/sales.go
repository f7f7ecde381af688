package engine

import (
	"context"
	"fmt"

	"kassir/internal/database"
	"kassir/internal/domain"
	"kassir/internal/events"
	"kassir/internal/metrics"
	"kassir/internal/models"

	"github.com/rs/zerolog"
)

// SaleSyncer дренирует очередь офлайн-продаж. Продажи повторяются
// бессрочно: потерять оформленный чек недопустимо, поэтому у очереди
// нет счётчика попыток и терминального состояния.
type SaleSyncer struct {
	db     *database.DB
	remote domain.RemoteGateway
	bus    domain.EventPublisher
	logger zerolog.Logger
}

func NewSaleSyncer(db *database.DB, gateway domain.RemoteGateway, bus domain.EventPublisher, logger *zerolog.Logger) *SaleSyncer {
	return &SaleSyncer{
		db:     db,
		remote: gateway,
		bus:    bus,
		logger: logger.With().Str("component", "sale-syncer").Logger(),
	}
}

// Enqueue сохраняет оформленную продажу локально. Чистая локальная
// запись: выполняется и без какой-либо связи.
func (s *SaleSyncer) Enqueue(ctx context.Context, sale *models.PendingSale) error {
	if len(sale.Lines) == 0 {
		return fmt.Errorf("sale must have at least one line")
	}

	if err := s.db.CreatePendingSale(ctx, sale); err != nil {
		return fmt.Errorf("enqueue sale: %w", err)
	}

	s.logger.Info().
		Str("sale_id", sale.ID).
		Str("reference", sale.OfflineReference()).
		Int("lines", len(sale.Lines)).
		Msg("Продажа записана в локальную очередь")

	_ = s.bus.PublishJSON(events.EventSaleRecorded, events.SaleEventPayload{
		SaleID:    sale.ID,
		Reference: sale.OfflineReference(),
	})
	return nil
}

// Drain отправляет неотправленные продажи, старые первыми. Обработка
// строго последовательная: порядок важен для нумерации счетов.
// Неудавшаяся продажа остаётся нетронутой до следующего дренажа.
func (s *SaleSyncer) Drain(ctx context.Context) (*DrainResult, error) {
	result := &DrainResult{}

	sales, err := s.db.GetUnsyncedSales(ctx)
	if err != nil {
		return result, fmt.Errorf("load unsynced sales: %w", err)
	}
	if len(sales) == 0 {
		return result, nil
	}

	s.logger.Info().Int("count", len(sales)).Msg("Дренаж очереди продаж")

	for i := range sales {
		sale := &sales[i]

		if err := ctx.Err(); err != nil {
			result.Remaining = len(sales) - i
			return result, err
		}

		submitted, err := s.remote.SubmitSale(ctx, sale)
		if err != nil {
			s.logger.Warn().Err(err).Str("sale_id", sale.ID).Msg("Отправка продажи не удалась")
			metrics.IncFailed("sales")
			result.Failed++
			result.addError(fmt.Errorf("sale %s: %w", sale.OfflineReference(), err))
			continue
		}

		if err := s.db.MarkSaleSynced(ctx, sale.ID, submitted.RemoteID, submitted.InvoiceNumber); err != nil {
			// Удалённая система продажу приняла, а локальная отметка не
			// прошла: следующий дренаж отправит её повторно, защита от
			// дублей — идемпотентность по local_id на стороне учёта.
			s.logger.Error().Err(err).Str("sale_id", sale.ID).Msg("Не удалось отметить продажу отправленной")
			result.Failed++
			result.addError(err)
			continue
		}

		metrics.IncSynced("sales")
		result.Synced++

		_ = s.bus.PublishJSON(events.EventSaleSynced, events.SaleEventPayload{
			SaleID:        sale.ID,
			RemoteID:      submitted.RemoteID,
			InvoiceNumber: submitted.InvoiceNumber,
		})
	}

	remaining, err := s.db.CountUnsyncedSales(ctx)
	if err == nil {
		result.Remaining = remaining
		metrics.SetBacklog("sales", remaining)
	}

	return result, nil
}
