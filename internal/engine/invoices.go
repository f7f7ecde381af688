package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"kassir/internal/database"
	"kassir/internal/domain"
	"kassir/internal/events"
	"kassir/internal/metrics"
	"kassir/internal/models"

	"github.com/rs/zerolog"
)

// InvoiceSyncer дренирует очередь электронных счетов. В отличие от
// продаж попытки ограничены: после maxRetries задача и её черновик
// переходят в failed и ждут ручного повтора.
type InvoiceSyncer struct {
	db         *database.DB
	remote     domain.RemoteGateway
	sessions   domain.SessionProvider
	bus        domain.EventPublisher
	notifier   domain.Notifier
	maxRetries int
	logger     zerolog.Logger
}

func NewInvoiceSyncer(
	db *database.DB,
	gateway domain.RemoteGateway,
	sessions domain.SessionProvider,
	bus domain.EventPublisher,
	notifier domain.Notifier,
	maxRetries int,
	logger *zerolog.Logger,
) *InvoiceSyncer {
	if maxRetries <= 0 {
		maxRetries = models.MaxInvoiceRetries
	}
	return &InvoiceSyncer{
		db:         db,
		remote:     gateway,
		sessions:   sessions,
		bus:        bus,
		notifier:   notifier,
		maxRetries: maxRetries,
		logger:     logger.With().Str("component", "invoice-syncer").Logger(),
	}
}

// RequestInvoice ставит в очередь выставление счёта по продаже.
func (s *InvoiceSyncer) RequestInvoice(ctx context.Context, saleID string, buyer models.BuyerInfo) (*models.InvoiceDraft, error) {
	if buyer.Name == "" || buyer.TaxID == "" {
		return nil, fmt.Errorf("buyer name and tax id are required")
	}
	draft, err := s.db.EnqueueInvoiceCreate(ctx, saleID, buyer)
	if err != nil {
		return nil, fmt.Errorf("request invoice: %w", err)
	}
	s.logger.Info().Str("draft_id", draft.ID).Str("sale_id", saleID).Msg("Счёт поставлен в очередь")
	return draft, nil
}

// RequestCancellation ставит в очередь отмену выставленного счёта.
func (s *InvoiceSyncer) RequestCancellation(ctx context.Context, saleID, invoiceID, reason string) (*models.InvoiceSyncItem, error) {
	if invoiceID == "" {
		return nil, fmt.Errorf("invoice id is required")
	}
	item, err := s.db.EnqueueInvoiceCancel(ctx, saleID, invoiceID, reason)
	if err != nil {
		return nil, fmt.Errorf("request cancellation: %w", err)
	}
	s.logger.Info().Int64("item_id", item.ID).Str("invoice_id", invoiceID).Msg("Отмена счёта поставлена в очередь")
	return item, nil
}

// Drain обрабатывает кандидатов последовательно: параллельная отправка
// двух задач по одной продаже создала бы дубль счёта на стороне учёта.
// Без аутентифицированной сессии дренаж прерывается целиком, не трогая
// счётчики попыток: отсутствие сессии — сбой окружения, не задачи.
func (s *InvoiceSyncer) Drain(ctx context.Context) (*DrainResult, error) {
	result := &DrainResult{}

	items, err := s.db.GetEligibleInvoiceItems(ctx, s.maxRetries)
	if err != nil {
		return result, fmt.Errorf("load invoice queue: %w", err)
	}
	if len(items) == 0 {
		return result, nil
	}

	session, err := s.sessions.Session(ctx)
	if err != nil {
		return result, fmt.Errorf("read session: %w", err)
	}
	if !session.Valid() {
		result.Remaining = len(items)
		s.logger.Warn().Int("remaining", len(items)).Msg("Дренаж счетов отменён: нет сессии")
		return result, database.ErrNoSession
	}

	s.logger.Info().Int("count", len(items)).Msg("Дренаж очереди счетов")

	for i := range items {
		item := &items[i]

		if err := ctx.Err(); err != nil {
			result.Remaining += len(items) - i
			return result, err
		}

		s.processItem(ctx, item, result)
	}

	remaining, err := s.db.CountPendingInvoiceItems(ctx)
	if err == nil {
		result.Remaining = remaining
		metrics.SetBacklog("invoices", remaining)
	}

	return result, nil
}

func (s *InvoiceSyncer) processItem(ctx context.Context, item *models.InvoiceSyncItem, result *DrainResult) {
	if err := s.db.MarkInvoiceProcessing(ctx, item.ID); err != nil {
		// Задачу уже забрал другой запуск — пропускаем молча
		if err != database.ErrNotFound {
			result.addError(err)
		}
		return
	}

	draftID, callErr := s.execute(ctx, item)
	if callErr != nil {
		s.fail(ctx, item, draftID, callErr, result)
		return
	}

	if err := s.db.CompleteInvoiceItem(ctx, item.ID, draftID); err != nil {
		s.logger.Error().Err(err).Int64("item_id", item.ID).Msg("Не удалось завершить задачу счёта")
		result.addError(err)
		return
	}

	metrics.IncSynced("invoices")
	result.Synced++

	_ = s.bus.PublishJSON(events.EventInvoiceSynced, events.InvoiceEventPayload{
		ItemID:  item.ID,
		SaleID:  item.SaleID,
		DraftID: draftID,
		Status:  models.StatusCompleted,
	})
}

// execute выполняет удалённый вызов задачи и возвращает id черновика,
// чей статус нужно спроецировать.
func (s *InvoiceSyncer) execute(ctx context.Context, item *models.InvoiceSyncItem) (string, error) {
	switch item.Action {
	case models.ActionInvoiceCreate:
		var payload models.InvoiceCreatePayload
		if err := json.Unmarshal([]byte(item.Payload), &payload); err != nil {
			return "", fmt.Errorf("decode create payload: %w", err)
		}
		if _, err := s.remote.CreateInvoice(ctx, payload.SaleID, payload.Buyer); err != nil {
			return payload.DraftID, err
		}
		return payload.DraftID, nil
	case models.ActionInvoiceCancel:
		var payload models.InvoiceCancelPayload
		if err := json.Unmarshal([]byte(item.Payload), &payload); err != nil {
			return "", fmt.Errorf("decode cancel payload: %w", err)
		}
		return "", s.remote.CancelInvoice(ctx, payload.InvoiceID, payload.Reason)
	default:
		return "", fmt.Errorf("unknown invoice action: %s", item.Action)
	}
}

func (s *InvoiceSyncer) fail(ctx context.Context, item *models.InvoiceSyncItem, draftID string, cause error, result *DrainResult) {
	s.logger.Warn().Err(cause).Int64("item_id", item.ID).Str("action", item.Action).Msg("Задача счёта не выполнена")

	terminal, err := s.db.FailInvoiceItem(ctx, item.ID, draftID, cause.Error(), s.maxRetries)
	if err != nil {
		s.logger.Error().Err(err).Int64("item_id", item.ID).Msg("Не удалось зафиксировать ошибку задачи")
		result.addError(err)
		return
	}

	metrics.IncFailed("invoices")
	result.Failed++
	result.addError(fmt.Errorf("invoice item %d: %w", item.ID, cause))

	if terminal {
		_ = s.bus.PublishJSON(events.EventInvoiceFailed, events.InvoiceEventPayload{
			ItemID:    item.ID,
			SaleID:    item.SaleID,
			DraftID:   draftID,
			Status:    models.StatusFailed,
			LastError: cause.Error(),
		})
		if s.notifier != nil {
			_ = s.notifier.AlertDeadLetter(ctx, "invoices", strconv.FormatInt(item.ID, 10), cause.Error())
		}
	}
}

// Retry — ручной повтор терминально упавшей задачи. Статус возвращается
// в pending, счётчик и последняя ошибка сбрасываются.
func (s *InvoiceSyncer) Retry(ctx context.Context, itemID int64) error {
	item, err := s.db.GetInvoiceItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Status != models.StatusFailed {
		return fmt.Errorf("invoice item %d is not failed (status %s)", itemID, item.Status)
	}

	draftID := ""
	if item.Action == models.ActionInvoiceCreate {
		var payload models.InvoiceCreatePayload
		if err := json.Unmarshal([]byte(item.Payload), &payload); err == nil {
			draftID = payload.DraftID
		}
	}

	if err := s.db.RetryInvoiceItem(ctx, itemID, draftID); err != nil {
		return fmt.Errorf("retry invoice item: %w", err)
	}

	s.logger.Info().Int64("item_id", itemID).Msg("Задача счёта возвращена в очередь вручную")
	return nil
}
