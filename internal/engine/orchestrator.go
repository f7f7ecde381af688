package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"kassir/internal/connectivity"
	"kassir/internal/domain"
	"kassir/internal/events"
	"kassir/internal/metrics"

	"github.com/rs/zerolog"
)

// ErrSyncInProgress возвращается, когда оркестратор уже запущен:
// второй триггер детерминированно отбрасывается, двойного дренажа нет.
var ErrSyncInProgress = errors.New("sync already in progress")

// RunResult — агрегат одного запуска оркестратора.
type RunResult struct {
	Trigger    string       `json:"trigger"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Sales      *DrainResult `json:"sales,omitempty"`
	Invoices   *DrainResult `json:"invoices,omitempty"`
	CatalogOK  bool         `json:"catalog_ok"`
	Errors     []string     `json:"errors,omitempty"`
}

// Orchestrator запускает полный цикл согласования в фиксированном
// порядке: продажи → счета → каталог. Продажи идут первыми, потому что
// счёт ссылается на продажу, которая должна уже существовать удалённо;
// каталог обновляется последним, чтобы UI увидел остатки после отправки.
type Orchestrator struct {
	sales    *SaleSyncer
	invoices *InvoiceSyncer
	catalog  *CatalogSyncer
	monitor  *connectivity.Monitor
	bus      domain.EventPublisher
	logger   zerolog.Logger

	mu       sync.Mutex
	inFlight bool

	lastMu  sync.RWMutex
	lastRun *RunResult
}

func NewOrchestrator(
	sales *SaleSyncer,
	invoices *InvoiceSyncer,
	catalog *CatalogSyncer,
	monitor *connectivity.Monitor,
	bus domain.EventPublisher,
	logger *zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		sales:    sales,
		invoices: invoices,
		catalog:  catalog,
		monitor:  monitor,
		bus:      bus,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

// AttachMonitor подписывает оркестратор на переход offline→online.
// Возвращает функцию отписки.
func (o *Orchestrator) AttachMonitor(ctx context.Context) func() {
	return o.monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		go func() {
			if _, err := o.Run(ctx, "reconnect"); err != nil && err != ErrSyncInProgress {
				o.logger.Error().Err(err).Msg("Автоматическая синхронизация не удалась")
			}
		}()
	})
}

// Run выполняет один цикл. Повторный вызов во время работы возвращает
// ErrSyncInProgress. Дренажи выбирают только записи в pending-статусах,
// поэтому повторные запуски не обрабатывают завершённое дважды.
func (o *Orchestrator) Run(ctx context.Context, trigger string) (*RunResult, error) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		metrics.IncRun("dropped")
		return nil, ErrSyncInProgress
	}
	o.inFlight = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	if !o.monitor.Online() {
		metrics.IncRun("offline")
		return nil, errors.New("no connectivity")
	}

	result := &RunResult{Trigger: trigger, StartedAt: time.Now()}
	o.logger.Info().Str("trigger", trigger).Msg("Запуск синхронизации")

	salesResult, err := o.sales.Drain(ctx)
	result.Sales = salesResult
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	invoiceResult, err := o.invoices.Drain(ctx)
	result.Invoices = invoiceResult
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	if err := o.catalog.Sync(ctx); err != nil {
		result.Errors = append(result.Errors, err.Error())
	} else {
		result.CatalogOK = true
	}

	result.FinishedAt = time.Now()

	outcome := "ok"
	if len(result.Errors) > 0 {
		outcome = "partial"
	}
	metrics.IncRun(outcome)

	o.logger.Info().
		Str("trigger", trigger).
		Int("sales_synced", result.Sales.Synced).
		Int("invoices_synced", result.Invoices.Synced).
		Bool("catalog_ok", result.CatalogOK).
		Int("errors", len(result.Errors)).
		Msg("Синхронизация завершена")

	o.lastMu.Lock()
	o.lastRun = result
	o.lastMu.Unlock()

	_ = o.bus.PublishJSON(events.EventSyncCompleted, result)

	return result, nil
}

// LastRun возвращает итог последнего завершённого запуска.
func (o *Orchestrator) LastRun() *RunResult {
	o.lastMu.RLock()
	defer o.lastMu.RUnlock()
	return o.lastRun
}
