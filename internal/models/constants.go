package models

// Статусы задач очереди счетов.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Статусы черновиков счетов.
const (
	DraftPending = "pending"
	DraftSynced  = "synced"
	DraftFailed  = "failed"
)

// Статусы задач общей очереди синхронизации.
const (
	TaskPending = "pending"
	TaskSyncing = "syncing"
	TaskFailed  = "failed"
)

// Действия очереди счетов.
const (
	ActionInvoiceCreate = "create"
	ActionInvoiceCancel = "cancel"
)

// LocalIDPrefix marks identifiers minted on-device before the remote
// system has assigned its own.
const LocalIDPrefix = "local-"

const (
	// MaxInvoiceRetries — предел попыток для задач очереди счетов.
	MaxInvoiceRetries = 3

	// DefaultSessionTTL время жизни сессии в Redis (секунды)
	DefaultSessionTTL = 12 * 60 * 60

	// DefaultQueueBatchSize размер выборки задач общей очереди
	DefaultQueueBatchSize = 20

	// DefaultPruneAfterDays сколько дней хранить отправленные продажи
	DefaultPruneAfterDays = 30
)
