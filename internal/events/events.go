package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventCatalogInvalidated = "catalog_invalidated"
	EventSaleRecorded       = "sale_recorded"
	EventSaleSynced         = "sale_synced"
	EventInvoiceSynced      = "invoice_synced"
	EventInvoiceFailed      = "invoice_failed"
	EventSyncCompleted      = "sync_completed"
)

// SaleEventPayload describes the minimal sale snapshot for event consumers.
type SaleEventPayload struct {
	SaleID        string `json:"sale_id"`
	RemoteID      string `json:"remote_id,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	Reference     string `json:"reference,omitempty"`
}

// InvoiceEventPayload describes an invoice queue transition.
type InvoiceEventPayload struct {
	ItemID    int64  `json:"item_id"`
	SaleID    string `json:"sale_id"`
	DraftID   string `json:"draft_id,omitempty"`
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

// CatalogEventPayload is published after a successful cache refresh so UI
// layers re-read the local store.
type CatalogEventPayload struct {
	Products   int       `json:"products"`
	Categories int       `json:"categories"`
	SyncedAt   time.Time `json:"synced_at"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
