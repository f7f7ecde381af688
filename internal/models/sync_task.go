package models

import "time"

// SyncTask represents a queued synchronization job outside the sale and
// invoice queues (e.g. customer updates recorded offline).
type SyncTask struct {
	ID          int64      `json:"id"`
	ActionKind  string     `json:"action_kind"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"` // pending, syncing, failed
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}
