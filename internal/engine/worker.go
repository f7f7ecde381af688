package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kassir/internal/database"
	"kassir/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TaskHandler выполняет одну задачу общей очереди.
type TaskHandler func(ctx context.Context, payload json.RawMessage) error

// QueueWorker обслуживает общую очередь sync_queue: отложенные операции,
// не относящиеся к продажам и счетам (обновления клиентов и т.п.).
// Задачи с исчерпанными попытками зеркалируются в dead-letter список
// Redis для инструментов оператора.
type QueueWorker struct {
	db            *database.DB
	redis         *redis.Client
	retryPolicy   RetryPolicy
	handlers      map[string]TaskHandler
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        zerolog.Logger
}

// NewQueueWorker builds a worker with sane defaults.
func NewQueueWorker(db *database.DB, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *QueueWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	return &QueueWorker{
		db:            db,
		redis:         redisClient,
		retryPolicy:   retry,
		handlers:      make(map[string]TaskHandler),
		deadLetterKey: "kassir:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     models.DefaultQueueBatchSize,
		logger:        logger.With().Str("component", "queue-worker").Logger(),
	}
}

// Register привязывает обработчик к виду действия.
func (w *QueueWorker) Register(actionKind string, handler TaskHandler) {
	w.handlers[actionKind] = handler
}

// Enqueue сохраняет задачу в локальную очередь.
func (w *QueueWorker) Enqueue(ctx context.Context, actionKind string, payload interface{}) (*models.SyncTask, error) {
	if actionKind == "" {
		return nil, errors.New("action kind is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	task := &models.SyncTask{
		ActionKind: actionKind,
		Payload:    string(data),
		Status:     models.TaskPending,
	}
	if err := w.db.CreateSyncTask(ctx, task); err != nil {
		return nil, fmt.Errorf("persist sync task: %w", err)
	}
	return task, nil
}

// Start запускает цикл опроса; останавливается по ctx.
func (w *QueueWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Queue worker started")
	defer w.logger.Info().Msg("Queue worker stopped")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.DrainOnce(ctx)
		}
	}
}

// DrainOnce обрабатывает одну выборку задач последовательно.
func (w *QueueWorker) DrainOnce(ctx context.Context) {
	tasks, err := w.db.GetPendingSyncTasks(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to fetch pending tasks")
		return
	}

	for i := range tasks {
		if ctx.Err() != nil {
			return
		}
		w.processTask(ctx, &tasks[i])
	}
}

func (w *QueueWorker) processTask(ctx context.Context, task *models.SyncTask) {
	handler, ok := w.handlers[task.ActionKind]
	if !ok {
		w.failTask(ctx, task, fmt.Errorf("unknown action kind: %s", task.ActionKind))
		return
	}

	if err := w.db.MarkSyncTaskSyncing(ctx, task.ID); err != nil {
		if err != database.ErrNotFound {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task syncing")
		}
		return
	}

	if err := handler(ctx, json.RawMessage(task.Payload)); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.db.CompleteSyncTask(ctx, task.ID); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to complete task")
	}
}

func (w *QueueWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.db.RequeueSyncTask(ctx, task.ID, cause.Error(), nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to requeue task")
	}
}

func (w *QueueWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	if err := w.db.FailSyncTask(ctx, task.ID, cause.Error()); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task failed")
	}
	w.pushDeadLetter(ctx, task, cause)
}

func (w *QueueWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask, cause error) {
	if w.redis == nil {
		return
	}

	entry := struct {
		models.SyncTask
		Cause string `json:"cause"`
	}{SyncTask: *task, Cause: cause.Error()}

	data, err := json.Marshal(entry)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to push dead letter")
	}
}
