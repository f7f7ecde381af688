package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"kassir/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, redisClient *redis.Client, maxRetries int) (*QueueWorker, func()) {
	db := setupTestDB(t)
	policy := RetryPolicy{MaxRetries: maxRetries, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
	w := NewQueueWorker(db, redisClient, policy, testLogger())
	return w, func() { db.Close() }
}

func TestQueueWorkerProcessesTask(t *testing.T) {
	w, cleanup := newTestWorker(t, nil, 3)
	defer cleanup()

	ctx := context.Background()

	var handled []string
	w.Register("customer_update", func(ctx context.Context, payload json.RawMessage) error {
		handled = append(handled, string(payload))
		return nil
	})

	task, err := w.Enqueue(ctx, "customer_update", map[string]string{"customer_id": "local-1"})
	require.NoError(t, err)
	require.NotZero(t, task.ID)

	w.DrainOnce(ctx)

	require.Len(t, handled, 1)
	assert.JSONEq(t, `{"customer_id": "local-1"}`, handled[0])

	// Успешная задача удалена из очереди
	tasks, err := w.db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestQueueWorkerRetriesWithBackoff(t *testing.T) {
	w, cleanup := newTestWorker(t, nil, 3)
	defer cleanup()

	ctx := context.Background()

	attempts := 0
	w.Register("stock_adjustment", func(ctx context.Context, payload json.RawMessage) error {
		attempts++
		if attempts < 2 {
			return errors.New("remote busy")
		}
		return nil
	})

	_, err := w.Enqueue(ctx, "stock_adjustment", map[string]int{"delta": -1})
	require.NoError(t, err)

	w.DrainOnce(ctx)
	assert.Equal(t, 1, attempts)

	// Повтор назначен с задержкой; ждём, пока next_retry_at наступит
	time.Sleep(5 * time.Millisecond)
	w.DrainOnce(ctx)
	assert.Equal(t, 2, attempts)

	tasks, err := w.db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestQueueWorkerUnknownActionFails(t *testing.T) {
	w, cleanup := newTestWorker(t, nil, 3)
	defer cleanup()

	ctx := context.Background()

	_, err := w.Enqueue(ctx, "unregistered", map[string]string{})
	require.NoError(t, err)

	w.DrainOnce(ctx)

	failed, err := w.db.GetFailedSyncTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, *failed[0].LastError, "unknown action kind")
}

func TestQueueWorkerDeadLetterMirroredToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	w, cleanup := newTestWorker(t, client, 1)
	defer cleanup()

	ctx := context.Background()

	w.Register("customer_update", func(ctx context.Context, payload json.RawMessage) error {
		return errors.New("permanent failure")
	})

	task, err := w.Enqueue(ctx, "customer_update", map[string]string{"customer_id": "local-9"})
	require.NoError(t, err)

	// MaxRetries=1: первая же неудача терминальна
	w.DrainOnce(ctx)

	failed, err := w.db.GetFailedSyncTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	entries, err := client.LRange(ctx, w.deadLetterKey, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var entry struct {
		models.SyncTask
		Cause string `json:"cause"`
	}
	require.NoError(t, json.Unmarshal([]byte(entries[0]), &entry))
	assert.Equal(t, task.ID, entry.ID)
	assert.Equal(t, "permanent failure", entry.Cause)
}

func TestQueueWorkerEnqueueValidation(t *testing.T) {
	w, cleanup := newTestWorker(t, nil, 3)
	defer cleanup()

	_, err := w.Enqueue(context.Background(), "", nil)
	assert.Error(t, err)
}
