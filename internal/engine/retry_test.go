package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  2 * time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}

	assert.Equal(t, 2*time.Second, policy.NextDelay(1))
	assert.Equal(t, 4*time.Second, policy.NextDelay(2))
	assert.Equal(t, 8*time.Second, policy.NextDelay(3))

	// Задержка упирается в потолок
	assert.Equal(t, time.Minute, policy.NextDelay(10))

	// Некорректные аргументы не ломают расчёт
	assert.Equal(t, 2*time.Second, policy.NextDelay(0))
	zero := RetryPolicy{}
	assert.Equal(t, time.Second, zero.NextDelay(1))
}
