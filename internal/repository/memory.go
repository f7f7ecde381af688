package repository

import (
	"context"
	"sync"
	"time"

	"kassir/internal/models"
)

// MemorySessionRepository — запасное хранилище сессии на случай
// недоступного Redis. Сессия живёт до рестарта процесса.
type MemorySessionRepository struct {
	mu        sync.RWMutex
	session   *models.Session
	expiresAt time.Time
	ttl       time.Duration
}

func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	return &MemorySessionRepository{ttl: ttl}
}

func (r *MemorySessionRepository) Get(ctx context.Context) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.session == nil {
		return nil, nil
	}
	if !r.expiresAt.IsZero() && time.Now().After(r.expiresAt) {
		return nil, nil
	}
	return r.session, nil
}

func (r *MemorySessionRepository) Set(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.session = session
	if r.ttl > 0 {
		r.expiresAt = time.Now().Add(r.ttl)
	} else {
		r.expiresAt = time.Time{}
	}
	return nil
}

func (r *MemorySessionRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.session = nil
	r.expiresAt = time.Time{}
	return nil
}
