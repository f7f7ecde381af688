package repository

import (
	"context"
	"sync/atomic"
	"time"

	"kassir/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSessionRepository пишет в основной репозиторий (Redis), а при
// его отказе прозрачно переключается на запасной с периодической
// попыткой восстановления.
type FailoverSessionRepository struct {
	primary   SessionRepository
	fallback  SessionRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverSessionRepository(primary, fallback SessionRepository, logger *zerolog.Logger) *FailoverSessionRepository {
	return &FailoverSessionRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverSessionRepository) Get(ctx context.Context) (*models.Session, error) {
	if !r.isDown.Load() {
		session, err := r.primary.Get(ctx)
		if err == nil {
			return session, nil
		}
		r.markDown(err)
	}

	// Попытка восстановления раз в минуту
	if r.isDown.Load() && time.Since(time.Unix(r.lastCheck.Load(), 0)) > time.Minute {
		session, err := r.primary.Get(ctx)
		if err == nil {
			r.isDown.Store(false)
			return session, nil
		}
		r.lastCheck.Store(time.Now().Unix())
	}

	return r.fallback.Get(ctx)
}

func (r *FailoverSessionRepository) Set(ctx context.Context, session *models.Session) error {
	if !r.isDown.Load() {
		err := r.primary.Set(ctx, session)
		if err == nil {
			// Дублируем в запасной, чтобы переключение не теряло сессию
			_ = r.fallback.Set(ctx, session)
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Set(ctx, session)
}

func (r *FailoverSessionRepository) Clear(ctx context.Context) error {
	var primaryErr error
	if !r.isDown.Load() {
		primaryErr = r.primary.Clear(ctx)
		if primaryErr != nil {
			r.markDown(primaryErr)
		}
	}

	if err := r.fallback.Clear(ctx); err != nil {
		return err
	}
	return primaryErr
}

func (r *FailoverSessionRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary session repository failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().Unix())
}
