package repository

import (
	"context"

	"kassir/internal/models"
)

// SessionProvider адаптирует репозиторий сессий к интерфейсу движка:
// истёкшая сессия эквивалентна отсутствующей.
type SessionProvider struct {
	repo SessionRepository
}

func NewSessionProvider(repo SessionRepository) *SessionProvider {
	return &SessionProvider{repo: repo}
}

func (p *SessionProvider) Session(ctx context.Context) (*models.Session, error) {
	session, err := p.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !session.Valid() {
		return nil, nil
	}
	return session, nil
}
