package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ProbeFunc проверяет доступность удалённой системы.
type ProbeFunc func(ctx context.Context) error

// Monitor хранит признак "в сети" и уведомляет подписчиков о переходах.
// Источником правды может быть периодический probe или внешний вызов
// SetOnline (например, из обработчика сетевых событий платформы).
type Monitor struct {
	online atomic.Bool
	logger *zerolog.Logger

	mu     sync.Mutex
	nextID int64
	subs   map[int64]func(online bool)
}

func NewMonitor(logger *zerolog.Logger) *Monitor {
	return &Monitor{
		logger: logger,
		subs:   make(map[int64]func(online bool)),
	}
}

// Online возвращает текущее состояние связи.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// SetOnline фиксирует состояние связи. Подписчики вызываются только
// при смене состояния, синхронно и под защитой от гонок с Unsubscribe.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	m.logger.Info().Bool("online", online).Msg("Состояние связи изменилось")

	m.mu.Lock()
	handlers := make([]func(bool), 0, len(m.subs))
	for _, h := range m.subs {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(online)
	}
}

// Subscribe регистрирует обработчик переходов и возвращает функцию отписки.
func (m *Monitor) Subscribe(handler func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[id] = handler
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// StartProbe опрашивает удалённую систему с заданным периодом и
// обновляет состояние по результату. Останавливается по ctx.
func (m *Monitor) StartProbe(ctx context.Context, probe ProbeFunc, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		m.SetOnline(probe(probeCtx) == nil)
	}

	check()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
