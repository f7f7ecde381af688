package models

import "time"

// Session — аутентифицированная сессия кассира.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	StoreID   string    `json:"store_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the session can still be used for remote calls.
func (s *Session) Valid() bool {
	if s == nil || s.Token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || time.Now().Before(s.ExpiresAt)
}
