package model

import "time"

// AnonymousSession tracks an unauthenticated visitor identified by an opaque
// token. The message count is intentionally absent: it is always re-derived
// from persisted history so it cannot drift across restarts.
type AnonymousSession struct {
	Token        string    `json:"token"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

func NewAnonymousSession(token string) *AnonymousSession {
	now := time.Now().UTC()
	return &AnonymousSession{Token: token, CreatedAt: now, LastActiveAt: now}
}

func (s *AnonymousSession) Touch() {
	s.LastActiveAt = time.Now().UTC()
}
