package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/model"
)

// SessionStore keeps anonymous session descriptors (creation time, last
// activity) keyed by opaque token. Sessions are never explicitly destroyed;
// they expire by absence of use via TTL. The message count deliberately
// does NOT live here: it is re-derived from persisted history by the quota
// ledger.
type SessionStore struct {
	client RedisClient
	ttl    time.Duration
}

func NewSessionStore(client RedisClient, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(token string) string { return "anon_session:" + token }

// Touch creates the session on first contact and bumps last-activity on
// every subsequent one, refreshing the TTL.
func (s *SessionStore) Touch(ctx context.Context, token string) error {
	if token == "" {
		return domain.ErrInvalidArgument
	}
	sess, err := s.Get(ctx, token)
	if err != nil {
		sess = model.NewAnonymousSession(token)
	}
	sess.Touch()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, sessionKey(token), data, s.ttl)
}

func (s *SessionStore) Get(ctx context.Context, token string) (*model.AnonymousSession, error) {
	data, err := s.client.Get(ctx, sessionKey(token))
	if err != nil {
		if IsNil(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var sess model.AnonymousSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
