package usecase

import (
	"context"
	"sync"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/model"
)

// memMessageRepo is a small in-memory implementation used by unit tests.
type memMessageRepo struct {
	mu        sync.Mutex
	byID      map[string]*model.Message
	byRoom    map[string][]*model.Message
	createErr error // simulate persistence failures
	countErr  error
	// failAfter, when > 0, fails the Nth CreateMessage call and later ones.
	failAfter int
	creates   int
	appends   int
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{
		byID:   make(map[string]*model.Message),
		byRoom: make(map[string][]*model.Message),
	}
}

func (m *memMessageRepo) CreateMessage(ctx context.Context, qx any, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return m.createErr
	}
	if m.failAfter > 0 && m.creates >= m.failAfter {
		return domain.ErrPersistenceFailure
	}
	cp := *msg
	m.byID[msg.ID] = &cp
	m.byRoom[msg.RoomKey] = append(m.byRoom[msg.RoomKey], &cp)
	return nil
}

func (m *memMessageRepo) CountHumanMessages(ctx context.Context, sessionToken string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	n := 0
	for _, msg := range m.byID {
		if msg.Role == model.RoleHuman && msg.SessionToken == sessionToken {
			n++
		}
	}
	return n, nil
}

func (m *memMessageRepo) AppendScore(ctx context.Context, messageID string, score *model.EmotionScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	msg, ok := m.byID[messageID]
	if !ok {
		return domain.ErrNotFound
	}
	msg.Score = score
	return nil
}

func (m *memMessageRepo) appendScoreCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appends
}

func (m *memMessageRepo) FindRecentByRoom(ctx context.Context, roomKey string, limit int) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.byRoom[roomKey]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *memMessageRepo) roomMessages(roomKey string) []*model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Message, len(m.byRoom[roomKey]))
	copy(out, m.byRoom[roomKey])
	return out
}

// ---- Scorer / replier fakes ----

type fakeScorer struct {
	score *model.EmotionScore
	err   error
}

func (f *fakeScorer) Score(ctx context.Context, text string) (*model.EmotionScore, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.score != nil {
		return f.score, nil
	}
	return &model.EmotionScore{Valence: 0.5, Labels: map[string]float64{"calm": 0.5}}, nil
}

type fakeReplier struct {
	reply string
	err   error
}

func (f *fakeReplier) Reply(ctx context.Context, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.reply != "" {
		return f.reply, nil
	}
	return "I hear you. Tell me more.", nil
}

// captureBroadcaster records every broadcast in issue order.
type captureBroadcaster struct {
	mu     sync.Mutex
	events []broadcastRecord
}

type broadcastRecord struct {
	room string
	msg  model.Message
}

func (c *captureBroadcaster) BroadcastMessage(roomKey string, msg *model.Message, excludeConnID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, broadcastRecord{room: roomKey, msg: *msg})
	return 1
}

func (c *captureBroadcaster) records() []broadcastRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]broadcastRecord, len(c.events))
	copy(out, c.events)
	return out
}
