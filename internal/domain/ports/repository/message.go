package repository

import (
	"context"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/model"
)

// -----------------------------
// Messages
// -----------------------------

// MessageRepository is the persistence collaborator for the conversational
// core. CreateMessage must be durable before the caller broadcasts, so a
// subscriber that immediately queries history never misses the message.
type MessageRepository interface {
	CreateMessage(ctx context.Context, qx any, msg *model.Message) error
	// CountHumanMessages is the authoritative quota source for an anonymous
	// session. It counts persisted human-authored rows, never a cache.
	CountHumanMessages(ctx context.Context, sessionToken string) (int, error)
	AppendScore(ctx context.Context, messageID string, score *model.EmotionScore) error
	FindRecentByRoom(ctx context.Context, roomKey string, limit int) ([]*model.Message, error)
}
