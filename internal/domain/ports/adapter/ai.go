package adapter

import (
	"context"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/model"
)

// EmotionScorer is the port for sentiment analysis: text in, score out.
// Implementations may be keyword heuristics or model-backed services; the
// core never depends on what they actually detect.
type EmotionScorer interface {
	Score(ctx context.Context, text string) (*model.EmotionScore, error)
}

// ReplyGenerator is the port for assistant reply generation.
type ReplyGenerator interface {
	// Reply returns only the assistant text for one inbound utterance.
	Reply(ctx context.Context, text string) (string, error)
}
