package ai

import (
	"context"
	"strings"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ReplyGenerator = (*KeywordReplier)(nil)

// KeywordReplier is the no-model fallback reply generator: it picks a
// supportive response from the same keyword buckets the scorer uses.
// Behind the ReplyGenerator port it is interchangeable with any LLM.
type KeywordReplier struct{}

func NewKeywordReplier() *KeywordReplier { return &KeywordReplier{} }

var cannedReplies = map[string]string{
	"alegria":  "Me alegra leer eso. ¿Qué crees que ha contribuido a que te sientas así?",
	"tristeza": "Siento que estés pasando por esto. Estoy aquí para escucharte. ¿Quieres contarme un poco más?",
	"ansiedad": "Eso suena abrumador. Respira un momento conmigo. ¿Qué es lo que más te preocupa ahora mismo?",
	"enojo":    "Entiendo que esto te genere enojo. Es válido sentirlo. ¿Qué ocurrió exactamente?",
	"miedo":    "Gracias por confiar en mí. El miedo puede ser muy intenso. ¿Desde cuándo te sientes así?",
}

const neutralReply = "Te escucho. Cuéntame más sobre cómo te sientes hoy."

func (r *KeywordReplier) Reply(ctx context.Context, text string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))

	best, bestHits := "", 0
	for label, keywords := range keywordBuckets {
		hits := 0
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = label, hits
		}
	}
	if best == "" {
		return neutralReply, nil
	}
	return cannedReplies[best], nil
}
