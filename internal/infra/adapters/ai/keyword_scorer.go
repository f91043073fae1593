package ai

import (
	"context"
	"strings"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/model"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.EmotionScorer = (*KeywordScorer)(nil)

// KeywordScorer is the default emotion scorer: keyword buckets per label
// with a valence derived from the positive/negative balance. It exists so
// the platform works with no model configured; any model-backed scorer can
// replace it behind the same port.
type KeywordScorer struct{}

func NewKeywordScorer() *KeywordScorer { return &KeywordScorer{} }

var keywordBuckets = map[string][]string{
	"alegria": {
		"feliz", "contento", "contenta", "alegre", "bien", "genial", "gracias",
		"mejor", "tranquilo", "tranquila", "happy", "glad", "great", "thanks",
	},
	"tristeza": {
		"triste", "deprimido", "deprimida", "llorar", "lloro", "solo", "sola",
		"vacio", "vacía", "desanimado", "sad", "depressed", "cry", "lonely", "empty",
	},
	"ansiedad": {
		"ansioso", "ansiosa", "ansiedad", "nervioso", "nerviosa", "preocupado",
		"preocupada", "estres", "estresado", "estresada", "panico", "agobiado",
		"anxious", "worried", "stress", "panic", "overwhelmed",
	},
	"enojo": {
		"enojado", "enojada", "furioso", "furiosa", "rabia", "molesto", "molesta",
		"harto", "harta", "odio", "angry", "furious", "mad", "hate", "annoyed",
	},
	"miedo": {
		"miedo", "temor", "asustado", "asustada", "terror", "inseguro", "insegura",
		"afraid", "scared", "fear", "terrified",
	},
}

var negativeLabels = map[string]bool{
	"tristeza": true,
	"ansiedad": true,
	"enojo":    true,
	"miedo":    true,
}

func (s *KeywordScorer) Score(ctx context.Context, text string) (*model.EmotionScore, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return &model.EmotionScore{Valence: 0}, nil
	}

	hits := make(map[string]int)
	total := 0
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				hits[label]++
				total++
			}
		}
	}
	if total == 0 {
		return &model.EmotionScore{Valence: 0}, nil
	}

	labels := make(map[string]float64, len(hits))
	balance := 0
	for label, n := range hits {
		labels[label] = clamp01(float64(n) / 3)
		if negativeLabels[label] {
			balance -= n
		} else {
			balance += n
		}
	}

	valence := float64(balance) / float64(total)
	if valence > 1 {
		valence = 1
	}
	if valence < -1 {
		valence = -1
	}
	return &model.EmotionScore{Valence: valence, Labels: labels}, nil
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
