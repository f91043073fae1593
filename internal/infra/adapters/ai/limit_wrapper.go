package ai

import (
	"context"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ReplyGenerator = (*limitedReplier)(nil)

type limitedReplier struct {
	inner adapter.ReplyGenerator
	sem   chan struct{}
}

// NewLimitedReplier bounds concurrent reply generations so a burst of
// rooms cannot exhaust the provider's rate limits.
func NewLimitedReplier(inner adapter.ReplyGenerator, maxConcurrent int) adapter.ReplyGenerator {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedReplier{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedReplier) Reply(ctx context.Context, text string) (string, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Reply(ctx, text)
}
