package usecase

import (
	"context"
	"fmt"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/ports/repository"
)

// AnonymousMessageLimit is the free-tier cap on human messages per
// anonymous session. A hard business rule, deliberately a constant rather
// than hot-path configuration.
const AnonymousMessageLimit = 20

// Compile-time check
var _ QuotaLedger = (*quotaUC)(nil)

type QuotaDecision struct {
	Allowed   bool
	Remaining int
}

// QuotaLedger decides whether an anonymous session may post another
// message. The count is re-derived from persisted history on every call:
// the ledger must survive restarts and two tabs racing the same token.
// The check and the subsequent write are two calls, so a bounded
// over-admission under rapid double-submission is tolerated; the counter
// can never run backward because persistence is the only source.
type QuotaLedger interface {
	CheckAndReserve(ctx context.Context, sessionToken string) (QuotaDecision, error)
}

type quotaUC struct {
	messages repository.MessageRepository
}

func NewQuotaLedger(messages repository.MessageRepository) *quotaUC {
	return &quotaUC{messages: messages}
}

func (q *quotaUC) CheckAndReserve(ctx context.Context, sessionToken string) (QuotaDecision, error) {
	if sessionToken == "" {
		return QuotaDecision{}, domain.ErrInvalidArgument
	}
	count, err := q.messages.CountHumanMessages(ctx, sessionToken)
	if err != nil {
		return QuotaDecision{}, fmt.Errorf("count human messages: %w", err)
	}
	if count >= AnonymousMessageLimit {
		return QuotaDecision{Allowed: false, Remaining: 0}, nil
	}
	// Remaining reflects the allowance left after the message being admitted.
	return QuotaDecision{Allowed: true, Remaining: AnonymousMessageLimit - count - 1}, nil
}
