package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/model"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/ports/adapter"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/ports/repository"
	"github.com/deepmindneural/escuchodromo-sub002/internal/infra/metrics"
)

type SendStatus string

const (
	StatusDelivered     SendStatus = "delivered"
	StatusQuotaExceeded SendStatus = "quota_exceeded"
	StatusError         SendStatus = "error"
)

// SendReceipt is the synchronous acknowledgement handed back to the sender.
type SendReceipt struct {
	Status    SendStatus `json:"status"`
	MessageID string     `json:"messageId,omitempty"`
	// Remaining is the anonymous allowance left after this message;
	// -1 for authenticated senders (no quota applies).
	Remaining int `json:"remaining"`
}

// Author identifies the sender of one inbound message: an authenticated
// user id, or an anonymous session token.
type Author struct {
	UserID       string
	SessionToken string
	ConnID       string
}

func (a Author) Anonymous() bool { return a.UserID == "" }

// Broadcaster is the pipeline's view of room fan-out.
type Broadcaster interface {
	BroadcastMessage(roomKey string, msg *model.Message, excludeConnID string) int
}

// Compile-time check
var _ MessagePipeline = (*pipelineUC)(nil)

// MessagePipeline runs the ordered sequence of effects for one inbound
// message: quota check (anonymous only), persist the human message,
// broadcast it, score it, generate a reply, persist the reply with the
// score attached, broadcast the reply.
type MessagePipeline interface {
	HandleInbound(ctx context.Context, roomKey string, author Author, content string) (*SendReceipt, error)
}

type pipelineUC struct {
	messages repository.MessageRepository
	quota    QuotaLedger
	scorer   adapter.EmotionScorer
	replier  adapter.ReplyGenerator
	bcast    Broadcaster
	rooms    *roomLocks
	log      *zerolog.Logger
}

func NewMessagePipeline(
	messages repository.MessageRepository,
	quota QuotaLedger,
	scorer adapter.EmotionScorer,
	replier adapter.ReplyGenerator,
	bcast Broadcaster,
	logger *zerolog.Logger,
) *pipelineUC {
	return &pipelineUC{
		messages: messages,
		quota:    quota,
		scorer:   scorer,
		replier:  replier,
		bcast:    bcast,
		rooms:    newRoomLocks(),
		log:      logger,
	}
}

// HandleInbound serializes per room: two invocations for the same room
// never interleave their broadcasts, while distinct rooms run fully in
// parallel. Failures on the reply path degrade to "human message
// delivered, no assistant reply" and are never rolled back.
func (p *pipelineUC) HandleInbound(ctx context.Context, roomKey string, author Author, content string) (*SendReceipt, error) {
	content = strings.TrimSpace(content)
	if roomKey == "" || content == "" {
		return &SendReceipt{Status: StatusError, Remaining: -1}, domain.ErrInvalidArgument
	}

	unlock := p.rooms.lock(roomKey)
	defer unlock()

	start := time.Now()

	remaining := -1
	if author.Anonymous() {
		dec, err := p.quota.CheckAndReserve(ctx, author.SessionToken)
		if err != nil {
			metrics.ObservePipeline(string(StatusError), time.Since(start).Milliseconds())
			return &SendReceipt{Status: StatusError, Remaining: -1},
				fmt.Errorf("quota check: %w: %v", domain.ErrPersistenceFailure, err)
		}
		if !dec.Allowed {
			metrics.QuotaBlocked()
			metrics.ObservePipeline(string(StatusQuotaExceeded), time.Since(start).Milliseconds())
			return &SendReceipt{Status: StatusQuotaExceeded, Remaining: 0}, domain.ErrQuotaExceeded
		}
		remaining = dec.Remaining
	}

	msg := model.NewHumanMessage(roomKey, author.UserID, author.SessionToken, content)
	if err := p.messages.CreateMessage(ctx, nil, msg); err != nil {
		metrics.ObservePipeline(string(StatusError), time.Since(start).Milliseconds())
		return &SendReceipt{Status: StatusError, Remaining: remaining},
			fmt.Errorf("persist human message: %w: %v", domain.ErrPersistenceFailure, err)
	}

	p.bcast.BroadcastMessage(roomKey, msg, "")

	receipt := &SendReceipt{Status: StatusDelivered, MessageID: msg.ID, Remaining: remaining}
	p.replyPath(ctx, roomKey, content)

	metrics.ObservePipeline(string(StatusDelivered), time.Since(start).Milliseconds())
	return receipt, nil
}

// replyPath runs steps 4-7. Every failure here is degraded service, not a
// pipeline failure: the human message has already been delivered.
func (p *pipelineUC) replyPath(ctx context.Context, roomKey, content string) {
	score, err := p.scorer.Score(ctx, content)
	if err != nil {
		metrics.ScorerFailed()
		p.log.Warn().Err(err).Str("room", roomKey).Msg("emotion scoring failed, continuing without score")
		score = nil
	}

	replyText, err := p.replier.Reply(ctx, content)
	if err != nil || strings.TrimSpace(replyText) == "" {
		metrics.ReplierFailed()
		p.log.Warn().Err(err).Str("room", roomKey).Msg("reply generation failed, human message stands alone")
		return
	}

	// The score rides along in the insert; AppendScore exists for backfilling
	// messages scored after the fact.
	reply := model.NewAssistantMessage(roomKey, replyText)
	reply.Score = score
	if err := p.messages.CreateMessage(ctx, nil, reply); err != nil {
		p.log.Warn().Err(err).Str("room", roomKey).Msg("persist assistant reply failed")
		return
	}

	p.bcast.BroadcastMessage(roomKey, reply, "")
}

// roomLocks hands out exactly one mutex per active room key, so pipeline
// invocations serialize per room and distinct rooms never contend. Entries
// are refcounted and removed once no invocation holds or waits on them,
// keeping the table proportional to in-flight rooms rather than all rooms
// ever seen.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*roomLock)}
}

func (r *roomLocks) lock(key string) func() {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &roomLock{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}
