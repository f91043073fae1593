package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/ports/adapter"
	"github.com/deepmindneural/escuchodromo-sub002/internal/infra/logging"
	"github.com/deepmindneural/escuchodromo-sub002/internal/infra/metrics"
	red "github.com/deepmindneural/escuchodromo-sub002/internal/infra/redis"
	"github.com/deepmindneural/escuchodromo-sub002/internal/infra/worker"
	"github.com/deepmindneural/escuchodromo-sub002/internal/realtime"
	"github.com/deepmindneural/escuchodromo-sub002/internal/usecase"
)

const pipelineTimeout = 90 * time.Second

// SessionToucher bumps anonymous session activity; nil-able collaborators
// (limiter, pool) degrade to no-ops so unit tests can wire the handler
// without redis.
type SessionToucher interface {
	Touch(ctx context.Context, token string) error
}

// Handler is the connection lifecycle controller: it wires a new socket
// into the registry, routes its events, and tears registry state down
// exactly once on disconnect. It holds no conversational state itself.
type Handler struct {
	reg      *realtime.Registry
	pipeline usecase.MessagePipeline
	verifier adapter.CredentialVerifier
	sessions SessionToucher
	limiter  *red.RateLimiter
	pool     *worker.Pool

	msgsPerMinute int
	upgrader      websocket.Upgrader
	log           *zerolog.Logger
}

func NewHandler(
	reg *realtime.Registry,
	pipeline usecase.MessagePipeline,
	verifier adapter.CredentialVerifier,
	sessions SessionToucher,
	limiter *red.RateLimiter,
	pool *worker.Pool,
	allowedOrigins []string,
	msgsPerMinute int,
	logger *zerolog.Logger,
) *Handler {
	return &Handler{
		reg:           reg,
		pipeline:      pipeline,
		verifier:      verifier,
		sessions:      sessions,
		limiter:       limiter,
		pool:          pool,
		msgsPerMinute: msgsPerMinute,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Returning visitors present their session token; first contact mints one.
	token := r.URL.Query().Get("session")
	if token == "" {
		token = ulid.Make().String()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.NewString()
	c := newClient(connID, conn)

	h.reg.Register(connID, c)
	metrics.ConnectionOpened()
	log := logging.With(logging.WithConnID(r.Context(), connID), h.log)
	log.Info().Msg("connection registered")

	teardown := func() {
		c.close()
		h.reg.Unregister(connID)
		metrics.ConnectionClosed()
		log.Info().Msg("connection unregistered")
	}

	go c.writePump()
	go h.processLoop(c, token)

	c.sendEvent(realtime.Event{
		Type:      eventSession,
		Data:      map[string]string{"sessionToken": token},
		Timestamp: time.Now().UnixMilli(),
	})

	h.readLoop(c, log)
	teardown()
}

// readLoop decodes frames and routes them. Join and leave are handled
// inline; messages are queued so slow pipeline work never starves the
// pong handler for longer than one frame decode.
func (h *Handler) readLoop(c *client, log *zerolog.Logger) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev InboundEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch ev.Type {
		case inboundJoin:
			h.handleJoin(c, ev, log)
		case inboundLeave:
			h.reg.Leave(c.id, ev.Room)
			c.sendEvent(realtime.Event{Type: eventLeft, Room: ev.Room, Timestamp: time.Now().UnixMilli()})
		case inboundMessage:
			h.enqueueMessage(c, ev, log)
		default:
			h.sendError(c, ev.Room, codeBadEvent, "unknown event type")
		}
	}
}

// handleJoin verifies the credential when one is presented. A bad
// credential rejects only this join; the connection stays live for retry.
func (h *Handler) handleJoin(c *client, ev InboundEvent, log *zerolog.Logger) {
	if ev.Room == "" {
		h.sendError(c, "", codeBadEvent, "room is required")
		return
	}
	if ev.Credential != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		identity, err := h.verifier.Verify(ctx, ev.Credential)
		if err != nil {
			log.Warn().Str("room", ev.Room).Msg("join rejected: invalid credential")
			h.sendError(c, ev.Room, codeInvalidCredential, "credential rejected")
			return
		}
		h.reg.Authenticate(c.id, identity.UserID)
	}
	h.reg.Join(c.id, ev.Room)
	c.sendEvent(realtime.Event{Type: eventJoined, Room: ev.Room, Timestamp: time.Now().UnixMilli()})
}

func (h *Handler) enqueueMessage(c *client, ev InboundEvent, log *zerolog.Logger) {
	if h.limiter != nil && h.msgsPerMinute > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		allowed, err := h.limiter.Allow(ctx, red.ConnMessageKey(c.id), h.msgsPerMinute, time.Minute)
		cancel()
		if err != nil {
			// A broken limiter must not take chat down; log and let it through.
			log.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !allowed {
			h.sendError(c, ev.Room, codeRateLimited, "too many messages, slow down")
			return
		}
	}

	select {
	case c.inbound <- ev:
	default:
		h.sendError(c, ev.Room, codeRateLimited, "message queue full")
	}
}

// processLoop drains this connection's message queue sequentially, so one
// sender's messages reach the pipeline in submission order.
func (h *Handler) processLoop(c *client, sessionToken string) {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.inbound:
			h.handleMessage(c, ev, sessionToken)
		}
	}
}

func (h *Handler) handleMessage(c *client, ev InboundEvent, sessionToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
	defer cancel()

	author := usecase.Author{SessionToken: sessionToken, ConnID: c.id}
	if userID, ok := h.reg.Identity(c.id); ok {
		author = usecase.Author{UserID: userID, ConnID: c.id}
	}

	receipt, err := h.pipeline.HandleInbound(ctx, ev.Room, author, ev.Content)
	if err != nil && !errors.Is(err, domain.ErrQuotaExceeded) {
		h.log.Warn().Err(err).Str("conn_id", c.id).Str("room", ev.Room).Msg("pipeline failed")
	}
	c.sendEvent(realtime.Event{
		Type:      eventAck,
		Room:      ev.Room,
		Data:      receipt,
		Timestamp: time.Now().UnixMilli(),
	})

	if author.Anonymous() && receipt != nil && receipt.Status == usecase.StatusDelivered {
		h.touchSession(sessionToken)
	}
}

// touchSession bumps last-activity off the hot path.
func (h *Handler) touchSession(token string) {
	if h.sessions == nil {
		return
	}
	bump := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return h.sessions.Touch(ctx, token)
	}
	if h.pool != nil {
		if err := h.pool.Submit(bump); err == nil {
			return
		}
	}
	_ = bump(context.Background())
}

func (h *Handler) sendError(c *client, room, code, msg string) {
	c.sendEvent(realtime.Event{
		Type:      eventError,
		Room:      room,
		Data:      errorData{Code: code, Message: msg},
		Timestamp: time.Now().UnixMilli(),
	})
}
